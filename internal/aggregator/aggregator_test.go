package aggregator

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curiefense/curiefense-go/internal/action"
)

func TestRecordAccumulatesWithinAMinute(t *testing.T) {
	agg := New()
	base := time.Date(2026, 7, 30, 12, 0, 30, 0, time.UTC)
	code := 403

	agg.Record(base, true, &code, []string{"bad", "ip:1.2.3.4"}, 128, []action.BlockReason{
		{Initiator: action.InitiatorAcl, Level: action.ReasonBlocking},
	})
	agg.Record(base.Add(10*time.Second), true, &code, []string{"bad"}, 64, nil)

	assert.Empty(t, agg.Snapshot(), "current window hasn't rolled over yet")

	next := base.Add(time.Minute)
	agg.Record(next, false, nil, nil, 0, nil)

	snaps := agg.Snapshot()
	require.Len(t, snaps, 1)
	snap := snaps[0]
	assert.Equal(t, uint64(2), snap.Requests)
	assert.Equal(t, uint64(2), snap.Blocked)
	assert.Equal(t, uint64(192), snap.Bytes)
	assert.Equal(t, uint64(2), snap.StatusClass["4xx"])
	assert.Equal(t, uint64(2), snap.Tags["bad"])
	assert.Equal(t, uint64(1), snap.Tags["ip:1.2.3.4"])
	assert.Equal(t, uint64(1), snap.InitiatorTotal["acl"])
	assert.Equal(t, uint64(1), snap.InitiatorActive["acl"])
}

func TestSnapshotDrainsCompletedWindowsOnly(t *testing.T) {
	agg := New()
	m1 := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	m2 := m1.Add(time.Minute)
	m3 := m2.Add(time.Minute)

	agg.Record(m1, false, nil, nil, 0, nil)
	agg.Record(m2, false, nil, nil, 0, nil)
	agg.Record(m3, false, nil, nil, 0, nil)

	snaps := agg.Snapshot()
	require.Len(t, snaps, 2)
	assert.True(t, snaps[0].Minute.Equal(m1))
	assert.True(t, snaps[1].Minute.Equal(m2))

	assert.Empty(t, agg.Snapshot(), "drained windows are cleared")
}

func TestCollectorReportsCurrentWindow(t *testing.T) {
	agg := New()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	code := 200
	agg.Record(now, false, &code, []string{"human"}, 0, nil)

	c := NewCollector(agg)

	descCh := make(chan *prometheus.Desc, 16)
	c.Describe(descCh)
	close(descCh)
	var descCount int
	for range descCh {
		descCount++
	}
	assert.Equal(t, 6, descCount)

	metricCh := make(chan prometheus.Metric, 16)
	c.Collect(metricCh)
	close(metricCh)
	var metricCount int
	for range metricCh {
		metricCount++
	}
	assert.Greater(t, metricCount, 0)
}
