package embedapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curiefense/curiefense-go/internal/action"
	"github.com/curiefense/curiefense-go/internal/aggregator"
	"github.com/curiefense/curiefense-go/internal/config"
	"github.com/curiefense/curiefense-go/internal/identity"
	"github.com/curiefense/curiefense-go/internal/reqmodel"
)

const testDoc = `
revision: "r1"
policies:
  - id: "__default__"
    match: "localhost"
global_filters:
  - id: gf1
    name: "block one ip"
    tags: ["bad"]
    rule:
      ip: "52.78.12.56"
    action:
      kind: custom
      status: 503
      content: "blocked"
`

func newEngine(t *testing.T) *Engine {
	snap, err := config.DecodeYAML([]byte(testDoc))
	require.NoError(t, err)
	snap.DefaultPolicy = &snap.Policies[0]

	return &Engine{
		Config:     func(string) *config.Snapshot { return snap },
		Visitor:    identity.VisitorOracle{},
		Aggregator: aggregator.New(),
	}
}

func baseArgs() Args {
	return Args{
		LogLevel: "info",
		Meta:     reqmodel.Meta{Method: "GET", Path: "/admin", Authority: "localhost"},
		Headers:  map[string]string{},
		IP:       "52.78.12.56",
	}
}

func TestInspectRequestBlocksAndRecordsAggregation(t *testing.T) {
	e := newEngine(t)
	res := e.InspectRequest(baseArgs())

	require.NoError(t, res.Err)
	require.False(t, res.Decision.IsPass)
	assert.Equal(t, 503, res.Decision.Action.Status)

	snap := e.Aggregator.Snapshot()
	assert.Empty(t, snap, "the current minute's window hasn't rotated into Snapshot yet")
}

func TestInspectRequestMissingLogLevelFailsOpen(t *testing.T) {
	e := newEngine(t)
	args := baseArgs()
	args.LogLevel = ""

	res := e.InspectRequest(args)

	require.Error(t, res.Err)
	assert.True(t, res.Decision.IsPass)
	require.Len(t, res.Logs.Lines(), 1)
}

func TestInspectRequestMissingHeadersFailsOpen(t *testing.T) {
	e := newEngine(t)
	args := baseArgs()
	args.Headers = nil

	res := e.InspectRequest(args)

	require.Error(t, res.Err)
	assert.True(t, res.Decision.IsPass)
}

func TestInspectRequestInitShortCircuitsOnSkipReason(t *testing.T) {
	e := newEngine(t)
	// The global filter matches baseArgs' IP; turning its action into Skip
	// gives tagging a Skip reason, which finishes the request at init.
	e.Config("").GlobalFilters[0].Action.Kind = action.SKSkip

	res, p1 := e.InspectRequestInit(baseArgs())

	require.Nil(t, p1)
	require.NotNil(t, res)
	assert.Equal(t, action.KindSkip, res.Decision.Action.Kind)
}

func TestLogJSONRoundTripsThroughAResult(t *testing.T) {
	e := newEngine(t)
	res := e.InspectRequest(baseArgs())

	raw, err := res.LogJSON(map[string]string{"request_id": "abc"})
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\"response_code\":503")
}

func TestAggregatedValuesIsValidJSON(t *testing.T) {
	e := newEngine(t)
	e.InspectRequest(baseArgs())

	raw, err := e.AggregatedValues()
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw), "nothing has rotated out of the current window yet")
}
