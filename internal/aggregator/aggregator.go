// Package aggregator implements the Aggregator (spec section 4.9, C9):
// sliding per-minute counters over request volume, block count, status-class
// distribution, tag distribution, and per-initiator trigger totals, updated
// atomically after every log emission and exposed both as a JSON snapshot
// and as Prometheus collectors. Grounded on
// grimm-is-flywall/internal/metrics.Collector for the snapshot-under-lock
// shape (counter increments are atomic; a per-window mutex guards only the
// tag/initiator counter maps, and a second one the completed-window list)
// and on grimm-is-flywall/internal/ebpf/metrics.Metrics for the
// prometheus.Collector Describe/Collect pattern.
package aggregator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/curiefense/curiefense-go/internal/action"
)

// window accumulates one minute's counters. Every field is updated with a
// plain atomic op on the per-request hot path (spec section 5: "updates are
// O(1)"). mu is taken only to look up or create an entry in the tags and
// initiators maps (and by snapshot); filing a window as completed on minute
// rollover takes the Aggregator's completedMu.
type window struct {
	minute time.Time

	requests atomic.Uint64
	blocked  atomic.Uint64
	bytes    atomic.Uint64

	statusClass [6]atomic.Uint64 // index by first digit of the HTTP status, 1-5; 0 unused

	mu         sync.Mutex
	tags       map[string]*atomic.Uint64
	initiators map[action.InitiatorKind]*counterPair
}

type counterPair struct {
	total  atomic.Uint64
	active atomic.Uint64
}

func newWindow(minute time.Time) *window {
	return &window{
		minute:     minute,
		tags:       make(map[string]*atomic.Uint64),
		initiators: make(map[action.InitiatorKind]*counterPair),
	}
}

func (w *window) tagCounter(name string) *atomic.Uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.tags[name]
	if !ok {
		c = &atomic.Uint64{}
		w.tags[name] = c
	}
	return c
}

func (w *window) initiatorCounter(k action.InitiatorKind) *counterPair {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.initiators[k]
	if !ok {
		c = &counterPair{}
		w.initiators[k] = c
	}
	return c
}

// WindowSnapshot is the JSON/Prometheus-facing view of one completed
// minute's counters.
type WindowSnapshot struct {
	Minute          time.Time         `json:"minute"`
	Requests        uint64            `json:"requests"`
	Blocked         uint64            `json:"blocked"`
	Bytes           uint64            `json:"bytes"`
	StatusClass     map[string]uint64 `json:"status_class"`
	Tags            map[string]uint64 `json:"tags"`
	InitiatorTotal  map[string]uint64 `json:"initiator_total"`
	InitiatorActive map[string]uint64 `json:"initiator_active"`
}

func (w *window) snapshot() WindowSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	statusClass := make(map[string]uint64, 5)
	for i := 1; i <= 5; i++ {
		if v := w.statusClass[i].Load(); v > 0 {
			statusClass[classLabel(i)] = v
		}
	}
	tags := make(map[string]uint64, len(w.tags))
	for name, c := range w.tags {
		tags[name] = c.Load()
	}
	total := make(map[string]uint64, len(w.initiators))
	active := make(map[string]uint64, len(w.initiators))
	for k, c := range w.initiators {
		total[k.String()] = c.total.Load()
		active[k.String()] = c.active.Load()
	}

	return WindowSnapshot{
		Minute:          w.minute,
		Requests:        w.requests.Load(),
		Blocked:         w.blocked.Load(),
		Bytes:           w.bytes.Load(),
		StatusClass:     statusClass,
		Tags:            tags,
		InitiatorTotal:  total,
		InitiatorActive: active,
	}
}

func classLabel(digit int) string {
	return string(rune('0'+digit)) + "xx"
}

// Aggregator holds the current, still-accumulating window plus every
// window that rolled over and hasn't been scraped yet (spec section 4.9:
// "snapshot... returns completed windows... and clears them").
type Aggregator struct {
	current atomic.Pointer[window]

	completedMu sync.Mutex
	completed   []*window
}

func New() *Aggregator {
	return &Aggregator{}
}

// windowFor returns the window for minute, rotating the current window
// (and filing the old one as completed) if necessary. Lock-free on the
// common case where the current window already matches minute.
func (a *Aggregator) windowFor(minute time.Time) *window {
	for {
		cur := a.current.Load()
		if cur != nil && cur.minute.Equal(minute) {
			return cur
		}
		next := newWindow(minute)
		if a.current.CompareAndSwap(cur, next) {
			if cur != nil {
				a.completedMu.Lock()
				a.completed = append(a.completed, cur)
				a.completedMu.Unlock()
			}
			return next
		}
	}
}

// Record folds one inspected request into the window for now's minute
// (spec section 4.9: "Atomic update per request after log emission").
// reasons is the final decision's BlockReason slice; responseCode is the
// status to count in the status-class distribution, or nil to count none
// (embedapi passes nil for Pass and, matching the log record's own tag
// rule, for Monitor).
func (a *Aggregator) Record(now time.Time, blocked bool, responseCode *int, tags []string, bytes int, reasons []action.BlockReason) {
	w := a.windowFor(now.Truncate(time.Minute))

	w.requests.Add(1)
	if blocked {
		w.blocked.Add(1)
	}
	if bytes > 0 {
		w.bytes.Add(uint64(bytes))
	}
	if responseCode != nil {
		digit := *responseCode / 100
		if digit >= 1 && digit <= 5 {
			w.statusClass[digit].Add(1)
		}
	}
	for _, t := range tags {
		w.tagCounter(t).Add(1)
	}
	for _, r := range reasons {
		c := w.initiatorCounter(r.Initiator)
		c.total.Add(1)
		if r.Level == action.ReasonBlocking {
			c.active.Add(1)
		}
	}
}

// Snapshot drains every completed (rolled-over) window, for scraping via
// the `aggregated_values()` embedding call (spec section 6).
func (a *Aggregator) Snapshot() []WindowSnapshot {
	a.completedMu.Lock()
	drained := a.completed
	a.completed = nil
	a.completedMu.Unlock()

	out := make([]WindowSnapshot, len(drained))
	for i, w := range drained {
		out[i] = w.snapshot()
	}
	return out
}

// Collector adapts Aggregator to prometheus.Collector, reporting the
// still-accumulating window's counters as a live gauge view (spec section
// 4.9's snapshot is pull/JSON; Prometheus scraping is a second, continuous
// view of the same counters - SPEC_FULL.md's DOMAIN STACK wires
// prometheus/client_golang here alongside the JSON snapshot, not instead of
// it).
type Collector struct {
	agg *Aggregator

	requests    *prometheus.Desc
	blocked     *prometheus.Desc
	bytesTotal  *prometheus.Desc
	statusClass *prometheus.Desc
	tagTotal    *prometheus.Desc
	initiator   *prometheus.Desc
}

func NewCollector(agg *Aggregator) *Collector {
	return &Collector{
		agg:         agg,
		requests:    prometheus.NewDesc("curiefense_requests_total", "Requests inspected in the current window", nil, nil),
		blocked:     prometheus.NewDesc("curiefense_blocked_total", "Requests blocked in the current window", nil, nil),
		bytesTotal:  prometheus.NewDesc("curiefense_bytes_total", "Bytes accounted for in the current window", nil, nil),
		statusClass: prometheus.NewDesc("curiefense_status_class_total", "Requests by response status class", []string{"class"}, nil),
		tagTotal:    prometheus.NewDesc("curiefense_tag_total", "Requests carrying a given tag", []string{"tag"}, nil),
		initiator:   prometheus.NewDesc("curiefense_trigger_total", "BlockReason occurrences by initiator", []string{"initiator", "active"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.blocked
	ch <- c.bytesTotal
	ch <- c.statusClass
	ch <- c.tagTotal
	ch <- c.initiator
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	w := c.agg.current.Load()
	if w == nil {
		return
	}
	snap := w.snapshot()

	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(snap.Requests))
	ch <- prometheus.MustNewConstMetric(c.blocked, prometheus.CounterValue, float64(snap.Blocked))
	ch <- prometheus.MustNewConstMetric(c.bytesTotal, prometheus.CounterValue, float64(snap.Bytes))
	for class, v := range snap.StatusClass {
		ch <- prometheus.MustNewConstMetric(c.statusClass, prometheus.CounterValue, float64(v), class)
	}
	for tag, v := range snap.Tags {
		ch <- prometheus.MustNewConstMetric(c.tagTotal, prometheus.CounterValue, float64(v), tag)
	}
	for initiatorName, v := range snap.InitiatorTotal {
		ch <- prometheus.MustNewConstMetric(c.initiator, prometheus.CounterValue, float64(v), initiatorName, "total")
	}
	for initiatorName, v := range snap.InitiatorActive {
		ch <- prometheus.MustNewConstMetric(c.initiator, prometheus.CounterValue, float64(v), initiatorName, "active")
	}
}
