// Package embedapi is the embedding API a proxy host calls into (spec
// section 6): the four inspection functions plus aggregated_values, wired
// around internal/orchestrator, internal/logrecord, and internal/aggregator.
// It owns the one translation step none of those packages do on their own -
// turning the embedder's raw Args into a normalized reqmodel.Request against
// the currently active config.Snapshot - and the one fail-open rule spec
// section 7 (kind 1) requires: a missing or invalid required Args field
// never aborts the call, it reports a Pass decision carrying the error.
package embedapi

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/curiefense/curiefense-go/internal/action"
	"github.com/curiefense/curiefense-go/internal/aggregator"
	"github.com/curiefense/curiefense-go/internal/config"
	"github.com/curiefense/curiefense-go/internal/evaluators"
	"github.com/curiefense/curiefense-go/internal/identity"
	"github.com/curiefense/curiefense-go/internal/logging"
	"github.com/curiefense/curiefense-go/internal/logrecord"
	"github.com/curiefense/curiefense-go/internal/orchestrator"
	"github.com/curiefense/curiefense-go/internal/reqmodel"
)

// Args mirrors the embedding API's recognized keys (spec section 6). The
// zero value of a Go struct can't distinguish "key omitted" from "key
// present but empty" the way a dynamic language's mapping can, so the
// required keys (LogLevel, Meta.Method, Meta.Path, Headers) are validated
// against their Go zero values: an empty method/path or a nil Headers map
// is treated as missing.
type Args struct {
	LogLevel   string
	Meta       reqmodel.Meta
	Headers    map[string]string
	Body       []byte
	IP         string
	Hops       int
	SecPolID   string
	Human      bool
	ConfigPath string
	Plugins    map[string]map[string]string
}

// ConfigProvider resolves the currently active configuration snapshot - the
// hot-reload pointer swap (spec section 5) lives behind this indirection so
// embedapi never caches a Snapshot across calls.
type ConfigProvider func(configPath string) *config.Snapshot

// GeoProvider resolves a client IP to a reqmodel.GeoIP, standing in for
// spec section 1's out-of-scope "geo-IP lookup provider" collaborator
// (internal/geoprovider.Provider.Lookup satisfies this signature directly).
// Left nil, normalize leaves Geo at NormalizeRequest's IPStr-only default.
type GeoProvider func(ip string) reqmodel.GeoIP

// Engine holds the capabilities the embedder supplies (spec section 6) plus
// the aggregator every finished inspection reports into.
type Engine struct {
	Config      ConfigProvider
	Grasshopper evaluators.Grasshopper
	Visitor     identity.VisitorOracle
	Geo         GeoProvider
	Aggregator  *aggregator.Aggregator
}

// Result is what every terminal embedding-API call returns: the
// orchestrator's InspectionResult plus the log_json method spec section 6
// names directly, and a non-nil Err when the call never reached tagging
// (kind 1, input validation).
type Result struct {
	*orchestrator.InspectionResult
	Err error
}

// LogJSON implements spec section 6's "method log_json(rinfo, tags, stats,
// logs, proxy_meta) -> bytes".
func (r *Result) LogJSON(proxyMeta map[string]string) ([]byte, error) {
	if r.InspectionResult == nil || r.Request == nil {
		return json.Marshal(nil)
	}
	return logrecord.Build(r.Request, r.Tags, r.Decision, r.Stats, r.Logs, proxyMeta)
}

func validationError(err error) *Result {
	logs := reqmodel.NewLogs(logging.LevelError)
	logs.ErrorS(err.Error())
	return &Result{
		InspectionResult: &orchestrator.InspectionResult{
			Decision: action.Decision{IsPass: true},
			Logs:     logs,
		},
		Err: err,
	}
}

func validate(args Args) error {
	if _, ok := logging.ParseLevel(args.LogLevel); !ok {
		return fmt.Errorf("embedapi: invalid or missing loglevel %q", args.LogLevel)
	}
	if args.Meta.Method == "" {
		return fmt.Errorf("embedapi: missing meta.method")
	}
	if args.Meta.Path == "" {
		return fmt.Errorf("embedapi: missing meta.path")
	}
	if args.Headers == nil {
		return fmt.Errorf("embedapi: missing headers")
	}
	return nil
}

// normalize validates Args, resolves the active Snapshot and security
// policy, and builds the normalized Request - everything every one of the
// four inspection entry points needs before calling into orchestrator.
func (e *Engine) normalize(args Args) (*reqmodel.Request, *config.Snapshot, *config.SecurityPolicy, *reqmodel.Logs, error) {
	if err := validate(args); err != nil {
		return nil, nil, nil, nil, err
	}

	level, _ := logging.ParseLevel(args.LogLevel)
	logs := reqmodel.NewLogs(level)

	configPath := args.ConfigPath
	if configPath == "" {
		configPath = "/cf-config/current/config"
	}
	cfg := e.Config(configPath)
	if cfg == nil {
		return nil, nil, nil, nil, fmt.Errorf("embedapi: no configuration loaded for %q", configPath)
	}

	policy := cfg.PolicyFor(args.Meta.Authority, args.SecPolID)

	ip := args.IP
	if args.Hops > 0 {
		ip = reqmodel.ExtractIP(args.Hops, args.Headers, args.IP)
	}

	var policyModel reqmodel.Policy
	if policy != nil {
		policyModel = reqmodel.Policy{ID: policy.ID, EntryID: policy.EntryID, Tags: policy.Tags}
	}

	req := reqmodel.NormalizeRequest(args.Meta, args.Headers, args.Body, ip, args.Plugins, policyModel, time.Now())
	if e.Geo != nil {
		req.Geo = e.Geo(ip)
	}
	return req, cfg, policy, logs, nil
}

func (e *Engine) record(res *orchestrator.InspectionResult) {
	if e.Aggregator == nil || res == nil {
		return
	}
	blocked := !res.Decision.IsPass
	var responseCode *int
	if blocked && res.Decision.Action.Kind != action.KindMonitor {
		status := res.Decision.Action.Status
		responseCode = &status
	}
	tags := res.Tags.Names()
	e.Aggregator.Record(time.Now(), blocked, responseCode, tags, len(res.Decision.Action.Body), res.Decision.Reasons)
}

// InspectRequest implements spec section 6's inspect_request: the three
// phases chained synchronously, for an embedder with no external flow/limit
// lookups to interleave.
func (e *Engine) InspectRequest(args Args) *Result {
	req, cfg, policy, logs, err := e.normalize(args)
	if err != nil {
		return validationError(err)
	}
	res := orchestrator.InspectRequest(cfg, policy, args.Human, req, e.Grasshopper, e.Visitor, logs)
	e.record(res)
	return &Result{InspectionResult: res}
}

// InspectRequestInit implements inspect_request_init: returns either a
// finished Result (tagging alone decided it) or a P1 handle to drive
// inspect_request_flows with.
func (e *Engine) InspectRequestInit(args Args) (*Result, *orchestrator.P1) {
	req, cfg, policy, logs, err := e.normalize(args)
	if err != nil {
		return validationError(err), nil
	}
	res, p1 := orchestrator.InspectInit(cfg, policy, args.Human, req, e.Grasshopper, e.Visitor, logs)
	if res != nil {
		e.record(res)
		return &Result{InspectionResult: res}, nil
	}
	return nil, p1
}

// InspectRequestFlows implements inspect_request_flows.
func (e *Engine) InspectRequestFlows(p1 *orchestrator.P1, flowResults []evaluators.FlowResult) (*Result, *orchestrator.P2I) {
	res, p2i := orchestrator.InspectFlows(p1, flowResults)
	if res != nil {
		e.record(res)
		return &Result{InspectionResult: res}, nil
	}
	return nil, p2i
}

// InspectRequestProcess implements inspect_request_process.
func (e *Engine) InspectRequestProcess(p2i *orchestrator.P2I, limitResults []evaluators.LimitResult) *Result {
	res := orchestrator.InspectProcess(p2i, limitResults)
	e.record(res)
	return &Result{InspectionResult: res}
}

// AggregatedValues implements spec section 6's aggregated_values: a JSON
// snapshot of every completed aggregation window, for scraping by a caller
// that doesn't speak Prometheus (internal/aggregator.Collector is the
// Prometheus-native path onto the same data).
func (e *Engine) AggregatedValues() ([]byte, error) {
	return json.Marshal(e.Aggregator.Snapshot())
}
