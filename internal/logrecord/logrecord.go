// Package logrecord implements the Log Serializer (spec section 4.8, C8):
// one JSON document per request, field order fixed, built from the same
// pieces the finish step (internal/orchestrator) already produced. Grounded
// on original_source/curiefense/curieproxy/rust/curiefense/src/interface/mod.rs's
// jsonlog_rinfo, which builds the document as a single ordered map rather
// than deriving the order from a struct; this port uses Go struct field
// order instead (encoding/json preserves declaration order), the idiomatic
// equivalent for a fixed-shape document.
package logrecord

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/curiefense/curiefense-go/internal/action"
	"github.com/curiefense/curiefense-go/internal/reqmodel"
	"github.com/curiefense/curiefense-go/internal/tagger"
)

// triggerEntry is the wire shape of one BlockReason inside an
// *_triggers array or trigger_counters breakdown.
type triggerEntry struct {
	Initiator string         `json:"initiator"`
	Decision  string         `json:"decision"`
	Locations []string       `json:"locations,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

type nameValue struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type securityConfig struct {
	Revision            string `json:"revision"`
	ACLActive           bool   `json:"acl_active"`
	ContentFilterActive bool   `json:"cf_active"`
	ContentFilterRules  int    `json:"cf_rules"`
	RateLimitRules      int    `json:"rate_limit_rules"`
	GlobalFiltersActive int    `json:"global_filters_active"`
}

type triggerCounters struct {
	ACL                  int `json:"acl"`
	ACLActive            int `json:"acl_active"`
	GlobalFilters        int `json:"global_filters"`
	GlobalFiltersActive  int `json:"global_filters_active"`
	RateLimit            int `json:"rate_limit"`
	RateLimitActive      int `json:"rate_limit_active"`
	ContentFilters       int `json:"content_filters"`
	ContentFiltersActive int `json:"content_filters_active"`
}

// record mirrors jsonlog_rinfo's field order exactly; encoding/json emits
// struct fields in declaration order, so the order here IS the document's
// key order.
type record struct {
	Timestamp       time.Time         `json:"timestamp"`
	CurieSession    string            `json:"curiesession"`
	CurieSessionIDs map[string]string `json:"curiesession_ids"`
	RequestID       string            `json:"request_id"`
	Arguments       *reqmodel.MultiMap `json:"arguments"`
	Path            string            `json:"path"`
	PathParts       map[string]string `json:"path_parts"`
	Authority       string            `json:"authority"`
	Cookies         map[string]string `json:"cookies"`
	Headers         map[string]string `json:"headers"`
	Plugins         map[string]string `json:"plugins,omitempty"`
	URI             string            `json:"uri"`
	IP              string            `json:"ip"`
	Method          string            `json:"method"`
	ResponseCode    *int              `json:"response_code"`
	Logs            []reqmodel.LogLine `json:"logs"`
	ProcessingStage string            `json:"processing_stage"`

	ACLTriggers           []triggerEntry `json:"acl_triggers"`
	RateLimitTriggers     []triggerEntry `json:"rate_limit_triggers"`
	GlobalFilterTriggers  []triggerEntry `json:"global_filter_triggers"`
	ContentFilterTriggers []triggerEntry `json:"content_filter_triggers"`
	RestrictionTriggers   []triggerEntry `json:"restriction_triggers"`

	Reason string `json:"reason"`

	IdentityHeaders map[string]string `json:"identity_headers"`

	Tags []string `json:"tags"`

	Proxy []nameValue `json:"proxy"`

	SecurityConfig  securityConfig  `json:"security_config"`
	TriggerCounters triggerCounters `json:"trigger_counters"`

	Profiling map[string]int64 `json:"profiling"`
}

// Build produces the spec section 4.8 document for one inspected request.
// proxy carries whatever the embedder's proxy layer knows about the
// request/response that the core doesn't (request_id override, bytes_sent,
// status, ...); the optional container-name attribute spec section 4.8's
// "proxy" block names alongside the geo_* expansions comes from
// req.ContainerName.
func Build(req *reqmodel.Request, tags *reqmodel.Tags, decision action.Decision, stats tagger.Stats, logs *reqmodel.Logs, proxy map[string]string) ([]byte, error) {
	requestID := proxy["request_id"]
	if requestID == "" {
		requestID = req.RequestID
	}

	rcode := responseCode(decision, proxy)
	tagRcode := rcode
	if !decision.IsPass && decision.Action.Kind == action.KindMonitor {
		tagRcode = nil
	}

	grouped := groupReasons(decision.Reasons)

	rec := record{
		Timestamp:       req.Timestamp,
		CurieSession:    req.Session,
		CurieSessionIDs: req.SessionIDs,
		RequestID:       requestID,
		Arguments:       req.Args,
		Path:            req.Path,
		PathParts:       req.PathParts,
		Authority:       req.Host,
		Cookies:         req.Cookies,
		Headers:         req.Headers,
		Plugins:         nonEmpty(req.Plugins),
		URI:             req.URI,
		IP:              req.IP,
		Method:          req.Method,
		ResponseCode:    rcode,
		Logs:            logs.Lines(),
		ProcessingStage: stats.ProcessingStage,

		ACLTriggers:           toEntries(grouped[action.InitiatorAcl]),
		RateLimitTriggers:     toEntries(grouped[action.InitiatorRateLimit]),
		GlobalFilterTriggers:  toEntries(grouped[action.InitiatorGlobalFilter]),
		ContentFilterTriggers: toEntries(grouped[action.InitiatorContentFilter]),
		RestrictionTriggers:   toEntries(grouped[action.InitiatorRestriction]),

		Reason: describeReasons(decision.Reasons),

		IdentityHeaders: req.Identity,

		Tags: buildTags(tags, decision, tagRcode),

		Proxy: buildProxy(proxy, req),

		SecurityConfig: securityConfig{
			Revision:            stats.Revision,
			ACLActive:           stats.ACLActive,
			ContentFilterActive: stats.ContentFilterActive,
			ContentFilterRules:  stats.ContentFilterRuleCount,
			RateLimitRules:      stats.RateLimitRuleCount,
			GlobalFiltersActive: stats.SectionsEvaluated,
		},
		TriggerCounters: triggerCounters{
			ACL:                   len(grouped[action.InitiatorAcl]),
			ACLActive:             countBlocking(grouped[action.InitiatorAcl]),
			GlobalFilters:         len(grouped[action.InitiatorGlobalFilter]),
			GlobalFiltersActive:   countBlocking(grouped[action.InitiatorGlobalFilter]),
			RateLimit:             len(grouped[action.InitiatorRateLimit]),
			RateLimitActive:       countBlocking(grouped[action.InitiatorRateLimit]),
			ContentFilters:        len(grouped[action.InitiatorContentFilter]),
			ContentFiltersActive:  countBlocking(grouped[action.InitiatorContentFilter]),
		},
		Profiling: map[string]int64{},
	}

	return json.Marshal(rec)
}

// responseCode prefers the rendered action's own status; when the action
// is Pass (no status was ever rendered) it falls back to whatever status
// the proxy layer reports for the upstream response, mirroring jsonlog's
// `rcode.or_else(|| proxy.get("status")...)`.
func responseCode(decision action.Decision, proxy map[string]string) *int {
	if !decision.IsPass {
		status := decision.Action.Status
		return &status
	}
	if s, ok := proxy["status"]; ok {
		var status int
		if _, err := fmt.Sscanf(s, "%d", &status); err == nil {
			return &status
		}
	}
	return nil
}

func nonEmpty(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}

func groupReasons(reasons []action.BlockReason) map[action.InitiatorKind][]action.BlockReason {
	out := make(map[action.InitiatorKind][]action.BlockReason)
	for _, r := range reasons {
		out[r.Initiator] = append(out[r.Initiator], r)
	}
	return out
}

func countBlocking(reasons []action.BlockReason) int {
	n := 0
	for _, r := range reasons {
		if r.Level == action.ReasonBlocking {
			n++
		}
	}
	return n
}

func toEntries(reasons []action.BlockReason) []triggerEntry {
	out := make([]triggerEntry, 0, len(reasons))
	for _, r := range reasons {
		out = append(out, triggerEntry{
			Initiator: r.Initiator.String(),
			Decision:  levelName(r.Level),
			Locations: locationStrings(r.Locations),
			Extra:     r.Extra,
		})
	}
	return out
}

func levelName(l action.ReasonLevel) string {
	switch l {
	case action.ReasonSkip:
		return "skip"
	case action.ReasonMonitor:
		return "monitor"
	default:
		return "blocking"
	}
}

func locationStrings(locs reqmodel.LocationSet) []string {
	slice := locs.Slice()
	out := make([]string, 0, len(slice))
	for _, l := range slice {
		if l.Key == "" && l.Value == "" {
			out = append(out, l.Kind.String())
			continue
		}
		out = append(out, fmt.Sprintf("%s:%s=%s", l.Kind, l.Key, l.Value))
	}
	return out
}

// describeReasons builds the "reason" field's textual summary - spec
// section 4.8 asks only for "a textual summary"; not grounded in
// original_source/ (BlockReason::block_reason_desc isn't in the retrieved
// pack), so this is a direct, reasoned rendering of the same data already
// serialized into the *_triggers arrays.
func describeReasons(reasons []action.BlockReason) string {
	if len(reasons) == 0 {
		return ""
	}
	parts := make([]string, 0, len(reasons))
	for _, r := range reasons {
		label := r.Initiator.String()
		if name, ok := r.Extra["name"]; ok {
			label = fmt.Sprintf("%s:%v", label, name)
		} else if id, ok := r.Extra["id"]; ok {
			label = fmt.Sprintf("%s:%v", label, id)
		} else if rule, ok := r.Extra["rule"]; ok {
			label = fmt.Sprintf("%s:%v", label, rule)
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, "; ")
}

// buildTags extends the tag set with the synthetic status/status-class
// pair unless the final action is Monitor (spec section 4.8: "Monitor
// actions suppress status-derived tag synthesis"), then appends any
// extra_tags the rendered action carries.
func buildTags(tags *reqmodel.Tags, decision action.Decision, rcode *int) []string {
	names := tags.Names()
	if rcode != nil {
		names = append(names, fmt.Sprintf("status=%d", *rcode), fmt.Sprintf("status-class=%dxx", *rcode/100))
	}
	if !decision.IsPass {
		names = append(names, decision.Action.ExtraTags...)
	}
	return names
}

// buildProxy assembles the "proxy" sequence: every proxy-supplied
// name/value plus the geo_* expansions and container name (spec section
// 4.8), following LogProxy's field list in jsonlog_rinfo. Absent geo
// attributes are omitted rather than serialized as null.
func buildProxy(proxy map[string]string, req *reqmodel.Request) []nameValue {
	out := make([]nameValue, 0, len(proxy)+13)
	for _, k := range sortedKeys(proxy) {
		out = append(out, nameValue{Name: k, Value: proxy[k]})
	}

	g := req.Geo
	appendOpt := func(name string, v any, present bool) {
		if present {
			out = append(out, nameValue{Name: name, Value: v})
		}
	}
	appendOpt("geo_long", g.Longitude, g.Longitude != nil)
	appendOpt("geo_lat", g.Latitude, g.Latitude != nil)
	appendOpt("geo_as_name", strOrNil(g.ASName), g.ASName != nil)
	appendOpt("geo_as_domain", strOrNil(g.ASDomain), g.ASDomain != nil)
	appendOpt("geo_as_type", strOrNil(g.ASType), g.ASType != nil)
	appendOpt("geo_company_country", strOrNil(g.CompanyCountry), g.CompanyCountry != nil)
	appendOpt("geo_company_domain", strOrNil(g.CompanyDomain), g.CompanyDomain != nil)
	appendOpt("geo_company_type", strOrNil(g.CompanyType), g.CompanyType != nil)
	appendOpt("geo_mobile_carrier", strOrNil(g.MobileCarrierName), g.MobileCarrierName != nil)
	appendOpt("geo_mobile_country", strOrNil(g.MobileCountry), g.MobileCountry != nil)
	appendOpt("geo_mobile_mcc", strOrNil(g.MobileMCC), g.MobileMCC != nil)
	appendOpt("geo_mobile_mnc", strOrNil(g.MobileMNC), g.MobileMNC != nil)
	if req.ContainerName != nil {
		out = append(out, nameValue{Name: "container", Value: *req.ContainerName})
	}
	return out
}

func strOrNil(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}
