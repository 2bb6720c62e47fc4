package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/curiefense/curiefense-go/internal/action"
	"github.com/curiefense/curiefense-go/internal/matcher"
	"github.com/curiefense/curiefense-go/internal/reqmodel"
)

// The Raw* types below are the wire shape both the YAML and HCL decoders
// populate before buildSnapshot turns them into the typed matcher.
// GlobalFilterRule / action.SimpleAction trees the evaluators consume -
// those carry compiled regexes and parsed templates, so they are never
// decoded directly.

type RawSingle struct {
	Exact string `yaml:"exact,omitempty" hcl:"exact,optional"`
	Regex string `yaml:"regex,omitempty" hcl:"regex,optional"`
}

type RawPair struct {
	Key   string `yaml:"key" hcl:"key"`
	Exact string `yaml:"exact,omitempty" hcl:"exact,optional"`
	Regex string `yaml:"regex,omitempty" hcl:"regex,optional"`
}

// RawRule is either a relation (And/Or, recursively) or exactly one entry
// field set - the decode-time mirror of matcher.GlobalFilterRule.
type RawRule struct {
	And []RawRule `yaml:"and,omitempty" hcl:"and,block"`
	Or  []RawRule `yaml:"or,omitempty" hcl:"or,block"`

	Negated bool `yaml:"negated,omitempty" hcl:"negated,optional"`

	Always                *bool      `yaml:"always,omitempty" hcl:"always,optional"`
	IP                    string     `yaml:"ip,omitempty" hcl:"ip,optional"`
	Network               string     `yaml:"network,omitempty" hcl:"network,optional"`
	Path                  *RawSingle `yaml:"path,omitempty" hcl:"path,block"`
	Query                 *RawSingle `yaml:"query,omitempty" hcl:"query,block"`
	URI                   *RawSingle `yaml:"uri,omitempty" hcl:"uri,block"`
	Country               *RawSingle `yaml:"country,omitempty" hcl:"country,block"`
	Region                *RawSingle `yaml:"region,omitempty" hcl:"region,block"`
	SubRegion             *RawSingle `yaml:"subregion,omitempty" hcl:"subregion,block"`
	Method                *RawSingle `yaml:"method,omitempty" hcl:"method,block"`
	Authority             *RawSingle `yaml:"authority,omitempty" hcl:"authority,block"`
	Company               *RawSingle `yaml:"company,omitempty" hcl:"company,block"`
	Header                *RawPair   `yaml:"header,omitempty" hcl:"header,block"`
	Plugin                *RawPair   `yaml:"plugin,omitempty" hcl:"plugin,block"`
	Arg                   *RawPair   `yaml:"arg,omitempty" hcl:"arg,block"`
	Cookie                *RawPair   `yaml:"cookie,omitempty" hcl:"cookie,block"`
	ASN                   *uint32    `yaml:"asn,omitempty" hcl:"asn,optional"`
	Tag                   string     `yaml:"tag,omitempty" hcl:"tag,optional"`
	SecurityPolicyID      string     `yaml:"security_policy_id,omitempty" hcl:"security_policy_id,optional"`
	SecurityPolicyEntryID string     `yaml:"security_policy_entry_id,omitempty" hcl:"security_policy_entry_id,optional"`
}

// RawAction is the decode-time mirror of action.SimpleAction: Headers are
// raw template strings, parsed with reqmodel.ParseRequestTemplate.
type RawAction struct {
	Kind      string            `yaml:"kind" hcl:"kind"`
	Status    int               `yaml:"status,omitempty" hcl:"status,optional"`
	Headers   map[string]string `yaml:"headers,omitempty" hcl:"headers,optional"`
	Content   string            `yaml:"content,omitempty" hcl:"content,optional"`
	ExtraTags []string          `yaml:"extra_tags,omitempty" hcl:"extra_tags,optional"`
}

type RawGlobalFilterSection struct {
	ID     string     `yaml:"id" hcl:"id,label"`
	Name   string     `yaml:"name,omitempty" hcl:"name,optional"`
	Rule   RawRule    `yaml:"rule" hcl:"rule,block"`
	Tags   []string   `yaml:"tags,omitempty" hcl:"tags,optional"`
	Action *RawAction `yaml:"action,omitempty" hcl:"action,block"`
}

type RawACLProfile struct {
	ID         string    `yaml:"id" hcl:"id,label"`
	Name       string    `yaml:"name,omitempty" hcl:"name,optional"`
	Bypass     []string  `yaml:"bypass,omitempty" hcl:"bypass,optional"`
	ForceDeny  []string  `yaml:"force_deny,omitempty" hcl:"force_deny,optional"`
	Allow      []string  `yaml:"allow,omitempty" hcl:"allow,optional"`
	AllowBot   []string  `yaml:"allow_bot,omitempty" hcl:"allow_bot,optional"`
	Deny       []string  `yaml:"deny,omitempty" hcl:"deny,optional"`
	DenyBot    []string  `yaml:"deny_bot,omitempty" hcl:"deny_bot,optional"`
	DenyAction RawAction `yaml:"deny_action" hcl:"deny_action,block"`
}

type RawContentFilterRule struct {
	ID        string  `yaml:"id" hcl:"id,label"`
	Rule      RawRule `yaml:"rule" hcl:"rule,block"`
	RiskLevel int     `yaml:"risk_level" hcl:"risk_level"`
	Tags      []string `yaml:"tags,omitempty" hcl:"tags,optional"`
}

type RawContentFilterProfile struct {
	ID              string                 `yaml:"id" hcl:"id,label"`
	Name            string                 `yaml:"name,omitempty" hcl:"name,optional"`
	Rules           []RawContentFilterRule `yaml:"rules,omitempty" hcl:"rule,block"`
	ReportThreshold int                    `yaml:"report_threshold" hcl:"report_threshold"`
	BlockThreshold  int                    `yaml:"block_threshold" hcl:"block_threshold"`
	MonitorAction   RawAction              `yaml:"monitor_action" hcl:"monitor_action,block"`
	BlockAction     RawAction              `yaml:"block_action" hcl:"block_action,block"`
}

type RawRateLimitRule struct {
	ID            string    `yaml:"id" hcl:"id,label"`
	Name          string    `yaml:"name,omitempty" hcl:"name,optional"`
	Rule          RawRule   `yaml:"rule" hcl:"rule,block"`
	KeyBy         []string  `yaml:"key_by,omitempty" hcl:"key_by,optional"`
	Threshold     int       `yaml:"threshold" hcl:"threshold"`
	WindowSeconds int       `yaml:"window_seconds" hcl:"window_seconds"`
	Action        RawAction `yaml:"action" hcl:"action,block"`
}

type RawFlowStep struct {
	Rule RawRule `yaml:"rule" hcl:"rule,block"`
}

type RawFlowControlRule struct {
	ID            string        `yaml:"id" hcl:"id,label"`
	Name          string        `yaml:"name,omitempty" hcl:"name,optional"`
	Steps         []RawFlowStep `yaml:"steps" hcl:"step,block"`
	KeyBy         []string      `yaml:"key_by,omitempty" hcl:"key_by,optional"`
	WindowSeconds int           `yaml:"window_seconds" hcl:"window_seconds"`
	Action        RawAction     `yaml:"action" hcl:"action,block"`
}

type RawSecurityPolicy struct {
	ID                   string   `yaml:"id" hcl:"id,label"`
	EntryID              string   `yaml:"entry_id,omitempty" hcl:"entry_id,optional"`
	Match                string   `yaml:"match,omitempty" hcl:"match,optional"`
	Tags                 []string `yaml:"tags,omitempty" hcl:"tags,optional"`
	ACLActive            bool     `yaml:"acl_active,omitempty" hcl:"acl_active,optional"`
	ACLProfile           string   `yaml:"acl_profile,omitempty" hcl:"acl_profile,optional"`
	ContentFilterActive  bool     `yaml:"content_filter_active,omitempty" hcl:"content_filter_active,optional"`
	ContentFilterProfile string   `yaml:"content_filter_profile,omitempty" hcl:"content_filter_profile,optional"`
	RateLimitRuleIDs     []string `yaml:"rate_limit_rules,omitempty" hcl:"rate_limit_rules,optional"`
	FlowControlRuleIDs   []string `yaml:"flow_control_rules,omitempty" hcl:"flow_control_rules,optional"`
}

// RawDocument is the full decode target for both the YAML and HCL formats
// (spec section 1's out-of-scope "configuration loading from disk" only
// covers finding/reading the bytes; this struct is the schema those bytes
// must follow).
type RawDocument struct {
	Revision        string                    `yaml:"revision,omitempty" hcl:"revision,optional"`
	DefaultPolicyID string                    `yaml:"default_policy_id,omitempty" hcl:"default_policy_id,optional"`
	VirtualTags     map[string][]string       `yaml:"virtual_tags,omitempty" hcl:"virtual_tags,optional"`
	Policies        []RawSecurityPolicy       `yaml:"policies,omitempty" hcl:"policy,block"`
	GlobalFilters   []RawGlobalFilterSection  `yaml:"global_filters,omitempty" hcl:"global_filter,block"`
	ACLProfiles     []RawACLProfile           `yaml:"acl_profiles,omitempty" hcl:"acl_profile,block"`
	ContentFilters  []RawContentFilterProfile `yaml:"content_filters,omitempty" hcl:"content_filter,block"`
	RateLimits      []RawRateLimitRule        `yaml:"rate_limits,omitempty" hcl:"rate_limit,block"`
	FlowControls    []RawFlowControlRule      `yaml:"flow_controls,omitempty" hcl:"flow_control,block"`
}

func buildSingle(r *RawSingle) (matcher.SingleEntry, error) {
	if r == nil {
		return matcher.NewSingleEntry("", "")
	}
	return matcher.NewSingleEntry(r.Exact, r.Regex)
}

func buildPair(r *RawPair) (matcher.PairEntry, error) {
	if r == nil {
		return matcher.PairEntry{}, fmt.Errorf("pair entry requires a key")
	}
	return matcher.NewPairEntry(r.Key, r.Exact, r.Regex)
}

// buildRule recursively compiles a RawRule into a matcher.GlobalFilterRule,
// compiling every regex once at config load (spec section 5: "Regex
// compilation happens once at config load"). Spec section 7 kind 4: a
// regex compile failure rejects only the owning action/entry and is
// reported to the caller to log at error level - buildRule returns the
// error up to the caller, which decides whether to drop just this rule.
func buildRule(r RawRule) (matcher.GlobalFilterRule, error) {
	switch {
	case len(r.And) > 0:
		rules := make([]matcher.GlobalFilterRule, 0, len(r.And))
		for _, sub := range r.And {
			built, err := buildRule(sub)
			if err != nil {
				return matcher.GlobalFilterRule{}, err
			}
			rules = append(rules, built)
		}
		return matcher.Rel(matcher.And, rules...), nil
	case len(r.Or) > 0:
		rules := make([]matcher.GlobalFilterRule, 0, len(r.Or))
		for _, sub := range r.Or {
			built, err := buildRule(sub)
			if err != nil {
				return matcher.GlobalFilterRule{}, err
			}
			rules = append(rules, built)
		}
		return matcher.Rel(matcher.Or, rules...), nil
	}

	e := matcher.GlobalFilterEntry{Negated: r.Negated}
	switch {
	case r.Always != nil:
		e.Kind, e.Always = matcher.EAlways, *r.Always
	case r.IP != "":
		ip, err := netip.ParseAddr(r.IP)
		if err != nil {
			return matcher.GlobalFilterRule{}, fmt.Errorf("invalid ip entry %q: %w", r.IP, err)
		}
		e.Kind, e.IP = matcher.EIP, ip
	case r.Network != "":
		prefix, err := netip.ParsePrefix(r.Network)
		if err != nil {
			return matcher.GlobalFilterRule{}, fmt.Errorf("invalid network entry %q: %w", r.Network, err)
		}
		e.Kind, e.Network = matcher.ENetwork, prefix
	case r.Path != nil:
		single, err := buildSingle(r.Path)
		if err != nil {
			return matcher.GlobalFilterRule{}, err
		}
		e.Kind, e.Single = matcher.EPath, single
	case r.Query != nil:
		single, err := buildSingle(r.Query)
		if err != nil {
			return matcher.GlobalFilterRule{}, err
		}
		e.Kind, e.Single = matcher.EQuery, single
	case r.URI != nil:
		single, err := buildSingle(r.URI)
		if err != nil {
			return matcher.GlobalFilterRule{}, err
		}
		e.Kind, e.Single = matcher.EURI, single
	case r.Country != nil:
		single, err := buildSingle(r.Country)
		if err != nil {
			return matcher.GlobalFilterRule{}, err
		}
		e.Kind, e.Single = matcher.ECountry, single
	case r.Region != nil:
		single, err := buildSingle(r.Region)
		if err != nil {
			return matcher.GlobalFilterRule{}, err
		}
		e.Kind, e.Single = matcher.ERegion, single
	case r.SubRegion != nil:
		single, err := buildSingle(r.SubRegion)
		if err != nil {
			return matcher.GlobalFilterRule{}, err
		}
		e.Kind, e.Single = matcher.ESubRegion, single
	case r.Method != nil:
		single, err := buildSingle(r.Method)
		if err != nil {
			return matcher.GlobalFilterRule{}, err
		}
		e.Kind, e.Single = matcher.EMethod, single
	case r.Authority != nil:
		single, err := buildSingle(r.Authority)
		if err != nil {
			return matcher.GlobalFilterRule{}, err
		}
		e.Kind, e.Single = matcher.EAuthority, single
	case r.Company != nil:
		single, err := buildSingle(r.Company)
		if err != nil {
			return matcher.GlobalFilterRule{}, err
		}
		e.Kind, e.Single = matcher.ECompany, single
	case r.Header != nil:
		pair, err := buildPair(r.Header)
		if err != nil {
			return matcher.GlobalFilterRule{}, err
		}
		e.Kind, e.Pair = matcher.EHeader, pair
	case r.Plugin != nil:
		pair, err := buildPair(r.Plugin)
		if err != nil {
			return matcher.GlobalFilterRule{}, err
		}
		e.Kind, e.Pair = matcher.EPlugin, pair
	case r.Arg != nil:
		pair, err := buildPair(r.Arg)
		if err != nil {
			return matcher.GlobalFilterRule{}, err
		}
		e.Kind, e.Pair = matcher.EArg, pair
	case r.Cookie != nil:
		pair, err := buildPair(r.Cookie)
		if err != nil {
			return matcher.GlobalFilterRule{}, err
		}
		e.Kind, e.Pair = matcher.ECookie, pair
	case r.ASN != nil:
		e.Kind, e.ASN = matcher.EASN, *r.ASN
	case r.Tag != "":
		e.Kind, e.Tag = matcher.ETag, r.Tag
	case r.SecurityPolicyID != "":
		e.Kind, e.PolicyID = matcher.ESecurityPolicyID, r.SecurityPolicyID
	case r.SecurityPolicyEntryID != "":
		e.Kind, e.PolicyEntryID = matcher.ESecurityPolicyEntryID, r.SecurityPolicyEntryID
	default:
		return matcher.GlobalFilterRule{}, fmt.Errorf("rule entry has no recognized field set")
	}
	return matcher.Ent(e), nil
}

var actionKinds = map[string]action.SimpleKind{
	"skip": action.SKSkip, "monitor": action.SKMonitor, "custom": action.SKCustom,
	"challenge": action.SKChallenge, "identity": action.SKIdentity,
	"fingerprint": action.SKFingerprint, "fingerprint_block": action.SKFingerprintBlock,
}

func buildAction(r *RawAction) (*action.SimpleAction, error) {
	if r == nil {
		return nil, nil
	}
	kind, ok := actionKinds[r.Kind]
	if !ok {
		return nil, fmt.Errorf("unrecognized action kind %q", r.Kind)
	}
	headers := make(map[string]reqmodel.RequestTemplate, len(r.Headers))
	for k, v := range r.Headers {
		headers[k] = reqmodel.ParseRequestTemplate(v)
	}
	return &action.SimpleAction{
		Kind: kind, Status: r.Status, Headers: headers,
		Content: r.Content, ExtraTags: r.ExtraTags,
	}, nil
}

func buildActionValue(r RawAction) (action.SimpleAction, error) {
	built, err := buildAction(&r)
	if err != nil {
		return action.SimpleAction{}, err
	}
	return *built, nil
}

var selectorKeys = map[string]reqmodel.SelectorKind{
	"ip": reqmodel.SelIP, "method": reqmodel.SelMethod, "authority": reqmodel.SelAuthority,
	"path": reqmodel.SelPath, "uri": reqmodel.SelURI, "query": reqmodel.SelQuery,
	"country": reqmodel.SelCountry, "region": reqmodel.SelRegion, "subregion": reqmodel.SelSubRegion,
	"company": reqmodel.SelCompany, "asn": reqmodel.SelASN,
}

// buildSelectors parses the KeyBy string list used to bucket rate-limit and
// flow-control counters, e.g. "ip", "header:x-api-key", "cookie:session".
func buildSelectors(keys []string) ([]reqmodel.Selector, error) {
	out := make([]reqmodel.Selector, 0, len(keys))
	for _, k := range keys {
		name, arg, hasArg := strings.Cut(k, ":")
		if hasArg {
			keyed := map[string]reqmodel.SelectorKind{
				"header": reqmodel.SelHeader, "cookie": reqmodel.SelCookie,
				"arg": reqmodel.SelArg, "plugin": reqmodel.SelPlugin,
			}
			kind, ok := keyed[name]
			if !ok {
				return nil, fmt.Errorf("unrecognized keyed selector %q", k)
			}
			out = append(out, reqmodel.Selector{Kind: kind, Key: arg})
			continue
		}
		kind, ok := selectorKeys[k]
		if !ok {
			return nil, fmt.Errorf("unrecognized selector %q", k)
		}
		out = append(out, reqmodel.Selector{Kind: kind})
	}
	return out, nil
}

func windowOf(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
