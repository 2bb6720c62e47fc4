// Package config holds the typed, read-only configuration snapshot the
// evaluators read (spec section 5: "Config snapshot - read-only,
// reference-counted; hot-reload swaps the whole snapshot atomically").
// This package only decodes bytes handed to it; reading the config file's
// location on disk and watching it for hot-reload triggers is the
// out-of-scope "configuration loading from disk" collaborator (spec
// section 1) - that lives in cmd/.
package config

import (
	"time"

	"github.com/curiefense/curiefense-go/internal/action"
	"github.com/curiefense/curiefense-go/internal/matcher"
	"github.com/curiefense/curiefense-go/internal/reqmodel"
)

// SecurityPolicy selects which filter sections, limits, and tags apply to
// a request (spec section 3 / GLOSSARY: "configuration unit selected by
// hostname (or explicit id)").
type SecurityPolicy struct {
	ID      string   `yaml:"id" hcl:"id,label"`
	EntryID string   `yaml:"entry_id" hcl:"entry_id"`
	Match   string   `yaml:"match" hcl:"match"` // hostname, matched exactly or as a suffix wildcard "*.example.com"
	Tags    []string `yaml:"tags" hcl:"tags,optional"`

	ACLActive           bool `yaml:"acl_active" hcl:"acl_active,optional"`
	ACLProfileID        string `yaml:"acl_profile" hcl:"acl_profile,optional"`
	ContentFilterActive bool `yaml:"content_filter_active" hcl:"content_filter_active,optional"`
	ContentFilterID      string `yaml:"content_filter_profile" hcl:"content_filter_profile,optional"`
	RateLimitRuleIDs     []string `yaml:"rate_limit_rules" hcl:"rate_limit_rules,optional"`
	FlowControlRuleIDs   []string `yaml:"flow_control_rules" hcl:"flow_control_rules,optional"`
}

// GlobalFilterSection is one tagging-rule section the Tagger (C3) evaluates
// in configured order (spec section 4.3).
type GlobalFilterSection struct {
	ID     string
	Name   string
	Rule   matcher.GlobalFilterRule
	Tags   []string
	Action *action.SimpleAction // nil means the section only tags, no action
}

// ACLProfile is a tag-based allow/deny policy (spec section 4.7's "ACL
// evaluator"). Category order is fixed by EvaluateACL: bypass short-circuits
// to Skip, force-deny beats allow, then allow/allow-bot, then deny/deny-bot,
// defaulting to Pass when nothing matches - the shape every curiefense-style
// ACL profile uses, reconstructed here since original_source/ does not
// include the ACL module (see DESIGN.md).
type ACLProfile struct {
	ID   string
	Name string

	Bypass    []string
	ForceDeny []string
	Allow     []string
	AllowBot  []string
	Deny      []string
	DenyBot   []string

	DenyAction action.SimpleAction
}

// ContentFilterRule is one risk-scored pattern the content filter sums
// against its thresholds (spec section 4.7).
type ContentFilterRule struct {
	ID        string
	Rule      matcher.GlobalFilterRule
	RiskLevel int
	Tags      []string
}

// ContentFilterProfile groups content filter rules with the thresholds
// that turn an accumulated risk score into Monitor or Block.
type ContentFilterProfile struct {
	ID              string
	Name            string
	Rules           []ContentFilterRule
	ReportThreshold int
	BlockThreshold  int
	MonitorAction   action.SimpleAction
	BlockAction     action.SimpleAction
}

// RateLimitRule counts matching requests, bucketed by KeyBy, against a
// sliding Window and Threshold (spec section 4.6/4.7).
type RateLimitRule struct {
	ID        string
	Name      string
	Rule      matcher.GlobalFilterRule
	KeyBy     []reqmodel.Selector
	Threshold int
	Window    time.Duration
	Action    action.SimpleAction
}

// FlowStep is one rule in a FlowControlRule's ordered sequence.
type FlowStep struct {
	Rule matcher.GlobalFilterRule
}

// FlowControlRule detects an ordered sequence of requests from the same
// key completing within Window (spec section 4.6's "external flow
// lookups"); reconstructed in the teacher's idiom since original_source/
// does not include the flow-control module (see DESIGN.md).
type FlowControlRule struct {
	ID     string
	Name   string
	Steps  []FlowStep
	KeyBy  []reqmodel.Selector
	Window time.Duration
	Action action.SimpleAction
}

// Snapshot is the full, read-only configuration handle shared across
// requests (spec section 5). A hot-reload swaps the pointer atomically;
// readers observe one consistent Snapshot per request.
type Snapshot struct {
	Revision string

	Policies       []SecurityPolicy
	DefaultPolicy  *SecurityPolicy
	GlobalFilters  []GlobalFilterSection
	ACLProfiles    map[string]ACLProfile
	ContentFilters map[string]ContentFilterProfile
	RateLimits     map[string]RateLimitRule
	FlowControls   map[string]FlowControlRule
	VirtualTags    reqmodel.VirtualTags
}

// PolicyFor resolves a security policy by explicit id (spec section 6's
// secpolid argument) or by hostname match, falling back to DefaultPolicy.
func (s *Snapshot) PolicyFor(host, explicitID string) *SecurityPolicy {
	if explicitID != "" {
		for i := range s.Policies {
			if s.Policies[i].ID == explicitID {
				return &s.Policies[i]
			}
		}
	}
	for i := range s.Policies {
		if matchesHost(s.Policies[i].Match, host) {
			return &s.Policies[i]
		}
	}
	return s.DefaultPolicy
}

func matchesHost(pattern, host string) bool {
	if pattern == "" {
		return false
	}
	if pattern == host {
		return true
	}
	if len(pattern) > 2 && pattern[:2] == "*." {
		suffix := pattern[1:] // ".example.com"
		return len(host) > len(suffix) && host[len(host)-len(suffix):] == suffix
	}
	return false
}
