package evaluators

import (
	"strings"
	"time"

	"github.com/curiefense/curiefense-go/internal/action"
	"github.com/curiefense/curiefense-go/internal/config"
	"github.com/curiefense/curiefense-go/internal/matcher"
	"github.com/curiefense/curiefense-go/internal/reqmodel"
)

// LimitQuery is one rate-limit counter increment the orchestrator (C6)
// hands to the embedder between the flows and limits phases (spec section
// 4.6).
type LimitQuery struct {
	RuleID string
	Key    string
	Window time.Duration
}

// LimitResult is the embedder's answer: the counter's value after the
// increment for (RuleID, Key) within Window.
type LimitResult struct {
	RuleID string
	Key    string
	Count  int
}

// BuildLimitQueries scopes each named rate limit rule to the current
// request (spec section 4.6: "package queries and consume answers"); a
// rule whose scoping Rule doesn't match the request needs no query at all.
func BuildLimitQueries(rules map[string]config.RateLimitRule, ids []string, r *reqmodel.Request, tags *reqmodel.Tags) []LimitQuery {
	var out []LimitQuery
	for _, id := range ids {
		rule, ok := rules[id]
		if !ok {
			continue
		}
		if res := matcher.CheckRule(rule.Rule, r, tags); !res.Matching {
			continue
		}
		out = append(out, LimitQuery{RuleID: id, Key: BuildKey(rule.KeyBy, r, tags), Window: rule.Window})
	}
	return out
}

// EvaluateRateLimit folds every result that exceeded its rule's threshold
// into one SimpleDecision (spec section 4.6 finish step, input (d)). The
// orchestrator must tolerate any subset of results being present - a rule
// with no corresponding result is treated as "no restriction" (spec
// section 4.6).
func EvaluateRateLimit(rules map[string]config.RateLimitRule, results []LimitResult) action.SimpleDecision {
	decision := action.Pass()
	for _, res := range results {
		rule, ok := rules[res.RuleID]
		if !ok || res.Count <= rule.Threshold {
			continue
		}
		reasons := []action.BlockReason{{
			Initiator: action.InitiatorRateLimit,
			Level:     levelOf(rule.Action.Kind),
			Locations: reqmodel.NewLocationSet(reqmodel.LIP()),
			Extra:     map[string]any{"rule": rule.ID, "count": res.Count, "threshold": rule.Threshold},
		}}
		decision = action.StrongerDecision(decision, action.SimpleDecision{Action: rule.Action, Reasons: reasons})
	}
	return decision
}

// BuildKey joins the resolved values of a bucketing selector list with a
// separator unlikely to appear in any selector value, producing the
// external store's counter key.
func BuildKey(keyBy []reqmodel.Selector, r *reqmodel.Request, tags *reqmodel.Tags) string {
	parts := make([]string, len(keyBy))
	for i, sel := range keyBy {
		v := reqmodel.Resolve(sel, r, tags)
		if v.Present {
			parts[i] = v.Value
		} else {
			parts[i] = "-"
		}
	}
	return strings.Join(parts, "|")
}
