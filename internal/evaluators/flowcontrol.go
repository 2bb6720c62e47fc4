package evaluators

import (
	"github.com/curiefense/curiefense-go/internal/action"
	"github.com/curiefense/curiefense-go/internal/config"
	"github.com/curiefense/curiefense-go/internal/matcher"
	"github.com/curiefense/curiefense-go/internal/reqmodel"
)

// FlowQuery asks the embedder's external store whether the current request
// advances a flow-control sequence to StepIndex for (RuleID, Key) (spec
// section 4.6, the "flows" phase).
type FlowQuery struct {
	RuleID    string
	Key       string
	StepIndex int
}

// FlowResult is the embedder's answer: whether the full ordered step
// sequence for (RuleID, Key) has now been completed within the rule's
// window.
type FlowResult struct {
	RuleID    string
	Key       string
	Completed bool
}

// BuildFlowQueries finds, for each named flow-control rule, the first step
// whose Rule matches the current request, and emits a query to advance
// that rule's sequence for the request's bucketing key. A rule whose steps
// none match needs no query.
func BuildFlowQueries(rules map[string]config.FlowControlRule, ids []string, r *reqmodel.Request, tags *reqmodel.Tags) []FlowQuery {
	var out []FlowQuery
	for _, id := range ids {
		rule, ok := rules[id]
		if !ok {
			continue
		}
		for i, step := range rule.Steps {
			if res := matcher.CheckRule(step.Rule, r, tags); res.Matching {
				out = append(out, FlowQuery{RuleID: id, Key: BuildKey(rule.KeyBy, r, tags), StepIndex: i})
				break
			}
		}
	}
	return out
}

// EvaluateFlowControl folds every completed sequence into one
// SimpleDecision, reported under the generic Restriction initiator (spec
// section 3's InitiatorKind enumerates no flow-specific kind).
func EvaluateFlowControl(rules map[string]config.FlowControlRule, results []FlowResult) action.SimpleDecision {
	decision := action.Pass()
	for _, res := range results {
		if !res.Completed {
			continue
		}
		rule, ok := rules[res.RuleID]
		if !ok {
			continue
		}
		reasons := []action.BlockReason{{
			Initiator: action.InitiatorRestriction,
			Level:     levelOf(rule.Action.Kind),
			Locations: reqmodel.NewLocationSet(reqmodel.LIP()),
			Extra:     map[string]any{"rule": rule.ID, "key": res.Key},
		}}
		decision = action.StrongerDecision(decision, action.SimpleDecision{Action: rule.Action, Reasons: reasons})
	}
	return decision
}
