package evaluators

import (
	"github.com/curiefense/curiefense-go/internal/action"
	"github.com/curiefense/curiefense-go/internal/config"
	"github.com/curiefense/curiefense-go/internal/matcher"
	"github.com/curiefense/curiefense-go/internal/reqmodel"
)

// EvaluateContentFilter sums the risk level of every matching rule and
// compares the total against the profile's report/block thresholds (spec
// section 4.7). A profile with a zero threshold never fires at that level,
// matching the natural reading of "threshold" as a configured, opt-in gate.
func EvaluateContentFilter(profile *config.ContentFilterProfile, r *reqmodel.Request, tags *reqmodel.Tags) action.SimpleDecision {
	if profile == nil {
		return action.Pass()
	}

	score := 0
	locs := reqmodel.LocationSet{}
	matchedIDs := make([]string, 0, len(profile.Rules))
	for _, rule := range profile.Rules {
		res := matcher.CheckRule(rule.Rule, r, tags)
		if !res.Matching {
			continue
		}
		score += rule.RiskLevel
		locs = locs.Union(res.Matched)
		matchedIDs = append(matchedIDs, rule.ID)
	}
	if len(matchedIDs) == 0 {
		return action.Pass()
	}

	extra := map[string]any{"score": score, "rules": matchedIDs}
	switch {
	case profile.BlockThreshold > 0 && score >= profile.BlockThreshold:
		return action.SimpleDecision{
			Action:  profile.BlockAction,
			Reasons: []action.BlockReason{{Initiator: action.InitiatorContentFilter, Level: levelOf(profile.BlockAction.Kind), Locations: locs, Extra: extra}},
		}
	case profile.ReportThreshold > 0 && score >= profile.ReportThreshold:
		return action.SimpleDecision{
			Action:  profile.MonitorAction,
			Reasons: []action.BlockReason{{Initiator: action.InitiatorContentFilter, Level: levelOf(profile.MonitorAction.Kind), Locations: locs, Extra: extra}},
		}
	default:
		return action.Pass()
	}
}
