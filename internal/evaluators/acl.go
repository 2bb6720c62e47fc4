package evaluators

import (
	"github.com/curiefense/curiefense-go/internal/action"
	"github.com/curiefense/curiefense-go/internal/config"
	"github.com/curiefense/curiefense-go/internal/reqmodel"
)

// EvaluateACL applies a tag-based allow/deny profile (spec section 4.7).
// Category precedence, highest first: bypass (unconditional Skip),
// force-deny, then allow/allow-bot (bot-tagged requests only consult
// allow-bot, never allow), then deny/deny-bot, defaulting to Pass.
func EvaluateACL(profile *config.ACLProfile, tags *reqmodel.Tags) action.SimpleDecision {
	if profile == nil {
		return action.Pass()
	}

	if locs, ok := anyTagMatches(tags, profile.Bypass); ok {
		return action.SimpleDecision{
			Action:  action.SimpleAction{Kind: action.SKSkip},
			Reasons: []action.BlockReason{{Initiator: action.InitiatorAcl, Level: action.ReasonSkip, Locations: locs}},
		}
	}
	if locs, ok := anyTagMatches(tags, profile.ForceDeny); ok {
		return denyDecision(profile, locs)
	}

	if tags.Contains("bot") {
		if _, ok := anyTagMatches(tags, profile.AllowBot); ok {
			return action.Pass()
		}
		if locs, ok := anyTagMatches(tags, profile.DenyBot); ok {
			return denyDecision(profile, locs)
		}
	} else if _, ok := anyTagMatches(tags, profile.Allow); ok {
		return action.Pass()
	}

	if locs, ok := anyTagMatches(tags, profile.Deny); ok {
		return denyDecision(profile, locs)
	}
	return action.Pass()
}

func denyDecision(profile *config.ACLProfile, locs reqmodel.LocationSet) action.SimpleDecision {
	return action.SimpleDecision{
		Action:  profile.DenyAction,
		Reasons: []action.BlockReason{{Initiator: action.InitiatorAcl, Level: levelOf(profile.DenyAction.Kind), Locations: locs}},
	}
}

// anyTagMatches reports whether any of names is present on tags, unioning
// the locations of every match found (there is no match-locations semantic
// named for ACL categories in spec section 4.7, so every matching tag's
// locations are kept, mirroring the Matcher's own union-on-match rule).
func anyTagMatches(tags *reqmodel.Tags, names []string) (reqmodel.LocationSet, bool) {
	var out reqmodel.LocationSet
	found := false
	for _, name := range names {
		if locs, ok := tags.Get(name); ok {
			found = true
			if out == nil {
				out = reqmodel.LocationSet{}
			}
			out = out.Union(locs)
		}
	}
	return out, found
}

func levelOf(kind action.SimpleKind) action.ReasonLevel {
	switch kind {
	case action.SKSkip:
		return action.ReasonSkip
	case action.SKMonitor, action.SKIdentity:
		return action.ReasonMonitor
	default:
		return action.ReasonBlocking
	}
}
