// Package tagger implements the Tagger (spec section 4.3, C3): seeding the
// request's tag set, evaluating each configured global filter section in
// order, and folding the matched sections' actions into one running
// SimpleDecision.
package tagger

import (
	"strconv"

	"github.com/curiefense/curiefense-go/internal/action"
	"github.com/curiefense/curiefense-go/internal/config"
	"github.com/curiefense/curiefense-go/internal/identity"
	"github.com/curiefense/curiefense-go/internal/matcher"
	"github.com/curiefense/curiefense-go/internal/reqmodel"
)

// Stats reports how many global filter sections matched plus the
// config-derived counts the log record's security_config block needs (spec
// section 4.8). The orchestrator fills in the fields below SectionsMatched
// once the security policy and content-filter profile are resolved; the
// tagger itself only ever sets SectionsEvaluated/SectionsMatched.
type Stats struct {
	SectionsEvaluated int
	SectionsMatched   int

	ProcessingStage        string
	Revision               string
	ACLActive              bool
	ContentFilterActive    bool
	ContentFilterRuleCount int
	RateLimitRuleCount     int
}

// Tag runs the full tagging pass (spec section 4.3) and returns the
// accumulated tags, the folded SimpleDecision, and match stats.
func Tag(isHuman bool, sections []config.GlobalFilterSection, r *reqmodel.Request, vtags reqmodel.VirtualTags) (*reqmodel.Tags, action.SimpleDecision, Stats) {
	tags := seed(isHuman, r, vtags)

	decision := action.Pass()
	stats := Stats{SectionsEvaluated: len(sections)}
	monitorHeaders := map[string]string{}
	var reasons []action.BlockReason

	for _, section := range sections {
		res := matcher.CheckRule(section.Rule, r, tags)
		if !res.Matching {
			continue
		}
		stats.SectionsMatched++

		for _, tagName := range section.Tags {
			tags.InsertWithLocations(tagName, res.Matched)
		}

		if section.Action == nil {
			continue
		}

		reasons = append(reasons, action.BlockReason{
			Initiator: action.InitiatorGlobalFilter,
			Locations: res.Matched,
			Level:     reasonLevel(section.Action.Kind),
			Extra:     map[string]any{"id": section.ID, "name": section.Name},
		})
		sectionDecision := action.SimpleDecision{Action: *section.Action}

		switch section.Action.Kind {
		case action.SKMonitor:
			for k, tmpl := range section.Action.Headers {
				monitorHeaders[k] = reqmodel.Render(tmpl, r, tags)
			}
		case action.SKIdentity:
			for target, tmpl := range section.Action.Headers {
				hash := identity.Hash(tmpl, r, tags)
				monitorHeaders[target] = hash
				r.Identity[target] = hash
			}
		}

		// stronger_decision (spec section 4.3) only picks the winning
		// action by priority; every matching section's reason is kept
		// regardless of which action ultimately wins (seed scenario 2:
		// two matching sections, final action Custom, reasons length 2).
		decision = action.StrongerDecision(decision, sectionDecision)
	}
	decision.Reasons = reasons

	if !decision.IsPass && (decision.Action.Kind == action.SKMonitor || decision.Action.Kind == action.SKIdentity) {
		headers := make(map[string]reqmodel.RequestTemplate, len(monitorHeaders))
		for k, v := range monitorHeaders {
			headers[k] = reqmodel.Literal(v)
		}
		decision.Action.Headers = headers
	}

	return tags, decision, stats
}

// reasonLevel derives a BlockReason's level from the section action's
// kind - used for the log record's trigger_counters breakdown (set before
// the finish step's challenge/fingerprint resolution may still change the
// ultimate blocking outcome), and a Skip level makes the decision final
// (SimpleDecision.IsFinal).
func reasonLevel(kind action.SimpleKind) action.ReasonLevel {
	switch kind {
	case action.SKSkip:
		return action.ReasonSkip
	case action.SKMonitor, action.SKIdentity:
		return action.ReasonMonitor
	default:
		return action.ReasonBlocking
	}
}

func seed(isHuman bool, r *reqmodel.Request, vtags reqmodel.VirtualTags) *reqmodel.Tags {
	tags := reqmodel.NewTags(vtags)

	if isHuman {
		tags.Insert("human", reqmodel.LRequest())
	} else {
		tags.Insert("bot", reqmodel.LRequest())
	}

	tags.InsertQualified("headers", strconv.Itoa(len(r.Headers)), reqmodel.LHeaders())
	tags.InsertQualified("cookies", strconv.Itoa(len(r.Cookies)), reqmodel.LCookies())
	tags.InsertQualified("args", strconv.Itoa(r.Args.Len()), reqmodel.LURI())
	tags.InsertQualified("host", r.Host, reqmodel.LRequest())
	tags.InsertQualified("ip", r.IP, reqmodel.LIP())

	g := r.Geo
	qualify := func(name string, v *string) {
		if v != nil {
			tags.InsertQualified(name, *v, reqmodel.LIP())
		}
	}
	qualify("continent-name", g.ContinentName)
	qualify("continent-code", g.ContinentCode)
	qualify("city", g.CityName)
	qualify("org", g.Company)
	qualify("country", g.CountryISO)
	qualify("region", g.Region)
	qualify("subregion", g.SubRegion)
	qualify("network", g.Network)
	if g.ASN != nil {
		tags.InsertQualified("asn", strconv.FormatUint(uint64(*g.ASN), 10), reqmodel.LIP())
	}

	anon := func(name string, flag *bool) {
		if flag != nil && *flag {
			tags.Insert(name, reqmodel.LIP())
		}
	}
	anon("proxy", g.IsProxy)
	anon("tor", g.IsTor)
	anon("vpn", g.IsVPN)
	anon("relay", g.IsRelay)
	anon("hosting", g.IsHosting)
	anon("satellite", g.IsSatellite)
	anon("mobile", g.IsMobile)

	for _, t := range r.Policy.Tags {
		tags.Insert(t, reqmodel.LRequest())
	}

	return tags
}
