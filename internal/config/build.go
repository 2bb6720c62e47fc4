package config

import (
	"fmt"

	"github.com/curiefense/curiefense-go/internal/logging"
	"github.com/curiefense/curiefense-go/internal/matcher"
)

// buildSnapshot turns a decoded RawDocument into a Snapshot, compiling
// every regex and parsing every template once (spec section 5). Per spec
// section 7 kind 4 ("regex compile failure at config load - action
// rejected, logged at error level, configuration continues"), a rule that
// fails to build is dropped and logged rather than aborting the whole
// load.
func buildSnapshot(doc RawDocument) (*Snapshot, error) {
	snap := &Snapshot{
		Revision:       doc.Revision,
		ACLProfiles:    make(map[string]ACLProfile),
		ContentFilters: make(map[string]ContentFilterProfile),
		RateLimits:     make(map[string]RateLimitRule),
		FlowControls:   make(map[string]FlowControlRule),
		VirtualTags:    doc.VirtualTags,
	}

	for _, rp := range doc.Policies {
		p := SecurityPolicy{
			ID: rp.ID, EntryID: rp.EntryID, Match: rp.Match, Tags: rp.Tags,
			ACLActive: rp.ACLActive, ACLProfileID: rp.ACLProfile,
			ContentFilterActive: rp.ContentFilterActive, ContentFilterID: rp.ContentFilterProfile,
			RateLimitRuleIDs: rp.RateLimitRuleIDs, FlowControlRuleIDs: rp.FlowControlRuleIDs,
		}
		snap.Policies = append(snap.Policies, p)
		if rp.ID == doc.DefaultPolicyID {
			cp := p
			snap.DefaultPolicy = &cp
		}
	}
	if snap.DefaultPolicy == nil && len(snap.Policies) > 0 {
		snap.DefaultPolicy = &snap.Policies[0]
	}

	for _, rs := range doc.GlobalFilters {
		rule, err := buildRule(rs.Rule)
		if err != nil {
			logging.Error("dropping global filter section: bad rule", "id", rs.ID, "error", err)
			continue
		}
		rule = matcher.OptimizeIPRanges(rule)
		act, err := buildAction(rs.Action)
		if err != nil {
			logging.Error("dropping global filter section: bad action", "id", rs.ID, "error", err)
			continue
		}
		snap.GlobalFilters = append(snap.GlobalFilters, GlobalFilterSection{
			ID: rs.ID, Name: rs.Name, Rule: rule, Tags: rs.Tags, Action: act,
		})
	}

	for _, ra := range doc.ACLProfiles {
		denyAction, err := buildActionValue(ra.DenyAction)
		if err != nil {
			logging.Error("dropping acl profile: bad deny action", "id", ra.ID, "error", err)
			continue
		}
		snap.ACLProfiles[ra.ID] = ACLProfile{
			ID: ra.ID, Name: ra.Name,
			Bypass: ra.Bypass, ForceDeny: ra.ForceDeny,
			Allow: ra.Allow, AllowBot: ra.AllowBot,
			Deny: ra.Deny, DenyBot: ra.DenyBot,
			DenyAction: denyAction,
		}
	}

	for _, rc := range doc.ContentFilters {
		prof := ContentFilterProfile{
			ID: rc.ID, Name: rc.Name,
			ReportThreshold: rc.ReportThreshold, BlockThreshold: rc.BlockThreshold,
		}
		var err error
		if prof.MonitorAction, err = buildActionValue(rc.MonitorAction); err != nil {
			logging.Error("dropping content filter profile: bad monitor action", "id", rc.ID, "error", err)
			continue
		}
		if prof.BlockAction, err = buildActionValue(rc.BlockAction); err != nil {
			logging.Error("dropping content filter profile: bad block action", "id", rc.ID, "error", err)
			continue
		}
		for _, rr := range rc.Rules {
			rule, err := buildRule(rr.Rule)
			if err != nil {
				logging.Error("dropping content filter rule: bad rule", "profile", rc.ID, "id", rr.ID, "error", err)
				continue
			}
			rule = matcher.OptimizeIPRanges(rule)
			prof.Rules = append(prof.Rules, ContentFilterRule{ID: rr.ID, Rule: rule, RiskLevel: rr.RiskLevel, Tags: rr.Tags})
		}
		snap.ContentFilters[rc.ID] = prof
	}

	for _, rl := range doc.RateLimits {
		rule, err := buildRule(rl.Rule)
		if err != nil {
			logging.Error("dropping rate limit rule: bad rule", "id", rl.ID, "error", err)
			continue
		}
		rule = matcher.OptimizeIPRanges(rule)
		act, err := buildActionValue(rl.Action)
		if err != nil {
			logging.Error("dropping rate limit rule: bad action", "id", rl.ID, "error", err)
			continue
		}
		keys, err := buildSelectors(rl.KeyBy)
		if err != nil {
			logging.Error("dropping rate limit rule: bad key_by", "id", rl.ID, "error", err)
			continue
		}
		snap.RateLimits[rl.ID] = RateLimitRule{
			ID: rl.ID, Name: rl.Name, Rule: rule, KeyBy: keys,
			Threshold: rl.Threshold, Window: windowOf(rl.WindowSeconds), Action: act,
		}
	}

	for _, fc := range doc.FlowControls {
		keys, err := buildSelectors(fc.KeyBy)
		if err != nil {
			logging.Error("dropping flow control rule: bad key_by", "id", fc.ID, "error", err)
			continue
		}
		act, err := buildActionValue(fc.Action)
		if err != nil {
			logging.Error("dropping flow control rule: bad action", "id", fc.ID, "error", err)
			continue
		}
		var steps []FlowStep
		ok := true
		for _, rs := range fc.Steps {
			rule, err := buildRule(rs.Rule)
			if err != nil {
				logging.Error("dropping flow control rule: bad step", "id", fc.ID, "error", err)
				ok = false
				break
			}
			rule = matcher.OptimizeIPRanges(rule)
			steps = append(steps, FlowStep{Rule: rule})
		}
		if !ok || len(steps) == 0 {
			continue
		}
		snap.FlowControls[fc.ID] = FlowControlRule{
			ID: fc.ID, Name: fc.Name, Steps: steps, KeyBy: keys,
			Window: windowOf(fc.WindowSeconds), Action: act,
		}
	}

	if len(snap.Policies) == 0 {
		return nil, fmt.Errorf("config: no security policies defined")
	}
	return snap, nil
}
