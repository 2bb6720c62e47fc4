// Package orchestrator implements the Flow & Limit Orchestrator (spec
// section 4.6, C6): the three-phase state machine the embedder drives
// around its own external I/O (flow-sequence lookups, rate-limit counter
// increments), plus the finish step that merges every independent verdict
// into one Decision.
package orchestrator

import (
	"context"

	"github.com/curiefense/curiefense-go/internal/action"
	"github.com/curiefense/curiefense-go/internal/config"
	"github.com/curiefense/curiefense-go/internal/evaluators"
	"github.com/curiefense/curiefense-go/internal/identity"
	"github.com/curiefense/curiefense-go/internal/reqmodel"
	"github.com/curiefense/curiefense-go/internal/tagger"
)

// InspectionResult is what the third phase (or an earlier short-circuit)
// produces (spec section 6): the final Decision plus everything the log
// serializer (C8) needs.
type InspectionResult struct {
	Decision action.Decision
	Tags     *reqmodel.Tags
	Request  *reqmodel.Request
	Stats    tagger.Stats
	Logs     *reqmodel.Logs
}

// carried is the state threaded through all three phases - the Go stand-in
// for the Rust state machine's shared fields, held by value by whichever
// phase struct (P1/P2I/P3) currently owns it.
type carried struct {
	cfg      *config.Snapshot
	policy   *config.SecurityPolicy
	req      *reqmodel.Request
	tags     *reqmodel.Tags
	stats    tagger.Stats
	logs     *reqmodel.Logs
	gh       evaluators.Grasshopper
	visitor  identity.VisitorOracle
	tagging  action.SimpleDecision // tagging decision, folded with the flow-control verdict once flows() runs
}

// P1 is the post-tagging state (spec section 3): awaiting flow results.
type P1 struct {
	carried
	FlowQueries []evaluators.FlowQuery
}

// P2I is the post-flow state: awaiting rate-limit results.
type P2I struct {
	carried
	LimitQueries []evaluators.LimitQuery
}

// InspectInit runs the Tagger and packages the flow queries the embedder
// must resolve next (spec section 4.6 operation 1). cfg and policy must
// already reflect the resolved security policy for this request (hostname
// or secpolid lookup happens in the embedding layer, spec section 6).
// Returns a non-nil InspectionResult when tagging alone already finalizes
// the request (a Skip reason or a Skip action); otherwise returns a non-nil
// P1, even when the policy has no flow-control rules.
func InspectInit(cfg *config.Snapshot, policy *config.SecurityPolicy, isHuman bool, req *reqmodel.Request, gh evaluators.Grasshopper, visitor identity.VisitorOracle, logs *reqmodel.Logs) (*InspectionResult, *P1) {
	tags, decision, stats := tagger.Tag(isHuman, cfg.GlobalFilters, req, cfg.VirtualTags)

	c := carried{cfg: cfg, policy: policy, req: req, tags: tags, stats: stats, logs: logs, gh: gh, visitor: visitor, tagging: decision}

	if decision.IsFinal() {
		return finish(context.Background(), c, "tagging", decision, action.Pass(), action.Pass(), action.Pass()), nil
	}

	var ids []string
	if policy != nil {
		ids = policy.FlowControlRuleIDs
	}
	queries := evaluators.BuildFlowQueries(cfg.FlowControls, ids, req, tags)
	return nil, &P1{carried: c, FlowQueries: queries}
}

// InspectFlows folds the embedder's flow results into the tagging decision
// and packages the rate-limit queries (spec section 4.6 operation 2).
func InspectFlows(p1 *P1, flowResults []evaluators.FlowResult) (*InspectionResult, *P2I) {
	flowDecision := evaluators.EvaluateFlowControl(p1.cfg.FlowControls, flowResults)
	combined := action.StrongerDecision(p1.tagging, flowDecision)

	c := p1.carried
	c.tagging = combined

	if combined.IsFinal() {
		return finish(context.Background(), c, "flows", combined, action.Pass(), action.Pass(), action.Pass()), nil
	}

	var ids []string
	if p1.policy != nil {
		ids = p1.policy.RateLimitRuleIDs
	}
	queries := evaluators.BuildLimitQueries(p1.cfg.RateLimits, ids, p1.req, p1.tags)
	return nil, &P2I{carried: c, LimitQueries: queries}
}

// InspectProcess runs the ACL and content-filter evaluators, folds the
// rate-limit results, and produces the final InspectionResult (spec
// section 4.6 operation 3).
func InspectProcess(p2i *P2I, limitResults []evaluators.LimitResult) *InspectionResult {
	c := p2i.carried

	var acl action.SimpleDecision = action.Pass()
	var cf action.SimpleDecision = action.Pass()
	if c.policy != nil {
		if c.policy.ACLActive {
			profile := lookupACL(c.cfg, c.policy.ACLProfileID)
			acl = evaluators.EvaluateACL(profile, c.tags)
		}
		if c.policy.ContentFilterActive {
			profile := lookupContentFilter(c.cfg, c.policy.ContentFilterID)
			cf = evaluators.EvaluateContentFilter(profile, c.req, c.tags)
		}
	}
	limit := evaluators.EvaluateRateLimit(c.cfg.RateLimits, limitResults)

	return finish(context.Background(), c, "process", c.tagging, acl, cf, limit)
}

// InspectRequest chains all three phases synchronously, for the case where
// the embedder has no external flow/limit lookups to perform (spec section
// 8's phase-pipeline equivalence property).
func InspectRequest(cfg *config.Snapshot, policy *config.SecurityPolicy, isHuman bool, req *reqmodel.Request, gh evaluators.Grasshopper, visitor identity.VisitorOracle, logs *reqmodel.Logs) *InspectionResult {
	if res, p1 := InspectInit(cfg, policy, isHuman, req, gh, visitor, logs); res != nil {
		return res
	} else if res, p2i := InspectFlows(p1, nil); res != nil {
		return res
	} else {
		return InspectProcess(p2i, nil)
	}
}

// finish implements the finish step (spec section 4.6): resolve any
// Challenge/Fingerprint kind still pending in each of the four verdicts,
// render each to a fully-rendered Decision, then reduce pairwise in fixed
// order (a, b, c, d) via merge_decisions.
func finish(ctx context.Context, c carried, stage string, a, b, cf, d action.SimpleDecision) *InspectionResult {
	a = resolvePending(ctx, c, a)
	b = resolvePending(ctx, c, b)
	cf = resolvePending(ctx, c, cf)
	d = resolvePending(ctx, c, d)

	final := action.MergeDecisions(render(a, c.req, c.tags), render(b, c.req, c.tags))
	final = action.MergeDecisions(final, render(cf, c.req, c.tags))
	final = action.MergeDecisions(final, render(d, c.req, c.tags))

	c.stats.ProcessingStage = stage
	c.stats.Revision = c.cfg.Revision
	if c.policy != nil {
		c.stats.ACLActive = c.policy.ACLActive
		c.stats.ContentFilterActive = c.policy.ContentFilterActive
		c.stats.RateLimitRuleCount = len(c.policy.RateLimitRuleIDs)
		if profile := lookupContentFilter(c.cfg, c.policy.ContentFilterID); profile != nil {
			c.stats.ContentFilterRuleCount = len(profile.Rules)
		}
	}

	return &InspectionResult{Decision: final, Tags: c.tags, Request: c.req, Stats: c.stats, Logs: c.logs}
}

// resolvePending resolves a still-unrendered Challenge or Fingerprint
// SimpleAction (spec sections 4.5 and 4.7) before the decision is handed to
// render. Every other kind passes through unchanged.
func resolvePending(ctx context.Context, c carried, d action.SimpleDecision) action.SimpleDecision {
	if d.IsPass {
		return d
	}
	switch d.Action.Kind {
	case action.SKChallenge:
		d.Action = evaluators.ResolveChallenge(c.gh, c.req, d.Action)
		return d
	case action.SKFingerprint:
		if c.visitor.Check(ctx, c.req.Headers["browserfingerid"]) {
			return action.SimpleDecision{IsPass: true, Reasons: d.Reasons}
		}
		d.Action.Kind = action.SKFingerprintBlock
		return d
	default:
		return d
	}
}

func render(d action.SimpleDecision, req *reqmodel.Request, tags *reqmodel.Tags) action.Decision {
	if d.IsPass {
		return action.Decision{IsPass: true, Reasons: d.Reasons}
	}
	return action.Decision{Action: action.RenderAction(d.Action, req, tags), Reasons: d.Reasons}
}

func lookupACL(cfg *config.Snapshot, id string) *config.ACLProfile {
	if id == "" {
		return nil
	}
	if p, ok := cfg.ACLProfiles[id]; ok {
		return &p
	}
	return nil
}

func lookupContentFilter(cfg *config.Snapshot, id string) *config.ContentFilterProfile {
	if id == "" {
		return nil
	}
	if p, ok := cfg.ContentFilters[id]; ok {
		return &p
	}
	return nil
}
