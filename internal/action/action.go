// Package action implements the decision algebra (spec section 4, "Action
// Lattice" / C4): the closed sum types for actions and decisions, the
// priority order over SimpleAction kinds, and the two merge operators
// (stronger_decision, merge_decisions) that combine independent verdicts
// into one.
package action

import (
	"encoding/json"

	"github.com/curiefense/curiefense-go/internal/reqmodel"
)

// Kind is the final, post-render action kind (spec section 3: "Action has:
// kind ∈ {Skip, Monitor, Block}").
type Kind int

const (
	KindSkip Kind = iota
	KindMonitor
	KindBlock
)

func (k Kind) String() string {
	switch k {
	case KindSkip:
		return "skip"
	case KindMonitor:
		return "monitor"
	case KindBlock:
		return "block"
	default:
		return "unknown"
	}
}

// typePriority is the simpler {Skip(9) > Block(6) > Monitor(1)} lattice spec
// section 3 names as "the ActionType lattice used externally" - it governs
// merge_decisions, which operates on fully-rendered Actions.
func (k Kind) typePriority() int {
	switch k {
	case KindSkip:
		return 9
	case KindBlock:
		return 6
	case KindMonitor:
		return 1
	default:
		return 0
	}
}

// SimpleKind is the pre-render action kind a SimpleAction carries (spec
// section 3: "SimpleAction is the pre-rendered form ... kind is one of
// {Skip, Monitor, Custom, Challenge, Identity, Fingerprint,
// FingerprintBlock}").
type SimpleKind int

const (
	SKSkip SimpleKind = iota
	SKMonitor
	SKCustom
	SKChallenge
	SKIdentity
	SKFingerprint
	SKFingerprintBlock
)

func (k SimpleKind) String() string {
	switch k {
	case SKSkip:
		return "skip"
	case SKMonitor:
		return "monitor"
	case SKCustom:
		return "custom"
	case SKChallenge:
		return "challenge"
	case SKIdentity:
		return "identity"
	case SKFingerprint:
		return "fingerprint"
	case SKFingerprintBlock:
		return "fingerprint_block"
	default:
		return "unknown"
	}
}

// Priority is the total order spec section 3 defines: "Fingerprint/
// FingerprintBlock (10) > Skip (9) > Custom (8) > Challenge (6) > Identity
// (2) > Monitor (1)".
func (k SimpleKind) Priority() int {
	switch k {
	case SKFingerprint, SKFingerprintBlock:
		return 10
	case SKSkip:
		return 9
	case SKCustom:
		return 8
	case SKChallenge:
		return 6
	case SKIdentity:
		return 2
	case SKMonitor:
		return 1
	default:
		return 0
	}
}

// IsBlocking reports spec section 8's invariant set: "for any action kind,
// is_blocking ↔ kind ∈ {Block, Custom, FingerprintBlock,
// Challenge-unresolved}". Challenge is only blocking once resolution (spec
// section 4.7) fails to produce a Monitor; callers resolving a Challenge
// track that separately (see internal/evaluators).
func (k SimpleKind) IsBlocking() bool {
	switch k {
	case SKCustom, SKFingerprintBlock:
		return true
	default:
		return false
	}
}

// SimpleAction is the pre-template-rendered verdict a global filter
// section, ACL rule, content filter rule, or rate limit rule produces.
type SimpleAction struct {
	Kind      SimpleKind
	Status    int
	Headers   map[string]reqmodel.RequestTemplate
	Content   string
	ExtraTags []string
}

// Action is the fully-rendered verdict the finish step (C6) produces, ready
// for the log serializer and the embedder's HTTP response.
type Action struct {
	Kind      Kind
	Blocking  bool
	Status    int
	Headers   map[string]string
	Body      string
	ExtraTags []string
}

// InitiatorKind names which subsystem produced a BlockReason (spec section
// 3 / GLOSSARY).
type InitiatorKind int

const (
	InitiatorAcl InitiatorKind = iota
	InitiatorRateLimit
	InitiatorGlobalFilter
	InitiatorContentFilter
	InitiatorRestriction
)

func (k InitiatorKind) String() string {
	switch k {
	case InitiatorAcl:
		return "acl"
	case InitiatorRateLimit:
		return "ratelimit"
	case InitiatorGlobalFilter:
		return "globalfilter"
	case InitiatorContentFilter:
		return "contentfilter"
	case InitiatorRestriction:
		return "restriction"
	default:
		return "unknown"
	}
}

// ReasonLevel is the per-reason decision level spec section 3 names
// (Skip, Monitor, Blocking) - distinct from Kind, since a BlockReason
// records what the *initiator* decided before any lattice merge.
type ReasonLevel int

const (
	ReasonSkip ReasonLevel = iota
	ReasonMonitor
	ReasonBlocking
)

// BlockReason is the (initiator, locations, level, extra) tuple spec
// section 3 defines.
type BlockReason struct {
	Initiator InitiatorKind
	Locations reqmodel.LocationSet
	Level     ReasonLevel
	Extra     map[string]any
}

// IsSkip reports whether this reason carries a Skip level - spec section
// 4.6's finish step: "If a Skip reason is anywhere in reasons, is_final is
// true regardless of action kind."
func (r BlockReason) IsSkip() bool { return r.Level == ReasonSkip }

// SimpleDecision is Pass or a pre-rendered SimpleAction plus its reasons -
// the currency the Tagger (C3) and the ACL/content-filter/rate-limit
// evaluators (C7) operate in, before the finish step renders templates.
type SimpleDecision struct {
	IsPass  bool
	Action  SimpleAction
	Reasons []BlockReason
}

func Pass() SimpleDecision { return SimpleDecision{IsPass: true} }

// StrongerDecision merges two SimpleDecisions (spec section 4.3): "Pass
// loses to any Action; among actions, higher priority wins; ties keep the
// incumbent" - the incumbent is a, the running decision.
func StrongerDecision(a, b SimpleDecision) SimpleDecision {
	if a.IsPass {
		return b
	}
	if b.IsPass {
		return a
	}
	if b.Action.Kind.Priority() > a.Action.Kind.Priority() {
		return b
	}
	return a
}

// IsFinal mirrors Decision.IsFinal at the pre-render level: a Skip reason
// anywhere makes the decision final regardless of the carried action kind
// (spec section 8), which the orchestrator (C6) needs before rendering to
// decide whether to short-circuit a phase transition.
func (d SimpleDecision) IsFinal() bool {
	for _, r := range d.Reasons {
		if r.IsSkip() {
			return true
		}
	}
	return !d.IsPass && d.Action.Kind == SKSkip
}

// Decision is Pass or a fully-rendered Action plus its reasons - the
// currency the finish step (C6) produces and the log serializer (C8)
// consumes.
type Decision struct {
	IsPass  bool
	Action  Action
	Reasons []BlockReason
}

func DecisionPass() Decision { return Decision{IsPass: true} }

// IsFinal reports spec section 8's invariant: "A decision containing a
// Skip reason has is_final = true."
func (d Decision) IsFinal() bool {
	for _, r := range d.Reasons {
		if r.IsSkip() {
			return true
		}
	}
	return !d.IsPass && d.Action.Kind == KindSkip
}

// MergeDecisions merges two fully-rendered Decisions (spec section 4.3,
// "final-level"): priority(merge(d1,d2).action) = max(priority(d1),
// priority(d2)); if the kept decision is Monitor, its headers are unioned
// with the discarded one's; reasons always concatenate as d1 ++ d2
// (spec section 8), independent of which side is kept.
func MergeDecisions(d1, d2 Decision) Decision {
	reasons := make([]BlockReason, 0, len(d1.Reasons)+len(d2.Reasons))
	reasons = append(reasons, d1.Reasons...)
	reasons = append(reasons, d2.Reasons...)

	switch {
	case d1.IsPass && d2.IsPass:
		return Decision{IsPass: true, Reasons: reasons}
	case d1.IsPass:
		return Decision{Action: d2.Action, Reasons: reasons}
	case d2.IsPass:
		return Decision{Action: d1.Action, Reasons: reasons}
	}

	kept, thrown := d1.Action, d2.Action
	if d2.Action.Kind.typePriority() > d1.Action.Kind.typePriority() {
		kept, thrown = d2.Action, d1.Action
	}
	if kept.Kind == KindMonitor {
		kept.Headers = unionHeaders(kept.Headers, thrown.Headers)
	}
	return Decision{Action: kept, Reasons: reasons}
}

func unionHeaders(kept, discarded map[string]string) map[string]string {
	out := make(map[string]string, len(kept)+len(discarded))
	for k, v := range discarded {
		out[k] = v
	}
	for k, v := range kept {
		out[k] = v
	}
	return out
}

// responseBody is the small envelope the Lua binding layer historically
// handed back to the proxy script (SPEC_FULL.md supplemented feature 5,
// grounded on interface/mod.rs's Decision::response_json).
type responseBody struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Content string            `json:"content"`
}

type responseEnvelope struct {
	Action   string        `json:"action"`
	Response *responseBody `json:"response,omitempty"`
}

// ResponseJSON builds the pass/custom_response envelope an embedder expects
// back from a resolved Decision. Spec.md doesn't name a wire transport, but
// this costs nothing to carry and documents the shape.
func (d Decision) ResponseJSON() ([]byte, error) {
	if d.IsPass {
		return json.Marshal(responseEnvelope{Action: "pass"})
	}
	return json.Marshal(responseEnvelope{
		Action: "custom_response",
		Response: &responseBody{
			Status:  d.Action.Status,
			Headers: d.Action.Headers,
			Content: d.Action.Body,
		},
	})
}
