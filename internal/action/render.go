package action

import "github.com/curiefense/curiefense-go/internal/reqmodel"

// RenderAction renders a SimpleAction's header templates and maps its
// pre-render SimpleKind down to the final three-valued Kind (spec section
// 3). Challenge and Fingerprint must already be resolved by the time this
// is called (internal/evaluators resolves Challenge via the grasshopper
// oracle, internal/identity's VisitorOracle resolves Fingerprint) - an
// unresolved Challenge or Fingerprint reaching here is treated fail-closed,
// matching spec section 8's invariant that an unresolved Challenge is
// blocking.
func RenderAction(sa SimpleAction, r *reqmodel.Request, tags *reqmodel.Tags) Action {
	headers := make(map[string]string, len(sa.Headers))
	for k, tmpl := range sa.Headers {
		headers[k] = reqmodel.Render(tmpl, r, tags)
	}

	var kind Kind
	var blocking bool
	switch sa.Kind {
	case SKSkip:
		kind, blocking = KindSkip, false
	case SKMonitor, SKIdentity:
		kind, blocking = KindMonitor, false
	default: // SKCustom, SKFingerprintBlock, and unresolved SKChallenge/SKFingerprint
		kind, blocking = KindBlock, true
	}

	return Action{
		Kind: kind, Blocking: blocking, Status: sa.Status,
		Headers: headers, Body: sa.Content, ExtraTags: sa.ExtraTags,
	}
}
