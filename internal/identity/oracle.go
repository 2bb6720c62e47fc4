package identity

import "context"

// VisitorStore is the external key-value store capability consulted first
// when a Fingerprint action fires (spec section 4.5), standing in for the
// out-of-scope "external key-value store client" collaborator (spec
// section 1). Found=false means the token is absent from the store, not an
// error - only a transport failure should return a non-nil error.
type VisitorStore interface {
	Lookup(ctx context.Context, browserFingerID string) (found bool, err error)
}

// VisitorHTTPProvider is the HTTPS visitor-verification fallback consulted
// when the store lookup fails or misses (SPEC_FULL.md supplemented feature
// 4, grounded on the original's fpjs.io-style fallback).
type VisitorHTTPProvider interface {
	Verify(ctx context.Context, browserFingerID string) (verified bool, err error)
}

// VisitorOracle chains the two capabilities behind the fallback order spec
// section 4.5/7 describes: store first, HTTPS provider second. It never
// fails open: when neither confirms the visitor, whether by a miss or
// because both are unreachable, Check reports false and the caller (a
// Fingerprint resolution) escalates to FingerprintBlock per spec section 7
// kind 3.
type VisitorOracle struct {
	Store VisitorStore
	HTTP  VisitorHTTPProvider
}

// Check resolves a Fingerprint action's visitor-id lookup. ok=true means
// the visitor is known/verified (the action should resolve to a
// non-blocking pass); ok=false covers both "genuinely not found" and "both
// providers unreachable" - the caller escalates to FingerprintBlock in
// either case (spec section 4.5: "if both fail, escalate the action kind
// from Fingerprint to FingerprintBlock").
func (o VisitorOracle) Check(ctx context.Context, browserFingerID string) bool {
	if browserFingerID == "" {
		return false
	}
	if o.Store != nil {
		if found, err := o.Store.Lookup(ctx, browserFingerID); err == nil && found {
			return true
		}
	}
	if o.HTTP != nil {
		if verified, err := o.HTTP.Verify(ctx, browserFingerID); err == nil && verified {
			return true
		}
	}
	return false
}
