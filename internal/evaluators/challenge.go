package evaluators

import (
	"github.com/curiefense/curiefense-go/internal/action"
	"github.com/curiefense/curiefense-go/internal/reqmodel"
)

const (
	headerChallengeJSApp = "x-challenge-js-app"
	headerChallengeJSBio = "x-challenge-js-bio"
	headerSetCookie      = "set-cookie"
	cookieRBZID          = "rbzid"
	headerWorkproofSeed  = "x-reblaze-seed"
	headerWorkproof      = "x-reblaze-workproof"
)

// ResolveChallenge implements spec section 4.7's Challenge resolution: a
// request already carrying a valid rbzid cookie, or a verified workproof
// response, passes as a non-blocking Monitor; otherwise the oracle is
// asked for a fresh JS challenge, emitted as Monitor response headers; if
// the oracle has nothing to offer, the section's own configured response
// becomes a default block.
func ResolveChallenge(oracle Grasshopper, r *reqmodel.Request, sa action.SimpleAction) action.SimpleAction {
	if oracle == nil {
		return defaultBlock(sa)
	}

	ua := r.Headers["user-agent"]

	if cookie, ok := r.Cookies[cookieRBZID]; ok && oracle.ParseRBZID(cookie, ua) {
		return action.SimpleAction{Kind: action.SKMonitor}
	}
	if seed, ok := r.Headers[headerWorkproofSeed]; ok {
		if proof, ok2 := r.Headers[headerWorkproof]; ok2 && oracle.VerifyWorkproof(seed, proof) {
			return action.SimpleAction{Kind: action.SKMonitor}
		}
	}

	jsApp, jsBio := oracle.JSApp(), oracle.JSBio()
	if jsApp == "" && jsBio == "" {
		return defaultBlock(sa)
	}

	seed := oracle.GenNewSeed(ua)
	return action.SimpleAction{
		Kind: action.SKMonitor,
		Headers: map[string]reqmodel.RequestTemplate{
			headerChallengeJSApp: reqmodel.Literal(jsApp),
			headerChallengeJSBio: reqmodel.Literal(jsBio),
			headerSetCookie:      reqmodel.Literal(cookieRBZID + "=" + seed),
		},
	}
}

// defaultBlock is an unresolved Challenge's fallback: the section's own
// configured status/body, reclassified as a blocking Custom response
// (spec section 8: "is_blocking ↔ kind ∈ {Block, Custom, FingerprintBlock,
// Challenge-unresolved}").
func defaultBlock(sa action.SimpleAction) action.SimpleAction {
	return action.SimpleAction{
		Kind: action.SKCustom, Status: sa.Status, Content: sa.Content,
		Headers: sa.Headers, ExtraTags: sa.ExtraTags,
	}
}
