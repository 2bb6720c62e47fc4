// Package evaluators implements the ACL, content-filter, and rate-limit /
// flow-control evaluators (spec section 4.7, C7) - pure functions over the
// normalized request and its tags (ACL, content filter) or over externally
// supplied query results (rate limit, flow control) - plus Challenge
// resolution via the grasshopper oracle.
package evaluators

// Grasshopper is the human-verification oracle capability (spec section
// 4.7 / GLOSSARY), supplied by the embedder. It is never constructed by
// this package - tests inject a fixed-verdict double; the reference
// embedder (cmd/) wires nil, so Challenge sections resolve to the
// default block there.
type Grasshopper interface {
	JSApp() string
	JSBio() string
	ParseRBZID(cookie, userAgent string) bool
	GenNewSeed(userAgent string) string
	VerifyWorkproof(seed, proof string) bool
}
