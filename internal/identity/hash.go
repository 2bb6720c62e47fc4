// Package identity implements the identity fingerprinter (spec section
// 4.5, C5): hashing a RequestTemplate into a per-header identity value, and
// consulting the external visitor-id oracle a Fingerprint action triggers.
package identity

import (
	"crypto/sha256"
	"fmt"
	"regexp"

	"github.com/curiefense/curiefense-go/internal/reqmodel"
)

// emptyHash is the SHA-256 hex-uppercase digest of the empty string - the
// boundary case spec section 8 calls out directly ("Identity template with
// zero selectors -> hashes the empty string").
const emptyHash = "E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855"

// Hash builds the dotted identity string for one template and returns its
// SHA-256 hex-uppercase digest (spec section 4.5). The algorithm is
// transition-based: a selector's value is only emitted once the *next*
// part produces a different current value (or the template ends), and a
// Raw part is buffered as a regex that filters the next value emitted (the
// value pending at the next transition, or at the final flush) rather than
// being output as literal text - unlike
// reqmodel.Render, which treats Raw as literal output everywhere else.
//
// A zero-part template is special-cased to hash the empty string directly;
// every non-empty template goes through the full transition/flush
// algorithm, which (by construction) always emits a leading "." before its
// first value - see SPEC_FULL.md's "Identity template transition
// semantics" open-question note.
func Hash(tmpl reqmodel.RequestTemplate, r *reqmodel.Request, tags *reqmodel.Tags) string {
	if len(tmpl) == 0 {
		return emptyHash
	}

	var hashItem, regexRule, preRule, curRule string

	for _, part := range tmpl {
		switch part.Kind {
		case reqmodel.TPRaw:
			regexRule += part.Raw
			preRule = curRule
		case reqmodel.TPVar:
			if part.Var.IsTag {
				if tags != nil && tags.Contains(part.Var.TagName) {
					hashItem += "true"
				} else {
					hashItem += "false"
				}
				continue
			}
			preRule = curRule
			sel := reqmodel.Resolve(part.Var.Selector, r, tags)
			if sel.Present {
				curRule = sel.Value
			} else {
				curRule = "None"
			}
		}

		if preRule != curRule {
			hashItem += "." + filterValue(preRule, &regexRule)
		}
	}

	hashItem += "." + filterValue(curRule, &regexRule)

	sum := sha256.Sum256([]byte(hashItem))
	return fmt.Sprintf("%X", sum)
}

// filterValue applies the pending regex buffer (if any) to value, clearing
// the buffer afterwards - mirrors the original's per-emission regex.find,
// falling back to "none" on a non-matching regex and to the raw value when
// no regex is pending.
func filterValue(value string, regexRule *string) string {
	if *regexRule == "" {
		return value
	}
	re, err := regexp.Compile(*regexRule)
	*regexRule = ""
	if err != nil {
		return "none"
	}
	m := re.FindString(value)
	if m == "" && !re.MatchString(value) {
		return "none"
	}
	return m
}
