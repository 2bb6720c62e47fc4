// Package matcher evaluates GlobalFilterRule trees against a normalized
// request and its accumulated tags (spec section 4.1). It depends only on
// internal/reqmodel, so it can be reused by the tagger (C3), the ACL/
// content-filter/rate-limit evaluators (C7), and internal/config.
package matcher

import (
	"net/netip"
	"regexp"

	"github.com/curiefense/curiefense-go/internal/reqmodel"
)

// Relation is the boolean combinator over a rule's sub-rules.
type Relation int

const (
	And Relation = iota
	Or
)

// EntryKind names which attribute a GlobalFilterEntry targets (spec section
// 4.1's enumerated entry list).
type EntryKind int

const (
	EAlways EntryKind = iota
	EIP
	ENetwork
	EPath
	EQuery
	EURI
	ECountry
	ERegion
	ESubRegion
	EMethod
	EHeader
	EPlugin
	EArg
	ECookie
	EASN
	ECompany
	EAuthority
	ETag
	ESecurityPolicyID
	ESecurityPolicyEntryID
)

// SingleEntry is an exact-or-regex test against one string value.
type SingleEntry struct {
	Exact string
	Re    *regexp.Regexp
}

// NewSingleEntry compiles the regex variant case-insensitively (spec section
// 4.1: "Regex entries precompile with case-insensitive flag"). An empty
// pattern leaves Re nil, matching on Exact only.
func NewSingleEntry(exact, pattern string) (SingleEntry, error) {
	s := SingleEntry{Exact: exact}
	if pattern == "" {
		return s, nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return SingleEntry{}, err
	}
	s.Re = re
	return s, nil
}

func (s SingleEntry) matches(v string) bool {
	return s.Exact == v || (s.Re != nil && s.Re.MatchString(v))
}

// PairEntry is a key/value test, used for header/cookie/arg/plugin entries.
type PairEntry struct {
	Key   string
	Exact string
	Re    *regexp.Regexp
}

func NewPairEntry(key, exact, pattern string) (PairEntry, error) {
	p := PairEntry{Key: key, Exact: exact}
	if pattern == "" {
		return p, nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return PairEntry{}, err
	}
	p.Re = re
	return p, nil
}

func (p PairEntry) matches(v string) bool {
	return p.Exact == v || (p.Re != nil && p.Re.MatchString(v))
}

// GlobalFilterEntry is one atomic test, always targeting exactly one
// request attribute, with an independent negation flag (spec section 4.1:
// "An entry whose test returns None while negated matches with an empty
// location set").
type GlobalFilterEntry struct {
	Negated bool
	Kind    EntryKind

	Always  bool
	IP      netip.Addr
	Network netip.Prefix

	Single SingleEntry // Path, Query, Uri, Country, Region, SubRegion, Method, Authority, Company
	Pair   PairEntry   // Header, Plugin, Arg, Cookie

	ASN           uint32
	Tag           string
	PolicyID      string
	PolicyEntryID string
}

// GlobalFilterRule is either a Relation over sub-rules or a single entry -
// the closed sum type spec section 4.1 describes as "either a relation
// (And|Or over N sub-rules) or an entry".
type GlobalFilterRule struct {
	IsRelation bool
	Relation   Relation
	Rules      []GlobalFilterRule

	Entry GlobalFilterEntry
}

func Rel(rel Relation, rules ...GlobalFilterRule) GlobalFilterRule {
	return GlobalFilterRule{IsRelation: true, Relation: rel, Rules: rules}
}

func Ent(e GlobalFilterEntry) GlobalFilterRule {
	return GlobalFilterRule{Entry: e}
}

// MatchResult is the outcome of evaluating a rule or entry: whether it
// matched, and if so the locations that caused the match.
type MatchResult struct {
	Matched reqmodel.LocationSet
	Matching bool
}

func noMatch() MatchResult {
	return MatchResult{Matched: reqmodel.LocationSet{}, Matching: false}
}
