package matcher

import (
	"net/netip"

	"golang.org/x/text/cases"

	"github.com/curiefense/curiefense-go/internal/reqmodel"
)

var fold = cases.Fold()

// matchesFolded is SingleEntry.matches with both sides of the exact compare
// case-folded, for country/region/subregion entries.
func matchesFolded(s SingleEntry, v string) bool {
	return fold.String(s.Exact) == fold.String(v) || (s.Re != nil && s.Re.MatchString(v))
}

// CheckRule evaluates a rule tree against a request and its tags (spec
// section 4.1). And requires every sub-rule to match and unions their
// locations; Or returns the first matching sub-rule's locations and
// short-circuits.
func CheckRule(rule GlobalFilterRule, r *reqmodel.Request, tags *reqmodel.Tags) MatchResult {
	if !rule.IsRelation {
		return CheckEntry(rule.Entry, r, tags)
	}
	switch rule.Relation {
	case And:
		matched := reqmodel.LocationSet{}
		for _, sub := range rule.Rules {
			res := CheckRule(sub, r, tags)
			if !res.Matching {
				return noMatch()
			}
			matched = matched.Union(res.Matched)
		}
		return MatchResult{Matched: matched, Matching: true}
	case Or:
		for _, sub := range rule.Rules {
			res := CheckRule(sub, r, tags)
			if res.Matching {
				return res
			}
		}
		return noMatch()
	default:
		return noMatch()
	}
}

// CheckEntry evaluates a single atomic entry. A nil test result (the
// attribute didn't match, or was absent) combined with Negated=true matches
// with an empty location set, per spec section 4.1.
func CheckEntry(e GlobalFilterEntry, r *reqmodel.Request, tags *reqmodel.Tags) MatchResult {
	locs, matched := testEntry(e, r, tags)
	if matched {
		return MatchResult{Matched: locs, Matching: !e.Negated}
	}
	return MatchResult{Matched: reqmodel.LocationSet{}, Matching: e.Negated}
}

// testEntry returns (locations, true) when the underlying attribute test
// matched, regardless of negation - CheckEntry applies negation afterwards.
func testEntry(e GlobalFilterEntry, r *reqmodel.Request, tags *reqmodel.Tags) (reqmodel.LocationSet, bool) {
	switch e.Kind {
	case EAlways:
		if !e.Always {
			return nil, false
		}
		return reqmodel.NewLocationSet(reqmodel.LRequest()), true

	case EIP:
		ip, err := netip.ParseAddr(r.IP)
		if err != nil {
			return nil, false
		}
		if ip == e.IP {
			return reqmodel.NewLocationSet(reqmodel.LIP()), true
		}
		return nil, false

	case ENetwork:
		ip, err := netip.ParseAddr(r.IP)
		if err != nil {
			return nil, false
		}
		if e.Network.Contains(ip) {
			return reqmodel.NewLocationSet(reqmodel.LIP()), true
		}
		return nil, false

	case EPath:
		if e.Single.matches(r.Path) {
			return reqmodel.NewLocationSet(reqmodel.LPath()), true
		}
		return nil, false

	case EQuery:
		// Open question (SPEC_FULL.md): preserved as observed, compares
		// against the decoded path rather than the raw query string.
		if e.Single.matches(r.Path) {
			return reqmodel.NewLocationSet(reqmodel.LPath()), true
		}
		return nil, false

	case EURI:
		if e.Single.matches(r.URI) {
			return reqmodel.NewLocationSet(reqmodel.LURI()), true
		}
		return nil, false

	case ECountry:
		if r.Geo.CountryISO == nil {
			return nil, false
		}
		if matchesFolded(e.Single, *r.Geo.CountryISO) {
			return reqmodel.NewLocationSet(reqmodel.LIP()), true
		}
		return nil, false

	case ERegion:
		if r.Geo.Region == nil {
			return nil, false
		}
		if matchesFolded(e.Single, *r.Geo.Region) {
			return reqmodel.NewLocationSet(reqmodel.LIP()), true
		}
		return nil, false

	case ESubRegion:
		if r.Geo.SubRegion == nil {
			return nil, false
		}
		if matchesFolded(e.Single, *r.Geo.SubRegion) {
			return reqmodel.NewLocationSet(reqmodel.LIP()), true
		}
		return nil, false

	case EMethod:
		if e.Single.matches(r.Method) {
			return reqmodel.NewLocationSet(reqmodel.LRequest()), true
		}
		return nil, false

	case EHeader:
		v, ok := r.Headers[e.Pair.Key]
		if !ok || !e.Pair.matches(v) {
			return nil, false
		}
		return reqmodel.NewLocationSet(reqmodel.LHeaderValue(e.Pair.Key, v)), true

	case EPlugin:
		v, ok := r.Plugins[e.Pair.Key]
		if !ok || !e.Pair.matches(v) {
			return nil, false
		}
		return reqmodel.NewLocationSet(reqmodel.LPluginValue(e.Pair.Key, v)), true

	case EArg:
		v, ok := r.Args.Get(e.Pair.Key)
		if !ok || !e.Pair.matches(v) {
			return nil, false
		}
		return reqmodel.NewLocationSet(reqmodel.LUriArgumentValue(e.Pair.Key, v)), true

	case ECookie:
		v, ok := r.Cookies[e.Pair.Key]
		if !ok || !e.Pair.matches(v) {
			return nil, false
		}
		return reqmodel.NewLocationSet(reqmodel.LCookieValue(e.Pair.Key, v)), true

	case EASN:
		if r.Geo.ASN == nil || *r.Geo.ASN != e.ASN {
			return nil, false
		}
		return reqmodel.NewLocationSet(reqmodel.LIP()), true

	case ECompany:
		if r.Geo.Company == nil || !e.Single.matches(*r.Geo.Company) {
			return nil, false
		}
		return reqmodel.NewLocationSet(reqmodel.LIP()), true

	case EAuthority:
		if e.Single.matches(r.Host) {
			return reqmodel.NewLocationSet(reqmodel.LRequest()), true
		}
		return nil, false

	case ETag:
		locs, ok := tags.Get(e.Tag)
		if !ok {
			return nil, false
		}
		return locs, true

	case ESecurityPolicyID:
		if r.Policy.ID != e.PolicyID {
			return nil, false
		}
		return reqmodel.NewLocationSet(reqmodel.LRequest()), true

	case ESecurityPolicyEntryID:
		if r.Policy.EntryID != e.PolicyEntryID {
			return nil, false
		}
		return reqmodel.NewLocationSet(reqmodel.LRequest()), true

	default:
		return nil, false
	}
}
