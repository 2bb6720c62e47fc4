package reqmodel

import (
	"encoding/json"
	"strconv"
)

// SelectorKind names the request attribute a RequestSelector resolves
// against (spec section 4.5: "Var(Selector(sel))").
type SelectorKind int

const (
	SelIP SelectorKind = iota
	SelMethod
	SelAuthority
	SelPath
	SelURI
	SelQuery
	SelCountry
	SelRegion
	SelSubRegion
	SelCompany
	SelASN
	SelSecurityPolicyID
	SelSecurityPolicyEntryID
	SelHeader
	SelCookie
	SelArg
	SelPlugin
	SelTagsJSON
)

// Selector is a closed sum type: Kind plus, for the *-keyed variants
// (Header/Cookie/Arg/Plugin), the key to look up.
type Selector struct {
	Kind SelectorKind
	Key  string
}

// Selected is the Go stand-in for spec's `None | OStr | Str | U32`: Present
// is false for None; U32-typed values are stringified into Value, which is
// sufficient since every consumer (rendering, hashing) only ever needs the
// string form.
type Selected struct {
	Present bool
	Value   string
}

func none() Selected   { return Selected{} }
func some(v string) Selected {
	return Selected{Present: true, Value: v}
}

// Resolve evaluates a selector against a request and its accumulated tags.
func Resolve(sel Selector, r *Request, tags *Tags) Selected {
	switch sel.Kind {
	case SelIP:
		if r.IP == "" {
			return none()
		}
		return some(r.IP)
	case SelMethod:
		return some(r.Method)
	case SelAuthority:
		return some(r.Host)
	case SelPath:
		return some(r.Path)
	case SelURI:
		return some(r.URI)
	case SelQuery:
		return some(r.Path) // preserved open question: compares against qpath, see SPEC_FULL.md
	case SelCountry:
		if r.Geo.CountryISO == nil {
			return none()
		}
		return some(*r.Geo.CountryISO)
	case SelRegion:
		if r.Geo.Region == nil {
			return none()
		}
		return some(*r.Geo.Region)
	case SelSubRegion:
		if r.Geo.SubRegion == nil {
			return none()
		}
		return some(*r.Geo.SubRegion)
	case SelCompany:
		if r.Geo.Company == nil {
			return none()
		}
		return some(*r.Geo.Company)
	case SelASN:
		if r.Geo.ASN == nil {
			return none()
		}
		return some(strconv.FormatUint(uint64(*r.Geo.ASN), 10))
	case SelSecurityPolicyID:
		return some(r.Policy.ID)
	case SelSecurityPolicyEntryID:
		return some(r.Policy.EntryID)
	case SelHeader:
		v, ok := r.Headers[sel.Key]
		if !ok {
			return none()
		}
		return some(v)
	case SelCookie:
		v, ok := r.Cookies[sel.Key]
		if !ok {
			return none()
		}
		return some(v)
	case SelArg:
		v, ok := r.Args.Get(sel.Key)
		if !ok {
			return none()
		}
		return some(v)
	case SelPlugin:
		v, ok := r.Plugins[sel.Key]
		if !ok {
			return none()
		}
		return some(v)
	case SelTagsJSON:
		if tags == nil {
			return some("[]")
		}
		b, err := json.Marshal(tags.Names())
		if err != nil {
			return none()
		}
		return some(string(b))
	default:
		return none()
	}
}
