package reqmodel

import "strings"

// TVar is the variable half of a TemplatePart: either a tag presence test
// or a selector lookup (spec section 4.5).
type TVar struct {
	IsTag    bool
	TagName  string
	Selector Selector
}

// TemplatePartKind distinguishes literal text from a variable reference.
type TemplatePartKind int

const (
	TPRaw TemplatePartKind = iota
	TPVar
)

type TemplatePart struct {
	Kind TemplatePartKind
	Raw  string
	Var  TVar
}

// Literal wraps a plain string as a single-part Raw template - used when a
// value has already been computed (a rendered Monitor header, an identity
// hash) but still needs to flow through the same SimpleAction.Headers
// shape as a parsed template.
func Literal(s string) RequestTemplate {
	return RequestTemplate{{Kind: TPRaw, Raw: s}}
}

// RequestTemplate is an ordered list of parts (spec section 4.5: "An
// ordered list of parts: Raw(s), Var(Tag(name)), Var(Selector(sel))").
type RequestTemplate []TemplatePart

// ParseRequestTemplate parses `{{...}}`-delimited variable references out of
// raw template text. Recognized variable forms:
//
//	{{tag:NAME}}              -> Var(Tag(NAME))
//	{{ip}} {{method}} ...     -> Var(Selector(...)) for the no-argument selectors
//	{{header:NAME}}           -> Var(Selector(Header(NAME))), and similarly
//	{{cookie:NAME}} {{arg:NAME}} {{plugin:NAME}}
//
// Unrecognized `{{...}}` contents are kept as literal Raw text (including
// the braces), so a misconfigured template degrades to printing itself
// rather than erroring - configuration decode errors are handled at a
// higher layer (spec section 7, kind 4).
func ParseRequestTemplate(raw string) RequestTemplate {
	var out RequestTemplate
	var lit strings.Builder
	flushLit := func() {
		if lit.Len() > 0 {
			out = append(out, TemplatePart{Kind: TPRaw, Raw: lit.String()})
			lit.Reset()
		}
	}

	i := 0
	for i < len(raw) {
		start := strings.Index(raw[i:], "{{")
		if start == -1 {
			lit.WriteString(raw[i:])
			break
		}
		lit.WriteString(raw[i : i+start])
		rest := raw[i+start+2:]
		end := strings.Index(rest, "}}")
		if end == -1 {
			lit.WriteString(raw[i+start:])
			break
		}
		token := strings.TrimSpace(rest[:end])
		if v, ok := parseToken(token); ok {
			flushLit()
			out = append(out, TemplatePart{Kind: TPVar, Var: v})
		} else {
			lit.WriteString("{{" + token + "}}")
		}
		i = i + start + 2 + end + 2
	}
	flushLit()
	return out
}

func parseToken(token string) (TVar, bool) {
	name, key, hasKey := strings.Cut(token, ":")
	if name == "tag" && hasKey {
		return TVar{IsTag: true, TagName: key}, true
	}
	kinds := map[string]SelectorKind{
		"ip": SelIP, "method": SelMethod, "authority": SelAuthority,
		"path": SelPath, "uri": SelURI, "query": SelQuery,
		"country": SelCountry, "region": SelRegion, "subregion": SelSubRegion,
		"company": SelCompany, "asn": SelASN,
		"secpolid": SelSecurityPolicyID, "secpolentryid": SelSecurityPolicyEntryID,
		"tags": SelTagsJSON,
	}
	keyed := map[string]SelectorKind{
		"header": SelHeader, "cookie": SelCookie, "arg": SelArg, "plugin": SelPlugin,
	}
	if hasKey {
		if k, ok := keyed[name]; ok {
			return TVar{Selector: Selector{Kind: k, Key: key}}, true
		}
		return TVar{}, false
	}
	if k, ok := kinds[name]; ok {
		return TVar{Selector: Selector{Kind: k}}, true
	}
	return TVar{}, false
}

// Render renders a template against a request and its tags, treating every
// Raw part as literal output text - the semantics used everywhere except
// the identity-hash computation in internal/identity, which interprets Raw
// parts as regex filters instead (spec section 4.5).
func Render(tmpl RequestTemplate, r *Request, tags *Tags) string {
	var out strings.Builder
	for _, p := range tmpl {
		switch p.Kind {
		case TPRaw:
			out.WriteString(p.Raw)
		case TPVar:
			if p.Var.IsTag {
				if tags != nil && tags.Contains(p.Var.TagName) {
					out.WriteString("true")
				} else {
					out.WriteString("false")
				}
				continue
			}
			sel := Resolve(p.Var.Selector, r, tags)
			if sel.Present {
				out.WriteString(sel.Value)
			} else {
				out.WriteString("nil")
			}
		}
	}
	return out.String()
}
