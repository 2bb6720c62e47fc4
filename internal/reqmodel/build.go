package reqmodel

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Meta is the subset of embedder-supplied request metadata the spec's
// embedding API names directly (spec section 6): method, path, and the
// optional authority/x-request-id.
type Meta struct {
	Method    string
	Path      string // raw path, may include a query string
	Authority string
	RequestID string
}

// NormalizeRequest builds a Request from raw embedder input (spec section 3,
// "Request Model"). headers must already be lowercased by the caller's
// transport adapter; cookies are parsed out of the "cookie" header here.
func NormalizeRequest(meta Meta, headers map[string]string, body []byte, ip string, plugins map[string]map[string]string, policy Policy, now time.Time) *Request {
	rawPath, rawQuery, _ := strings.Cut(meta.Path, "?")
	qpath := decodePercent(rawPath)

	args := NewMultiMap()
	for _, kv := range strings.Split(rawQuery, "&") {
		if kv == "" {
			continue
		}
		k, v, _ := strings.Cut(kv, "=")
		args.Add(decodePercent(k), decodePercent(v))
	}

	cookies := make(map[string]string)
	if raw, ok := headers["cookie"]; ok {
		for _, part := range strings.Split(raw, ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			k, v, found := strings.Cut(part, "=")
			if !found {
				continue
			}
			cookies[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}

	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[strings.ToLower(k)] = v
	}

	requestID := meta.RequestID
	if requestID == "" {
		requestID = headers["x-request-id"]
	}

	return &Request{
		Method:     meta.Method,
		Host:       meta.Authority,
		URI:        meta.Path,
		Path:       qpath,
		PathParts:  pathParts(qpath),
		Args:       args,
		Cookies:    cookies,
		Headers:    h,
		Body:       body,
		IP:         ip,
		Geo:        GeoIP{IPStr: ip},
		SessionIDs: map[string]string{},
		Plugins:    FlattenPlugins(plugins),
		Identity:   map[string]string{},
		Policy:     policy,
		RequestID:  requestID,
		Timestamp:  now,
	}
}

func decodePercent(s string) string {
	if unescaped, err := url.PathUnescape(s); err == nil {
		return unescaped
	}
	return s
}

func pathParts(qpath string) map[string]string {
	parts := make(map[string]string)
	i := 0
	for _, seg := range strings.Split(qpath, "/") {
		if seg == "" {
			continue
		}
		parts[strconv.Itoa(i)] = seg
		i++
	}
	return parts
}

// FlattenPlugins flattens a nested plugin-name -> {key: value} map into
// dotted "plugin.key" -> value pairs (spec section 6: "flattened into
// dotted keys plugin.key before use"; supplemented feature 2 in
// SPEC_FULL.md, grounded on the original Lua binding's plugin handling).
func FlattenPlugins(plugins map[string]map[string]string) map[string]string {
	out := make(map[string]string)
	for plugin, kv := range plugins {
		for k, v := range kv {
			out[plugin+"."+k] = v
		}
	}
	return out
}

// ExtractIP derives the client IP from the X-Forwarded-For header by
// skipping hops entries from the right, falling back to defaultIP on any
// parse failure or out-of-range hop count (spec section 6, supplemented
// feature 1 in SPEC_FULL.md; grounded on the original's extract_ip).
func ExtractIP(hops int, headers map[string]string, defaultIP string) string {
	if hops <= 0 {
		return defaultIP
	}
	raw, ok := headers["x-forwarded-for"]
	if !ok {
		return defaultIP
	}
	entries := strings.Split(raw, ",")
	for i := range entries {
		entries[i] = strings.TrimSpace(entries[i])
	}
	idx := len(entries) - hops
	if idx < 0 || idx >= len(entries) || entries[idx] == "" {
		return defaultIP
	}
	return entries[idx]
}
