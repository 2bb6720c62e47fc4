package reqmodel

import "encoding/json"

// MultiMap is an ordered multimap: insertion order is preserved and a key
// may carry more than one value (spec section 3: "query arguments (ordered
// multimap)"). Get returns the first value inserted under key, matching the
// original RequestField::get semantics the matcher relies on.
type MultiMap struct {
	keys   []string
	values []string
}

func NewMultiMap() *MultiMap { return &MultiMap{} }

func (m *MultiMap) Add(key, value string) {
	m.keys = append(m.keys, key)
	m.values = append(m.values, value)
}

// Get, All, Len, Items, and MarshalJSON treat a nil *MultiMap as empty,
// matching a request whose Args was never populated (e.g. a test fixture
// built by struct literal rather than NormalizeRequest).
func (m *MultiMap) Get(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	for i, k := range m.keys {
		if k == key {
			return m.values[i], true
		}
	}
	return "", false
}

func (m *MultiMap) All(key string) []string {
	if m == nil {
		return nil
	}
	var out []string
	for i, k := range m.keys {
		if k == key {
			out = append(out, m.values[i])
		}
	}
	return out
}

func (m *MultiMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Items returns the (key, value) pairs in insertion order.
func (m *MultiMap) Items() [][2]string {
	if m == nil {
		return nil
	}
	out := make([][2]string, len(m.keys))
	for i := range m.keys {
		out[i] = [2]string{m.keys[i], m.values[i]}
	}
	return out
}

// MarshalJSON collapses the multimap into a plain object, folding repeated
// keys into a JSON array - the shape the log record's "arguments" field uses.
func (m *MultiMap) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	out := make(map[string]any, len(m.keys))
	for i, k := range m.keys {
		v := m.values[i]
		switch existing := out[k].(type) {
		case nil:
			out[k] = v
		case string:
			out[k] = []string{existing, v}
		case []string:
			out[k] = append(existing, v)
		}
	}
	return json.Marshal(out)
}
