package reqmodel

import "sort"

// VirtualTags maps a real tag name to the additional alias tags that should
// be inserted alongside it (spec section 3: "A tag may carry virtual-tag
// aliases"). A nil/empty map means no aliasing configured.
type VirtualTags map[string][]string

// Tags is the set of string labels accumulated on a request, each tied to
// the locations that caused it. Insertion is idempotent: re-inserting a tag
// that already exists unions the new locations into the existing set and
// never changes the order in which tags were first observed.
type Tags struct {
	vtags VirtualTags
	order []string
	locs  map[string]LocationSet
}

func NewTags(vtags VirtualTags) *Tags {
	return &Tags{
		vtags: vtags,
		locs:  make(map[string]LocationSet),
	}
}

// Insert adds a bare tag at the given location, expanding any virtual-tag
// aliases configured for it.
func (t *Tags) Insert(name string, loc Location) {
	t.insertOne(name, loc)
	for _, alias := range t.vtags[name] {
		t.insertOne(alias, loc)
	}
}

// InsertQualified adds a "name:value" tag, e.g. insert_qualified("ip", "1.2.3.4", ...)
// produces the tag "ip:1.2.3.4" (spec section 4.3 / seed scenario 1).
func (t *Tags) InsertQualified(name, value string, loc Location) {
	t.Insert(name+":"+value, loc)
}

func (t *Tags) insertOne(name string, loc Location) {
	if existing, ok := t.locs[name]; ok {
		existing.Add(loc)
		return
	}
	t.locs[name] = NewLocationSet(loc)
	t.order = append(t.order, name)
}

// InsertWithLocations adds name with a full set of locations in one step,
// used when a matched global filter section's tags are merged in (spec
// section 4.3 step 2: "merge section tags (qualified by match-locations)").
func (t *Tags) InsertWithLocations(name string, locs LocationSet) {
	for l := range locs {
		t.Insert(name, l)
	}
	if len(locs) == 0 {
		t.Insert(name, Location{Kind: LocRequest})
	}
}

// Get returns the locations associated with tag, mirroring the matcher's
// Tag entry test (spec section 4.1).
func (t *Tags) Get(name string) (LocationSet, bool) {
	l, ok := t.locs[name]
	return l, ok
}

func (t *Tags) Contains(name string) bool {
	_, ok := t.locs[name]
	return ok
}

// Extend merges another Tags' contents in, preserving this Tags' existing
// first-observed order and appending any genuinely new names in their
// order of appearance in other.
func (t *Tags) Extend(other *Tags) {
	if other == nil {
		return
	}
	for _, name := range other.order {
		t.InsertWithLocations(name, other.locs[name])
	}
}

// Names returns all tag names sorted alphabetically, used for deterministic
// serialization in the log record.
func (t *Tags) Names() []string {
	out := make([]string, 0, len(t.locs))
	for name := range t.locs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of distinct tags.
func (t *Tags) Len() int { return len(t.locs) }

// Clone produces an independent copy sharing the same virtual tag config -
// used by the tagger to build a scratch Tags for a single matched section
// before merging it into the running set.
func (t *Tags) Clone() *Tags {
	c := NewTags(t.vtags)
	for _, name := range t.order {
		c.InsertWithLocations(name, t.locs[name])
	}
	return c
}
