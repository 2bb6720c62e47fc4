package matcher

import (
	"math/rand"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curiefense/curiefense-go/internal/reqmodel"
)

func mustPrefix(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	require.NoError(t, err)
	return p
}

func netEntry(t *testing.T, cidr string) GlobalFilterRule {
	return Ent(GlobalFilterEntry{Kind: ENetwork, Network: mustPrefix(t, cidr)})
}

func req(ip string) *reqmodel.Request {
	return &reqmodel.Request{IP: ip}
}

// randomIPv4 samples a uniformly random dotted-quad address for the
// round-trip property check.
func randomIPv4(rng *rand.Rand) string {
	a := rng.Intn(256)
	b := rng.Intn(256)
	c := rng.Intn(256)
	d := rng.Intn(256)
	return netip.AddrFrom4([4]byte{byte(a), byte(b), byte(c), byte(d)}).String()
}

func TestOptimizeIPRangesPreservesMatchingForUnrelatedNetworks(t *testing.T) {
	rule := Rel(Or, netEntry(t, "127.0.0.0/8"), netEntry(t, "192.168.0.0/24"))
	optimized := OptimizeIPRanges(rule)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		ip := randomIPv4(rng)
		r := req(ip)
		want := CheckRule(rule, r, reqmodel.NewTags(nil))
		got := CheckRule(optimized, r, reqmodel.NewTags(nil))
		require.Equal(t, want.Matching, got.Matching, "ip %s", ip)
	}
}

func TestOptimizeIPRangesFusesAdjacentBuddyNetworks(t *testing.T) {
	rule := Rel(Or, netEntry(t, "10.0.0.0/25"), netEntry(t, "10.0.0.128/25"))
	optimized := OptimizeIPRanges(rule)

	require.Len(t, optimized.Rules, 1)
	assert.Equal(t, mustPrefix(t, "10.0.0.0/24"), optimized.Rules[0].Entry.Network)

	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 1000; i++ {
		ip := randomIPv4(rng)
		r := req(ip)
		want := CheckRule(rule, r, reqmodel.NewTags(nil))
		got := CheckRule(optimized, r, reqmodel.NewTags(nil))
		require.Equal(t, want.Matching, got.Matching, "ip %s", ip)
	}
}

func TestOptimizeIPRangesDropsSubsumedNetwork(t *testing.T) {
	rule := Rel(Or, netEntry(t, "10.0.0.0/8"), netEntry(t, "10.1.2.0/24"))
	optimized := OptimizeIPRanges(rule)

	require.Len(t, optimized.Rules, 1)
	assert.Equal(t, mustPrefix(t, "10.0.0.0/8"), optimized.Rules[0].Entry.Network)
}

func TestOptimizeIPRangesLeavesNegatedEntriesAlone(t *testing.T) {
	negated := Ent(GlobalFilterEntry{Kind: ENetwork, Negated: true, Network: mustPrefix(t, "10.0.0.0/25")})
	rule := Rel(Or, negated, netEntry(t, "10.0.0.128/25"))
	optimized := OptimizeIPRanges(rule)

	require.Len(t, optimized.Rules, 2)
}

func TestOptimizeIPRangesRecursesIntoAndRelations(t *testing.T) {
	inner := Rel(Or, netEntry(t, "10.0.0.0/25"), netEntry(t, "10.0.0.128/25"))
	rule := Rel(And, inner, Ent(GlobalFilterEntry{Kind: EMethod, Single: SingleEntry{Exact: "GET"}}))
	optimized := OptimizeIPRanges(rule)

	require.True(t, optimized.Rules[0].IsRelation)
	require.Len(t, optimized.Rules[0].Rules, 1)
	assert.Equal(t, mustPrefix(t, "10.0.0.0/24"), optimized.Rules[0].Rules[0].Entry.Network)
}
