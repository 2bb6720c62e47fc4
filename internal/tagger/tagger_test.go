package tagger

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curiefense/curiefense-go/internal/action"
	"github.com/curiefense/curiefense-go/internal/config"
	"github.com/curiefense/curiefense-go/internal/matcher"
	"github.com/curiefense/curiefense-go/internal/reqmodel"
)

func ipSection(t *testing.T, id, ip string, kind action.SimpleKind, status int, content string, tags []string) config.GlobalFilterSection {
	t.Helper()
	addr := matcher.GlobalFilterEntry{Kind: matcher.EIP}
	var err error
	addr.IP, err = netip.ParseAddr(ip)
	require.NoError(t, err)
	return config.GlobalFilterSection{
		ID:   id,
		Rule: matcher.Ent(addr),
		Tags: tags,
		Action: &action.SimpleAction{
			Kind: kind, Status: status, Content: content,
		},
	}
}

func TestTagSeedScenario1(t *testing.T) {
	r := &reqmodel.Request{Method: "GET", Host: "localhost", IP: "52.78.12.56", Identity: map[string]string{}}
	sections := []config.GlobalFilterSection{
		ipSection(t, "gf1", "52.78.12.56", action.SKCustom, 503, "blocked", []string{"bad"}),
	}

	tags, decision, stats := Tag(false, sections, r, nil)

	require.False(t, decision.IsPass)
	assert.Equal(t, action.SKCustom, decision.Action.Kind)
	assert.Equal(t, 503, decision.Action.Status)
	assert.Equal(t, "blocked", decision.Action.Content)
	assert.True(t, tags.Contains("bad"))
	assert.True(t, tags.Contains("ip:52.78.12.56"))
	assert.Equal(t, 1, stats.SectionsMatched)
}

func TestTagSeedScenario2MonitorThenCustom(t *testing.T) {
	r := &reqmodel.Request{Method: "GET", Host: "localhost", IP: "52.78.12.56", Identity: map[string]string{}}
	sections := []config.GlobalFilterSection{
		ipSection(t, "gf-monitor", "52.78.12.56", action.SKMonitor, 0, "", nil),
		ipSection(t, "gf-custom", "52.78.12.56", action.SKCustom, 503, "blocked", nil),
	}

	_, decision, _ := Tag(false, sections, r, nil)

	require.False(t, decision.IsPass)
	assert.Equal(t, action.SKCustom, decision.Action.Kind)
	assert.Len(t, decision.Reasons, 2)
}

func TestTagEmptyGlobalFiltersIsPass(t *testing.T) {
	r := &reqmodel.Request{Method: "GET", Host: "localhost", Identity: map[string]string{}}
	tags, decision, stats := Tag(true, nil, r, nil)

	assert.True(t, decision.IsPass)
	assert.True(t, tags.Contains("human"))
	assert.Equal(t, 0, stats.SectionsEvaluated)
}

func TestTagRegexHeaderMatch(t *testing.T) {
	pair, err := matcher.NewPairEntry("user-agent", "", "^curl.*")
	require.NoError(t, err)
	rule := matcher.Ent(matcher.GlobalFilterEntry{Kind: matcher.EHeader, Pair: pair})
	sections := []config.GlobalFilterSection{{ID: "ua", Rule: rule, Tags: []string{"curl-client"}}}

	r := &reqmodel.Request{
		Headers:  map[string]string{"user-agent": "curl/7.58.0"},
		Identity: map[string]string{},
	}
	tags, decision, _ := Tag(true, sections, r, nil)

	assert.True(t, decision.IsPass) // tagging-only section, no action configured
	assert.True(t, tags.Contains("curl-client"))
	locs, ok := tags.Get("curl-client")
	require.True(t, ok)
	_, hasLoc := locs[reqmodel.LHeaderValue("user-agent", "curl/7.58.0")]
	assert.True(t, hasLoc)
}
