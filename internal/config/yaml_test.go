package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/curiefense/curiefense-go/internal/action"
)

const seedScenario1YAML = `
revision: "test-rev"
default_policy_id: "__default__"
policies:
  - id: "__default__"
    entry_id: "default-entry"
    match: "localhost"
global_filters:
  - id: gf1
    name: "block one ip"
    tags: ["bad"]
    rule:
      ip: "52.78.12.56"
    action:
      kind: custom
      status: 503
      content: "blocked"
`

func TestDecodeYAMLSeedScenario1(t *testing.T) {
	snap, err := DecodeYAML([]byte(seedScenario1YAML))
	require.NoError(t, err)
	require.Len(t, snap.GlobalFilters, 1)

	gf := snap.GlobalFilters[0]
	require.NotNil(t, gf.Action)
	require.Equal(t, action.SKCustom, gf.Action.Kind)
	require.Equal(t, 503, gf.Action.Status)
	require.Equal(t, "blocked", gf.Action.Content)
	require.Equal(t, []string{"bad"}, gf.Tags)

	require.NotNil(t, snap.DefaultPolicy)
	require.Equal(t, "__default__", snap.DefaultPolicy.ID)
}

func TestDecodeYAMLDropsBadRegex(t *testing.T) {
	const bad = `
policies:
  - id: p1
global_filters:
  - id: gf-bad
    rule:
      path: {regex: "("}
`
	snap, err := DecodeYAML([]byte(bad))
	require.NoError(t, err)
	require.Empty(t, snap.GlobalFilters)
}
