package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curiefense/curiefense-go/internal/action"
	"github.com/curiefense/curiefense-go/internal/config"
	"github.com/curiefense/curiefense-go/internal/identity"
	"github.com/curiefense/curiefense-go/internal/logging"
	"github.com/curiefense/curiefense-go/internal/matcher"
	"github.com/curiefense/curiefense-go/internal/reqmodel"
)

func newReq(ip, path string) *reqmodel.Request {
	return reqmodel.NormalizeRequest(
		reqmodel.Meta{Method: "GET", Path: path, Authority: "localhost"},
		map[string]string{},
		nil, ip, nil, reqmodel.Policy{}, time.Unix(0, 0),
	)
}

func alwaysRule() matcher.GlobalFilterRule {
	return matcher.Ent(matcher.GlobalFilterEntry{Kind: matcher.EAlways, Always: true})
}

func TestInspectRequestSeedScenario1(t *testing.T) {
	const doc = `
revision: "r1"
policies:
  - id: "__default__"
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
	snap, err := config.DecodeYAML([]byte(doc))
	require.NoError(t, err)
	snap.DefaultPolicy = &snap.Policies[0]

	req := newReq("52.78.12.56", "/admin")
	policy := snap.PolicyFor(req.Host, "")

	result := InspectRequest(snap, policy, true, req, nil, identity.VisitorOracle{}, reqmodel.NewLogs(logging.LevelInfo))

	require.False(t, result.Decision.IsPass)
	assert.Equal(t, action.KindBlock, result.Decision.Action.Kind)
	assert.Equal(t, 503, result.Decision.Action.Status)
	assert.Equal(t, "blocked", result.Decision.Action.Body)

	_, hasBad := result.Tags.Get("bad")
	assert.True(t, hasBad)
	_, hasIP := result.Tags.Get("ip:52.78.12.56")
	assert.True(t, hasIP)
}

func TestInspectRequestSeedScenario2MonitorThenCustomDropsMonitorHeaders(t *testing.T) {
	monitorAction := action.SimpleAction{
		Kind: action.SKMonitor,
		Headers: map[string]reqmodel.RequestTemplate{
			"x-monitor": reqmodel.Literal("seen"),
		},
	}
	customAction := action.SimpleAction{Kind: action.SKCustom, Status: 403, Content: "blocked"}

	snap := &config.Snapshot{
		GlobalFilters: []config.GlobalFilterSection{
			{ID: "gf-monitor", Rule: alwaysRule(), Action: &monitorAction},
			{ID: "gf-custom", Rule: alwaysRule(), Action: &customAction},
		},
	}
	req := newReq("1.2.3.4", "/")
	result := InspectRequest(snap, nil, true, req, nil, identity.VisitorOracle{}, reqmodel.NewLogs(logging.LevelInfo))

	require.False(t, result.Decision.IsPass)
	assert.Equal(t, action.KindBlock, result.Decision.Action.Kind)
	assert.Len(t, result.Decision.Reasons, 2)
	assert.NotContains(t, result.Decision.Action.Headers, "x-monitor")
}

func TestInspectRequestSeedScenario3FingerprintEscalatesWhenVisitorUnknown(t *testing.T) {
	fpAction := action.SimpleAction{Kind: action.SKFingerprint, Status: 503, Content: "fp"}
	snap := &config.Snapshot{
		GlobalFilters: []config.GlobalFilterSection{{ID: "gf-fp", Rule: alwaysRule(), Action: &fpAction}},
	}
	req := newReq("1.2.3.4", "/")
	result := InspectRequest(snap, nil, true, req, nil, identity.VisitorOracle{}, reqmodel.NewLogs(logging.LevelInfo))

	require.False(t, result.Decision.IsPass)
	assert.Equal(t, action.KindBlock, result.Decision.Action.Kind)
	assert.True(t, result.Decision.Action.Blocking)
	assert.Equal(t, 503, result.Decision.Action.Status)
	assert.Equal(t, "fp", result.Decision.Action.Body)
}

func TestInspectRequestFingerprintPassesWhenVisitorKnown(t *testing.T) {
	fpAction := action.SimpleAction{Kind: action.SKFingerprint, Status: 503, Content: "fp"}
	snap := &config.Snapshot{
		GlobalFilters: []config.GlobalFilterSection{{ID: "gf-fp", Rule: alwaysRule(), Action: &fpAction}},
	}
	req := newReq("1.2.3.4", "/")
	req.Headers["browserfingerid"] = "abc"
	oracle := identity.VisitorOracle{Store: fixedStore{found: true}}

	result := InspectRequest(snap, nil, true, req, nil, oracle, reqmodel.NewLogs(logging.LevelInfo))
	assert.True(t, result.Decision.IsPass)
}

func TestInspectRequestEmptyGlobalFiltersIsPass(t *testing.T) {
	snap := &config.Snapshot{}
	req := newReq("1.2.3.4", "/")
	result := InspectRequest(snap, nil, true, req, nil, identity.VisitorOracle{}, reqmodel.NewLogs(logging.LevelInfo))
	assert.True(t, result.Decision.IsPass)
	assert.True(t, result.Tags.Contains("human"))
}

func TestInspectRequestChallengeResolvesToMonitorWithJSHeaders(t *testing.T) {
	challengeAction := action.SimpleAction{Kind: action.SKChallenge, Status: 403}
	snap := &config.Snapshot{
		GlobalFilters: []config.GlobalFilterSection{{ID: "gf-ch", Rule: alwaysRule(), Action: &challengeAction}},
	}
	req := newReq("1.2.3.4", "/")
	gh := fakeGrasshopper{jsApp: "app.js", jsBio: "bio.js", seed: "seed1"}

	result := InspectRequest(snap, nil, true, req, gh, identity.VisitorOracle{}, reqmodel.NewLogs(logging.LevelInfo))
	assert.False(t, result.Decision.IsPass)
	assert.Equal(t, action.KindMonitor, result.Decision.Action.Kind)
	assert.False(t, result.Decision.Action.Blocking)
	assert.Equal(t, "app.js", result.Decision.Action.Headers["x-challenge-js-app"])
}

func TestPhasePipelineEquivalesInspectRequest(t *testing.T) {
	monitorAction := action.SimpleAction{Kind: action.SKMonitor}
	snap := &config.Snapshot{
		GlobalFilters: []config.GlobalFilterSection{{ID: "gf1", Rule: alwaysRule(), Action: &monitorAction}},
	}
	req1 := newReq("1.2.3.4", "/")
	req2 := newReq("1.2.3.4", "/")

	direct := InspectRequest(snap, nil, true, req1, nil, identity.VisitorOracle{}, reqmodel.NewLogs(logging.LevelInfo))

	res, p1 := InspectInit(snap, nil, true, req2, nil, identity.VisitorOracle{}, reqmodel.NewLogs(logging.LevelInfo))
	require.Nil(t, res)
	res, p2i := InspectFlows(p1, nil)
	require.Nil(t, res)
	staged := InspectProcess(p2i, nil)

	assert.Equal(t, direct.Decision.Action.Kind, staged.Decision.Action.Kind)
	assert.Equal(t, direct.Decision.IsPass, staged.Decision.IsPass)
}

type fixedStore struct{ found bool }

func (f fixedStore) Lookup(_ context.Context, _ string) (bool, error) {
	return f.found, nil
}

type fakeGrasshopper struct {
	jsApp, jsBio string
	seed         string
}

func (g fakeGrasshopper) JSApp() string                            { return g.jsApp }
func (g fakeGrasshopper) JSBio() string                            { return g.jsBio }
func (g fakeGrasshopper) ParseRBZID(cookie, userAgent string) bool { return false }
func (g fakeGrasshopper) GenNewSeed(userAgent string) string       { return g.seed }
func (g fakeGrasshopper) VerifyWorkproof(seed, proof string) bool  { return false }
