package evaluators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curiefense/curiefense-go/internal/action"
	"github.com/curiefense/curiefense-go/internal/config"
	"github.com/curiefense/curiefense-go/internal/matcher"
	"github.com/curiefense/curiefense-go/internal/reqmodel"
)

func newReq() *reqmodel.Request {
	return &reqmodel.Request{
		Method:  "GET",
		Host:    "example.com",
		Path:    "/",
		Args:    reqmodel.NewMultiMap(),
		Cookies: map[string]string{},
		Headers: map[string]string{"user-agent": "curl/8.0"},
		IP:      "1.2.3.4",
	}
}

func tagsWith(names ...string) *reqmodel.Tags {
	tags := reqmodel.NewTags(nil)
	for _, n := range names {
		tags.Insert(n, reqmodel.LRequest())
	}
	return tags
}

func alwaysRule() matcher.GlobalFilterRule {
	return matcher.Ent(matcher.GlobalFilterEntry{Kind: matcher.EAlways, Always: true})
}

func TestEvaluateACLBypassWinsOverForceDeny(t *testing.T) {
	profile := &config.ACLProfile{
		Bypass:     []string{"trusted"},
		ForceDeny:  []string{"trusted"},
		DenyAction: action.SimpleAction{Kind: action.SKCustom, Status: 403},
	}
	d := EvaluateACL(profile, tagsWith("trusted"))
	require.False(t, d.IsPass)
	assert.Equal(t, action.SKSkip, d.Action.Kind)
	assert.True(t, d.Reasons[0].IsSkip())
}

func TestEvaluateACLForceDenyBeatsAllow(t *testing.T) {
	profile := &config.ACLProfile{
		ForceDeny:  []string{"blocked"},
		Allow:      []string{"blocked"},
		DenyAction: action.SimpleAction{Kind: action.SKCustom, Status: 403},
	}
	d := EvaluateACL(profile, tagsWith("blocked"))
	require.False(t, d.IsPass)
	assert.Equal(t, 403, d.Action.Status)
}

func TestEvaluateACLBotTagIgnoresAllowCategory(t *testing.T) {
	profile := &config.ACLProfile{
		Allow:      []string{"good"},
		DenyBot:    []string{"good"},
		DenyAction: action.SimpleAction{Kind: action.SKCustom, Status: 403},
	}
	d := EvaluateACL(profile, tagsWith("bot", "good"))
	require.False(t, d.IsPass)
	assert.Equal(t, 403, d.Action.Status)
}

func TestEvaluateACLDefaultPass(t *testing.T) {
	profile := &config.ACLProfile{DenyAction: action.SimpleAction{Kind: action.SKCustom, Status: 403}}
	d := EvaluateACL(profile, tagsWith("anything"))
	assert.True(t, d.IsPass)
}

func TestEvaluateACLNilProfilePasses(t *testing.T) {
	d := EvaluateACL(nil, tagsWith())
	assert.True(t, d.IsPass)
}

func TestEvaluateContentFilterSumsScoreAgainstThresholds(t *testing.T) {
	profile := &config.ContentFilterProfile{
		Rules: []config.ContentFilterRule{
			{ID: "r1", Rule: alwaysRule(), RiskLevel: 3},
			{ID: "r2", Rule: alwaysRule(), RiskLevel: 4},
		},
		ReportThreshold: 5,
		BlockThreshold:  10,
		MonitorAction:   action.SimpleAction{Kind: action.SKMonitor},
		BlockAction:     action.SimpleAction{Kind: action.SKCustom, Status: 403},
	}
	d := EvaluateContentFilter(profile, newReq(), tagsWith())
	require.False(t, d.IsPass)
	assert.Equal(t, action.SKMonitor, d.Action.Kind)
}

func TestEvaluateContentFilterBlocksOverThreshold(t *testing.T) {
	profile := &config.ContentFilterProfile{
		Rules:           []config.ContentFilterRule{{ID: "r1", Rule: alwaysRule(), RiskLevel: 12}},
		ReportThreshold: 5,
		BlockThreshold:  10,
		MonitorAction:   action.SimpleAction{Kind: action.SKMonitor},
		BlockAction:     action.SimpleAction{Kind: action.SKCustom, Status: 403},
	}
	d := EvaluateContentFilter(profile, newReq(), tagsWith())
	require.False(t, d.IsPass)
	assert.Equal(t, 403, d.Action.Status)
}

func TestEvaluateContentFilterNoMatchPasses(t *testing.T) {
	profile := &config.ContentFilterProfile{ReportThreshold: 1, BlockThreshold: 2}
	d := EvaluateContentFilter(profile, newReq(), tagsWith())
	assert.True(t, d.IsPass)
}

func TestBuildLimitQueriesSkipsNonMatchingRule(t *testing.T) {
	rules := map[string]config.RateLimitRule{
		"never": {ID: "never", Rule: matcher.Ent(matcher.GlobalFilterEntry{Kind: matcher.EMethod, Single: mustSingle("POST")}), Window: time.Minute},
		"always": {ID: "always", Rule: alwaysRule(), KeyBy: []reqmodel.Selector{{Kind: reqmodel.SelIP}}, Window: time.Minute},
	}
	queries := BuildLimitQueries(rules, []string{"never", "always"}, newReq(), tagsWith())
	require.Len(t, queries, 1)
	assert.Equal(t, "always", queries[0].RuleID)
	assert.Equal(t, "1.2.3.4", queries[0].Key)
}

func TestEvaluateRateLimitExceededThreshold(t *testing.T) {
	rules := map[string]config.RateLimitRule{
		"r1": {ID: "r1", Threshold: 10, Action: action.SimpleAction{Kind: action.SKCustom, Status: 429}},
	}
	d := EvaluateRateLimit(rules, []LimitResult{{RuleID: "r1", Key: "1.2.3.4", Count: 11}})
	require.False(t, d.IsPass)
	assert.Equal(t, 429, d.Action.Status)
}

func TestEvaluateRateLimitUnderThresholdPasses(t *testing.T) {
	rules := map[string]config.RateLimitRule{
		"r1": {ID: "r1", Threshold: 10, Action: action.SimpleAction{Kind: action.SKCustom, Status: 429}},
	}
	d := EvaluateRateLimit(rules, []LimitResult{{RuleID: "r1", Key: "1.2.3.4", Count: 3}})
	assert.True(t, d.IsPass)
}

func TestEvaluateFlowControlCompletedSequence(t *testing.T) {
	rules := map[string]config.FlowControlRule{
		"seq": {ID: "seq", Action: action.SimpleAction{Kind: action.SKCustom, Status: 403}},
	}
	d := EvaluateFlowControl(rules, []FlowResult{{RuleID: "seq", Key: "1.2.3.4", Completed: true}})
	require.False(t, d.IsPass)
	assert.Equal(t, 403, d.Action.Status)
}

func TestEvaluateFlowControlIncompleteSequencePasses(t *testing.T) {
	rules := map[string]config.FlowControlRule{
		"seq": {ID: "seq", Action: action.SimpleAction{Kind: action.SKCustom, Status: 403}},
	}
	d := EvaluateFlowControl(rules, []FlowResult{{RuleID: "seq", Key: "1.2.3.4", Completed: false}})
	assert.True(t, d.IsPass)
}

type fakeGrasshopper struct {
	jsApp, jsBio string
	validCookie  string
	seed         string
	validProof   string
}

func (g fakeGrasshopper) JSApp() string { return g.jsApp }
func (g fakeGrasshopper) JSBio() string { return g.jsBio }
func (g fakeGrasshopper) ParseRBZID(cookie, userAgent string) bool {
	return cookie != "" && cookie == g.validCookie
}
func (g fakeGrasshopper) GenNewSeed(userAgent string) string { return g.seed }
func (g fakeGrasshopper) VerifyWorkproof(seed, proof string) bool {
	return seed == g.seed && proof == g.validProof
}

func TestResolveChallengeValidCookiePasses(t *testing.T) {
	gh := fakeGrasshopper{validCookie: "abc123"}
	r := newReq()
	r.Cookies[cookieRBZID] = "abc123"
	sa := ResolveChallenge(gh, r, action.SimpleAction{Kind: action.SKChallenge, Status: 403})
	assert.Equal(t, action.SKMonitor, sa.Kind)
}

func TestResolveChallengeValidWorkproofPasses(t *testing.T) {
	gh := fakeGrasshopper{seed: "s1", validProof: "p1"}
	r := newReq()
	r.Headers[headerWorkproofSeed] = "s1"
	r.Headers[headerWorkproof] = "p1"
	sa := ResolveChallenge(gh, r, action.SimpleAction{Kind: action.SKChallenge, Status: 403})
	assert.Equal(t, action.SKMonitor, sa.Kind)
}

func TestResolveChallengeEmitsJSHeaders(t *testing.T) {
	gh := fakeGrasshopper{jsApp: "app.js", jsBio: "bio.js", seed: "newseed"}
	sa := ResolveChallenge(gh, newReq(), action.SimpleAction{Kind: action.SKChallenge, Status: 403})
	require.Equal(t, action.SKMonitor, sa.Kind)
	require.Contains(t, sa.Headers, headerChallengeJSApp)
	require.Contains(t, sa.Headers, headerSetCookie)
}

func TestResolveChallengeFallsBackToDefaultBlock(t *testing.T) {
	gh := fakeGrasshopper{}
	sa := ResolveChallenge(gh, newReq(), action.SimpleAction{Kind: action.SKChallenge, Status: 403, Content: "blocked"})
	assert.Equal(t, action.SKCustom, sa.Kind)
	assert.Equal(t, 403, sa.Status)
	assert.Equal(t, "blocked", sa.Content)
}

func TestResolveChallengeNilOracleBlocks(t *testing.T) {
	sa := ResolveChallenge(nil, newReq(), action.SimpleAction{Kind: action.SKChallenge, Status: 403})
	assert.Equal(t, action.SKCustom, sa.Kind)
}

func mustSingle(exact string) matcher.SingleEntry {
	s, err := matcher.NewSingleEntry(exact, "")
	if err != nil {
		panic(err)
	}
	return s
}
