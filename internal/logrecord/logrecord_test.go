package logrecord

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curiefense/curiefense-go/internal/action"
	"github.com/curiefense/curiefense-go/internal/logging"
	"github.com/curiefense/curiefense-go/internal/reqmodel"
	"github.com/curiefense/curiefense-go/internal/tagger"
)

func newReq() *reqmodel.Request {
	return reqmodel.NormalizeRequest(
		reqmodel.Meta{Method: "GET", Path: "/admin", Authority: "localhost"},
		map[string]string{"user-agent": "curl/7.58.0"},
		nil, "52.78.12.56", nil, reqmodel.Policy{}, time.Unix(0, 0),
	)
}

func decode(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestBuildSeedScenario6MonitorSuppressesStatusTags(t *testing.T) {
	req := newReq()
	tags := reqmodel.NewTags(nil)
	tags.Insert("human", reqmodel.LRequest())

	decision := action.Decision{Action: action.Action{Kind: action.KindMonitor, Status: 200}}
	raw, err := Build(req, tags, decision, tagger.Stats{}, reqmodel.NewLogs(logging.LevelInfo), nil)
	require.NoError(t, err)

	doc := decode(t, raw)
	assert.EqualValues(t, 200, doc["response_code"])

	tagList, ok := doc["tags"].([]any)
	require.True(t, ok)
	for _, tg := range tagList {
		s, _ := tg.(string)
		assert.NotContains(t, s, "status=")
		assert.NotContains(t, s, "status-class=")
	}
}

func TestBuildSeedScenario6BlockSynthesizesStatusTags(t *testing.T) {
	req := newReq()
	tags := reqmodel.NewTags(nil)
	tags.Insert("human", reqmodel.LRequest())

	decision := action.Decision{Action: action.Action{Kind: action.KindBlock, Status: 403, Body: "blocked"}}
	raw, err := Build(req, tags, decision, tagger.Stats{}, reqmodel.NewLogs(logging.LevelInfo), nil)
	require.NoError(t, err)

	doc := decode(t, raw)
	assert.EqualValues(t, 403, doc["response_code"])

	tagList, ok := doc["tags"].([]any)
	require.True(t, ok)
	assert.Contains(t, tagList, "status=403")
	assert.Contains(t, tagList, "status-class=4xx")
}

func TestBuildPassFallsBackToProxyStatus(t *testing.T) {
	req := newReq()
	tags := reqmodel.NewTags(nil)
	decision := action.DecisionPass()

	raw, err := Build(req, tags, decision, tagger.Stats{}, reqmodel.NewLogs(logging.LevelInfo), map[string]string{"status": "200"})
	require.NoError(t, err)

	doc := decode(t, raw)
	assert.EqualValues(t, 200, doc["response_code"])

	tagList, ok := doc["tags"].([]any)
	require.True(t, ok)
	assert.Contains(t, tagList, "status=200")
	assert.Contains(t, tagList, "status-class=2xx")
}

func TestBuildFieldOrderMatchesSpec(t *testing.T) {
	req := newReq()
	tags := reqmodel.NewTags(nil)
	decision := action.DecisionPass()

	raw, err := Build(req, tags, decision, tagger.Stats{}, reqmodel.NewLogs(logging.LevelInfo), nil)
	require.NoError(t, err)

	var tokens []string
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	tok, err := dec.Token()
	require.NoError(t, err)
	_ = tok // opening brace
	for {
		tok, err := dec.Token()
		require.NoError(t, err)
		if _, ok := tok.(json.Delim); ok {
			break
		}
		key := tok.(string)
		tokens = append(tokens, key)
		var raw json.RawMessage
		require.NoError(t, dec.Decode(&raw))
	}

	want := []string{
		"timestamp", "curiesession", "curiesession_ids", "request_id", "arguments",
		"path", "path_parts", "authority", "cookies", "headers", "uri", "ip", "method",
		"response_code", "logs", "processing_stage", "acl_triggers", "rate_limit_triggers",
		"global_filter_triggers", "content_filter_triggers", "restriction_triggers",
		"reason", "identity_headers", "tags", "proxy", "security_config",
		"trigger_counters", "profiling",
	}
	assert.Equal(t, want, tokens)
}

func TestBuildTriggerCountersReflectBlockingReasons(t *testing.T) {
	req := newReq()
	tags := reqmodel.NewTags(nil)
	decision := action.Decision{
		Action: action.Action{Kind: action.KindBlock, Status: 403},
		Reasons: []action.BlockReason{
			{Initiator: action.InitiatorAcl, Level: action.ReasonBlocking, Extra: map[string]any{"name": "deny-all"}},
		},
	}
	raw, err := Build(req, tags, decision, tagger.Stats{}, reqmodel.NewLogs(logging.LevelInfo), nil)
	require.NoError(t, err)

	doc := decode(t, raw)
	assert.Equal(t, "acl:deny-all", doc["reason"])

	tc := doc["trigger_counters"].(map[string]any)
	assert.EqualValues(t, 1, tc["acl"])
	assert.EqualValues(t, 1, tc["acl_active"])
}
