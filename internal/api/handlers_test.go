package api

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curiefense/curiefense-go/internal/aggregator"
	"github.com/curiefense/curiefense-go/internal/config"
	"github.com/curiefense/curiefense-go/internal/embedapi"
	"github.com/curiefense/curiefense-go/internal/identity"
)

const testDoc = `
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

func newTestHandlers(t *testing.T) *Handlers {
	snap, err := config.DecodeYAML([]byte(testDoc))
	require.NoError(t, err)
	snap.DefaultPolicy = &snap.Policies[0]

	engine := &embedapi.Engine{
		Config:     func(string) *config.Snapshot { return snap },
		Visitor:    identity.VisitorOracle{},
		Aggregator: aggregator.New(),
	}
	return NewHandlers(engine)
}

func router(h *Handlers) *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func TestHandleInspectBlocksMatchingRequest(t *testing.T) {
	h := newTestHandlers(t)
	body, _ := json.Marshal(wireArgs{
		LogLevel: "info",
		Meta:     wireMeta{Method: "GET", Path: "/admin", Authority: "localhost"},
		Headers:  map[string]string{},
		IP:       "52.78.12.56",
	})

	req := httptest.NewRequest("POST", "/inspect", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router(h).ServeHTTP(rr, req)

	require.Equal(t, 200, rr.Code)
	var resp decisionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Pass)
	assert.Equal(t, 503, resp.Status)
	assert.Equal(t, "blocked", resp.Body)
}

func TestHandleInspectPassesNonMatchingRequest(t *testing.T) {
	h := newTestHandlers(t)
	body, _ := json.Marshal(wireArgs{
		LogLevel: "info",
		Meta:     wireMeta{Method: "GET", Path: "/admin", Authority: "localhost"},
		Headers:  map[string]string{},
		IP:       "1.2.3.4",
	})

	req := httptest.NewRequest("POST", "/inspect", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router(h).ServeHTTP(rr, req)

	var resp decisionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Pass)
}

func TestHandleInspectMalformedBodyReportsBadRequest(t *testing.T) {
	h := newTestHandlers(t)
	req := httptest.NewRequest("POST", "/inspect", bytes.NewReader([]byte("not json")))
	rr := httptest.NewRecorder()
	router(h).ServeHTTP(rr, req)

	assert.Equal(t, 400, rr.Code)
}

func TestHandleAggregatedValuesReturnsJSONArray(t *testing.T) {
	h := newTestHandlers(t)
	req := httptest.NewRequest("GET", "/aggregated_values", nil)
	rr := httptest.NewRecorder()
	router(h).ServeHTTP(rr, req)

	require.Equal(t, 200, rr.Code)
	assert.Equal(t, "[]", rr.Body.String())
}

func TestHandleHealth(t *testing.T) {
	h := newTestHandlers(t)
	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	router(h).ServeHTTP(rr, req)

	assert.Equal(t, 200, rr.Code)
}
