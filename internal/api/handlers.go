// Package api is the reference HTTP surface onto internal/embedapi (spec
// section 6's embedding API), grounded on grimm-is-flywall's
// internal/api/ebpf_handlers.go: a Handlers struct whose RegisterRoutes
// method wires a gorilla/mux router, plus a respondWithJSON helper every
// handler shares. This is a demonstration embedder, not part of the core
// engine - the core itself has no CLI or HTTP surface (spec section 6).
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/curiefense/curiefense-go/internal/embedapi"
	"github.com/curiefense/curiefense-go/internal/logging"
	"github.com/curiefense/curiefense-go/internal/reqmodel"
)

// ServerConfig holds the HTTP server timeouts the reference embedder
// applies, following grimm-is-flywall/internal/api.DefaultServerConfig's
// slowloris/body-size defaults.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
}

// DefaultServerConfig mirrors the teacher's defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
		MaxBodyBytes:      10 << 20,
	}
}

// Handlers adapts embedapi.Engine to HTTP (spec section 6's inspect_request
// plus aggregated_values). The flows/process phases aren't exposed over
// HTTP here since a single request/response cycle has no room to suspend
// for external flow/limit lookups between phases - a proxy embedding this
// engine in-process would call Engine's phase methods directly instead.
type Handlers struct {
	engine *embedapi.Engine
}

func NewHandlers(engine *embedapi.Engine) *Handlers {
	return &Handlers{engine: engine}
}

// RegisterRoutes registers every route this handler serves, following
// ebpf_handlers.go's RegisterRoutes(router *mux.Router) convention.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/inspect", h.handleInspect).Methods("POST")
	router.HandleFunc("/aggregated_values", h.handleAggregatedValues).Methods("GET")
	router.HandleFunc("/health", h.handleHealth).Methods("GET")
}

// wireArgs is the JSON wire shape of embedapi.Args (spec section 6's args
// mapping), decoded straight off the request body.
type wireArgs struct {
	LogLevel   string                       `json:"loglevel"`
	Meta       wireMeta                     `json:"meta"`
	Headers    map[string]string            `json:"headers"`
	Body       string                       `json:"body"`
	IP         string                       `json:"ip"`
	Hops       int                          `json:"hops"`
	SecPolID   string                       `json:"secpolid"`
	Human      bool                         `json:"human"`
	ConfigPath string                       `json:"configpath"`
	Plugins    map[string]map[string]string `json:"plugins"`
}

type wireMeta struct {
	Method    string `json:"method"`
	Path      string `json:"path"`
	Authority string `json:"authority"`
	RequestID string `json:"x-request-id"`
}

func (w wireArgs) toArgs() embedapi.Args {
	return embedapi.Args{
		LogLevel: w.LogLevel,
		Meta: reqmodel.Meta{
			Method:    w.Meta.Method,
			Path:      w.Meta.Path,
			Authority: w.Meta.Authority,
			RequestID: w.Meta.RequestID,
		},
		Headers:    w.Headers,
		Body:       []byte(w.Body),
		IP:         w.IP,
		Hops:       w.Hops,
		SecPolID:   w.SecPolID,
		Human:      w.Human,
		ConfigPath: w.ConfigPath,
		Plugins:    w.Plugins,
	}
}

type decisionResponse struct {
	Pass    bool              `json:"pass"`
	Kind    string            `json:"kind,omitempty"`
	Status  int               `json:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func (h *Handlers) handleInspect(w http.ResponseWriter, r *http.Request) {
	var wire wireArgs
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		respondWithJSON(w, http.StatusBadRequest, decisionResponse{Error: err.Error()})
		return
	}

	res := h.engine.InspectRequest(wire.toArgs())

	if raw, err := res.LogJSON(map[string]string{"request_id": wire.Meta.RequestID}); err != nil {
		logging.Error("building log record failed", "error", err)
	} else {
		logging.Info("inspection", "record", string(raw))
	}

	resp := decisionResponse{Pass: res.Decision.IsPass}
	if !res.Decision.IsPass {
		resp.Kind = res.Decision.Action.Kind.String()
		resp.Status = res.Decision.Action.Status
		resp.Headers = res.Decision.Action.Headers
		resp.Body = res.Decision.Action.Body
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handlers) handleAggregatedValues(w http.ResponseWriter, r *http.Request) {
	raw, err := h.engine.AggregatedValues()
	if err != nil {
		respondWithJSON(w, http.StatusInternalServerError, decisionResponse{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
