// Package api implements the REST protocol frontend: health and discovery
// endpoints, the free synchronous skills, and the protected generate_proof
// task lifecycle (create, poll, stream, cancel) gated by paymentgate.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/provenanceagent/proof-agent/pkg/apierr"
	"github.com/provenanceagent/proof-agent/pkg/config"
	"github.com/provenanceagent/proof-agent/pkg/eventbus"
	"github.com/provenanceagent/proof-agent/pkg/paymentgate"
	"github.com/provenanceagent/proof-agent/pkg/session"
	"github.com/provenanceagent/proof-agent/pkg/skills"
	"github.com/provenanceagent/proof-agent/pkg/task"
)

// ComponentStatus tracks the health of a single dependency for /health.
type ComponentStatus struct {
	mu     sync.RWMutex
	status string
}

func (c *ComponentStatus) Set(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

func (c *ComponentStatus) Get() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.status == "" {
		return "unknown"
	}
	return c.status
}

// Health tracks the status of every externally-facing dependency.
type Health struct {
	KVStore   ComponentStatus
	Chain     ComponentStatus
	TEE       ComponentStatus
	Database  ComponentStatus
	startedAt time.Time
}

func NewHealth() *Health {
	return &Health{startedAt: time.Now()}
}

func (h *Health) overall() string {
	for _, s := range []string{h.KVStore.Get(), h.Chain.Get()} {
		if s == "disconnected" || s == "error" {
			return "error"
		}
	}
	if h.TEE.Get() == "disconnected" || h.Database.Get() == "disconnected" {
		return "degraded"
	}
	return "ok"
}

// Server wires the skill dispatcher, task store and event bus behind an
// http.Handler, mounting the A2A and MCP sub-handlers at their fixed paths.
type Server struct {
	deps    *skills.Deps
	tasks   *task.Store
	bus     *eventbus.Bus
	gate    *paymentgate.Gate
	cfg     *config.Config
	health  *Health
	flows   *session.FlowStore
	logger  *log.Logger
	a2a     http.Handler
	mcp     http.Handler
}

func New(deps *skills.Deps, tasks *task.Store, bus *eventbus.Bus, gate *paymentgate.Gate, cfg *config.Config, health *Health, flows *session.FlowStore, a2a, mcp http.Handler, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[API] ", log.LstdFlags)
	}
	return &Server{deps: deps, tasks: tasks, bus: bus, gate: gate, cfg: cfg, health: health, flows: flows, a2a: a2a, mcp: mcp, logger: logger}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleHealthDetailed)
	mux.HandleFunc("/.well-known/agent.json", s.handleDiscovery)

	mux.HandleFunc("/api/v1/circuits", s.handleSyncSkill("get_supported_circuits"))
	mux.HandleFunc("/api/v1/proofs/verify", s.handleSyncSkill("verify_proof"))
	mux.HandleFunc("/api/v1/signing", s.handleSyncSkill("request_signing"))
	mux.HandleFunc("/api/v1/signing/", s.handleSigningSub)
	mux.HandleFunc("/api/v1/payment/", s.handlePaymentSub)
	mux.HandleFunc("/api/v1/flows", s.handleCreateFlow)
	mux.HandleFunc("/api/v1/flows/", s.handleFlowSub)

	mux.Handle("/api/v1/proofs", s.gate.Middleware(skillOfRequest, s.logger)(http.HandlerFunc(s.handleCreateProof)))
	mux.HandleFunc("/api/v1/proofs/", s.handleProofSub) // status/stream/cancel by id (paths not matched above)

	mux.HandleFunc("/api/v1/chat", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "the conversational chat surface has been retired in favor of message/send (A2A) and tools/call (MCP)", http.StatusGone)
	})

	if s.a2a != nil {
		mux.Handle("/a2a", s.a2a)
	}
	if s.mcp != nil {
		mux.Handle("/mcp", s.mcp)
	}

	return mux
}

func skillOfRequest(r *http.Request) string {
	return "generate_proof"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)
	writeJSON(w, apierr.HTTPStatus(kind), map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.health.overall()
	code := http.StatusOK
	if status == "error" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	status := s.health.overall()
	code := http.StatusOK
	if status == "error" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":       status,
		"kvStore":      s.health.KVStore.Get(),
		"chain":        s.health.Chain.Get(),
		"tee":          s.health.TEE.Get(),
		"database":     s.health.Database.Get(),
		"uptimeSeconds": int64(time.Since(s.health.startedAt).Seconds()),
		"paymentMode":  string(s.cfg.PaymentMode),
		"teeMode":      string(s.cfg.TEEMode),
	})
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "proof-agent",
		"version":     s.cfg.AgentVersion,
		"description": "Autonomous zero-knowledge proof generation agent",
		"url":         s.cfg.PublicURL,
		"skills": []string{
			"get_supported_circuits", "verify_proof", "request_signing",
			"check_status", "request_payment", "generate_proof",
		},
		"protocols": map[string]string{
			"rest": "/api/v1", "a2a": "/a2a", "mcp": "/mcp",
		},
	})
}

// handleSyncSkill answers a free, non-mutating skill synchronously: the
// request body is decoded as the skill's params and the resulting artifact
// data is returned directly, with no task persisted.
func (s *Server) handleSyncSkill(skill string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := map[string]interface{}{}
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
				writeError(w, apierr.Validation("invalid JSON body: %v", err))
				return
			}
		}
		if q := r.URL.Query().Get("chainId"); q != "" {
			params["chainId"] = q
		}
		contextID := r.Header.Get("x-context-id")

		result, err := skills.Dispatch(r.Context(), s.deps, skill, params, contextID)
		if err != nil {
			writeError(w, err)
			return
		}
		respondResult(w, result)
	}
}

func respondResult(w http.ResponseWriter, result *skills.Result) {
	code := http.StatusOK
	if result.Status == task.StateFailed {
		code = http.StatusBadRequest
	}
	var data interface{} = map[string]interface{}{}
	if len(result.Artifacts) > 0 && len(result.Artifacts[0].Parts) > 0 {
		data = result.Artifacts[0].Parts[0].Data
	}
	writeJSON(w, code, map[string]interface{}{"status": result.Status, "data": data})
}

// handleSigningSub routes /api/v1/signing/{id} (check_status) and
// /api/v1/signing/{id}/complete (records a completed signature directly,
// standing in for the hosted signing page's callback).
func (s *Server) handleSigningSub(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/signing/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	requestID := parts[0]

	if len(parts) == 2 && parts[1] == "complete" && r.Method == http.MethodPost {
		var body struct {
			Address    string `json:"address"`
			Signature  string `json:"signature"`
			SignalHash string `json:"signalHash"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, apierr.Validation("invalid JSON body: %v", err))
			return
		}
		req, err := s.deps.Requests.CompleteSigning(r.Context(), requestID, body.Address, body.Signature, body.SignalHash)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
		return
	}

	result, err := skills.Dispatch(r.Context(), s.deps, "check_status", map[string]interface{}{"requestId": requestID}, "")
	if err != nil {
		writeError(w, err)
		return
	}
	respondResult(w, result)
}

// handlePaymentSub routes /api/v1/payment/{id} (request_payment) and
// /api/v1/payment/{id}/complete (records a settled transaction directly,
// standing in for the facilitator's settlement webhook).
func (s *Server) handlePaymentSub(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/payment/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	requestID := parts[0]

	if len(parts) == 2 && parts[1] == "complete" && r.Method == http.MethodPost {
		var body struct {
			TxHash string `json:"txHash"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, apierr.Validation("invalid JSON body: %v", err))
			return
		}
		req, err := s.deps.Requests.CompletePayment(r.Context(), requestID, body.TxHash)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
		return
	}

	result, err := skills.Dispatch(r.Context(), s.deps, "request_payment", map[string]interface{}{"requestId": requestID}, "")
	if err != nil {
		writeError(w, err)
		return
	}
	respondResult(w, result)
}

// handleCreateFlow starts a combined signing+payment flow over a fresh
// request, returning the flow id the caller polls via handleFlowSub.
func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		CircuitID   string   `json:"circuitId"`
		Scope       string   `json:"scope"`
		CountryList []string `json:"countryList"`
		IsIncluded  *bool    `json:"isIncluded"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierr.Validation("invalid JSON body: %v", err))
		return
	}
	if body.CircuitID == "" || body.Scope == "" {
		writeError(w, apierr.Validation("circuitId and scope are required"))
		return
	}
	flow, err := s.flows.Create(r.Context(), body.CircuitID, body.Scope, body.CountryList, body.IsIncluded)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, flow)
}

// handleFlowSub serves GET /api/v1/flows/{id}: each read auto-advances the
// flow from ready to generating, enqueueing the backing generate_proof task
// exactly once.
func (s *Server) handleFlowSub(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/flows/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	flow, err := s.flows.Read(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

// handleCreateProof persists a generate_proof task and enqueues it for the
// worker pool; the caller polls or streams for its eventual result.
func (s *Server) handleCreateProof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var params map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, apierr.Validation("invalid JSON body: %v", err))
		return
	}
	contextID := r.Header.Get("x-context-id")
	if contextID == "" {
		contextID = uuid.NewString()
	}

	t := task.New(uuid.NewString(), contextID, "generate_proof", params)
	if err := s.tasks.Create(r.Context(), t); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

// handleProofSub serves /api/v1/proofs/{id}, /api/v1/proofs/{id}/stream and
// DELETE /api/v1/proofs/{id} once the verify/create routes above have not
// already claimed the path.
func (s *Server) handleProofSub(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/proofs/")
	if rest == "" || rest == "verify" {
		http.NotFound(w, r)
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]

	if r.Method == http.MethodDelete {
		t, err := s.tasks.Cancel(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
		return
	}

	if len(parts) == 2 && parts[1] == "stream" {
		s.streamTask(w, r, id)
		return
	}

	t, err := s.tasks.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) streamTask(w http.ResponseWriter, r *http.Request, taskID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, unsubscribe := s.bus.Subscribe(taskID)
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, _ := json.Marshal(ev)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload)
			flusher.Flush()
			if ev.Kind == eventbus.KindTaskComplete {
				return
			}
		}
	}
}
