// Package a2a implements the agent-to-agent JSON-RPC frontend: message/send,
// message/stream (SSE), tasks/get, tasks/cancel and tasks/resubscribe, all
// sharing the same task store and skill dispatcher as the REST frontend.
package a2a

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/provenanceagent/proof-agent/pkg/apierr"
	"github.com/provenanceagent/proof-agent/pkg/eventbus"
	"github.com/provenanceagent/proof-agent/pkg/skills"
	"github.com/provenanceagent/proof-agent/pkg/task"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope; exactly one of Result/Error
// is populated.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func errResponse(id interface{}, err error) Response {
	kind := apierr.KindOf(err)
	return Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: apierr.JSONRPCCode(kind), Message: err.Error()}}
}

// messageSendParams mirrors the A2A message/send and message/stream payload:
// a single user message addressed to a skill, optionally bound to an
// existing conversational context.
type messageSendParams struct {
	ContextID string                 `json:"contextId"`
	Skill     string                 `json:"skill"`
	Params    map[string]interface{} `json:"params"`
}

type taskIDParams struct {
	TaskID string `json:"taskId"`
}

// Handler dispatches JSON-RPC calls against the shared task store, event
// bus and skill registry.
type Handler struct {
	tasks  *task.Store
	bus    *eventbus.Bus
	deps   *skills.Deps
	logger *log.Logger
}

func New(tasks *task.Store, bus *eventbus.Bus, deps *skills.Deps, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(log.Writer(), "[A2A] ", log.LstdFlags)
	}
	return &Handler{tasks: tasks, bus: bus, deps: deps, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONRPC(w, errResponse(nil, apierr.Validation("invalid JSON-RPC request: %v", err)))
		return
	}

	switch req.Method {
	case "message/send":
		h.handleMessageSend(w, r, req)
	case "message/stream":
		h.handleMessageStream(w, r, req)
	case "tasks/get":
		h.handleTasksGet(w, r, req)
	case "tasks/cancel":
		h.handleTasksCancel(w, r, req)
	case "tasks/resubscribe":
		h.handleTasksResubscribe(w, r, req)
	default:
		writeJSONRPC(w, errResponse(req.ID, apierr.Validation("unknown method %q", req.Method)))
	}
}

func writeJSONRPC(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) decodeMessageSend(req Request) (messageSendParams, error) {
	var p messageSendParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return p, apierr.Validation("invalid message/send params: %v", err)
	}
	if p.Skill == "" {
		return p, apierr.Validation("skill is required")
	}
	if p.ContextID == "" {
		p.ContextID = uuid.NewString()
	}
	if p.Params == nil {
		p.Params = map[string]interface{}{}
	}
	return p, nil
}

// handleMessageSend dispatches free skills synchronously and persists a
// task for generate_proof, mirroring the REST frontend's split.
func (h *Handler) handleMessageSend(w http.ResponseWriter, r *http.Request, req Request) {
	p, err := h.decodeMessageSend(req)
	if err != nil {
		writeJSONRPC(w, errResponse(req.ID, err))
		return
	}

	if p.Skill == "generate_proof" {
		t := task.New(uuid.NewString(), p.ContextID, p.Skill, p.Params)
		if err := h.tasks.Create(r.Context(), t); err != nil {
			writeJSONRPC(w, errResponse(req.ID, err))
			return
		}
		writeJSONRPC(w, Response{JSONRPC: "2.0", ID: req.ID, Result: t})
		return
	}

	result, err := skills.Dispatch(r.Context(), h.deps, p.Skill, p.Params, p.ContextID)
	if err != nil {
		writeJSONRPC(w, errResponse(req.ID, err))
		return
	}
	writeJSONRPC(w, Response{JSONRPC: "2.0", ID: req.ID, Result: result})
}

// handleMessageStream behaves like message/send for generate_proof but
// upgrades the connection to an SSE stream of the resulting task's events
// instead of returning once the task is merely queued.
func (h *Handler) handleMessageStream(w http.ResponseWriter, r *http.Request, req Request) {
	p, err := h.decodeMessageSend(req)
	if err != nil {
		writeJSONRPC(w, errResponse(req.ID, err))
		return
	}

	t := task.New(uuid.NewString(), p.ContextID, p.Skill, p.Params)
	if err := h.tasks.Create(r.Context(), t); err != nil {
		writeJSONRPC(w, errResponse(req.ID, err))
		return
	}
	h.streamTask(w, r, t.ID)
}

func (h *Handler) handleTasksGet(w http.ResponseWriter, r *http.Request, req Request) {
	var p taskIDParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.TaskID == "" {
		writeJSONRPC(w, errResponse(req.ID, apierr.Validation("taskId is required")))
		return
	}
	t, err := h.tasks.GetTask(r.Context(), p.TaskID)
	if err != nil {
		writeJSONRPC(w, errResponse(req.ID, err))
		return
	}
	writeJSONRPC(w, Response{JSONRPC: "2.0", ID: req.ID, Result: t})
}

func (h *Handler) handleTasksCancel(w http.ResponseWriter, r *http.Request, req Request) {
	var p taskIDParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.TaskID == "" {
		writeJSONRPC(w, errResponse(req.ID, apierr.Validation("taskId is required")))
		return
	}
	t, err := h.tasks.Cancel(r.Context(), p.TaskID)
	if err != nil {
		writeJSONRPC(w, errResponse(req.ID, err))
		return
	}
	writeJSONRPC(w, Response{JSONRPC: "2.0", ID: req.ID, Result: t})
}

func (h *Handler) handleTasksResubscribe(w http.ResponseWriter, r *http.Request, req Request) {
	var p taskIDParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.TaskID == "" {
		writeJSONRPC(w, errResponse(req.ID, apierr.Validation("taskId is required")))
		return
	}
	if _, err := h.tasks.GetTask(r.Context(), p.TaskID); err != nil {
		writeJSONRPC(w, errResponse(req.ID, err))
		return
	}
	h.streamTask(w, r, p.TaskID)
}

func (h *Handler) streamTask(w http.ResponseWriter, r *http.Request, taskID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, unsubscribe := h.bus.Subscribe(taskID)
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeSSEFrame(w, ev)
			flusher.Flush()
			if ev.Kind == eventbus.KindTaskComplete {
				return
			}
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, ev eventbus.Event) {
	payload, _ := json.Marshal(ev)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload)
}
