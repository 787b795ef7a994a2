// Package mcp implements the Model Context Protocol frontend: initialize,
// tools/list and tools/call, exposing every skill as an MCP tool backed by
// the same dispatcher the REST and A2A frontends share.
package mcp

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/provenanceagent/proof-agent/pkg/apierr"
	"github.com/provenanceagent/proof-agent/pkg/skills"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func errResponse(id interface{}, err error) rpcResponse {
	kind := apierr.KindOf(err)
	return rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: apierr.JSONRPCCode(kind), Message: err.Error()}}
}

// tool describes a single MCP tool: name, human description and the JSON
// schema of the arguments the underlying skill accepts.
type tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

var tools = []tool{
	{Name: "get_supported_circuits", Description: "List the zero-knowledge circuits this agent can prove.", InputSchema: objectSchema(nil)},
	{Name: "verify_proof", Description: "Verify a previously generated proof on-chain.", InputSchema: objectSchema([]string{"circuitId", "proof", "publicInputs"})},
	{Name: "request_signing", Description: "Begin a signing flow for a wallet-bound attestation.", InputSchema: objectSchema([]string{"circuitId", "scope"})},
	{Name: "check_status", Description: "Check the status of an in-flight signing or payment request.", InputSchema: objectSchema(nil)},
	{Name: "request_payment", Description: "Obtain the payment challenge for a pending request.", InputSchema: objectSchema(nil)},
	{Name: "generate_proof", Description: "Generate a zero-knowledge proof over an attested credential.", InputSchema: objectSchema([]string{"circuitId", "scope"})},
}

func objectSchema(required []string) map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
		"required":   required,
	}
}

// Handler serves the MCP JSON-RPC surface, switching to an SSE framing of
// the single response when the client negotiates text/event-stream.
type Handler struct {
	deps   *skills.Deps
	logger *log.Logger
}

func New(deps *skills.Deps, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(log.Writer(), "[MCP] ", log.LstdFlags)
	}
	return &Handler{deps: deps, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, r, errResponse(nil, apierr.Validation("invalid JSON-RPC request: %v", err)))
		return
	}

	var resp rpcResponse
	switch req.Method {
	case "initialize":
		resp = rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"serverInfo":      map[string]string{"name": "proof-agent", "version": "1.0"},
			"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
		}}
	case "tools/list":
		resp = rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{"tools": tools}}
	case "tools/call":
		resp = h.handleToolsCall(r, req)
	default:
		resp = errResponse(req.ID, apierr.Validation("unknown method %q", req.Method))
	}
	h.respond(w, r, resp)
}

func (h *Handler) handleToolsCall(r *http.Request, req rpcRequest) rpcResponse {
	var params struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
		ContextID string                 `json:"contextId"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, apierr.Validation("invalid tools/call params: %v", err))
	}
	if params.Arguments == nil {
		params.Arguments = map[string]interface{}{}
	}
	if !isKnownTool(params.Name) {
		return errResponse(req.ID, apierr.Validation("unknown tool %q", params.Name))
	}

	result, err := skills.Dispatch(r.Context(), h.deps, params.Name, params.Arguments, params.ContextID)
	if err != nil {
		return errResponse(req.ID, err)
	}

	content := []map[string]interface{}{}
	for _, artifact := range result.Artifacts {
		for _, part := range artifact.Parts {
			if part.Text != "" {
				content = append(content, map[string]interface{}{"type": "text", "text": part.Text})
			}
			if part.Data != nil {
				encoded, _ := json.Marshal(part.Data)
				content = append(content, map[string]interface{}{"type": "text", "text": string(encoded)})
			}
		}
	}

	return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{
		"content": content,
		"isError": result.Status == "failed",
	}}
}

func isKnownTool(name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, resp rpcResponse) {
	if r.Header.Get("Accept") == "text/event-stream" {
		flusher, ok := w.(http.Flusher)
		if ok {
			w.Header().Set("Content-Type", "text/event-stream")
			payload, _ := json.Marshal(resp)
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
			flusher.Flush()
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
