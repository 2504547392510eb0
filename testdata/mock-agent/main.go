//go:build ignore

// Command mock-agent simulates a kiro-cli acp agent for integration
// tests. It speaks the subset of the wire protocol this client drives:
// initialize, session/new, session/load, session/prompt, session/cancel,
// session/set_model, session/set_mode, _kiro.dev/commands/available,
// _kiro.dev/commands/execute, shutdown.
//
// Environment variables select a failure mode:
//
//	ACP_MOCK_MODE=init-error        — return a JSON-RPC error to initialize
//	ACP_MOCK_MODE=session-not-found — return an error for session/load
//	ACP_MOCK_MODE=handshake-crash   — exit after initialize, before session/new
//	ACP_MOCK_MODE=permission        — send session/request_permission during a prompt
//	ACP_MOCK_MODE=no-commands       — reply to commands/available with method-not-found
//	ACP_MOCK_MODE=metadata          — emit a kiro.dev/metadata notification during a prompt
//	ACP_MOCK_MODE=compaction        — emit a _kiro.dev/compaction/status notification
//	ACP_MOCK_MODE=slow-prompt       — delay the prompt response by 2s
//	ACP_MOCK_MODE=ignore-term       — ignore SIGTERM so disposal escalates to SIGKILL
//	ACP_MOCK_MODE=crash-after-turn  — exit right after the first prompt response
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

var (
	enc     = json.NewEncoder(os.Stdout)
	scanner = bufio.NewScanner(os.Stdin)
	mode    = os.Getenv("ACP_MOCK_MODE")
	nextID  int64

	sessionID = "mock-session-001"
)

func main() {
	if mode == "ignore-term" {
		signal.Ignore(syscall.SIGTERM)
	}
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		var req rpcRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		handle(&req)
	}
}

func handle(req *rpcRequest) {
	switch req.Method {
	case "initialize":
		handleInitialize(req)
	case "session/new":
		handleSessionNew(req)
	case "session/load":
		handleSessionLoad(req)
	case "session/prompt":
		handleSessionPrompt(req)
	case "session/cancel":
		respond(req.ID, struct{}{})
	case "session/set_model":
		respond(req.ID, struct{}{})
	case "session/set_mode":
		respond(req.ID, struct{}{})
	case "_kiro.dev/commands/available":
		handleCommandsAvailable(req)
	case "_kiro.dev/commands/execute":
		respond(req.ID, struct{}{})
	case "shutdown":
		respond(req.ID, struct{}{})
		os.Exit(0)
	}
}

func handleInitialize(req *rpcRequest) {
	if mode == "init-error" {
		respondError(req.ID, -32600, "mock init error")
		return
	}
	respond(req.ID, map[string]any{"protocolVersion": "1.0"})
	if mode == "handshake-crash" {
		os.Exit(1)
	}
}

func handleSessionNew(req *rpcRequest) {
	respond(req.ID, map[string]any{
		"sessionId": sessionID,
		"models": map[string]any{
			"currentModelId": "model-a",
			"availableModels": []map[string]string{
				{"id": "model-a", "name": "Model A"},
				{"id": "model-b", "name": "Model B"},
			},
		},
		"modes": map[string]any{
			"currentModeId": "code",
			"availableModes": []map[string]string{
				{"id": "code", "name": "Code"},
				{"id": "plan", "name": "Plan"},
			},
		},
	})
}

func handleSessionLoad(req *rpcRequest) {
	if mode == "session-not-found" {
		respondError(req.ID, -32000, "session not found")
		return
	}
	respond(req.ID, map[string]any{"sessionId": sessionID})
}

func handleSessionPrompt(req *rpcRequest) {
	var params struct {
		SessionID string `json:"sessionId"`
	}
	_ = json.Unmarshal(req.Params, &params)
	sid := params.SessionID

	if mode == "slow-prompt" {
		time.Sleep(2 * time.Second)
	}
	if mode == "permission" {
		optionID := sendPermissionRequest()
		notifyUpdate(sid, map[string]any{
			"sessionUpdate": "agent_message_chunk",
			"content":       map[string]string{"type": "text", "text": "perm:" + optionID + ";"},
		})
	}

	notifyUpdate(sid, map[string]any{
		"sessionUpdate": "agent_message_chunk",
		"content":       map[string]string{"type": "text", "text": "Hello"},
	})
	notifyUpdate(sid, map[string]any{
		"sessionUpdate": "agent_message_chunk",
		"content":       map[string]string{"type": "text", "text": " world"},
	})

	if mode == "metadata" {
		notify("kiro.dev/metadata", map[string]any{"contextUsagePercentage": 17.5})
	}
	if mode == "compaction" {
		notify("_kiro.dev/compaction/status", map[string]any{"status": "in_progress"})
	}

	respond(req.ID, map[string]any{"stopReason": "end_turn"})

	if mode == "crash-after-turn" {
		os.Exit(1)
	}
}

func handleCommandsAvailable(req *rpcRequest) {
	if mode == "no-commands" {
		respondError(req.ID, -32601, "method not found")
		return
	}
	respond(req.ID, map[string]any{
		"commands": []map[string]string{
			{"name": "explain", "description": "Explain the current file"},
		},
	})
}

// sendPermissionRequest issues a session/request_permission call and
// returns the optionId the client chose, so callers can surface the
// client's actual decision back through the turn.
func sendPermissionRequest() string {
	nextID++
	id := nextID
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "session/request_permission",
		"params": map[string]any{
			"sessionId": sessionID,
			"toolCall":  map[string]any{"toolCallId": "call_1", "title": "write_file", "kind": "edit"},
			"options": []map[string]string{
				{"optionId": "allow-once", "kind": "allow_once"},
				{"optionId": "reject-once", "kind": "reject_once"},
			},
		},
	}
	_ = enc.Encode(req)
	if !scanner.Scan() {
		return ""
	}
	var resp rpcResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return ""
	}
	var result struct {
		Outcome struct {
			OptionID string `json:"optionId"`
		} `json:"outcome"`
	}
	_ = json.Unmarshal(resp.Result, &result)
	return result.Outcome.OptionID
}

func respond(id *int64, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mock-agent: marshal: %v\n", err)
		return
	}
	_ = enc.Encode(rpcResponse{JSONRPC: "2.0", ID: id, Result: data})
}

func respondError(id *int64, code int, message string) {
	_ = enc.Encode(rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}

func notify(method string, params any) {
	data, err := json.Marshal(params)
	if err != nil {
		return
	}
	_ = enc.Encode(map[string]any{"jsonrpc": "2.0", "method": method, "params": json.RawMessage(data)})
}

func notifyUpdate(sessionID string, update any) {
	data, err := json.Marshal(update)
	if err != nil {
		return
	}
	notify("session/update", map[string]any{"sessionId": sessionID, "update": json.RawMessage(data)})
}
