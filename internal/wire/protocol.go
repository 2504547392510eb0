// Package wire defines the JSON-RPC 2.0 method names and payload shapes
// spoken with a locally spawned Agent Communication Protocol (ACP) agent.
//
// Every type here is a pure data shape — no I/O, no locking. The frame
// codec and router live in internal/conn; the turn engine and session
// manager translate between these shapes and the client's public API.
package wire

import "encoding/json"

// JSON-RPC 2.0 method names used by this client.
const (
	MethodInitialize        = "initialize"
	MethodSessionNew        = "session/new"
	MethodSessionLoad       = "session/load"
	MethodSessionPrompt     = "session/prompt"
	MethodSessionCancel     = "session/cancel"
	MethodSessionSetModel   = "session/set_model"
	MethodSessionSetMode    = "session/set_mode"
	MethodCommandsAvailable = "_kiro.dev/commands/available"
	MethodCommandsExecute   = "_kiro.dev/commands/execute"
	MethodShutdown          = "shutdown"

	MethodSessionUpdate      = "session/update"
	MethodMetadata           = "kiro.dev/metadata"
	MethodCompactionStatus   = "_kiro.dev/compaction/status"
	MethodRequestPermission  = "session/request_permission"
)

// ProtocolVersion is the ACP protocol version tag sent on initialize.
const ProtocolVersion = "1.0"

// ClientInfo identifies this client to the agent.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is sent as the first request on every connection.
type InitializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ClientInfo      ClientInfo `json:"clientInfo"`
}

// InitializeResult is the agent's response to initialize.
// Fields beyond protocolVersion are not interpreted by this client.
type InitializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
}

// MCPServer describes an MCP server to attach to a session.
// Always sent as an empty slice — see SPEC_FULL.md Domain Stack.
type MCPServer struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// NewSessionParams creates a new agent session.
type NewSessionParams struct {
	CWD        string      `json:"cwd"`
	MCPServers []MCPServer `json:"mcpServers"`
}

// LoadSessionParams resumes an existing session by id.
type LoadSessionParams struct {
	SessionID  string      `json:"sessionId"`
	CWD        string      `json:"cwd"`
	MCPServers []MCPServer `json:"mcpServers"`
}

// SessionEstablishResult is the common reply shape for session/new and
// session/load (spec.md §6: "same shape").
type SessionEstablishResult struct {
	SessionID string        `json:"sessionId"`
	Models    *ModelCatalog `json:"models,omitempty"`
	Modes     *ModeCatalog  `json:"modes,omitempty"`
}

// ModelCatalog is the agent-advertised set of selectable models.
type ModelCatalog struct {
	CurrentModelID string      `json:"currentModelId"`
	Available      []ModelInfo `json:"availableModels"`
}

// ModelInfo describes one selectable model.
type ModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ModeCatalog is the agent-advertised set of selectable operating modes.
type ModeCatalog struct {
	CurrentModeID string     `json:"currentModeId"`
	Available     []ModeInfo `json:"availableModes"`
}

// ModeInfo describes one selectable operating mode.
type ModeInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Description string `json:"description,omitempty"`
}

// --- Prompt content blocks ---

// ContentBlock is one element of a session/prompt request. Exactly one
// of the type-specific fields is populated, selected by Type.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`

	// resource
	Resource *ResourceBlock `json:"resource,omitempty"`
}

// ResourceBlock is the payload of a "resource"-typed content block.
type ResourceBlock struct {
	URI      string `json:"uri"`
	Text     string `json:"text"`
	MimeType string `json:"mimeType"`
}

// TextBlock builds a {"type":"text"} content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ImageBlock builds a {"type":"image"} content block.
func ImageBlock(base64Data, mimeType string) ContentBlock {
	return ContentBlock{Type: "image", Data: base64Data, MimeType: mimeType}
}

// ResourceContentBlock builds a {"type":"resource"} content block.
func ResourceContentBlock(uri, text, mimeType string) ContentBlock {
	return ContentBlock{Type: "resource", Resource: &ResourceBlock{URI: uri, Text: text, MimeType: mimeType}}
}

// PromptParams sends a user turn to a session.
type PromptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// ContextUsage is the single-percentage context-window fill metric.
type ContextUsage struct {
	Percentage float64 `json:"percentage"`
}

// PromptResult is the response when session/prompt completes.
type PromptResult struct {
	StopReason   string        `json:"stopReason,omitempty"`
	ContextUsage *ContextUsage `json:"contextUsage,omitempty"`
}

// CancelParams requests cancellation of the active turn.
type CancelParams struct {
	SessionID string `json:"sessionId"`
}

// SetModelParams switches the session's active model.
type SetModelParams struct {
	SessionID string `json:"sessionId"`
	ModelID   string `json:"modelId"`
}

// SetModeParams switches the session's active operating mode.
type SetModeParams struct {
	SessionID string `json:"sessionId"`
	ModeID    string `json:"modeId"`
}

// CommandsAvailableParams requests the slash-command catalog.
type CommandsAvailableParams struct {
	SessionID string `json:"sessionId"`
}

// CommandInfo describes one slash command the agent supports.
type CommandInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CommandsAvailableResult is the reply to _kiro.dev/commands/available.
type CommandsAvailableResult struct {
	Commands []CommandInfo `json:"commands"`
}

// CommandsExecuteParams invokes a slash command in a session.
type CommandsExecuteParams struct {
	SessionID string `json:"sessionId"`
	Command   string `json:"command"`
}

// --- Notifications (agent -> client) ---

// SessionNotification is the outer envelope for session/update.
type SessionNotification struct {
	SessionID string          `json:"sessionId"`
	Update    json.RawMessage `json:"update"`
}

// UpdateHeader extracts the discriminator from a session/update inner payload.
type UpdateHeader struct {
	SessionUpdate string `json:"sessionUpdate"`
}

// ContentChunkUpdate is the inner payload for agent_message_chunk.
type ContentChunkUpdate struct {
	Content struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// ToolCallUpdate is the inner payload for tool_call and tool_call_update.
type ToolCallUpdate struct {
	ToolCallID string     `json:"toolCallId"`
	Title      string     `json:"title,omitempty"`
	Kind       string     `json:"kind,omitempty"`
	Status     string     `json:"status,omitempty"`
	Locations  []Location `json:"locations,omitempty"`
}

// Location is a file position referenced by a tool call update.
type Location struct {
	Path string `json:"path"`
	Line *int   `json:"line,omitempty"`
}

// TurnEndUpdate is the inner payload for turn_end.
type TurnEndUpdate struct {
	ContextUsage *ContextUsage `json:"contextUsage,omitempty"`
}

// MetadataNotification is the kiro.dev/metadata notification payload.
type MetadataNotification struct {
	ContextUsagePercentage *float64 `json:"contextUsagePercentage,omitempty"`
}

// CompactionStatusNotification is the _kiro.dev/compaction/status payload.
type CompactionStatusNotification struct {
	Status string `json:"status"`
}

// CompactionInProgress is the status value meaning compaction is running.
const CompactionInProgress = "in_progress"

// --- Incoming request (agent -> client) ---

// RequestPermissionParams is the inbound session/request_permission payload.
type RequestPermissionParams struct {
	SessionID string           `json:"sessionId"`
	ToolCall  ToolCallUpdate   `json:"toolCall"`
	Options   []PermissionOpt  `json:"options"`
}

// PermissionOpt is one selectable outcome offered by the agent.
type PermissionOpt struct {
	Kind     string `json:"kind"`
	OptionID string `json:"optionId"`
}

// PermissionOutcome is the decision embedded in the response to
// session/request_permission.
type PermissionOutcome struct {
	Outcome  string `json:"outcome"`
	OptionID string `json:"optionId,omitempty"`
}

// RequestPermissionResult wraps the outcome for the JSON-RPC response.
type RequestPermissionResult struct {
	Outcome PermissionOutcome `json:"outcome"`
}

// Permission kind/outcome string constants (spec.md §4.5).
const (
	PermKindAllowOnce  = "allow_once"
	PermKindAllowMost  = "allow" // prefix match: any kind beginning with "allow"
	PermKindRejectOnce = "reject_once"
	PermKindRejectMost = "reject"

	OutcomeSelected = "selected"
)
