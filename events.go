package acpclient

import "github.com/arkveil/acpclient/internal/turn"

// TurnEvent is one element of a chat_stream turn's event sequence
// (spec.md §3). It is a closed union discriminated by Kind; only the
// fields relevant to that Kind are populated.
type TurnEvent = turn.Event

// EventKind discriminates the closed set of turn events.
type EventKind = turn.Kind

// The closed set of event kinds a turn can produce.
const (
	EventToken          = turn.KindToken
	EventToolCall       = turn.KindToolCall
	EventToolCallUpdate = turn.KindToolCallUpdate
	EventToolResult     = turn.KindToolResult
	EventContextUsage   = turn.KindContextUsage
	EventCompaction     = turn.KindCompaction
	EventDone           = turn.KindDone
	EventError          = turn.KindError
)

// ToolInfo carries the fields shared by tool_call, tool_call_update, and
// tool_result events.
type ToolInfo = turn.ToolInfo

// ChatMessage is one role-tagged message in a prompt (spec.md §3).
type ChatMessage = turn.ChatMessage

// ImageAttachment is an inline base64 image content block input.
type ImageAttachment = turn.ImageAttachment

// FileAttachment is a named text file content block input.
type FileAttachment = turn.FileAttachment

// DocumentResource is the single optional document resource content
// block input.
type DocumentResource = turn.DocumentResource

// PromptRequest is the full input to chat_stream/chat (spec.md §4.6).
type PromptRequest = turn.PromptRequest
