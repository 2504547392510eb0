package turn

import "github.com/arkveil/acpclient/internal/wire"

// Kind discriminates the closed set of events a turn can produce
// (spec.md §3). No other cases exist — callers may switch exhaustively.
type Kind int

const (
	KindToken Kind = iota
	KindToolCall
	KindToolCallUpdate
	KindToolResult
	KindContextUsage
	KindCompaction
	KindDone
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindToken:
		return "token"
	case KindToolCall:
		return "tool_call"
	case KindToolCallUpdate:
		return "tool_call_update"
	case KindToolResult:
		return "tool_result"
	case KindContextUsage:
		return "context_usage"
	case KindCompaction:
		return "compaction"
	case KindDone:
		return "done"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// ToolInfo carries the fields shared by tool_call, tool_call_update, and
// tool_result events.
type ToolInfo struct {
	ID        string
	Title     string
	Kind      string
	Status    string
	Locations []wire.Location
}

// Event is one element of a turn's event sequence. Exactly the fields
// relevant to Kind are populated; the rest are zero.
type Event struct {
	Kind Kind

	Text string // KindToken

	Tool *ToolInfo // KindToolCall, KindToolCallUpdate, KindToolResult

	Percentage float64 // KindContextUsage

	Compacting bool // KindCompaction

	ErrorText string // KindError
}

func tokenEvent(text string) Event   { return Event{Kind: KindToken, Text: text} }
func doneEvent() Event               { return Event{Kind: KindDone} }
func errorEvent(text string) Event   { return Event{Kind: KindError, ErrorText: text} }
func contextUsage(pct float64) Event { return Event{Kind: KindContextUsage, Percentage: pct} }
func compactionEvent(active bool) Event {
	return Event{Kind: KindCompaction, Compacting: active}
}
