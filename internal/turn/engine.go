// Package turn runs one session/prompt exchange and turns the agent's
// interleaved notification stream plus its eventual response into the
// closed Event sequence described in spec.md §3 and §4.6.
//
// Grounded on github.com/dmora/agentrun's engine/acp/process.go (Send,
// handlePromptResult) for the prompt/response half and update.go
// (updateParsers dispatch table) for the notification-translation half,
// restructured around an explicit Event union instead of the teacher's
// agentrun.Message, and around a queue the subscriber owns instead of a
// channel shared with the whole process's output.
package turn

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/arkveil/acpclient/internal/conn"
	"github.com/arkveil/acpclient/internal/session"
	"github.com/arkveil/acpclient/internal/wire"
)

const defaultQueueSize = 64

// Engine runs prompts against a single session.
type Engine struct {
	conn     *conn.Conn
	sessions *session.Manager
	tracker  *ContextTracker
	log      *zap.Logger
}

// NewEngine constructs a turn Engine over a live connection and session
// manager, sharing the connection-wide context tracker so mid-turn
// metadata updates and the persistent subscriber agree on the latest
// value.
func NewEngine(c *conn.Conn, sessions *session.Manager, tracker *ContextTracker, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{conn: c, sessions: sessions, tracker: tracker, log: log}
}

// Run ensures a session, assembles the prompt, and returns a channel of
// events that ends with exactly one KindDone or KindError (spec.md §3).
// The returned channel is closed once the terminal event is delivered.
func (e *Engine) Run(ctx context.Context, req PromptRequest) (<-chan Event, error) {
	sessionID, err := e.sessions.Ensure(ctx)
	if err != nil {
		return nil, err
	}
	blocks := AssemblePrompt(req)

	q := newEventQueue(defaultQueueSize)

	var subID conn.SubscriptionID
	subID = e.conn.OnNotification(func(method string, params json.RawMessage) {
		e.translate(ctx, q, method, params)
	})

	go func() {
		var result wire.PromptResult
		callErr := e.conn.Call(ctx, wire.MethodSessionPrompt, wire.PromptParams{SessionID: sessionID, Prompt: blocks}, &result)
		e.conn.Unsubscribe(subID)

		if callErr != nil {
			q.push(ctx, errorEvent(callErr.Error()))
			q.close()
			return
		}
		if result.ContextUsage != nil {
			e.tracker.SetPercentage(result.ContextUsage.Percentage)
			q.push(ctx, contextUsage(result.ContextUsage.Percentage))
		}
		q.push(ctx, doneEvent())
		q.close()
	}()

	return q.ch, nil
}

// translate maps one inbound notification to zero or more pushed events,
// per the table in spec.md §4.6.
func (e *Engine) translate(ctx context.Context, q *eventQueue, method string, params json.RawMessage) {
	switch method {
	case wire.MethodSessionUpdate:
		e.translateSessionUpdate(ctx, q, params)
	case wire.MethodMetadata:
		var n wire.MetadataNotification
		if err := json.Unmarshal(params, &n); err != nil {
			e.log.Debug("acp: malformed metadata notification", zap.Error(err))
			return
		}
		if n.ContextUsagePercentage == nil {
			return // no percentage field: no event, no cache change (spec.md §8 scenario 3)
		}
		e.tracker.SetPercentage(*n.ContextUsagePercentage)
		q.push(ctx, contextUsage(*n.ContextUsagePercentage))
	case wire.MethodCompactionStatus:
		var n wire.CompactionStatusNotification
		if err := json.Unmarshal(params, &n); err != nil {
			e.log.Debug("acp: malformed compaction notification", zap.Error(err))
			return
		}
		active := n.Status == wire.CompactionInProgress
		e.tracker.SetCompacting(active)
		q.push(ctx, compactionEvent(active))
	}
}

func (e *Engine) translateSessionUpdate(ctx context.Context, q *eventQueue, params json.RawMessage) {
	var notif wire.SessionNotification
	if err := json.Unmarshal(params, &notif); err != nil {
		e.log.Debug("acp: malformed session/update envelope", zap.Error(err))
		return
	}
	var header wire.UpdateHeader
	if err := json.Unmarshal(notif.Update, &header); err != nil {
		e.log.Debug("acp: malformed session/update header", zap.Error(err))
		return
	}

	switch header.SessionUpdate {
	case "agent_message_chunk":
		var chunk wire.ContentChunkUpdate
		if err := json.Unmarshal(notif.Update, &chunk); err != nil {
			e.log.Debug("acp: malformed agent_message_chunk", zap.Error(err))
			return
		}
		if chunk.Content.Text != "" {
			q.push(ctx, tokenEvent(chunk.Content.Text))
		}
	case "tool_call":
		var tc wire.ToolCallUpdate
		if err := json.Unmarshal(notif.Update, &tc); err != nil {
			e.log.Debug("acp: malformed tool_call", zap.Error(err))
			return
		}
		q.push(ctx, Event{Kind: KindToolCall, Tool: &ToolInfo{
			ID: tc.ToolCallID, Title: tc.Title, Kind: tc.Kind, Status: "running",
		}})
	case "tool_call_update":
		var tc wire.ToolCallUpdate
		if err := json.Unmarshal(notif.Update, &tc); err != nil {
			e.log.Debug("acp: malformed tool_call_update", zap.Error(err))
			return
		}
		status := tc.Status
		if status == "" {
			status = "running"
		}
		q.push(ctx, Event{Kind: KindToolCallUpdate, Tool: &ToolInfo{
			ID: tc.ToolCallID, Title: tc.Title, Status: status, Locations: tc.Locations,
		}})
	case "tool_result":
		var tc wire.ToolCallUpdate
		if err := json.Unmarshal(notif.Update, &tc); err != nil {
			e.log.Debug("acp: malformed tool_result", zap.Error(err))
			return
		}
		q.push(ctx, Event{Kind: KindToolResult, Tool: &ToolInfo{
			ID: tc.ToolCallID, Title: tc.Title, Status: "done",
		}})
	case "turn_end":
		var te wire.TurnEndUpdate
		if err := json.Unmarshal(notif.Update, &te); err != nil {
			e.log.Debug("acp: malformed turn_end", zap.Error(err))
			return
		}
		// Open Question (spec.md §9): turn_end's contextUsage updates the
		// cache silently — it never produces its own event, asymmetric
		// with the metadata and prompt-response paths.
		if te.ContextUsage != nil {
			e.tracker.SetPercentage(te.ContextUsage.Percentage)
		}
	default:
		e.log.Debug("acp: unhandled session update kind", zap.String("kind", header.SessionUpdate))
	}
}

// Cancel issues a best-effort session/cancel for the established session.
// A missing session is a no-op; failures are logged and swallowed
// (spec.md §4.6).
func (e *Engine) Cancel(ctx context.Context) {
	sessionID := e.sessions.SessionID()
	if sessionID == "" {
		return
	}
	if err := e.conn.Call(ctx, wire.MethodSessionCancel, wire.CancelParams{SessionID: sessionID}, nil); err != nil {
		e.log.Debug("acp: session/cancel failed", zap.Error(err))
	}
}

// ContextUsage returns the cached context-usage percentage, if any has
// been recorded yet.
func (e *Engine) ContextUsage() (float64, bool) {
	return e.tracker.Percentage()
}

// IsCompacting reports the cached compaction flag.
func (e *Engine) IsCompacting() bool {
	return e.tracker.IsCompacting()
}

// Chat drains a chat_stream into a single string, raising the turn's
// error if it ends with KindError (spec.md §4.8 convenience wrapper).
func Chat(ctx context.Context, e *Engine, req PromptRequest) (string, error) {
	events, err := e.Run(ctx, req)
	if err != nil {
		return "", err
	}
	var out []byte
	for ev := range events {
		switch ev.Kind {
		case KindToken:
			out = append(out, ev.Text...)
		case KindError:
			return string(out), fmt.Errorf("acp: turn failed: %s", ev.ErrorText)
		case KindDone:
			return string(out), nil
		}
	}
	return string(out), nil
}
