// Package permission implements the auto-decision policy for inbound
// session/request_permission calls (spec.md §4.5): select an option by
// kind according to a single "edits allowed" boolean, never blocking and
// never failing.
//
// Grounded on github.com/dmora/agentrun's engine/acp/process.go
// (makePermissionHandler/firstOptionByKind/selectPermissionOption/
// cancelledPermission), stripped of the HITL-handler indirection the
// teacher supports — this spec's policy is purely mode-driven, with no
// caller-supplied callback.
package permission

import (
	"strings"

	"go.uber.org/zap"

	"github.com/arkveil/acpclient/internal/wire"
)

// Decide selects the outcome for an inbound request_permission call.
// editsAllowed true selects from the allow side, false from the reject
// side (spec.md §4.5). Never returns an error — it always produces a
// "selected" outcome, falling back to a literal option id when the
// agent's option list doesn't contain an exact or prefix match.
func Decide(log *zap.Logger, req wire.RequestPermissionParams, editsAllowed bool) wire.RequestPermissionResult {
	if log == nil {
		log = zap.NewNop()
	}
	var outcome wire.RequestPermissionResult
	if editsAllowed {
		outcome = selectOption(req.Options, wire.PermKindAllowOnce, wire.PermKindAllowMost)
	} else {
		outcome = selectOption(req.Options, wire.PermKindRejectOnce, wire.PermKindRejectMost)
	}
	log.Debug("acp: permission decision",
		zap.String("toolCallId", req.ToolCall.ToolCallID),
		zap.Bool("editsAllowed", editsAllowed),
		zap.String("outcome", outcome.Outcome.Outcome),
		zap.String("optionId", outcome.Outcome.OptionID))
	return outcome
}

// selectOption picks the exact-kind match first, falls back to the first
// option whose kind has the given prefix, and finally to the literal
// exact kind as the option id (spec.md §4.5: "otherwise the literal
// allow_once/reject_once").
func selectOption(options []wire.PermissionOpt, exactKind, prefixKind string) wire.RequestPermissionResult {
	if id, ok := findByExactKind(options, exactKind); ok {
		return selected(id)
	}
	if id, ok := findByPrefix(options, prefixKind); ok {
		return selected(id)
	}
	return selected(exactKind)
}

func findByExactKind(options []wire.PermissionOpt, kind string) (string, bool) {
	for _, opt := range options {
		if opt.Kind == kind {
			return opt.OptionID, true
		}
	}
	return "", false
}

func findByPrefix(options []wire.PermissionOpt, prefix string) (string, bool) {
	for _, opt := range options {
		if strings.HasPrefix(opt.Kind, prefix) {
			return opt.OptionID, true
		}
	}
	return "", false
}

func selected(optionID string) wire.RequestPermissionResult {
	return wire.RequestPermissionResult{Outcome: wire.PermissionOutcome{Outcome: wire.OutcomeSelected, OptionID: optionID}}
}
