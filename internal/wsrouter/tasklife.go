package wsrouter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type cancelAITaskPayload struct {
	TaskID uuid.UUID `json:"task_id"`
}

// handleCancelAITask implements the whole-task revoke protocol's
// client-visible half: the task's own context is cancelled, stopping its
// provider stream and every in-flight skill request at once (§4.3), and
// the cancelling device is acknowledged directly so it can stop rendering
// the task as live without waiting for the eventual task_status event
// (§8 seed test 1 — the active_ai_task cache marker itself is cleared
// synchronously inside RevokeTask).
func handleCancelAITask(ctx context.Context, s *Session, payload json.RawMessage) error {
	var p cancelAITaskPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decoding cancel_ai_task: %w", err)
	}
	if err := s.Dispatcher.RevokeTask(p.TaskID); err != nil {
		s.SendError("Could not cancel task", err.Error())
		return nil
	}
	s.Send("ai_task_cancel_requested", map[string]interface{}{
		"task_id": p.TaskID,
		"status":  "revocation_sent",
	})
	return nil
}

type cancelSkillPayload struct {
	TaskID    uuid.UUID `json:"task_id"`
	RequestID string    `json:"request_id"`
}

// handleCancelSkill implements the per-skill cancellation protocol: only
// the named request is cancelled, leaving its siblings and the task as a
// whole running (§4.3, §4.5).
func handleCancelSkill(ctx context.Context, s *Session, payload json.RawMessage) error {
	var p cancelSkillPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decoding cancel_skill: %w", err)
	}
	if err := s.Dispatcher.CancelSkill(p.TaskID, p.RequestID); err != nil {
		s.SendError("Could not cancel skill request", err.Error())
	}
	return nil
}

type focusModeRejectedPayload struct {
	ChatID  uuid.UUID `json:"chat_id"`
	FocusID string    `json:"focus_id"`
}

// handleFocusModeRejected races the auto-confirm timer to consume the
// chat's pending focus activation; whichever side observes it first wins
// (§8 invariant 4). Either outcome gets a focus_mode_rejected_ack so the
// client always learns which branch fired, rather than only the losing
// side.
func handleFocusModeRejected(ctx context.Context, s *Session, payload json.RawMessage) error {
	var p focusModeRejectedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decoding focus_mode_rejected: %w", err)
	}
	outcome, err := s.Dispatcher.RejectFocusActivation(ctx, p.ChatID)
	if err != nil {
		return err
	}
	focusID := outcome.FocusID
	if focusID == "" {
		focusID = p.FocusID
	}
	status := "already_confirmed"
	if outcome.CaughtBeforeActivation {
		status = "rejected"
	}
	s.Send("focus_mode_rejected_ack", map[string]interface{}{
		"chat_id":                  p.ChatID,
		"focus_id":                 focusID,
		"status":                   status,
		"caught_before_activation": outcome.CaughtBeforeActivation,
	})
	return nil
}
