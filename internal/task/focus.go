package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openmates/core/internal/provider"
	"github.com/openmates/core/internal/zkstore"
)

// ProposeFocusActivation records a pending focus-mode switch the model
// selected mid-stream and starts the auto-confirm timer. Exactly one of
// {this timer firing, RejectFocusActivation being called by the WS
// Router} will observe the record — the other finds it already consumed,
// via zkstore's atomic GetAndDeletePendingFocusActivation (§8 invariant
// 4). req is the proposing task's own SubmitRequest, snapshotted so a
// client-wins rejection can re-fire the same conversation as a
// continuation without the focus.
func (d *Dispatcher) ProposeFocusActivation(ctx context.Context, req SubmitRequest, taskID uuid.UUID, focusID string, autoConfirmAfter time.Duration) error {
	messagesJSON, err := json.Marshal(req.Messages)
	if err != nil {
		return fmt.Errorf("marshaling continuation messages: %w", err)
	}
	rec := zkstore.FocusPendingActivation{
		TaskID:            taskID.String(),
		FocusID:           focusID,
		PendingSince:      time.Now().Unix(),
		UserID:            req.UserID.String(),
		Model:             req.Model,
		MessagesJSON:      messagesJSON,
		AppTag:            req.AppTag,
		ExcludeDeviceHash: req.ExcludeDeviceHash,
	}
	if err := d.store.SetPendingFocusActivation(ctx, req.ChatID, rec, autoConfirmAfter+5*time.Second); err != nil {
		return err
	}

	go func() {
		timer := time.NewTimer(autoConfirmAfter)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			d.confirmFocusActivation(req.ChatID)
		}
	}()
	return nil
}

func (d *Dispatcher) confirmFocusActivation(chatID uuid.UUID) {
	rec, err := d.store.GetAndDeletePendingFocusActivation(context.Background(), chatID)
	if err != nil {
		logger.Printf("auto-confirm focus for chat %s: %v", chatID, err)
		return
	}
	if rec == nil {
		return // already consumed by a client rejection
	}
	if err := d.store.UpdateChatActiveFocusID(context.Background(), chatID, &rec.FocusID); err != nil {
		logger.Printf("applying auto-confirmed focus for chat %s: %v", chatID, err)
	}
}

// FocusRejectionOutcome is what the WS Router's focus_mode_rejected handler
// needs to build the focus_mode_rejected_ack event (§6, §8 seed test 4).
type FocusRejectionOutcome struct {
	CaughtBeforeActivation bool
	FocusID                string
}

// RejectFocusActivation is called by the WS Router on a focus_mode_rejected
// event. If it wins the race against the auto-confirm timer (the pending
// record is still there to GETDEL), the proposing task's conversation is
// re-submitted as a continuation with the focus cleared — per §4.3 this is
// what makes the rejection replace the same assistant bubble instead of
// starting a new one. If it loses, the auto-confirm timer already applied
// the focus and there is nothing further to do.
func (d *Dispatcher) RejectFocusActivation(ctx context.Context, chatID uuid.UUID) (FocusRejectionOutcome, error) {
	rec, err := d.store.GetAndDeletePendingFocusActivation(ctx, chatID)
	if err != nil {
		return FocusRejectionOutcome{}, err
	}
	if rec == nil {
		return FocusRejectionOutcome{CaughtBeforeActivation: false}, nil
	}

	userID, err := uuid.Parse(rec.UserID)
	if err != nil {
		return FocusRejectionOutcome{CaughtBeforeActivation: true, FocusID: rec.FocusID}, fmt.Errorf("parsing pending focus user id: %w", err)
	}
	origTaskID, err := uuid.Parse(rec.TaskID)
	if err != nil {
		return FocusRejectionOutcome{CaughtBeforeActivation: true, FocusID: rec.FocusID}, fmt.Errorf("parsing pending focus task id: %w", err)
	}
	var messages []provider.Message
	if err := json.Unmarshal(rec.MessagesJSON, &messages); err != nil {
		return FocusRejectionOutcome{CaughtBeforeActivation: true, FocusID: rec.FocusID}, fmt.Errorf("unmarshaling pending focus continuation: %w", err)
	}

	_, err = d.Submit(ctx, SubmitRequest{
		ChatID:                chatID,
		UserID:                userID,
		Model:                 rec.Model,
		Messages:              messages,
		AppTag:                rec.AppTag,
		ExcludeDeviceHash:     rec.ExcludeDeviceHash,
		ActiveFocusID:         nil,
		ContinuationMessageID: &origTaskID,
	})
	return FocusRejectionOutcome{CaughtBeforeActivation: true, FocusID: rec.FocusID}, err
}
