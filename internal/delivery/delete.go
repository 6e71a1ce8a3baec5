package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/NizariMohamed/chatting/internal/domain"
	"github.com/NizariMohamed/chatting/pkg/log"
)

// Delete removes one message. Hard delete is reserved for the sender and
// removes the row for both participants; soft delete hides it for the
// requester only.
func (e *Engine) Delete(ctx context.Context, requesterID string, messageID uint64, mode domain.DeleteMode) error {
	msg, err := e.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if !msg.Participant(requesterID) {
		return fmt.Errorf("%w: not a participant", domain.ErrForbidden)
	}

	switch mode {
	case domain.DeleteHard:
		return e.hardDelete(ctx, requesterID, msg)
	case domain.DeleteSoft:
		return e.softDelete(ctx, requesterID, msg)
	default:
		return domain.NewValidationError("mode", "must be 'hard' or 'soft'")
	}
}

func (e *Engine) hardDelete(ctx context.Context, requesterID string, msg *domain.Message) error {
	if msg.SenderID != requesterID {
		return fmt.Errorf("%w: only the sender can delete for everyone", domain.ErrForbidden)
	}

	removed, err := e.messages.DeleteBySender(ctx, msg.ID, requesterID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if !removed {
		return domain.ErrMessageNotFound
	}

	if msg.AttachmentRef != "" {
		e.releaseAttachment(ctx, msg.AttachmentRef)
	}

	event := &domain.MessageDeletedEvent{
		Type:      domain.MsgTypeMessageDeleted,
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Mode:      string(domain.DeleteHard),
	}
	e.conns.PushTo(msg.SenderID, event)
	e.conns.PushTo(msg.ReceiverID, event)

	auditDelete(ctx, domain.DeleteHard, requesterID, msg.ID)
	e.publish(ctx, &domain.LifecycleEvent{
		Type:       domain.EventMessageDeleted,
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Mode:       string(domain.DeleteHard),
		OccurredAt: e.now().UTC(),
	})
	return nil
}

func (e *Engine) softDelete(ctx context.Context, requesterID string, msg *domain.Message) error {
	hidden, err := e.messages.HideFor(ctx, msg.ID, requesterID)
	if err != nil {
		return fmt.Errorf("failed to hide message: %w", err)
	}
	if !hidden {
		// Already hidden for the requester.
		return nil
	}

	// Other open views of the same user reconcile; the partner is not told.
	e.conns.PushTo(requesterID, &domain.MessageDeletedEvent{
		Type:      domain.MsgTypeMessageDeleted,
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Mode:      string(domain.DeleteSoft),
	})

	auditDelete(ctx, domain.DeleteSoft, requesterID, msg.ID)
	return nil
}

// DeleteBatch applies Delete to every id independently and reports the
// outcome per id. Only request level problems are returned as errors.
func (e *Engine) DeleteBatch(ctx context.Context, requesterID string, messageIDs []uint64, mode domain.DeleteMode) (*domain.DeleteResult, error) {
	if len(messageIDs) == 0 {
		return nil, domain.NewValidationError("message_ids", "is required")
	}
	if len(messageIDs) > MaxBatchDelete {
		return nil, domain.NewValidationError("message_ids", fmt.Sprintf("at most %d ids per request", MaxBatchDelete))
	}
	if mode != domain.DeleteHard && mode != domain.DeleteSoft {
		return nil, domain.NewValidationError("mode", "must be 'hard' or 'soft'")
	}

	result := &domain.DeleteResult{
		Deleted: []uint64{},
		Failed:  []domain.DeleteFailure{},
	}
	seen := make(map[uint64]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if err := e.Delete(ctx, requesterID, id, mode); err != nil {
			result.Failed = append(result.Failed, domain.DeleteFailure{MessageID: id, Reason: failureReason(ctx, id, err)})
			continue
		}
		result.Deleted = append(result.Deleted, id)
	}
	return result, nil
}

func failureReason(ctx context.Context, id uint64, err error) string {
	switch {
	case errors.Is(err, domain.ErrMessageNotFound):
		return "not found"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrValidation):
		return err.Error()
	default:
		l := log.Ctx(ctx)
		l.Error().Err(err).Uint64(log.FieldMessageID, id).Msg("batch delete failed")
		return "internal error"
	}
}
