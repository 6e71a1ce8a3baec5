package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NizariMohamed/chatting/internal/audit"
	"github.com/NizariMohamed/chatting/internal/domain"
	"github.com/NizariMohamed/chatting/internal/repository"
	"github.com/NizariMohamed/chatting/pkg/log"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
	MaxBatchDelete      = 500
)

// Pusher delivers frames to the live connections of a user.
type Pusher interface {
	PushTo(userID string, event any) int
}

// UserLookup confirms that a user exists.
type UserLookup interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Publisher forwards lifecycle events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event *domain.LifecycleEvent) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, *domain.LifecycleEvent) error { return nil }

// BlobStore is the part of the attachment handoff the engine needs.
type BlobStore interface {
	Owns(ref string) bool
	Delete(ctx context.Context, ref string) error
}

// AttachmentIndex records which user uploaded each attachment payload.
type AttachmentIndex interface {
	Create(ctx context.Context, a *domain.Attachment) error
	GetByRef(ctx context.Context, ref string) (*domain.Attachment, error)
	Delete(ctx context.Context, ref string) error
}

// Config holds engine limits.
type Config struct {
	DefaultHistoryLimit int `mapstructure:"default_history_limit"`
	MaxHistoryLimit     int `mapstructure:"max_history_limit"`
}

// Engine persists messages, fans them out to live connections and drives
// the per-message delivery state machine. All transitions are conditional
// updates in the repository, so concurrent callers never regress a state.
type Engine struct {
	messages repository.MessageRepository
	users    UserLookup
	conns    Pusher
	blobs    BlobStore
	uploads  AttachmentIndex
	events   Publisher
	cfg      Config
	now      func() time.Time
}

// NewEngine creates an engine. users and events may be nil. Without blobs
// and uploads every message carrying an attachment is rejected.
func NewEngine(messages repository.MessageRepository, users UserLookup, conns Pusher, blobs BlobStore, uploads AttachmentIndex, events Publisher, cfg Config) *Engine {
	if cfg.DefaultHistoryLimit <= 0 {
		cfg.DefaultHistoryLimit = DefaultHistoryLimit
	}
	if cfg.MaxHistoryLimit <= 0 || cfg.MaxHistoryLimit > MaxHistoryLimit {
		cfg.MaxHistoryLimit = MaxHistoryLimit
	}
	if cfg.DefaultHistoryLimit > cfg.MaxHistoryLimit {
		cfg.DefaultHistoryLimit = cfg.MaxHistoryLimit
	}
	if events == nil {
		events = nopPublisher{}
	}
	return &Engine{
		messages: messages,
		users:    users,
		conns:    conns,
		blobs:    blobs,
		uploads:  uploads,
		events:   events,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Submit validates, persists and fans out a new message. The receiver
// being offline is not an error; the message simply stays in state sent.
func (e *Engine) Submit(ctx context.Context, senderID, receiverID, body, attachmentRef string) (*domain.Message, error) {
	msg, err := domain.NewMessage(senderID, receiverID, body, attachmentRef, e.now())
	if err != nil {
		return nil, err
	}
	if msg.AttachmentRef != "" {
		if err := e.authorizeAttachment(ctx, senderID, msg.AttachmentRef); err != nil {
			return nil, err
		}
	}
	if e.users != nil {
		ok, err := e.users.Exists(ctx, receiverID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up receiver: %w", err)
		}
		if !ok {
			return nil, domain.ErrUserNotFound
		}
	}

	if err := e.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	n := e.conns.PushTo(receiverID, domain.NewChatMessageEvent(msg))

	l := log.Ctx(ctx)
	l.Debug().
		Uint64(log.FieldMessageID, msg.ID).
		Str(log.FieldUserID, senderID).
		Str(log.FieldPartnerID, receiverID).
		Int("recipients", n).
		Msg("message submitted")

	e.publish(ctx, &domain.LifecycleEvent{
		Type:       domain.EventMessageCreated,
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		OccurredAt: msg.CreatedAt,
	})
	return msg, nil
}

// RegisterUpload records ownerID as the uploader of a freshly stored payload.
// Only the uploader may later attach ref to a message.
func (e *Engine) RegisterUpload(ctx context.Context, ownerID, ref string) error {
	if e.uploads == nil {
		return domain.NewValidationError("attachment_ref", "attachments are not enabled")
	}
	if err := e.uploads.Create(ctx, &domain.Attachment{Ref: ref, OwnerID: ownerID}); err != nil {
		return fmt.Errorf("failed to register attachment: %w", err)
	}
	return nil
}

// DiscardUpload drops a payload that never made it into a message.
func (e *Engine) DiscardUpload(ctx context.Context, ref string) {
	e.releaseAttachment(ctx, ref)
}

func (e *Engine) authorizeAttachment(ctx context.Context, senderID, ref string) error {
	if e.uploads == nil || e.blobs == nil {
		return domain.NewValidationError("attachment_ref", "attachments are not enabled")
	}
	if !e.blobs.Owns(ref) {
		return domain.NewValidationError("attachment_ref", "unknown attachment reference")
	}
	a, err := e.uploads.GetByRef(ctx, ref)
	if errors.Is(err, domain.ErrAttachmentNotFound) {
		return domain.NewValidationError("attachment_ref", "unknown attachment reference")
	}
	if err != nil {
		return fmt.Errorf("failed to look up attachment: %w", err)
	}
	if a.OwnerID != senderID {
		return fmt.Errorf("%w: attachment was uploaded by another user", domain.ErrForbidden)
	}
	return nil
}

// releaseAttachment removes the payload and its ownership record once no
// message references ref any more. Failures are logged, not returned.
func (e *Engine) releaseAttachment(ctx context.Context, ref string) {
	if e.uploads == nil || e.blobs == nil {
		return
	}
	l := log.Ctx(ctx)
	n, err := e.messages.CountByAttachment(ctx, ref)
	if err != nil {
		l.Warn().Err(err).Str(log.FieldAttachmentRef, ref).Msg("failed to count attachment references")
		return
	}
	if n > 0 {
		return
	}
	if err := e.blobs.Delete(ctx, ref); err != nil {
		l.Warn().Err(err).Str(log.FieldAttachmentRef, ref).Msg("failed to remove attachment payload")
		return
	}
	if err := e.uploads.Delete(ctx, ref); err != nil {
		l.Warn().Err(err).Str(log.FieldAttachmentRef, ref).Msg("failed to remove attachment record")
	}
}

// MarkDelivered moves a message from sent to delivered and tells the
// sender. Unknown ids and messages already past sent are ignored.
func (e *Engine) MarkDelivered(ctx context.Context, messageID uint64) error {
	msg, err := e.messages.GetByID(ctx, messageID)
	if errors.Is(err, domain.ErrMessageNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return e.markDelivered(ctx, msg)
}

// ReportDelivered is MarkDelivered on behalf of a connected user, who must
// be the receiver of the message.
func (e *Engine) ReportDelivered(ctx context.Context, reporterID string, messageID uint64) error {
	msg, err := e.messages.GetByID(ctx, messageID)
	if errors.Is(err, domain.ErrMessageNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if msg.ReceiverID != reporterID {
		return fmt.Errorf("%w: only the receiver can report delivery", domain.ErrForbidden)
	}
	return e.markDelivered(ctx, msg)
}

func (e *Engine) markDelivered(ctx context.Context, msg *domain.Message) error {
	if !msg.State.CanAdvanceTo(domain.StateDelivered) {
		return nil
	}
	changed, err := e.messages.MarkDelivered(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("failed to mark delivered: %w", err)
	}
	if !changed {
		return nil
	}

	e.conns.PushTo(msg.SenderID, &domain.MessageStatusEvent{
		Type:      domain.MsgTypeMessageStatus,
		MessageID: msg.ID,
		State:     domain.StateDelivered,
	})
	e.publish(ctx, &domain.LifecycleEvent{
		Type:       domain.EventMessageDelivered,
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		OccurredAt: e.now().UTC(),
	})
	return nil
}

// MarkRead marks every unread message from senderID to receiverID as read
// and sends the sender one aggregated status frame when anything changed.
func (e *Engine) MarkRead(ctx context.Context, receiverID, senderID string) (int64, error) {
	if strings.TrimSpace(senderID) == "" {
		return 0, domain.NewValidationError("partner_id", "is required")
	}
	if receiverID == senderID {
		return 0, domain.NewValidationError("partner_id", "cannot be yourself")
	}

	at := e.now().UTC()
	n, err := e.messages.MarkConversationRead(ctx, receiverID, senderID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to mark read: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	e.conns.PushTo(senderID, &domain.MessageStatusEvent{
		Type:      domain.MsgTypeMessageStatus,
		PartnerID: receiverID,
		State:     domain.StateRead,
		ReadAt:    &at,
	})

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldUserID, receiverID).Str(log.FieldPartnerID, senderID).Int64("count", n).Msg("conversation read")

	e.publish(ctx, &domain.LifecycleEvent{
		Type:       domain.EventMessageRead,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Count:      n,
		OccurredAt: at,
	})
	return n, nil
}

// FetchHistory first marks the partner's messages to userID as read and
// then returns the conversation oldest first. Only the oldest limit
// messages are returned; there is no cursor.
func (e *Engine) FetchHistory(ctx context.Context, userID, partnerID string, limit int) ([]*domain.Message, error) {
	if _, err := e.MarkRead(ctx, userID, partnerID); err != nil {
		return nil, err
	}

	msgs, err := e.messages.ListConversation(ctx, userID, partnerID, e.clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation: %w", err)
	}
	return msgs, nil
}

func (e *Engine) clampLimit(limit int) int {
	if limit <= 0 {
		return e.cfg.DefaultHistoryLimit
	}
	if limit > e.cfg.MaxHistoryLimit {
		return e.cfg.MaxHistoryLimit
	}
	return limit
}

func (e *Engine) publish(ctx context.Context, event *domain.LifecycleEvent) {
	if err := e.events.Publish(ctx, event); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldEvent, event.Type).Msg("failed to publish lifecycle event")
	}
}

// auditDelete records user initiated removals.
func auditDelete(ctx context.Context, mode domain.DeleteMode, requesterID string, messageID uint64) {
	action := audit.ActionDeleteMessage
	if mode == domain.DeleteSoft {
		action = audit.ActionHideMessage
	}
	audit.LogTarget(ctx, action, requesterID, fmt.Sprint(messageID), "message removed")
}
