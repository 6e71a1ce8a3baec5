package repository

import (
	"context"
	"time"

	"github.com/NizariMohamed/chatting/internal/domain"
)

// UserRepository defines the interface for user data persistence.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
	// ListExcept returns every user but excludeID ordered by username.
	ListExcept(ctx context.Context, excludeID string) ([]*domain.User, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// MessageRepository defines the interface for message persistence.
// State changes are conditional updates so concurrent transitions on the
// same row serialize in the database.
type MessageRepository interface {
	// Create inserts msg and fills in its ID.
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id uint64) (*domain.Message, error)

	// MarkDelivered moves a message from sent to delivered and reports
	// whether this call performed the transition.
	MarkDelivered(ctx context.Context, id uint64) (bool, error)

	// MarkConversationRead moves every unread message from senderID to
	// receiverID to read and returns the number of rows changed.
	MarkConversationRead(ctx context.Context, receiverID, senderID string, at time.Time) (int64, error)

	// ListConversation returns messages exchanged between viewerID and
	// partnerID, oldest first, skipping those viewerID has hidden.
	ListConversation(ctx context.Context, viewerID, partnerID string, limit int) ([]*domain.Message, error)

	// DeleteBySender removes the row when senderID sent it.
	DeleteBySender(ctx context.Context, id uint64, senderID string) (bool, error)

	// HideFor hides the message from userID only. It reports false when
	// the message was already hidden for userID.
	HideFor(ctx context.Context, id uint64, userID string) (bool, error)

	// CountByAttachment returns how many messages still reference ref.
	CountByAttachment(ctx context.Context, ref string) (int64, error)
}

// AttachmentRepository records the uploader of every attachment payload.
type AttachmentRepository interface {
	Create(ctx context.Context, a *domain.Attachment) error
	GetByRef(ctx context.Context, ref string) (*domain.Attachment, error)
	Delete(ctx context.Context, ref string) error
}
