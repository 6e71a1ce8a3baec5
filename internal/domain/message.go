package domain

import (
	"strings"
	"time"
)

// DeliveryState is the per-message lifecycle marker.
type DeliveryState string

const (
	StateSent      DeliveryState = "sent"
	StateDelivered DeliveryState = "delivered"
	StateRead      DeliveryState = "read"
)

func (s DeliveryState) rank() int {
	switch s {
	case StateSent:
		return 1
	case StateDelivered:
		return 2
	case StateRead:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is a known state.
func (s DeliveryState) Valid() bool {
	return s.rank() > 0
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
// sent -> read is an allowed shortcut; nothing moves backwards and read is terminal.
func (s DeliveryState) CanAdvanceTo(next DeliveryState) bool {
	return next.Valid() && s.rank() < next.rank()
}

// DeleteMode selects between removing a message for everyone or hiding it
// for the requester only.
type DeleteMode string

const (
	DeleteHard DeleteMode = "hard"
	DeleteSoft DeleteMode = "soft"
)

// ParseDeleteMode defaults to hard delete, matching the original REST surface.
func ParseDeleteMode(s string) (DeleteMode, error) {
	switch DeleteMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", DeleteHard:
		return DeleteHard, nil
	case DeleteSoft:
		return DeleteSoft, nil
	default:
		return "", NewValidationError("mode", "must be 'hard' or 'soft'")
	}
}

// Message is one direct message between two users.
type Message struct {
	ID            uint64        `json:"id"`
	SenderID      string        `json:"sender_id"`
	ReceiverID    string        `json:"receiver_id"`
	Body          string        `json:"body"`
	AttachmentRef string        `json:"attachment_ref,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	State         DeliveryState `json:"state"`
	ReadAt        *time.Time    `json:"read_at,omitempty"`
}

// Participant reports whether userID is the sender or the receiver.
func (m *Message) Participant(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// NewMessage validates the submission and returns an unsaved message in
// state sent. A message needs a non-empty body, an attachment, or both.
func NewMessage(senderID, receiverID, body, attachmentRef string, now time.Time) (*Message, error) {
	if strings.TrimSpace(senderID) == "" {
		return nil, NewValidationError("sender_id", "is required")
	}
	if strings.TrimSpace(receiverID) == "" {
		return nil, NewValidationError("receiver_id", "is required")
	}
	if senderID == receiverID {
		return nil, NewValidationError("receiver_id", "cannot message yourself")
	}
	if strings.TrimSpace(body) == "" && strings.TrimSpace(attachmentRef) == "" {
		return nil, NewValidationError("body", "body or attachment is required")
	}

	return &Message{
		SenderID:      senderID,
		ReceiverID:    receiverID,
		Body:          body,
		AttachmentRef: strings.TrimSpace(attachmentRef),
		CreatedAt:     now.UTC(),
		State:         StateSent,
	}, nil
}

// DeleteFailure records why one id of a batch delete was not applied.
type DeleteFailure struct {
	MessageID uint64 `json:"message_id"`
	Reason    string `json:"reason"`
}

// DeleteResult reports the outcome of a (batch) delete per message id.
type DeleteResult struct {
	Deleted []uint64        `json:"deleted"`
	Failed  []DeleteFailure `json:"failed"`
}
