package domain

import "time"

// Message lifecycle event types.
const (
	EventMessageCreated   = "message.created"
	EventMessageDelivered = "message.delivered"
	EventMessageRead      = "message.read"
	EventMessageDeleted   = "message.deleted"
)

// LifecycleEvent is published for downstream consumers after a committed
// change to a message.
type LifecycleEvent struct {
	Type       string    `json:"type"`
	MessageID  uint64    `json:"message_id,omitempty"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Count      int64     `json:"count,omitempty"`
	Mode       string    `json:"mode,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ConversationKey orders the pair so both directions share a partition.
func (e *LifecycleEvent) ConversationKey() string {
	a, b := e.SenderID, e.ReceiverID
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}
