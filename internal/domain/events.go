package domain

import "time"

// Live channel frame types from client.
const (
	MsgTypeDirectMessage    = "direct-message"
	MsgTypeMessageDelivered = "message-delivered"
	MsgTypeMessageRead      = "message-read"
	MsgTypeTyping           = "typing"
	MsgTypeDeleteMessages   = "delete-messages"
	MsgTypePing             = "ping"
)

// Live channel frame types to client.
const (
	MsgTypePresence       = "presence"
	MsgTypeChatMessage    = "chat-message"
	MsgTypeMessageSent    = "message-sent"
	MsgTypeMessageStatus  = "message-status"
	MsgTypeMessageDeleted = "message-deleted"
	MsgTypeDeleteResult   = "delete-result"
	MsgTypeError          = "error"
	MsgTypePong           = "pong"
)

// Error codes
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// BaseMessage is the base structure for all live channel frames.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server frames

type DirectMessageIn struct {
	Type          string `json:"type"`
	To            string `json:"to"`
	Body          string `json:"body"`
	AttachmentRef string `json:"attachment_ref"`
	ClientRef     string `json:"client_ref"`
}

type MessageDeliveredIn struct {
	Type      string `json:"type"`
	MessageID uint64 `json:"message_id"`
}

type MessageReadIn struct {
	Type      string `json:"type"`
	PartnerID string `json:"partner_id"`
}

type TypingIn struct {
	Type     string `json:"type"`
	To       string `json:"to"`
	IsTyping bool   `json:"is_typing"`
}

type DeleteMessagesIn struct {
	Type       string   `json:"type"`
	MessageIDs []uint64 `json:"message_ids"`
	Mode       string   `json:"mode"`
}

// Server -> Client frames

type PresenceEvent struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

func NewPresenceEvent(userID string, online bool) *PresenceEvent {
	status := StatusOffline
	if online {
		status = StatusOnline
	}
	return &PresenceEvent{Type: MsgTypePresence, UserID: userID, Status: status}
}

// ChatMessageEvent flattens the message next to the frame type.
type ChatMessageEvent struct {
	Type string `json:"type"`
	*Message
}

func NewChatMessageEvent(m *Message) *ChatMessageEvent {
	return &ChatMessageEvent{Type: MsgTypeChatMessage, Message: m}
}

type MessageSentEvent struct {
	Type      string   `json:"type"`
	ClientRef string   `json:"client_ref,omitempty"`
	Message   *Message `json:"message"`
}

// MessageStatusEvent carries either a per-message transition (MessageID set)
// or an aggregated conversation read (PartnerID set).
type MessageStatusEvent struct {
	Type      string        `json:"type"`
	MessageID uint64        `json:"message_id,omitempty"`
	PartnerID string        `json:"partner_id,omitempty"`
	State     DeliveryState `json:"state"`
	ReadAt    *time.Time    `json:"read_at,omitempty"`
}

type TypingEvent struct {
	Type     string `json:"type"`
	From     string `json:"from"`
	IsTyping bool   `json:"is_typing"`
}

type MessageDeletedEvent struct {
	Type      string `json:"type"`
	MessageID uint64 `json:"message_id"`
	SenderID  string `json:"sender_id"`
	Mode      string `json:"mode,omitempty"`
}

type DeleteResultEvent struct {
	Type string `json:"type"`
	DeleteResult
}

type PongMessage struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}
