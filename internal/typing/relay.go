package typing

import (
	"strings"

	"github.com/NizariMohamed/chatting/internal/domain"
)

// Pusher delivers frames to the live connections of a user.
type Pusher interface {
	PushTo(userID string, event any) int
}

// Relay forwards typing indicators. Nothing is stored and nothing is
// acknowledged; an offline recipient simply never sees the signal.
type Relay struct {
	conns Pusher
}

func NewRelay(conns Pusher) *Relay {
	return &Relay{conns: conns}
}

// SignalTyping forwards the indicator and returns the number of
// connections that accepted it.
func (r *Relay) SignalTyping(fromUserID, toUserID string, isTyping bool) (int, error) {
	if strings.TrimSpace(toUserID) == "" {
		return 0, domain.NewValidationError("to", "is required")
	}
	if fromUserID == toUserID {
		return 0, domain.NewValidationError("to", "cannot signal yourself")
	}
	return r.conns.PushTo(toUserID, &domain.TypingEvent{
		Type:     domain.MsgTypeTyping,
		From:     fromUserID,
		IsTyping: isTyping,
	}), nil
}
