package service

import (
	"context"

	"github.com/NizariMohamed/chatting/internal/delivery"
	"github.com/NizariMohamed/chatting/internal/domain"
	"github.com/NizariMohamed/chatting/internal/typing"
	"github.com/NizariMohamed/chatting/pkg/log"
)

type chatServiceImpl struct {
	engine *delivery.Engine
	relay  *typing.Relay
}

func NewChatService(engine *delivery.Engine, relay *typing.Relay) ChatService {
	return &chatServiceImpl{engine: engine, relay: relay}
}

// HandleDirectMessage submits the message and acknowledges it to the
// originating connection with the persisted record.
func (s *chatServiceImpl) HandleDirectMessage(ctx context.Context, c Replier, msg *domain.DirectMessageIn) error {
	saved, err := s.engine.Submit(ctx, c.UserID(), msg.To, msg.Body, msg.AttachmentRef)
	if err != nil {
		return err
	}
	return c.SendJSON(&domain.MessageSentEvent{
		Type:      domain.MsgTypeMessageSent,
		ClientRef: msg.ClientRef,
		Message:   saved,
	})
}

func (s *chatServiceImpl) HandleDelivered(ctx context.Context, c Replier, msg *domain.MessageDeliveredIn) error {
	if msg.MessageID == 0 {
		return domain.NewValidationError("message_id", "is required")
	}
	return s.engine.ReportDelivered(ctx, c.UserID(), msg.MessageID)
}

func (s *chatServiceImpl) HandleRead(ctx context.Context, c Replier, msg *domain.MessageReadIn) error {
	n, err := s.engine.MarkRead(ctx, c.UserID(), msg.PartnerID)
	if err != nil {
		return err
	}
	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldPartnerID, msg.PartnerID).Int64("count", n).Msg("read reported")
	return nil
}

func (s *chatServiceImpl) HandleTyping(ctx context.Context, c Replier, msg *domain.TypingIn) error {
	_, err := s.relay.SignalTyping(c.UserID(), msg.To, msg.IsTyping)
	return err
}

func (s *chatServiceImpl) HandleDeleteMessages(ctx context.Context, c Replier, msg *domain.DeleteMessagesIn) error {
	mode, err := domain.ParseDeleteMode(msg.Mode)
	if err != nil {
		return err
	}
	result, err := s.engine.DeleteBatch(ctx, c.UserID(), msg.MessageIDs, mode)
	if err != nil {
		return err
	}
	return c.SendJSON(&domain.DeleteResultEvent{
		Type:         domain.MsgTypeDeleteResult,
		DeleteResult: *result,
	})
}
