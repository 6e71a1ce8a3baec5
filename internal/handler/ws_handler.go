package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/NizariMohamed/chatting/internal/audit"
	"github.com/NizariMohamed/chatting/internal/domain"
	"github.com/NizariMohamed/chatting/internal/hub"
	"github.com/NizariMohamed/chatting/internal/service"
	"github.com/NizariMohamed/chatting/pkg/log"
	"github.com/NizariMohamed/chatting/pkg/middleware"
	"github.com/NizariMohamed/chatting/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSHandler struct {
	hub     *hub.Hub
	service service.ChatService
	auth    *middleware.AuthMiddleware
}

func NewWSHandler(h *hub.Hub, svc service.ChatService, auth *middleware.AuthMiddleware) *WSHandler {
	return &WSHandler{
		hub:     h,
		service: svc,
		auth:    auth,
	}
}

// HandleWebSocket authenticates before upgrading; a bad token never gets
// a live connection.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	ctx := c.Request.Context()

	claims, err := h.auth.Authenticate(c.Request)
	if err != nil {
		audit.LogWithDetail(ctx, audit.ActionConnectFailed, "", err.Error(), "live connection rejected")
		response.Unauthorized(c, "invalid or missing token")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	// The request context ends with the handler; the connection outlives it.
	h.hub.Serve(context.WithoutCancel(ctx), conn, claims.UserID, h.handleMessage)
}

func (h *WSHandler) handleMessage(ctx context.Context, client *hub.Client, message []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendJSON(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	var err error
	switch base.Type {
	case domain.MsgTypeDirectMessage:
		var msg domain.DirectMessageIn
		if decodeFrame(client, base.Type, message, &msg) {
			err = h.service.HandleDirectMessage(ctx, client, &msg)
		}

	case domain.MsgTypeMessageDelivered:
		var msg domain.MessageDeliveredIn
		if decodeFrame(client, base.Type, message, &msg) {
			err = h.service.HandleDelivered(ctx, client, &msg)
		}

	case domain.MsgTypeMessageRead:
		var msg domain.MessageReadIn
		if decodeFrame(client, base.Type, message, &msg) {
			err = h.service.HandleRead(ctx, client, &msg)
		}

	case domain.MsgTypeTyping:
		var msg domain.TypingIn
		if decodeFrame(client, base.Type, message, &msg) {
			err = h.service.HandleTyping(ctx, client, &msg)
		}

	case domain.MsgTypeDeleteMessages:
		var msg domain.DeleteMessagesIn
		if decodeFrame(client, base.Type, message, &msg) {
			err = h.service.HandleDeleteMessages(ctx, client, &msg)
		}

	case domain.MsgTypePing:
		client.SendJSON(&domain.PongMessage{Type: domain.MsgTypePong})

	default:
		client.SendJSON(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Unknown message type"))
	}

	if err != nil {
		l := log.Ctx(ctx)
		l.Debug().Err(err).Str(log.FieldEvent, base.Type).Msg("frame rejected")
		client.SendJSON(errorFrame(err))
	}
}

func decodeFrame(client *hub.Client, msgType string, message []byte, v any) bool {
	if err := json.Unmarshal(message, v); err != nil {
		client.SendJSON(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid "+msgType+" message"))
		return false
	}
	return true
}

func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.HandleWebSocket)
}
