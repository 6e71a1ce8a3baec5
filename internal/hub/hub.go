package hub

import (
	"context"

	"github.com/gorilla/websocket"

	"github.com/NizariMohamed/chatting/internal/audit"
	"github.com/NizariMohamed/chatting/internal/config"
	"github.com/NizariMohamed/chatting/internal/registry"
	"github.com/NizariMohamed/chatting/pkg/log"
)

// Hub binds websocket connections to the connection registry for their
// whole lifetime.
type Hub struct {
	registry *registry.Registry
	config   config.WebSocketConfig
}

func NewHub(reg *registry.Registry, cfg config.WebSocketConfig) *Hub {
	return &Hub{registry: reg, config: cfg}
}

// Serve registers conn for userID, pumps frames until it closes and then
// deregisters it. It blocks for the life of the connection.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, userID string, handler func(context.Context, *Client, []byte)) {
	client := NewClient(userID, conn, h.config)
	ctx = log.WithConn(ctx, client.ID(), userID)

	handle := h.registry.Register(userID, client)
	audit.Log(ctx, audit.ActionConnect, userID, "live connection opened")

	l := log.Ctx(ctx)
	l.Debug().Int("connections", h.registry.Count(userID)).Msg("client registered")

	go client.WritePump()
	client.ReadPump(ctx, handler)

	h.registry.Deregister(handle)
	audit.Log(ctx, audit.ActionDisconnect, userID, "live connection closed")
	l.Debug().Msg("client unregistered")
}

// CloseAll closes every live connection. Each one deregisters itself as
// its read pump exits.
func (h *Hub) CloseAll() int {
	n := 0
	for _, c := range h.registry.All() {
		if client, ok := c.(*Client); ok {
			client.Close()
			n++
		}
	}
	return n
}
