package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/NizariMohamed/chatting/internal/config"
	"github.com/NizariMohamed/chatting/internal/domain"
	"github.com/NizariMohamed/chatting/internal/registry"
	"github.com/NizariMohamed/chatting/pkg/log"
)

// ErrClosed is returned when sending to a connection that has gone away.
var ErrClosed = errors.New("connection closed")

// Client is one authenticated websocket connection. It satisfies
// registry.Conn.
type Client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	config config.WebSocketConfig
}

func NewClient(userID string, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	cfg = withDefaults(cfg)
	return &Client{
		id:     uuid.New().String(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
		config: cfg,
	}
}

func withDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	return cfg
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.userID }

// Send enqueues an encoded frame. A full buffer means the peer cannot keep
// up; the frame is dropped and the connection is closed.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		l := log.L()
		l.Warn().Str(log.FieldConnID, c.id).Str(log.FieldUserID, c.userID).Msg("send buffer full, closing connection")
		c.Close()
		return domain.ErrDeliveryFailed
	}
}

// SendJSON encodes v and enqueues it.
func (c *Client) SendJSON(v any) error {
	data, err := registry.Encode(v)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Close stops the write pump and the underlying connection. Safe to call
// more than once and from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// ReadPump reads frames until the connection fails and hands each one to
// handler on the calling goroutine.
func (c *Client) ReadPump(ctx context.Context, handler func(context.Context, *Client, []byte)) {
	defer c.Close()

	if c.config.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.config.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l := log.Ctx(ctx)
				l.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		// Any inbound frame proves liveness.
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		handler(ctx, c, message)
	}
}

// WritePump owns all writes to the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.config.WriteWait))
			return
		}
	}
}
