package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NizariMohamed/chatting/internal/attachment"
	"github.com/NizariMohamed/chatting/internal/cache"
	"github.com/NizariMohamed/chatting/internal/config"
	"github.com/NizariMohamed/chatting/internal/delivery"
	"github.com/NizariMohamed/chatting/internal/domain"
	"github.com/NizariMohamed/chatting/internal/hub"
	"github.com/NizariMohamed/chatting/internal/presence"
	"github.com/NizariMohamed/chatting/internal/registry"
	"github.com/NizariMohamed/chatting/internal/repository"
	"github.com/NizariMohamed/chatting/internal/service"
	"github.com/NizariMohamed/chatting/internal/typing"
	"github.com/NizariMohamed/chatting/pkg/database"
	"github.com/NizariMohamed/chatting/pkg/jwt"
	"github.com/NizariMohamed/chatting/pkg/middleware"
	"github.com/NizariMohamed/chatting/pkg/storage"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testApp struct {
	server *httptest.Server
	hub    *hub.Hub
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		FilePath:     "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))

	store, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	attachments := attachment.New(store, attachment.Options{Prefix: attachment.PrefixAttachments, MaxSize: 1 << 20})
	avatars := attachment.New(store, attachment.Options{Prefix: attachment.PrefixAvatars, MaxSize: 1 << 20, Allowed: []string{"image/*"}})

	users := repository.NewGormUserRepository(db)
	messages := repository.NewGormMessageRepository(db)
	uploads := repository.NewGormAttachmentRepository(db)

	reg := registry.New(0)
	presenceCache := cache.NewMemoryPresenceCache()
	tracker := presence.NewTracker(reg, presenceCache)
	reg.SetListener(tracker)

	tokens, err := jwt.NewManager("0123456789abcdef0123", time.Hour, "test")
	require.NoError(t, err)
	auth := middleware.NewAuthMiddleware(tokens)

	engine := delivery.NewEngine(messages, users, reg, attachments, uploads, nil, delivery.Config{})
	chat := service.NewChatService(engine, typing.NewRelay(reg))
	accounts := service.NewAccountService(users, tokens, tracker, presenceCache, avatars)
	wsHub := hub.NewHub(reg, config.WebSocketConfig{})

	r := gin.New()
	NewHandler(accounts, engine, attachments, avatars, auth).RegisterRoutes(r)
	NewWSHandler(wsHub, chat, auth).RegisterRoutes(r)

	app := &testApp{server: httptest.NewServer(r), hub: wsHub}
	t.Cleanup(func() {
		wsHub.CloseAll()
		app.server.Close()
		tracker.Close()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return app
}

func (a *testApp) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.server.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return a.send(t, req)
}

func (a *testApp) send(t *testing.T, req *http.Request) (int, envelope) {
	t.Helper()
	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (a *testApp) register(t *testing.T, name string) *domain.AuthResponse {
	t.Helper()
	status, env := a.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": name,
		"email":    name + "@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, status)

	var auth domain.AuthResponse
	require.NoError(t, json.Unmarshal(env.Data, &auth))
	return &auth
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// dial opens a live connection and waits until the server has registered it.
func (a *testApp) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(a.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	writeFrame(t, conn, map[string]any{"type": domain.MsgTypePing})
	readUntil(t, conn, domain.MsgTypePong)
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// readUntil skips frames until one of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, frameType string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var frame map[string]any
		require.NoError(t, conn.ReadJSON(&frame), "waiting for %s", frameType)
		if frame["type"] == frameType {
			return frame
		}
	}
}

func TestAccountEndpoints(t *testing.T) {
	app := newTestApp(t)
	alice := app.register(t, "alice")
	assert.NotEmpty(t, alice.Token)

	t.Run("duplicate email conflicts", func(t *testing.T) {
		status, env := app.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
			"username": "alice2",
			"email":    "alice@example.com",
			"password": "secret123",
		})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "CONFLICT", env.Error.Code)
	})

	t.Run("wrong password is unauthorized", func(t *testing.T) {
		status, _ := app.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"email":    "alice@example.com",
			"password": "wrong-password",
		})
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("login returns a usable token", func(t *testing.T) {
		status, env := app.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"email":    "alice@example.com",
			"password": "secret123",
		})
		require.Equal(t, http.StatusOK, status)
		auth := decode[domain.AuthResponse](t, env.Data)

		status, env = app.do(t, http.MethodGet, "/api/v1/users/me", auth.Token, nil)
		require.Equal(t, http.StatusOK, status)
		me := decode[domain.UserResponse](t, env.Data)
		assert.Equal(t, alice.User.ID, me.ID)
		assert.Equal(t, domain.StatusOffline, me.Status)
	})

	t.Run("protected routes need a token", func(t *testing.T) {
		status, env := app.do(t, http.MethodGet, "/api/v1/users", "", nil)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
	})

	t.Run("directory excludes the caller", func(t *testing.T) {
		bob := app.register(t, "bob")
		status, env := app.do(t, http.MethodGet, "/api/v1/users", alice.Token, nil)
		require.Equal(t, http.StatusOK, status)
		list := decode[[]domain.UserResponse](t, env.Data)
		require.Len(t, list, 1)
		assert.Equal(t, bob.User.ID, list[0].ID)
	})

	t.Run("profile update rejects a short username", func(t *testing.T) {
		status, _ := app.do(t, http.MethodPut, "/api/v1/users/me", alice.Token, map[string]string{"username": "al"})
		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func TestMessageEndpoints(t *testing.T) {
	app := newTestApp(t)
	alice := app.register(t, "alice")
	bob := app.register(t, "bob")

	status, env := app.do(t, http.MethodPost, "/api/v1/messages", alice.Token, map[string]string{
		"receiver_id": bob.User.ID,
		"body":        "hi bob",
	})
	require.Equal(t, http.StatusCreated, status)
	sent := decode[domain.Message](t, env.Data)
	assert.Equal(t, domain.StateSent, sent.State)

	t.Run("unknown receiver is not found", func(t *testing.T) {
		status, _ := app.do(t, http.MethodPost, "/api/v1/messages", alice.Token, map[string]string{
			"receiver_id": uuid.NewString(),
			"body":        "anyone?",
		})
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("self message is rejected", func(t *testing.T) {
		status, _ := app.do(t, http.MethodPost, "/api/v1/messages", alice.Token, map[string]string{
			"receiver_id": alice.User.ID,
			"body":        "me",
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("history marks the partner's messages read", func(t *testing.T) {
		status, env := app.do(t, http.MethodGet, "/api/v1/messages/"+alice.User.ID, bob.Token, nil)
		require.Equal(t, http.StatusOK, status)
		msgs := decode[[]domain.Message](t, env.Data)
		require.Len(t, msgs, 1)
		assert.Equal(t, domain.StateRead, msgs[0].State)
		assert.NotNil(t, msgs[0].ReadAt)
	})

	t.Run("bad history limit", func(t *testing.T) {
		status, _ := app.do(t, http.MethodGet, "/api/v1/messages/"+alice.User.ID+"?limit=abc", bob.Token, nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("receiver cannot hard delete", func(t *testing.T) {
		status, env := app.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/messages/%d", sent.ID), bob.Token, nil)
		assert.Equal(t, http.StatusForbidden, status)
		assert.Equal(t, "FORBIDDEN", env.Error.Code)
	})

	t.Run("soft delete hides for the requester only", func(t *testing.T) {
		status, _ := app.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/messages/%d?mode=soft", sent.ID), bob.Token, nil)
		require.Equal(t, http.StatusOK, status)

		_, env := app.do(t, http.MethodGet, "/api/v1/messages/"+alice.User.ID, bob.Token, nil)
		assert.Empty(t, decode[[]domain.Message](t, env.Data))
		_, env = app.do(t, http.MethodGet, "/api/v1/messages/"+bob.User.ID, alice.Token, nil)
		assert.Len(t, decode[[]domain.Message](t, env.Data), 1)
	})

	t.Run("batch delete reports per id", func(t *testing.T) {
		status, env := app.do(t, http.MethodDelete, "/api/v1/messages", alice.Token, map[string]any{
			"message_ids": []uint64{sent.ID, 9999},
		})
		require.Equal(t, http.StatusOK, status)
		result := decode[domain.DeleteResult](t, env.Data)
		assert.Equal(t, []uint64{sent.ID}, result.Deleted)
		require.Len(t, result.Failed, 1)
		assert.Equal(t, uint64(9999), result.Failed[0].MessageID)
		assert.Equal(t, "not found", result.Failed[0].Reason)
	})

	t.Run("invalid delete mode", func(t *testing.T) {
		status, _ := app.do(t, http.MethodDelete, "/api/v1/messages/1?mode=shred", alice.Token, nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func (a *testApp) upload(t *testing.T, token, receiverID string, payload []byte) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("receiver_id", receiverID))
	require.NoError(t, mw.WriteField("body", "see file"))
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, a.server.URL+"/api/v1/messages/attachments", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return a.send(t, req)
}

func (a *testApp) fetchAttachment(t *testing.T, token, ref string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, a.server.URL+"/api/v1/attachments/"+ref, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestAttachmentUpload(t *testing.T) {
	app := newTestApp(t)
	alice := app.register(t, "alice")
	bob := app.register(t, "bob")
	payload := []byte("quarterly numbers attached")

	status, env := app.upload(t, alice.Token, bob.User.ID, payload)
	require.Equal(t, http.StatusCreated, status)
	msg := decode[domain.Message](t, env.Data)
	require.True(t, strings.HasPrefix(msg.AttachmentRef, attachment.PrefixAttachments+"/"), msg.AttachmentRef)
	assert.Equal(t, "see file", msg.Body)

	status, got := app.fetchAttachment(t, bob.Token, msg.AttachmentRef)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, payload, got)

	t.Run("unknown receiver leaves no message", func(t *testing.T) {
		status, _ := app.upload(t, alice.Token, uuid.NewString(), payload)
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("malformed reference", func(t *testing.T) {
		status, _ := app.do(t, http.MethodPost, "/api/v1/messages", alice.Token, map[string]string{
			"receiver_id":    bob.User.ID,
			"attachment_ref": "../../etc/passwd",
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func TestAttachmentOwnership(t *testing.T) {
	app := newTestApp(t)
	alice := app.register(t, "alice")
	bob := app.register(t, "bob")
	payload := []byte("contract draft v2")

	status, env := app.upload(t, alice.Token, bob.User.ID, payload)
	require.Equal(t, http.StatusCreated, status)
	original := decode[domain.Message](t, env.Data)

	t.Run("receiver cannot reuse the sender's reference", func(t *testing.T) {
		status, env := app.do(t, http.MethodPost, "/api/v1/messages", bob.Token, map[string]string{
			"receiver_id":    alice.User.ID,
			"attachment_ref": original.AttachmentRef,
		})
		assert.Equal(t, http.StatusForbidden, status)
		require.NotNil(t, env.Error)
		assert.Equal(t, "FORBIDDEN", env.Error.Code)
	})

	t.Run("well formed but never uploaded", func(t *testing.T) {
		status, _ := app.do(t, http.MethodPost, "/api/v1/messages", bob.Token, map[string]string{
			"receiver_id":    alice.User.ID,
			"attachment_ref": "attachments/2024/06/01HRZ8Q6KJ7M3V5X9Y2B4C6D8E.txt",
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})

	status, got := app.fetchAttachment(t, alice.Token, original.AttachmentRef)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, payload, got)

	t.Run("payload outlives a deleted copy", func(t *testing.T) {
		status, env := app.do(t, http.MethodPost, "/api/v1/messages", alice.Token, map[string]string{
			"receiver_id":    bob.User.ID,
			"attachment_ref": original.AttachmentRef,
		})
		require.Equal(t, http.StatusCreated, status)
		forwarded := decode[domain.Message](t, env.Data)

		status, _ = app.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/messages/%d", forwarded.ID), alice.Token, nil)
		require.Equal(t, http.StatusOK, status)

		status, got := app.fetchAttachment(t, bob.Token, original.AttachmentRef)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, payload, got)

		status, _ = app.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/messages/%d", original.ID), alice.Token, nil)
		require.Equal(t, http.StatusOK, status)

		status, _ = app.fetchAttachment(t, bob.Token, original.AttachmentRef)
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestLiveChannelRejectsBadToken(t *testing.T) {
	app := newTestApp(t)

	url := "ws" + strings.TrimPrefix(app.server.URL, "http") + "/ws?token=not-a-token"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		conn.Close()
	}
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLiveChannelConversation(t *testing.T) {
	app := newTestApp(t)
	alice := app.register(t, "alice")
	bob := app.register(t, "bob")

	aliceConn := app.dial(t, alice.Token)
	bobConn := app.dial(t, bob.Token)

	online := readUntil(t, aliceConn, domain.MsgTypePresence)
	assert.Equal(t, bob.User.ID, online["user_id"])
	assert.Equal(t, domain.StatusOnline, online["status"])

	// Bob writes to alice.
	writeFrame(t, bobConn, map[string]any{
		"type":       domain.MsgTypeDirectMessage,
		"to":         alice.User.ID,
		"body":       "hello alice",
		"client_ref": "c-1",
	})
	ack := readUntil(t, bobConn, domain.MsgTypeMessageSent)
	assert.Equal(t, "c-1", ack["client_ref"])

	incoming := readUntil(t, aliceConn, domain.MsgTypeChatMessage)
	assert.Equal(t, "hello alice", incoming["body"])
	assert.Equal(t, bob.User.ID, incoming["sender_id"])
	assert.Equal(t, string(domain.StateSent), incoming["state"])
	messageID := incoming["id"].(float64)

	// Alice acknowledges delivery then reads the conversation.
	writeFrame(t, aliceConn, map[string]any{"type": domain.MsgTypeMessageDelivered, "message_id": messageID})
	delivered := readUntil(t, bobConn, domain.MsgTypeMessageStatus)
	assert.Equal(t, messageID, delivered["message_id"])
	assert.Equal(t, string(domain.StateDelivered), delivered["state"])

	writeFrame(t, aliceConn, map[string]any{"type": domain.MsgTypeMessageRead, "partner_id": bob.User.ID})
	read := readUntil(t, bobConn, domain.MsgTypeMessageStatus)
	assert.Equal(t, alice.User.ID, read["partner_id"])
	assert.Equal(t, string(domain.StateRead), read["state"])
	assert.NotEmpty(t, read["read_at"])

	// Typing is relayed without persistence.
	writeFrame(t, aliceConn, map[string]any{"type": domain.MsgTypeTyping, "to": bob.User.ID, "is_typing": true})
	typingFrame := readUntil(t, bobConn, domain.MsgTypeTyping)
	assert.Equal(t, alice.User.ID, typingFrame["from"])
	assert.Equal(t, true, typingFrame["is_typing"])

	// Errors stay on the offending connection.
	writeFrame(t, bobConn, map[string]any{"type": "launch-rockets"})
	errFrame := readUntil(t, bobConn, domain.MsgTypeError)
	assert.Equal(t, domain.ErrCodeBadRequest, errFrame["code"])

	writeFrame(t, bobConn, map[string]any{"type": domain.MsgTypeMessageDelivered, "message_id": messageID})
	errFrame = readUntil(t, bobConn, domain.MsgTypeError)
	assert.Equal(t, domain.ErrCodeForbidden, errFrame["code"])

	// Batch delete answers the requester with a per-id result.
	writeFrame(t, bobConn, map[string]any{
		"type":        domain.MsgTypeDeleteMessages,
		"message_ids": []any{messageID},
		"mode":        string(domain.DeleteHard),
	})
	deleted := readUntil(t, aliceConn, domain.MsgTypeMessageDeleted)
	assert.Equal(t, messageID, deleted["message_id"])
	result := readUntil(t, bobConn, domain.MsgTypeDeleteResult)
	assert.Equal(t, []any{messageID}, result["deleted"])

	// Closing bob's only connection flips him offline for alice.
	require.NoError(t, bobConn.Close())
	offline := readUntil(t, aliceConn, domain.MsgTypePresence)
	assert.Equal(t, bob.User.ID, offline["user_id"])
	assert.Equal(t, domain.StatusOffline, offline["status"])
}
