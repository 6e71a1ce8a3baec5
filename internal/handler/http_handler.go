package handler

import (
	"context"
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/NizariMohamed/chatting/internal/attachment"
	"github.com/NizariMohamed/chatting/internal/audit"
	"github.com/NizariMohamed/chatting/internal/delivery"
	"github.com/NizariMohamed/chatting/internal/domain"
	"github.com/NizariMohamed/chatting/internal/service"
	"github.com/NizariMohamed/chatting/pkg/log"
	"github.com/NizariMohamed/chatting/pkg/middleware"
	"github.com/NizariMohamed/chatting/pkg/response"
	"github.com/NizariMohamed/chatting/pkg/storage"
)

// multipart overhead allowed on top of the payload limit
const formOverhead = 1 << 20

// Handler handles REST requests.
type Handler struct {
	accounts       service.AccountService
	engine         *delivery.Engine
	attachments    *attachment.Handoff
	avatars        *attachment.Handoff
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates a new HTTP handler.
func NewHandler(
	accounts service.AccountService,
	engine *delivery.Engine,
	attachments *attachment.Handoff,
	avatars *attachment.Handoff,
	authMiddleware *middleware.AuthMiddleware,
) *Handler {
	return &Handler{
		accounts:       accounts,
		engine:         engine,
		attachments:    attachments,
		avatars:        avatars,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		// Public routes
		auth := api.Group("/auth")
		{
			auth.POST("/register", h.Register)
			auth.POST("/login", h.Login)
		}

		// Protected routes
		protected := api.Group("")
		protected.Use(h.authMiddleware.RequireAuth())
		{
			protected.GET("/users", h.ListUsers)
			protected.GET("/users/me", h.GetMe)
			protected.PUT("/users/me", h.UpdateMe)

			protected.POST("/messages", h.SendMessage)
			protected.POST("/messages/attachments", h.SendAttachment)
			protected.GET("/messages/:partnerId", h.GetHistory)
			protected.DELETE("/messages/:id", h.DeleteMessage)
			protected.DELETE("/messages", h.DeleteMessages)
			protected.POST("/conversations/:partnerId/read", h.MarkRead)

			protected.GET("/attachments/*key", h.GetAttachment)
		}
	}
}

// Register handles user registration.
func (h *Handler) Register(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	var req domain.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid register request")
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.accounts.Register(ctx, &req)
	if err != nil {
		writeError(c, err, "register user")
		return
	}

	response.Created(c, result)
}

// Login handles user login.
func (h *Handler) Login(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	var req domain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid login request")
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.accounts.Login(ctx, &req)
	if err != nil {
		writeError(c, err, "login")
		return
	}

	response.Success(c, result)
}

// ListUsers returns the directory with live presence.
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.accounts.Directory(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		writeError(c, err, "list users")
		return
	}
	response.Success(c, users)
}

// GetMe returns the caller's profile.
func (h *Handler) GetMe(c *gin.Context) {
	user, err := h.accounts.GetProfile(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		writeError(c, err, "get profile")
		return
	}
	response.Success(c, user)
}

type updateMeRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
}

// UpdateMe accepts JSON, or multipart with an optional "avatar" file.
func (h *Handler) UpdateMe(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)

	req := &domain.UpdateProfileRequest{}
	if c.ContentType() == "multipart/form-data" {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.avatars.MaxSize()+formOverhead)
		if v, ok := c.GetPostForm("username"); ok {
			req.Username = &v
		}
		if v, ok := c.GetPostForm("email"); ok {
			req.Email = &v
		}

		if fh, err := c.FormFile("avatar"); err == nil {
			ref, err := h.storeUpload(ctx, h.avatars, fh)
			if err != nil {
				writeError(c, err, "store avatar")
				return
			}
			req.AvatarRef = &ref
		} else if !errors.Is(err, http.ErrMissingFile) {
			response.BadRequest(c, "invalid multipart form")
			return
		}
	} else {
		var body updateMeRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		req.Username = body.Username
		req.Email = body.Email
	}

	user, err := h.accounts.UpdateProfile(ctx, userID, req)
	if err != nil {
		if req.AvatarRef != nil {
			h.discard(ctx, h.avatars, *req.AvatarRef)
		}
		writeError(c, err, "update profile")
		return
	}
	response.Success(c, user)
}

type sendMessageRequest struct {
	ReceiverID    string `json:"receiver_id" binding:"required"`
	Body          string `json:"body"`
	AttachmentRef string `json:"attachment_ref"`
}

// SendMessage submits a message through the delivery engine.
func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	msg, err := h.engine.Submit(c.Request.Context(), middleware.GetUserID(c), req.ReceiverID, req.Body, req.AttachmentRef)
	if err != nil {
		writeError(c, err, "send message")
		return
	}
	response.Created(c, msg)
}

// SendAttachment stores an uploaded file and submits a message that
// references it. The body may be empty.
func (h *Handler) SendAttachment(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.attachments.MaxSize()+formOverhead)
	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.TooLarge(c, "upload exceeds size limit")
			return
		}
		response.BadRequest(c, "file is required")
		return
	}
	receiverID := strings.TrimSpace(c.PostForm("receiver_id"))
	if receiverID == "" {
		response.BadRequest(c, "receiver_id is required")
		return
	}

	ref, err := h.storeUpload(ctx, h.attachments, fh)
	if err != nil {
		writeError(c, err, "store attachment")
		return
	}

	if err := h.engine.RegisterUpload(ctx, userID, ref); err != nil {
		h.discard(ctx, h.attachments, ref)
		writeError(c, err, "register attachment")
		return
	}

	msg, err := h.engine.Submit(ctx, userID, receiverID, c.PostForm("body"), ref)
	if err != nil {
		h.engine.DiscardUpload(context.WithoutCancel(ctx), ref)
		writeError(c, err, "send message")
		return
	}

	audit.LogTarget(ctx, audit.ActionUploadAttached, userID, ref, "attachment uploaded")
	response.Created(c, msg)
}

// GetHistory returns the conversation with partnerId after marking the
// partner's messages as read.
func (h *Handler) GetHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.BadRequest(c, "limit must be an integer")
			return
		}
		limit = n
	}

	msgs, err := h.engine.FetchHistory(c.Request.Context(), middleware.GetUserID(c), c.Param("partnerId"), limit)
	if err != nil {
		writeError(c, err, "fetch history")
		return
	}
	response.Success(c, msgs)
}

// MarkRead marks the partner's messages to the caller as read.
func (h *Handler) MarkRead(c *gin.Context) {
	n, err := h.engine.MarkRead(c.Request.Context(), middleware.GetUserID(c), c.Param("partnerId"))
	if err != nil {
		writeError(c, err, "mark read")
		return
	}
	response.Success(c, gin.H{"updated": n})
}

// DeleteMessage deletes one message.
func (h *Handler) DeleteMessage(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid message id")
		return
	}
	mode, err := domain.ParseDeleteMode(c.Query("mode"))
	if err != nil {
		writeError(c, err, "delete message")
		return
	}

	if err := h.engine.Delete(c.Request.Context(), middleware.GetUserID(c), id, mode); err != nil {
		writeError(c, err, "delete message")
		return
	}
	response.Success(c, gin.H{"message_id": id, "mode": mode})
}

type deleteMessagesRequest struct {
	MessageIDs []uint64 `json:"message_ids" binding:"required"`
	Mode       string   `json:"mode"`
}

// DeleteMessages applies a batch delete and reports the outcome per id.
func (h *Handler) DeleteMessages(c *gin.Context) {
	var req deleteMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	mode, err := domain.ParseDeleteMode(req.Mode)
	if err != nil {
		writeError(c, err, "delete messages")
		return
	}

	result, err := h.engine.DeleteBatch(c.Request.Context(), middleware.GetUserID(c), req.MessageIDs, mode)
	if err != nil {
		writeError(c, err, "delete messages")
		return
	}
	response.Success(c, result)
}

// GetAttachment redirects to a presigned URL when the store supports it and
// streams the payload otherwise.
func (h *Handler) GetAttachment(c *gin.Context) {
	ctx := c.Request.Context()
	key := strings.TrimPrefix(c.Param("key"), "/")

	handoff := h.attachments
	if strings.HasPrefix(key, h.avatars.Prefix()+"/") {
		handoff = h.avatars
	}

	url, err := handoff.URL(ctx, key)
	if err == nil {
		c.Redirect(http.StatusFound, url)
		return
	}
	if !errors.Is(err, storage.ErrURLUnsupported) {
		writeError(c, err, "resolve attachment")
		return
	}

	rc, err := handoff.Open(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response.NotFound(c, "attachment not found")
			return
		}
		writeError(c, err, "open attachment")
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, -1, contentType, rc, map[string]string{
		"Cache-Control": "private, max-age=86400",
	})
}

func (h *Handler) storeUpload(ctx context.Context, handoff *attachment.Handoff, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", domain.NewValidationError("file", "cannot read upload")
	}
	defer f.Close()
	return handoff.Store(ctx, f, fh.Size, fh.Header.Get("Content-Type"), fh.Filename)
}

func (h *Handler) discard(ctx context.Context, handoff *attachment.Handoff, ref string) {
	if err := handoff.Delete(context.WithoutCancel(ctx), ref); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldAttachmentRef, ref).Msg("failed to discard orphaned upload")
	}
}
