package service

import (
	"context"

	"github.com/NizariMohamed/chatting/internal/domain"
)

// AccountService defines the account and directory surface.
type AccountService interface {
	Register(ctx context.Context, req *domain.RegisterRequest) (*domain.AuthResponse, error)
	Login(ctx context.Context, req *domain.LoginRequest) (*domain.AuthResponse, error)
	GetProfile(ctx context.Context, userID string) (*domain.UserResponse, error)
	// UpdateProfile applies the non-nil fields of req. A replaced avatar
	// payload is removed from blob storage.
	UpdateProfile(ctx context.Context, userID string, req *domain.UpdateProfileRequest) (*domain.UserResponse, error)
	// Directory lists every other user with live status and last seen time.
	Directory(ctx context.Context, userID string) ([]domain.UserResponse, error)
}

// Replier is the originating live connection of an inbound frame.
type Replier interface {
	UserID() string
	SendJSON(v any) error
}

// ChatService handles frames received on the live channel. Returned errors
// are reported back to the originating connection only.
type ChatService interface {
	HandleDirectMessage(ctx context.Context, c Replier, msg *domain.DirectMessageIn) error
	HandleDelivered(ctx context.Context, c Replier, msg *domain.MessageDeliveredIn) error
	HandleRead(ctx context.Context, c Replier, msg *domain.MessageReadIn) error
	HandleTyping(ctx context.Context, c Replier, msg *domain.TypingIn) error
	HandleDeleteMessages(ctx context.Context, c Replier, msg *domain.DeleteMessagesIn) error
}
