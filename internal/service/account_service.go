package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/singleflight"

	"github.com/NizariMohamed/chatting/internal/audit"
	"github.com/NizariMohamed/chatting/internal/cache"
	"github.com/NizariMohamed/chatting/internal/domain"
	"github.com/NizariMohamed/chatting/internal/repository"
	"github.com/NizariMohamed/chatting/pkg/log"
)

// TokenIssuer creates access tokens.
type TokenIssuer interface {
	Generate(userID, username, email string) (string, int64, error)
}

// StatusSource reports the live presence of a user.
type StatusSource interface {
	Status(userID string) string
}

// AvatarStore removes replaced avatar payloads.
type AvatarStore interface {
	Owns(ref string) bool
	Delete(ctx context.Context, ref string) error
}

// accountServiceImpl implements AccountService interface.
type accountServiceImpl struct {
	repo     repository.UserRepository
	tokens   TokenIssuer
	status   StatusSource
	presence cache.PresenceCache
	avatars  AvatarStore
	sf       singleflight.Group
}

// NewAccountService creates a new account service. presence and avatars may be nil.
func NewAccountService(
	repo repository.UserRepository,
	tokens TokenIssuer,
	status StatusSource,
	presence cache.PresenceCache,
	avatars AvatarStore,
) AccountService {
	return &accountServiceImpl{
		repo:     repo,
		tokens:   tokens,
		status:   status,
		presence: presence,
		avatars:  avatars,
	}
}

// Register registers a new user.
func (s *accountServiceImpl) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.AuthResponse, error) {
	l := log.Ctx(ctx)

	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if len(req.Password) < 6 {
		return nil, domain.NewValidationError("password", "must be at least 6 characters")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		l.Error().Err(err).Msg("failed to hash password")
		return nil, err
	}

	user := &domain.User{
		Email:        email,
		Username:     username,
		PasswordHash: string(hashedPassword),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if !errors.Is(err, domain.ErrEmailExists) && !errors.Is(err, domain.ErrUsernameExists) {
			l.Error().Err(err).Msg("failed to create user")
		}
		return nil, err
	}

	audit.Log(ctx, audit.ActionRegister, user.ID, "user registered")
	return s.issue(user)
}

// Login authenticates a user.
func (s *accountServiceImpl) Login(ctx context.Context, req *domain.LoginRequest) (*domain.AuthResponse, error) {
	l := log.Ctx(ctx)

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			audit.LogWithDetail(ctx, audit.ActionLoginFailed, "", email, "login failed: user not found")
			return nil, domain.ErrInvalidCredentials
		}
		l.Error().Err(err).Msg("failed to get user by email")
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		audit.LogWithDetail(ctx, audit.ActionLoginFailed, user.ID, email, "login failed: wrong password")
		return nil, domain.ErrInvalidCredentials
	}

	audit.Log(ctx, audit.ActionLogin, user.ID, "user logged in")
	return s.issue(user)
}

func (s *accountServiceImpl) issue(user *domain.User) (*domain.AuthResponse, error) {
	token, expiresAt, err := s.tokens.Generate(user.ID, user.Username, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return &domain.AuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user.ToResponse(),
	}, nil
}

// GetProfile retrieves a user by ID.
func (s *accountServiceImpl) GetProfile(ctx context.Context, userID string) (*domain.UserResponse, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			l := log.Ctx(ctx)
			l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to get user")
		}
		return nil, err
	}

	resp := user.ToResponse()
	resp.Status = s.status.Status(userID)
	return &resp, nil
}

// UpdateProfile updates a user.
func (s *accountServiceImpl) UpdateProfile(ctx context.Context, userID string, req *domain.UpdateProfileRequest) (*domain.UserResponse, error) {
	l := log.Ctx(ctx)

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to get user for update")
		}
		return nil, err
	}

	if req.Username != nil {
		username := strings.TrimSpace(*req.Username)
		if err := validateUsername(username); err != nil {
			return nil, err
		}
		user.Username = username
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		user.Email = email
	}

	oldAvatar := user.AvatarRef
	if req.AvatarRef != nil {
		user.AvatarRef = *req.AvatarRef
	}

	if err := s.repo.Update(ctx, user); err != nil {
		if !errors.Is(err, domain.ErrEmailExists) && !errors.Is(err, domain.ErrUsernameExists) {
			l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to update user")
		}
		return nil, err
	}

	if oldAvatar != "" && oldAvatar != user.AvatarRef && s.avatars != nil && s.avatars.Owns(oldAvatar) {
		if err := s.avatars.Delete(ctx, oldAvatar); err != nil {
			l.Warn().Err(err).Str(log.FieldUserID, userID).Msg("failed to remove previous avatar")
		}
	}

	audit.Log(ctx, audit.ActionProfileUpdate, userID, "profile updated")

	resp := user.ToResponse()
	resp.Status = s.status.Status(userID)
	return &resp, nil
}

// Directory lists all other users ordered by username. Concurrent calls
// for the same requester share one database and cache round trip.
func (s *accountServiceImpl) Directory(ctx context.Context, userID string) ([]domain.UserResponse, error) {
	result, err, _ := s.sf.Do("directory:"+userID, func() (any, error) {
		return s.loadDirectory(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	shared, ok := result.([]domain.UserResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}

	// Live status is read per call so a shared result is never stale.
	out := make([]domain.UserResponse, len(shared))
	copy(out, shared)
	for i := range out {
		out[i].Status = s.status.Status(out[i].ID)
	}
	return out, nil
}

func (s *accountServiceImpl) loadDirectory(ctx context.Context, userID string) ([]domain.UserResponse, error) {
	users, err := s.repo.ListExcept(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}

	var snaps map[string]cache.Snapshot
	if s.presence != nil {
		snaps, err = s.presence.Snapshots(ctx, ids)
		if err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Msg("presence cache read failed")
		}
	}

	out := make([]domain.UserResponse, len(users))
	for i, u := range users {
		out[i] = u.ToResponse()
		if snap, ok := snaps[u.ID]; ok {
			seen := snap.LastSeen
			out[i].LastSeenAt = &seen
		}
	}
	return out, nil
}

func validateUsername(username string) error {
	if n := len(username); n < 3 || n > 50 {
		return domain.NewValidationError("username", "must be 3 to 50 characters")
	}
	return nil
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return domain.NewValidationError("email", "is not a valid address")
	}
	return nil
}
