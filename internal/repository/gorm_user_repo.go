package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/NizariMohamed/chatting/internal/domain"
)

// GormUserRepository implements UserRepository using GORM.
type GormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a new GORM-based user repository.
func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

// Create creates a new user.
func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	model := domain.UserToModel(user)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return handleError(err)
	}

	user.CreatedAt = model.CreatedAt
	user.UpdatedAt = model.UpdatedAt
	return nil
}

// GetByID retrieves a user by ID.
func (r *GormUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.first(ctx, "id = ?", id)
}

// GetByEmail retrieves a user by email.
func (r *GormUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.first(ctx, "email = ?", strings.ToLower(email))
}

func (r *GormUserRepository) first(ctx context.Context, query string, arg any) (*domain.User, error) {
	var model domain.UserModel
	if err := r.db.WithContext(ctx).First(&model, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Update persists username, email and avatar changes.
func (r *GormUserRepository) Update(ctx context.Context, user *domain.User) error {
	result := r.db.WithContext(ctx).Model(&domain.UserModel{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{
			"username":   user.Username,
			"email":      user.Email,
			"avatar_ref": user.AvatarRef,
		})
	if result.Error != nil {
		return handleError(result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}

	updated, err := r.GetByID(ctx, user.ID)
	if err != nil {
		return err
	}
	user.UpdatedAt = updated.UpdatedAt
	return nil
}

// ListExcept returns all users except excludeID, ordered by username.
func (r *GormUserRepository) ListExcept(ctx context.Context, excludeID string) ([]*domain.User, error) {
	var models []domain.UserModel
	if err := r.db.WithContext(ctx).
		Where("id <> ?", excludeID).
		Order("username ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	users := make([]*domain.User, len(models))
	for i := range models {
		users[i] = models[i].ToDomain()
	}
	return users, nil
}

// Exists reports whether a user with id exists.
func (r *GormUserRepository) Exists(ctx context.Context, id string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&domain.UserModel{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// handleError converts database-specific errors to domain errors.
func handleError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return duplicateField(err.Error(), err)
	}

	errStr := err.Error()

	// PostgreSQL / SQLite unique constraint violation
	if strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, "UNIQUE constraint") {
		return duplicateField(errStr, err)
	}

	// MySQL unique constraint violation
	if strings.Contains(errStr, "Duplicate entry") {
		return duplicateField(errStr, err)
	}

	return err
}

func duplicateField(errStr string, err error) error {
	switch {
	case strings.Contains(errStr, "email"):
		return domain.ErrEmailExists
	case strings.Contains(errStr, "username"):
		return domain.ErrUsernameExists
	default:
		return err
	}
}
