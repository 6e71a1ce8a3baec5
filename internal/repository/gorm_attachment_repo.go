package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/NizariMohamed/chatting/internal/domain"
)

// GormAttachmentRepository implements AttachmentRepository using GORM.
type GormAttachmentRepository struct {
	db *gorm.DB
}

func NewGormAttachmentRepository(db *gorm.DB) *GormAttachmentRepository {
	return &GormAttachmentRepository{db: db}
}

func (r *GormAttachmentRepository) Create(ctx context.Context, a *domain.Attachment) error {
	model := &domain.AttachmentModel{Ref: a.Ref, OwnerID: a.OwnerID}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	a.CreatedAt = model.CreatedAt
	return nil
}

func (r *GormAttachmentRepository) GetByRef(ctx context.Context, ref string) (*domain.Attachment, error) {
	var model domain.AttachmentModel
	if err := r.db.WithContext(ctx).First(&model, "ref = ?", ref).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAttachmentNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Delete removes the ownership record. Missing rows are not an error.
func (r *GormAttachmentRepository) Delete(ctx context.Context, ref string) error {
	return r.db.WithContext(ctx).Where("ref = ?", ref).Delete(&domain.AttachmentModel{}).Error
}
