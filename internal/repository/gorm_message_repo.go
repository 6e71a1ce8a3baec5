package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/NizariMohamed/chatting/internal/domain"
)

// GormMessageRepository implements MessageRepository using GORM.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a new GORM-based message repository.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

func (r *GormMessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	model := domain.MessageToModel(msg)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	msg.ID = model.ID
	return nil
}

func (r *GormMessageRepository) GetByID(ctx context.Context, id uint64) (*domain.Message, error) {
	var model domain.MessageModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

func (r *GormMessageRepository) MarkDelivered(ctx context.Context, id uint64) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("id = ? AND state = ?", id, string(domain.StateSent)).
		Update("state", string(domain.StateDelivered))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormMessageRepository) MarkConversationRead(ctx context.Context, receiverID, senderID string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("receiver_id = ? AND sender_id = ? AND state <> ?", receiverID, senderID, string(domain.StateRead)).
		Updates(map[string]any{
			"state":   string(domain.StateRead),
			"read_at": at.UTC(),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormMessageRepository) ListConversation(ctx context.Context, viewerID, partnerID string, limit int) ([]*domain.Message, error) {
	var models []domain.MessageModel
	err := r.db.WithContext(ctx).
		Where(
			r.db.Where("sender_id = ? AND receiver_id = ? AND hidden_for_sender = ?", viewerID, partnerID, false).
				Or("sender_id = ? AND receiver_id = ? AND hidden_for_receiver = ?", partnerID, viewerID, false),
		).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	msgs := make([]*domain.Message, len(models))
	for i := range models {
		msgs[i] = models[i].ToDomain()
	}
	return msgs, nil
}

func (r *GormMessageRepository) DeleteBySender(ctx context.Context, id uint64, senderID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("id = ? AND sender_id = ?", id, senderID).
		Delete(&domain.MessageModel{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormMessageRepository) HideFor(ctx context.Context, id uint64, userID string) (bool, error) {
	var affected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.MessageModel{}).
			Where("id = ? AND sender_id = ? AND hidden_for_sender = ?", id, userID, false).
			Update("hidden_for_sender", true)
		if res.Error != nil {
			return res.Error
		}
		affected += res.RowsAffected

		res = tx.Model(&domain.MessageModel{}).
			Where("id = ? AND receiver_id = ? AND hidden_for_receiver = ?", id, userID, false).
			Update("hidden_for_receiver", true)
		if res.Error != nil {
			return res.Error
		}
		affected += res.RowsAffected
		return nil
	})
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *GormMessageRepository) CountByAttachment(ctx context.Context, ref string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("attachment_ref = ?", ref).
		Count(&n).Error
	return n, err
}
