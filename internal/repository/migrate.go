package repository

import (
	"gorm.io/gorm"

	"github.com/NizariMohamed/chatting/internal/domain"
	"github.com/NizariMohamed/chatting/pkg/database"
)

// Migrate creates or updates the users, messages and attachments tables.
func Migrate(db *gorm.DB) error {
	return database.AutoMigrate(db, &domain.UserModel{}, &domain.MessageModel{}, &domain.AttachmentModel{})
}
