package domain

import "time"

// UserModel is the GORM model for users table.
type UserModel struct {
	ID           string    `gorm:"type:varchar(36);primaryKey"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	Username     string    `gorm:"type:varchar(50);uniqueIndex;not null"`
	AvatarRef    string    `gorm:"type:varchar(255)"`
	PasswordHash string    `gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for UserModel.
func (UserModel) TableName() string {
	return "users"
}

// ToDomain converts UserModel to domain User.
func (m *UserModel) ToDomain() *User {
	return &User{
		ID:           m.ID,
		Email:        m.Email,
		Username:     m.Username,
		AvatarRef:    m.AvatarRef,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// UserToModel converts domain User to UserModel.
func UserToModel(u *User) *UserModel {
	return &UserModel{
		ID:           u.ID,
		Email:        u.Email,
		Username:     u.Username,
		AvatarRef:    u.AvatarRef,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

// MessageModel is the GORM model for messages table.
// Only State, ReadAt and the Hidden flags change after insert.
type MessageModel struct {
	ID                uint64     `gorm:"primaryKey;autoIncrement"`
	SenderID          string     `gorm:"type:varchar(36);not null;index:idx_messages_conversation,priority:1"`
	ReceiverID        string     `gorm:"type:varchar(36);not null;index:idx_messages_conversation,priority:2;index:idx_messages_receiver"`
	Body              string     `gorm:"type:text;not null"`
	AttachmentRef     string     `gorm:"type:varchar(255);index"`
	CreatedAt         time.Time  `gorm:"not null;index:idx_messages_conversation,priority:3"`
	State             string     `gorm:"type:varchar(16);not null;default:sent"`
	ReadAt            *time.Time `gorm:""`
	HiddenForSender   bool       `gorm:"not null;default:false"`
	HiddenForReceiver bool       `gorm:"not null;default:false"`
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts MessageModel to domain Message.
func (m *MessageModel) ToDomain() *Message {
	msg := &Message{
		ID:            m.ID,
		SenderID:      m.SenderID,
		ReceiverID:    m.ReceiverID,
		Body:          m.Body,
		AttachmentRef: m.AttachmentRef,
		CreatedAt:     m.CreatedAt.UTC(),
		State:         DeliveryState(m.State),
	}
	if m.ReadAt != nil {
		t := m.ReadAt.UTC()
		msg.ReadAt = &t
	}
	return msg
}

// MessageToModel converts domain Message to MessageModel.
func MessageToModel(m *Message) *MessageModel {
	return &MessageModel{
		ID:            m.ID,
		SenderID:      m.SenderID,
		ReceiverID:    m.ReceiverID,
		Body:          m.Body,
		AttachmentRef: m.AttachmentRef,
		CreatedAt:     m.CreatedAt,
		State:         string(m.State),
		ReadAt:        m.ReadAt,
	}
}
