package domain

import "time"

// Attachment records who uploaded a payload. Only the owner may reference
// it from new messages.
type Attachment struct {
	Ref       string
	OwnerID   string
	CreatedAt time.Time
}

// AttachmentModel is the GORM model for attachments table.
type AttachmentModel struct {
	Ref       string    `gorm:"type:varchar(255);primaryKey"`
	OwnerID   string    `gorm:"type:varchar(36);not null;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (AttachmentModel) TableName() string {
	return "attachments"
}

func (m *AttachmentModel) ToDomain() *Attachment {
	return &Attachment{Ref: m.Ref, OwnerID: m.OwnerID, CreatedAt: m.CreatedAt.UTC()}
}
