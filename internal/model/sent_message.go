package model

import "time"

// Delivery status values of a SentMessage
const (
	StatusSent    = "sent"
	StatusBounced = "bounced"
)

// SentMessage represents one message accepted for sending
type SentMessage struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CampaignID     string    `json:"campaign_id" gorm:"type:varchar(255);not null;index"`
	RecipientEmail string    `json:"recipient_email" gorm:"type:varchar(255);not null;index"`
	TemplateID     string    `json:"template_id" gorm:"type:varchar(255);not null"`
	SentAt         time.Time `json:"sent_at" gorm:"not null;index"`
	Status         string    `json:"status" gorm:"type:varchar(20);not null;default:sent"`
	BounceType     string    `json:"bounce_type,omitempty" gorm:"type:varchar(50)"`
	BounceInfo     string    `json:"bounce_info,omitempty" gorm:"type:text"`
	Metadata       string    `json:"metadata,omitempty" gorm:"type:text"`
	BeaconToken    *string   `json:"-" gorm:"type:varchar(36);uniqueIndex"`

	Opens   []OpenEvent   `json:"-" gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
	Clicks  []ClickEvent  `json:"-" gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
	Bounces []BounceEvent `json:"-" gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for SentMessage
func (SentMessage) TableName() string {
	return "sent_messages"
}
