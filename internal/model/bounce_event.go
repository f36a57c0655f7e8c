package model

import "time"

// BounceEvent represents one delivery failure report
type BounceEvent struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MessageID   string    `json:"message_id" gorm:"type:varchar(36);not null;index"`
	BouncedAt   time.Time `json:"bounced_at" gorm:"not null"`
	BounceType  string    `json:"bounce_type" gorm:"type:varchar(50);not null"`
	Reason      string    `json:"reason" gorm:"type:text"`
	Description string    `json:"description" gorm:"type:text"`
}

// TableName specifies the table name for BounceEvent
func (BounceEvent) TableName() string {
	return "bounce_events"
}
