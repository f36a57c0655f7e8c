package model

import "time"

// ClickEvent represents one tracked-link hit
type ClickEvent struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MessageID  string    `json:"message_id" gorm:"type:varchar(36);not null;index"`
	URL        string    `json:"url" gorm:"type:text;not null"`
	ClickedAt  time.Time `json:"clicked_at" gorm:"not null"`
	UserAgent  string    `json:"user_agent" gorm:"type:text"`
	IPHash     string    `json:"ip_hash" gorm:"type:varchar(64)"`
	DeviceType string    `json:"device_type" gorm:"type:varchar(20);not null"`
}

// TableName specifies the table name for ClickEvent
func (ClickEvent) TableName() string {
	return "click_events"
}
