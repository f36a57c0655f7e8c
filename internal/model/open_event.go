package model

import "time"

// Device classes derived from a user agent
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
	DeviceUnknown = "unknown"
)

// OpenEvent represents one beacon hit
type OpenEvent struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MessageID  string    `json:"message_id" gorm:"type:varchar(36);not null;index"`
	OpenedAt   time.Time `json:"opened_at" gorm:"not null"`
	UserAgent  string    `json:"user_agent" gorm:"type:text"`
	IPHash     string    `json:"ip_hash" gorm:"type:varchar(64)"`
	DeviceType string    `json:"device_type" gorm:"type:varchar(20);not null"`
	Browser    string    `json:"browser" gorm:"type:varchar(20)"`
	OS         string    `json:"os" gorm:"type:varchar(20)"`
}

// TableName specifies the table name for OpenEvent
func (OpenEvent) TableName() string {
	return "open_events"
}
