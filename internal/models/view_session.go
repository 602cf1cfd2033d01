package models

import "time"

// ViewSession persists a browser session's listing configuration
// (filters, sort, grouping, search) as JSON, keyed by the session
// cookie. Rows are deleted when the session ends or goes stale.
type ViewSession struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"size:64;uniqueIndex"`
	State     string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
