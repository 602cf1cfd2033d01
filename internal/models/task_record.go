package models

import "time"

// Task status values. Transitions: pending → started → success|failure;
// any non-final status may move to revoked.
const (
	TaskPending = "pending"
	TaskStarted = "started"
	TaskSuccess = "success"
	TaskFailure = "failure"
	TaskRevoked = "revoked"
)

// TaskRecord is one unit of dispatched work tracked through the broker.
type TaskRecord struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	UUID       string `gorm:"size:36;uniqueIndex"`
	Name       string `gorm:"size:64;index"`
	Status     string `gorm:"size:16;default:pending;index"`
	Payload    string `gorm:"type:text"` // JSON arguments
	Result     string `gorm:"type:text"` // JSON, opaque to the broker
	Error      string `gorm:"type:text"`
	ClaimedBy  string `gorm:"size:64"`
	CreatedAt  time.Time
	UpdatedAt  time.Time `gorm:"index"` // the monitor stream polls on this
	StartedAt  *time.Time
	FinishedAt *time.Time
}
