package models

import "time"

// Observation is one indexed observation file root in the archive. The
// filename string is the durable identity; parsed fields are denormalized
// here so listing queries avoid re-parsing tens of thousands of names.
type Observation struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	FileRoot      string `gorm:"size:80;uniqueIndex"`
	GroupRoot     string `gorm:"size:80;index"`
	Instrument    string `gorm:"size:16;index"`
	ProgramID     string `gorm:"size:8;index"`
	ObsNum        string `gorm:"size:8"`
	Visit         string `gorm:"size:8"`
	Detector      string `gorm:"size:16;index"`
	ExpType       string `gorm:"size:32"`
	StartTime     time.Time
	Viewed        bool   `gorm:"default:false"`
	Suffixes      string `gorm:"type:text"` // JSON array of processing suffixes
	ThumbnailPath string `gorm:"size:256"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
