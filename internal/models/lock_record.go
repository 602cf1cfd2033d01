package models

import "time"

// LockRecord is a named mutual-exclusion token. A live row means the
// lock is held; release deletes the row. TimeoutSecs of zero means the
// lock never force-expires.
type LockRecord struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Key         string `gorm:"column:lock_key;size:128;uniqueIndex"` // "key" is reserved in MySQL
	Owner       string `gorm:"size:64"`
	TimeoutSecs int    `gorm:"default:0"`
	AcquiredAt  time.Time
}

// Expired reports whether the lock's own timeout has elapsed at now.
// An expired lock may be reclaimed by another caller without release.
func (l LockRecord) Expired(now time.Time) bool {
	if l.TimeoutSecs <= 0 {
		return false
	}
	return now.After(l.AcquiredAt.Add(time.Duration(l.TimeoutSecs) * time.Second))
}
