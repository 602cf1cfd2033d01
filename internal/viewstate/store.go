package viewstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/obsarchive/quicklook/internal/models"
	"gorm.io/gorm"
)

// Store persists view states per browser session.
type Store struct {
	db *gorm.DB
}

// NewStore returns a Store backed by the given database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Load returns the saved state for a session, or the default state when
// the session has none yet. A corrupt stored state is replaced by the
// default rather than failing the page.
func (s *Store) Load(sessionID string) (ViewState, error) {
	var row models.ViewSession
	err := s.db.Where("session_id = ?", sessionID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Default(), nil
	}
	if err != nil {
		return ViewState{}, fmt.Errorf("viewstate: load session %s: %w", sessionID, err)
	}

	var vs ViewState
	if err := json.Unmarshal([]byte(row.State), &vs); err != nil {
		return Default(), nil
	}
	if vs.Filters == nil {
		vs.Filters = map[string]string{}
	}
	if err := vs.Validate(); err != nil {
		return Default(), nil
	}
	return vs, nil
}

// Save validates and upserts the state for a session.
func (s *Store) Save(sessionID string, vs ViewState) error {
	if err := vs.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(vs)
	if err != nil {
		return fmt.Errorf("viewstate: marshal state: %w", err)
	}

	var row models.ViewSession
	err = s.db.Where("session_id = ?", sessionID).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = models.ViewSession{SessionID: sessionID, State: string(data)}
		if err := s.db.Create(&row).Error; err != nil {
			return fmt.Errorf("viewstate: save session %s: %w", sessionID, err)
		}
	case err != nil:
		return fmt.Errorf("viewstate: save session %s: %w", sessionID, err)
	default:
		if err := s.db.Model(&row).Update("state", string(data)).Error; err != nil {
			return fmt.Errorf("viewstate: save session %s: %w", sessionID, err)
		}
	}
	return nil
}

// Prune deletes sessions not updated since the cutoff.
func (s *Store) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := s.db.Where("updated_at < ?", cutoff).Delete(&models.ViewSession{})
	if result.Error != nil {
		return 0, fmt.Errorf("viewstate: prune sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}
