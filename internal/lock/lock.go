// Package lock provides named mutual-exclusion locks shared across
// worker processes, backed by the archive database.
//
// Lock keys are global strings; callers must use fully-qualified
// resource paths (e.g. "pipeline/jw00756001001_02101_00001_nrs1") so
// unrelated resources can never collide — the manager cannot detect a
// collision. When multiple locks are needed together they must be
// acquired in one agreed order at every call site; the primitive cannot
// enforce that.
//
// A lock's own timeout is a correctness escape hatch, not a safety
// guarantee: once it elapses the lock may be reclaimed by another
// caller even without release, and if the timeout is short relative to
// the guarded work, two holders can transiently both believe they hold
// it. The acquire call's wait (context + blocking flag) is independent
// of that timeout.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/obsarchive/quicklook/internal/models"
	"gorm.io/gorm"
)

// ErrLockHeld is returned by non-blocking acquires when another caller
// holds the lock. The caller must not enter the guarded section.
var ErrLockHeld = errors.New("lock already held")

// ErrLockExpired is returned at release when the lock row is gone or
// owned by someone else: the timeout elapsed and another caller
// reclaimed it while we were still working.
var ErrLockExpired = errors.New("lock expired before release")

// DefaultPollInterval is how often a blocking acquire re-checks the lock.
const DefaultPollInterval = 250 * time.Millisecond

// Manager acquires and releases named locks for one owning process.
// Construct one per process at startup and pass it down; it holds no
// state beyond the connection and owner name.
type Manager struct {
	db    *gorm.DB
	owner string
	poll  time.Duration
}

// NewManager returns a Manager whose acquisitions are attributed to owner.
func NewManager(db *gorm.DB, owner string) *Manager {
	return &Manager{db: db, owner: owner, poll: DefaultPollInterval}
}

// Acquire attempts to take the named lock. timeout is the lock's own
// expiry (zero means never expires). With blocking true the call waits,
// re-checking until the lock frees or ctx is done; with blocking false
// it returns immediately, and false means the guarded section must not
// be entered.
func (m *Manager) Acquire(ctx context.Context, key string, timeout time.Duration, blocking bool) (bool, error) {
	for {
		acquired, err := m.tryAcquire(key, timeout)
		if err != nil {
			return false, err
		}
		if acquired || !blocking {
			return acquired, nil
		}
		select {
		case <-ctx.Done():
			return false, fmt.Errorf("lock: acquire %s: %w", key, ctx.Err())
		case <-time.After(m.poll):
		}
	}
}

// tryAcquire makes one attempt: expire a stale holder if present, then
// insert our row. The unique index on the key column arbitrates races —
// exactly one concurrent attempt can create the row.
func (m *Manager) tryAcquire(key string, timeout time.Duration) (bool, error) {
	acquired := false
	err := m.db.Transaction(func(tx *gorm.DB) error {
		var existing models.LockRecord
		err := tx.Where("lock_key = ?", key).First(&existing).Error
		switch {
		case err == nil:
			if !existing.Expired(time.Now()) {
				return nil
			}
			// Stale holder: the timeout elapsed, the lock is abandoned.
			if err := tx.Delete(&existing).Error; err != nil {
				return fmt.Errorf("expire stale lock: %w", err)
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("check lock: %w", err)
		}

		row := models.LockRecord{
			Key:         key,
			Owner:       m.owner,
			TimeoutSecs: int(timeout / time.Second),
			AcquiredAt:  time.Now(),
		}
		if err := tx.Create(&row).Error; err != nil {
			if isDuplicateKey(err) {
				return nil // lost the race
			}
			return fmt.Errorf("create lock: %w", err)
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	return acquired, nil
}

// Release frees the named lock. If the row is gone or held by another
// owner, the lock expired and was reclaimed while we worked; that is
// reported as ErrLockExpired so the caller knows exclusivity may have
// been violated.
func (m *Manager) Release(key string) error {
	result := m.db.Where("lock_key = ? AND owner = ?", key, m.owner).Delete(&models.LockRecord{})
	if result.Error != nil {
		return fmt.Errorf("lock: release %s: %w", key, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("lock: release %s: %w", key, ErrLockExpired)
	}
	return nil
}

// WithLock runs fn under the named lock, releasing on every exit path
// including panics. It does not block: when the lock is held elsewhere
// it returns ErrLockHeld and fn never runs, matching the
// skip-if-already-running discipline of maintenance jobs.
func (m *Manager) WithLock(ctx context.Context, key string, timeout time.Duration, fn func() error) (err error) {
	acquired, err := m.Acquire(ctx, key, timeout, false)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("lock: %s: %w", key, ErrLockHeld)
	}
	defer func() {
		if relErr := m.Release(key); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn()
}

// List returns all live lock rows, stale ones included, for the admin
// surface.
func (m *Manager) List() ([]models.LockRecord, error) {
	var rows []models.LockRecord
	if err := m.db.Order("lock_key ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("lock: list: %w", err)
	}
	return rows, nil
}

// Clean deletes locks whose own timeout has elapsed. It is the
// maintenance counterpart of the per-acquire stale check.
func (m *Manager) Clean() (int, error) {
	rows, err := m.List()
	if err != nil {
		return 0, err
	}
	now := time.Now()
	cleaned := 0
	for _, row := range rows {
		if !row.Expired(now) {
			continue
		}
		result := m.db.Where("id = ?", row.ID).Delete(&models.LockRecord{})
		if result.Error != nil {
			return cleaned, fmt.Errorf("lock: clean %s: %w", row.Key, result.Error)
		}
		cleaned += int(result.RowsAffected)
	}
	return cleaned, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "Duplicate entry")
}
