// Package tasks implements the dispatch layer for long-running
// processing jobs: a database-backed broker that workers claim tasks
// from, with status tracking, cooperative revocation, and an awaiting
// side for submitters.
//
// The broker is an explicitly constructed value passed down to its
// users — one per process, created at startup — never a package-level
// singleton.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/obsarchive/quicklook/internal/models"
	"gorm.io/gorm"
)

// ErrTaskGone is returned by Await when the task record no longer
// exists: a purge discarded it. The broker gives no further signal, so
// waiters must treat this as a permanent failure, never retry silently.
var ErrTaskGone = errors.New("task discarded before completion")

// ErrNoPendingTasks is returned by Claim when the queue is empty.
var ErrNoPendingTasks = errors.New("no pending tasks")

// DefaultPollInterval is how often Await re-checks task status.
const DefaultPollInterval = 500 * time.Millisecond

// Broker submits, claims, and tracks tasks through the shared database.
type Broker struct {
	db   *gorm.DB
	poll time.Duration
}

// NewBroker returns a Broker over the given database.
func NewBroker(db *gorm.DB) *Broker {
	return &Broker{db: db, poll: DefaultPollInterval}
}

// Submit enqueues a named task with a JSON-encodable payload and
// returns the pending record.
func (b *Broker) Submit(name string, payload any) (*models.TaskRecord, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("tasks: marshal payload for %s: %w", name, err)
	}
	rec := models.TaskRecord{
		UUID:    uuid.NewString(),
		Name:    name,
		Status:  models.TaskPending,
		Payload: string(data),
	}
	if err := b.db.Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("tasks: submit %s: %w", name, err)
	}
	return &rec, nil
}

// Get returns the task with the given UUID, or ErrTaskGone when no such
// record exists.
func (b *Broker) Get(id string) (*models.TaskRecord, error) {
	var rec models.TaskRecord
	err := b.db.Where("uuid = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("tasks: get %s: %w", id, ErrTaskGone)
	}
	if err != nil {
		return nil, fmt.Errorf("tasks: get %s: %w", id, err)
	}
	return &rec, nil
}

// Claim atomically assigns the oldest pending task to the worker. The
// conditional update arbitrates races: the status guard means exactly
// one worker's update lands, and losers move on to the next candidate.
// (Portable across MySQL and SQLite, unlike FOR UPDATE SKIP LOCKED.)
func (b *Broker) Claim(workerID string) (*models.TaskRecord, error) {
	for {
		var candidate models.TaskRecord
		result := b.db.Where("status = ?", models.TaskPending).
			Order("created_at ASC, id ASC").
			Limit(1).
			Find(&candidate)
		if result.Error != nil {
			return nil, fmt.Errorf("tasks: claim: find pending: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil, ErrNoPendingTasks
		}

		now := time.Now()
		res := b.db.Model(&models.TaskRecord{}).
			Where("id = ? AND status = ?", candidate.ID, models.TaskPending).
			Updates(map[string]interface{}{
				"status":     models.TaskStarted,
				"claimed_by": workerID,
				"started_at": now,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("tasks: claim %s: %w", candidate.UUID, res.Error)
		}
		if res.RowsAffected == 0 {
			continue // another worker got there first
		}

		candidate.Status = models.TaskStarted
		candidate.ClaimedBy = workerID
		candidate.StartedAt = &now
		return &candidate, nil
	}
}

// Complete records a successful result for a started task. A task
// revoked mid-flight stays revoked; the late result is discarded.
func (b *Broker) Complete(id string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("tasks: marshal result for %s: %w", id, err)
	}
	return b.finish(id, models.TaskSuccess, string(data), "")
}

// Fail records a structured failure. The error text travels back to the
// awaiting submitter; worker failures are never silent.
func (b *Broker) Fail(id string, taskErr error) error {
	msg := ""
	if taskErr != nil {
		msg = taskErr.Error()
	}
	return b.finish(id, models.TaskFailure, "", msg)
}

func (b *Broker) finish(id, status, result, errMsg string) error {
	now := time.Now()
	res := b.db.Model(&models.TaskRecord{}).
		Where("uuid = ? AND status = ?", id, models.TaskStarted).
		Updates(map[string]interface{}{
			"status":      status,
			"result":      result,
			"error":       errMsg,
			"finished_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("tasks: finish %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		// Revoked or purged while running: the late result is discarded.
		log.Printf("tasks: finish %s: no longer started, %s result discarded", id, status)
	}
	return nil
}

// Revoke cancels a task that has not finished. Cancellation is
// cooperative: a worker already running the task keeps running until it
// checks Revoked, or finishes and has its result discarded.
func (b *Broker) Revoke(id string) error {
	now := time.Now()
	res := b.db.Model(&models.TaskRecord{}).
		Where("uuid = ? AND status IN ?", id, []string{models.TaskPending, models.TaskStarted}).
		Updates(map[string]interface{}{
			"status":      models.TaskRevoked,
			"finished_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("tasks: revoke %s: %w", id, res.Error)
	}
	return nil
}

// Revoked reports whether the task has been cancelled. Workers call
// this at safe points; it is the only cancellation signal they get.
func (b *Broker) Revoked(id string) (bool, error) {
	rec, err := b.Get(id)
	if errors.Is(err, ErrTaskGone) {
		// A purged task is as cancelled as it gets.
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Status == models.TaskRevoked, nil
}

// Await blocks until the task reaches a final status or ctx is done.
// The caller imposes its own timeout through ctx; a purged task
// surfaces as ErrTaskGone.
func (b *Broker) Await(ctx context.Context, id string) (*models.TaskRecord, error) {
	for {
		rec, err := b.Get(id)
		if err != nil {
			return nil, err
		}
		switch rec.Status {
		case models.TaskSuccess, models.TaskFailure, models.TaskRevoked:
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("tasks: await %s: %w", id, ctx.Err())
		case <-time.After(b.poll):
		}
	}
}

// Purge discards every pending and started task. Destructive and
// coarse-grained: callers must first guarantee no conflicting in-flight
// work, and any submitter awaiting a purged task will see ErrTaskGone
// (or hit its own timeout). This is an operational tool, not a safe API.
func (b *Broker) Purge() (int64, error) {
	res := b.db.Where("status IN ?", []string{models.TaskPending, models.TaskStarted}).
		Delete(&models.TaskRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("tasks: purge: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Recent returns the most recently created tasks, newest first, for the
// monitor page.
func (b *Broker) Recent(limit int) ([]models.TaskRecord, error) {
	var recs []models.TaskRecord
	if err := b.db.Order("created_at DESC, id DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("tasks: recent: %w", err)
	}
	return recs, nil
}
