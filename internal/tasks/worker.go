package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/obsarchive/quicklook/internal/notify"
)

// Handler runs one task. cancelled reports whether the task has been
// revoked; handlers should check it at safe points — cancellation is
// cooperative and nothing interrupts a handler that never looks.
type Handler func(ctx context.Context, payload json.RawMessage, cancelled func() bool) (any, error)

// Worker pulls tasks from the broker and runs registered handlers.
type Worker struct {
	broker   *Broker
	id       string
	handlers map[string]Handler
	notifier notify.Notifier
	poll     time.Duration
}

// NewWorker returns a worker identified by id. The notifier may be nil.
func NewWorker(broker *Broker, id string, notifier notify.Notifier) *Worker {
	return &Worker{
		broker:   broker,
		id:       id,
		handlers: make(map[string]Handler),
		notifier: notifier,
		poll:     time.Second,
	}
}

// Register binds a handler to a task name. Tasks with no registered
// handler fail with a structured error rather than sitting unclaimed.
func (w *Worker) Register(name string, h Handler) {
	w.handlers[name] = h
}

// Run claims and executes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := w.broker.Claim(w.id)
		if errors.Is(err, ErrNoPendingTasks) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.poll):
			}
			continue
		}
		if err != nil {
			log.Printf("worker %s: claim: %v", w.id, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.poll):
			}
			continue
		}

		w.runOne(ctx, rec.UUID, rec.Name, json.RawMessage(rec.Payload))
	}
}

// runOne executes a single claimed task and reports its outcome.
func (w *Worker) runOne(ctx context.Context, id, name string, payload json.RawMessage) {
	handler, ok := w.handlers[name]
	if !ok {
		w.fail(ctx, id, name, fmt.Errorf("no handler registered for task %q", name))
		return
	}

	cancelled := func() bool {
		revoked, err := w.broker.Revoked(id)
		if err != nil {
			log.Printf("worker %s: revocation check for %s: %v", w.id, id, err)
			return false
		}
		return revoked
	}

	result, err := handler(ctx, payload, cancelled)
	if err != nil {
		w.fail(ctx, id, name, err)
		return
	}
	// Complete is a no-op if the task was revoked mid-run; the late
	// result is discarded, matching cooperative cancellation.
	if err := w.broker.Complete(id, result); err != nil {
		log.Printf("worker %s: complete %s: %v", w.id, id, err)
	}
}

func (w *Worker) fail(ctx context.Context, id, name string, taskErr error) {
	if err := w.broker.Fail(id, taskErr); err != nil {
		log.Printf("worker %s: fail %s: %v", w.id, id, err)
	}
	if w.notifier != nil {
		subject := fmt.Sprintf("task %s failed", name)
		if err := w.notifier.Notify(ctx, subject, taskErr.Error()); err != nil {
			log.Printf("worker %s: notify: %v", w.id, err)
		}
	}
}
