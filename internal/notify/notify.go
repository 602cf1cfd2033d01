// Package notify delivers operational alerts — failed tasks, stale
// locks — to chat channels. Adapters exist for Slack and Discord; a
// log-only notifier serves deployments with neither configured.
package notify

import (
	"context"
	"log"
)

// Notifier sends one alert. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Log writes alerts to the process log. It is the default when no chat
// adapter is configured.
type Log struct{}

// Notify implements Notifier.
func (Log) Notify(_ context.Context, subject, body string) error {
	log.Printf("notify: %s: %s", subject, body)
	return nil
}

// Multi fans an alert out to several notifiers. The first error is
// returned after all notifiers have been tried.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, subject, body string) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, subject, body); err != nil && first == nil {
			first = err
		}
	}
	return first
}
