// Package events publishes session milestones (reps, resets) to downstream consumers.
package events

import (
	"context"
	"time"
)

type Type string

const (
	RepCompleted Type = "rep_completed"
	RepRejected  Type = "rep_rejected"
	SessionReset Type = "session_reset"
)

type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id"`
	RepCount  int       `json:"rep_count"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// NoopPublisher drops all events. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error {
	return nil
}

func (NoopPublisher) Close() {}
