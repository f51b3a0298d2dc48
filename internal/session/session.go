// Package session keeps the live analysis sessions and drives frames through
// the analysis pipeline, one session at a time.
package session

import (
	"sync"
	"time"

	"github.com/2beens/fixfit/internal/fsm"
)

// DefaultSessionID is used by the single-session endpoints (analyze-frame, reset).
const DefaultSessionID = "default"

// Session is one person's squat set. Frames of a session are serialized by mu.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu              sync.Mutex
	machine         *fsm.Machine
	lastTimestamp   *float64
	lastFrameAt     time.Time
	framesProcessed int
}

// Info is the JSON view of a session.
type Info struct {
	ID              string       `json:"session_id"`
	CreatedAt       time.Time    `json:"created_at"`
	LastFrameAt     *time.Time   `json:"last_frame_at,omitempty"`
	FramesProcessed int          `json:"frames_processed"`
	State           fsm.Snapshot `json:"state"`
}

func newSession(id string, thresholds fsm.Thresholds) (*Session, error) {
	machine, err := fsm.NewMachine(thresholds)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		machine:   machine,
	}, nil
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:              s.ID,
		CreatedAt:       s.CreatedAt,
		FramesProcessed: s.framesProcessed,
		State:           s.machine.State(),
	}
	if !s.lastFrameAt.IsZero() {
		lastFrameAt := s.lastFrameAt
		info.LastFrameAt = &lastFrameAt
	}
	return info
}
