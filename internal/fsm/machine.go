// Package fsm tracks the phase of a squat and counts valid repetitions.
//
// Transitions, evaluated against the current phase only:
//
//	STANDING   -> DESCENDING  avg < Standing   (new rep starts)
//	DESCENDING -> BOTTOM      avg < Bottom     (depth reached)
//	DESCENDING -> STANDING    avg > Standing   (rep aborted as too shallow, never counted)
//	BOTTOM     -> ASCENDING   avg > Ascending
//	ASCENDING  -> STANDING    avg > Standing   (rep counted if deep and valid)
//
// The gap between Bottom and Ascending is hysteresis against noise at the deepest point.
package fsm

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// Thresholds are knee angles in degrees.
type Thresholds struct {
	Standing  float64 `toml:"standing"`
	Bottom    float64 `toml:"bottom"`
	Ascending float64 `toml:"ascending"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Standing:  170.0,
		Bottom:    90.0,
		Ascending: 100.0,
	}
}

// Validate requires 0 < Bottom < Ascending < Standing <= 180.
func (t Thresholds) Validate() error {
	var err error
	if t.Bottom <= 0 {
		err = multierr.Append(err, fmt.Errorf("bottom threshold must be positive, got %.1f", t.Bottom))
	}
	if t.Standing > 180 {
		err = multierr.Append(err, fmt.Errorf("standing threshold must be at most 180, got %.1f", t.Standing))
	}
	if t.Bottom >= t.Ascending {
		err = multierr.Append(err, fmt.Errorf("bottom threshold (%.1f) must be below ascending threshold (%.1f)", t.Bottom, t.Ascending))
	}
	if t.Ascending >= t.Standing {
		err = multierr.Append(err, fmt.Errorf("ascending threshold (%.1f) must be below standing threshold (%.1f)", t.Ascending, t.Standing))
	}
	return err
}

// Rejection tells why a closed rep was not counted.
type Rejection string

const (
	RejectionNone  Rejection = ""
	RejectionDepth Rejection = "depth"
	RejectionForm  Rejection = "form"
)

// Transition describes what the last processed frame did to the machine.
type Transition struct {
	From       Phase
	To         Phase
	RepCounted bool
	Rejection  Rejection
	Aborted    bool
}

func (t Transition) Changed() bool {
	return t.From != t.To
}

// Snapshot is a read-only copy of the session counters.
type Snapshot struct {
	Phase                 Phase `json:"current_state"`
	RepCount              int   `json:"rep_count"`
	DepthThresholdReached bool  `json:"depth_threshold_reached"`
	CurrentRepValid       bool  `json:"current_rep_valid"`
}

// Machine is the per-session phase state machine.
// It is not safe for concurrent use; callers serialize frames of one session.
type Machine struct {
	thresholds Thresholds

	phase          Phase
	repCount       int
	depthReached   bool
	currentRepOK   bool
	lastTransition Transition
}

var ErrInvalidThresholds = errors.New("invalid phase thresholds")

func NewMachine(thresholds Thresholds) (*Machine, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidThresholds, err)
	}
	m := &Machine{thresholds: thresholds}
	m.Reset()
	return m, nil
}

func (m *Machine) Thresholds() Thresholds {
	return m.thresholds
}

// ProcessFrame advances the machine with the averaged knee angle of one frame
// and returns the phase after the frame.
func (m *Machine) ProcessFrame(avgKneeAngle float64, isFormValid bool) Phase {
	from := m.phase
	tr := Transition{From: from, To: from}

	if from.IsActive() {
		m.currentRepOK = m.currentRepOK && isFormValid
	}

	switch from {
	case Standing:
		if avgKneeAngle < m.thresholds.Standing {
			m.phase = Descending
			m.currentRepOK = true
			m.depthReached = false
		}
	case Descending:
		if avgKneeAngle < m.thresholds.Bottom {
			m.phase = Bottom
			m.depthReached = true
		} else if avgKneeAngle > m.thresholds.Standing {
			m.phase = Standing
			m.depthReached = false
			tr.Aborted = true
			tr.Rejection = RejectionDepth
		}
	case Bottom:
		if avgKneeAngle > m.thresholds.Ascending {
			m.phase = Ascending
		}
	case Ascending:
		if avgKneeAngle > m.thresholds.Standing {
			m.phase = Standing
			switch {
			case !m.depthReached:
				tr.Rejection = RejectionDepth
			case !m.currentRepOK:
				tr.Rejection = RejectionForm
			default:
				m.repCount++
				tr.RepCounted = true
			}
			m.depthReached = false
		}
	default:
		panic(fmt.Sprintf("fsm: unknown phase %d", int(from)))
	}

	tr.To = m.phase
	m.lastTransition = tr
	return m.phase
}

// ClosesRep reports whether a frame with the given angle would end the current rep,
// either by standing up from ASCENDING or by aborting a descent. It does not change the machine.
func (m *Machine) ClosesRep(avgKneeAngle float64) bool {
	switch m.phase {
	case Ascending, Descending:
		return avgKneeAngle > m.thresholds.Standing
	case Standing, Bottom:
		return false
	default:
		return false
	}
}

// Reset returns to STANDING with no reps.
func (m *Machine) Reset() {
	m.phase = Standing
	m.repCount = 0
	m.depthReached = false
	m.currentRepOK = true
	m.lastTransition = Transition{From: Standing, To: Standing}
}

func (m *Machine) Phase() Phase {
	return m.phase
}

func (m *Machine) LastTransition() Transition {
	return m.lastTransition
}

func (m *Machine) State() Snapshot {
	return Snapshot{
		Phase:                 m.phase,
		RepCount:              m.repCount,
		DepthThresholdReached: m.depthReached,
		CurrentRepValid:       m.currentRepOK,
	}
}
