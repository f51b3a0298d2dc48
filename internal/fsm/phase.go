package fsm

import (
	"fmt"
)

// Phase is the segment of the squat cycle the body is currently in.
type Phase int

const (
	Standing Phase = iota
	Descending
	Bottom
	Ascending
)

func (p Phase) String() string {
	switch p {
	case Standing:
		return "STANDING"
	case Descending:
		return "DESCENDING"
	case Bottom:
		return "BOTTOM"
	case Ascending:
		return "ASCENDING"
	default:
		return fmt.Sprintf("PHASE(%d)", int(p))
	}
}

// IsActive reports whether a rep is in progress in this phase.
func (p Phase) IsActive() bool {
	switch p {
	case Descending, Bottom, Ascending:
		return true
	case Standing:
		return false
	default:
		return false
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	switch string(text) {
	case "STANDING":
		*p = Standing
	case "DESCENDING":
		*p = Descending
	case "BOTTOM":
		*p = Bottom
	case "ASCENDING":
		*p = Ascending
	default:
		return fmt.Errorf("unknown phase: %q", text)
	}
	return nil
}
