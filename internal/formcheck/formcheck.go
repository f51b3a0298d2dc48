// Package formcheck classifies squat geometry into form feedback.
package formcheck

import (
	"fmt"

	"github.com/2beens/fixfit/internal/fsm"
)

// DefaultValgusRatioThreshold: knee/ankle separation ratios below it are knee valgus.
const DefaultValgusRatioThreshold = 0.85

// Feedback is the single form verdict of a frame.
type Feedback int

const (
	Perfect Feedback = iota
	KneeValgus
	DepthFail
)

func (f Feedback) String() string {
	switch f {
	case Perfect:
		return "PERFECT"
	case KneeValgus:
		return "KNEE_VALGUS"
	case DepthFail:
		return "DEPTH_FAIL"
	default:
		return fmt.Sprintf("FEEDBACK(%d)", int(f))
	}
}

func (f Feedback) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Feedback) UnmarshalText(text []byte) error {
	switch string(text) {
	case "PERFECT":
		*f = Perfect
	case "KNEE_VALGUS":
		*f = KneeValgus
	case "DEPTH_FAIL":
		*f = DepthFail
	default:
		return fmt.Errorf("unknown feedback: %q", text)
	}
	return nil
}

// CorrectionCue returns the instruction shown to the user, if any.
func CorrectionCue(f Feedback) (string, bool) {
	switch f {
	case KneeValgus:
		return "WIDEN KNEES", true
	case DepthFail:
		return "GO DEEPER", true
	case Perfect:
		return "", false
	default:
		return "", false
	}
}

type Detector struct {
	valgusRatioThreshold float64
}

func NewDetector(valgusRatioThreshold float64) *Detector {
	if valgusRatioThreshold <= 0 {
		valgusRatioThreshold = DefaultValgusRatioThreshold
	}
	return &Detector{
		valgusRatioThreshold: valgusRatioThreshold,
	}
}

// CheckValgus flags knees caving in. Only evaluated while a rep is in progress.
func (d *Detector) CheckValgus(valgusRatio float64, phase fsm.Phase) Feedback {
	if !phase.IsActive() {
		return Perfect
	}
	if valgusRatio < d.valgusRatioThreshold {
		return KneeValgus
	}
	return Perfect
}

// CheckDepth flags a rep that closes without having reached the bottom.
// Only meaningful for a frame that closes a rep, from ASCENDING or from an aborted DESCENDING.
func (d *Detector) CheckDepth(depthReached bool, phase fsm.Phase) Feedback {
	switch phase {
	case fsm.Ascending, fsm.Descending:
		if !depthReached {
			return DepthFail
		}
		return Perfect
	case fsm.Standing, fsm.Bottom:
		return Perfect
	default:
		return Perfect
	}
}

// Evaluate resolves the frame feedback. Valgus is a per-frame safety check and
// wins over depth; depth is only folded in when the frame closes a rep.
func (d *Detector) Evaluate(valgusRatio float64, depthReached bool, phase fsm.Phase, closesRep bool) Feedback {
	if fb := d.CheckValgus(valgusRatio, phase); fb != Perfect {
		return fb
	}
	if closesRep {
		return d.CheckDepth(depthReached, phase)
	}
	return Perfect
}
