// Package analysis runs the per-frame squat assessment:
// geometry, form feedback and the phase state machine.
package analysis

import (
	"errors"
	"time"

	"github.com/2beens/fixfit/internal/formcheck"
	"github.com/2beens/fixfit/internal/fsm"
	"github.com/2beens/fixfit/internal/geometry"
	"github.com/2beens/fixfit/internal/pose"
)

type Pipeline struct {
	formDetector  *formcheck.Detector
	minVisibility float64
}

func NewPipeline(formDetector *formcheck.Detector, minVisibility float64) *Pipeline {
	return &Pipeline{
		formDetector:  formDetector,
		minVisibility: minVisibility,
	}
}

// Process assesses a frame and advances the machine.
// A nil frame means the detector found no pose. Frames that cannot be measured
// are skipped and leave the machine untouched.
func (p *Pipeline) Process(machine *fsm.Machine, frame *pose.Frame) Outcome {
	start := time.Now()

	if frame == nil {
		return NewSkip(SkipNoPose, pose.ErrNoPoseDetected.Error(), machine.State())
	}
	frame = frame.WithMinVisibility(p.minVisibility)

	angles, err := geometry.KneeAngles(frame)
	if err != nil {
		return skipFor(err, machine.State())
	}
	valgusRatio, err := geometry.ValgusRatio(frame)
	if err != nil {
		return skipFor(err, machine.State())
	}

	thresholds := machine.Thresholds()
	depthThisFrame := angles.Average <= thresholds.Bottom
	phaseBefore := machine.Phase()
	closesRep := machine.ClosesRep(angles.Average)

	feedback := p.formDetector.Evaluate(
		valgusRatio,
		machine.State().DepthThresholdReached,
		phaseBefore,
		closesRep,
	)
	isFormValid := feedback == formcheck.Perfect

	machine.ProcessFrame(angles.Average, isFormValid)
	transition := machine.LastTransition()
	state := machine.State()

	result := &Result{
		Phase:       state.Phase,
		IsFormValid: isFormValid,
		RepCount:    state.RepCount,
		Feedback:    feedback,
		JointAngles: angles,
		ErrorDetails: ErrorDetails{
			KneeValgusRatio:       valgusRatio,
			DepthThresholdReached: state.DepthThresholdReached,
			DepthReachedThisFrame: depthThisFrame,
		},
		CurrentRepValid:    state.CurrentRepValid,
		RepCounted:         transition.RepCounted,
		LandmarkConfidence: frame.Confidence(pose.SquatParts...),
	}
	if cue, ok := formcheck.CorrectionCue(feedback); ok {
		result.CorrectionCue = &cue
	}

	now := time.Now()
	result.Processing = ProcessingInfo{
		Timestamp:        float64(now.UnixNano()) / float64(time.Second),
		ProcessingTimeMs: float64(now.Sub(start).Microseconds()) / 1000,
	}

	return Outcome{
		Result:     result,
		Transition: transition,
	}
}

func skipFor(err error, state fsm.Snapshot) Outcome {
	switch {
	case errors.Is(err, pose.ErrNoPoseDetected):
		return NewSkip(SkipNoPose, err.Error(), state)
	case errors.Is(err, pose.ErrMissingLandmark):
		return NewSkip(SkipMissingLandmark, err.Error(), state)
	case errors.Is(err, geometry.ErrDegenerateGeometry):
		return NewSkip(SkipDegenerateGeometry, err.Error(), state)
	default:
		// geometry only fails with the errors above
		return NewSkip(SkipDegenerateGeometry, err.Error(), state)
	}
}
