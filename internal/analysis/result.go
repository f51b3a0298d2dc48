package analysis

import (
	"github.com/2beens/fixfit/internal/formcheck"
	"github.com/2beens/fixfit/internal/fsm"
	"github.com/2beens/fixfit/internal/geometry"
)

type ErrorDetails struct {
	KneeValgusRatio       float64 `json:"knee_valgus_ratio"`
	DepthThresholdReached bool    `json:"depth_threshold_reached"`
	DepthReachedThisFrame bool    `json:"depth_reached_this_frame"`
}

type ProcessingInfo struct {
	// Timestamp is the server unix time (seconds) when processing completed
	Timestamp        float64 `json:"timestamp"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// Result is the assessment of one frame.
type Result struct {
	Phase              fsm.Phase            `json:"current_state"`
	IsFormValid        bool                 `json:"is_form_valid"`
	CorrectionCue      *string              `json:"correction_cue"`
	RepCount           int                  `json:"rep_count"`
	Feedback           formcheck.Feedback   `json:"feedback"`
	JointAngles        geometry.JointAngles `json:"joint_angles"`
	ErrorDetails       ErrorDetails         `json:"error_details"`
	CurrentRepValid    bool                 `json:"current_rep_valid"`
	RepCounted         bool                 `json:"rep_counted"`
	LandmarkConfidence float64              `json:"landmark_confidence"`
	Processing         ProcessingInfo       `json:"processing"`
}

type SkipReason string

const (
	SkipNoPose             SkipReason = "no_pose"
	SkipMissingLandmark    SkipReason = "missing_landmark"
	SkipDegenerateGeometry SkipReason = "degenerate_geometry"
	SkipStaleFrame         SkipReason = "stale_frame"
)

const StatusSkipped = "skipped"

// Skip reports a frame that produced no assessment. The session state
// (phase and rep count) is returned unchanged.
type Skip struct {
	Status   string     `json:"status"`
	Reason   SkipReason `json:"reason"`
	Message  string     `json:"message,omitempty"`
	Phase    fsm.Phase  `json:"current_state"`
	RepCount int        `json:"rep_count"`
}

// Outcome holds exactly one of Result or Skip.
type Outcome struct {
	Result *Result
	Skip   *Skip
	// Transition is what the frame did to the state machine; zero for skipped frames
	Transition fsm.Transition
}

func (o Outcome) Skipped() bool {
	return o.Skip != nil
}

// Payload is the value to serialize for the API layer.
func (o Outcome) Payload() any {
	if o.Skip != nil {
		return o.Skip
	}
	return o.Result
}

func NewSkip(reason SkipReason, message string, state fsm.Snapshot) Outcome {
	return Outcome{
		Skip: &Skip{
			Status:   StatusSkipped,
			Reason:   reason,
			Message:  message,
			Phase:    state.Phase,
			RepCount: state.RepCount,
		},
	}
}
