package pose

import (
	"errors"
	"fmt"
)

var (
	ErrNoPoseDetected  = errors.New("no pose detected")
	ErrMissingLandmark = errors.New("missing landmark")
	// ErrInvalidFrame is returned when a landmark list does not have the
	// expected number of entries
	ErrInvalidFrame = errors.New("invalid landmark frame")
)

// BodyPart indexes a landmark inside a Frame.
// Values follow the 33 point MediaPipe pose topology.
type BodyPart int

const (
	Nose BodyPart = iota
	LeftEyeInner
	LeftEye
	LeftEyeOuter
	RightEyeInner
	RightEye
	RightEyeOuter
	LeftEar
	RightEar
	MouthLeft
	MouthRight
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftPinky
	RightPinky
	LeftIndex
	RightIndex
	LeftThumb
	RightThumb
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
	LeftHeel
	RightHeel
	LeftFootIndex
	RightFootIndex

	NumLandmarks = int(RightFootIndex) + 1
)

var bodyPartNames = [NumLandmarks]string{
	"nose", "left_eye_inner", "left_eye", "left_eye_outer",
	"right_eye_inner", "right_eye", "right_eye_outer", "left_ear", "right_ear",
	"mouth_left", "mouth_right", "left_shoulder", "right_shoulder",
	"left_elbow", "right_elbow", "left_wrist", "right_wrist",
	"left_pinky", "right_pinky", "left_index", "right_index",
	"left_thumb", "right_thumb", "left_hip", "right_hip",
	"left_knee", "right_knee", "left_ankle", "right_ankle",
	"left_heel", "right_heel", "left_foot_index", "right_foot_index",
}

// SquatParts are the landmarks every squat frame must carry.
var SquatParts = []BodyPart{
	LeftHip, RightHip,
	LeftKnee, RightKnee,
	LeftAnkle, RightAnkle,
}

func (bp BodyPart) IsValid() bool {
	return bp >= 0 && int(bp) < NumLandmarks
}

func (bp BodyPart) String() string {
	if !bp.IsValid() {
		return fmt.Sprintf("body_part(%d)", int(bp))
	}
	return bodyPartNames[bp]
}

// Landmark is a single tracked joint as produced by the detector.
// Visibility is nil when the detector does not report a confidence.
type Landmark struct {
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Z          float64  `json:"z"`
	Visibility *float64 `json:"visibility,omitempty"`
}

func NewLandmark(x, y, z float64) Landmark {
	return Landmark{X: x, Y: y, Z: z}
}

func (l Landmark) WithVisibility(v float64) Landmark {
	l.Visibility = &v
	return l
}

// Confidence returns the visibility or 1 when the detector did not report one.
func (l Landmark) Confidence() float64 {
	if l.Visibility == nil {
		return 1
	}
	return *l.Visibility
}
