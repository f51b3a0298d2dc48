// Package geometry converts raw pose landmarks into joint angles and ratios.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/2beens/fixfit/internal/pose"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// minSegmentLength below which a reference vector is treated as zero
	minSegmentLength = 1e-12
	// minAnkleSeparation guards the valgus ratio division
	minAnkleSeparation = 1e-6
)

var ErrDegenerateGeometry = errors.New("degenerate geometry")

// JointAngles are knee angles in degrees, 180 = fully extended.
type JointAngles struct {
	LeftKnee  float64 `json:"left_knee"`
	RightKnee float64 `json:"right_knee"`
	Average   float64 `json:"average"`
}

type Features struct {
	ValgusRatio  float64 `json:"knee_valgus_ratio"`
	DepthReached bool    `json:"depth_threshold_reached"`
}

func vec(l pose.Landmark) r3.Vec {
	return r3.Vec{X: l.X, Y: l.Y, Z: l.Z}
}

// Distance is the euclidean distance between two landmarks.
func Distance(a, b pose.Landmark) float64 {
	return r3.Norm(r3.Sub(vec(a), vec(b)))
}

// Angle returns the angle at vertex b formed by a-b-c, in degrees [0, 180].
// Computed with the law of cosines on sides scaled by the longest one, so
// large coordinates cannot overflow the squares; the cosine is clamped to [-1, 1].
func Angle(a, b, c pose.Landmark) (float64, error) {
	ba := Distance(b, a)
	bc := Distance(b, c)
	ac := Distance(a, c)
	if !finite(ba) || !finite(bc) || !finite(ac) {
		return 0, fmt.Errorf("%w: segment length out of range at vertex (%g, %g, %g)", ErrDegenerateGeometry, b.X, b.Y, b.Z)
	}
	if ba < minSegmentLength || bc < minSegmentLength {
		return 0, fmt.Errorf("%w: zero length segment at vertex (%.3f, %.3f, %.3f)", ErrDegenerateGeometry, b.X, b.Y, b.Z)
	}

	longest := math.Max(ac, math.Max(ba, bc))
	ba, bc, ac = ba/longest, bc/longest, ac/longest

	cos := (ba*ba + bc*bc - ac*ac) / (2 * ba * bc)
	if math.IsNaN(cos) {
		return 0, fmt.Errorf("%w: no angle at vertex (%g, %g, %g)", ErrDegenerateGeometry, b.X, b.Y, b.Z)
	}
	cos = math.Max(-1, math.Min(1, cos))

	return math.Acos(cos) * 180 / math.Pi, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// KneeAngle is the hip-knee-ankle angle: 180 when the leg is straight, ~90 at parallel.
func KneeAngle(hip, knee, ankle pose.Landmark) (float64, error) {
	return Angle(hip, knee, ankle)
}

func legAngle(frame *pose.Frame, hipPart, kneePart, anklePart pose.BodyPart) (float64, error) {
	hip, err := frame.Get(hipPart)
	if err != nil {
		return 0, err
	}
	knee, err := frame.Get(kneePart)
	if err != nil {
		return 0, err
	}
	ankle, err := frame.Get(anklePart)
	if err != nil {
		return 0, err
	}
	return KneeAngle(hip, knee, ankle)
}

// KneeAngles computes both knee angles and their mean.
func KneeAngles(frame *pose.Frame) (JointAngles, error) {
	left, err := legAngle(frame, pose.LeftHip, pose.LeftKnee, pose.LeftAnkle)
	if err != nil {
		return JointAngles{}, fmt.Errorf("left knee: %w", err)
	}
	right, err := legAngle(frame, pose.RightHip, pose.RightKnee, pose.RightAnkle)
	if err != nil {
		return JointAngles{}, fmt.Errorf("right knee: %w", err)
	}

	return JointAngles{
		LeftKnee:  left,
		RightKnee: right,
		Average:   (left + right) / 2,
	}, nil
}

// ValgusRatio is knee separation over ankle separation.
// ~1.0 means the knees track over the ankles, lower values mean the knees cave in.
func ValgusRatio(frame *pose.Frame) (float64, error) {
	lk, err := frame.Get(pose.LeftKnee)
	if err != nil {
		return 0, err
	}
	rk, err := frame.Get(pose.RightKnee)
	if err != nil {
		return 0, err
	}
	la, err := frame.Get(pose.LeftAnkle)
	if err != nil {
		return 0, err
	}
	ra, err := frame.Get(pose.RightAnkle)
	if err != nil {
		return 0, err
	}

	kneeDist, ankleDist := Distance(lk, rk), Distance(la, ra)
	if !finite(kneeDist) || !finite(ankleDist) {
		return 0, fmt.Errorf("%w: knee separation %g, ankle separation %g", ErrDegenerateGeometry, kneeDist, ankleDist)
	}
	if ankleDist < minAnkleSeparation {
		return 0, fmt.Errorf("%w: ankle separation %g", ErrDegenerateGeometry, ankleDist)
	}

	ratio := kneeDist / ankleDist
	if !finite(ratio) {
		return 0, fmt.Errorf("%w: valgus ratio %g", ErrDegenerateGeometry, ratio)
	}
	return ratio, nil
}
