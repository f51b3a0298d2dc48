package pose

import (
	"fmt"
)

// Frame is one detector output: a fixed-size set of landmarks indexed by BodyPart.
// A slot that the detector did not fill is absent.
type Frame struct {
	landmarks [NumLandmarks]Landmark
	present   [NumLandmarks]bool
	// minVisibility is the confidence floor applied by Get
	minVisibility float64
}

// NewFrame builds a frame from a full landmark list, as the detector emits it.
func NewFrame(landmarks []Landmark) (*Frame, error) {
	if len(landmarks) == 0 {
		return nil, ErrNoPoseDetected
	}
	if len(landmarks) != NumLandmarks {
		return nil, fmt.Errorf("%w: expected %d landmarks, got %d", ErrInvalidFrame, NumLandmarks, len(landmarks))
	}

	f := &Frame{}
	for i, l := range landmarks {
		f.landmarks[i] = l
		f.present[i] = true
	}
	return f, nil
}

// NewPartialFrame builds a frame from a sparse set of landmarks.
func NewPartialFrame(landmarks map[BodyPart]Landmark) (*Frame, error) {
	if len(landmarks) == 0 {
		return nil, ErrNoPoseDetected
	}

	f := &Frame{}
	for bp, l := range landmarks {
		if !bp.IsValid() {
			return nil, fmt.Errorf("%w: unknown body part %d", ErrInvalidFrame, int(bp))
		}
		f.landmarks[bp] = l
		f.present[bp] = true
	}
	return f, nil
}

// WithMinVisibility returns a copy of the frame that treats landmarks
// below the given visibility as missing.
func (f *Frame) WithMinVisibility(v float64) *Frame {
	c := *f
	c.minVisibility = v
	return &c
}

// Get returns the landmark for the body part, or ErrMissingLandmark when it was
// not detected or its visibility is under the frame's confidence floor.
func (f *Frame) Get(bp BodyPart) (Landmark, error) {
	if !bp.IsValid() {
		return Landmark{}, fmt.Errorf("%w: unknown body part %d", ErrMissingLandmark, int(bp))
	}
	if !f.present[bp] {
		return Landmark{}, fmt.Errorf("%w: %s", ErrMissingLandmark, bp)
	}
	l := f.landmarks[bp]
	if c := l.Confidence(); c < f.minVisibility {
		return Landmark{}, fmt.Errorf("%w: %s visibility %.2f below %.2f", ErrMissingLandmark, bp, c, f.minVisibility)
	}
	return l, nil
}

// Require checks that all the given parts can be read from the frame.
func (f *Frame) Require(parts ...BodyPart) error {
	for _, bp := range parts {
		if _, err := f.Get(bp); err != nil {
			return err
		}
	}
	return nil
}

// Confidence is the mean visibility of the given parts that are present.
// It returns 0 when none of them are.
func (f *Frame) Confidence(parts ...BodyPart) float64 {
	var sum float64
	var n int
	for _, bp := range parts {
		if !bp.IsValid() || !f.present[bp] {
			continue
		}
		sum += f.landmarks[bp].Confidence()
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
