package pose

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/2beens/fixfit/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Detector turns an encoded image into a landmark frame.
// Implementations are shared by all sessions and must not keep per-session state.
// Detect returns ErrNoPoseDetected when the image contains no body.
type Detector interface {
	Detect(ctx context.Context, image []byte) (*Frame, error)
}

var ErrDetectorUnavailable = errors.New("pose detector unavailable")

// detectorResponse is the payload returned by the landmark sidecar
type detectorResponse struct {
	Landmarks []Landmark `json:"landmarks"`
}

// RemoteDetector calls a landmark detection sidecar over HTTP.
// The sidecar receives the raw encoded image and replies with the 33 pose
// landmarks, or with an empty list when it found nobody.
type RemoteDetector struct {
	endpoint   string
	httpClient *http.Client
	timeout    time.Duration
}

func NewRemoteDetector(endpoint string, timeout time.Duration, httpClient *http.Client) *RemoteDetector {
	return &RemoteDetector{
		endpoint:   endpoint,
		httpClient: httpClient,
		timeout:    timeout,
	}
}

func (d *RemoteDetector) Detect(ctx context.Context, image []byte) (_ *Frame, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "detector.remote.detect")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("image.bytes", len(image)))

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("new detector request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetectorUnavailable, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read detector response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Errorf("detector responded with [%d]: %s", resp.StatusCode, respBytes)
		return nil, fmt.Errorf("%w: status %d", ErrDetectorUnavailable, resp.StatusCode)
	}

	var detResp detectorResponse
	if err := json.Unmarshal(respBytes, &detResp); err != nil {
		return nil, fmt.Errorf("unmarshal detector response: %w", err)
	}

	// NewFrame maps an empty list to ErrNoPoseDetected
	return NewFrame(detResp.Landmarks)
}
