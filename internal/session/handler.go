package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/2beens/fixfit/internal/middleware"
	"github.com/2beens/fixfit/internal/pose"
	"github.com/2beens/fixfit/internal/telemetry/metrics"
	"github.com/2beens/fixfit/internal/telemetry/tracing"
	"github.com/2beens/fixfit/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

//go:generate mockgen -source=$GOFILE -destination=handler_mocks_test.go -package=session_test

type poseDetector interface {
	Detect(ctx context.Context, image []byte) (*pose.Frame, error)
}

// FrameRequest carries landmarks computed on the client side.
type FrameRequest struct {
	Timestamp *float64        `json:"timestamp"`
	Landmarks []pose.Landmark `json:"landmarks"`
	NoPose    bool            `json:"no_pose"`
}

// AnalyzeFrameRequest carries a base64 encoded camera frame.
type AnalyzeFrameRequest struct {
	FrameData string   `json:"frame_data"`
	Timestamp *float64 `json:"timestamp"`
	SessionID string   `json:"session_id,omitempty"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

type ResetResponse struct {
	Status   string `json:"status"`
	RepCount int    `json:"rep_count"`
}

type Handler struct {
	service  *Service
	detector poseDetector
}

func NewHandler(service *Service, detector poseDetector) *Handler {
	return &Handler{
		service:  service,
		detector: detector,
	}
}

func (h *Handler) SetupRoutes(
	mainRouter *mux.Router,
	rateLimiter middleware.RequestRateLimiter,
	metricsManager *metrics.Manager,
	framesPerMin int,
) {
	apiRouter := mainRouter.PathPrefix("/api/v1").Subrouter()
	apiRouter.HandleFunc("/sessions", h.HandleCreate).Methods("POST", "OPTIONS").Name("create-session")
	apiRouter.HandleFunc("/sessions/{id}", h.HandleGet).Methods("GET", "OPTIONS").Name("get-session")
	apiRouter.HandleFunc("/sessions/{id}/reset", h.HandleReset).Methods("POST", "OPTIONS").Name("reset-session")
	apiRouter.HandleFunc("/reset", h.HandleReset).Methods("POST", "OPTIONS").Name("reset")

	// frame endpoints are the hot path, rate limit them per client
	framesRouter := mainRouter.PathPrefix("/api/v1").Subrouter()
	framesRouter.HandleFunc("/sessions/{id}/frames", h.HandleFrame).Methods("POST", "OPTIONS").Name("session-frame")
	framesRouter.HandleFunc("/analyze-frame", h.HandleAnalyzeFrame).Methods("POST", "OPTIONS").Name("analyze-frame")
	if rateLimiter != nil && framesPerMin > 0 {
		framesRouter.Use(middleware.RateLimit(rateLimiter, "frames", framesPerMin, metricsManager))
	}
}

func sessionIDFromRequest(r *http.Request) string {
	if id := mux.Vars(r)["id"]; id != "" {
		return id
	}
	return DefaultSessionID
}

func (h *Handler) writeServiceError(w http.ResponseWriter, sessionID string, err error) {
	if errors.Is(err, ErrSessionNotFound) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	log.Errorf("session [%s]: %s", sessionID, err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	sess, err := h.service.CreateSession()
	if err != nil {
		log.Errorf("create session: %s", err)
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	pkg.WriteJSON(w, CreateSessionResponse{SessionID: sess.ID}, http.StatusCreated)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "GET, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	id := sessionIDFromRequest(r)
	info, err := h.service.Info(id)
	if err != nil {
		h.writeServiceError(w, id, err)
		return
	}

	pkg.WriteJSON(w, info, http.StatusOK)
}

func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	id := sessionIDFromRequest(r)
	state, err := h.service.Reset(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, id, err)
		return
	}

	pkg.WriteJSON(w, ResetResponse{Status: "reset", RepCount: state.RepCount}, http.StatusOK)
}

func (h *Handler) HandleFrame(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.frame")
	defer span.End()

	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	var req FrameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Debugf("frame request, unmarshal json: %s", err)
		http.Error(w, "invalid frame request", http.StatusBadRequest)
		return
	}

	in, err := req.Input()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := sessionIDFromRequest(r)
	reply, err := h.service.ProcessFrame(ctx, id, in)
	if err != nil {
		h.writeServiceError(w, id, err)
		return
	}

	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, reply.Body)
}

// Input converts the request into a pipeline frame. An empty landmark list
// is treated as no pose.
func (req FrameRequest) Input() (FrameInput, error) {
	in := FrameInput{Timestamp: req.Timestamp}
	if req.NoPose || len(req.Landmarks) == 0 {
		return in, nil
	}
	frame, err := pose.NewFrame(req.Landmarks)
	if err != nil {
		return FrameInput{}, err
	}
	in.Frame = frame
	return in, nil
}

func (h *Handler) HandleAnalyzeFrame(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.analyze_frame")
	defer span.End()

	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	var req AnalyzeFrameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Debugf("analyze frame request, unmarshal json: %s", err)
		http.Error(w, "invalid analyze frame request", http.StatusBadRequest)
		return
	}

	image, err := DecodeFrameData(req.FrameData)
	if err != nil {
		http.Error(w, "invalid frame_data: "+err.Error(), http.StatusBadRequest)
		return
	}

	frame, err := h.detector.Detect(ctx, image)
	switch {
	case err == nil:
	case errors.Is(err, pose.ErrNoPoseDetected):
		frame = nil
	case errors.Is(err, pose.ErrDetectorUnavailable):
		log.Errorf("analyze frame: %s", err)
		http.Error(w, "pose detector unavailable", http.StatusServiceUnavailable)
		return
	default:
		log.Errorf("analyze frame, detect pose: %s", err)
		http.Error(w, "pose detection failed", http.StatusUnprocessableEntity)
		return
	}

	id := req.SessionID
	if id == "" {
		id = DefaultSessionID
	}
	reply, err := h.service.ProcessFrame(ctx, id, FrameInput{
		Timestamp: req.Timestamp,
		Frame:     frame,
	})
	if err != nil {
		h.writeServiceError(w, id, err)
		return
	}

	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, reply.Body)
}

var errEmptyFrameData = errors.New("empty frame data")

// DecodeFrameData decodes base64 image data, with or without a data URL
// prefix such as "data:image/jpeg;base64,".
func DecodeFrameData(frameData string) ([]byte, error) {
	if strings.HasPrefix(frameData, "data:") {
		if idx := strings.Index(frameData, ","); idx >= 0 {
			frameData = frameData[idx+1:]
		}
	}
	if frameData == "" {
		return nil, errEmptyFrameData
	}
	return base64.StdEncoding.DecodeString(frameData)
}
