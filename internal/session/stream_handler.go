package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/2beens/fixfit/internal/telemetry/metrics"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	streamMaxMessageSize = 64 * 1024
	streamWriteTimeout   = 5 * time.Second
)

type StreamError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// StreamHandler serves one websocket per session. Every text message is a
// FrameRequest, answered in receive order with the frame reply.
type StreamHandler struct {
	service        *Service
	metricsManager *metrics.Manager
	upgrader       websocket.Upgrader
	idleTimeout    time.Duration
}

func NewStreamHandler(service *Service, metricsManager *metrics.Manager, idleTimeout time.Duration) *StreamHandler {
	return &StreamHandler{
		service:        service,
		metricsManager: metricsManager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// origins are checked by the cors middleware
			CheckOrigin: func(*http.Request) bool { return true },
		},
		idleTimeout: idleTimeout,
	}
}

func (h *StreamHandler) SetupRoutes(mainRouter *mux.Router) {
	mainRouter.HandleFunc("/api/v1/sessions/{id}/stream", h.HandleStream).Methods("GET").Name("session-stream")
}

func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFromRequest(r)
	if _, err := h.service.Info(id); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		log.Errorf("stream session [%s]: %s", id, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader already replied with an http error
		log.Debugf("stream session [%s], websocket upgrade: %s", id, err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Tracef("stream session [%s], close conn: %s", id, err)
		}
	}()

	h.metricsManager.GaugeStreamConnections.Inc()
	defer h.metricsManager.GaugeStreamConnections.Dec()

	log.Debugf("stream session [%s] opened", id)
	conn.SetReadLimit(streamMaxMessageSize)

	for {
		if h.idleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(h.idleTimeout))
		}

		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("stream session [%s], read: %s", id, err)
			}
			log.Debugf("stream session [%s] closed", id)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		body, err := h.processMessage(r, id, msg)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				h.writeError(conn, id, "session not found")
				return
			}
			h.writeError(conn, id, err.Error())
			continue
		}

		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			log.Warnf("stream session [%s], write: %s", id, err)
			return
		}
	}
}

func (h *StreamHandler) processMessage(r *http.Request, id string, msg []byte) ([]byte, error) {
	var req FrameRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return nil, errors.New("invalid frame request")
	}
	in, err := req.Input()
	if err != nil {
		return nil, err
	}
	reply, err := h.service.ProcessFrame(r.Context(), id, in)
	if err != nil {
		return nil, err
	}
	return reply.Body, nil
}

func (h *StreamHandler) writeError(conn *websocket.Conn, id, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := conn.WriteJSON(StreamError{Status: "error", Message: message}); err != nil {
		log.Warnf("stream session [%s], write error message: %s", id, err)
	}
}
