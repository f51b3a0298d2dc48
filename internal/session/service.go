package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/2beens/fixfit/internal/analysis"
	"github.com/2beens/fixfit/internal/events"
	"github.com/2beens/fixfit/internal/fsm"
	"github.com/2beens/fixfit/internal/pose"
	"github.com/2beens/fixfit/internal/telemetry/metrics"
	"github.com/2beens/fixfit/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

//go:generate mockgen -destination=publisher_mocks_test.go -package=session_test github.com/2beens/fixfit/internal/events Publisher

// FrameInput is one frame of a session. A nil Frame means no pose was detected.
type FrameInput struct {
	Timestamp *float64
	Frame     *pose.Frame
}

// Reply is the answer to a frame. Body is the JSON payload sent to the client.
// Replayed replies come from the dedupe cache and carry a zero Outcome.
type Reply struct {
	Outcome  analysis.Outcome
	Body     []byte
	Replayed bool
}

type Service struct {
	store          *Store
	dedupe         *Dedupe
	pipeline       *analysis.Pipeline
	publisher      events.Publisher
	metricsManager *metrics.Manager
}

func NewService(
	store *Store,
	dedupe *Dedupe,
	pipeline *analysis.Pipeline,
	publisher events.Publisher,
	metricsManager *metrics.Manager,
) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Service{
		store:          store,
		dedupe:         dedupe,
		pipeline:       pipeline,
		publisher:      publisher,
		metricsManager: metricsManager,
	}
}

func (s *Service) CreateSession() (*Session, error) {
	return s.store.Create()
}

// lookup resolves a session id; the default session is created on demand.
func (s *Service) lookup(id string) (*Session, error) {
	if id == DefaultSessionID {
		return s.store.GetOrCreate(id)
	}
	sess, ok := s.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

func (s *Service) ProcessFrame(ctx context.Context, sessionID string, in FrameInput) (*Reply, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "session.process_frame")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()

	if in.Timestamp != nil && sess.lastTimestamp != nil {
		ts, last := *in.Timestamp, *sess.lastTimestamp
		if ts == last {
			if body, ok := s.dedupe.Get(sess.ID, ts); ok {
				sess.mu.Unlock()
				s.metricsManager.CounterFrames.WithLabelValues("replayed").Inc()
				return &Reply{Body: body, Replayed: true}, nil
			}
		}
		if ts <= last {
			outcome := analysis.NewSkip(
				analysis.SkipStaleFrame,
				fmt.Sprintf("frame timestamp %g not after %g", ts, last),
				sess.machine.State(),
			)
			sess.mu.Unlock()
			return s.reply(outcome)
		}
	}

	machineBefore := *sess.machine
	start := time.Now()
	outcome := s.pipeline.Process(sess.machine, in.Frame)
	s.metricsManager.HistFrameProcessingDuration.Observe(time.Since(start).Seconds())

	reply, err := s.reply(outcome)
	if err != nil {
		// the frame leaves no trace, a retry is processed again
		*sess.machine = machineBefore
		sess.mu.Unlock()
		return nil, err
	}

	sess.framesProcessed++
	sess.lastFrameAt = time.Now()
	if in.Timestamp != nil {
		ts := *in.Timestamp
		sess.lastTimestamp = &ts
		if err := s.dedupe.Put(sess.ID, ts, reply.Body); err != nil {
			log.Warnf("session [%s]: cache frame result: %s", sess.ID, err)
		}
	}
	repCount := sess.machine.State().RepCount
	sess.mu.Unlock()

	s.recordTransition(ctx, sess.ID, outcome.Transition, repCount)

	return reply, nil
}

func (s *Service) reply(outcome analysis.Outcome) (*Reply, error) {
	body, err := json.Marshal(outcome.Payload())
	if err != nil {
		s.metricsManager.CounterFrames.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("marshal frame outcome: %w", err)
	}

	if outcome.Skipped() {
		s.metricsManager.CounterFrames.WithLabelValues("skipped_" + string(outcome.Skip.Reason)).Inc()
	} else {
		s.metricsManager.CounterFrames.WithLabelValues("analyzed").Inc()
		s.metricsManager.CounterFeedback.WithLabelValues(outcome.Result.Feedback.String()).Inc()
	}
	return &Reply{Outcome: outcome, Body: body}, nil
}

func (s *Service) recordTransition(ctx context.Context, sessionID string, tr fsm.Transition, repCount int) {
	switch {
	case tr.RepCounted:
		s.metricsManager.CounterReps.WithLabelValues("counted").Inc()
		s.publish(ctx, events.Event{
			Type:      events.RepCompleted,
			SessionID: sessionID,
			RepCount:  repCount,
		})
	case tr.Rejection != fsm.RejectionNone:
		result := "rejected_" + string(tr.Rejection)
		reason := string(tr.Rejection)
		if tr.Aborted {
			result = "aborted"
			reason = "aborted"
		}
		s.metricsManager.CounterReps.WithLabelValues(result).Inc()
		s.publish(ctx, events.Event{
			Type:      events.RepRejected,
			SessionID: sessionID,
			RepCount:  repCount,
			Reason:    reason,
		})
	}
}

// publish never fails the caller; broker problems are only logged.
func (s *Service) publish(ctx context.Context, event events.Event) {
	event.Timestamp = time.Now().UTC()
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.metricsManager.CounterEvents.WithLabelValues(string(event.Type), "failed").Inc()
		log.Errorf("publish event [%s] for session [%s]: %s", event.Type, event.SessionID, err)
		return
	}
	s.metricsManager.CounterEvents.WithLabelValues(string(event.Type), "ok").Inc()
}

// Reset returns the session to STANDING with zero reps.
func (s *Service) Reset(ctx context.Context, sessionID string) (fsm.Snapshot, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return fsm.Snapshot{}, err
	}

	sess.mu.Lock()
	sess.machine.Reset()
	sess.lastTimestamp = nil
	state := sess.machine.State()
	sess.mu.Unlock()

	log.Debugf("session [%s] reset", sess.ID)
	s.publish(ctx, events.Event{
		Type:      events.SessionReset,
		SessionID: sess.ID,
	})

	return state, nil
}

func (s *Service) Info(sessionID string) (Info, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return Info{}, err
	}
	return sess.Info(), nil
}

func (s *Service) List() []Info {
	sessions := s.store.List()
	infos := make([]Info, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	return infos
}

func (s *Service) Delete(sessionID string) bool {
	return s.store.Delete(sessionID)
}
