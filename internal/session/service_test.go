package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/2beens/fixfit/internal/analysis"
	"github.com/2beens/fixfit/internal/events"
	"github.com/2beens/fixfit/internal/fsm"
	"github.com/2beens/fixfit/internal/pose"
	"github.com/2beens/fixfit/internal/session"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var repAngles = []float64{180, 120, 85, 120, 180}

func TestService_FullRepPublishesEvent(t *testing.T) {
	ctrl := gomock.NewController(t)
	publisher := NewMockPublisher(ctrl)
	service, metricsManager := newTestService(t, publisher)
	ctx := context.Background()

	sess, err := service.CreateSession()
	require.NoError(t, err)

	publisher.EXPECT().
		Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, event events.Event) error {
			assert.Equal(t, events.RepCompleted, event.Type)
			assert.Equal(t, sess.ID, event.SessionID)
			assert.Equal(t, 1, event.RepCount)
			assert.False(t, event.Timestamp.IsZero())
			return nil
		})

	var last *session.Reply
	for i, angle := range repAngles {
		last, err = service.ProcessFrame(ctx, sess.ID, frameInput(t, angle, ts(float64(i+1))))
		require.NoError(t, err)
		require.False(t, last.Replayed)
		require.NotNil(t, last.Outcome.Result)
	}

	assert.Equal(t, 1, last.Outcome.Result.RepCount)
	assert.True(t, last.Outcome.Result.RepCounted)
	assert.Contains(t, string(last.Body), `"rep_count":1`)
	assert.Contains(t, string(last.Body), `"current_state":"STANDING"`)

	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterReps.WithLabelValues("counted")))
	assert.Equal(t, float64(5), testutil.ToFloat64(metricsManager.CounterFrames.WithLabelValues("analyzed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterEvents.WithLabelValues("rep_completed", "ok")))

	info, err := service.Info(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, info.FramesProcessed)
	assert.Equal(t, 1, info.State.RepCount)
	assert.NotNil(t, info.LastFrameAt)
}

func TestService_DuplicateTimestampReplays(t *testing.T) {
	service, metricsManager := newTestService(t, nil)
	ctx := context.Background()

	_, err := service.ProcessFrame(ctx, session.DefaultSessionID, frameInput(t, 180, ts(1)))
	require.NoError(t, err)
	descending, err := service.ProcessFrame(ctx, session.DefaultSessionID, frameInput(t, 120, ts(2)))
	require.NoError(t, err)
	require.Equal(t, fsm.Descending, descending.Outcome.Result.Phase)

	// same timestamp, different content: the first answer wins
	replay, err := service.ProcessFrame(ctx, session.DefaultSessionID, frameInput(t, 180, ts(2)))
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, descending.Body, replay.Body)

	info, err := service.Info(session.DefaultSessionID)
	require.NoError(t, err)
	assert.Equal(t, fsm.Descending, info.State.Phase)
	assert.Equal(t, 2, info.FramesProcessed)
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterFrames.WithLabelValues("replayed")))
}

func TestService_StaleFrameSkipped(t *testing.T) {
	service, metricsManager := newTestService(t, nil)
	ctx := context.Background()

	_, err := service.ProcessFrame(ctx, session.DefaultSessionID, frameInput(t, 180, ts(5)))
	require.NoError(t, err)
	_, err = service.ProcessFrame(ctx, session.DefaultSessionID, frameInput(t, 120, ts(6)))
	require.NoError(t, err)

	stale, err := service.ProcessFrame(ctx, session.DefaultSessionID, frameInput(t, 85, ts(4)))
	require.NoError(t, err)
	require.True(t, stale.Outcome.Skipped())
	assert.Equal(t, analysis.SkipStaleFrame, stale.Outcome.Skip.Reason)
	assert.Equal(t, fsm.Descending, stale.Outcome.Skip.Phase)
	assert.Contains(t, string(stale.Body), `"status":"skipped"`)
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterFrames.WithLabelValues("skipped_stale_frame")))

	info, err := service.Info(session.DefaultSessionID)
	require.NoError(t, err)
	assert.Equal(t, fsm.Descending, info.State.Phase)
}

func TestService_LargeCoordinatesCountRep(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()

	var last *session.Reply
	for i, angle := range repAngles {
		var err error
		last, err = service.ProcessFrame(ctx, session.DefaultSessionID, scaledFrameInput(t, angle, 1e160, ts(float64(i+1))))
		require.NoError(t, err)
		require.NotNil(t, last.Outcome.Result)
		assert.InDelta(t, angle, last.Outcome.Result.JointAngles.Average, 1e-6)
	}
	assert.True(t, last.Outcome.Result.RepCounted)

	info, err := service.Info(session.DefaultSessionID)
	require.NoError(t, err)
	assert.Equal(t, 5, info.FramesProcessed)
	assert.Equal(t, 1, info.State.RepCount)
}

func TestService_UnmeasurableFrameKeepsSessionUsable(t *testing.T) {
	service, metricsManager := newTestService(t, nil)
	ctx := context.Background()

	for i, angle := range []float64{180, 120} {
		_, err := service.ProcessFrame(ctx, session.DefaultSessionID, frameInput(t, angle, ts(float64(i+1))))
		require.NoError(t, err)
	}

	// ankles further apart than float64 can measure
	wide := squatLandmarks(85)
	wide[pose.LeftAnkle].X = -1e308
	wide[pose.RightAnkle].X = 1e308
	frame, err := pose.NewFrame(wide)
	require.NoError(t, err)
	in := session.FrameInput{Timestamp: ts(3), Frame: frame}

	skipped, err := service.ProcessFrame(ctx, session.DefaultSessionID, in)
	require.NoError(t, err)
	require.True(t, skipped.Outcome.Skipped())
	assert.Equal(t, analysis.SkipDegenerateGeometry, skipped.Outcome.Skip.Reason)
	assert.Equal(t, fsm.Descending, skipped.Outcome.Skip.Phase)
	assert.Contains(t, string(skipped.Body), `"reason":"degenerate_geometry"`)
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterFrames.WithLabelValues("skipped_degenerate_geometry")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metricsManager.CounterFrames.WithLabelValues("failed")))

	// a retry of the same frame gets the same answer
	retry, err := service.ProcessFrame(ctx, session.DefaultSessionID, in)
	require.NoError(t, err)
	assert.True(t, retry.Replayed)
	assert.Equal(t, skipped.Body, retry.Body)

	var last *session.Reply
	for i, angle := range []float64{85, 120, 180} {
		last, err = service.ProcessFrame(ctx, session.DefaultSessionID, frameInput(t, angle, ts(float64(i+4))))
		require.NoError(t, err)
	}
	require.NotNil(t, last.Outcome.Result)
	assert.True(t, last.Outcome.Result.RepCounted)
	assert.Equal(t, 1, last.Outcome.Result.RepCount)
}

func TestService_FramesWithoutTimestampAlwaysProcessed(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()

	for range 3 {
		for _, angle := range repAngles {
			_, err := service.ProcessFrame(ctx, session.DefaultSessionID, frameInput(t, angle, nil))
			require.NoError(t, err)
		}
	}

	info, err := service.Info(session.DefaultSessionID)
	require.NoError(t, err)
	assert.Equal(t, 3, info.State.RepCount)
}

func TestService_NoPoseSkipped(t *testing.T) {
	service, _ := newTestService(t, nil)

	reply, err := service.ProcessFrame(context.Background(), session.DefaultSessionID, session.FrameInput{Timestamp: ts(1)})
	require.NoError(t, err)
	require.True(t, reply.Outcome.Skipped())
	assert.Equal(t, analysis.SkipNoPose, reply.Outcome.Skip.Reason)
}

func TestService_ResetPublishesEvent(t *testing.T) {
	ctrl := gomock.NewController(t)
	publisher := NewMockPublisher(ctrl)
	service, _ := newTestService(t, publisher)
	ctx := context.Background()

	sess, err := service.CreateSession()
	require.NoError(t, err)

	gomock.InOrder(
		publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil),
		publisher.EXPECT().
			Publish(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, event events.Event) error {
				assert.Equal(t, events.SessionReset, event.Type)
				assert.Equal(t, sess.ID, event.SessionID)
				return nil
			}),
	)

	for i, angle := range repAngles {
		_, err := service.ProcessFrame(ctx, sess.ID, frameInput(t, angle, ts(float64(10+i))))
		require.NoError(t, err)
	}

	state, err := service.Reset(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, fsm.Snapshot{Phase: fsm.Standing, CurrentRepValid: true}, state)

	// timestamps restart after a reset
	reply, err := service.ProcessFrame(ctx, sess.ID, frameInput(t, 180, ts(1)))
	require.NoError(t, err)
	assert.False(t, reply.Outcome.Skipped())
	assert.Equal(t, 0, reply.Outcome.Result.RepCount)
}

func TestService_ShallowRepPublishesRejection(t *testing.T) {
	ctrl := gomock.NewController(t)
	publisher := NewMockPublisher(ctrl)
	service, metricsManager := newTestService(t, publisher)

	publisher.EXPECT().
		Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, event events.Event) error {
			assert.Equal(t, events.RepRejected, event.Type)
			assert.Equal(t, "aborted", event.Reason)
			assert.Equal(t, 0, event.RepCount)
			return nil
		})

	var last *session.Reply
	var err error
	for _, angle := range []float64{180, 120, 105, 180} {
		last, err = service.ProcessFrame(context.Background(), session.DefaultSessionID, frameInput(t, angle, nil))
		require.NoError(t, err)
	}

	require.NotNil(t, last.Outcome.Result)
	assert.Contains(t, string(last.Body), `"correction_cue":"GO DEEPER"`)
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterReps.WithLabelValues("aborted")))
}

func TestService_PublishFailureDoesNotAffectState(t *testing.T) {
	ctrl := gomock.NewController(t)
	publisher := NewMockPublisher(ctrl)
	service, metricsManager := newTestService(t, publisher)

	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

	for _, angle := range repAngles {
		_, err := service.ProcessFrame(context.Background(), session.DefaultSessionID, frameInput(t, angle, nil))
		require.NoError(t, err)
	}

	info, err := service.Info(session.DefaultSessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, info.State.RepCount)
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterEvents.WithLabelValues("rep_completed", "failed")))
}

func TestService_UnknownSession(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := service.ProcessFrame(ctx, "missing", frameInput(t, 180, nil))
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	_, err = service.Reset(ctx, "missing")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	_, err = service.Info("missing")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	assert.False(t, service.Delete("missing"))

	// the default session always exists
	info, err := service.Info(session.DefaultSessionID)
	require.NoError(t, err)
	assert.Equal(t, session.DefaultSessionID, info.ID)
}

func TestService_ListAndDelete(t *testing.T) {
	service, _ := newTestService(t, nil)

	s1, err := service.CreateSession()
	require.NoError(t, err)
	s2, err := service.CreateSession()
	require.NoError(t, err)

	assert.Len(t, service.List(), 2)
	assert.True(t, service.Delete(s1.ID))

	infos := service.List()
	require.Len(t, infos, 1)
	assert.Equal(t, s2.ID, infos[0].ID)
}

func TestService_SessionsAreIndependent(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()

	const numSessions = 8
	const reps = 4
	ids := make([]string, numSessions)
	for i := range ids {
		sess, err := service.CreateSession()
		require.NoError(t, err)
		ids[i] = sess.ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for range reps {
				for _, angle := range repAngles {
					_, err := service.ProcessFrame(ctx, id, frameInput(t, angle, nil))
					assert.NoError(t, err)
				}
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		info, err := service.Info(id)
		require.NoError(t, err)
		assert.Equal(t, reps, info.State.RepCount, id)
		assert.Equal(t, reps*len(repAngles), info.FramesProcessed)
	}
}
