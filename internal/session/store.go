package session

import (
	"errors"
	"sort"
	"time"

	"github.com/2beens/fixfit/internal/fsm"
	"github.com/2beens/fixfit/internal/telemetry/metrics"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
)

var ErrSessionNotFound = errors.New("session not found")

// Store is the in-memory session registry. Sessions expire after ttl
// without frames.
type Store struct {
	cache          *cache.Cache
	thresholds     fsm.Thresholds
	metricsManager *metrics.Manager
}

func NewStore(
	ttl, cleanupInterval time.Duration,
	thresholds fsm.Thresholds,
	metricsManager *metrics.Manager,
) (*Store, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		cache:          cache.New(ttl, cleanupInterval),
		thresholds:     thresholds,
		metricsManager: metricsManager,
	}
	s.cache.OnEvicted(func(id string, _ interface{}) {
		log.Debugf("session [%s] removed", id)
		s.updateGauge()
	})

	return s, nil
}

func (s *Store) Create() (*Session, error) {
	sess, err := newSession(uuid.NewString(), s.thresholds)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(sess.ID, sess)
	s.updateGauge()
	log.Debugf("session [%s] created", sess.ID)
	return sess, nil
}

// GetOrCreate returns the session with the given id, creating it if missing.
func (s *Store) GetOrCreate(id string) (*Session, error) {
	if sess, ok := s.Get(id); ok {
		return sess, nil
	}

	sess, err := newSession(id, s.thresholds)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Add(id, sess, cache.DefaultExpiration); err != nil {
		// created concurrently
		if existing, ok := s.Get(id); ok {
			return existing, nil
		}
		return nil, err
	}
	s.updateGauge()
	return sess, nil
}

// Get returns a live session and extends its expiry.
func (s *Store) Get(id string) (*Session, bool) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, false
	}
	sess := v.(*Session)
	// Replace only refreshes a session that was not deleted meanwhile
	if err := s.cache.Replace(id, sess, cache.DefaultExpiration); err != nil {
		return nil, false
	}
	return sess, true
}

func (s *Store) Delete(id string) bool {
	if _, ok := s.cache.Get(id); !ok {
		return false
	}
	s.cache.Delete(id)
	return true
}

// List returns live sessions, oldest first.
func (s *Store) List() []*Session {
	items := s.cache.Items()
	sessions := make([]*Session, 0, len(items))
	for _, item := range items {
		sessions = append(sessions, item.Object.(*Session))
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

func (s *Store) Count() int {
	return s.cache.ItemCount()
}

func (s *Store) updateGauge() {
	if s.metricsManager != nil {
		s.metricsManager.GaugeActiveSessions.Set(float64(s.cache.ItemCount()))
	}
}
