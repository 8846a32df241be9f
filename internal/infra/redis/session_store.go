package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quiz-assessment-service/internal/app"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Notes:
//   - Sessions themselves stay in process: the countdown and answer store
//     live with the goroutine that owns them.
//   - Redis holds a liveness marker per attempt (attempt:live:{id} -> student id)
//     so other instances can tell which attempts are running somewhere.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*app.AttemptSession
}

func NewSessionStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *SessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		logger:   logger,
		sessions: make(map[string]*app.AttemptSession),
	}
}

func (s *SessionStore) Put(session *app.AttemptSession) {
	s.mu.Lock()
	s.sessions[session.ID()] = session
	s.mu.Unlock()

	// best-effort liveness marker
	if err := s.client.Set(context.Background(), Key(session.ID()), session.StudentID(), s.ttl).Err(); err != nil {
		s.logger.Warn("mark attempt live", zap.String("attempt", session.ID()), zap.Error(err))
	}
}

func (s *SessionStore) Get(attemptID string) (*app.AttemptSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[attemptID]
	return session, ok
}

func (s *SessionStore) Sweep(finishedBefore, idleBefore time.Time) int {
	s.mu.Lock()
	var removed []string
	for id, session := range s.sessions {
		if session.Evictable(finishedBefore, idleBefore) {
			delete(s.sessions, id)
			removed = append(removed, id)
		}
	}
	s.mu.Unlock()

	for _, id := range removed {
		s.clear(id)
	}
	return len(removed)
}

// Live reports whether any instance holds the attempt. AttemptService uses it
// to tell an attempt held elsewhere from an unknown one.
func (s *SessionStore) Live(ctx context.Context, attemptID string) (bool, error) {
	n, err := s.client.Exists(ctx, Key(attemptID)).Result()
	return n > 0, err
}

func (s *SessionStore) clear(attemptID string) {
	if err := s.client.Del(context.Background(), Key(attemptID)).Err(); err != nil {
		s.logger.Warn("clear attempt marker", zap.String("attempt", attemptID), zap.Error(err))
	}
}

// Key is the liveness marker key for an attempt.
func Key(attemptID string) string {
	return "attempt:live:" + attemptID
}
