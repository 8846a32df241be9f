package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"quiz-assessment-service/internal/domain"
)

// State is the lifecycle position of an attempt.
type State int

const (
	NotStarted State = iota
	InProgress
	Submitting
	Submitted
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Submitting:
		return "submitting"
	case Submitted:
		return "submitted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DefaultWarningThreshold is when the countdown starts flagging the last minutes.
const DefaultWarningThreshold = 5 * time.Minute

// Ticker is the part of time.Ticker the countdown uses; tests drive it by hand.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type timeTicker struct{ *time.Ticker }

func (t timeTicker) Chan() <-chan time.Time { return t.C }

// NewTimeTicker wraps time.NewTicker.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{time.NewTicker(d)}
}

// SubmissionPersister sends a finalized attempt to the store of record.
type SubmissionPersister interface {
	PersistSubmission(ctx context.Context, attempt domain.Attempt) (domain.Attempt, error)
}

// SessionOptions tune an AttemptSession. Zero values fall back to defaults.
type SessionOptions struct {
	Now              func() time.Time
	NewTicker        func(time.Duration) Ticker
	WarningThreshold time.Duration
	PersistTimeout   time.Duration
	Logger           *zap.Logger
	// OnFinalized runs once, after persistence, outside the session lock.
	OnFinalized func(attempt domain.Attempt, persistErr error)
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewTicker == nil {
		o.NewTicker = NewTimeTicker
	}
	if o.WarningThreshold <= 0 {
		o.WarningThreshold = DefaultWarningThreshold
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// EventType names what a session broadcast is about.
type EventType string

const (
	EventTick       EventType = "tick"
	EventWarning    EventType = "warning"
	EventSubmitting EventType = "submitting"
	EventSubmitted  EventType = "submitted"
)

// Event is pushed to subscribers whenever the observable state changes.
type Event struct {
	Type     EventType `json:"type"`
	Snapshot Snapshot  `json:"snapshot"`
}

// Snapshot is the UI-facing view of a session.
type Snapshot struct {
	AttemptID        string          `json:"attemptId"`
	QuizID           string          `json:"quizId"`
	State            State           `json:"state"`
	Timed            bool            `json:"timed"`
	RemainingSeconds int             `json:"remainingSeconds"`
	Warning          bool            `json:"warning"`
	Answered         map[string]bool `json:"answered"`
	Attempt          *domain.Attempt `json:"attempt,omitempty"`
	PersistError     string          `json:"persistError,omitempty"`
}

// AttemptSession owns one in-progress attempt. Every mutation goes through mu,
// so countdown ticks, answer capture and submission never interleave.
type AttemptSession struct {
	bank      *QuestionBank
	persister SubmissionPersister
	opts      SessionOptions
	logger    *zap.Logger

	mu           sync.Mutex
	state        State
	attempt      domain.Attempt
	answers      *AnswerStore
	remaining    int
	warned       bool
	ticker       Ticker
	stop         chan struct{}
	lastActivity time.Time
	scorecard    Scorecard
	persistErr   error
	finalized    chan struct{}
	finalizedAt  time.Time
	subscribers  map[chan Event]struct{}
}

// NewAttemptSession prepares a session for an attempt allocated by the store.
func NewAttemptSession(bank *QuestionBank, attempt domain.Attempt, persister SubmissionPersister, opts SessionOptions) *AttemptSession {
	opts = opts.withDefaults()
	return &AttemptSession{
		bank:        bank,
		persister:   persister,
		opts:        opts,
		logger:      opts.Logger.With(zap.String("attempt", attempt.ID), zap.String("quiz", attempt.QuizID)),
		attempt:     attempt,
		answers:     NewAnswerStore(),
		finalized:   make(chan struct{}),
		subscribers: make(map[chan Event]struct{}),
	}
}

// Start moves the session to InProgress and arms the countdown when the quiz is
// timed. The context only seeds the auto-submit persistence call; cancelling it
// does not stop the countdown.
func (s *AttemptSession) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != NotStarted {
		return
	}
	s.state = InProgress
	s.lastActivity = s.opts.Now()
	if s.attempt.StartedAt.IsZero() {
		s.attempt.StartedAt = s.lastActivity
	}

	quiz := s.bank.Quiz()
	if !quiz.Timed() {
		return
	}
	s.remaining = quiz.TimeLimitMinutes * 60
	s.ticker = s.opts.NewTicker(time.Second)
	s.stop = make(chan struct{})
	go s.countdown(context.WithoutCancel(ctx), s.ticker.Chan(), s.stop)
}

func (s *AttemptSession) countdown(ctx context.Context, ticks <-chan time.Time, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticks:
			if s.tick() {
				s.logger.Info("time limit reached, auto-submitting")
				_, _ = s.Submit(ctx, false)
				return
			}
		}
	}
}

// tick reports whether the countdown just expired.
func (s *AttemptSession) tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != InProgress {
		return false
	}
	if s.remaining > 0 {
		s.remaining--
	}
	eventType := EventTick
	if !s.warned && s.warningLocked() {
		s.warned = true
		eventType = EventWarning
	}
	s.broadcastLocked(eventType)
	return s.remaining == 0
}

func (s *AttemptSession) warningLocked() bool {
	return s.ticker != nil && time.Duration(s.remaining)*time.Second <= s.opts.WarningThreshold
}

// RecordAnswer validates and stores an answer and reports whether it was kept.
// Calls arriving after submission began are dropped without error and report false.
func (s *AttemptSession) RecordAnswer(questionID string, payload domain.AnswerPayload) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case NotStarted:
		return false, domain.ErrAttemptNotStarted
	case Submitting, Submitted:
		s.logger.Debug("dropping late answer", zap.String("question", questionID))
		return false, nil
	}
	answer, err := s.bank.validatePayload(questionID, payload)
	if err != nil {
		return false, err
	}
	s.answers.Put(answer)
	s.lastActivity = s.opts.Now()
	return true, nil
}

// Submit scores and finalizes the attempt. It is idempotent: later calls, from
// either the user or the countdown, wait for the first one and return its result.
// The session stays Submitting while the store call is in flight. A persistence
// failure leaves the attempt Submitted and returns ErrSubmissionUnconfirmed
// alongside the locally scored attempt.
func (s *AttemptSession) Submit(ctx context.Context, manual bool) (domain.Attempt, error) {
	s.mu.Lock()
	switch s.state {
	case NotStarted:
		s.mu.Unlock()
		return domain.Attempt{}, domain.ErrAttemptNotStarted
	case Submitting, Submitted:
		s.mu.Unlock()
		select {
		case <-s.finalized:
		case <-ctx.Done():
			return domain.Attempt{}, ctx.Err()
		}
		return s.Result()
	}

	s.state = Submitting
	s.stopCountdownLocked()
	card := ScoreAttempt(s.bank, s.answers.Snapshot())
	now := s.opts.Now()
	s.scorecard = card
	s.attempt.SubmittedAt = &now
	s.attempt.Answers = card.Answers
	s.attempt.Score = card.Score
	s.attempt.TotalPossible = card.TotalPossible
	s.attempt.PendingReview = card.Pending
	s.attempt.Passed = Passed(card.Score, card.TotalPossible, s.bank.Quiz().PassingThreshold)
	s.attempt.AutoSubmitted = !manual
	local := s.attempt
	s.broadcastLocked(EventSubmitting)
	s.mu.Unlock()

	persistCtx, cancel := context.WithTimeout(ctx, s.opts.PersistTimeout)
	remote, err := s.persister.PersistSubmission(persistCtx, local)
	cancel()

	s.mu.Lock()
	if err != nil {
		s.persistErr = fmt.Errorf("%w: %w", domain.ErrSubmissionUnconfirmed, err)
		s.logger.Warn("submission not persisted", zap.Error(err))
	} else {
		s.attempt = reconcile(s.attempt, remote)
		s.attempt.Confirmed = true
	}
	s.state = Submitted
	s.finalizedAt = s.opts.Now()
	final, persistErr := s.attempt, s.persistErr
	s.broadcastLocked(EventSubmitted)
	close(s.finalized)
	s.mu.Unlock()

	s.logger.Info("attempt submitted",
		zap.Bool("manual", manual),
		zap.Int("score", final.Score),
		zap.Int("total", final.TotalPossible),
		zap.Bool("passed", final.Passed),
		zap.Bool("confirmed", final.Confirmed),
	)
	if s.opts.OnFinalized != nil {
		s.opts.OnFinalized(final, persistErr)
	}
	return final, persistErr
}

// reconcile prefers the store's grading when it returns a finalized record.
func reconcile(local, remote domain.Attempt) domain.Attempt {
	if !remote.Submitted() {
		return local
	}
	local.Score = remote.Score
	local.TotalPossible = remote.TotalPossible
	local.PendingReview = remote.PendingReview
	local.Passed = remote.Passed
	if len(remote.Answers) > 0 {
		local.Answers = remote.Answers
	}
	return local
}

func (s *AttemptSession) stopCountdownLocked() {
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.ticker = nil
}

// Result returns the finalized attempt and the persistence outcome.
func (s *AttemptSession) Result() (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Submitted {
		return domain.Attempt{}, fmt.Errorf("attempt %s is %s", s.attempt.ID, s.state)
	}
	return s.attempt, s.persistErr
}

// Scorecard returns the per-question results of the local scoring. It is empty
// until submission begins.
func (s *AttemptSession) Scorecard() Scorecard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scorecard
}

func (s *AttemptSession) ID() string {
	return s.attempt.ID
}

func (s *AttemptSession) StudentID() string {
	return s.attempt.StudentID
}

func (s *AttemptSession) Bank() *QuestionBank {
	return s.bank
}

func (s *AttemptSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Evictable reports whether a registry may drop the session: it finished before
// finishedBefore, or it is an untimed attempt nobody has touched since
// idleBefore. A zero idleBefore keeps idle sessions. Timed attempts always end
// through their countdown.
func (s *AttemptSession) Evictable(finishedBefore, idleBefore time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Submitted:
		return s.finalizedAt.Before(finishedBefore)
	case InProgress:
		return s.ticker == nil && !idleBefore.IsZero() && s.lastActivity.Before(idleBefore)
	}
	return false
}

func (s *AttemptSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel that receives session events, starting with the
// current snapshot. The caller must invoke the returned cancel function.
func (s *AttemptSession) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 8)

	s.mu.Lock()
	initial := Event{Type: EventTick, Snapshot: s.snapshotLocked()}
	switch s.state {
	case Submitting:
		initial.Type = EventSubmitting
	case Submitted:
		initial.Type = EventSubmitted
	}
	// The buffer is empty, so this cannot block, and no broadcast can fill it first.
	ch <- initial
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *AttemptSession) broadcastLocked(eventType EventType) {
	ev := Event{Type: eventType, Snapshot: s.snapshotLocked()}
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// Slow consumer: drop its oldest update so the countdown never blocks.
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}

func (s *AttemptSession) snapshotLocked() Snapshot {
	snap := Snapshot{
		AttemptID:        s.attempt.ID,
		QuizID:           s.attempt.QuizID,
		State:            s.state,
		Timed:            s.bank.Quiz().Timed(),
		RemainingSeconds: s.remaining,
		Warning:          s.state == InProgress && s.warningLocked(),
		Answered:         make(map[string]bool, s.bank.Len()),
	}
	for _, q := range s.bank.Questions() {
		snap.Answered[q.ID] = s.answers.Has(q.ID)
	}
	if s.state == Submitted {
		final := s.attempt
		snap.Attempt = &final
		if s.persistErr != nil {
			snap.PersistError = s.persistErr.Error()
		}
	}
	return snap
}
