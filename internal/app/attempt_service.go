package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"quiz-assessment-service/internal/domain"
)

// SessionRepository abstracts where live attempt sessions are kept (in-memory, Redis-marked, etc).
type SessionRepository interface {
	Put(session *AttemptSession)
	Get(attemptID string) (*AttemptSession, bool)
	// Sweep drops sessions finalized before finishedBefore and untimed sessions
	// idle since idleBefore, and returns how many went.
	Sweep(finishedBefore, idleBefore time.Time) int
}

// LivenessChecker is implemented by registries shared between instances. It
// reports whether some instance still holds the session.
type LivenessChecker interface {
	Live(ctx context.Context, attemptID string) (bool, error)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// AttemptRepository is the store of record for attempts. Begin allocates the
// attempt number and enforces the quiz's attempt limit.
type AttemptRepository interface {
	SubmissionPersister
	Begin(ctx context.Context, quiz domain.Quiz, student domain.Student) (domain.Attempt, error)
	ListByQuiz(ctx context.Context, quizID string) ([]domain.Attempt, error)
	ListByStudent(ctx context.Context, quizID, studentID string) ([]domain.Attempt, error)
	Get(ctx context.Context, attemptID string) (domain.Attempt, error)
	// UpdateGrades stores regraded answers and totals of a submitted attempt.
	UpdateGrades(ctx context.Context, attempt domain.Attempt) (domain.Attempt, error)
}

// EventPublisher fans attempt lifecycle events out to other services.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload any) error
}

// Metrics receives attempt lifecycle observations.
type Metrics interface {
	AttemptStarted(quizID string)
	AttemptSubmitted(attempt domain.Attempt, persistErr error)
}

// Event types published to the broker.
const (
	EventAttemptStarted   = "attempt.started"
	EventAttemptSubmitted = "attempt.submitted"
	EventAttemptGraded    = "attempt.graded"
)

// ServiceOptions configure AttemptService. Nil collaborators are skipped.
type ServiceOptions struct {
	Logger           *zap.Logger
	Publisher        EventPublisher
	Metrics          Metrics
	Now              func() time.Time
	NewTicker        func(time.Duration) Ticker
	WarningThreshold time.Duration
	PersistTimeout   time.Duration
	// IdleTimeout evicts untimed sessions with no activity for this long. Zero keeps them.
	IdleTimeout time.Duration
}

// AttemptService contains the quiz-attempt use cases.
type AttemptService struct {
	sessions SessionRepository
	quizzes  QuizRepository
	attempts AttemptRepository
	opts     ServiceOptions
	logger   *zap.Logger
}

func NewAttemptService(sessions SessionRepository, quizzes QuizRepository, attempts AttemptRepository, opts ServiceOptions) *AttemptService {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &AttemptService{
		sessions: sessions,
		quizzes:  quizzes,
		attempts: attempts,
		opts:     opts,
		logger:   opts.Logger,
	}
}

// Start opens a new attempt for the student. Nothing is created when it fails.
func (s *AttemptService) Start(ctx context.Context, quizID string, student domain.Student) (*AttemptSession, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	bank, err := NewQuestionBank(quiz)
	if err != nil {
		return nil, err
	}

	now := s.opts.Now()
	if quiz.OpensAt != nil && now.Before(*quiz.OpensAt) {
		return nil, domain.ErrQuizNotOpen
	}
	if quiz.ClosesAt != nil && !now.Before(*quiz.ClosesAt) {
		return nil, domain.ErrQuizClosed
	}

	attempt, err := s.attempts.Begin(ctx, bank.Quiz(), student)
	if err != nil {
		return nil, err
	}

	session := NewAttemptSession(bank, attempt, s.attempts, SessionOptions{
		Now:              s.opts.Now,
		NewTicker:        s.opts.NewTicker,
		WarningThreshold: s.opts.WarningThreshold,
		PersistTimeout:   s.opts.PersistTimeout,
		Logger:           s.logger,
		OnFinalized:      s.finalized,
	})
	session.Start(ctx)
	s.sessions.Put(session)

	s.logger.Info("attempt started",
		zap.String("attempt", attempt.ID),
		zap.String("quiz", quizID),
		zap.String("student", student.ID),
		zap.Int("number", attempt.Number),
	)
	if s.opts.Metrics != nil {
		s.opts.Metrics.AttemptStarted(quizID)
	}
	s.publish(ctx, EventAttemptStarted, attempt)
	return session, nil
}

func (s *AttemptService) finalized(attempt domain.Attempt, persistErr error) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.AttemptSubmitted(attempt, persistErr)
	}
	if persistErr != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.publish(ctx, EventAttemptSubmitted, attempt)
}

func (s *AttemptService) publish(ctx context.Context, eventType string, payload any) {
	if s.opts.Publisher == nil {
		return
	}
	if err := s.opts.Publisher.Publish(ctx, eventType, payload); err != nil {
		s.logger.Warn("publish event failed", zap.String("event", eventType), zap.Error(err))
	}
}

// Session returns the live session for an attempt owned by studentID. When the
// registry is shared and another instance holds the attempt, it returns
// ErrAttemptElsewhere.
func (s *AttemptService) Session(ctx context.Context, attemptID, studentID string) (*AttemptSession, error) {
	session, ok := s.sessions.Get(attemptID)
	if ok {
		if session.StudentID() != studentID {
			return nil, domain.ErrAttemptNotFound
		}
		return session, nil
	}
	if checker, ok := s.sessions.(LivenessChecker); ok {
		live, err := checker.Live(ctx, attemptID)
		if err != nil {
			s.logger.Warn("liveness check failed", zap.String("attempt", attemptID), zap.Error(err))
		} else if live {
			return nil, domain.ErrAttemptElsewhere
		}
	}
	return nil, domain.ErrAttemptNotFound
}

// RecordAnswer captures an answer on a live attempt. It reports false when the
// attempt was already being submitted and the answer was dropped.
func (s *AttemptService) RecordAnswer(ctx context.Context, attemptID, studentID, questionID string, payload domain.AnswerPayload) (bool, error) {
	session, err := s.Session(ctx, attemptID, studentID)
	if err != nil {
		return false, err
	}
	return session.RecordAnswer(questionID, payload)
}

// Submit is the explicit user submit.
func (s *AttemptService) Submit(ctx context.Context, attemptID, studentID string) (domain.Attempt, error) {
	session, err := s.Session(ctx, attemptID, studentID)
	if err != nil {
		return domain.Attempt{}, err
	}
	return session.Submit(ctx, true)
}

// Subscribe returns a channel of session events for an attempt.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *AttemptService) Subscribe(ctx context.Context, attemptID, studentID string) (<-chan Event, func(), error) {
	session, err := s.Session(ctx, attemptID, studentID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := session.Subscribe()
	return ch, cancel, nil
}

// QuizSummary aggregates the submitted attempts of a quiz for the instructor view.
func (s *AttemptService) QuizSummary(ctx context.Context, quizID string) (domain.Summary, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Summary{}, err
	}
	attempts, err := s.attempts.ListByQuiz(ctx, quizID)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("list attempts: %w", err)
	}
	return Summarize(quizID, attempts, quiz.PassingThreshold), nil
}

// MyAttempts is the student's history for a quiz, presented per the quiz's
// result visibility.
func (s *AttemptService) MyAttempts(ctx context.Context, quizID, studentID string) ([]domain.Attempt, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	attempts, err := s.attempts.ListByStudent(ctx, quizID, studentID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	out := make([]domain.Attempt, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, PresentAttempt(quiz, a))
	}
	return out, nil
}

// Grade applies an instructor's manual grades to a submitted attempt and stores
// the recomputed totals.
func (s *AttemptService) Grade(ctx context.Context, attemptID string, grades []Grade) (domain.Attempt, error) {
	attempt, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if !attempt.Submitted() {
		return domain.Attempt{}, domain.ErrAttemptNotSubmitted
	}
	quiz, err := s.quizzes.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return domain.Attempt{}, err
	}
	bank, err := NewQuestionBank(quiz)
	if err != nil {
		return domain.Attempt{}, err
	}
	for _, g := range grades {
		if _, ok := bank.Question(g.QuestionID); !ok {
			return domain.Attempt{}, fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, g.QuestionID)
		}
	}

	graded, err := s.attempts.UpdateGrades(ctx, ApplyGrades(bank, attempt, grades))
	if err != nil {
		return domain.Attempt{}, err
	}
	s.logger.Info("attempt graded",
		zap.String("attempt", attemptID),
		zap.Int("grades", len(grades)),
		zap.Int("score", graded.Score),
		zap.Int("pending", graded.PendingReview),
	)
	s.publish(ctx, EventAttemptGraded, graded)
	return graded, nil
}

// Sweep evicts sessions that finished more than retention ago, and untimed
// sessions idle for longer than the configured idle timeout.
func (s *AttemptService) Sweep(retention time.Duration) int {
	now := s.opts.Now()
	var idleBefore time.Time
	if s.opts.IdleTimeout > 0 {
		idleBefore = now.Add(-s.opts.IdleTimeout)
	}
	return s.sessions.Sweep(now.Add(-retention), idleBefore)
}
