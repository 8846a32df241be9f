package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"quiz-assessment-service/internal/domain"
)

// AttemptRepository keeps attempts in process. It stands in for the remote
// store when the server runs without Postgres.
type AttemptRepository struct {
	clock func() time.Time

	mu       sync.RWMutex
	attempts map[string]domain.Attempt
}

func NewAttemptRepository() *AttemptRepository {
	return &AttemptRepository{
		clock:    time.Now,
		attempts: make(map[string]domain.Attempt),
	}
}

func (r *AttemptRepository) Begin(_ context.Context, quiz domain.Quiz, student domain.Student) (domain.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	used := 0
	for _, a := range r.attempts {
		if a.QuizID == quiz.ID && a.StudentID == student.ID {
			used++
		}
	}
	if quiz.MaxAttempts > 0 && used >= quiz.MaxAttempts {
		return domain.Attempt{}, domain.ErrAttemptLimitExceeded
	}

	attempt := domain.Attempt{
		ID:          uuid.NewString(),
		QuizID:      quiz.ID,
		StudentID:   student.ID,
		StudentName: student.DisplayName,
		Number:      used + 1,
		StartedAt:   r.clock(),
	}
	r.attempts[attempt.ID] = attempt
	return attempt, nil
}

// PersistSubmission stores a finalized attempt. Re-sending an attempt that is
// already submitted returns the stored record unchanged.
func (r *AttemptRepository) PersistSubmission(_ context.Context, attempt domain.Attempt) (domain.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.attempts[attempt.ID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if stored.Submitted() {
		return stored, nil
	}
	attempt.Confirmed = true
	r.attempts[attempt.ID] = attempt
	return attempt, nil
}

func (r *AttemptRepository) Get(_ context.Context, attemptID string) (domain.Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return stored, nil
}

// UpdateGrades replaces the grading of a submitted attempt. Identity, timing and
// the submission origin stay as stored.
func (r *AttemptRepository) UpdateGrades(_ context.Context, attempt domain.Attempt) (domain.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.attempts[attempt.ID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if !stored.Submitted() {
		return domain.Attempt{}, domain.ErrAttemptNotSubmitted
	}
	stored.Answers = attempt.Answers
	stored.Score = attempt.Score
	stored.TotalPossible = attempt.TotalPossible
	stored.PendingReview = attempt.PendingReview
	stored.Passed = attempt.Passed
	r.attempts[attempt.ID] = stored
	return stored, nil
}

func (r *AttemptRepository) ListByQuiz(_ context.Context, quizID string) ([]domain.Attempt, error) {
	return r.filter(func(a domain.Attempt) bool { return a.QuizID == quizID }), nil
}

func (r *AttemptRepository) ListByStudent(_ context.Context, quizID, studentID string) ([]domain.Attempt, error) {
	return r.filter(func(a domain.Attempt) bool { return a.QuizID == quizID && a.StudentID == studentID }), nil
}

func (r *AttemptRepository) filter(keep func(domain.Attempt) bool) []domain.Attempt {
	r.mu.RLock()
	out := make([]domain.Attempt, 0, len(r.attempts))
	for _, a := range r.attempts {
		if keep(a) {
			out = append(out, a)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].Number < out[j].Number
	})
	return out
}
