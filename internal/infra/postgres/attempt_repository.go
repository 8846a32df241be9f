package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"quiz-assessment-service/internal/domain"
)

type attemptRow struct {
	bun.BaseModel `bun:"table:attempts"`

	ID            string          `bun:"id,pk"`
	QuizID        string          `bun:"quiz_id,notnull"`
	StudentID     string          `bun:"student_id,notnull"`
	StudentName   string          `bun:"student_name"`
	Number        int             `bun:"number,notnull"`
	StartedAt     time.Time       `bun:"started_at,notnull"`
	SubmittedAt   *time.Time      `bun:"submitted_at"`
	Answers       []domain.Answer `bun:"answers,type:jsonb"`
	Score         int             `bun:"score"`
	TotalPossible int             `bun:"total_possible"`
	PendingReview int             `bun:"pending_review"`
	Passed        bool            `bun:"passed"`
	AutoSubmitted bool            `bun:"auto_submitted"`
}

func (r attemptRow) toDomain() domain.Attempt {
	answers := r.Answers
	if answers == nil {
		answers = []domain.Answer{}
	}
	return domain.Attempt{
		ID:            r.ID,
		QuizID:        r.QuizID,
		StudentID:     r.StudentID,
		StudentName:   r.StudentName,
		Number:        r.Number,
		StartedAt:     r.StartedAt,
		SubmittedAt:   r.SubmittedAt,
		Answers:       answers,
		Score:         r.Score,
		TotalPossible: r.TotalPossible,
		PendingReview: r.PendingReview,
		Passed:        r.Passed,
		AutoSubmitted: r.AutoSubmitted,
		Confirmed:     r.SubmittedAt != nil,
	}
}

// AttemptRepository stores attempts in Postgres through bun.
type AttemptRepository struct {
	db    *bun.DB
	clock func() time.Time
}

func NewAttemptRepository(db *bun.DB) *AttemptRepository {
	return &AttemptRepository{db: db, clock: time.Now}
}

// Begin allocates the next attempt number under a per-(quiz, student) advisory
// lock so concurrent starts cannot both take the last permitted attempt.
func (r *AttemptRepository) Begin(ctx context.Context, quiz domain.Quiz, student domain.Student) (domain.Attempt, error) {
	row := attemptRow{
		ID:          uuid.NewString(),
		QuizID:      quiz.ID,
		StudentID:   student.ID,
		StudentName: student.DisplayName,
		StartedAt:   r.clock().UTC(),
		Answers:     []domain.Answer{},
	}
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext(?))`, quiz.ID+"/"+student.ID); err != nil {
			return err
		}
		used, err := tx.NewSelect().
			Model((*attemptRow)(nil)).
			Where("quiz_id = ?", quiz.ID).
			Where("student_id = ?", student.ID).
			Count(ctx)
		if err != nil {
			return err
		}
		if quiz.MaxAttempts > 0 && used >= quiz.MaxAttempts {
			return domain.ErrAttemptLimitExceeded
		}
		row.Number = used + 1
		_, err = tx.NewInsert().Model(&row).Exec(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrAttemptLimitExceeded) {
			return domain.Attempt{}, err
		}
		return domain.Attempt{}, fmt.Errorf("begin attempt: %w", err)
	}
	return row.toDomain(), nil
}

// PersistSubmission finalizes the stored attempt once; re-sending a submitted
// attempt returns the stored record.
func (r *AttemptRepository) PersistSubmission(ctx context.Context, attempt domain.Attempt) (domain.Attempt, error) {
	row := attemptRow{
		ID:            attempt.ID,
		SubmittedAt:   attempt.SubmittedAt,
		Answers:       attempt.Answers,
		Score:         attempt.Score,
		TotalPossible: attempt.TotalPossible,
		PendingReview: attempt.PendingReview,
		Passed:        attempt.Passed,
		AutoSubmitted: attempt.AutoSubmitted,
	}
	if row.Answers == nil {
		row.Answers = []domain.Answer{}
	}
	// A no-op update means the attempt is unknown or already final; Get tells which.
	_, err := r.db.NewUpdate().
		Model(&row).
		Column("submitted_at", "answers", "score", "total_possible", "pending_review", "passed", "auto_submitted").
		WherePK().
		Where("submitted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("persist submission: %w", err)
	}
	return r.Get(ctx, attempt.ID)
}

// UpdateGrades rewrites the grading columns of a submitted attempt.
func (r *AttemptRepository) UpdateGrades(ctx context.Context, attempt domain.Attempt) (domain.Attempt, error) {
	row := attemptRow{
		ID:            attempt.ID,
		Answers:       attempt.Answers,
		Score:         attempt.Score,
		TotalPossible: attempt.TotalPossible,
		PendingReview: attempt.PendingReview,
		Passed:        attempt.Passed,
	}
	if row.Answers == nil {
		row.Answers = []domain.Answer{}
	}
	res, err := r.db.NewUpdate().
		Model(&row).
		Column("answers", "score", "total_possible", "pending_review", "passed").
		WherePK().
		Where("submitted_at IS NOT NULL").
		Exec(ctx)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("update grades: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		stored, err := r.Get(ctx, attempt.ID)
		if err != nil {
			return domain.Attempt{}, err
		}
		if !stored.Submitted() {
			return domain.Attempt{}, domain.ErrAttemptNotSubmitted
		}
	}
	return r.Get(ctx, attempt.ID)
}

func (r *AttemptRepository) Get(ctx context.Context, attemptID string) (domain.Attempt, error) {
	var row attemptRow
	err := r.db.NewSelect().Model(&row).Where("id = ?", attemptID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("load attempt: %w", err)
	}
	return row.toDomain(), nil
}

func (r *AttemptRepository) ListByQuiz(ctx context.Context, quizID string) ([]domain.Attempt, error) {
	var rows []attemptRow
	err := r.db.NewSelect().
		Model(&rows).
		Where("quiz_id = ?", quizID).
		Order("started_at ASC", "number ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return toDomainList(rows), nil
}

func (r *AttemptRepository) ListByStudent(ctx context.Context, quizID, studentID string) ([]domain.Attempt, error) {
	var rows []attemptRow
	err := r.db.NewSelect().
		Model(&rows).
		Where("quiz_id = ?", quizID).
		Where("student_id = ?", studentID).
		Order("number ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return toDomainList(rows), nil
}

func toDomainList(rows []attemptRow) []domain.Attempt {
	out := make([]domain.Attempt, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out
}
