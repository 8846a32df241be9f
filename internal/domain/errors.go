package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrInvalidQuiz is returned when a quiz breaks question bank rules.
	ErrInvalidQuiz = errors.New("invalid quiz")
	// ErrAttemptNotFound is returned for unknown or evicted attempt ids.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrAttemptNotSubmitted is returned when grading an attempt that is still open.
	ErrAttemptNotSubmitted = errors.New("attempt not submitted")
	// ErrAttemptElsewhere means another instance holds the live session.
	ErrAttemptElsewhere = errors.New("attempt is live on another instance")
	// ErrAttemptNotStarted is returned when acting on a session that never started.
	ErrAttemptNotStarted = errors.New("attempt not started")
	// ErrAttemptLimitExceeded means the student used every permitted attempt.
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	// ErrQuizNotOpen means the quiz window has not opened yet.
	ErrQuizNotOpen = errors.New("quiz not open yet")
	// ErrQuizClosed means the quiz window has already closed.
	ErrQuizClosed = errors.New("quiz closed")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a submitted option ID is invalid.
	ErrOptionNotFound = errors.New("option not found")
	// ErrInvalidAnswer indicates the payload shape does not match the question type.
	ErrInvalidAnswer = errors.New("invalid answer payload")
	// ErrSubmissionUnconfirmed means scoring finished locally but persistence failed.
	ErrSubmissionUnconfirmed = errors.New("submission not confirmed by store")
)
