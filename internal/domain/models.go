package domain

import "time"

// QuestionType discriminates the question variants the scorer understands.
type QuestionType string

const (
	SingleChoice QuestionType = "single_choice"
	Boolean      QuestionType = "boolean"
	FreeText     QuestionType = "free_text"
)

// Canonical literals for boolean questions.
const (
	True  = "True"
	False = "False"
)

// Option represents a possible answer for a single-choice question.
type Option struct {
	ID      string `json:"id" validate:"required"`
	Text    string `json:"text"`
	Correct bool   `json:"correct,omitempty"`
}

// Question is a tagged variant: Type decides which of Options/Answer is meaningful.
type Question struct {
	ID          string       `json:"id" validate:"required"`
	Text        string       `json:"text" validate:"required"`
	Type        QuestionType `json:"type" validate:"required,oneof=single_choice boolean free_text"`
	Points      int          `json:"points" validate:"gte=0"`
	Options     []Option     `json:"options,omitempty" validate:"dive"`
	Answer      string       `json:"answer,omitempty"` // canonical (boolean) or model answer (free text)
	Explanation string       `json:"explanation,omitempty"`
}

// Quiz is an ordered collection of questions plus attempt policy.
type Quiz struct {
	ID               string     `json:"id" validate:"required"`
	Title            string     `json:"title"`
	Questions        []Question `json:"questions" validate:"dive"`
	TotalPoints      int        `json:"totalPoints"`
	PassingThreshold float64    `json:"passingThreshold" validate:"gte=0"`
	TimeLimitMinutes int        `json:"timeLimitMinutes,omitempty" validate:"gte=0"` // 0 means unlimited
	MaxAttempts      int        `json:"maxAttempts" validate:"gte=0"`
	ShowResults      bool       `json:"showResults"`
	OpensAt          *time.Time `json:"opensAt,omitempty"`
	ClosesAt         *time.Time `json:"closesAt,omitempty"`
}

// Timed reports whether attempts run under a countdown.
func (q Quiz) Timed() bool {
	return q.TimeLimitMinutes > 0
}

// Student is the caller identity passed explicitly into Start.
type Student struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// AnswerPayload is what a client sends for one question.
type AnswerPayload struct {
	OptionID string `json:"optionId,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Answer is a captured answer, graded once the attempt is submitted.
// Correct is nil while the answer awaits manual review.
type Answer struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId,omitempty"`
	Text       string `json:"text,omitempty"`
	Correct    *bool  `json:"correct"`
	Awarded    int    `json:"awarded"`
}

// Pending reports whether the answer still needs a human grade.
func (a Answer) Pending() bool {
	return a.Correct == nil
}

// Attempt is one student's run through a quiz.
type Attempt struct {
	ID            string     `json:"id"`
	QuizID        string     `json:"quizId"`
	StudentID     string     `json:"studentId"`
	StudentName   string     `json:"studentName"`
	Number        int        `json:"number"`
	StartedAt     time.Time  `json:"startedAt"`
	SubmittedAt   *time.Time `json:"submittedAt,omitempty"`
	Answers       []Answer   `json:"answers"`
	Score         int        `json:"score"`
	TotalPossible int        `json:"totalPossible"`
	PendingReview int        `json:"pendingReview"`
	Passed        bool       `json:"passed"`
	AutoSubmitted bool       `json:"autoSubmitted"`
	Confirmed     bool       `json:"confirmed"`
}

// Submitted reports whether the attempt has been finalized.
func (a Attempt) Submitted() bool {
	return a.SubmittedAt != nil
}

// LeaderboardEntry is one student's best attempt.
type LeaderboardEntry struct {
	StudentID   string `json:"studentId"`
	DisplayName string `json:"displayName"`
	BestScore   int    `json:"bestScore"`
	AttemptID   string `json:"attemptId"`
}

// Summary captures the instructor-facing aggregate for a quiz.
type Summary struct {
	QuizID         string             `json:"quizId" yaml:"quizId"`
	Count          int                `json:"count" yaml:"count"`
	UniqueStudents int                `json:"uniqueStudents" yaml:"uniqueStudents"`
	AverageScore   float64            `json:"averageScore" yaml:"averageScore"`
	PassRate       float64            `json:"passRate" yaml:"passRate"`
	Best           []LeaderboardEntry `json:"best" yaml:"best"`
}
