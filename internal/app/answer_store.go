package app

import "quiz-assessment-service/internal/domain"

// AnswerStore holds the current answer per question for one attempt.
// It is not safe for concurrent use; AttemptSession serializes access.
type AnswerStore struct {
	answers map[string]domain.Answer
}

func NewAnswerStore() *AnswerStore {
	return &AnswerStore{answers: make(map[string]domain.Answer)}
}

// Put replaces any earlier answer for the same question.
func (s *AnswerStore) Put(answer domain.Answer) {
	s.answers[answer.QuestionID] = answer
}

func (s *AnswerStore) Has(questionID string) bool {
	_, ok := s.answers[questionID]
	return ok
}

// Snapshot copies the answers so scoring never observes later mutation.
func (s *AnswerStore) Snapshot() map[string]domain.Answer {
	out := make(map[string]domain.Answer, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}
