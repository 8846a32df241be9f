package app

import "quiz-assessment-service/internal/domain"

// PresentQuiz strips scoring keys so the quiz can be shown to a student.
func PresentQuiz(quiz domain.Quiz) domain.Quiz {
	out := quiz
	out.Questions = make([]domain.Question, len(quiz.Questions))
	for i, q := range quiz.Questions {
		q.Answer = ""
		q.Explanation = ""
		opts := make([]domain.Option, len(q.Options))
		for j, o := range q.Options {
			opts[j] = domain.Option{ID: o.ID, Text: o.Text}
		}
		q.Options = opts
		out.Questions[i] = q
	}
	return out
}

// PresentAttempt hides per-answer grading unless the quiz shows results
// immediately. Totals stay visible either way.
func PresentAttempt(quiz domain.Quiz, attempt domain.Attempt) domain.Attempt {
	if quiz.ShowResults {
		return attempt
	}
	answers := make([]domain.Answer, len(attempt.Answers))
	for i, a := range attempt.Answers {
		answers[i] = domain.Answer{QuestionID: a.QuestionID, OptionID: a.OptionID, Text: a.Text}
	}
	attempt.Answers = answers
	return attempt
}
