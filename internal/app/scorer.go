package app

import "quiz-assessment-service/internal/domain"

// QuestionResult is the graded outcome of one question, answered or not.
type QuestionResult struct {
	QuestionID string `json:"questionId"`
	Answered   bool   `json:"answered"`
	Correct    *bool  `json:"correct"`
	Awarded    int    `json:"awarded"`
	Possible   int    `json:"possible"`
}

// Scorecard is the per-attempt result of ScoreAttempt.
type Scorecard struct {
	Results       []QuestionResult
	Answers       []domain.Answer
	Score         int
	TotalPossible int
	Pending       int
}

// ScoreAnswer grades one answer. A nil answer means the question was skipped.
func ScoreAnswer(q domain.Question, answer *domain.Answer) QuestionResult {
	res := QuestionResult{QuestionID: q.ID, Answered: answer != nil, Possible: q.Points}

	var correct bool
	switch q.Type {
	case domain.SingleChoice:
		if answer != nil {
			if opt, ok := findOption(q, answer.OptionID); ok {
				correct = opt.Correct
			}
		}
	case domain.Boolean:
		correct = answer != nil && answer.OptionID == "" && answer.Text == q.Answer
	case domain.FreeText:
		// Pending review whether answered or not; points stay 0 until graded.
		return res
	}

	res.Correct = &correct
	if correct {
		res.Awarded = q.Points
	}
	return res
}

// ScoreAttempt grades every question in the bank against the captured answers.
func ScoreAttempt(bank *QuestionBank, answers map[string]domain.Answer) Scorecard {
	card := Scorecard{
		Results:       make([]QuestionResult, 0, bank.Len()),
		TotalPossible: bank.TotalPossible(),
	}
	for _, q := range bank.Questions() {
		var res QuestionResult
		if a, ok := answers[q.ID]; ok {
			res = ScoreAnswer(q, &a)
			a.Correct = res.Correct
			a.Awarded = res.Awarded
			card.Answers = append(card.Answers, a)
		} else {
			res = ScoreAnswer(q, nil)
		}
		if res.Correct == nil {
			card.Pending++
		}
		card.Score += res.Awarded
		card.Results = append(card.Results, res)
	}
	return card
}

// Grade is a reviewer's out-of-band decision on a pending answer.
type Grade struct {
	QuestionID string `json:"questionId"`
	Correct    bool   `json:"correct"`
	Awarded    int    `json:"awarded"`
}

// ApplyGrades folds manual grades into a submitted attempt and recomputes its
// totals and outcome. Awarded points are clamped to the question's value.
// Grades for unknown questions are ignored.
func ApplyGrades(bank *QuestionBank, attempt domain.Attempt, grades []Grade) domain.Attempt {
	byQuestion := make(map[string]int, len(attempt.Answers))
	answers := append([]domain.Answer(nil), attempt.Answers...)
	for i, a := range answers {
		byQuestion[a.QuestionID] = i
	}

	for _, g := range grades {
		q, ok := bank.Question(g.QuestionID)
		if !ok {
			continue
		}
		awarded := g.Awarded
		if awarded < 0 {
			awarded = 0
		}
		if awarded > q.Points {
			awarded = q.Points
		}
		correct := g.Correct
		if i, ok := byQuestion[g.QuestionID]; ok {
			answers[i].Correct = &correct
			answers[i].Awarded = awarded
		} else {
			byQuestion[g.QuestionID] = len(answers)
			answers = append(answers, domain.Answer{QuestionID: g.QuestionID, Correct: &correct, Awarded: awarded})
		}
	}

	attempt.Answers = answers
	attempt.Score = 0
	attempt.PendingReview = 0
	attempt.TotalPossible = bank.TotalPossible()
	for _, q := range bank.Questions() {
		i, ok := byQuestion[q.ID]
		if !ok {
			if q.Type == domain.FreeText {
				attempt.PendingReview++
			}
			continue
		}
		if answers[i].Pending() {
			attempt.PendingReview++
		}
		attempt.Score += answers[i].Awarded
	}
	attempt.Passed = Passed(attempt.Score, attempt.TotalPossible, bank.Quiz().PassingThreshold)
	return attempt
}
