package app

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"quiz-assessment-service/internal/domain"
)

var validate = validator.New()

// QuestionBank is a frozen, indexed copy of a quiz's questions.
type QuestionBank struct {
	quiz  domain.Quiz
	index map[string]int
}

// NewQuestionBank validates the quiz and takes a deep copy so later edits to the
// caller's value cannot leak into a running attempt.
func NewQuestionBank(quiz domain.Quiz) (*QuestionBank, error) {
	if err := validate.Struct(quiz); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidQuiz, err)
	}

	frozen := quiz
	frozen.Questions = make([]domain.Question, len(quiz.Questions))
	index := make(map[string]int, len(quiz.Questions))
	for i, q := range quiz.Questions {
		if _, dup := index[q.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate question %q", domain.ErrInvalidQuiz, q.ID)
		}
		if err := checkQuestion(q); err != nil {
			return nil, fmt.Errorf("%w: question %q: %v", domain.ErrInvalidQuiz, q.ID, err)
		}
		q.Options = append([]domain.Option(nil), q.Options...)
		frozen.Questions[i] = q
		index[q.ID] = i
	}
	return &QuestionBank{quiz: frozen, index: index}, nil
}

func checkQuestion(q domain.Question) error {
	switch q.Type {
	case domain.SingleChoice:
		if len(q.Options) < 2 {
			return fmt.Errorf("single choice needs at least 2 options, got %d", len(q.Options))
		}
		correct := 0
		seen := make(map[string]struct{}, len(q.Options))
		for _, opt := range q.Options {
			if _, dup := seen[opt.ID]; dup {
				return fmt.Errorf("duplicate option %q", opt.ID)
			}
			seen[opt.ID] = struct{}{}
			if opt.Correct {
				correct++
			}
		}
		if correct != 1 {
			return fmt.Errorf("exactly one option must be correct, got %d", correct)
		}
	case domain.Boolean:
		if len(q.Options) > 0 {
			return fmt.Errorf("boolean question must not have options")
		}
		if q.Answer != domain.True && q.Answer != domain.False {
			return fmt.Errorf("boolean answer must be %q or %q, got %q", domain.True, domain.False, q.Answer)
		}
	case domain.FreeText:
		if len(q.Options) > 0 {
			return fmt.Errorf("free text question must not have options")
		}
	default:
		return fmt.Errorf("unknown question type %q", q.Type)
	}
	return nil
}

// Quiz returns the frozen quiz.
func (b *QuestionBank) Quiz() domain.Quiz {
	return b.quiz
}

// Questions returns questions in authoring order.
func (b *QuestionBank) Questions() []domain.Question {
	return b.quiz.Questions
}

// Question looks up a question by id.
func (b *QuestionBank) Question(id string) (domain.Question, bool) {
	i, ok := b.index[id]
	if !ok {
		return domain.Question{}, false
	}
	return b.quiz.Questions[i], true
}

// TotalPossible sums question points; the quiz's TotalPoints field is not trusted.
func (b *QuestionBank) TotalPossible() int {
	total := 0
	for _, q := range b.quiz.Questions {
		total += q.Points
	}
	return total
}

// Len is the number of questions.
func (b *QuestionBank) Len() int {
	return len(b.quiz.Questions)
}

// validatePayload checks that the payload shape matches the question type.
func (b *QuestionBank) validatePayload(questionID string, payload domain.AnswerPayload) (domain.Answer, error) {
	q, ok := b.Question(questionID)
	if !ok {
		return domain.Answer{}, domain.ErrQuestionNotFound
	}
	answer := domain.Answer{QuestionID: questionID}
	switch q.Type {
	case domain.SingleChoice:
		if payload.OptionID == "" || payload.Text != "" {
			return domain.Answer{}, fmt.Errorf("%w: %s expects an option id", domain.ErrInvalidAnswer, q.Type)
		}
		if _, found := findOption(q, payload.OptionID); !found {
			return domain.Answer{}, domain.ErrOptionNotFound
		}
		answer.OptionID = payload.OptionID
	case domain.Boolean:
		if payload.OptionID != "" || (payload.Text != domain.True && payload.Text != domain.False) {
			return domain.Answer{}, fmt.Errorf("%w: %s expects %q or %q", domain.ErrInvalidAnswer, q.Type, domain.True, domain.False)
		}
		answer.Text = payload.Text
	case domain.FreeText:
		if payload.OptionID != "" {
			return domain.Answer{}, fmt.Errorf("%w: %s expects text", domain.ErrInvalidAnswer, q.Type)
		}
		answer.Text = payload.Text
	default:
		return domain.Answer{}, fmt.Errorf("%w: unknown question type %q", domain.ErrInvalidAnswer, q.Type)
	}
	return answer, nil
}

func findOption(q domain.Question, optionID string) (domain.Option, bool) {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return opt, true
		}
	}
	return domain.Option{}, false
}
