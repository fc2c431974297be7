package scoring

import (
	"fmt"

	"github.com/noah-isme/gema-grading/internal/models"
)

// Dispatcher selects a strategy solely by question type.
type Dispatcher struct{}

// NewDispatcher returns the question type dispatcher.
func NewDispatcher() Dispatcher {
	return Dispatcher{}
}

// StrategyFor returns the strategy for t or ErrUnknownQuestionType.
func (Dispatcher) StrategyFor(t models.QuestionType) (Strategy, error) {
	switch t {
	case models.QuestionTypeMultipleChoice:
		return MultipleChoice{}, nil
	case models.QuestionTypeCheckbox:
		return Checkbox{}, nil
	case models.QuestionTypeEssay, models.QuestionTypeFileUpload:
		return Manual{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownQuestionType, t)
	}
}

// Grade scores a single answer using the strategy for its question.
func (d Dispatcher) Grade(question models.Question, answer models.Answer) (float64, bool, error) {
	strategy, err := d.StrategyFor(question.Type)
	if err != nil {
		return 0, false, err
	}
	return strategy.Score(question, answer)
}

// Outcome summarises the auto-grading pass over a whole submission.
type Outcome struct {
	Score        float64
	MaxScore     float64
	ManualNeeded []uint
	PerQuestion  map[uint]float64
}

// RequiresManual reports whether at least one question needs a human grader.
func (o Outcome) RequiresManual() bool {
	return len(o.ManualNeeded) > 0
}

// GradeAll scores every question against the matching answer. Unanswered questions are
// scored as empty answers. The first configuration error aborts the pass.
func (d Dispatcher) GradeAll(questions []models.Question, answers []models.Answer) (Outcome, error) {
	byQuestion := make(map[uint]models.Answer, len(answers))
	for _, answer := range answers {
		byQuestion[answer.QuestionID] = answer
	}

	outcome := Outcome{PerQuestion: make(map[uint]float64, len(questions))}
	for _, question := range questions {
		outcome.MaxScore += question.MaxScore

		answer, ok := byQuestion[question.ID]
		if !ok {
			answer = models.Answer{QuestionID: question.ID}
		}

		score, graded, err := d.Grade(question, answer)
		if err != nil {
			return Outcome{}, err
		}
		if !graded {
			outcome.ManualNeeded = append(outcome.ManualNeeded, question.ID)
			continue
		}
		outcome.PerQuestion[question.ID] = score
		outcome.Score += score
	}

	return outcome, nil
}
