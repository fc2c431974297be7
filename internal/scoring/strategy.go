// Package scoring maps a question and a learner's answer to a score.
//
// A strategy either returns an authoritative score (zero included) or reports that the
// question needs a human grader.
package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/gema-grading/internal/models"
)

// ErrUnknownQuestionType is returned when no strategy exists for a question type.
var ErrUnknownQuestionType = errors.New("unknown question type")

// ErrInvalidAnswerKey indicates a question's answer key does not match its type.
var ErrInvalidAnswerKey = errors.New("invalid answer key")

// Strategy scores a single answer. graded is false when manual grading is required.
type Strategy interface {
	Score(question models.Question, answer models.Answer) (score float64, graded bool, err error)
}

// MultipleChoice awards the full score when the single selected option equals the key.
type MultipleChoice struct{}

func (MultipleChoice) Score(question models.Question, answer models.Answer) (float64, bool, error) {
	var key struct {
		Correct string `json:"correct"`
	}
	if err := decodeKey(question, multipleChoiceKeySchema, &key); err != nil {
		return 0, false, err
	}

	selected := normalizeOptions(answer.SelectedOptions)
	if len(selected) != 1 {
		return 0, true, nil
	}
	if selected[0] == strings.TrimSpace(key.Correct) {
		return question.MaxScore, true, nil
	}
	return 0, true, nil
}

// Checkbox awards the full score only on exact set equality between selection and key.
// Partial credit is not given.
type Checkbox struct{}

func (Checkbox) Score(question models.Question, answer models.Answer) (float64, bool, error) {
	var key struct {
		Correct []string `json:"correct"`
	}
	if err := decodeKey(question, checkboxKeySchema, &key); err != nil {
		return 0, false, err
	}

	expected := normalizeOptions(key.Correct)
	selected := normalizeOptions(answer.SelectedOptions)
	if len(expected) != len(selected) {
		return 0, true, nil
	}
	for i := range expected {
		if expected[i] != selected[i] {
			return 0, true, nil
		}
	}
	return question.MaxScore, true, nil
}

// Manual never scores; essays and file uploads go to an instructor.
type Manual struct{}

func (Manual) Score(models.Question, models.Answer) (float64, bool, error) {
	return 0, false, nil
}

// normalizeOptions trims, drops blanks, dedupes and sorts option identifiers.
func normalizeOptions(options []string) []string {
	seen := make(map[string]struct{}, len(options))
	result := make([]string, 0, len(options))
	for _, option := range options {
		trimmed := strings.TrimSpace(option)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	sort.Strings(result)
	return result
}

func decodeKey(question models.Question, schema keySchema, target interface{}) error {
	if len(question.AnswerKey) == 0 {
		return fmt.Errorf("%w: question %d has no answer key", ErrInvalidAnswerKey, question.ID)
	}
	if err := schema.validate(question.AnswerKey); err != nil {
		return fmt.Errorf("%w: question %d: %v", ErrInvalidAnswerKey, question.ID, err)
	}
	if err := json.Unmarshal(question.AnswerKey, target); err != nil {
		return fmt.Errorf("%w: question %d: %v", ErrInvalidAnswerKey, question.ID, err)
	}
	return nil
}
