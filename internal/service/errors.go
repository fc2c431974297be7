package service

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading/internal/models"
	"github.com/noah-isme/gema-grading/internal/scoring"
)

// ErrorKind classifies every failure the grading core returns.
type ErrorKind string

const (
	KindValidation        ErrorKind = "ValidationError"
	KindInvalidState      ErrorKind = "InvalidStateError"
	KindInvalidTransition ErrorKind = "InvalidTransitionError"
	KindConflict          ErrorKind = "ConflictError"
	KindNotFound          ErrorKind = "NotFoundError"
	KindConfiguration     ErrorKind = "ConfigurationError"
	KindInternal          ErrorKind = "InternalError"
)

var (
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState indicates the operation is not legal in the entity's current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidTransition indicates an edge missing from the submission lifecycle.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrConflict indicates a uniqueness or ordering violation.
	ErrConflict = errors.New("conflict")
	// ErrNotFound indicates a referenced entity is absent.
	ErrNotFound = errors.New("not found")
	// ErrConfiguration indicates a fatal, non-retryable setup problem such as an unknown question type.
	ErrConfiguration = errors.New("configuration error")
)

// TransitionError carries the rejected (from, to) pair.
type TransitionError struct {
	SubmissionID uint
	From         models.SubmissionState
	To           models.SubmissionState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("submission %d: cannot transition from %s to %s", e.SubmissionID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func newError(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// notFound translates gorm.ErrRecordNotFound into ErrNotFound and passes other errors through.
func notFound(err error, entity string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newError(ErrNotFound, "%s %d", entity, id)
	}
	return err
}

// KindOf reports the kind of err. Unclassified errors are KindInternal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrConflict), errors.Is(err, gorm.ErrDuplicatedKey):
		return KindConflict
	case errors.Is(err, ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return KindNotFound
	case errors.Is(err, ErrConfiguration),
		errors.Is(err, scoring.ErrUnknownQuestionType),
		errors.Is(err, scoring.ErrInvalidAnswerKey):
		return KindConfiguration
	default:
		return KindInternal
	}
}
