// Package events carries grading notifications from the core to side systems.
package events

import (
	"time"

	"github.com/noah-isme/gema-grading/internal/models"
)

// Kind names an event type on the wire.
type Kind string

const (
	KindSubmissionStateChanged Kind = "submission.state_changed"
	KindGradeRecalculated      Kind = "grade.recalculated"
	KindGradesReleased         Kind = "grades.released"
	KindOverrideGranted        Kind = "grade.override_granted"
)

// Event is implemented by every payload the core emits.
type Event interface {
	EventKind() Kind
}

// SubmissionStateChanged is emitted on every submission transition. ActorID is nil for system transitions.
type SubmissionStateChanged struct {
	SubmissionID uint                   `json:"submission_id"`
	OldState     models.SubmissionState `json:"old_state"`
	NewState     models.SubmissionState `json:"new_state"`
	ActorID      *uint                  `json:"actor_id"`
}

func (SubmissionStateChanged) EventKind() Kind { return KindSubmissionStateChanged }

// GradeRecalculated is emitted when an override changes the score of a released grade.
type GradeRecalculated struct {
	GradeID  uint    `json:"grade_id"`
	OldScore float64 `json:"old_score"`
	NewScore float64 `json:"new_score"`
}

func (GradeRecalculated) EventKind() Kind { return KindGradeRecalculated }

// GradesReleased is emitted after a single or bulk release completes.
type GradesReleased struct {
	GradeIDs []uint `json:"grade_ids"`
}

func (GradesReleased) EventKind() Kind { return KindGradesReleased }

// OverrideGranted is emitted for every successful override.
type OverrideGranted struct {
	GradeID uint `json:"grade_id"`
	ActorID uint `json:"actor_id"`
}

func (OverrideGranted) EventKind() Kind { return KindOverrideGranted }

// Envelope wraps an event with delivery metadata.
type Envelope struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	Source        string    `json:"source"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
	Payload       Event     `json:"payload"`
}
