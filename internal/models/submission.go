package models

import "time"

// SubmissionState is the lifecycle state of a submission.
type SubmissionState string

const (
	SubmissionStateDraft                SubmissionState = "draft"
	SubmissionStateSubmitted            SubmissionState = "submitted"
	SubmissionStateAutoGraded           SubmissionState = "auto_graded"
	SubmissionStatePendingManualGrading SubmissionState = "pending_manual_grading"
	SubmissionStateGraded               SubmissionState = "graded"
	SubmissionStateReleased             SubmissionState = "released"
	SubmissionStateReturnedToQueue      SubmissionState = "returned_to_queue"
)

var submissionTransitions = map[SubmissionState][]SubmissionState{
	SubmissionStateDraft:                {SubmissionStateSubmitted},
	SubmissionStateSubmitted:            {SubmissionStateAutoGraded, SubmissionStatePendingManualGrading},
	SubmissionStateAutoGraded:           {SubmissionStateGraded},
	SubmissionStatePendingManualGrading: {SubmissionStateGraded},
	SubmissionStateGraded:               {SubmissionStateReleased},
	SubmissionStateReleased:             {SubmissionStateReturnedToQueue},
	SubmissionStateReturnedToQueue:      {SubmissionStateGraded},
}

// CanTransition reports whether the lifecycle permits moving from s to next.
func (s SubmissionState) CanTransition(next SubmissionState) bool {
	for _, candidate := range submissionTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known state.
func (s SubmissionState) Valid() bool {
	_, ok := submissionTransitions[s]
	return ok
}

// Submission is a learner's attempt at an assignment.
type Submission struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	AssignmentID uint            `gorm:"not null;index" json:"assignment_id"`
	UserID       uint            `gorm:"not null;index" json:"user_id"`
	State        SubmissionState `gorm:"size:32;not null;default:draft;index" json:"state"`
	Score        *float64        `json:"score"`
	IsLate       bool            `gorm:"not null;default:false" json:"is_late"`
	SubmittedAt  *time.Time      `json:"submitted_at"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Answers      []Answer        `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"answers,omitempty"`
}

// IsGraded reports whether the submission carries a finalised score.
func (s Submission) IsGraded() bool {
	return s.State == SubmissionStateGraded || s.State == SubmissionStateReleased
}

// SubmissionStateEvent is an append-only record of a single state transition.
type SubmissionStateEvent struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	SubmissionID uint            `gorm:"not null;index" json:"submission_id"`
	FromState    SubmissionState `gorm:"size:32;not null" json:"from_state"`
	ToState      SubmissionState `gorm:"size:32;not null" json:"to_state"`
	ActorID      *uint           `json:"actor_id"`
	CreatedAt    time.Time       `json:"created_at"`
}
