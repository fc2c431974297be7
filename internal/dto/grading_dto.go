package dto

import (
	"time"

	"github.com/noah-isme/gema-grading/internal/models"
)

// FinalizeSubmissionRequest captures a manual grade for a submission.
type FinalizeSubmissionRequest struct {
	Score    float64 `json:"score" validate:"gte=0"`
	MaxScore float64 `json:"max_score" validate:"gte=0"`
	Feedback *string `json:"feedback" validate:"omitempty,max=5000"`
}

// DraftGradeRequest replaces the grader's draft for a submission.
type DraftGradeRequest struct {
	PartialGrades map[string]interface{} `json:"partial_grades" validate:"required"`
	Feedback      *string                `json:"feedback" validate:"omitempty,max=5000"`
}

// OverrideGradeRequest changes the score of an existing grade.
type OverrideGradeRequest struct {
	Score  float64 `json:"score" validate:"gte=0"`
	Reason string  `json:"reason" validate:"required,min=3,max=2000"`
}

// GradeFeedbackRequest sets feedback on one grade.
type GradeFeedbackRequest struct {
	Feedback string `json:"feedback" validate:"required,max=5000"`
}

// BulkReleaseRequest lists grades to release.
type BulkReleaseRequest struct {
	GradeIDs []uint `json:"grade_ids" validate:"required,min=1,max=500,dive,gt=0"`
}

// BulkFeedbackRequest applies the same feedback to many grades.
type BulkFeedbackRequest struct {
	GradeIDs []uint `json:"grade_ids" validate:"required,min=1,max=500,dive,gt=0"`
	Feedback string `json:"feedback" validate:"required,max=5000"`
}

// GradeResponse serializes a grade for instructors.
type GradeResponse struct {
	ID             uint                   `json:"id"`
	SourceType     string                 `json:"source_type"`
	SourceID       uint                   `json:"source_id"`
	SubmissionID   *uint                  `json:"submission_id"`
	UserID         uint                   `json:"user_id"`
	GradedBy       uint                   `json:"graded_by"`
	Score          float64                `json:"score"`
	OriginalScore  *float64               `json:"original_score"`
	MaxScore       float64                `json:"max_score"`
	Percentage     float64                `json:"percentage"`
	IsOverride     bool                   `json:"is_override"`
	OverrideReason *string                `json:"override_reason"`
	IsDraft        bool                   `json:"is_draft"`
	PartialGrades  map[string]interface{} `json:"partial_grades,omitempty"`
	Feedback       *string                `json:"feedback"`
	Status         string                 `json:"status"`
	GradedAt       *time.Time             `json:"graded_at"`
	ReleasedAt     *time.Time             `json:"released_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// NewGradeResponse converts a grade model into a DTO.
func NewGradeResponse(model models.Grade) GradeResponse {
	response := GradeResponse{
		ID:             model.ID,
		SourceType:     model.SourceType,
		SourceID:       model.SourceID,
		SubmissionID:   model.SubmissionID,
		UserID:         model.UserID,
		GradedBy:       model.GradedBy,
		Score:          model.Score,
		OriginalScore:  model.OriginalScore,
		MaxScore:       model.MaxScore,
		Percentage:     model.Percentage(),
		IsOverride:     model.IsOverride,
		OverrideReason: model.OverrideReason,
		IsDraft:        model.IsDraft,
		Feedback:       model.Feedback,
		Status:         string(model.Status),
		GradedAt:       model.GradedAt,
		ReleasedAt:     model.ReleasedAt,
		UpdatedAt:      model.UpdatedAt,
	}
	if model.IsDraft && model.PartialGrades != nil {
		response.PartialGrades = map[string]interface{}(model.PartialGrades)
	}
	return response
}

// SubmissionStateResponse serializes the lifecycle view of a submission.
type SubmissionStateResponse struct {
	ID           uint       `json:"id"`
	AssignmentID uint       `json:"assignment_id"`
	UserID       uint       `json:"user_id"`
	State        string     `json:"state"`
	Score        *float64   `json:"score"`
	IsLate       bool       `json:"is_late"`
	SubmittedAt  *time.Time `json:"submitted_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewSubmissionStateResponse converts a submission model into a DTO.
func NewSubmissionStateResponse(model models.Submission) SubmissionStateResponse {
	return SubmissionStateResponse{
		ID:           model.ID,
		AssignmentID: model.AssignmentID,
		UserID:       model.UserID,
		State:        string(model.State),
		Score:        model.Score,
		IsLate:       model.IsLate,
		SubmittedAt:  model.SubmittedAt,
		UpdatedAt:    model.UpdatedAt,
	}
}

// AutoGradeResponse reports an auto-grading pass.
type AutoGradeResponse struct {
	Submission      SubmissionStateResponse `json:"submission"`
	Grade           *GradeResponse          `json:"grade,omitempty"`
	Score           float64                 `json:"score"`
	MaxScore        float64                 `json:"max_score"`
	ManualQuestions []uint                  `json:"manual_questions"`
}

// FinalizeResponse pairs a graded submission with its grade.
type FinalizeResponse struct {
	Submission SubmissionStateResponse `json:"submission"`
	Grade      GradeResponse           `json:"grade"`
}

// StateEventResponse serializes one lifecycle transition.
type StateEventResponse struct {
	ID        uint      `json:"id"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	ActorID   *uint     `json:"actor_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewStateEventResponses converts lifecycle history into DTOs.
func NewStateEventResponses(history []models.SubmissionStateEvent) []StateEventResponse {
	items := make([]StateEventResponse, 0, len(history))
	for _, event := range history {
		items = append(items, StateEventResponse{
			ID:        event.ID,
			FromState: string(event.FromState),
			ToState:   string(event.ToState),
			ActorID:   event.ActorID,
			CreatedAt: event.CreatedAt,
		})
	}
	return items
}

// BatchFailureResponse describes one failed item of a bulk operation.
type BatchFailureResponse struct {
	ID        uint   `json:"id"`
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

// BatchReportResponse serializes a bulk operation result.
type BatchReportResponse struct {
	Succeeded []uint                 `json:"succeeded"`
	Failed    []BatchFailureResponse `json:"failed"`
}
