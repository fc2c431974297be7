package dto

import (
	"time"

	"github.com/noah-isme/gema-grading/internal/models"
)

// AppealCreateRequest is submitted by a student contesting a released grade.
type AppealCreateRequest struct {
	SubmissionID        uint     `json:"submission_id" validate:"required,gt=0"`
	Reason              string   `json:"reason" validate:"required,min=3,max=5000"`
	SupportingDocuments []string `json:"supporting_documents" validate:"omitempty,max=10,dive,url"`
}

// AppealApproveRequest carries the reviewer's decision and the replacement score.
type AppealApproveRequest struct {
	DecisionReason string  `json:"decision_reason" validate:"required,min=3,max=2000"`
	NewScore       float64 `json:"new_score" validate:"gte=0"`
}

// AppealDenyRequest carries the reviewer's reason for denial.
type AppealDenyRequest struct {
	DecisionReason string `json:"decision_reason" validate:"required,min=3,max=2000"`
}

// AppealResponse serializes an appeal.
type AppealResponse struct {
	ID                  uint       `json:"id"`
	SubmissionID        uint       `json:"submission_id"`
	StudentID           uint       `json:"student_id"`
	ReviewerID          *uint      `json:"reviewer_id"`
	Reason              string     `json:"reason"`
	SupportingDocuments []string   `json:"supporting_documents"`
	Status              string     `json:"status"`
	DecisionReason      *string    `json:"decision_reason"`
	NewScore            *float64   `json:"new_score"`
	SubmittedAt         time.Time  `json:"submitted_at"`
	DecidedAt           *time.Time `json:"decided_at"`
}

// AppealDecisionResponse pairs an approved appeal with the overridden grade.
type AppealDecisionResponse struct {
	Appeal AppealResponse `json:"appeal"`
	Grade  GradeResponse  `json:"grade"`
}

// NewAppealResponse converts an appeal model into a DTO.
func NewAppealResponse(model models.Appeal) AppealResponse {
	documents := []string(model.SupportingDocuments)
	if documents == nil {
		documents = []string{}
	}
	return AppealResponse{
		ID:                  model.ID,
		SubmissionID:        model.SubmissionID,
		StudentID:           model.StudentID,
		ReviewerID:          model.ReviewerID,
		Reason:              model.Reason,
		SupportingDocuments: documents,
		Status:              string(model.Status),
		DecisionReason:      model.DecisionReason,
		NewScore:            model.NewScore,
		SubmittedAt:         model.SubmittedAt,
		DecidedAt:           model.DecidedAt,
	}
}

// NewAppealResponses converts a list of appeals.
func NewAppealResponses(appeals []models.Appeal) []AppealResponse {
	items := make([]AppealResponse, 0, len(appeals))
	for _, appeal := range appeals {
		items = append(items, NewAppealResponse(appeal))
	}
	return items
}
