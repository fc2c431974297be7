package models

import (
	"time"

	"gorm.io/datatypes"
)

// AppealStatus is the decision state of an appeal.
type AppealStatus string

const (
	AppealStatusPending  AppealStatus = "pending"
	AppealStatusApproved AppealStatus = "approved"
	AppealStatusDenied   AppealStatus = "denied"
)

// Appeal is a student's request to re-examine a released grade.
type Appeal struct {
	ID                  uint                        `gorm:"primaryKey" json:"id"`
	SubmissionID        uint                        `gorm:"not null;index" json:"submission_id"`
	StudentID           uint                        `gorm:"not null;index" json:"student_id"`
	ReviewerID          *uint                       `json:"reviewer_id"`
	Reason              string                      `gorm:"type:text;not null" json:"reason"`
	SupportingDocuments datatypes.JSONSlice[string] `json:"supporting_documents"`
	Status              AppealStatus                `gorm:"size:16;not null;default:pending;index" json:"status"`
	DecisionReason      *string                     `gorm:"type:text" json:"decision_reason"`
	NewScore            *float64                    `json:"new_score"`
	SubmittedAt         time.Time                   `gorm:"not null" json:"submitted_at"`
	DecidedAt           *time.Time                  `json:"decided_at"`
	CreatedAt           time.Time                   `json:"created_at"`
	UpdatedAt           time.Time                   `json:"updated_at"`
}

// IsPending reports whether the appeal still awaits a decision.
func (a Appeal) IsPending() bool {
	return a.Status == AppealStatusPending
}
