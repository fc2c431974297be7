package models

import (
	"time"

	"gorm.io/datatypes"
)

// QuestionType identifies the scoring behaviour of a question.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeCheckbox       QuestionType = "checkbox"
	QuestionTypeEssay          QuestionType = "essay"
	QuestionTypeFileUpload     QuestionType = "file_upload"
)

// Question is the read model of an assessment question supplied by the content subsystem.
type Question struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	AssignmentID uint           `gorm:"not null;index" json:"assignment_id"`
	Type         QuestionType   `gorm:"size:32;not null" json:"type"`
	Prompt       string         `gorm:"type:text" json:"prompt"`
	AnswerKey    datatypes.JSON `json:"answer_key"`
	MaxScore     float64        `gorm:"not null;default:0" json:"max_score"`
	Position     int            `gorm:"not null;default:0" json:"position"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Answer is a learner's response to a single question.
type Answer struct {
	ID              uint                        `gorm:"primaryKey" json:"id"`
	SubmissionID    uint                        `gorm:"not null;index" json:"submission_id"`
	QuestionID      uint                        `gorm:"not null;index" json:"question_id"`
	SelectedOptions datatypes.JSONSlice[string] `json:"selected_options"`
	FreeformPayload string                      `gorm:"type:text" json:"freeform_payload"`
	CreatedAt       time.Time                   `json:"created_at"`
	UpdatedAt       time.Time                   `json:"updated_at"`
}
