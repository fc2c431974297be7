package models

import (
	"time"

	"gorm.io/datatypes"
)

// GradeStatus tracks whether a grade carries a final score.
type GradeStatus string

const (
	GradeStatusPending GradeStatus = "pending"
	GradeStatusGraded  GradeStatus = "graded"
)

// GradeSourceAssignment is the source type used for submission grades.
const GradeSourceAssignment = "assignment"

// Grade is a scored entry against a polymorphic source, usually an assignment submission.
//
// At most one non-draft grade exists per (source_type, source_id, submission_id), at most one
// submission-less grade per (source_type, source_id, user_id) and at most one draft per
// (submission_id, graded_by).
type Grade struct {
	ID             uint              `gorm:"primaryKey" json:"id"`
	SourceType     string            `gorm:"size:64;not null;uniqueIndex:idx_grades_final_target,where:is_draft = false;uniqueIndex:idx_grades_source_user,where:submission_id IS NULL AND is_draft = false" json:"source_type"`
	SourceID       uint              `gorm:"not null;uniqueIndex:idx_grades_final_target;uniqueIndex:idx_grades_source_user" json:"source_id"`
	SubmissionID   *uint             `gorm:"uniqueIndex:idx_grades_final_target;uniqueIndex:idx_grades_draft_owner,where:is_draft = true" json:"submission_id"`
	UserID         uint              `gorm:"not null;index;uniqueIndex:idx_grades_source_user" json:"user_id"`
	GradedBy       uint              `gorm:"not null;uniqueIndex:idx_grades_draft_owner" json:"graded_by"`
	Score          float64           `gorm:"not null;default:0" json:"score"`
	OriginalScore  *float64          `json:"original_score"`
	MaxScore       float64           `gorm:"not null;default:0" json:"max_score"`
	IsOverride     bool              `gorm:"not null;default:false" json:"is_override"`
	OverrideReason *string           `gorm:"type:text" json:"override_reason"`
	IsDraft        bool              `gorm:"not null;default:false" json:"is_draft"`
	PartialGrades  datatypes.JSONMap `json:"partial_grades,omitempty"`
	Feedback       *string           `gorm:"type:text" json:"feedback"`
	Status         GradeStatus       `gorm:"size:16;not null;default:pending" json:"status"`
	GradedAt       *time.Time        `json:"graded_at"`
	ReleasedAt     *time.Time        `json:"released_at"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// IsReleased reports whether the grade is visible to the student.
func (g Grade) IsReleased() bool {
	return g.ReleasedAt != nil
}

// Percentage returns the score as a percentage of the maximum, or zero when no maximum is set.
func (g Grade) Percentage() float64 {
	if g.MaxScore <= 0 {
		return 0
	}
	return g.Score / g.MaxScore * 100
}
