package models

import (
	"time"

	"gorm.io/datatypes"
)

// Audit actions written by the grading services.
const (
	ActivityGradeRecorded     = "grade.recorded"
	ActivityGradeOverridden   = "grade.overridden"
	ActivityGradeReleased     = "grade.released"
	ActivityDraftSaved        = "grade.draft_saved"
	ActivityAppealSubmitted   = "appeal.submitted"
	ActivityAppealApproved    = "appeal.approved"
	ActivityAppealDenied      = "appeal.denied"
	ActivitySubmissionReturns = "submission.returned_to_queue"
)

// ActivityLog is the audit trail of grading decisions. ActorID is nil for system actions.
type ActivityLog struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	ActorID    *uint             `gorm:"index" json:"actor_id"`
	ActorRole  string            `gorm:"size:32;not null" json:"actor_role"`
	Action     string            `gorm:"size:64;not null;index" json:"action"`
	EntityType string            `gorm:"size:64;not null;index:idx_activity_entity,priority:1" json:"entity_type"`
	EntityID   *uint             `gorm:"index:idx_activity_entity,priority:2" json:"entity_id"`
	Metadata   datatypes.JSONMap `json:"metadata"`
	CreatedAt  time.Time         `gorm:"index" json:"created_at"`
}
