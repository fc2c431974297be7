package dto

import "time"

// GradebookEntry is a released grade as seen by the student.
type GradebookEntry struct {
	GradeID     uint      `json:"grade_id"`
	SourceType  string    `json:"source_type"`
	SourceID    uint      `json:"source_id"`
	Score       float64   `json:"score"`
	MaxScore    float64   `json:"max_score"`
	IsOverride  bool      `json:"is_override"`
	ReleasedAt  time.Time `json:"released_at"`
	Percentage  float64   `json:"percentage"`
	HasFeedback bool      `json:"has_feedback"`
}

// GradebookSummary aggregates released, non-draft grades for a student.
type GradebookSummary struct {
	UserID      uint             `json:"user_id"`
	SourceID    *uint            `json:"source_id,omitempty"`
	TotalScore  float64          `json:"total_score"`
	TotalMax    float64          `json:"total_max"`
	Percentage  float64          `json:"percentage"`
	Entries     []GradebookEntry `json:"entries"`
	GeneratedAt time.Time        `json:"generated_at"`
	CacheHit    bool             `json:"cache_hit"`
}
