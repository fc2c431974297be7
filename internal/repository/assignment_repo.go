package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading/internal/models"
)

// AssignmentRepository is the grading core's read model of course assignments.
// Create exists for seeding; assignments are otherwise owned by the course subsystem.
type AssignmentRepository interface {
	GetByID(ctx context.Context, id uint) (models.Assignment, error)
	ListIDsByInstructor(ctx context.Context, instructorID uint) ([]uint, error)
	Create(ctx context.Context, assignment *models.Assignment) error
}

type assignmentRepository struct {
	db *gorm.DB
}

// NewAssignmentRepository returns the GORM read model.
func NewAssignmentRepository(db *gorm.DB) AssignmentRepository {
	return &assignmentRepository{db: db}
}

func taughtBy(instructorID uint) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("instructor_id = ?", instructorID)
	}
}

// GetByID returns gorm.ErrRecordNotFound for unknown ids.
func (r *assignmentRepository) GetByID(ctx context.Context, id uint) (models.Assignment, error) {
	var assignment models.Assignment
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&assignment).Error
	return assignment, err
}

// ListIDsByInstructor scopes the pending-appeal queue to the instructor's assignments.
func (r *assignmentRepository) ListIDsByInstructor(ctx context.Context, instructorID uint) ([]uint, error) {
	ids := make([]uint, 0)
	err := r.db.WithContext(ctx).
		Model(&models.Assignment{}).
		Scopes(taughtBy(instructorID)).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *assignmentRepository) Create(ctx context.Context, assignment *models.Assignment) error {
	return r.db.WithContext(ctx).Create(assignment).Error
}
