package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading/internal/models"
)

// AppealRepository persists grade appeals.
type AppealRepository interface {
	Create(ctx context.Context, appeal *models.Appeal) error
	GetByID(ctx context.Context, id uint) (models.Appeal, error)
	GetByIDForUpdate(ctx context.Context, id uint) (models.Appeal, error)
	Save(ctx context.Context, appeal *models.Appeal) error
	HasPending(ctx context.Context, submissionID uint) (bool, error)
	ListPendingByAssignments(ctx context.Context, assignmentIDs []uint) ([]models.Appeal, error)
	ListByStudent(ctx context.Context, studentID uint) ([]models.Appeal, error)
}

type appealRepository struct {
	db *gorm.DB
}

// NewAppealRepository instantiates the repository.
func NewAppealRepository(db *gorm.DB) AppealRepository {
	return &appealRepository{db: db}
}

func (r *appealRepository) Create(ctx context.Context, appeal *models.Appeal) error {
	return r.db.WithContext(ctx).Create(appeal).Error
}

func (r *appealRepository) GetByID(ctx context.Context, id uint) (models.Appeal, error) {
	var appeal models.Appeal
	if err := r.db.WithContext(ctx).First(&appeal, id).Error; err != nil {
		return models.Appeal{}, err
	}
	return appeal, nil
}

func (r *appealRepository) GetByIDForUpdate(ctx context.Context, id uint) (models.Appeal, error) {
	var appeal models.Appeal
	if err := forUpdate(r.db.WithContext(ctx)).First(&appeal, id).Error; err != nil {
		return models.Appeal{}, err
	}
	return appeal, nil
}

func (r *appealRepository) Save(ctx context.Context, appeal *models.Appeal) error {
	return r.db.WithContext(ctx).Save(appeal).Error
}

func (r *appealRepository) HasPending(ctx context.Context, submissionID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Appeal{}).
		Where("submission_id = ? AND status = ?", submissionID, models.AppealStatusPending).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *appealRepository) ListPendingByAssignments(ctx context.Context, assignmentIDs []uint) ([]models.Appeal, error) {
	if len(assignmentIDs) == 0 {
		return []models.Appeal{}, nil
	}

	var appeals []models.Appeal
	err := r.db.WithContext(ctx).
		Joins("JOIN submissions ON submissions.id = appeals.submission_id").
		Where("appeals.status = ? AND submissions.assignment_id IN ?", models.AppealStatusPending, assignmentIDs).
		Order("appeals.submitted_at ASC").
		Find(&appeals).Error
	if err != nil {
		return nil, err
	}
	return appeals, nil
}

func (r *appealRepository) ListByStudent(ctx context.Context, studentID uint) ([]models.Appeal, error) {
	var appeals []models.Appeal
	err := r.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("submitted_at DESC").
		Find(&appeals).Error
	if err != nil {
		return nil, err
	}
	return appeals, nil
}
