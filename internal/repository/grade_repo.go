package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading/internal/models"
)

// GradeTarget identifies the slot a finalised grade occupies. Without a submission
// the slot is per user, so UserID is part of the key.
type GradeTarget struct {
	SourceType   string
	SourceID     uint
	SubmissionID *uint
	UserID       uint
}

// GradeFilter narrows rollup queries.
type GradeFilter struct {
	UserID     uint
	SourceType string
	SourceID   *uint
}

// GradeRepository persists grades. The ForUpdate variants lock the row until the
// surrounding transaction ends.
type GradeRepository interface {
	GetByID(ctx context.Context, id uint) (models.Grade, error)
	GetByIDForUpdate(ctx context.Context, id uint) (models.Grade, error)
	FindFinalForUpdate(ctx context.Context, target GradeTarget) (models.Grade, error)
	FindFinalBySubmission(ctx context.Context, submissionID uint) (models.Grade, error)
	FindDraftForUpdate(ctx context.Context, submissionID, gradedBy uint) (models.Grade, error)
	Create(ctx context.Context, grade *models.Grade) error
	Save(ctx context.Context, grade *models.Grade) error
	ListReleased(ctx context.Context, filter GradeFilter) ([]models.Grade, error)
	ListByIDs(ctx context.Context, ids []uint) ([]models.Grade, error)
}

type gradeRepository struct {
	db *gorm.DB
}

// NewGradeRepository builds a grade repository outside of any transaction.
func NewGradeRepository(db *gorm.DB) GradeRepository {
	return &gradeRepository{db: db}
}

func (r *gradeRepository) GetByID(ctx context.Context, id uint) (models.Grade, error) {
	var grade models.Grade
	if err := r.db.WithContext(ctx).First(&grade, id).Error; err != nil {
		return models.Grade{}, err
	}
	return grade, nil
}

func (r *gradeRepository) GetByIDForUpdate(ctx context.Context, id uint) (models.Grade, error) {
	var grade models.Grade
	if err := forUpdate(r.db.WithContext(ctx)).First(&grade, id).Error; err != nil {
		return models.Grade{}, err
	}
	return grade, nil
}

func (r *gradeRepository) FindFinalForUpdate(ctx context.Context, target GradeTarget) (models.Grade, error) {
	query := forUpdate(r.db.WithContext(ctx)).
		Where("source_type = ? AND source_id = ? AND is_draft = ?", target.SourceType, target.SourceID, false)
	if target.SubmissionID != nil {
		query = query.Where("submission_id = ?", *target.SubmissionID)
	} else {
		query = query.Where("submission_id IS NULL AND user_id = ?", target.UserID)
	}

	var grade models.Grade
	if err := query.Order("id ASC").First(&grade).Error; err != nil {
		return models.Grade{}, err
	}
	return grade, nil
}

func (r *gradeRepository) FindFinalBySubmission(ctx context.Context, submissionID uint) (models.Grade, error) {
	var grade models.Grade
	err := r.db.WithContext(ctx).
		Where("submission_id = ? AND is_draft = ?", submissionID, false).
		Order("id ASC").
		First(&grade).Error
	if err != nil {
		return models.Grade{}, err
	}
	return grade, nil
}

func (r *gradeRepository) FindDraftForUpdate(ctx context.Context, submissionID, gradedBy uint) (models.Grade, error) {
	var grade models.Grade
	err := forUpdate(r.db.WithContext(ctx)).
		Where("submission_id = ? AND graded_by = ? AND is_draft = ?", submissionID, gradedBy, true).
		First(&grade).Error
	if err != nil {
		return models.Grade{}, err
	}
	return grade, nil
}

func (r *gradeRepository) Create(ctx context.Context, grade *models.Grade) error {
	return r.db.WithContext(ctx).Create(grade).Error
}

func (r *gradeRepository) Save(ctx context.Context, grade *models.Grade) error {
	return r.db.WithContext(ctx).Save(grade).Error
}

func (r *gradeRepository) ListReleased(ctx context.Context, filter GradeFilter) ([]models.Grade, error) {
	query := r.db.WithContext(ctx).
		Where("user_id = ? AND is_draft = ? AND released_at IS NOT NULL", filter.UserID, false)
	if filter.SourceType != "" {
		query = query.Where("source_type = ?", filter.SourceType)
	}
	if filter.SourceID != nil {
		query = query.Where("source_id = ?", *filter.SourceID)
	}

	var grades []models.Grade
	if err := query.Order("released_at ASC").Find(&grades).Error; err != nil {
		return nil, err
	}
	return grades, nil
}

func (r *gradeRepository) ListByIDs(ctx context.Context, ids []uint) ([]models.Grade, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var grades []models.Grade
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&grades).Error; err != nil {
		return nil, err
	}
	return grades, nil
}
