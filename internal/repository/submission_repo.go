package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading/internal/models"
)

// SubmissionRepository persists submissions and their append-only transition log.
type SubmissionRepository interface {
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	GetByIDForUpdate(ctx context.Context, id uint) (models.Submission, error)
	Create(ctx context.Context, submission *models.Submission) error
	Save(ctx context.Context, submission *models.Submission) error
	UpdateScore(ctx context.Context, id uint, score float64) error
	UpdateState(ctx context.Context, id uint, state models.SubmissionState) error
	AppendStateEvent(ctx context.Context, event *models.SubmissionStateEvent) error
	ListStateEvents(ctx context.Context, submissionID uint) ([]models.SubmissionStateEvent, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) GetByIDForUpdate(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := forUpdate(r.db.WithContext(ctx)).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

func (r *submissionRepository) Save(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Omit("Answers").Save(submission).Error
}

func (r *submissionRepository) UpdateScore(ctx context.Context, id uint, score float64) error {
	return r.db.WithContext(ctx).Model(&models.Submission{}).Where("id = ?", id).Update("score", score).Error
}

func (r *submissionRepository) UpdateState(ctx context.Context, id uint, state models.SubmissionState) error {
	return r.db.WithContext(ctx).Model(&models.Submission{}).Where("id = ?", id).Update("state", state).Error
}

func (r *submissionRepository) AppendStateEvent(ctx context.Context, event *models.SubmissionStateEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *submissionRepository) ListStateEvents(ctx context.Context, submissionID uint) ([]models.SubmissionStateEvent, error) {
	var events []models.SubmissionStateEvent
	err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("id ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
