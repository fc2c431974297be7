package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store groups the grading repositories so services can run read-modify-write
// sequences inside a single transaction.
type Store interface {
	Grades() GradeRepository
	Submissions() SubmissionRepository
	Appeals() AppealRepository
	Activity() ActivityLogRepository
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

type gormStore struct {
	db *gorm.DB
}

// NewStore builds a GORM-backed store.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Grades() GradeRepository {
	return &gradeRepository{db: s.db}
}

func (s *gormStore) Submissions() SubmissionRepository {
	return &submissionRepository{db: s.db}
}

func (s *gormStore) Appeals() AppealRepository {
	return &appealRepository{db: s.db}
}

func (s *gormStore) Activity() ActivityLogRepository {
	return &activityLogRepository{db: s.db}
}

// Transaction runs fn in a transaction; nested calls use savepoints.
func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

// forUpdate adds a row lock. SQLite ignores the clause and relies on its database lock.
func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}
