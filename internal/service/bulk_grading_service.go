package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/gema-grading/internal/events"
	"github.com/noah-isme/gema-grading/internal/observability"
	"github.com/noah-isme/gema-grading/internal/repository"
)

const defaultBulkWorkers = 8

var errBulkItemPanicked = errors.New("bulk item panicked")

// BulkGradingService applies ledger operations to many grades. Each id is its own
// transaction, so one failure never affects the others; failures are reported, not returned.
type BulkGradingService interface {
	BulkRelease(ctx context.Context, gradeIDs []uint) BatchReport
	BulkApplyFeedback(ctx context.Context, gradeIDs []uint, feedback string) BatchReport
}

type bulkGradingService struct {
	store     repository.Store
	ledger    GradeLedger
	publisher events.Publisher
	workers   int
	logger    zerolog.Logger
}

// NewBulkGradingService constructs the orchestrator with a bounded worker pool.
func NewBulkGradingService(store repository.Store, ledger GradeLedger, publisher events.Publisher, workers int, logger zerolog.Logger) BulkGradingService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if workers <= 0 {
		workers = defaultBulkWorkers
	}
	return &bulkGradingService{
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		workers:   workers,
		logger:    logger.With().Str("component", "bulk_grading_service").Logger(),
	}
}

type itemResult struct {
	err   error
	fresh bool
}

func (s *bulkGradingService) BulkRelease(ctx context.Context, gradeIDs []uint) BatchReport {
	results := s.fanOut(gradeIDs, func(id uint) itemResult {
		var out outbox
		var fresh bool
		err := s.store.Transaction(ctx, func(tx repository.Store) error {
			var err error
			_, fresh, err = s.ledger.releaseTx(ctx, tx, &out, id)
			return err
		})
		if err == nil {
			out.flush(ctx, s.publisher)
		}
		return itemResult{err: err, fresh: fresh}
	})

	report := newBatchReport(len(gradeIDs))
	released := make([]uint, 0, len(gradeIDs))
	for i, id := range gradeIDs {
		if results[i].err != nil {
			report.fail(id, results[i].err)
			continue
		}
		report.succeed(id)
		if results[i].fresh {
			released = append(released, id)
		}
	}

	if len(released) > 0 {
		s.publisher.Publish(ctx, events.GradesReleased{GradeIDs: released})
	}
	s.observe("release", report)
	return report
}

func (s *bulkGradingService) BulkApplyFeedback(ctx context.Context, gradeIDs []uint, feedback string) BatchReport {
	results := s.fanOut(gradeIDs, func(id uint) itemResult {
		_, err := s.ledger.ApplyFeedback(ctx, id, feedback)
		return itemResult{err: err}
	})

	report := newBatchReport(len(gradeIDs))
	for i, id := range gradeIDs {
		if results[i].err != nil {
			report.fail(id, results[i].err)
			continue
		}
		report.succeed(id)
	}

	s.observe("feedback", report)
	return report
}

// fanOut runs fn for every id on the worker pool; results keep input order.
func (s *bulkGradingService) fanOut(ids []uint, fn func(id uint) itemResult) []itemResult {
	results := make([]itemResult, len(ids))

	var group errgroup.Group
	group.SetLimit(s.workers)
	for i, id := range ids {
		i, id := i, id
		group.Go(func() error {
			results[i] = s.safe(id, fn)
			return nil
		})
	}
	_ = group.Wait()

	return results
}

func (s *bulkGradingService) safe(id uint, fn func(id uint) itemResult) (result itemResult) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error().Interface("panic", recovered).Uint("grade_id", id).Msg("bulk item panicked")
			result = itemResult{err: newError(errBulkItemPanicked, "grade %d", id)}
		}
	}()
	return fn(id)
}

func (s *bulkGradingService) observe(operation string, report BatchReport) {
	observability.BulkItems().WithLabelValues(operation, "succeeded").Add(float64(len(report.Succeeded)))
	observability.BulkItems().WithLabelValues(operation, "failed").Add(float64(len(report.Failed)))

	if len(report.Failed) > 0 {
		s.logger.Warn().
			Str("operation", operation).
			Int("succeeded", len(report.Succeeded)).
			Int("failed", len(report.Failed)).
			Msg("bulk operation completed with failures")
	}
}
