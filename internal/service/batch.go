package service

import (
	"context"
	"sync"

	"github.com/noah-isme/gema-grading/internal/events"
)

// BatchFailure describes one item a bulk operation could not apply.
type BatchFailure struct {
	ID        uint      `json:"id"`
	ErrorKind ErrorKind `json:"error_kind"`
	Message   string    `json:"message"`
}

// BatchReport is the per-item outcome of a bulk operation.
type BatchReport struct {
	Succeeded []uint         `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
}

func newBatchReport(size int) BatchReport {
	return BatchReport{
		Succeeded: make([]uint, 0, size),
		Failed:    []BatchFailure{},
	}
}

func (r *BatchReport) succeed(id uint) {
	r.Succeeded = append(r.Succeeded, id)
}

func (r *BatchReport) fail(id uint, err error) {
	r.Failed = append(r.Failed, BatchFailure{ID: id, ErrorKind: KindOf(err), Message: err.Error()})
}

// FailedIDs returns the ids of failed items in report order.
func (r BatchReport) FailedIDs() []uint {
	ids := make([]uint, 0, len(r.Failed))
	for _, failure := range r.Failed {
		ids = append(ids, failure.ID)
	}
	return ids
}

// outbox holds events and metric updates until the transaction that produced them commits.
type outbox struct {
	mu      sync.Mutex
	events  []events.Event
	commits []func()
}

func (o *outbox) add(event events.Event) {
	o.mu.Lock()
	o.events = append(o.events, event)
	o.mu.Unlock()
}

func (o *outbox) onCommit(fn func()) {
	o.mu.Lock()
	o.commits = append(o.commits, fn)
	o.mu.Unlock()
}

// flush publishes queued events; the publisher never blocks.
func (o *outbox) flush(ctx context.Context, publisher events.Publisher) {
	o.mu.Lock()
	pending := o.events
	commits := o.commits
	o.events = nil
	o.commits = nil
	o.mu.Unlock()

	for _, fn := range commits {
		fn()
	}
	for _, event := range pending {
		publisher.Publish(ctx, event)
	}
}
