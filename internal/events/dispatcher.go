package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading/internal/observability"
)

const defaultBufferSize = 256

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Dispatcher queues events and delivers them to sinks from a background goroutine.
// A full queue drops the event; sink failures are logged and never reach the publisher.
type Dispatcher struct {
	queue  chan Envelope
	logger zerolog.Logger
	nodeID string

	mu     sync.RWMutex
	sinks  []Sink
	closed bool

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewDispatcher builds a dispatcher with the given queue size.
func NewDispatcher(bufferSize int, logger zerolog.Logger, sinks ...Sink) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	return &Dispatcher{
		queue:  make(chan Envelope, bufferSize),
		logger: logger.With().Str("component", "event_dispatcher").Logger(),
		nodeID: uuid.NewString(),
		sinks:  sinks,
		done:   make(chan struct{}),
	}
}

// Subscribe adds a sink. Events already queued are delivered to it as well.
func (d *Dispatcher) Subscribe(sink Sink) {
	if sink == nil {
		return
	}
	d.mu.Lock()
	d.sinks = append(d.sinks, sink)
	d.mu.Unlock()
}

// Publish enqueues the event, dropping it when the queue is full.
func (d *Dispatcher) Publish(ctx context.Context, event Event) {
	if event == nil {
		return
	}

	envelope := Envelope{
		ID:            uuid.NewString(),
		Kind:          event.EventKind(),
		Source:        d.nodeID,
		CorrelationID: CorrelationFrom(ctx),
		OccurredAt:    time.Now().UTC(),
		Payload:       event,
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- envelope:
	default:
		observability.EventsDropped().WithLabelValues(string(envelope.Kind)).Inc()
		d.logger.Warn().Str("kind", string(envelope.Kind)).Msg("event queue full, dropping event")
	}
}

// Start launches the delivery loop. It returns immediately.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		go d.run(ctx)
	})
}

// Close stops accepting events and waits for the queue to drain.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	d.Start(context.Background())
	<-d.done
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	for envelope := range d.queue {
		d.deliver(ctx, envelope)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, envelope Envelope) {
	d.mu.RLock()
	sinks := make([]Sink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.RUnlock()

	// ctx may already be cancelled during shutdown; deliveries still get a short window.
	deliveryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	for _, sink := range sinks {
		if err := d.safeDeliver(deliveryCtx, sink, envelope); err != nil {
			observability.EventDeliveryFailures().WithLabelValues(string(envelope.Kind)).Inc()
			d.logger.Warn().Err(err).Str("kind", string(envelope.Kind)).Str("event_id", envelope.ID).Msg("event delivery failed")
		}
	}
	observability.EventsDelivered().WithLabelValues(string(envelope.Kind)).Inc()
}

func (d *Dispatcher) safeDeliver(ctx context.Context, sink Sink, envelope Envelope) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error().Interface("panic", recovered).Str("kind", string(envelope.Kind)).Msg("event sink panicked")
			err = fmt.Errorf("sink panicked: %v", recovered)
		}
	}()
	return sink.Deliver(ctx, envelope)
}
