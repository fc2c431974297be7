package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	requestsTotal  *prometheus.CounterVec
	latencySeconds *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec

	gradesRecordedTotal   *prometheus.CounterVec
	gradeOverridesTotal   prometheus.Counter
	gradesReleasedTotal   prometheus.Counter
	appealDecisionsTotal  *prometheus.CounterVec
	bulkItemsTotal        *prometheus.CounterVec
	eventsDroppedTotal    *prometheus.CounterVec
	eventsDeliveredTotal  *prometheus.CounterVec
	eventDeliveryFailures *prometheus.CounterVec
	transitionsTotal      *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the grading service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_requests_total",
			Help: "Total number of grading API requests served.",
		}, []string{"method", "route", "status"})

		latencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grading_latency_seconds",
			Help:    "Latency distribution for grading API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_errors_total",
			Help: "Total number of error responses returned by grading endpoints.",
		}, []string{"method", "route", "status"})

		gradesRecordedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_grades_recorded_total",
			Help: "Grades written through the ledger, by origin.",
		}, []string{"origin"})

		gradeOverridesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grading_overrides_total",
			Help: "Grade overrides applied.",
		})

		gradesReleasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grading_grades_released_total",
			Help: "Grades released to students.",
		})

		appealDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_appeal_decisions_total",
			Help: "Appeal decisions by outcome.",
		}, []string{"outcome"})

		bulkItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_bulk_items_total",
			Help: "Bulk operation items by operation and result.",
		}, []string{"operation", "result"})

		eventsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_events_dropped_total",
			Help: "Events dropped because the dispatch queue was full.",
		}, []string{"kind"})

		eventsDeliveredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_events_delivered_total",
			Help: "Events handed to sinks.",
		}, []string{"kind"})

		eventDeliveryFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_event_delivery_failures_total",
			Help: "Sink deliveries that returned an error.",
		}, []string{"kind"})

		transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_submission_transitions_total",
			Help: "Submission state transitions by target state.",
		}, []string{"to"})

		prometheus.MustRegister(
			requestsTotal, latencySeconds, errorsTotal,
			gradesRecordedTotal, gradeOverridesTotal, gradesReleasedTotal,
			appealDecisionsTotal, bulkItemsTotal,
			eventsDroppedTotal, eventsDeliveredTotal, eventDeliveryFailures,
			transitionsTotal,
		)
	})
}

// Requests exposes the counter for API requests.
func Requests() *prometheus.CounterVec {
	RegisterMetrics()
	return requestsTotal
}

// Latency exposes the latency histogram for API requests.
func Latency() *prometheus.HistogramVec {
	RegisterMetrics()
	return latencySeconds
}

// Errors exposes the counter for error responses.
func Errors() *prometheus.CounterVec {
	RegisterMetrics()
	return errorsTotal
}

func GradesRecorded() *prometheus.CounterVec {
	RegisterMetrics()
	return gradesRecordedTotal
}

func GradeOverrides() prometheus.Counter {
	RegisterMetrics()
	return gradeOverridesTotal
}

func GradesReleased() prometheus.Counter {
	RegisterMetrics()
	return gradesReleasedTotal
}

func AppealDecisions() *prometheus.CounterVec {
	RegisterMetrics()
	return appealDecisionsTotal
}

func BulkItems() *prometheus.CounterVec {
	RegisterMetrics()
	return bulkItemsTotal
}

func EventsDropped() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsDroppedTotal
}

func EventsDelivered() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsDeliveredTotal
}

func EventDeliveryFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return eventDeliveryFailures
}

func SubmissionTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return transitionsTotal
}
