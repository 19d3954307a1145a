package services

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the engine
type Metrics struct {
	EventsProcessed  *prometheus.CounterVec
	EventLatency     prometheus.Histogram
	QueueWait        prometheus.Histogram
	ModelInvocations *prometheus.CounterVec
	DeadLetters      prometheus.Counter
	DegradedThoughts prometheus.Counter
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics(queue *QueueService) *Metrics {
	metrics := &Metrics{
		// Events by kind and terminal outcome (acked, retried, dead_lettered)
		EventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "apexwatch_events_processed_total",
			Help: "Total number of events processed by kind and outcome",
		}, []string{"kind", "outcome"}),

		// Full-cycle latency histogram
		EventLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "apexwatch_event_duration_seconds",
			Help:    "Event processing latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}, // up to 2 minutes for LLM generation
		}),

		QueueWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "apexwatch_queue_wait_seconds",
			Help:    "Time events spend enqueued before processing",
			Buckets: []float64{0.1, 1, 5, 30, 60, 300, 900},
		}),

		ModelInvocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "apexwatch_model_invocations_total",
			Help: "Model invocations by backend and outcome",
		}, []string{"backend", "outcome"}),

		DeadLetters: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apexwatch_dead_letters_total",
			Help: "Events routed to the dead-letter stream",
		}),

		DegradedThoughts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apexwatch_degraded_thoughts_total",
			Help: "Thoughts generated under degraded context",
		}),
	}

	// Queue depth sampled from the stream on scrape
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "apexwatch_queue_depth",
			Help: "Current number of entries on the event stream",
		},
		func() float64 {
			if queue != nil {
				if depth, err := queue.Depth(context.Background()); err == nil {
					return float64(depth)
				}
			}
			return 0
		},
	))

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordEvent records a terminal outcome for an event
func (m *Metrics) RecordEvent(kind, outcome string) {
	m.EventsProcessed.WithLabelValues(kind, outcome).Inc()
}

// RecordLatency records full-cycle processing latency
func (m *Metrics) RecordLatency(seconds float64) {
	m.EventLatency.Observe(seconds)
}

// RecordQueueWait records time spent on the queue before dequeue
func (m *Metrics) RecordQueueWait(seconds float64) {
	m.QueueWait.Observe(seconds)
}

// RecordModelInvocation records a backend call outcome
func (m *Metrics) RecordModelInvocation(backend, outcome string) {
	m.ModelInvocations.WithLabelValues(backend, outcome).Inc()
}

// RecordDeadLetter records an event routed to the dead-letter stream
func (m *Metrics) RecordDeadLetter() {
	m.DeadLetters.Inc()
}

// RecordDegraded records a thought generated under degraded context
func (m *Metrics) RecordDegraded() {
	m.DegradedThoughts.Inc()
}
