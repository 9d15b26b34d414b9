package push

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gigpush"

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "size",
			Help:      "Number of work items in queue by status",
		},
		[]string{"status"},
	)

	drainPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "drain",
			Name:      "passes_total",
			Help:      "Total drain passes by result",
		},
		[]string{"result"},
	)

	drainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "drain",
			Name:      "duration_seconds",
			Help:      "Wall-clock time of one drain pass",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	itemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "drain",
			Name:      "items_total",
			Help:      "Work items processed by resulting verdict",
		},
		[]string{"verdict"},
	)

	endpointOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "outcomes_total",
			Help:      "Per-endpoint delivery outcomes",
		},
		[]string{"outcome"},
	)

	gatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Time to complete one push gateway call",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)

	endpointsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "endpoints",
			Name:      "pruned_total",
			Help:      "Endpoints deleted after the gateway reported them gone",
		},
	)

	sentItemsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "purged_total",
			Help:      "Sent work items removed by the retention window",
		},
	)
)

func recordDrainPass(result string, duration time.Duration) {
	drainPasses.WithLabelValues(result).Inc()
	drainDuration.Observe(duration.Seconds())
}

func recordItem(verdict string) {
	itemsProcessed.WithLabelValues(verdict).Inc()
}

func recordEndpointOutcome(kind OutcomeKind) {
	endpointOutcomes.WithLabelValues(string(kind)).Inc()
}

func recordGatewayCall(kind OutcomeKind, duration time.Duration) {
	gatewayDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

func recordEndpointPruned() {
	endpointsPruned.Inc()
}

func recordPurged(count int64) {
	sentItemsPurged.Add(float64(count))
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(stats *QueueStats) {
	queueSize.WithLabelValues(string(QueueStatusPending)).Set(float64(stats.Pending))
	queueSize.WithLabelValues(string(QueueStatusRetry)).Set(float64(stats.Retry))
	queueSize.WithLabelValues(string(QueueStatusSent)).Set(float64(stats.Sent))
	queueSize.WithLabelValues(string(QueueStatusFailed)).Set(float64(stats.Failed))
}
