package query

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "logcask"

const searchSubsystem = "search" // sub-system associated with metrics for query execution.

// executorMetrics are a set of metrics concerned with tracking query
// execution.
type executorMetrics struct {
	MessagesScanned prometheus.Counter
	Matches         prometheus.Counter
}

// newExecutorMetrics initialises the prometheus metrics for the executor.
func newExecutorMetrics() *executorMetrics {
	return &executorMetrics{
		MessagesScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: searchSubsystem,
			Name:      "messages_scanned_total",
			Help:      "Number of candidate messages examined.",
		}),
		Matches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: searchSubsystem,
			Name:      "matches_total",
			Help:      "Number of messages that matched the query.",
		}),
	}
}

// PrometheusCollectors returns the executor's collectors for registration.
func (m *executorMetrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{m.MessagesScanned, m.Matches}
}
