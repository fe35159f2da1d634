package archive

import (
	"github.com/prometheus/client_golang/prometheus"
)

// namespace is the leading part of all published metrics for the archive
// engine.
const namespace = "logcask"

const writerSubsystem = "writer" // sub-system associated with metrics for ingestion.

// writerMetrics are a set of metrics concerned with tracking ingestion and
// segment activity.
type writerMetrics struct {
	RecordsIngested  prometheus.Counter
	MessagesIngested prometheus.Counter
	SegmentsSealed   prometheus.Counter
	BytesIn          prometheus.Counter
	BytesOut         prometheus.Counter
}

// newWriterMetrics initialises the prometheus metrics for the writer.
func newWriterMetrics() *writerMetrics {
	return &writerMetrics{
		RecordsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: writerSubsystem,
			Name:      "records_total",
			Help:      "Number of JSON records ingested.",
		}),
		MessagesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: writerSubsystem,
			Name:      "messages_total",
			Help:      "Number of unstructured log messages ingested.",
		}),
		SegmentsSealed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: writerSubsystem,
			Name:      "segments_sealed_total",
			Help:      "Number of segments sealed.",
		}),
		BytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: writerSubsystem,
			Name:      "bytes_in_total",
			Help:      "Uncompressed bytes ingested.",
		}),
		BytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: writerSubsystem,
			Name:      "bytes_out_total",
			Help:      "Compressed bytes written to sealed segments.",
		}),
	}
}

// PrometheusCollectors returns the writer's collectors for registration.
func (m *writerMetrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RecordsIngested,
		m.MessagesIngested,
		m.SegmentsSealed,
		m.BytesIn,
		m.BytesOut,
	}
}
