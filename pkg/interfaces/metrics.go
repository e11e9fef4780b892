// Package interfaces holds the pluggable contracts shared across
// recsplit packages.
package interfaces

import "time"

// MetricsExporter exports metrics to a monitoring backend.
type MetricsExporter interface {
	// Counter increments a counter metric.
	Counter(name string, value int64, tags map[string]string)

	// Gauge sets a gauge metric to the specified value.
	Gauge(name string, value float64, tags map[string]string)

	// Histogram records a value in a histogram.
	Histogram(name string, value float64, tags map[string]string)

	// Timer records a duration.
	Timer(name string, duration time.Duration, tags map[string]string)

	// Flush sends any buffered metrics to the backend.
	Flush() error

	// Close releases resources.
	Close() error
}

// Metric names.
const (
	// Step metrics
	MetricStepReadTotal   = "recsplit.step.read.total"
	MetricStepWriteTotal  = "recsplit.step.write.total"
	MetricStepSkipTotal   = "recsplit.step.skip.total"
	MetricStepDuration    = "recsplit.step.duration"
	MetricStepThroughput  = "recsplit.step.throughput"
	MetricStepsCompleted  = "recsplit.steps.completed"
	MetricStepsFailed     = "recsplit.steps.failed"
	MetricChunkSize       = "recsplit.chunk.size"
	MetricChunkWriteTime  = "recsplit.chunk.write_latency"
	MetricValidationError = "recsplit.validation.errors"

	// Reader metrics
	MetricStreamsDiscarded = "recsplit.reader.streams_discarded"
	MetricQueuePressure    = "recsplit.reader.queue_pressure"
)

// Tag names.
const (
	TagStep    = "step"
	TagJobID   = "job_id"
	TagMode    = "mode"
	TagCodec   = "codec"
	TagOutput  = "output"
	TagStatus  = "status"
	TagWorker  = "worker"
	TagErrCode = "code"
)
