// Package metrics holds the Prometheus instruments of the detection engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowsentry_records_processed_total",
			Help: "Flow records run through the detection pipeline",
		},
		[]string{"mode"}, // batch, stream
	)

	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowsentry_records_skipped_total",
			Help: "Flow records skipped because they were invalid or out of order",
		},
		[]string{"mode", "cause"},
	)

	Detections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowsentry_detections_total",
			Help: "Detections emitted by rule or model",
		},
		[]string{"reason", "class_guess"},
	)

	ClassifierFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowsentry_classifier_failures_total",
			Help: "Classifier calls that failed or returned an unusable shape",
		},
	)

	WindowHosts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowsentry_window_hosts",
			Help: "Hosts with at least one event in the trailing window",
		},
	)

	WindowEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowsentry_window_events",
			Help: "Events retained across all host windows",
		},
	)

	RecordLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowsentry_record_latency_seconds",
			Help:    "Time to score one streamed flow record",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	WriterErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowsentry_writer_errors_total",
			Help: "Failed detection writes per writer",
		},
		[]string{"writer"},
	)
)

// RecordProcessed counts one scored record.
func RecordProcessed(mode string) {
	RecordsProcessed.WithLabelValues(mode).Inc()
}

// RecordSkipped counts one skipped record.
func RecordSkipped(mode, cause string) {
	RecordsSkipped.WithLabelValues(mode, cause).Inc()
}

// RecordDetection counts one emitted detection.
func RecordDetection(reason, classGuess string) {
	Detections.WithLabelValues(reason, classGuess).Inc()
}

// RecordClassifierFailure counts one failed classifier call.
func RecordClassifierFailure() {
	ClassifierFailures.Inc()
}

// ObserveRecordLatency records the scoring time of one streamed record.
func ObserveRecordLatency(d time.Duration) {
	RecordLatency.Observe(d.Seconds())
}

// UpdateWindowGauges publishes the window tracker size.
func UpdateWindowGauges(activeHosts, events int) {
	WindowHosts.Set(float64(activeHosts))
	WindowEvents.Set(float64(events))
}

// RecordWriterError counts one failed write.
func RecordWriterError(writer string) {
	WriterErrors.WithLabelValues(writer).Inc()
}
