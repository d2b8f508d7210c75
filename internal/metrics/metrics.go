package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels analyses that produced a response.
	OutcomeSuccess = "success"
	// OutcomeInvalid labels requests rejected before computation.
	OutcomeInvalid = "invalid"
	// OutcomeError labels failed analyses (load or dependency issues).
	OutcomeError = "error"
)

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "defect_analyzer",
			Name:      "analyses_total",
			Help:      "Total number of analyses handled, partitioned by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "defect_analyzer",
			Name:      "analysis_seconds",
			Help:      "Analysis latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"kind"},
	)

	skippedLotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "defect_analyzer",
			Name:      "skipped_lots_total",
			Help:      "Lots dropped from an analysis, partitioned by reason.",
		},
		[]string{"reason"},
	)

	datasetRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "defect_analyzer",
			Name:      "dataset_records",
			Help:      "Number of records in the most recently loaded dataset.",
		},
		[]string{"dataset"},
	)
)

// Register attaches defect-analyzer collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesTotal,
		analysisDurationSeconds,
		skippedLotsTotal,
		datasetRecords,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnalysis records an analysis duration and outcome label.
func ObserveAnalysis(kind string, duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError && label != OutcomeInvalid {
		label = OutcomeSuccess
	}
	analysesTotal.WithLabelValues(kind, label).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// SetDatasetRecords publishes the size of a loaded dataset.
func SetDatasetRecords(dataset string, count int) {
	datasetRecords.WithLabelValues(dataset).Set(float64(count))
}

// SkipCounter forwards engine skip counts to skipped_lots_total.
type SkipCounter struct{}

// RecordSkipped implements the engine's skip recorder.
func (SkipCounter) RecordSkipped(reason string, count int) {
	if count <= 0 {
		return
	}
	skippedLotsTotal.WithLabelValues(reason).Add(float64(count))
}
