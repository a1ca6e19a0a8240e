package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels completed batch runs.
	OutcomeSuccess = "success"
	// OutcomeError labels batch runs that failed structurally.
	OutcomeError = "error"
)

var (
	batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recon_engine",
			Name:      "batches_total",
			Help:      "Total number of analysis batches handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	batchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recon_engine",
			Name:      "batch_seconds",
			Help:      "Analysis batch latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	flagsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recon_engine",
			Name:      "flags_total",
			Help:      "Findings emitted, partitioned by detector (ledger, statistical, model).",
		},
		[]string{"detector"},
	)
)

// Register attaches recon-engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		batchesTotal,
		batchDurationSeconds,
		flagsTotal,
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

// ObserveBatch records a batch duration and outcome label.
func ObserveBatch(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	batchesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	batchDurationSeconds.Observe(duration.Seconds())
}

// AddFlags counts findings for a detector.
func AddFlags(detector string, n int) {
	if n <= 0 {
		return
	}
	flagsTotal.WithLabelValues(detector).Add(float64(n))
}
