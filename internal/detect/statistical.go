package detect

import (
	"fmt"
	"math"
	"sort"

	"github.com/ledgerstack/recon-engine/internal/models"
	"github.com/ledgerstack/recon-engine/internal/utils"
)

// Mode selects the scoring method for the statistical detector.
type Mode string

const (
	// ModeZScore scores each value as its signed deviation from the group
	// mean in population std-dev units.
	ModeZScore Mode = "zscore"
	// ModePercentile flags values outside the group's [low, high] percentile
	// bounds. More robust than z-scores on heavily skewed count or waste
	// distributions; the caller selects the mode per metric.
	ModePercentile Mode = "percentile"
)

// StatOptions configures the statistical detector.
type StatOptions struct {
	Mode           Mode
	StdThreshold   float64
	PercentileLow  float64
	PercentileHigh float64
	// MinGroupSize is the smallest group that gets scored. Smaller groups
	// yield insufficient-sample flags instead of spurious scores.
	MinGroupSize int
}

// DefaultStatOptions returns 3-sigma z-scoring with 1st/99th percentile
// bounds and a minimum group size of 5.
func DefaultStatOptions() StatOptions {
	return StatOptions{
		Mode:           ModeZScore,
		StdThreshold:   3.0,
		PercentileLow:  1,
		PercentileHigh: 99,
		MinGroupSize:   5,
	}
}

func (o StatOptions) validate() error {
	switch o.Mode {
	case ModeZScore, ModePercentile, "":
	default:
		return utils.NewConfigurationError("mode", fmt.Sprintf("unknown mode %q", o.Mode))
	}
	if o.StdThreshold <= 0 || math.IsNaN(o.StdThreshold) {
		return utils.NewConfigurationError("stdThreshold", "must be > 0")
	}
	if o.PercentileLow < 0 || o.PercentileHigh > 100 || o.PercentileLow >= o.PercentileHigh {
		return utils.NewConfigurationError("percentileBounds", "need 0 <= low < high <= 100")
	}
	if o.MinGroupSize < 1 {
		return utils.NewConfigurationError("minGroupSize", "must be >= 1")
	}
	return nil
}

// Observation is one numeric measurement attributed to a record and a group.
type Observation struct {
	RecordID string
	GroupKey string
	Value    float64
}

// Statistical scores each observation of a metric within its group and flags
// outliers. Anomalous data is the expected output, never an error; the
// detector errors only on malformed input or configuration.
func Statistical(metric string, observations []Observation, opts StatOptions) ([]models.AnomalyFlag, error) {
	if opts == (StatOptions{}) {
		opts = DefaultStatOptions()
	}
	if opts.Mode == "" {
		opts.Mode = ModeZScore
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if len(observations) == 0 {
		return nil, utils.NewAppError("detect.Statistical", "empty batch", nil)
	}
	for _, obs := range observations {
		if math.IsNaN(obs.Value) || math.IsInf(obs.Value, 0) {
			return nil, utils.NewAppError("detect.Statistical",
				fmt.Sprintf("non-finite value for record %s", obs.RecordID), nil)
		}
	}

	groups := make(map[string][]Observation)
	order := make([]string, 0)
	for _, obs := range observations {
		if _, ok := groups[obs.GroupKey]; !ok {
			order = append(order, obs.GroupKey)
		}
		groups[obs.GroupKey] = append(groups[obs.GroupKey], obs)
	}

	flags := make([]models.AnomalyFlag, 0, len(observations))
	for _, key := range order {
		group := groups[key]
		if len(group) < opts.MinGroupSize {
			for _, obs := range group {
				flags = append(flags, models.AnomalyFlag{
					RecordID:           obs.RecordID,
					Detector:           models.DetectorStatistical,
					MetricName:         metric,
					GroupKey:           key,
					InsufficientSample: true,
				})
			}
			continue
		}
		switch opts.Mode {
		case ModePercentile:
			flags = append(flags, scorePercentile(metric, key, group, opts)...)
		default:
			flags = append(flags, scoreZ(metric, key, group, opts)...)
		}
	}
	return flags, nil
}

func scoreZ(metric, key string, group []Observation, opts StatOptions) []models.AnomalyFlag {
	mean := 0.0
	for _, obs := range group {
		mean += obs.Value
	}
	mean /= float64(len(group))

	variance := 0.0
	for _, obs := range group {
		variance += (obs.Value - mean) * (obs.Value - mean)
	}
	variance /= float64(len(group))
	std := math.Sqrt(variance)

	flags := make([]models.AnomalyFlag, 0, len(group))
	for _, obs := range group {
		score := 0.0
		if std > 0 {
			// std == 0 means every value is identical: nothing is anomalous
			// by this method, so all scores stay 0.
			score = (obs.Value - mean) / std
		}
		flags = append(flags, models.AnomalyFlag{
			RecordID:   obs.RecordID,
			Detector:   models.DetectorStatistical,
			MetricName: metric,
			GroupKey:   key,
			Score:      score,
			IsAnomaly:  math.Abs(score) > opts.StdThreshold,
		})
	}
	return flags
}

func scorePercentile(metric, key string, group []Observation, opts StatOptions) []models.AnomalyFlag {
	values := make([]float64, 0, len(group))
	for _, obs := range group {
		values = append(values, obs.Value)
	}
	low := percentile(values, opts.PercentileLow/100)
	high := percentile(values, opts.PercentileHigh/100)

	flags := make([]models.AnomalyFlag, 0, len(group))
	for _, obs := range group {
		// Score is the signed distance beyond the nearest bound, 0 inside.
		score := 0.0
		anomalous := false
		if obs.Value < low {
			score = obs.Value - low
			anomalous = true
		} else if obs.Value > high {
			score = obs.Value - high
			anomalous = true
		}
		flags = append(flags, models.AnomalyFlag{
			RecordID:   obs.RecordID,
			Detector:   models.DetectorStatistical,
			MetricName: metric,
			GroupKey:   key,
			Score:      score,
			IsAnomaly:  anomalous,
		})
	}
	return flags
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Round(p * float64(len(sorted)-1)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
