package detect

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerstack/recon-engine/internal/models"
	"github.com/ledgerstack/recon-engine/internal/utils"
)

func obsGroup(group string, values ...float64) []Observation {
	obs := make([]Observation, 0, len(values))
	for i, v := range values {
		obs = append(obs, Observation{
			RecordID: fmt.Sprintf("%s-%d", group, i),
			GroupKey: group,
			Value:    v,
		})
	}
	return obs
}

func TestStatisticalZScoreFlagsOutlier(t *testing.T) {
	// Nine values of 10 and one of 100: mean 19, population std 27, so the
	// outlier sits at exactly z = 3.
	obs := obsGroup("sku=A", 10, 10, 10, 10, 10, 10, 10, 10, 10, 100)
	opts := DefaultStatOptions()
	opts.StdThreshold = 2.5

	flags, err := Statistical("waste_qty", obs, opts)
	require.NoError(t, err)
	require.Len(t, flags, 10)

	anomalous := 0
	for _, f := range flags {
		assert.Equal(t, models.DetectorStatistical, f.Detector)
		assert.Equal(t, "waste_qty", f.MetricName)
		assert.Equal(t, "sku=A", f.GroupKey)
		if f.IsAnomaly {
			anomalous++
			assert.Equal(t, "sku=A-9", f.RecordID)
			assert.InDelta(t, 3.0, f.Score, 1e-9)
		}
	}
	assert.Equal(t, 1, anomalous)
}

func TestStatisticalIdenticalValuesScoreZero(t *testing.T) {
	obs := obsGroup("sku=A", 7, 7, 7, 7, 7, 7)

	flags, err := Statistical("adjustment_net", obs, DefaultStatOptions())
	require.NoError(t, err)
	require.Len(t, flags, 6)
	for _, f := range flags {
		assert.Zero(t, f.Score)
		assert.False(t, f.IsAnomaly)
	}
}

func TestStatisticalGroupsScoredIndependently(t *testing.T) {
	obs := append(obsGroup("sku=A", 10, 10, 10, 10, 10),
		obsGroup("sku=B", 1000, 1000, 1000, 1000, 1000)...)

	flags, err := Statistical("waste_qty", obs, DefaultStatOptions())
	require.NoError(t, err)
	require.Len(t, flags, 10)
	// Both groups are internally constant: no cross-group contamination, no flags.
	for _, f := range flags {
		assert.Zero(t, f.Score)
		assert.False(t, f.IsAnomaly)
	}
}

func TestStatisticalInsufficientSample(t *testing.T) {
	obs := append(obsGroup("sku=small", 1, 2),
		obsGroup("sku=big", 5, 5, 5, 5, 5, 50)...)
	opts := DefaultStatOptions()
	opts.StdThreshold = 2.0

	flags, err := Statistical("waste_qty", obs, opts)
	require.NoError(t, err)
	require.Len(t, flags, 8)

	for _, f := range flags {
		if f.GroupKey == "sku=small" {
			assert.True(t, f.InsufficientSample)
			assert.False(t, f.IsAnomaly)
			assert.Zero(t, f.Score)
		} else {
			assert.False(t, f.InsufficientSample)
		}
	}
}

func TestStatisticalPercentileMode(t *testing.T) {
	// Values 0..10 with 10th/90th bounds: the extremes fall outside, scored by
	// signed distance beyond the nearest bound.
	obs := obsGroup("sku=A", 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	opts := StatOptions{
		Mode:           ModePercentile,
		StdThreshold:   3.0,
		PercentileLow:  10,
		PercentileHigh: 90,
		MinGroupSize:   5,
	}

	flags, err := Statistical("waste_qty", obs, opts)
	require.NoError(t, err)
	require.Len(t, flags, 11)

	byID := make(map[string]models.AnomalyFlag, len(flags))
	for _, f := range flags {
		byID[f.RecordID] = f
	}
	low := byID["sku=A-0"]
	assert.True(t, low.IsAnomaly)
	assert.InDelta(t, -1.0, low.Score, 1e-9)
	high := byID["sku=A-10"]
	assert.True(t, high.IsAnomaly)
	assert.InDelta(t, 1.0, high.Score, 1e-9)

	inside := byID["sku=A-5"]
	assert.False(t, inside.IsAnomaly)
	assert.Zero(t, inside.Score)
}

func TestStatisticalEmptyBatch(t *testing.T) {
	_, err := Statistical("waste_qty", nil, DefaultStatOptions())
	require.Error(t, err)
	var appErr *utils.AppError
	assert.ErrorAs(t, err, &appErr)
}

func TestStatisticalNonFiniteValue(t *testing.T) {
	obs := obsGroup("sku=A", 1, 2, 3, 4)
	obs = append(obs, Observation{RecordID: "bad", GroupKey: "sku=A", Value: math.NaN()})

	_, err := Statistical("waste_qty", obs, DefaultStatOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestStatisticalBadOptions(t *testing.T) {
	obs := obsGroup("sku=A", 1, 2, 3)
	var cfgErr *utils.ConfigurationError

	_, err := Statistical("m", obs, StatOptions{Mode: "median", StdThreshold: 3, PercentileLow: 1, PercentileHigh: 99, MinGroupSize: 5})
	assert.ErrorAs(t, err, &cfgErr)

	_, err = Statistical("m", obs, StatOptions{Mode: ModeZScore, StdThreshold: -1, PercentileLow: 1, PercentileHigh: 99, MinGroupSize: 5})
	assert.ErrorAs(t, err, &cfgErr)

	_, err = Statistical("m", obs, StatOptions{Mode: ModePercentile, StdThreshold: 3, PercentileLow: 90, PercentileHigh: 10, MinGroupSize: 5})
	assert.ErrorAs(t, err, &cfgErr)
}

func TestStatisticalZeroOptionsUseDefaults(t *testing.T) {
	obs := obsGroup("sku=A", 1, 1, 1, 1, 1)
	flags, err := Statistical("waste_qty", obs, StatOptions{})
	require.NoError(t, err)
	assert.Len(t, flags, 5)
}
