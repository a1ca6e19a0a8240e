package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowGranularityValid(t *testing.T) {
	assert.True(t, WindowHour.Valid())
	assert.True(t, WindowDay.Valid())
	assert.True(t, WindowWeek.Valid())
	assert.False(t, WindowGranularity("month").Valid())
	assert.False(t, WindowGranularity("").Valid())
}

func TestWindowTruncate(t *testing.T) {
	// 2026-03-04 is a Wednesday.
	ts := time.Date(2026, 3, 4, 15, 42, 7, 123, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC), WindowHour.Truncate(ts))
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), WindowDay.Truncate(ts))
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), WindowWeek.Truncate(ts))
}

func TestWindowTruncateWeekBoundaries(t *testing.T) {
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, monday, WindowWeek.Truncate(monday))

	sunday := time.Date(2026, 3, 8, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, monday, WindowWeek.Truncate(sunday))

	nextMonday := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, nextMonday, WindowWeek.Truncate(nextMonday))
}

func TestReconciliationResultKey(t *testing.T) {
	res := ReconciliationResult{
		SKU:         "SKU-1",
		FromStage:   StageDispatch,
		ToStage:     StageStore,
		WindowStart: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, "SKU-1|dispatch->store|2026-03-02T00:00:00Z", res.Key())
}

func TestNetMovement(t *testing.T) {
	rec := MovementRecord{QtyIn: 10, QtyOut: 4}
	assert.Equal(t, 6.0, rec.NetMovement())
}

func TestFeatureMatrixValidate(t *testing.T) {
	valid := &FeatureMatrix{
		Names:     []string{"a", "b"},
		RecordIDs: []string{"r0", "r1"},
		Rows:      [][]float64{{1, 2}, {3, 4}},
	}
	assert.NoError(t, valid.Validate())

	assert.Error(t, (&FeatureMatrix{}).Validate())
	assert.Error(t, (&FeatureMatrix{RecordIDs: []string{"r0"}, Rows: [][]float64{{1}}}).Validate())

	misaligned := &FeatureMatrix{Names: []string{"a"}, RecordIDs: []string{"r0"}, Rows: [][]float64{{1}, {2}}}
	assert.Error(t, misaligned.Validate())

	ragged := &FeatureMatrix{Names: []string{"a", "b"}, RecordIDs: []string{"r0", "r1"}, Rows: [][]float64{{1, 2}, {3}}}
	assert.Error(t, ragged.Validate())
}
