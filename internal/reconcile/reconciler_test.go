package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerstack/recon-engine/internal/models"
	"github.com/ledgerstack/recon-engine/internal/utils"
)

func out(sku string, ts time.Time, qty float64) models.MovementRecord {
	return models.MovementRecord{
		RecordID: "out-" + sku, Timestamp: ts, SKU: sku,
		LocationKind: models.LocationPlant, MovementType: models.MovementDispatch,
		QtyOut: qty,
	}
}

func in(sku string, ts time.Time, qty float64) models.MovementRecord {
	return models.MovementRecord{
		RecordID: "in-" + sku, Timestamp: ts, SKU: sku,
		LocationKind: models.LocationStore, MovementType: models.MovementDispatch,
		QtyIn: qty,
	}
}

func TestFlowEfficiencyAndGap(t *testing.T) {
	day := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	source := []models.MovementRecord{out("SKU-1", day, 1000)}
	target := []models.MovementRecord{in("SKU-1", day.Add(4*time.Hour), 90)}

	results, err := Flow(source, target, models.StageDispatch, models.StageStore, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, "SKU-1", res.SKU)
	assert.Equal(t, 1000.0, res.ExpectedOut)
	assert.Equal(t, 90.0, res.ActualIn)
	assert.True(t, res.EfficiencyDefined)
	assert.InDelta(t, 0.09, res.FlowEfficiency, 1e-9)
	assert.InDelta(t, 910.0, res.GapUnits, 1e-9)
	assert.False(t, res.OverReceipt)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), res.WindowStart)
}

func TestFlowSumsUnitsNotRecords(t *testing.T) {
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	source := []models.MovementRecord{
		out("SKU-1", day, 300),
		out("SKU-1", day.Add(time.Hour), 700),
	}
	target := []models.MovementRecord{
		in("SKU-1", day.Add(2*time.Hour), 400),
		in("SKU-1", day.Add(3*time.Hour), 600),
	}

	results, err := Flow(source, target, models.StageDispatch, models.StageStore, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1000.0, results[0].ExpectedOut)
	assert.Equal(t, 1000.0, results[0].ActualIn)
	assert.InDelta(t, 1.0, results[0].FlowEfficiency, 1e-9)
	assert.Zero(t, results[0].GapUnits)
}

func TestFlowOverReceiptIsNotZeroEfficiency(t *testing.T) {
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	// Inbound with no outbound: over-receipt, efficiency undefined.
	results, err := Flow(nil, []models.MovementRecord{in("SKU-1", day, 50)},
		models.StageDispatch, models.StageStore, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].OverReceipt)
	assert.False(t, results[0].EfficiencyDefined)
	assert.Equal(t, -50.0, results[0].GapUnits)

	// Outbound with no inbound: total loss, efficiency 0 and defined.
	results, err = Flow([]models.MovementRecord{out("SKU-1", day, 50)}, nil,
		models.StageDispatch, models.StageStore, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].OverReceipt)
	assert.True(t, results[0].EfficiencyDefined)
	assert.Zero(t, results[0].FlowEfficiency)
	assert.Equal(t, 50.0, results[0].GapUnits)
}

func TestFlowSeparatesWindowsAndSKUs(t *testing.T) {
	monday := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	tuesday := monday.AddDate(0, 0, 1)
	source := []models.MovementRecord{
		out("SKU-A", monday, 100),
		out("SKU-A", tuesday, 200),
		out("SKU-B", monday, 50),
	}
	target := []models.MovementRecord{
		in("SKU-A", monday, 100),
		in("SKU-A", tuesday, 150),
	}

	results, err := Flow(source, target, models.StageDispatch, models.StageStore, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Sorted by SKU then window start.
	assert.Equal(t, "SKU-A", results[0].SKU)
	assert.InDelta(t, 1.0, results[0].FlowEfficiency, 1e-9)
	assert.Equal(t, "SKU-A", results[1].SKU)
	assert.InDelta(t, 0.75, results[1].FlowEfficiency, 1e-9)
	assert.True(t, results[0].WindowStart.Before(results[1].WindowStart))
	assert.Equal(t, "SKU-B", results[2].SKU)
	assert.Zero(t, results[2].FlowEfficiency)
}

func TestFlowWeeklyWindowing(t *testing.T) {
	wednesday := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	friday := time.Date(2026, 3, 6, 9, 0, 0, 0, time.UTC)
	source := []models.MovementRecord{out("SKU-1", wednesday, 100)}
	target := []models.MovementRecord{in("SKU-1", friday, 100)}

	results, err := Flow(source, target, models.StageDispatch, models.StageStore, Options{Window: models.WindowWeek})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), results[0].WindowStart)
	assert.InDelta(t, 1.0, results[0].FlowEfficiency, 1e-9)
}

func TestFlowIsDeterministic(t *testing.T) {
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	source := []models.MovementRecord{
		out("SKU-A", day, 100), out("SKU-B", day, 200), out("SKU-C", day, 300),
	}
	target := []models.MovementRecord{
		in("SKU-B", day, 150), in("SKU-C", day, 300),
	}

	first, err := Flow(source, target, models.StageDispatch, models.StageStore, DefaultOptions())
	require.NoError(t, err)
	second, err := Flow(source, target, models.StageDispatch, models.StageStore, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFlowInvalidWindow(t *testing.T) {
	_, err := Flow(nil, nil, models.StageDispatch, models.StageStore, Options{Window: "month"})
	require.Error(t, err)
	var cfgErr *utils.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestFlowEmptyInputs(t *testing.T) {
	results, err := Flow(nil, nil, models.StageDispatch, models.StageStore, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, results)
}
