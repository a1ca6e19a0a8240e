package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerstack/recon-engine/internal/models"
	"github.com/ledgerstack/recon-engine/internal/utils"
)

func rec(id string, ts time.Time, loc string, kind models.LocationKind, sku string, mt models.MovementType, in, out, before, after float64) models.MovementRecord {
	return models.MovementRecord{
		RecordID:      id,
		Timestamp:     ts,
		LocationID:    loc,
		LocationKind:  kind,
		SKU:           sku,
		MovementType:  mt,
		QtyIn:         in,
		QtyOut:        out,
		BalanceBefore: before,
		BalanceAfter:  after,
	}
}

func TestValidateCleanSequence(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	records := []models.MovementRecord{
		rec("r1", base, "P1", models.LocationPlant, "SKU-1", models.MovementProduction, 100, 0, 0, 100),
		rec("r2", base.Add(time.Hour), "P1", models.LocationPlant, "SKU-1", models.MovementDispatch, 0, 40, 100, 60),
		rec("r3", base.Add(2*time.Hour), "P1", models.LocationPlant, "SKU-1", models.MovementDispatch, 0, 60, 60, 0),
	}

	res, err := Validate(records, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, res.Flags)
	assert.Len(t, res.Records, 3)
}

func TestValidateNegativeBalanceIsNotArithmeticError(t *testing.T) {
	// Consistent arithmetic all the way down to -5: the only finding must be
	// the negative closing balance.
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	records := []models.MovementRecord{
		rec("r1", base, "S1", models.LocationStore, "SKU-1", models.MovementDispatch, 100, 0, 0, 100),
		rec("r2", base.Add(time.Hour), "S1", models.LocationStore, "SKU-1", models.MovementStoreSale, 0, 20, 100, 80),
		rec("r3", base.Add(2*time.Hour), "S1", models.LocationStore, "SKU-1", models.MovementStoreSale, 0, 85, 80, -5),
	}

	res, err := Validate(records, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.Flags, 1)
	f := res.Flags[0]
	assert.Equal(t, models.FlagNegativeBalance, f.Kind)
	assert.Equal(t, "r3", f.RecordID)
	assert.Equal(t, models.LocationStore, f.LocationKind)
	assert.Equal(t, -5.0, f.Delta)
	assert.Len(t, res.Records, 3)
}

func TestValidateArithmeticMismatch(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	records := []models.MovementRecord{
		// 50 + 10 - 5 = 55, recorded closing balance says 60.
		rec("r1", base, "P1", models.LocationPlant, "SKU-1", models.MovementProduction, 10, 5, 50, 60),
	}

	res, err := Validate(records, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.Flags, 1)
	assert.Equal(t, models.FlagBalanceArithmetic, res.Flags[0].Kind)
	assert.InDelta(t, 5.0, res.Flags[0].Delta, 1e-9)
}

func TestValidateBalanceTolerance(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	records := []models.MovementRecord{
		rec("r1", base, "P1", models.LocationPlant, "SKU-1", models.MovementProduction, 10, 0, 50, 60.3),
	}

	opts := DefaultOptions()
	opts.BalanceTolerance = 0.5
	res, err := Validate(records, opts)
	require.NoError(t, err)
	assert.Empty(t, res.Flags)
}

func TestValidateContinuityGapPerTimeline(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	records := []models.MovementRecord{
		rec("r1", base, "P1", models.LocationPlant, "SKU-1", models.MovementProduction, 100, 0, 0, 100),
		// Different (location, sku) timeline interleaved: must not trip continuity.
		rec("r2", base.Add(30*time.Minute), "S1", models.LocationStore, "SKU-1", models.MovementDispatch, 40, 0, 0, 40),
		// Same timeline as r1 but opens at 90 instead of 100.
		rec("r3", base.Add(time.Hour), "P1", models.LocationPlant, "SKU-1", models.MovementDispatch, 0, 40, 90, 50),
	}

	res, err := Validate(records, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.Flags, 1)
	f := res.Flags[0]
	assert.Equal(t, models.FlagContinuityGap, f.Kind)
	assert.Equal(t, "r3", f.RecordID)
	assert.InDelta(t, -10.0, f.Delta, 1e-9)
}

func TestValidateLargeAdjustment(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	records := []models.MovementRecord{
		rec("r1", base, "P1", models.LocationPlant, "SKU-1", models.MovementAdjustment, 0, 150, 500, 350),
		rec("r2", base.Add(time.Hour), "P1", models.LocationPlant, "SKU-1", models.MovementAdjustment, 0, 50, 350, 300),
	}

	res, err := Validate(records, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.Flags, 1)
	assert.Equal(t, models.FlagLargeAdjustment, res.Flags[0].Kind)
	assert.Equal(t, "r1", res.Flags[0].RecordID)
	assert.InDelta(t, -150.0, res.Flags[0].Delta, 1e-9)
}

func TestValidateRejectPolicyExcludesButStillFlags(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	records := []models.MovementRecord{
		rec("r1", base, "S1", models.LocationStore, "SKU-1", models.MovementStoreSale, 0, 5, 3, -2),
		rec("r2", base.Add(time.Hour), "S1", models.LocationStore, "SKU-1", models.MovementDispatch, 10, 0, -2, 8),
	}

	opts := DefaultOptions()
	opts.NegativeBalancePolicy = PolicyReject
	res, err := Validate(records, opts)
	require.NoError(t, err)

	// r1 is flagged and excluded; r2 survives and continues cleanly from r1's
	// closing balance because the rejected record still advances the timeline.
	require.Len(t, res.Records, 1)
	assert.Equal(t, "r2", res.Records[0].RecordID)
	require.Len(t, res.Flags, 1)
	assert.Equal(t, models.FlagNegativeBalance, res.Flags[0].Kind)
	assert.Equal(t, "r1", res.Flags[0].RecordID)
}

func TestValidateMultipleFlagsOnOneRecord(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	records := []models.MovementRecord{
		// Arithmetic broken (10 - 20 != -15 from 10) and closing balance negative.
		rec("r1", base, "S1", models.LocationStore, "SKU-1", models.MovementStoreSale, 0, 20, 10, -15),
	}

	res, err := Validate(records, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.Flags, 2)
	kinds := []models.LedgerFlagKind{res.Flags[0].Kind, res.Flags[1].Kind}
	assert.Contains(t, kinds, models.FlagBalanceArithmetic)
	assert.Contains(t, kinds, models.FlagNegativeBalance)
}

func TestValidateBadOptions(t *testing.T) {
	_, err := Validate(nil, Options{BalanceTolerance: -1})
	require.Error(t, err)
	var cfgErr *utils.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = Validate(nil, Options{NegativeBalancePolicy: "drop"})
	assert.ErrorAs(t, err, &cfgErr)
}

func TestValidateEmptyBatch(t *testing.T) {
	res, err := Validate(nil, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Empty(t, res.Flags)
}
