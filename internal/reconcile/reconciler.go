package reconcile

import (
	"sort"
	"time"

	"github.com/ledgerstack/recon-engine/internal/models"
	"github.com/ledgerstack/recon-engine/internal/utils"
)

// Options configures flow reconciliation.
type Options struct {
	Window models.WindowGranularity
}

// DefaultOptions returns daily windowing.
func DefaultOptions() Options {
	return Options{Window: models.WindowDay}
}

type flowKey struct {
	sku    string
	window time.Time
}

// Flow quantifies the unit gap between an upstream stage's outbound quantity
// and a downstream stage's inbound quantity per (sku, window) key.
//
// Source-stage qty_out is summed into expected_out and target-stage qty_in
// into actual_in, independently, so the ratio measures unit flow rather than
// record counts. Every key present on either side produces a result; a key
// missing on one side contributes an explicit zero, never a dropped row.
// Reconciliation is a pure function of its inputs: identical inputs yield
// identical result sets.
func Flow(source, target []models.MovementRecord, from, to models.Stage, opts Options) ([]models.ReconciliationResult, error) {
	if opts.Window == "" {
		opts.Window = models.WindowDay
	}
	if !opts.Window.Valid() {
		return nil, utils.NewConfigurationError("windowGranularity", "must be one of hour, day, week")
	}

	expected := make(map[flowKey]float64)
	for _, rec := range source {
		key := flowKey{sku: rec.SKU, window: opts.Window.Truncate(rec.Timestamp)}
		expected[key] += rec.QtyOut
	}

	actual := make(map[flowKey]float64)
	for _, rec := range target {
		key := flowKey{sku: rec.SKU, window: opts.Window.Truncate(rec.Timestamp)}
		actual[key] += rec.QtyIn
	}

	keys := make(map[flowKey]struct{}, len(expected)+len(actual))
	for k := range expected {
		keys[k] = struct{}{}
	}
	for k := range actual {
		keys[k] = struct{}{}
	}

	results := make([]models.ReconciliationResult, 0, len(keys))
	for k := range keys {
		out := expected[k]
		in := actual[k]
		res := models.ReconciliationResult{
			SKU:         k.sku,
			FromStage:   from,
			ToStage:     to,
			WindowStart: k.window,
			ExpectedOut: out,
			ActualIn:    in,
			GapUnits:    out - in,
		}
		switch {
		case out > 0:
			res.FlowEfficiency = in / out
			res.EfficiencyDefined = true
		case in > 0:
			// Inbound units with no matching outbound: efficiency is
			// undefined, not zero, and the over-receipt is itself a finding.
			res.OverReceipt = true
		default:
			res.FlowEfficiency = 0
			res.EfficiencyDefined = true
		}
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].SKU != results[j].SKU {
			return results[i].SKU < results[j].SKU
		}
		return results[i].WindowStart.Before(results[j].WindowStart)
	})
	return results, nil
}
