package ledger

import (
	"sort"

	"github.com/ledgerstack/recon-engine/internal/models"
)

// Stats is a derived view over a validation result, never stored state.
type Stats struct {
	Records             int
	ArithmeticErrors    int
	NegativeBalances    int
	ContinuityGaps      int
	LargeAdjustments    int
	ArithmeticErrorRate float64
	NegativeBalanceRate float64
	// NegativeByKind splits negative-balance findings between plants and
	// stores for downstream reporting.
	NegativeByKind map[models.LocationKind]int
}

// Summarize computes aggregate flag rates for a validation result.
func Summarize(res Result) Stats {
	stats := Stats{
		Records:        len(res.Records),
		NegativeByKind: make(map[models.LocationKind]int),
	}
	for _, f := range res.Flags {
		switch f.Kind {
		case models.FlagBalanceArithmetic:
			stats.ArithmeticErrors++
		case models.FlagNegativeBalance:
			stats.NegativeBalances++
			stats.NegativeByKind[f.LocationKind]++
		case models.FlagContinuityGap:
			stats.ContinuityGaps++
		case models.FlagLargeAdjustment:
			stats.LargeAdjustments++
		}
	}
	if stats.Records > 0 {
		stats.ArithmeticErrorRate = float64(stats.ArithmeticErrors) / float64(stats.Records)
		stats.NegativeBalanceRate = float64(stats.NegativeBalances) / float64(stats.Records)
	}
	return stats
}

// FlowTotals aggregates unit flow for one movement type.
type FlowTotals struct {
	Records int
	QtyIn   float64
	QtyOut  float64
	Net     float64
}

// MovementBreakdown sums unit flow per movement type.
func MovementBreakdown(records []models.MovementRecord) map[models.MovementType]FlowTotals {
	breakdown := make(map[models.MovementType]FlowTotals)
	for _, rec := range records {
		totals := breakdown[rec.MovementType]
		totals.Records++
		totals.QtyIn += rec.QtyIn
		totals.QtyOut += rec.QtyOut
		totals.Net += rec.NetMovement()
		breakdown[rec.MovementType] = totals
	}
	return breakdown
}

// SKUTurnover summarises per-SKU flow and the closing balance of the last
// record seen for the SKU (records are expected in timestamp order).
type SKUTurnover struct {
	SKU           string
	QtyIn         float64
	QtyOut        float64
	LatestBalance float64
	// TurnoverRatio is QtyOut / QtyIn, 0 when nothing came in.
	TurnoverRatio float64
}

// Turnover derives per-SKU turnover rows, sorted by latest balance descending.
func Turnover(records []models.MovementRecord) []SKUTurnover {
	bySKU := make(map[string]*SKUTurnover)
	for _, rec := range records {
		row, ok := bySKU[rec.SKU]
		if !ok {
			row = &SKUTurnover{SKU: rec.SKU}
			bySKU[rec.SKU] = row
		}
		row.QtyIn += rec.QtyIn
		row.QtyOut += rec.QtyOut
		row.LatestBalance = rec.BalanceAfter
	}

	rows := make([]SKUTurnover, 0, len(bySKU))
	for _, row := range bySKU {
		if row.QtyIn > 0 {
			row.TurnoverRatio = row.QtyOut / row.QtyIn
		}
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].LatestBalance != rows[j].LatestBalance {
			return rows[i].LatestBalance > rows[j].LatestBalance
		}
		return rows[i].SKU < rows[j].SKU
	})
	return rows
}

// ShrinkageRate reports adjustment outflow as a fraction of total inbound
// stock, 0 when nothing came in.
func ShrinkageRate(records []models.MovementRecord) float64 {
	var totalIn, adjustmentOut float64
	for _, rec := range records {
		totalIn += rec.QtyIn
		if rec.MovementType == models.MovementAdjustment {
			adjustmentOut += rec.QtyOut
		}
	}
	if totalIn == 0 {
		return 0
	}
	return adjustmentOut / totalIn
}
