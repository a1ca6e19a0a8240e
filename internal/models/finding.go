package models

import "time"

// Detector labels which detection method produced an anomaly flag.
type Detector string

const (
	DetectorStatistical Detector = "statistical"
	DetectorModel       Detector = "model"
)

// LedgerFlagKind enumerates ledger findings. Findings are data returned to the
// caller, never errors; anomalies are the expected primary output.
type LedgerFlagKind string

const (
	FlagBalanceArithmetic LedgerFlagKind = "balance_arithmetic_error"
	FlagNegativeBalance   LedgerFlagKind = "negative_balance"
	FlagContinuityGap     LedgerFlagKind = "continuity_gap"
	FlagLargeAdjustment   LedgerFlagKind = "large_adjustment"
)

// LedgerFlag marks a single ledger finding on one movement record.
type LedgerFlag struct {
	RecordID     string
	Kind         LedgerFlagKind
	SKU          string
	LocationID   string
	LocationKind LocationKind
	// Delta carries the magnitude of the finding: the arithmetic mismatch for
	// balance errors, the missing units for continuity gaps, the balance for
	// negative balances, the net movement for large adjustments.
	Delta  float64
	Detail string
}

// AnomalyFlag scores one record on one metric by one detector. Multiple flags
// may exist per record across detectors and metrics; no dedup is performed.
type AnomalyFlag struct {
	RecordID   string
	Detector   Detector
	MetricName string
	// GroupKey names the grouping the score was computed within,
	// e.g. "sku=SKU-001" or "sku=SKU-001|parameter=moisture_percent".
	GroupKey string
	// Score is the signed deviation in std-dev units for the statistical
	// detector, or the signed isolation score for the model detector.
	Score     float64
	IsAnomaly bool
	// InsufficientSample is set when the record's group was below the minimum
	// size; Score is meaningless and IsAnomaly always false in that case.
	InsufficientSample bool
}

// AnalysisRun summarises one batch run for persistence and listing.
type AnalysisRun struct {
	RunID        string    `db:"run_id"`
	Dataset      string    `db:"dataset"`
	Records      int       `db:"records"`
	LedgerFlags  int       `db:"ledger_flags"`
	AnomalyFlags int       `db:"anomaly_flags"`
	CreatedAt    time.Time `db:"created_at"`
}
