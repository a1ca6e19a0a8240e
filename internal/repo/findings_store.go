package repo

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ledgerstack/recon-engine/internal/models"
	"github.com/ledgerstack/recon-engine/internal/patterns"
)

const findingsDDL = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	dataset       TEXT NOT NULL,
	records       INTEGER NOT NULL,
	ledger_flags  INTEGER NOT NULL,
	anomaly_flags INTEGER NOT NULL,
	created_at    TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger_flags (
	run_id        TEXT NOT NULL REFERENCES runs(run_id),
	record_id     TEXT NOT NULL,
	kind          TEXT NOT NULL,
	sku           TEXT NOT NULL,
	location_id   TEXT NOT NULL,
	location_kind TEXT NOT NULL,
	delta         REAL NOT NULL,
	detail        TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS anomaly_flags (
	run_id              TEXT NOT NULL REFERENCES runs(run_id),
	record_id           TEXT NOT NULL,
	detector            TEXT NOT NULL,
	metric              TEXT NOT NULL,
	group_key           TEXT NOT NULL,
	score               REAL NOT NULL,
	is_anomaly          INTEGER NOT NULL,
	insufficient_sample INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS reconciliation_results (
	run_id             TEXT NOT NULL REFERENCES runs(run_id),
	sku                TEXT NOT NULL,
	from_stage         TEXT NOT NULL,
	to_stage           TEXT NOT NULL,
	window_start       TIMESTAMP NOT NULL,
	expected_out       REAL NOT NULL,
	actual_in          REAL NOT NULL,
	flow_efficiency    REAL NOT NULL,
	efficiency_defined INTEGER NOT NULL,
	over_receipt       INTEGER NOT NULL,
	gap_units          REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS hotspots (
	run_id         TEXT NOT NULL REFERENCES runs(run_id),
	group_key      TEXT NOT NULL,
	metric         TEXT NOT NULL,
	detector       TEXT NOT NULL,
	flagged        INTEGER NOT NULL,
	total          INTEGER NOT NULL,
	flag_rate      REAL NOT NULL,
	mean_abs_score REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_flags_run ON ledger_flags(run_id);
CREATE INDEX IF NOT EXISTS idx_anomaly_flags_run ON anomaly_flags(run_id);
`

// FindingsStore persists analysis runs and their findings in SQLite so
// successive batches can be compared without re-running detection.
type FindingsStore struct {
	db *sqlx.DB
}

// NewFindingsStore opens (and if needed initialises) the store at path.
// ":memory:" gives an ephemeral store.
func NewFindingsStore(path string) (*FindingsStore, error) {
	if path == "" {
		return nil, fmt.Errorf("findings store path is required")
	}
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open findings store: %w", err)
	}
	if _, err := db.Exec(findingsDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialise findings store: %w", err)
	}
	return &FindingsStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *FindingsStore) Close() error {
	return s.db.Close()
}

// StoreRun inserts the run summary row.
func (s *FindingsStore) StoreRun(ctx context.Context, run models.AnalysisRun) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO runs (run_id, dataset, records, ledger_flags, anomaly_flags, created_at)
		VALUES (:run_id, :dataset, :records, :ledger_flags, :anomaly_flags, :created_at)`, run)
	if err != nil {
		return fmt.Errorf("store run %s: %w", run.RunID, err)
	}
	return nil
}

// StoreLedgerFlags persists ledger findings for a run.
func (s *FindingsStore) StoreLedgerFlags(ctx context.Context, runID string, flags []models.LedgerFlag) error {
	if len(flags) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, f := range flags {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO ledger_flags (run_id, record_id, kind, sku, location_id, location_kind, delta, detail)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				runID, f.RecordID, string(f.Kind), f.SKU, f.LocationID, string(f.LocationKind), f.Delta, f.Detail); err != nil {
				return fmt.Errorf("store ledger flag for record %s: %w", f.RecordID, err)
			}
		}
		return nil
	})
}

// StoreAnomalyFlags persists detector output for a run.
func (s *FindingsStore) StoreAnomalyFlags(ctx context.Context, runID string, flags []models.AnomalyFlag) error {
	if len(flags) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, f := range flags {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO anomaly_flags (run_id, record_id, detector, metric, group_key, score, is_anomaly, insufficient_sample)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				runID, f.RecordID, string(f.Detector), f.MetricName, f.GroupKey, f.Score, f.IsAnomaly, f.InsufficientSample); err != nil {
				return fmt.Errorf("store anomaly flag for record %s: %w", f.RecordID, err)
			}
		}
		return nil
	})
}

// StoreReconciliation persists flow reconciliation results for a run.
func (s *FindingsStore) StoreReconciliation(ctx context.Context, runID string, results []models.ReconciliationResult) error {
	if len(results) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, r := range results {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO reconciliation_results
					(run_id, sku, from_stage, to_stage, window_start, expected_out, actual_in, flow_efficiency, efficiency_defined, over_receipt, gap_units)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				runID, r.SKU, string(r.FromStage), string(r.ToStage), r.WindowStart,
				r.ExpectedOut, r.ActualIn, r.FlowEfficiency, r.EfficiencyDefined, r.OverReceipt, r.GapUnits); err != nil {
				return fmt.Errorf("store reconciliation for sku %s: %w", r.SKU, err)
			}
		}
		return nil
	})
}

// StoreHotspots persists mined hotspots for a run.
func (s *FindingsStore) StoreHotspots(ctx context.Context, runID string, hotspots []patterns.Hotspot) error {
	if len(hotspots) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, h := range hotspots {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO hotspots (run_id, group_key, metric, detector, flagged, total, flag_rate, mean_abs_score)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				runID, h.GroupKey, h.Metric, h.Detector, h.Flagged, h.Total, h.FlagRate, h.MeanAbsScore); err != nil {
				return fmt.Errorf("store hotspot %s/%s: %w", h.Metric, h.GroupKey, err)
			}
		}
		return nil
	})
}

// ListRuns returns the most recent runs, newest first.
func (s *FindingsStore) ListRuns(ctx context.Context, limit int) ([]models.AnalysisRun, error) {
	if limit <= 0 {
		limit = 20
	}
	runs := make([]models.AnalysisRun, 0, limit)
	err := s.db.SelectContext(ctx, &runs, `
		SELECT run_id, dataset, records, ledger_flags, anomaly_flags, created_at
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// FlagCounts returns per-detector anomaly counts for one run.
func (s *FindingsStore) FlagCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT detector, COUNT(*) FROM anomaly_flags
		WHERE run_id = ? AND is_anomaly = 1 GROUP BY detector`, runID)
	if err != nil {
		return nil, fmt.Errorf("flag counts for run %s: %w", runID, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var detector string
		var count int
		if err := rows.Scan(&detector, &count); err != nil {
			return nil, err
		}
		counts[detector] = count
	}
	return counts, rows.Err()
}

func (s *FindingsStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
