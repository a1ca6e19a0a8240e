package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ledgerstack/recon-engine/internal/config"
	"github.com/ledgerstack/recon-engine/internal/detect"
	"github.com/ledgerstack/recon-engine/internal/ledger"
	"github.com/ledgerstack/recon-engine/internal/models"
	"github.com/ledgerstack/recon-engine/internal/patterns"
	"github.com/ledgerstack/recon-engine/internal/reconcile"
	"github.com/ledgerstack/recon-engine/internal/schema"
)

// FindingsStore abstracts persistence for analysis runs and their findings.
type FindingsStore interface {
	StoreRun(ctx context.Context, run models.AnalysisRun) error
	StoreLedgerFlags(ctx context.Context, runID string, flags []models.LedgerFlag) error
	StoreAnomalyFlags(ctx context.Context, runID string, flags []models.AnomalyFlag) error
	StoreReconciliation(ctx context.Context, runID string, results []models.ReconciliationResult) error
	StoreHotspots(ctx context.Context, runID string, hotspots []patterns.Hotspot) error
}

// AnalysisRequest is one batch of raw movement rows plus an optional feature
// matrix assembled by the caller for model-based scoring.
type AnalysisRequest struct {
	Dataset  string
	Rows     []map[string]string
	Features *models.FeatureMatrix
}

// Report is the structured result of one batch run. Flags are the primary
// output; the presentation layer summarises rates, it does not crash on them.
type Report struct {
	RunID          string
	Dataset        string
	Records        int
	SchemaRejected int
	SchemaErrors   []*schema.SchemaError
	LedgerFlags    []models.LedgerFlag
	LedgerStats    ledger.Stats
	Reconciliation []models.ReconciliationResult
	AnomalyFlags   []models.AnomalyFlag
	Hotspots       []patterns.Hotspot
	CreatedAt      time.Time
}

// Pipeline orchestrates the batch flow: schema validation, ledger checks,
// cross-stage reconciliation, both anomaly detectors, and hotspot mining.
// Each run works on its own slices and returns its own result, so callers may
// run pipelines concurrently across independent datasets.
type Pipeline struct {
	logger    *slog.Logger
	cfg       config.AnalysisConfig
	store     FindingsStore
	miner     *patterns.Miner
	validator *schema.Validator
}

// NewPipeline constructs a Pipeline. store may be nil for dry runs; specs may
// override the built-in movement schema by dataset name.
func NewPipeline(logger *slog.Logger, cfg config.AnalysisConfig, store FindingsStore, specs map[string]schema.DatasetSpec) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	movementSpec := schema.MovementSpec()
	if spec, ok := specs[movementSpec.Name]; ok {
		movementSpec = spec
	}
	return &Pipeline{
		logger:    logger,
		cfg:       cfg,
		store:     store,
		miner:     patterns.NewMiner(logger),
		validator: schema.NewValidator(movementSpec),
	}
}

// Analyze runs the full batch flow and returns a Report. Per-record problems
// become flags; only structural problems (empty batch, bad configuration)
// abort the run.
func (p *Pipeline) Analyze(ctx context.Context, req AnalysisRequest) (Report, error) {
	if len(req.Rows) == 0 && req.Features == nil {
		return Report{}, fmt.Errorf("empty batch: no rows and no feature matrix")
	}
	if err := p.cfg.Validate(); err != nil {
		return Report{}, err
	}

	report := Report{
		RunID:     fmt.Sprintf("run-%d", time.Now().UnixNano()),
		Dataset:   req.Dataset,
		CreatedAt: time.Now().UTC(),
	}

	records := p.validateRows(req.Rows, &report)
	report.Records = len(records)

	if len(records) > 0 {
		// Ledger validation requires timestamp order per timeline; the
		// validator itself never re-sorts, so ordering is settled here.
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Timestamp.Before(records[j].Timestamp)
		})

		ledgerRes, err := ledger.Validate(records, ledger.Options{
			BalanceTolerance:         p.cfg.BalanceTolerance,
			NegativeBalancePolicy:    ledger.NegativeBalancePolicy(p.cfg.NegativeBalancePolicy),
			LargeAdjustmentThreshold: p.cfg.LargeAdjustmentThreshold,
		})
		if err != nil {
			return Report{}, err
		}
		report.LedgerFlags = ledgerRes.Flags
		report.LedgerStats = ledger.Summarize(ledgerRes)

		results, err := p.reconcileDispatch(records)
		if err != nil {
			return Report{}, err
		}
		report.Reconciliation = results

		statFlags, err := p.detectStatistical(records)
		if err != nil {
			return Report{}, err
		}
		report.AnomalyFlags = append(report.AnomalyFlags, statFlags...)
	}

	if req.Features != nil {
		modelFlags, err := p.scoreFeatures(req.Features)
		if err != nil {
			return Report{}, err
		}
		report.AnomalyFlags = append(report.AnomalyFlags, modelFlags...)
	}

	report.Hotspots = p.miner.Mine(report.AnomalyFlags, report.LedgerFlags)

	p.persist(ctx, &report)
	return report, nil
}

func (p *Pipeline) validateRows(rows []map[string]string, report *Report) []models.MovementRecord {
	records := make([]models.MovementRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := p.validator.Validate(row)
		if err != nil {
			report.SchemaRejected++
			if schemaErr, ok := err.(*schema.SchemaError); ok {
				report.SchemaErrors = append(report.SchemaErrors, schemaErr)
			}
			continue
		}
		records = append(records, schema.BuildMovementRecord(rec))
	}
	if report.SchemaRejected > 0 {
		p.logger.Warn("rejected rows during schema validation",
			slog.Int("rejected", report.SchemaRejected), slog.Int("accepted", len(records)))
	}
	return records
}

// reconcileDispatch pairs plant outbound dispatch against store inbound
// dispatch per (sku, window): the dispatch -> store leg of the chain.
func (p *Pipeline) reconcileDispatch(records []models.MovementRecord) ([]models.ReconciliationResult, error) {
	var source, target []models.MovementRecord
	for _, rec := range records {
		if rec.MovementType != models.MovementDispatch {
			continue
		}
		switch {
		case rec.LocationKind == models.LocationPlant && rec.QtyOut > 0:
			source = append(source, rec)
		case rec.LocationKind == models.LocationStore && rec.QtyIn > 0:
			target = append(target, rec)
		}
	}
	if len(source) == 0 && len(target) == 0 {
		return nil, nil
	}
	return reconcile.Flow(source, target, models.StageDispatch, models.StageStore, reconcile.Options{
		Window: models.WindowGranularity(p.cfg.WindowGranularity),
	})
}

// detectStatistical scores the two movement metrics worth watching on every
// ledger batch: waste outflow (percentile mode, waste counts are heavily
// skewed) and adjustment net movement (z-score mode).
func (p *Pipeline) detectStatistical(records []models.MovementRecord) ([]models.AnomalyFlag, error) {
	var wasteObs, adjObs []detect.Observation
	for _, rec := range records {
		switch rec.MovementType {
		case models.MovementWaste:
			wasteObs = append(wasteObs, detect.Observation{
				RecordID: rec.RecordID,
				GroupKey: "sku=" + rec.SKU,
				Value:    rec.QtyOut,
			})
		case models.MovementAdjustment:
			adjObs = append(adjObs, detect.Observation{
				RecordID: rec.RecordID,
				GroupKey: "sku=" + rec.SKU,
				Value:    rec.NetMovement(),
			})
		}
	}

	var flags []models.AnomalyFlag
	if len(wasteObs) > 0 {
		wasteFlags, err := detect.Statistical("waste_qty", wasteObs, detect.StatOptions{
			Mode:           detect.ModePercentile,
			StdThreshold:   p.cfg.StdThreshold,
			PercentileLow:  p.cfg.PercentileLow,
			PercentileHigh: p.cfg.PercentileHigh,
			MinGroupSize:   p.cfg.MinGroupSize,
		})
		if err != nil {
			return nil, fmt.Errorf("waste detection: %w", err)
		}
		flags = append(flags, wasteFlags...)
	}
	if len(adjObs) > 0 {
		adjFlags, err := detect.Statistical("adjustment_net", adjObs, detect.StatOptions{
			Mode:           detect.ModeZScore,
			StdThreshold:   p.cfg.StdThreshold,
			PercentileLow:  p.cfg.PercentileLow,
			PercentileHigh: p.cfg.PercentileHigh,
			MinGroupSize:   p.cfg.MinGroupSize,
		})
		if err != nil {
			return nil, fmt.Errorf("adjustment detection: %w", err)
		}
		flags = append(flags, adjFlags...)
	}
	return flags, nil
}

func (p *Pipeline) scoreFeatures(features *models.FeatureMatrix) ([]models.AnomalyFlag, error) {
	forest, err := detect.Fit(features, detect.ModelOptions{
		Trees:         p.cfg.Trees,
		SampleSize:    p.cfg.SampleSize,
		Contamination: p.cfg.Contamination,
		Seed:          p.cfg.RandomSeed,
		NaNPolicy:     detect.NaNPolicy(p.cfg.NaNPolicy),
	})
	if err != nil {
		return nil, fmt.Errorf("model fit: %w", err)
	}
	flags, err := forest.Score(features)
	if err != nil {
		return nil, fmt.Errorf("model score: %w", err)
	}
	return flags, nil
}

func (p *Pipeline) persist(ctx context.Context, report *Report) {
	if p.store == nil {
		return
	}
	run := models.AnalysisRun{
		RunID:        report.RunID,
		Dataset:      report.Dataset,
		Records:      report.Records,
		LedgerFlags:  len(report.LedgerFlags),
		AnomalyFlags: len(report.AnomalyFlags),
		CreatedAt:    report.CreatedAt,
	}
	if err := p.store.StoreRun(ctx, run); err != nil {
		p.logger.Warn("failed to persist run", slog.Any("error", err))
		return
	}
	if err := p.store.StoreLedgerFlags(ctx, report.RunID, report.LedgerFlags); err != nil {
		p.logger.Warn("failed to persist ledger flags", slog.Any("error", err))
	}
	if err := p.store.StoreAnomalyFlags(ctx, report.RunID, report.AnomalyFlags); err != nil {
		p.logger.Warn("failed to persist anomaly flags", slog.Any("error", err))
	}
	if err := p.store.StoreReconciliation(ctx, report.RunID, report.Reconciliation); err != nil {
		p.logger.Warn("failed to persist reconciliation results", slog.Any("error", err))
	}
	if err := p.store.StoreHotspots(ctx, report.RunID, report.Hotspots); err != nil {
		p.logger.Warn("failed to persist hotspots", slog.Any("error", err))
	}
}
