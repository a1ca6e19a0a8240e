package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ledgerstack/recon-engine/internal/engine"
	"github.com/ledgerstack/recon-engine/internal/metrics"
	"github.com/ledgerstack/recon-engine/internal/models"
	"github.com/ledgerstack/recon-engine/internal/utils"
)

// AnalysisService is the in-process facade the batch runner and any embedding
// collaborator call. It wraps the pipeline with metrics and latency tracking.
type AnalysisService struct {
	logger    *slog.Logger
	pipeline  *engine.Pipeline
	latencies *utils.LatencyTracker
}

// NewAnalysisService constructs the service facade.
func NewAnalysisService(logger *slog.Logger, pipeline *engine.Pipeline) *AnalysisService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisService{
		logger:    logger,
		pipeline:  pipeline,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Run executes one analysis batch.
func (s *AnalysisService) Run(ctx context.Context, req engine.AnalysisRequest) (engine.Report, error) {
	if s.pipeline == nil {
		return engine.Report{}, fmt.Errorf("pipeline not configured")
	}

	s.logger.Debug("analysis batch started",
		slog.String("dataset", req.Dataset), slog.Int("rows", len(req.Rows)))

	start := time.Now()
	report, err := s.pipeline.Analyze(ctx, req)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveBatch(duration, metrics.OutcomeError)
		s.logger.Error("analysis batch failed", slog.Any("error", err))
		return engine.Report{}, err
	}

	s.latencies.Observe(duration)
	metrics.ObserveBatch(duration, metrics.OutcomeSuccess)
	metrics.AddFlags("ledger", len(report.LedgerFlags))
	metrics.AddFlags(string(models.DetectorStatistical), countAnomalies(report, models.DetectorStatistical))
	metrics.AddFlags(string(models.DetectorModel), countAnomalies(report, models.DetectorModel))

	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := s.latencies.Percentile(95)
		s.logger.Info("batch latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}

	s.logger.Info("analysis batch complete",
		slog.String("run_id", report.RunID),
		slog.String("dataset", report.Dataset),
		slog.Int("records", report.Records),
		slog.Int("schema_rejected", report.SchemaRejected),
		slog.Int("ledger_flags", len(report.LedgerFlags)),
		slog.Int("anomaly_flags", len(report.AnomalyFlags)),
		slog.Duration("took", duration),
	)
	return report, nil
}

// LatencyP95 returns the current p95 batch latency.
func (s *AnalysisService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

func countAnomalies(report engine.Report, detector models.Detector) int {
	count := 0
	for _, f := range report.AnomalyFlags {
		if f.Detector == detector && f.IsAnomaly {
			count++
		}
	}
	return count
}
