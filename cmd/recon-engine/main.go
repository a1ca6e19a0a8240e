package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ledgerstack/recon-engine/internal/config"
	"github.com/ledgerstack/recon-engine/internal/engine"
	"github.com/ledgerstack/recon-engine/internal/loader"
	"github.com/ledgerstack/recon-engine/internal/metrics"
	"github.com/ledgerstack/recon-engine/internal/models"
	"github.com/ledgerstack/recon-engine/internal/repo"
	"github.com/ledgerstack/recon-engine/internal/schema"
	"github.com/ledgerstack/recon-engine/internal/services"
	"github.com/ledgerstack/recon-engine/internal/utils"
)

func main() {
	var (
		configPath    string
		movementsPath string
		featuresPath  string
		dataset       string
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&movementsPath, "movements", "", "Path to movement records CSV")
	flag.StringVar(&featuresPath, "features", "", "Optional path to feature matrix CSV")
	flag.StringVar(&dataset, "dataset", "movements", "Dataset name recorded with the run")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting recon-engine", slog.String("dataset", dataset))

	if movementsPath == "" && featuresPath == "" {
		logger.Error("nothing to analyse: pass -movements and/or -features")
		os.Exit(2)
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Metrics.Address,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Metrics.Address))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	var store engine.FindingsStore
	if cfg.Store.Enabled {
		findings, err := repo.NewFindingsStore(cfg.Store.Path)
		if err != nil {
			logger.Error("failed to open findings store", slog.Any("error", err))
			os.Exit(1)
		}
		defer findings.Close()
		store = findings
	}

	specs, err := schema.LoadPack(cfg.Schemas.Path, logger)
	if err != nil {
		logger.Error("failed to load schema pack", slog.Any("error", err))
		os.Exit(1)
	}

	req := engine.AnalysisRequest{Dataset: dataset}
	if movementsPath != "" {
		rows, err := loader.LoadRows(movementsPath)
		if err != nil {
			logger.Error("failed to load movements", slog.String("path", movementsPath), slog.Any("error", err))
			os.Exit(1)
		}
		req.Rows = rows
	}
	if featuresPath != "" {
		features, err := loader.LoadFeatureMatrix(featuresPath, "record_id")
		if err != nil {
			logger.Error("failed to load features", slog.String("path", featuresPath), slog.Any("error", err))
			os.Exit(1)
		}
		req.Features = features
	}

	pipeline := engine.NewPipeline(logger, cfg.Analysis, store, specs)
	service := services.NewAnalysisService(logger, pipeline)

	report, err := service.Run(ctx, req)
	if err != nil {
		logger.Error("analysis failed", slog.Any("error", err))
		shutdownMetrics(metricsServer, logger)
		os.Exit(1)
	}

	logSummary(logger, report)
	shutdownMetrics(metricsServer, logger)
	logger.Info("recon-engine stopped")
}

func logSummary(logger *slog.Logger, report engine.Report) {
	stats := report.LedgerStats
	logger.Info("ledger summary",
		slog.Int("records", stats.Records),
		slog.Int("arithmetic_errors", stats.ArithmeticErrors),
		slog.Int("negative_balances", stats.NegativeBalances),
		slog.Int("continuity_gaps", stats.ContinuityGaps),
		slog.Float64("negative_balance_rate", stats.NegativeBalanceRate),
		slog.Int("plant_negatives", stats.NegativeByKind[models.LocationPlant]),
		slog.Int("store_negatives", stats.NegativeByKind[models.LocationStore]),
	)
	for _, res := range report.Reconciliation {
		if res.OverReceipt {
			logger.Warn("over-receipt: inbound units with no matching outbound",
				slog.String("sku", res.SKU), slog.Time("window", res.WindowStart),
				slog.Float64("actual_in", res.ActualIn))
			continue
		}
		if res.EfficiencyDefined && res.FlowEfficiency < 1 && res.ExpectedOut > 0 {
			logger.Info("flow gap",
				slog.String("sku", res.SKU), slog.Time("window", res.WindowStart),
				slog.Float64("efficiency", res.FlowEfficiency),
				slog.Float64("gap_units", res.GapUnits))
		}
	}
	limit := 5
	if len(report.Hotspots) < limit {
		limit = len(report.Hotspots)
	}
	for _, h := range report.Hotspots[:limit] {
		logger.Info("hotspot",
			slog.String("group", h.GroupKey), slog.String("metric", h.Metric),
			slog.String("detector", h.Detector), slog.Float64("flag_rate", h.FlagRate),
			slog.Int("flagged", h.Flagged))
	}
}

func shutdownMetrics(server *http.Server, logger *slog.Logger) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics server shutdown", slog.Any("error", err))
	}
}
