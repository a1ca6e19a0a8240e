package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ledgerstack/recon-engine/internal/utils"
)

// Config captures the settings required to run the reconciliation engine.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Store    StoreConfig    `yaml:"store"`
	Schemas  SchemasConfig  `yaml:"schemas"`
	Analysis AnalysisConfig `yaml:"analysis"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig controls the optional Prometheus listener. An empty address
// disables it, the usual setting for short batch runs.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// StoreConfig controls the SQLite findings store.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SchemasConfig points at an optional YAML schema pack overriding the
// built-in dataset specs.
type SchemasConfig struct {
	Path string `yaml:"path"`
}

// AnalysisConfig carries every detection and reconciliation option. The
// defaults are operating heuristics, not semantic guarantees; tune per
// deployment.
type AnalysisConfig struct {
	BalanceTolerance         float64 `yaml:"balanceTolerance"`
	NegativeBalancePolicy    string  `yaml:"negativeBalancePolicy"`
	LargeAdjustmentThreshold float64 `yaml:"largeAdjustmentThreshold"`
	WindowGranularity        string  `yaml:"windowGranularity"`
	StdThreshold             float64 `yaml:"stdThreshold"`
	PercentileLow            float64 `yaml:"percentileLow"`
	PercentileHigh           float64 `yaml:"percentileHigh"`
	MinGroupSize             int     `yaml:"minGroupSize"`
	Trees                    int     `yaml:"trees"`
	SampleSize               int     `yaml:"sampleSize"`
	Contamination            float64 `yaml:"contamination"`
	RandomSeed               int64   `yaml:"randomSeed"`
	NaNPolicy                string  `yaml:"nanPolicy"`
}

// Load initialises Config from a YAML file plus optional .env and environment
// overrides, and validates the result before any analysis runs.
func Load(path string) (*Config, error) {
	// Missing .env files are fine; explicit env vars still apply.
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("RECON_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Analysis.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", JSON: false},
		Store:   StoreConfig{Enabled: false, Path: "recon.db"},
		Analysis: AnalysisConfig{
			BalanceTolerance:         0,
			NegativeBalancePolicy:    "flag",
			LargeAdjustmentThreshold: 100,
			WindowGranularity:        "day",
			StdThreshold:             3.0,
			PercentileLow:            1,
			PercentileHigh:           99,
			MinGroupSize:             5,
			Trees:                    100,
			SampleSize:               256,
			Contamination:            0.05,
			RandomSeed:               42,
			NaNPolicy:                "reject",
		},
	}
}

// Validate rejects option values no component could accept, before any
// computation starts.
func (a AnalysisConfig) Validate() error {
	if a.BalanceTolerance < 0 {
		return utils.NewConfigurationError("balanceTolerance", "must be >= 0")
	}
	switch a.NegativeBalancePolicy {
	case "flag", "reject":
	default:
		return utils.NewConfigurationError("negativeBalancePolicy", fmt.Sprintf("unknown policy %q", a.NegativeBalancePolicy))
	}
	switch a.WindowGranularity {
	case "hour", "day", "week":
	default:
		return utils.NewConfigurationError("windowGranularity", fmt.Sprintf("unknown granularity %q", a.WindowGranularity))
	}
	if a.StdThreshold <= 0 {
		return utils.NewConfigurationError("stdThreshold", "must be > 0")
	}
	if a.PercentileLow < 0 || a.PercentileHigh > 100 || a.PercentileLow >= a.PercentileHigh {
		return utils.NewConfigurationError("percentileBounds", "need 0 <= low < high <= 100")
	}
	if a.MinGroupSize < 1 {
		return utils.NewConfigurationError("minGroupSize", "must be >= 1")
	}
	if a.Trees < 1 {
		return utils.NewConfigurationError("trees", "must be >= 1")
	}
	if a.SampleSize < 2 {
		return utils.NewConfigurationError("sampleSize", "must be >= 2")
	}
	if a.Contamination <= 0 || a.Contamination > 0.5 {
		return utils.NewConfigurationError("contamination", "must be in (0, 0.5]")
	}
	switch a.NaNPolicy {
	case "reject", "impute_zero":
	default:
		return utils.NewConfigurationError("nanPolicy", fmt.Sprintf("unknown policy %q", a.NaNPolicy))
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RECON_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RECON_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("RECON_METRICS_ADDRESS"); v != "" {
		cfg.Metrics.Address = v
	}
	if v := os.Getenv("RECON_STORE_ENABLED"); v != "" {
		cfg.Store.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("RECON_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("RECON_SCHEMAS_PATH"); v != "" {
		cfg.Schemas.Path = v
	}
	if v := os.Getenv("RECON_BALANCE_TOLERANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Analysis.BalanceTolerance = f
		}
	}
	if v := os.Getenv("RECON_NEGATIVE_BALANCE_POLICY"); v != "" {
		cfg.Analysis.NegativeBalancePolicy = v
	}
	if v := os.Getenv("RECON_WINDOW_GRANULARITY"); v != "" {
		cfg.Analysis.WindowGranularity = v
	}
	if v := os.Getenv("RECON_STD_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Analysis.StdThreshold = f
		}
	}
	if v := os.Getenv("RECON_MIN_GROUP_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.MinGroupSize = n
		}
	}
	if v := os.Getenv("RECON_CONTAMINATION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Analysis.Contamination = f
		}
	}
	if v := os.Getenv("RECON_RANDOM_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Analysis.RandomSeed = n
		}
	}
	if v := os.Getenv("RECON_NAN_POLICY"); v != "" {
		cfg.Analysis.NaNPolicy = v
	}
}
