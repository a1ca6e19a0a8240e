package patterns

import (
	"log/slog"
	"math"
	"sort"

	"github.com/ledgerstack/recon-engine/internal/models"
)

// Hotspot aggregates flags for one (metric, group) into a recurring-problem
// summary: how often the group flags and how hard.
type Hotspot struct {
	GroupKey     string  `db:"group_key"`
	Metric       string  `db:"metric"`
	Detector     string  `db:"detector"`
	Flagged      int     `db:"flagged"`
	Total        int     `db:"total"`
	FlagRate     float64 `db:"flag_rate"`
	MeanAbsScore float64 `db:"mean_abs_score"`
}

// Miner aggregates per-record findings into group-level hotspots so reports
// can lead with the worst SKUs and locations instead of raw flag lists.
type Miner struct {
	logger *slog.Logger
}

// NewMiner constructs a Miner.
func NewMiner(logger *slog.Logger) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{logger: logger}
}

// Mine rolls anomaly and ledger flags up into hotspots, sorted by flag rate
// then flagged count. Insufficient-sample flags count toward group size but
// never toward the flagged tally.
func (m *Miner) Mine(anomalies []models.AnomalyFlag, ledgerFlags []models.LedgerFlag) []Hotspot {
	type aggregate struct {
		flagged  int
		total    int
		absScore float64
	}
	type key struct {
		group    string
		metric   string
		detector string
	}

	stats := make(map[key]*aggregate)
	ensure := func(k key) *aggregate {
		agg, ok := stats[k]
		if !ok {
			agg = &aggregate{}
			stats[k] = agg
		}
		return agg
	}

	for _, f := range anomalies {
		agg := ensure(key{group: f.GroupKey, metric: f.MetricName, detector: string(f.Detector)})
		agg.total++
		if f.InsufficientSample {
			continue
		}
		if f.IsAnomaly {
			agg.flagged++
			agg.absScore += math.Abs(f.Score)
		}
	}

	for _, f := range ledgerFlags {
		agg := ensure(key{group: "sku=" + f.SKU, metric: string(f.Kind), detector: "ledger"})
		agg.total++
		agg.flagged++
		agg.absScore += math.Abs(f.Delta)
	}

	hotspots := make([]Hotspot, 0, len(stats))
	for k, agg := range stats {
		if agg.flagged == 0 {
			continue
		}
		hotspots = append(hotspots, Hotspot{
			GroupKey:     k.group,
			Metric:       k.metric,
			Detector:     k.detector,
			Flagged:      agg.flagged,
			Total:        agg.total,
			FlagRate:     float64(agg.flagged) / float64(agg.total),
			MeanAbsScore: agg.absScore / float64(agg.flagged),
		})
	}

	sort.Slice(hotspots, func(i, j int) bool {
		if hotspots[i].FlagRate != hotspots[j].FlagRate {
			return hotspots[i].FlagRate > hotspots[j].FlagRate
		}
		if hotspots[i].Flagged != hotspots[j].Flagged {
			return hotspots[i].Flagged > hotspots[j].Flagged
		}
		return hotspots[i].GroupKey < hotspots[j].GroupKey
	})

	if len(hotspots) > 0 {
		m.logger.Debug("mined hotspots", slog.Int("count", len(hotspots)))
	}
	return hotspots
}
