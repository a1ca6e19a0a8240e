package detect

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/ledgerstack/recon-engine/internal/models"
	"github.com/ledgerstack/recon-engine/internal/utils"
)

// NaNPolicy decides what happens to non-finite feature values before fitting
// or scoring. Silently passing NaNs into the scorer is forbidden.
type NaNPolicy string

const (
	// NaNReject fails the batch on the first non-finite value.
	NaNReject NaNPolicy = "reject"
	// NaNImputeZero replaces non-finite values with 0 in a copy of the row.
	NaNImputeZero NaNPolicy = "impute_zero"
)

// ModelOptions configures isolation-forest fitting.
type ModelOptions struct {
	Trees      int
	SampleSize int
	// Contamination is the expected anomaly fraction; it calibrates the
	// score-to-flag threshold from the training scores.
	Contamination float64
	Seed          int64
	NaNPolicy     NaNPolicy
}

// DefaultModelOptions returns 100 trees on 256-row subsamples with 5%
// contamination and the reject NaN policy.
func DefaultModelOptions() ModelOptions {
	return ModelOptions{
		Trees:         100,
		SampleSize:    256,
		Contamination: 0.05,
		Seed:          42,
		NaNPolicy:     NaNReject,
	}
}

func (o ModelOptions) validate() error {
	if o.Trees < 1 {
		return utils.NewConfigurationError("trees", "must be >= 1")
	}
	if o.SampleSize < 2 {
		return utils.NewConfigurationError("sampleSize", "must be >= 2")
	}
	if math.IsNaN(o.Contamination) || o.Contamination <= 0 || o.Contamination > 0.5 {
		return utils.NewConfigurationError("contamination", "must be in (0, 0.5]")
	}
	switch o.NaNPolicy {
	case NaNReject, NaNImputeZero, "":
	default:
		return utils.NewConfigurationError("nanPolicy", fmt.Sprintf("unknown policy %q", o.NaNPolicy))
	}
	return nil
}

// ModelFitError reports a structurally unfittable batch: empty input, a
// degenerate feature matrix, or rejected non-finite values. Fatal for the
// batch, unlike per-record findings.
type ModelFitError struct {
	Reason string
	Err    error
}

func (e *ModelFitError) Error() string {
	if e.Err == nil {
		return "model fit: " + e.Reason
	}
	return fmt.Sprintf("model fit: %s: %v", e.Reason, e.Err)
}

func (e *ModelFitError) Unwrap() error {
	return e.Err
}

type isoNode struct {
	feature int
	split   float64
	left    *isoNode
	right   *isoNode
	size    int
}

// IsolationForest is a fitted model handle. It is immutable after Fit:
// concurrent Score calls against the same handle are safe. Splits are drawn
// per feature within the feature's own range, so the algorithm is
// scale-invariant; features need no prior normalization and adding one would
// change nothing but the constants.
type IsolationForest struct {
	opts       ModelOptions
	names      []string
	dims       int
	sampleSize int
	trees      []*isoNode
	maxDepth   int
	threshold  float64
}

// Fit trains an isolation forest over the feature matrix. Results are
// deterministic for a fixed seed. The returned handle can score any
// same-shape matrix without refitting.
func Fit(matrix *models.FeatureMatrix, opts ModelOptions) (*IsolationForest, error) {
	if opts == (ModelOptions{}) {
		opts = DefaultModelOptions()
	}
	if opts.NaNPolicy == "" {
		opts.NaNPolicy = NaNReject
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := matrix.Validate(); err != nil {
		return nil, &ModelFitError{Reason: "invalid feature matrix", Err: err}
	}

	rows, err := prepareRows(matrix, opts.NaNPolicy)
	if err != nil {
		return nil, err
	}
	if !hasVariance(rows) {
		return nil, &ModelFitError{Reason: "feature matrix has zero variance in every column"}
	}

	sampleSize := opts.SampleSize
	if sampleSize > len(rows) {
		sampleSize = len(rows)
	}
	if sampleSize < 2 {
		return nil, &ModelFitError{Reason: fmt.Sprintf("need at least 2 rows, got %d", len(rows))}
	}

	forest := &IsolationForest{
		opts:       opts,
		names:      append([]string(nil), matrix.Names...),
		dims:       matrix.Dims(),
		sampleSize: sampleSize,
		maxDepth:   int(math.Ceil(math.Log2(float64(sampleSize)))),
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	forest.trees = make([]*isoNode, opts.Trees)
	for i := range forest.trees {
		perm := rng.Perm(len(rows))[:sampleSize]
		forest.trees[i] = buildTree(rows, perm, 0, forest.maxDepth, rng)
	}

	scores := make([]float64, len(rows))
	for i, row := range rows {
		scores[i] = forest.signedScore(row)
	}
	forest.threshold = contaminationThreshold(scores, opts.Contamination)

	return forest, nil
}

// Score assigns each row a signed isolation score and an anomaly flag using
// the threshold calibrated at fit time. More negative means more isolated.
func (f *IsolationForest) Score(matrix *models.FeatureMatrix) ([]models.AnomalyFlag, error) {
	if err := matrix.Validate(); err != nil {
		return nil, utils.NewAppError("detect.Score", "invalid feature matrix", err)
	}
	if matrix.Dims() != f.dims {
		return nil, utils.NewAppError("detect.Score",
			fmt.Sprintf("feature matrix has %d columns, model was fitted on %d", matrix.Dims(), f.dims), nil)
	}
	rows, err := prepareRows(matrix, f.opts.NaNPolicy)
	if err != nil {
		return nil, err
	}

	flags := make([]models.AnomalyFlag, len(rows))
	for i, row := range rows {
		score := f.signedScore(row)
		flags[i] = models.AnomalyFlag{
			RecordID:   matrix.RecordIDs[i],
			Detector:   models.DetectorModel,
			MetricName: "isolation_score",
			Score:      score,
			IsAnomaly:  score <= f.threshold,
		}
	}
	return flags, nil
}

// Threshold returns the signed-score cut calibrated from the training
// contamination.
func (f *IsolationForest) Threshold() float64 {
	return f.threshold
}

// FeatureNames returns the fitted feature column order.
func (f *IsolationForest) FeatureNames() []string {
	return append([]string(nil), f.names...)
}

func (f *IsolationForest) signedScore(row []float64) float64 {
	total := 0.0
	for _, tree := range f.trees {
		total += pathLength(tree, row, 0)
	}
	avg := total / float64(len(f.trees))
	// Standard isolation score s in (0, 1], mapped to a signed score where
	// 0.5 - s < 0 marks shorter-than-average paths (isolated points).
	s := math.Pow(2, -avg/averagePathLength(f.sampleSize))
	return 0.5 - s
}

func buildTree(rows [][]float64, idxs []int, depth, maxDepth int, rng *rand.Rand) *isoNode {
	if depth >= maxDepth || len(idxs) <= 1 {
		return &isoNode{feature: -1, size: len(idxs)}
	}

	splittable := make([]int, 0, len(rows[idxs[0]]))
	for f := range rows[idxs[0]] {
		lo, hi := featureRange(rows, idxs, f)
		if hi > lo {
			splittable = append(splittable, f)
		}
	}
	if len(splittable) == 0 {
		return &isoNode{feature: -1, size: len(idxs)}
	}

	feature := splittable[rng.Intn(len(splittable))]
	lo, hi := featureRange(rows, idxs, feature)
	split := lo + rng.Float64()*(hi-lo)

	var left, right []int
	for _, i := range idxs {
		if rows[i][feature] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{feature: -1, size: len(idxs)}
	}

	return &isoNode{
		feature: feature,
		split:   split,
		left:    buildTree(rows, left, depth+1, maxDepth, rng),
		right:   buildTree(rows, right, depth+1, maxDepth, rng),
	}
}

func pathLength(node *isoNode, row []float64, depth int) float64 {
	if node.feature < 0 {
		return float64(depth) + averagePathLength(node.size)
	}
	if row[node.feature] < node.split {
		return pathLength(node.left, row, depth+1)
	}
	return pathLength(node.right, row, depth+1)
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// search in a binary search tree of n nodes.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	h := math.Log(float64(n-1)) + 0.5772156649015329
	return 2*h - 2*float64(n-1)/float64(n)
}

func featureRange(rows [][]float64, idxs []int, feature int) (float64, float64) {
	lo := rows[idxs[0]][feature]
	hi := lo
	for _, i := range idxs[1:] {
		v := rows[i][feature]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func prepareRows(matrix *models.FeatureMatrix, policy NaNPolicy) ([][]float64, error) {
	clean := make([][]float64, len(matrix.Rows))
	for i, row := range matrix.Rows {
		copied := false
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				if policy == NaNReject {
					return nil, &ModelFitError{
						Reason: fmt.Sprintf("non-finite value in feature %q for record %s", matrix.Names[j], matrix.RecordIDs[i]),
					}
				}
				if !copied {
					row = append([]float64(nil), row...)
					copied = true
				}
				row[j] = 0
			}
		}
		clean[i] = row
	}
	return clean, nil
}

func hasVariance(rows [][]float64) bool {
	if len(rows) < 2 {
		return false
	}
	for f := range rows[0] {
		first := rows[0][f]
		for _, row := range rows[1:] {
			if row[f] != first {
				return true
			}
		}
	}
	return false
}

// contaminationThreshold picks the signed-score cut so that roughly the
// contamination fraction of the training rows falls at or below it.
func contaminationThreshold(scores []float64, contamination float64) float64 {
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	k := int(math.Ceil(contamination * float64(len(sorted))))
	if k < 1 {
		k = 1
	}
	if k > len(sorted) {
		k = len(sorted)
	}
	return sorted[k-1]
}
