package similarity

import (
	"fmt"
	"math"
	"strings"

	"github.com/spigell/embedmatch/internal/embedding"
)

// Metric names the scoring function used by an engine. One engine uses one
// metric, so scores of different scales never meet in a ranking.
type Metric string

const (
	// MetricCosine scores in [-1, 1].
	MetricCosine Metric = "cosine"
	// MetricDot is the dot product of unit vectors, in [-1, 1]. Ranking fails
	// with ErrBackendConfig when a backend emits vectors of another length.
	MetricDot Metric = "dot"
	// MetricEuclidean maps euclidean distance d to 1/(1+d) in (0, 1].
	MetricEuclidean Metric = "euclidean"
)

// unitTolerance is how far a vector norm may drift from 1 under MetricDot.
const unitTolerance = 1e-3

// Range returns the closed interval every score of the metric falls into.
func (m Metric) Range() (lo, hi float64) {
	if m == MetricEuclidean {
		return 0, 1
	}
	return -1, 1
}

// ParseMetric parses a metric name. The empty string selects cosine.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return MetricCosine, nil
	case MetricCosine, MetricDot, MetricEuclidean:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown similarity metric %q", embedding.ErrBackendConfig, s)
	}
}

// Mode selects how top-k truncation is applied.
type Mode string

const (
	// ModePerJob keeps the top-k candidates of every job; ranks restart per job.
	ModePerJob Mode = "per-job-top-k"
	// ModeGlobal keeps the top-k pairs across all jobs.
	ModeGlobal Mode = "global-top-k"
)

// ParseMode parses a ranking mode name. The empty string selects per-job mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModePerJob, nil
	case ModePerJob, ModeGlobal:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown ranking mode %q (expected %q or %q)", embedding.ErrBackendConfig, s, ModePerJob, ModeGlobal)
	}
}

type vector struct {
	ref    string
	values []float64
	norm   float64
}

func prepare(ref string, rec *embedding.VectorRecord) vector {
	v := vector{ref: ref, values: make([]float64, rec.Dimensions())}
	rec.Values(func(src []float32) {
		for i, x := range src {
			v.values[i] = float64(x)
		}
	})

	var sum float64
	for _, x := range v.values {
		sum += x * x
	}
	v.norm = math.Sqrt(sum)
	return v
}

func (m Metric) score(a, b vector) float64 {
	switch m {
	case MetricDot:
		return clamp(dot(a.values, b.values))
	case MetricEuclidean:
		var sum float64
		for i := range a.values {
			d := a.values[i] - b.values[i]
			sum += d * d
		}
		return 1 / (1 + math.Sqrt(sum))
	default:
		if a.norm == 0 || b.norm == 0 {
			return 0
		}
		return clamp(dot(a.values, b.values) / (a.norm * b.norm))
	}
}

// checkUnit rejects vectors the dot metric cannot score on the [-1, 1] scale.
// Zero vectors are allowed and score 0.
func (m Metric) checkUnit(vectors []vector) error {
	if m != MetricDot {
		return nil
	}
	for _, v := range vectors {
		if v.norm != 0 && math.Abs(v.norm-1) > unitTolerance {
			return fmt.Errorf("%w: dot metric needs unit vectors, %q has norm %.4f (use cosine)",
				embedding.ErrBackendConfig, v.ref, v.norm)
		}
	}
	return nil
}

func clamp(s float64) float64 {
	return math.Max(-1, math.Min(1, s))
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
