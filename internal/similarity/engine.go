// Package similarity ranks job/candidate pairs by vector similarity.
//
// The engine computes every pairwise score (brute force, O(J*C*D)); there is no
// approximate index, so results are exact.
package similarity

import (
	"cmp"
	"fmt"
	"math"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/spigell/embedmatch/internal/embedding"
)

// Labeled is a vector record together with the caller's opaque reference.
type Labeled struct {
	Ref    string
	Record *embedding.VectorRecord
}

// Pair is one ranked job/candidate match.
type Pair struct {
	JobRef       string  `json:"job_ref" yaml:"job_ref"`
	CandidateRef string  `json:"candidate_ref" yaml:"candidate_ref"`
	Score        float64 `json:"score" yaml:"score"`
	Rank         int     `json:"rank" yaml:"rank"`
}

// Engine scores and ranks pairs with a fixed metric and mode.
type Engine struct {
	metric  Metric
	mode    Mode
	workers int
}

// Option customizes an Engine.
type Option func(*Engine)

// WithWorkers bounds the number of goroutines scoring jobs in parallel.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// NewEngine validates metric and mode and returns an engine.
func NewEngine(metric Metric, mode Mode, opts ...Option) (*Engine, error) {
	m, err := ParseMetric(string(metric))
	if err != nil {
		return nil, err
	}
	md, err := ParseMode(string(mode))
	if err != nil {
		return nil, err
	}

	e := &Engine{metric: m, mode: md, workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Metric() Metric { return e.metric }
func (e *Engine) Mode() Mode     { return e.mode }

// Rank scores every job against every candidate and returns the ranked pairs.
//
// Pairs scoring below minScore are dropped before topK is applied. Output is
// ordered by score descending, then job ref and candidate ref ascending. In
// per-job mode Rank is the position within the job's own list; in global mode
// it is the position in the whole output.
//
// All records must come from one backend; otherwise ErrBackendMismatch is returned.
func (e *Engine) Rank(jobs, candidates []Labeled, topK int, minScore float64) ([]Pair, error) {
	if topK < 1 {
		return nil, fmt.Errorf("%w: top-k must be at least 1, got %d", embedding.ErrInvalidInput, topK)
	}
	if math.IsNaN(minScore) {
		return nil, fmt.Errorf("%w: min score is NaN", embedding.ErrInvalidInput)
	}
	if err := checkCompatible(jobs, candidates); err != nil {
		return nil, err
	}
	if len(jobs) == 0 || len(candidates) == 0 {
		return []Pair{}, nil
	}

	jobVecs := prepareAll(jobs)
	cands := prepareAll(candidates)
	if err := e.metric.checkUnit(jobVecs); err != nil {
		return nil, err
	}
	if err := e.metric.checkUnit(cands); err != nil {
		return nil, err
	}

	perJob := make([][]Pair, len(jobVecs))
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, job := range jobVecs {
		g.Go(func() error {
			perJob[i] = e.scoreJob(job, cands, minScore)
			return nil
		})
	}
	_ = g.Wait()

	var out []Pair
	switch e.mode {
	case ModeGlobal:
		for _, pairs := range perJob {
			out = append(out, pairs...)
		}
		sortPairs(out)
		out = out[:min(topK, len(out))]
		for i := range out {
			out[i].Rank = i + 1
		}
	default:
		for _, pairs := range perJob {
			sortPairs(pairs)
			pairs = pairs[:min(topK, len(pairs))]
			for i := range pairs {
				pairs[i].Rank = i + 1
			}
			out = append(out, pairs...)
		}
		sortPairs(out)
	}

	if out == nil {
		out = []Pair{}
	}
	return out, nil
}

// Score returns the similarity of two records under the engine metric.
func (e *Engine) Score(a, b *embedding.VectorRecord) (float64, error) {
	if err := checkCompatible([]Labeled{{Record: a}}, []Labeled{{Record: b}}); err != nil {
		return 0, err
	}
	va, vb := prepare("a", a), prepare("b", b)
	if err := e.metric.checkUnit([]vector{va, vb}); err != nil {
		return 0, err
	}
	return e.metric.score(va, vb), nil
}

func prepareAll(items []Labeled) []vector {
	out := make([]vector, len(items))
	for i, item := range items {
		out[i] = prepare(item.Ref, item.Record)
	}
	return out
}

func (e *Engine) scoreJob(job vector, cands []vector, minScore float64) []Pair {
	pairs := make([]Pair, 0, len(cands))
	for _, c := range cands {
		s := e.metric.score(job, c)
		if math.IsNaN(s) || s < minScore {
			continue
		}
		pairs = append(pairs, Pair{JobRef: job.ref, CandidateRef: c.ref, Score: s})
	}
	return pairs
}

func sortPairs(pairs []Pair) {
	slices.SortStableFunc(pairs, func(a, b Pair) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.JobRef, b.JobRef); c != 0 {
			return c
		}
		return cmp.Compare(a.CandidateRef, b.CandidateRef)
	})
}

func checkCompatible(jobs, candidates []Labeled) error {
	var backendID string
	var dims int
	for _, set := range [][]Labeled{jobs, candidates} {
		for _, item := range set {
			if item.Record == nil {
				return fmt.Errorf("%w: record for %q is missing", embedding.ErrInvalidInput, item.Ref)
			}
			if backendID == "" {
				backendID, dims = item.Record.BackendID(), item.Record.Dimensions()
				continue
			}
			if item.Record.BackendID() != backendID {
				return fmt.Errorf("%w: %q was embedded by %s, expected %s",
					embedding.ErrBackendMismatch, item.Ref, item.Record.BackendID(), backendID)
			}
			if item.Record.Dimensions() != dims {
				return fmt.Errorf("%w: %q has %d dimensions, expected %d",
					embedding.ErrBackendMismatch, item.Ref, item.Record.Dimensions(), dims)
			}
		}
	}
	return nil
}
