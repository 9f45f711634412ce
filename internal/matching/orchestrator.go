// Package matching resolves job and candidate texts into vectors and ranks them.
package matching

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/embedmatch/internal/cache"
	"github.com/spigell/embedmatch/internal/config"
	"github.com/spigell/embedmatch/internal/embedding"
	"github.com/spigell/embedmatch/internal/logger"
	"github.com/spigell/embedmatch/internal/retry"
	"github.com/spigell/embedmatch/internal/similarity"
	"github.com/spigell/embedmatch/internal/utils"
)

const previewLength = 60

// Settings controls a matching run.
type Settings struct {
	ConcurrencyLimit int
	TopK             int
	MinScore         float64
	Metric           similarity.Metric
	Mode             similarity.Mode
	Retry            retry.Policy
}

// SettingsFrom converts a validated configuration.
func SettingsFrom(cfg config.Config) Settings {
	return Settings{
		ConcurrencyLimit: cfg.ConcurrencyLimit,
		TopK:             cfg.Ranking.TopK,
		MinScore:         cfg.Ranking.MinScore,
		Metric:           cfg.Metric(),
		Mode:             cfg.Mode(),
		Retry:            cfg.RetryPolicy(),
	}
}

// Orchestrator runs matches against one provider and cache.
type Orchestrator struct {
	provider embedding.Provider
	cache    *cache.Cache
	engine   *similarity.Engine
	settings Settings
	logger   *zap.Logger
}

// New validates settings and builds an orchestrator.
func New(provider embedding.Provider, c *cache.Cache, settings Settings, log *zap.Logger) (*Orchestrator, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider is required", embedding.ErrBackendConfig)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: cache is required", embedding.ErrBackendConfig)
	}
	if settings.ConcurrencyLimit < 1 {
		return nil, fmt.Errorf("%w: concurrency limit must be at least 1, got %d", embedding.ErrBackendConfig, settings.ConcurrencyLimit)
	}
	if settings.TopK < 1 {
		return nil, fmt.Errorf("%w: top-k must be at least 1, got %d", embedding.ErrBackendConfig, settings.TopK)
	}
	if math.IsNaN(settings.MinScore) {
		return nil, fmt.Errorf("%w: min score is NaN", embedding.ErrBackendConfig)
	}
	if settings.Retry.Retryable == nil {
		settings.Retry.Retryable = embedding.IsRetryable
	}

	engine, err := similarity.NewEngine(settings.Metric, settings.Mode)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Orchestrator{
		provider: provider,
		cache:    c,
		engine:   engine,
		settings: settings,
		logger:   log,
	}, nil
}

type task struct {
	item Item
	role Role

	record   *embedding.VectorRecord
	err      error
	attempts int
}

// Match embeds every job and candidate and ranks the resolved ones.
//
// Items that fail are reported in Result.Failures and excluded from ranking.
// Only cancellation and inconsistent vectors abort the run.
func (o *Orchestrator) Match(ctx context.Context, jobs, candidates []Item) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := o.logger.With(logger.RunFields(runID, o.provider.ID())...)

	log.Info("starting match",
		zap.Int("jobs", len(jobs)),
		zap.Int("candidates", len(candidates)),
		zap.String("mode", string(o.engine.Mode())),
		zap.String("metric", string(o.engine.Metric())),
	)

	tasks := append(newTasks(jobs, RoleJob), newTasks(candidates, RoleCandidate)...)
	markDuplicates(tasks)

	var hits, misses atomic.Int64
	policy := o.settings.Retry
	userOnRetry := policy.OnRetry

	g := errgroup.Group{}
	g.SetLimit(o.settings.ConcurrencyLimit)
	for _, t := range tasks {
		if t.err != nil {
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				t.err = ctx.Err()
				return nil
			}

			p := policy
			p.OnRetry = func(attempt int, delay time.Duration, err error) {
				log.Debug("retrying embedding",
					zap.String("ref", t.item.Ref),
					zap.String("role", string(t.role)),
					zap.Int("attempt", attempt),
					zap.Duration("delay", delay),
					zap.Error(err),
				)
				if userOnRetry != nil {
					userOnRetry(attempt, delay, err)
				}
			}

			rec, attempts, err := retry.Do(ctx, p, func(ctx context.Context, _ int) (*embedding.VectorRecord, error) {
				rec, hit, err := o.cache.GetOrCompute(ctx, o.provider, t.item.Text)
				if hit {
					hits.Add(1)
				} else {
					misses.Add(1)
				}
				return rec, err
			})
			t.record, t.attempts, t.err = rec, attempts, err
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		log.Warn("match canceled", zap.Error(err))
		return nil, err
	}

	result := &Result{
		RunID:     runID,
		BackendID: o.provider.ID(),
		Metric:    o.engine.Metric(),
		Mode:      o.engine.Mode(),
		Failures:  []Failure{},
		Stats: Stats{
			Jobs:       len(jobs),
			Candidates: len(candidates),
		},
	}

	var jobRecords, candidateRecords []similarity.Labeled
	for _, t := range tasks {
		if t.err != nil {
			failure := Failure{
				Ref:      t.item.Ref,
				Role:     t.role,
				Kind:     embedding.KindOf(t.err),
				Message:  t.err.Error(),
				Attempts: t.attempts,
			}
			result.Failures = append(result.Failures, failure)
			log.Warn("embedding failed",
				zap.String("ref", failure.Ref),
				zap.String("role", string(failure.Role)),
				zap.String("kind", string(failure.Kind)),
				zap.Int("attempts", failure.Attempts),
				zap.String("text_preview", utils.TruncateForLog(t.item.Text, previewLength)),
				zap.Error(t.err),
			)
			continue
		}

		labeled := similarity.Labeled{Ref: t.item.Ref, Record: t.record}
		if t.role == RoleJob {
			jobRecords = append(jobRecords, labeled)
		} else {
			candidateRecords = append(candidateRecords, labeled)
		}
	}

	matches, err := o.engine.Rank(jobRecords, candidateRecords, o.settings.TopK, o.settings.MinScore)
	if err != nil {
		return nil, fmt.Errorf("ranking: %w", err)
	}
	result.Matches = matches

	result.Stats.ResolvedJobs = len(jobRecords)
	result.Stats.ResolvedCandidates = len(candidateRecords)
	result.Stats.Failed = len(result.Failures)
	result.Stats.CacheHits = int(hits.Load())
	result.Stats.CacheMisses = int(misses.Load())
	result.Stats.Duration = time.Since(start)

	log.Info("match finished",
		zap.Int("matches", len(result.Matches)),
		zap.Int("resolved_jobs", result.Stats.ResolvedJobs),
		zap.Int("resolved_candidates", result.Stats.ResolvedCandidates),
		zap.Int("failed", result.Stats.Failed),
		zap.Int("cache_hits", result.Stats.CacheHits),
		zap.Int("cache_misses", result.Stats.CacheMisses),
		zap.Duration("duration", result.Stats.Duration),
	)

	return result, nil
}

func newTasks(items []Item, role Role) []*task {
	tasks := make([]*task, len(items))
	for i, item := range items {
		tasks[i] = &task{item: item, role: role}
	}
	return tasks
}

// markDuplicates fails every repeated ref on the same side after its first occurrence.
func markDuplicates(tasks []*task) {
	seen := make(map[Role]map[string]bool)
	for _, t := range tasks {
		if seen[t.role] == nil {
			seen[t.role] = make(map[string]bool)
		}
		if seen[t.role][t.item.Ref] {
			t.err = fmt.Errorf("%w: duplicate %s ref %q", embedding.ErrInvalidInput, t.role, t.item.Ref)
			continue
		}
		seen[t.role][t.item.Ref] = true
	}
}

// Run creates the named backend from cfg and matches jobs against candidates.
// A nil cache is replaced with a fresh one sized by cfg.
func Run(ctx context.Context, registry *embedding.Registry, c *cache.Cache, jobs, candidates []Item, cfg config.Config, log *zap.Logger) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	opts, err := cfg.ProviderOptions(log)
	if err != nil {
		return nil, err
	}
	provider, err := registry.Create(cfg.Backend, opts)
	if err != nil {
		return nil, err
	}

	if c == nil {
		c, err = cache.New(cfg.CacheCapacity, log)
		if err != nil {
			return nil, err
		}
	}

	o, err := New(provider, c, SettingsFrom(cfg), logger.WithBackendFields(log, cfg.Backend, cfg.Provider.Model))
	if err != nil {
		return nil, err
	}

	result, err := o.Match(ctx, jobs, candidates)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("match with %s: %w", cfg.Backend, err)
	}
	return result, err
}
