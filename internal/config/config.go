// Package config holds the validated runtime configuration of embedmatch.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/embedmatch/internal/embedding"
	"github.com/spigell/embedmatch/internal/retry"
	"github.com/spigell/embedmatch/internal/secrets"
	"github.com/spigell/embedmatch/internal/similarity"
)

const (
	// EnvPrefix prefixes every environment override, e.g. EMBEDMATCH_BACKEND.
	EnvPrefix = "EMBEDMATCH"
	// APIKeyEnv is consulted when no api key is configured inline or in a file.
	APIKeyEnv = EnvPrefix + "_API_KEY"
)

type Config struct {
	Backend          string         `mapstructure:"backend" json:"backend" yaml:"backend"`
	Backends         BackendsConfig `mapstructure:"backends" json:"backends" yaml:"backends"`
	Provider         ProviderConfig `mapstructure:"provider" json:"provider" yaml:"provider"`
	CacheCapacity    int            `mapstructure:"cache-capacity" json:"cache_capacity" yaml:"cache-capacity"`
	ConcurrencyLimit int            `mapstructure:"concurrency-limit" json:"concurrency_limit" yaml:"concurrency-limit"`
	Retry            RetryConfig    `mapstructure:"retry" json:"retry" yaml:"retry"`
	Ranking          RankingConfig  `mapstructure:"ranking" json:"ranking" yaml:"ranking"`
}

type BackendsConfig struct {
	// Enabled limits the registered built-in backends. Empty enables all.
	Enabled []string `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
}

type ProviderConfig struct {
	APIKey     string  `mapstructure:"api-key" json:"-" yaml:"-"`
	APIKeyFile string  `mapstructure:"api-key-file" json:"api_key_file,omitempty" yaml:"api-key-file,omitempty"`
	Model      string  `mapstructure:"model" json:"model,omitempty" yaml:"model,omitempty"`
	ModelPath  string  `mapstructure:"model-path" json:"model_path,omitempty" yaml:"model-path,omitempty"`
	Dimensions int     `mapstructure:"dimensions" json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	TaskType   string  `mapstructure:"task-type" json:"task_type,omitempty" yaml:"task-type,omitempty"`
	RateLimit  float64 `mapstructure:"rate-limit" json:"rate_limit,omitempty" yaml:"rate-limit,omitempty"`
	Burst      int     `mapstructure:"burst" json:"burst,omitempty" yaml:"burst,omitempty"`
}

type RetryConfig struct {
	Count      int           `mapstructure:"count" json:"count" yaml:"count"`
	Backoff    time.Duration `mapstructure:"backoff" json:"backoff" yaml:"backoff"`
	MaxBackoff time.Duration `mapstructure:"max-backoff" json:"max_backoff" yaml:"max-backoff"`
}

type RankingConfig struct {
	Mode     string  `mapstructure:"mode" json:"mode" yaml:"mode"`
	Metric   string  `mapstructure:"metric" json:"metric" yaml:"metric"`
	MinScore float64 `mapstructure:"min-score" json:"min_score" yaml:"min-score"`
	TopK     int     `mapstructure:"top-k" json:"top_k" yaml:"top-k"`
}

// Default returns the configuration used for keys that are not set.
func Default() Config {
	r := retry.DefaultConfig()
	return Config{
		Backend:          "local",
		CacheCapacity:    10000,
		ConcurrencyLimit: 4,
		Retry: RetryConfig{
			Count:      r.MaxRetries,
			Backoff:    r.BaseDelay,
			MaxBackoff: r.MaxDelay,
		},
		Ranking: RankingConfig{
			Mode:     string(similarity.ModePerJob),
			Metric:   string(similarity.MetricCosine),
			MinScore: 0.5,
			TopK:     5,
		},
	}
}

// SetDefaults registers Default values in v so that env overrides and
// partially filled files resolve against them.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("backend", d.Backend)
	v.SetDefault("provider.api-key", "")
	v.SetDefault("provider.api-key-file", "")
	v.SetDefault("provider.model", "")
	v.SetDefault("provider.model-path", "")
	v.SetDefault("provider.dimensions", 0)
	v.SetDefault("provider.task-type", "")
	v.SetDefault("provider.rate-limit", 0.0)
	v.SetDefault("provider.burst", 0)
	v.SetDefault("cache-capacity", d.CacheCapacity)
	v.SetDefault("concurrency-limit", d.ConcurrencyLimit)
	v.SetDefault("retry.count", d.Retry.Count)
	v.SetDefault("retry.backoff", d.Retry.Backoff)
	v.SetDefault("retry.max-backoff", d.Retry.MaxBackoff)
	v.SetDefault("ranking.mode", d.Ranking.Mode)
	v.SetDefault("ranking.metric", d.Ranking.Metric)
	v.SetDefault("ranking.min-score", d.Ranking.MinScore)
	v.SetDefault("ranking.top-k", d.Ranking.TopK)
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: decoding config: %w", embedding.ErrBackendConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and names. Failures wrap embedding.ErrBackendConfig.
func (c Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Backend) == "" {
		problems = append(problems, "backend is required")
	}
	if c.CacheCapacity < 1 {
		problems = append(problems, fmt.Sprintf("cache-capacity must be at least 1, got %d", c.CacheCapacity))
	}
	if c.ConcurrencyLimit < 1 {
		problems = append(problems, fmt.Sprintf("concurrency-limit must be at least 1, got %d", c.ConcurrencyLimit))
	}
	if c.Retry.Count < 0 {
		problems = append(problems, fmt.Sprintf("retry.count must not be negative, got %d", c.Retry.Count))
	}
	if c.Retry.Backoff < 0 {
		problems = append(problems, "retry.backoff must not be negative")
	}
	if c.Retry.MaxBackoff <= 0 || c.Retry.MaxBackoff < c.Retry.Backoff {
		problems = append(problems, fmt.Sprintf("retry.max-backoff must be positive and not below retry.backoff, got %s", c.Retry.MaxBackoff))
	}
	if math.IsNaN(c.Ranking.MinScore) || math.IsInf(c.Ranking.MinScore, 0) {
		problems = append(problems, fmt.Sprintf("ranking.min-score must be a finite number, got %v", c.Ranking.MinScore))
	}
	if c.Ranking.TopK < 1 {
		problems = append(problems, fmt.Sprintf("ranking.top-k must be at least 1, got %d", c.Ranking.TopK))
	}
	if _, err := similarity.ParseMode(c.Ranking.Mode); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := similarity.ParseMetric(c.Ranking.Metric); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Provider.Dimensions < 0 {
		problems = append(problems, "provider.dimensions must not be negative")
	}
	if c.Provider.RateLimit < 0 {
		problems = append(problems, "provider.rate-limit must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", embedding.ErrBackendConfig, strings.Join(problems, "; "))
	}
	return nil
}

// RetryPolicy returns the retry policy for backend calls.
func (c Config) RetryPolicy() retry.Policy {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = c.Retry.Count
	cfg.BaseDelay = c.Retry.Backoff
	cfg.MaxDelay = c.Retry.MaxBackoff

	return retry.Policy{
		Config:    cfg,
		Retryable: embedding.IsRetryable,
	}
}

// Metric returns the parsed similarity metric.
func (c Config) Metric() similarity.Metric {
	m, _ := similarity.ParseMetric(c.Ranking.Metric)
	return m
}

// Mode returns the parsed ranking mode.
func (c Config) Mode() similarity.Mode {
	m, _ := similarity.ParseMode(c.Ranking.Mode)
	return m
}

// ProviderOptions resolves the credential and builds backend constructor options.
// A missing key is not an error here; remote backends reject it themselves.
func (c Config) ProviderOptions(logger *zap.Logger) (embedding.Options, error) {
	apiKey, err := secrets.Optional(secrets.Source{
		Name:  "api key",
		Value: c.Provider.APIKey,
		File:  c.Provider.APIKeyFile,
		Env:   APIKeyEnv,
	})
	if err != nil {
		return embedding.Options{}, fmt.Errorf("%w: %w", embedding.ErrBackendConfig, err)
	}

	return embedding.Options{
		Model:      c.Provider.Model,
		APIKey:     apiKey,
		ModelPath:  c.Provider.ModelPath,
		Dimensions: c.Provider.Dimensions,
		TaskType:   c.Provider.TaskType,
		RateLimit:  c.Provider.RateLimit,
		Burst:      c.Provider.Burst,
		Logger:     logger,
	}, nil
}
