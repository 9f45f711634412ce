// Package local implements an offline embedding backend.
//
// The model is a feature-hashing sentence embedder: word unigrams and bigrams
// are hashed into a fixed number of signed buckets, weighted by the token
// weights of a YAML model file, and L2-normalized. The model file is read on
// the first Embed call, not at construction.
package local

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/spigell/embedmatch/internal/embedding"
	"github.com/spigell/embedmatch/internal/logger"
)

const (
	// Name is the registry name of the backend.
	Name = "local"

	defaultDimensions   = 256
	defaultBigramWeight = 0.5
)

// Model is the on-disk model description.
type Model struct {
	Name         string             `yaml:"name"`
	Dimensions   int                `yaml:"dimensions"`
	Lowercase    bool               `yaml:"lowercase"`
	BigramWeight *float64           `yaml:"bigram-weight"`
	Stopwords    []string           `yaml:"stopwords"`
	Weights      map[string]float64 `yaml:"weights"`
}

type loadedModel struct {
	lowercase    bool
	bigramWeight float64
	stopwords    map[string]struct{}
	weights      map[string]float64
}

// Embedder is the local hashing backend.
type Embedder struct {
	path       string
	model      string
	dimensions int
	logger     *zap.Logger

	mu     sync.Mutex
	loaded *loadedModel
}

// New validates opts and returns an embedder. The model file must exist but is not read.
func New(opts embedding.Options) (embedding.Provider, error) {
	path := strings.TrimSpace(opts.ModelPath)
	if path == "" {
		return nil, fmt.Errorf("%w: local backend requires model-path", embedding.ErrBackendConfig)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: model file %q: %w", embedding.ErrBackendConfig, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: model path %q is a directory", embedding.ErrBackendConfig, path)
	}

	dims := opts.Dimensions
	if dims == 0 {
		dims = defaultDimensions
	}
	if dims < 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %d", embedding.ErrBackendConfig, dims)
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return &Embedder{
		path:       path,
		model:      model,
		dimensions: dims,
		logger:     logger.WithBackendFields(opts.Logger, Name, model),
	}, nil
}

func (e *Embedder) ID() string      { return embedding.BackendID(Name, e.model, e.dimensions) }
func (e *Embedder) Dimensions() int { return e.dimensions }

// Embed loads the model on first use and embeds text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	normalized, err := embedding.NormalizeNonEmpty(text)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m, err := e.load()
	if err != nil {
		return nil, err
	}
	return m.embed(normalized, e.dimensions), nil
}

// EmbedBatch embeds texts in order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	normalized, err := embedding.NormalizeBatch(texts)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m, err := e.load()
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(normalized))
	for i, text := range normalized {
		out[i] = m.embed(text, e.dimensions)
	}
	return out, nil
}

// load reads the model file once. A failed load is retried on the next call.
func (e *Embedder) load() (*loadedModel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded != nil {
		return e.loaded, nil
	}

	data, err := os.ReadFile(e.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: read model %q: %w", embedding.ErrBackendConfig, e.path, err)
		}
		return nil, fmt.Errorf("%w: read model %q: %w", embedding.ErrBackendUnavailable, e.path, err)
	}

	var model Model
	if err := yaml.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("%w: parse model %q: %w", embedding.ErrBackendConfig, e.path, err)
	}
	if model.Dimensions != 0 && model.Dimensions != e.dimensions {
		return nil, fmt.Errorf("%w: model %q is built for %d dimensions, configured %d",
			embedding.ErrBackendConfig, e.path, model.Dimensions, e.dimensions)
	}

	loaded := &loadedModel{
		lowercase:    model.Lowercase,
		bigramWeight: defaultBigramWeight,
		stopwords:    make(map[string]struct{}, len(model.Stopwords)),
		weights:      make(map[string]float64, len(model.Weights)),
	}
	if model.BigramWeight != nil {
		loaded.bigramWeight = *model.BigramWeight
	}
	for _, w := range model.Stopwords {
		loaded.stopwords[loaded.fold(w)] = struct{}{}
	}
	for token, weight := range model.Weights {
		loaded.weights[loaded.fold(token)] = weight
	}

	e.loaded = loaded
	e.logger.Info("local model loaded",
		zap.String("path", e.path),
		zap.Int("weights", len(loaded.weights)),
		zap.Int("stopwords", len(loaded.stopwords)),
	)
	return loaded, nil
}

func (m *loadedModel) fold(s string) string {
	s = strings.TrimSpace(s)
	if m.lowercase {
		return strings.ToLower(s)
	}
	return s
}

func (m *loadedModel) tokens(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	})

	tokens := fields[:0]
	for _, f := range fields {
		f = m.fold(f)
		if _, stop := m.stopwords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func (m *loadedModel) weight(token string) float64 {
	if w, ok := m.weights[token]; ok {
		return w
	}
	return 1
}

func (m *loadedModel) embed(text string, dims int) []float32 {
	acc := make([]float64, dims)
	tokens := m.tokens(text)

	for i, token := range tokens {
		addFeature(acc, token, m.weight(token))
		if i > 0 && m.bigramWeight != 0 {
			bigram := tokens[i-1] + " " + token
			addFeature(acc, bigram, m.bigramWeight*m.weight(bigram))
		}
	}

	var norm float64
	for _, x := range acc {
		norm += x * x
	}
	norm = math.Sqrt(norm)

	out := make([]float32, dims)
	if norm == 0 {
		return out
	}
	for i, x := range acc {
		out[i] = float32(x / norm)
	}
	return out
}

// addFeature hashes feature into a signed bucket.
func addFeature(acc []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(len(acc)))
	if (sum>>63)&1 == 1 {
		weight = -weight
	}
	acc[idx] += weight
}
