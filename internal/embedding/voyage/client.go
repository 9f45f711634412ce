package voyage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/austinfhunter/voyageai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/embedmatch/internal/embedding"
	"github.com/spigell/embedmatch/internal/logger"
)

const (
	// Name is the registry name of the backend.
	Name = "voyage"

	defaultModel      = "voyage-3.5-lite"
	defaultDimensions = 1024

	// maxBatchSize is the number of inputs the API accepts per request.
	maxBatchSize = 128
)

// vectorizer is the subset of the Voyage API the embedder relies on.
type vectorizer interface {
	Embed(texts []string, model string, inputType *string, dimensions int) ([][]float32, error)
}

type apiClient struct {
	client *voyageai.VoyageClient
}

func (c *apiClient) Embed(texts []string, model string, inputType *string, dimensions int) ([][]float32, error) {
	resp, err := c.client.Embed(texts, model, &voyageai.EmbeddingRequestOpts{
		InputType:       inputType,
		OutputDimension: &dimensions,
	})
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(resp.Data))
	for i, obj := range resp.Data {
		vectors[i] = obj.Embedding
	}
	return vectors, nil
}

// Embedder produces embeddings with the Voyage AI API.
type Embedder struct {
	apiKey     string
	model      string
	dimensions int
	inputType  *string
	limiter    *rate.Limiter
	logger     *zap.Logger

	once   sync.Once
	client vectorizer
}

// New validates opts. The HTTP client is created on first use.
func New(opts embedding.Options) (embedding.Provider, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: voyage api key is required", embedding.ErrBackendConfig)
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}

	dims := opts.Dimensions
	if dims == 0 {
		dims = defaultDimensions
	}
	if dims < 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %d", embedding.ErrBackendConfig, dims)
	}

	inputType, err := parseInputType(opts.TaskType)
	if err != nil {
		return nil, err
	}
	if opts.RateLimit < 0 {
		return nil, fmt.Errorf("%w: rate limit must not be negative", embedding.ErrBackendConfig)
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(opts.Burst, 1))
	}

	return &Embedder{
		apiKey:     apiKey,
		model:      model,
		dimensions: dims,
		inputType:  inputType,
		limiter:    limiter,
		logger:     logger.WithBackendFields(opts.Logger, Name, model),
	}, nil
}

func parseInputType(taskType string) (*string, error) {
	switch value := strings.ToLower(strings.TrimSpace(taskType)); value {
	case "":
		return nil, nil
	case "document", "query":
		return &value, nil
	default:
		return nil, fmt.Errorf("%w: voyage input type must be document or query, got %q", embedding.ErrBackendConfig, taskType)
	}
}

func (e *Embedder) ID() string      { return embedding.BackendID(Name, e.model, e.dimensions) }
func (e *Embedder) Dimensions() int { return e.dimensions }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	normalized, err := embedding.NormalizeNonEmpty(text)
	if err != nil {
		return nil, err
	}

	vectors, err := e.embed(ctx, []string{normalized})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	normalized, err := embedding.NormalizeBatch(texts)
	if err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(normalized))
	for start := 0; start < len(normalized); start += maxBatchSize {
		end := min(start+maxBatchSize, len(normalized))
		vectors, err := e.embed(ctx, normalized[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

type embedResult struct {
	vectors [][]float32
	err     error
}

func (e *Embedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := e.api()
	e.logger.Debug("voyage embed request", zap.Int("texts", len(texts)))

	// The client takes no context; the call is abandoned on cancellation.
	done := make(chan embedResult, 1)
	go func() {
		vectors, err := client.Embed(texts, e.model, e.inputType, e.dimensions)
		done <- embedResult{vectors: vectors, err: err}
	}()

	var res embedResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}

	if res.err != nil {
		return nil, classify(res.err)
	}
	if len(res.vectors) != len(texts) {
		return nil, fmt.Errorf("%w: voyage returned %d embeddings for %d texts",
			embedding.ErrBackendUnavailable, len(res.vectors), len(texts))
	}
	if err := embedding.CheckDimensions(e.ID(), e.dimensions, res.vectors...); err != nil {
		return nil, err
	}
	return res.vectors, nil
}

func (e *Embedder) api() vectorizer {
	e.once.Do(func() {
		if e.client == nil {
			e.client = &apiClient{client: voyageai.NewClient(&voyageai.VoyageClientOpts{Key: e.apiKey})}
		}
	})
	return e.client
}

// classify maps a Voyage failure to the embedding error taxonomy. The client
// reports HTTP failures as plain errors carrying the status in the message.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "401", "403", "unauthorized", "forbidden", "invalid api key", "not found"):
		return fmt.Errorf("%w: voyage rejected the request: %w", embedding.ErrBackendConfig, err)
	case containsAny(msg, "400", "bad request"):
		return fmt.Errorf("%w: voyage rejected the input: %w", embedding.ErrInvalidInput, err)
	default:
		return fmt.Errorf("%w: voyage request: %w", embedding.ErrBackendUnavailable, err)
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
