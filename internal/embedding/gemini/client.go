package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/spigell/embedmatch/internal/embedding"
	"github.com/spigell/embedmatch/internal/logger"
	"github.com/spigell/embedmatch/internal/utils"
)

const (
	// Name is the registry name of the backend.
	Name = "gemini"

	defaultModel      = "text-embedding-004"
	defaultDimensions = 768
	defaultTaskType   = "SEMANTIC_SIMILARITY"

	// maxBatchSize is the number of contents the API accepts per request.
	maxBatchSize = 100
	// maxQuotaDelay is the longest server-suggested delay still treated as transient.
	maxQuotaDelay = 30 * time.Second

	previewLength = 80
)

var retryAfterPattern = regexp.MustCompile(`(?i)retry (?:after|in) (\d+(?:\.\d+)?)\s*s`)

type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Embedder produces embeddings with the Gemini API.
type Embedder struct {
	apiKey     string
	model      string
	dimensions int
	taskType   string
	limiter    *rate.Limiter
	logger     *zap.Logger

	mu     sync.Mutex
	models contentEmbedder
}

// New validates opts and returns an embedder. The API client is created on the first call.
func New(opts embedding.Options) (embedding.Provider, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is required", embedding.ErrBackendConfig)
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

	taskType := strings.TrimSpace(opts.TaskType)
	if taskType == "" {
		taskType = defaultTaskType
	}

	if opts.RateLimit < 0 {
		return nil, fmt.Errorf("%w: rate limit must not be negative", embedding.ErrBackendConfig)
	}

	return &Embedder{
		apiKey:     apiKey,
		model:      model,
		dimensions: dims,
		taskType:   taskType,
		limiter:    newLimiter(opts.RateLimit, opts.Burst),
		logger:     logger.WithBackendFields(opts.Logger, Name, model),
	}, nil
}

func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (e *Embedder) ID() string      { return embedding.BackendID(Name, e.model, e.dimensions) }
func (e *Embedder) Dimensions() int { return e.dimensions }

// Embed embeds a single text.
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

// EmbedBatch embeds texts in order, splitting them into API-sized requests.
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

func (e *Embedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	models, err := e.client(ctx)
	if err != nil {
		return nil, err
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	dims := int32(e.dimensions)
	cfg := &genai.EmbedContentConfig{
		TaskType:             e.taskType,
		OutputDimensionality: &dims,
	}

	e.logger.Debug("gemini embed content request",
		zap.Int("texts", len(texts)),
		zap.String("first_text_preview", utils.TruncateForLog(texts[0], previewLength)),
	)

	resp, err := models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, classify(ctx, err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, fmt.Errorf("%w: gemini returned %d embeddings for %d texts", embedding.ErrBackendUnavailable, got, len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("%w: gemini returned an empty embedding for item %d", embedding.ErrBackendUnavailable, i)
		}
		vectors[i] = emb.Values
	}
	if err := embedding.CheckDimensions(e.ID(), e.dimensions, vectors...); err != nil {
		return nil, err
	}

	return vectors, nil
}

func (e *Embedder) client(ctx context.Context) (contentEmbedder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.models != nil {
		return e.models, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  e.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create genai client: %w", embedding.ErrBackendConfig, err)
	}

	e.models = client.Models
	return e.models, nil
}

// classify maps a Gemini API failure to the embedding error taxonomy.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var apiErrPtr *genai.APIError
		if !errors.As(err, &apiErrPtr) || apiErrPtr == nil {
			return fmt.Errorf("%w: gemini request: %w", embedding.ErrBackendUnavailable, err)
		}
		apiErr = *apiErrPtr
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		if delay, ok := retryDelay(apiErr); ok && delay > maxQuotaDelay {
			return fmt.Errorf("gemini quota exhausted, retry suggested after %s: %w", delay, err)
		}
		return fmt.Errorf("%w: gemini rate limited: %w", embedding.ErrBackendUnavailable, err)
	case apiErr.Code == http.StatusUnauthorized, apiErr.Code == http.StatusForbidden, apiErr.Code == http.StatusNotFound:
		return fmt.Errorf("%w: gemini rejected the request: %w", embedding.ErrBackendConfig, err)
	case apiErr.Code == http.StatusBadRequest:
		return fmt.Errorf("%w: gemini rejected the input: %w", embedding.ErrInvalidInput, err)
	case apiErr.Code == http.StatusRequestTimeout, apiErr.Code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: gemini server error: %w", embedding.ErrBackendUnavailable, err)
	default:
		return fmt.Errorf("gemini request failed: %w", err)
	}
}

// retryDelay extracts the server-suggested delay from RetryInfo details or the message.
func retryDelay(apiErr genai.APIError) (time.Duration, bool) {
	for _, detail := range apiErr.Details {
		raw, ok := detail["retryDelay"].(string)
		if !ok {
			continue
		}
		if d, err := time.ParseDuration(raw); err == nil {
			return d, true
		}
	}

	match := retryAfterPattern.FindStringSubmatch(apiErr.Message)
	if len(match) < 2 {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}
