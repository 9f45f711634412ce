package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Provider converts text into fixed-size vectors.
//
// Implementations normalize the text they receive and fail with ErrInvalidInput
// when nothing is left. EmbedBatch returns vectors in input order and behaves
// exactly like calling Embed for every item; it exists for backend efficiency only.
// Providers must be safe for concurrent use.
type Provider interface {
	// ID identifies backend, model and dimensionality. Vectors with different ids
	// are never compared.
	ID() string
	Dimensions() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Options is the configuration handed to backend constructors.
type Options struct {
	// Model is the backend-specific model identifier.
	Model string
	// APIKey is the resolved credential for remote backends.
	APIKey string
	// ModelPath points to a local model file.
	ModelPath string
	// Dimensions is the declared vector size. Zero selects the backend default.
	Dimensions int
	// TaskType is passed to backends that distinguish query/document embeddings.
	TaskType string
	// RateLimit is the maximum number of backend requests per second. Zero disables limiting.
	RateLimit float64
	Burst     int
	Logger    *zap.Logger
}

// NormalizeBatch normalizes every text, failing on the first empty one.
func NormalizeBatch(texts []string) ([]string, error) {
	normalized := make([]string, len(texts))
	for i, text := range texts {
		n, err := NormalizeNonEmpty(text)
		if err != nil {
			return nil, fmt.Errorf("text at index %d: %w", i, err)
		}
		normalized[i] = n
	}
	return normalized, nil
}

// CheckDimensions verifies that a backend returned vectors of the declared size.
func CheckDimensions(backendID string, want int, vectors ...[]float32) error {
	for i, v := range vectors {
		if len(v) != want {
			return fmt.Errorf("%w: %s returned %d dimensions for item %d, expected %d",
				ErrBackendConfig, backendID, len(v), i, want)
		}
	}
	return nil
}
