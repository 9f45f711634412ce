package embedding

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Normalize trims text and collapses every whitespace run into a single space.
// Case is preserved.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// NormalizeNonEmpty normalizes text and fails with ErrInvalidInput when nothing is left.
func NormalizeNonEmpty(text string) (string, error) {
	normalized := Normalize(text)
	if normalized == "" {
		return "", fmt.Errorf("%w: text is empty after normalization", ErrInvalidInput)
	}
	return normalized, nil
}

// Key returns the content address of normalized text under backendID.
func Key(backendID, normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%s:%x", backendID, sum[:])
}

// BackendID builds the identity of a provider: backend name, model and dimensionality.
func BackendID(backend, model string, dimensions int) string {
	return fmt.Sprintf("%s:%s/%d", backend, model, dimensions)
}

// VectorRecord is an embedding of normalized text produced by one backend.
// It is immutable once created and safe for concurrent readers.
type VectorRecord struct {
	sourceText string
	vector     []float32
	backendID  string
	createdAt  time.Time
}

// NewVectorRecord normalizes text and stores a private copy of vector.
func NewVectorRecord(backendID, text string, vector []float32) (*VectorRecord, error) {
	if strings.TrimSpace(backendID) == "" {
		return nil, fmt.Errorf("%w: backend id is required", ErrBackendConfig)
	}
	normalized, err := NormalizeNonEmpty(text)
	if err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: backend %s returned an empty vector", ErrBackendConfig, backendID)
	}

	return &VectorRecord{
		sourceText: normalized,
		vector:     slices.Clone(vector),
		backendID:  backendID,
		createdAt:  time.Now().UTC(),
	}, nil
}

func (r *VectorRecord) SourceText() string   { return r.sourceText }
func (r *VectorRecord) BackendID() string    { return r.backendID }
func (r *VectorRecord) CreatedAt() time.Time { return r.createdAt }
func (r *VectorRecord) Dimensions() int      { return len(r.vector) }

// Vector returns a copy of the embedding.
func (r *VectorRecord) Vector() []float32 {
	return slices.Clone(r.vector)
}

// Key returns the cache key of the record.
func (r *VectorRecord) Key() string {
	return Key(r.backendID, r.sourceText)
}

// Values calls fn with the backing slice. fn must not retain or modify it.
func (r *VectorRecord) Values(fn func(v []float32)) {
	fn(r.vector)
}
