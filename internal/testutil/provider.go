// Package testutil holds test doubles shared by package tests.
package testutil

import (
	"context"
	"sync"

	"github.com/spigell/embedmatch/internal/embedding"
)

// StubProvider is a call-counting embedding.Provider.
//
// Vectors are looked up by normalized text; EmbedFunc overrides the lookup.
// When Gate is set every Embed call blocks until the channel is closed or
// receives a value, which lets tests hold computations in flight.
type StubProvider struct {
	Backend   string
	Dim       int
	Vectors   map[string][]float32
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
	Gate      chan struct{}
	// Started receives the text of every call before it blocks on Gate.
	Started chan string

	mu         sync.Mutex
	calls      int
	batchCalls int
	texts      []string
}

// NewStubProvider creates a stub with the given identity and vectors.
func NewStubProvider(backend string, dim int, vectors map[string][]float32) *StubProvider {
	return &StubProvider{Backend: backend, Dim: dim, Vectors: vectors}
}

func (s *StubProvider) ID() string {
	return embedding.BackendID(s.Backend, "stub", s.Dim)
}

func (s *StubProvider) Dimensions() int { return s.Dim }

func (s *StubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	normalized, err := embedding.NormalizeNonEmpty(text)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.calls++
	s.texts = append(s.texts, normalized)
	s.mu.Unlock()

	if s.Started != nil {
		s.Started <- normalized
	}
	if s.Gate != nil {
		<-s.Gate
	}

	if s.EmbedFunc != nil {
		return s.EmbedFunc(ctx, normalized)
	}
	if v, ok := s.Vectors[normalized]; ok {
		return v, nil
	}

	v := make([]float32, s.Dim)
	for i := range v {
		v[i] = float32(len(normalized)%7+i) / 10
	}
	return v, nil
}

func (s *StubProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.batchCalls++
	s.mu.Unlock()

	if _, err := embedding.NormalizeBatch(texts); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Calls returns the number of Embed invocations.
func (s *StubProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// BatchCalls returns the number of EmbedBatch invocations.
func (s *StubProvider) BatchCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchCalls
}

// Texts returns the normalized texts passed to Embed, in call order.
func (s *StubProvider) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}
