package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type fixedProvider struct {
	id  string
	dim int
}

func (p *fixedProvider) ID() string      { return p.id }
func (p *fixedProvider) Dimensions() int { return p.dim }

func (p *fixedProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if _, err := NormalizeNonEmpty(text); err != nil {
		return nil, err
	}
	return make([]float32, p.dim), nil
}

func (p *fixedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{name: "trims", input: "  Go developer  ", expect: "Go developer"},
		{name: "collapses whitespace", input: "Go\t\tdeveloper\n\nremote", expect: "Go developer remote"},
		{name: "keeps case", input: "SRE  Lead", expect: "SRE Lead"},
		{name: "whitespace only", input: " \n\t ", expect: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Normalize(tt.input); got != tt.expect {
				t.Fatalf("expected %q, got %q", tt.expect, got)
			}
		})
	}
}

func TestNormalizeNonEmptyRejectsBlank(t *testing.T) {
	_, err := NormalizeNonEmpty("   ")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestNormalizeBatchReportsIndex(t *testing.T) {
	_, err := NormalizeBatch([]string{"ok", " "})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if !strings.Contains(err.Error(), "index 1") {
		t.Fatalf("expected index in error, got %v", err)
	}
}

func TestKeyDependsOnBackendAndText(t *testing.T) {
	a := Key("local:hash/8", "Go developer")
	if a != Key("local:hash/8", "Go developer") {
		t.Fatalf("expected stable key")
	}
	if a == Key("local:hash/16", "Go developer") {
		t.Fatalf("expected backend to change the key")
	}
	if a == Key("local:hash/8", "go developer") {
		t.Fatalf("expected case to change the key")
	}
}

func TestVectorRecordIsImmutable(t *testing.T) {
	src := []float32{1, 2, 3}
	rec, err := NewVectorRecord("local:hash/3", "  Go   developer ", src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	src[0] = 42
	got := rec.Vector()
	if got[0] != 1 {
		t.Fatalf("record shares memory with caller slice")
	}

	got[1] = 42
	if rec.Vector()[1] != 2 {
		t.Fatalf("record shares memory with returned slice")
	}

	if rec.SourceText() != "Go developer" {
		t.Fatalf("unexpected source text: %q", rec.SourceText())
	}
	if rec.Key() != Key("local:hash/3", "Go developer") {
		t.Fatalf("unexpected key: %s", rec.Key())
	}
	if rec.Dimensions() != 3 {
		t.Fatalf("unexpected dimensions: %d", rec.Dimensions())
	}
}

func TestNewVectorRecordValidation(t *testing.T) {
	if _, err := NewVectorRecord("", "text", []float32{1}); !errors.Is(err, ErrBackendConfig) {
		t.Fatalf("expected ErrBackendConfig for empty backend, got %v", err)
	}
	if _, err := NewVectorRecord("b", "  ", []float32{1}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty text, got %v", err)
	}
	if _, err := NewVectorRecord("b", "text", nil); !errors.Is(err, ErrBackendConfig) {
		t.Fatalf("expected ErrBackendConfig for empty vector, got %v", err)
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err    error
		expect Kind
	}{
		{err: nil, expect: ""},
		{err: fmt.Errorf("wrap: %w", ErrInvalidInput), expect: KindInvalidInput},
		{err: fmt.Errorf("wrap: %w", ErrBackendConfig), expect: KindBackendConfig},
		{err: fmt.Errorf("wrap: %w", ErrUnknownBackend), expect: KindUnknownBackend},
		{err: fmt.Errorf("wrap: %w", ErrBackendUnavailable), expect: KindBackendUnavailable},
		{err: fmt.Errorf("wrap: %w", ErrBackendMismatch), expect: KindBackendMismatch},
		{err: context.Canceled, expect: KindCanceled},
		{err: errors.New("boom"), expect: KindUnknown},
	}

	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.expect {
			t.Fatalf("KindOf(%v): expected %q, got %q", tt.err, tt.expect, got)
		}
	}

	if !IsRetryable(fmt.Errorf("x: %w", ErrBackendUnavailable)) {
		t.Fatalf("expected unavailable to be retryable")
	}
	if IsRetryable(ErrBackendConfig) {
		t.Fatalf("expected config error not to be retryable")
	}
}

func TestRegistryCreate(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(" Fixed ", func(opts Options) (Provider, error) {
		if opts.Dimensions <= 0 {
			return nil, errors.New("dimensions must be declared")
		}
		return &fixedProvider{id: BackendID("fixed", "m", opts.Dimensions), dim: opts.Dimensions}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reg.Seal()

	p, err := reg.Create("FIXED", Options{Dimensions: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Dimensions() != 4 || p.ID() != "fixed:m/4" {
		t.Fatalf("unexpected provider: %s/%d", p.ID(), p.Dimensions())
	}

	if _, err := reg.Create("fixed", Options{}); !errors.Is(err, ErrBackendConfig) {
		t.Fatalf("expected constructor failure to be a config error, got %v", err)
	}

	_, err = reg.Create("missing", Options{Dimensions: 4})
	if !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
	if !strings.Contains(err.Error(), "fixed") {
		t.Fatalf("expected known names in error, got %v", err)
	}
}

func TestRegistrySealAndDuplicates(t *testing.T) {
	reg := NewRegistry()
	ctor := func(Options) (Provider, error) { return &fixedProvider{id: "x", dim: 1}, nil }

	if err := reg.Register("a", ctor); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := reg.Register("a", ctor); !errors.Is(err, ErrBackendConfig) {
		t.Fatalf("expected duplicate registration to fail, got %v", err)
	}
	if err := reg.Register("", ctor); err == nil {
		t.Fatalf("expected empty name to fail")
	}
	if err := reg.Register("nil", nil); err == nil {
		t.Fatalf("expected nil constructor to fail")
	}

	reg.Seal()
	if !reg.Sealed() {
		t.Fatalf("expected registry to be sealed")
	}
	if err := reg.Register("b", ctor); !errors.Is(err, ErrRegistrySealed) {
		t.Fatalf("expected ErrRegistrySealed, got %v", err)
	}

	names := reg.Names()
	if len(names) != 1 || names[0] != "a" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestCheckDimensions(t *testing.T) {
	if err := CheckDimensions("b", 2, []float32{1, 2}, []float32{3, 4}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := CheckDimensions("b", 2, []float32{1}); !errors.Is(err, ErrBackendConfig) {
		t.Fatalf("expected ErrBackendConfig, got %v", err)
	}
}
