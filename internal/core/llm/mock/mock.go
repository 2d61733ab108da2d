// Package mock provides deterministic test doubles for the embedding and
// generation backends.
package mock

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/strataline/strataline/internal/core"
)

var (
	_ core.EmbeddingProvider = (*Embedder)(nil)
	_ core.LLMProvider       = (*LLM)(nil)
)

// Embedder is a test double for core.EmbeddingProvider. Behavior can be
// overridden per test through the function field; the default produces
// deterministic hash-seeded vectors so identical text always embeds the
// same way.
type Embedder struct {
	// EmbedTextsFunc is called by EmbedTexts if set.
	EmbedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)

	// Dim is the vector dimensionality; defaults to 16.
	Dim int

	// Model reported by ModelID; defaults to "mock-embed-001".
	Model string

	calls int
}

func NewEmbedder() *Embedder { return &Embedder{} }

func (m *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls++
	if m.EmbedTextsFunc != nil {
		return m.EmbedTextsFunc(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = DeterministicVector(t, m.Dimension())
	}
	return out, nil
}

func (m *Embedder) ModelID() string {
	if m.Model == "" {
		return "mock-embed-001"
	}
	return m.Model
}

func (m *Embedder) Dimension() int {
	if m.Dim <= 0 {
		return 16
	}
	return m.Dim
}

// Calls returns how many times EmbedTexts was invoked.
func (m *Embedder) Calls() int { return m.calls }

// DeterministicVector derives a stable unit-length vector from text.
func DeterministicVector(text string, dim int) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	v := make([]float32, dim)
	var sum float64
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float32(int64(seed>>33)) / float32(math.MaxInt32)
		sum += float64(v[i]) * float64(v[i])
	}
	if sum > 0 {
		norm := float32(math.Sqrt(sum))
		for i := range v {
			v[i] /= norm
		}
	}
	return v
}

// LLM is a test double for core.LLMProvider.
type LLM struct {
	// GenerateFunc is called by Generate if set; the default echoes the
	// user prompt's first line.
	GenerateFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

func NewLLM() *LLM { return &LLM{} }

func (m *LLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, systemPrompt, userPrompt)
	}
	return "mock answer", nil
}
