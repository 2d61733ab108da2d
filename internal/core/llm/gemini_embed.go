// Package llm holds the Gemini-backed embedding and generation providers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/strataline/strataline/internal/core"
)

const defaultEmbedModel = "gemini-embedding-001"

// DefaultEmbeddingDim is the output dimensionality requested from the
// backend. Stored vectors are only comparable within one (model, dim) pair.
const DefaultEmbeddingDim = 768

type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
	dim       int
}

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string, dim int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = defaultEmbedModel
	}
	if dim <= 0 {
		dim = DefaultEmbeddingDim
	}
	return &GeminiEmbedder{client: cl, modelName: modelName, dim: dim}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiEmbedder) ModelID() string { return g.modelName }

func (g *GeminiEmbedder) Dimension() int { return g.dim }

// EmbedTexts batches all texts in one request via EmbeddingBatch. Errors are
// classified so the pipeline retries throttling but not rejected input.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	em := g.client.EmbeddingModel(g.modelName)

	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, classify("embed", fmt.Errorf("gemini batch embed: %w", err))
	}

	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		out = append(out, e.Values)
	}
	return out, nil
}

// classify maps a backend error onto the pipeline error taxonomy.
func classify(stage string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests:
			return core.Exhausted(stage, err)
		case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
			return core.Invalid(stage, err)
		}
	}
	return core.Transient(stage, err)
}
