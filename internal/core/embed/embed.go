// Package embed converts chunks into unit-normalized vectors through a
// pluggable backend, under a pipeline-wide concurrency limit.
package embed

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/strataline/strataline/internal/core"
	"github.com/strataline/strataline/internal/models"
)

const stage = "embed"

// ErrProviderRequired is returned when no embedding provider is supplied.
var ErrProviderRequired = errors.New("embedding provider required")

// Config tunes the generator.
//
// Concurrency: size of the worker pool shared by every document in flight.
//              This is the admission-control knob protecting the backend.
// BatchSize:   chunks sent to the backend per request.
type Config struct {
	Concurrency int
	BatchSize   int
}

// DefaultConfig matches the backend rate limits we run against.
func DefaultConfig() Config {
	return Config{Concurrency: 10, BatchSize: 16}
}

// Generator embeds chunks through the provider. One Generator is shared by
// all in-flight documents so the pool bounds total backend pressure, not
// per-document pressure.
type Generator struct {
	provider core.EmbeddingProvider
	pool     *ants.Pool
	cfg      Config
	logger   *slog.Logger
}

func NewGenerator(provider core.EmbeddingProvider, cfg Config, logger *slog.Logger) (*Generator, error) {
	if provider == nil {
		return nil, ErrProviderRequired
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, err
	}
	return &Generator{provider: provider, pool: pool, cfg: cfg, logger: logger}, nil
}

// Release frees the worker pool. The generator must not be used afterwards.
func (g *Generator) Release() {
	if g.pool != nil {
		g.pool.Release()
	}
}

// EmbedChunks embeds every chunk and returns them with Embedding and ModelID
// set, unit-normalized so cosine similarity reduces to a dot product.
// A chunk the backend rejects as invalid is dropped with a log line; any
// transient failure fails the whole call so the stage can be retried.
func (g *Generator) EmbedChunks(ctx context.Context, chunks []models.Chunk) ([]models.Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	out := make([]*models.Chunk, len(chunks))
	var mu sync.Mutex

	eg, egctx := errgroup.WithContext(ctx)
	for start := 0; start < len(chunks); start += g.cfg.BatchSize {
		end := start + g.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		offset := start

		eg.Go(func() error {
			done := make(chan error, 1)
			submitErr := g.pool.Submit(func() {
				done <- g.embedBatch(egctx, batch, offset, out, &mu)
			})
			if submitErr != nil {
				return core.Transient(stage, submitErr)
			}
			select {
			case err := <-done:
				return err
			case <-egctx.Done():
				return egctx.Err()
			}
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	result := make([]models.Chunk, 0, len(chunks))
	for _, c := range out {
		if c != nil {
			result = append(result, *c)
		}
	}
	return result, nil
}

// embedBatch embeds one batch, splitting to per-chunk calls when the backend
// rejects the batch as invalid input so only the offending chunk is lost.
func (g *Generator) embedBatch(ctx context.Context, batch []models.Chunk, offset int, out []*models.Chunk, mu *sync.Mutex) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	vectors, err := g.provider.EmbedTexts(ctx, texts)
	if err != nil {
		if core.KindOf(err) != core.KindInvalidInput {
			return err
		}
		if len(batch) == 1 {
			g.logger.Warn("chunk rejected by embedding backend, skipping",
				"chunk_id", batch[0].ID, "err", err)
			return nil
		}
		// Isolate the bad chunk; the rest of the batch continues.
		for i := range batch {
			if err := g.embedBatch(ctx, batch[i:i+1], offset+i, out, mu); err != nil {
				return err
			}
		}
		return nil
	}
	if len(vectors) != len(batch) {
		return core.Transient(stage, errors.New("backend returned wrong vector count"))
	}

	mu.Lock()
	defer mu.Unlock()
	for i := range batch {
		c := batch[i]
		c.Embedding = Normalize(vectors[i])
		c.ModelID = g.provider.ModelID()
		out[offset+i] = &c
	}
	return nil
}

// Normalize scales v to unit length. Zero vectors are returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	scaled := make([]float32, len(v))
	for i, x := range v {
		scaled[i] = x / norm
	}
	return scaled
}
