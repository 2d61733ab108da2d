// Package query implements the read path: retrieval over a tenant's index
// and grounded answer generation with citations.
package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/strataline/strataline/internal/core"
	"github.com/strataline/strataline/internal/core/embed"
	"github.com/strataline/strataline/internal/models"
)

// DefaultK is the retrieval depth used when the caller does not specify one.
const DefaultK = 5

// Retriever embeds a query and searches the tenant's index. The index handle
// is obtained per call and is bound to the requesting tenant, so a retrieval
// cannot address another tenant's entries.
type Retriever struct {
	embedder core.EmbeddingProvider
	indexes  core.IndexProvider
	logger   *slog.Logger
}

func NewRetriever(embedder core.EmbeddingProvider, indexes core.IndexProvider, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, indexes: indexes, logger: logger}
}

// Retrieve returns up to k hits ordered by descending similarity. Backend
// failures, including the query embedding itself, surface as
// core.ErrRetrievalUnavailable so callers can degrade instead of erroring at
// the user.
func (r *Retriever) Retrieve(ctx context.Context, tenantID, queryText string, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		k = DefaultK
	}

	vectors, err := r.embedder.EmbedTexts(ctx, []string{queryText})
	if err != nil {
		return nil, core.Transient("retrieve", fmt.Errorf("%w: embedding query: %v", core.ErrRetrievalUnavailable, err))
	}
	if len(vectors) != 1 {
		return nil, core.Transient("retrieve", fmt.Errorf("%w: backend returned %d vectors for one query", core.ErrRetrievalUnavailable, len(vectors)))
	}

	idx, err := r.indexes.ForTenant(tenantID)
	if err != nil {
		return nil, core.Transient("retrieve", fmt.Errorf("%w: %v", core.ErrRetrievalUnavailable, err))
	}
	hits, err := idx.Search(ctx, embed.Normalize(vectors[0]), k)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("retrieval complete", "tenant_id", tenantID, "k", k, "hits", len(hits))
	return hits, nil
}
