package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataline/strataline/internal/core"
	"github.com/strataline/strataline/internal/models"
)

func entry(tenant, doc string, ordinal int, vec []float32, at time.Time) models.IndexEntry {
	return models.IndexEntry{
		TenantID:   tenant,
		DocumentID: doc,
		ChunkID:    models.ChunkID(doc, ordinal),
		Ordinal:    ordinal,
		Text:       "text for " + models.ChunkID(doc, ordinal),
		Embedding:  vec,
		ModelID:    "mock-embed-001",
		IndexedAt:  at,
	}
}

func TestTenantIsolation(t *testing.T) {
	p := NewMemoryProvider(nil)
	ctx := context.Background()
	now := time.Now().UTC()

	a, err := p.ForTenant("tenant-a")
	require.NoError(t, err)
	b, err := p.ForTenant("tenant-b")
	require.NoError(t, err)

	// Colliding document ids across tenants on purpose.
	require.NoError(t, a.Upsert(ctx, []models.IndexEntry{entry("tenant-a", "doc-1", 0, []float32{1, 0}, now)}))
	require.NoError(t, b.Upsert(ctx, []models.IndexEntry{entry("tenant-b", "doc-1", 0, []float32{1, 0}, now)}))

	hits, err := a.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "tenant-a", hits[0].Entry.TenantID)

	hits, err = b.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "tenant-b", hits[0].Entry.TenantID)
}

func TestUpsertRejectsForeignTenant(t *testing.T) {
	p := NewMemoryProvider(nil)
	a, err := p.ForTenant("tenant-a")
	require.NoError(t, err)

	err = a.Upsert(context.Background(), []models.IndexEntry{
		entry("tenant-b", "doc-1", 0, []float32{1, 0}, time.Now()),
	})
	require.Error(t, err)
	assert.Equal(t, core.KindIsolation, core.KindOf(err))
	assert.False(t, core.IsRetryable(err))

	// Nothing leaked into tenant-a's namespace.
	hits, err := a.Search(context.Background(), []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestUpsertIsIdempotent(t *testing.T) {
	p := NewMemoryProvider(nil)
	a, _ := p.ForTenant("tenant-a")
	ctx := context.Background()
	now := time.Now().UTC()

	e := entry("tenant-a", "doc-1", 0, []float32{0, 1}, now)
	require.NoError(t, a.Upsert(ctx, []models.IndexEntry{e}))
	require.NoError(t, a.Upsert(ctx, []models.IndexEntry{e}))

	hits, err := a.Search(ctx, []float32{0, 1}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1, "re-indexing the same chunk id must not duplicate")
	assert.Equal(t, e.Text, hits[0].Entry.Text)
}

func TestSearchRankingAndTieBreak(t *testing.T) {
	p := NewMemoryProvider(nil)
	a, _ := p.ForTenant("tenant-a")
	ctx := context.Background()
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	require.NoError(t, a.Upsert(ctx, []models.IndexEntry{
		entry("tenant-a", "doc-low", 0, []float32{0.5, 0.5}, older),
		entry("tenant-a", "doc-old", 0, []float32{1, 0}, older),
		entry("tenant-a", "doc-new", 0, []float32{1, 0}, newer),
	}))

	hits, err := a.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	// Equal scores break by recency: doc-new before doc-old.
	assert.Equal(t, "doc-new", hits[0].Entry.DocumentID)
	assert.Equal(t, "doc-old", hits[1].Entry.DocumentID)
	assert.Equal(t, "doc-low", hits[2].Entry.DocumentID)
}

func TestSearchTieBreakByChunkID(t *testing.T) {
	p := NewMemoryProvider(nil)
	a, _ := p.ForTenant("tenant-a")
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, a.Upsert(ctx, []models.IndexEntry{
		entry("tenant-a", "doc-b", 0, []float32{1, 0}, at),
		entry("tenant-a", "doc-a", 0, []float32{1, 0}, at),
	}))

	hits, err := a.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "doc-a_chunk_0", hits[0].Entry.ChunkID)
	assert.Equal(t, "doc-b_chunk_0", hits[1].Entry.ChunkID)
}

func TestDeleteDocument(t *testing.T) {
	p := NewMemoryProvider(nil)
	a, _ := p.ForTenant("tenant-a")
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, a.Upsert(ctx, []models.IndexEntry{
		entry("tenant-a", "doc-1", 0, []float32{1, 0}, now),
		entry("tenant-a", "doc-1", 1, []float32{1, 0}, now),
		entry("tenant-a", "doc-2", 0, []float32{1, 0}, now),
	}))

	require.NoError(t, a.DeleteDocument(ctx, "doc-1"))

	hits, err := a.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-2", hits[0].Entry.DocumentID)
}

func TestSearchDefaultK(t *testing.T) {
	p := NewMemoryProvider(nil)
	a, _ := p.ForTenant("tenant-a")
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 8; i++ {
		require.NoError(t, a.Upsert(ctx, []models.IndexEntry{
			entry("tenant-a", "doc-1", i, []float32{1, 0}, now.Add(time.Duration(i)*time.Second)),
		}))
	}

	hits, err := a.Search(ctx, []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 5)
}
