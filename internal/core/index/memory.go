// Package index provides tenant-scoped vector index implementations. A
// handle is bound to one tenant at construction and cannot address another
// tenant's entries; the handle is the isolation boundary, not a naming
// convention.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/strataline/strataline/internal/core"
	"github.com/strataline/strataline/internal/models"
)

var (
	_ core.IndexProvider = (*MemoryProvider)(nil)
	_ core.TenantIndex   = (*memoryIndex)(nil)
)

// MemoryProvider is an in-memory brute-force cosine index, one isolated
// entry map per tenant. Embeddings are stored unit-normalized upstream so
// similarity is a plain dot product.
type MemoryProvider struct {
	mu      sync.RWMutex
	tenants map[string]*memoryIndex
	logger  *slog.Logger
}

func NewMemoryProvider(logger *slog.Logger) *MemoryProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryProvider{tenants: make(map[string]*memoryIndex), logger: logger}
}

// ForTenant returns the handle for tenantID, creating its namespace on
// first use.
func (p *MemoryProvider) ForTenant(tenantID string) (core.TenantIndex, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("empty tenant id")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.tenants[tenantID]
	if !ok {
		idx = &memoryIndex{
			tenantID: tenantID,
			entries:  make(map[string]models.IndexEntry),
			logger:   p.logger,
		}
		p.tenants[tenantID] = idx
	}
	return idx, nil
}

type memoryIndex struct {
	mu       sync.RWMutex
	tenantID string
	entries  map[string]models.IndexEntry // keyed by chunk id
	logger   *slog.Logger
}

func (m *memoryIndex) TenantID() string { return m.tenantID }

// Upsert writes entries keyed by chunk id; re-indexing the same chunk id
// overwrites the prior entry. An entry carrying a foreign tenant id is
// rejected and logged as a security event.
func (m *memoryIndex) Upsert(ctx context.Context, entries []models.IndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if e.TenantID != m.tenantID {
			m.logger.Error("isolation violation: index write rejected",
				"index_tenant", m.tenantID, "entry_tenant", e.TenantID, "chunk_id", e.ChunkID)
			return core.E(core.KindIsolation, "index", core.ErrTenantMismatch)
		}
		if e.IndexedAt.IsZero() {
			e.IndexedAt = time.Now().UTC()
		}
		m.entries[e.ChunkID] = e
	}
	return nil
}

// Search returns the top k entries by descending dot-product score. Equal
// scores break by most recent IndexedAt, then chunk id.
func (m *memoryIndex) Search(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		k = 5
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	scored := make([]models.ScoredChunk, 0, len(m.entries))
	for _, e := range m.entries {
		scored = append(scored, models.ScoredChunk{Entry: e, Score: dot(e.Embedding, vector)})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].Entry.IndexedAt.Equal(scored[j].Entry.IndexedAt) {
			return scored[i].Entry.IndexedAt.After(scored[j].Entry.IndexedAt)
		}
		return scored[i].Entry.ChunkID < scored[j].Entry.ChunkID
	})
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

// DeleteDocument removes every entry belonging to documentID.
func (m *memoryIndex) DeleteDocument(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		if e.DocumentID == documentID {
			delete(m.entries, id)
		}
	}
	return nil
}

func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
