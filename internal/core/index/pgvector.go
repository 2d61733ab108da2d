package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/strataline/strataline/internal/core"
	"github.com/strataline/strataline/internal/models"
)

var (
	_ core.IndexProvider = (*PgProvider)(nil)
	_ core.TenantIndex   = (*pgIndex)(nil)
)

// PgProvider hands out pgvector-backed tenant index handles over a shared
// connection pool. Every statement a handle issues carries its bound tenant
// id as a mandatory equality filter; there is no code path that queries the
// table without it.
type PgProvider struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPgProvider(db *sql.DB, logger *slog.Logger) (*PgProvider, error) {
	if db == nil {
		return nil, fmt.Errorf("nil db handle")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PgProvider{db: db, logger: logger}, nil
}

func (p *PgProvider) ForTenant(tenantID string) (core.TenantIndex, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("empty tenant id")
	}
	return &pgIndex{db: p.db, tenantID: tenantID, logger: p.logger}, nil
}

type pgIndex struct {
	db       *sql.DB
	tenantID string
	logger   *slog.Logger
}

func (x *pgIndex) TenantID() string { return x.tenantID }

// Upsert writes entries in one transaction, keyed by (tenant_id, chunk_id).
// Re-indexing a chunk id overwrites the prior row, so repeated ingestion of
// the same document converges instead of accumulating duplicates.
func (x *pgIndex) Upsert(ctx context.Context, entries []models.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if e.TenantID != x.tenantID {
			x.logger.Error("isolation violation: index write rejected",
				"index_tenant", x.tenantID, "entry_tenant", e.TenantID, "chunk_id", e.ChunkID)
			return core.E(core.KindIsolation, "index", core.ErrTenantMismatch)
		}
	}

	tx, err := x.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return core.Transient("index", err)
	}

	const q = `
		INSERT INTO index_entries
			(tenant_id, document_id, chunk_id, ordinal, text, embedding, model_id, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))
		ON CONFLICT (tenant_id, chunk_id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			ordinal     = EXCLUDED.ordinal,
			text        = EXCLUDED.text,
			embedding   = EXCLUDED.embedding,
			model_id    = EXCLUDED.model_id,
			indexed_at  = EXCLUDED.indexed_at
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return core.Transient("index", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		indexedAt := e.IndexedAt
		if indexedAt.IsZero() {
			indexedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			e.TenantID, e.DocumentID, e.ChunkID, e.Ordinal, e.Text,
			pgvector.NewVector(e.Embedding), e.ModelID, indexedAt,
		); err != nil {
			_ = tx.Rollback()
			return core.Transient("index", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return core.Transient("index", err)
	}
	return nil
}

// Search runs inner-product kNN inside the tenant's rows. Embeddings are
// unit length, so the negated <#> distance is the cosine score.
func (x *pgIndex) Search(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		k = 5
	}
	const q = `
		SELECT tenant_id, document_id, chunk_id, ordinal, text, embedding, model_id, indexed_at,
		       -(embedding <#> $2) AS score
		FROM index_entries
		WHERE tenant_id = $1
		ORDER BY embedding <#> $2 ASC, indexed_at DESC, chunk_id ASC
		LIMIT $3
	`
	rows, err := x.db.QueryContext(ctx, q, x.tenantID, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, core.Transient("index", fmt.Errorf("%w: %v", core.ErrRetrievalUnavailable, err))
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var (
			e   models.IndexEntry
			emb pgvector.Vector
			sc  float32
		)
		if err := rows.Scan(&e.TenantID, &e.DocumentID, &e.ChunkID, &e.Ordinal,
			&e.Text, &emb, &e.ModelID, &e.IndexedAt, &sc); err != nil {
			return nil, core.Transient("index", err)
		}
		e.Embedding = emb.Slice()
		out = append(out, models.ScoredChunk{Entry: e, Score: sc})
	}
	return out, rows.Err()
}

// DeleteDocument removes every chunk row of documentID within the tenant.
func (x *pgIndex) DeleteDocument(ctx context.Context, documentID string) error {
	const q = `DELETE FROM index_entries WHERE tenant_id = $1 AND document_id = $2`
	if _, err := x.db.ExecContext(ctx, q, x.tenantID, documentID); err != nil {
		return core.Transient("index", err)
	}
	return nil
}
