// Package database persists document records and conversations in Postgres.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/strataline/strataline/internal/core"
	"github.com/strataline/strataline/internal/models"
)

var (
	_ core.DocumentStore     = (*PgStore)(nil)
	_ core.ConversationStore = (*PgStore)(nil)
)

// PgStore is the Postgres-backed document and conversation store.
type PgStore struct {
	db *sql.DB
}

// NewPgStore opens a pgx connection pool, verifies it and runs the schema
// bootstrap once.
func NewPgStore(ctx context.Context, databaseURL string) (*PgStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return &PgStore{db: db}, nil
}

// DB exposes the underlying pool so the vector index can share it.
func (s *PgStore) DB() *sql.DB { return s.db }

func (s *PgStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// orNow defaults a zero time before insert. pgx encodes a zero time.Time as
// the year-1 timestamptz rather than SQL NULL, so server-side COALESCE would
// never fire.
func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func (s *PgStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	doc.CreatedAt = orNow(doc.CreatedAt)
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	const q = `
		INSERT INTO documents
			(id, tenant_id, file_name, bucket, storage_key, content_type, status, chunk_count, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, q,
		doc.ID, doc.TenantID, doc.FileName, doc.Bucket, doc.StorageKey,
		doc.ContentType, doc.Status, doc.ChunkCount, doc.CreatedAt, doc.UpdatedAt)
	return err
}

func (s *PgStore) GetDocument(ctx context.Context, tenantID, id string) (*models.Document, error) {
	const q = `
		SELECT id, tenant_id, file_name, bucket, storage_key, content_type, status,
		       chunk_count, COALESCE(error_detail, ''), created_at, updated_at
		FROM documents
		WHERE tenant_id = $1 AND id = $2
	`
	var d models.Document
	err := s.db.QueryRowContext(ctx, q, tenantID, id).Scan(
		&d.ID, &d.TenantID, &d.FileName, &d.Bucket, &d.StorageKey, &d.ContentType,
		&d.Status, &d.ChunkCount, &d.ErrorDetail, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PgStore) ListDocuments(ctx context.Context, tenantID string) ([]models.Document, error) {
	const q = `
		SELECT id, tenant_id, file_name, bucket, storage_key, content_type, status,
		       chunk_count, COALESCE(error_detail, ''), created_at, updated_at
		FROM documents
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(
			&d.ID, &d.TenantID, &d.FileName, &d.Bucket, &d.StorageKey, &d.ContentType,
			&d.Status, &d.ChunkCount, &d.ErrorDetail, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PgStore) UpdateDocumentStatus(ctx context.Context, tenantID, id string, status models.DocumentStatus, errorDetail string) error {
	const q = `
		UPDATE documents
		SET status = $3, error_detail = NULLIF($4, ''), updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`
	res, err := s.db.ExecContext(ctx, q, tenantID, id, status, errorDetail)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrDocumentNotFound
	}
	return nil
}

func (s *PgStore) SetChunkCount(ctx context.Context, tenantID, id string, n int) error {
	const q = `
		UPDATE documents SET chunk_count = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`
	res, err := s.db.ExecContext(ctx, q, tenantID, id, n)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return core.ErrDocumentNotFound
	}
	return nil
}

func (s *PgStore) DeleteDocument(ctx context.Context, tenantID, id string) error {
	const q = `DELETE FROM documents WHERE tenant_id = $1 AND id = $2`
	res, err := s.db.ExecContext(ctx, q, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrDocumentNotFound
	}
	return nil
}

func (s *PgStore) CreateConversation(ctx context.Context, tenantID string) (*models.Conversation, error) {
	const q = `
		INSERT INTO conversations (id, tenant_id, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, now(), now())
		RETURNING id, tenant_id, created_at, updated_at
	`
	var c models.Conversation
	err := s.db.QueryRowContext(ctx, q, tenantID).Scan(&c.ID, &c.TenantID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PgStore) AppendMessage(ctx context.Context, tenantID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	msg.CreatedAt = orNow(msg.CreatedAt)
	citations, err := json.Marshal(msg.Citations)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	// Tenant ownership of the conversation is checked inside the same
	// transaction as the insert.
	var owner string
	err = tx.QueryRowContext(ctx,
		`SELECT tenant_id FROM conversations WHERE id = $1`, msg.ConversationID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return core.ErrConversationNotFound
	}
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if owner != tenantID {
		_ = tx.Rollback()
		return core.E(core.KindIsolation, "conversation", core.ErrTenantMismatch)
	}

	const q = `
		INSERT INTO messages (id, conversation_id, role, content, citations, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := tx.ExecContext(ctx, q,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, citations, msg.CreatedAt); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`, msg.ConversationID); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *PgStore) RecentMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
		SELECT m.id, m.conversation_id, m.role, m.content, m.citations, m.created_at
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.tenant_id = $1 AND m.conversation_id = $2
		ORDER BY m.created_at DESC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, q, tenantID, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var (
			m         models.Message
			citations []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &citations, &m.CreatedAt); err != nil {
			return nil, err
		}
		if len(citations) > 0 {
			if err := json.Unmarshal(citations, &m.Citations); err != nil {
				return nil, err
			}
		}
		out = append(out, m)
	}
	// Oldest first for prompt building.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}
