package core

import (
	"context"
	"io"

	"github.com/strataline/strataline/internal/models"
)

// DocumentStore persists document records and their ingestion status.
// It abstracts Postgres so higher layers never depend on a specific DB.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, tenantID, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, tenantID string) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, tenantID, id string, status models.DocumentStatus, errorDetail string) error
	SetChunkCount(ctx context.Context, tenantID, id string, n int) error
	DeleteDocument(ctx context.Context, tenantID, id string) error
}

// ConversationStore is the conversation contract consumed from the chat
// layer. This service appends messages; it does not own conversation CRUD.
type ConversationStore interface {
	CreateConversation(ctx context.Context, tenantID string) (*models.Conversation, error)
	AppendMessage(ctx context.Context, tenantID string, msg *models.Message) error
	RecentMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]models.Message, error)
}

// ObjectClient defines interactions with S3 or any compatible object store.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, body io.Reader, contentType string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
	DeleteFile(ctx context.Context, bucket, key string) error
}

// TextExtractor turns a raw document blob into plain text. It must not
// mutate the source blob.
type TextExtractor interface {
	Extract(ctx context.Context, blob []byte, contentType string) (string, error)
}

// EmbeddingProvider is the pluggable embedding backend.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	// ModelID identifies the backend model version. Embeddings from
	// different model versions are not comparable.
	ModelID() string
	// Dimension is the fixed output vector length.
	Dimension() int
}

// LLMProvider is the pluggable generation backend.
type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// TenantIndex is a vector index handle bound to exactly one tenant. A handle
// is structurally unable to address another tenant's entries; writes are
// additionally re-checked against the bound tenant.
type TenantIndex interface {
	TenantID() string
	Upsert(ctx context.Context, entries []models.IndexEntry) error
	Search(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// IndexProvider hands out tenant-scoped index handles.
type IndexProvider interface {
	ForTenant(tenantID string) (TenantIndex, error)
}

// DeadLetterEntry is what lands on the dead-letter queue after a document
// exhausts its retries.
type DeadLetterEntry struct {
	Event       models.UploadEvent `json:"event"`
	ErrorKind   string             `json:"error_kind"`
	ErrorDetail string             `json:"error_detail"`
	Attempts    int                `json:"attempts"`
	FailedAt    int64              `json:"failed_at_unix"`
}

// DeadLetterQueue is the durable side channel for exhausted work items.
type DeadLetterQueue interface {
	Push(ctx context.Context, entry DeadLetterEntry) error
	List(ctx context.Context, limit int) ([]DeadLetterEntry, error)
	// Remove drops the entry for a document, typically after a requeue.
	Remove(ctx context.Context, tenantID, documentID string) error
}
