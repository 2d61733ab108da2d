package models

import (
	"fmt"
	"time"
)

// DocumentStatus tracks a document through the ingestion pipeline.
// Transitions are owned exclusively by the ingestion orchestrator.
type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusExtracting DocumentStatus = "extracting"
	StatusSanitizing DocumentStatus = "sanitizing"
	StatusChunking   DocumentStatus = "chunking"
	StatusEmbedding  DocumentStatus = "embedding"
	StatusIndexing   DocumentStatus = "indexing"
	StatusIndexed    DocumentStatus = "indexed"
	StatusFailed     DocumentStatus = "failed"
	StatusCancelled  DocumentStatus = "cancelled"
)

// Terminal reports whether the status is an end state of the pipeline.
func (s DocumentStatus) Terminal() bool {
	switch s {
	case StatusIndexed, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Document represents a tenant-uploaded document tracked through ingestion.
type Document struct {
	ID          string         `db:"id" json:"id"`
	TenantID    string         `db:"tenant_id" json:"tenant_id"`
	FileName    string         `db:"file_name" json:"file_name"`
	Bucket      string         `db:"bucket" json:"bucket"`
	StorageKey  string         `db:"storage_key" json:"storage_key"`
	ContentType string         `db:"content_type" json:"content_type"`
	Status      DocumentStatus `db:"status" json:"status"`
	ChunkCount  int            `db:"chunk_count" json:"chunk_count"`
	ErrorDetail string         `db:"error_detail" json:"error_detail,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// Chunk is one overlapping word-window of a document's sanitized text.
// Its ID is deterministic from (document id, ordinal) so re-ingesting the
// same document always produces the same chunk identities.
type Chunk struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	DocumentID string    `json:"document_id"`
	Ordinal    int       `json:"ordinal"`
	Text       string    `json:"text"`
	WordCount  int       `json:"word_count"`
	CharCount  int       `json:"char_count"`
	Hash       string    `json:"hash"`
	Embedding  []float32 `json:"embedding,omitempty"`
	ModelID    string    `json:"model_id,omitempty"`
}

// ChunkID builds the stable chunk identifier for a document position.
func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, ordinal)
}

// IndexEntry is the persisted form of a chunk inside a tenant's index.
// TenantID is stored alongside the vector even though the index itself is
// tenant-scoped; the write path re-checks that the two agree.
type IndexEntry struct {
	TenantID   string    `json:"tenant_id"`
	DocumentID string    `json:"document_id"`
	ChunkID    string    `json:"chunk_id"`
	Ordinal    int       `json:"ordinal"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding"`
	ModelID    string    `json:"model_id"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// ScoredChunk is one retrieval hit with its similarity score.
type ScoredChunk struct {
	Entry IndexEntry `json:"entry"`
	Score float32    `json:"score"`
}

// Citation points a generated answer back at a source chunk.
type Citation struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Excerpt    string  `json:"excerpt"`
	Confidence float32 `json:"confidence"`
}

// Answer is the result of one query-path turn.
type Answer struct {
	MessageID        string     `json:"message_id"`
	Content          string     `json:"content"`
	Citations        []Citation `json:"citations"`
	Unverified       bool       `json:"unverified"`
	GenerationTimeMs int64      `json:"generation_time_ms"`
}

// Conversation groups messages for one tenant. Lifecycle is owned by the
// external chat layer; this service only appends to it.
type Conversation struct {
	ID        string    `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Message is an individual chat message (user or assistant).
type Message struct {
	ID             string     `db:"id" json:"id"`
	ConversationID string     `db:"conversation_id" json:"conversation_id"`
	Role           string     `db:"role" json:"role"` // "user" or "assistant"
	Content        string     `db:"content" json:"content"`
	Citations      []Citation `db:"citations" json:"citations,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// UploadEvent is the ingestion trigger emitted when a document blob lands in
// object storage. One event starts one orchestrator run.
type UploadEvent struct {
	TenantID    string    `json:"tenant_id"`
	DocumentID  string    `json:"document_id"`
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	EventTime   time.Time `json:"event_time"`
}
