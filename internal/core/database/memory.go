package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strataline/strataline/internal/core"
	"github.com/strataline/strataline/internal/models"
)

var (
	_ core.DocumentStore     = (*MemoryStore)(nil)
	_ core.ConversationStore = (*MemoryStore)(nil)
)

type docKey struct{ tenant, id string }

// MemoryStore keeps documents and conversations in process memory. It backs
// tests and standalone runs without Postgres.
type MemoryStore struct {
	mu            sync.RWMutex
	documents     map[docKey]models.Document
	conversations map[string]models.Conversation
	messages      map[string][]models.Message // keyed by conversation id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents:     make(map[docKey]models.Document),
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string][]models.Message),
	}
}

func (s *MemoryStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := *doc
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	d.UpdatedAt = d.CreatedAt
	s.documents[docKey{d.TenantID, d.ID}] = d
	return nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, tenantID, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[docKey{tenantID, id}]
	if !ok {
		return nil, core.ErrDocumentNotFound
	}
	out := d
	return &out, nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context, tenantID string) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Document
	for k, d := range s.documents {
		if k.tenant == tenantID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateDocumentStatus(ctx context.Context, tenantID, id string, status models.DocumentStatus, errorDetail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := docKey{tenantID, id}
	d, ok := s.documents[k]
	if !ok {
		return core.ErrDocumentNotFound
	}
	d.Status = status
	d.ErrorDetail = errorDetail
	d.UpdatedAt = time.Now().UTC()
	s.documents[k] = d
	return nil
}

func (s *MemoryStore) SetChunkCount(ctx context.Context, tenantID, id string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := docKey{tenantID, id}
	d, ok := s.documents[k]
	if !ok {
		return core.ErrDocumentNotFound
	}
	d.ChunkCount = n
	d.UpdatedAt = time.Now().UTC()
	s.documents[k] = d
	return nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := docKey{tenantID, id}
	if _, ok := s.documents[k]; !ok {
		return core.ErrDocumentNotFound
	}
	delete(s.documents, k)
	return nil
}

func (s *MemoryStore) CreateConversation(ctx context.Context, tenantID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	c := models.Conversation{ID: uuid.NewString(), TenantID: tenantID, CreatedAt: now, UpdatedAt: now}
	s.conversations[c.ID] = c
	return &c, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, tenantID string, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[msg.ConversationID]
	if !ok {
		return core.ErrConversationNotFound
	}
	if c.TenantID != tenantID {
		return core.E(core.KindIsolation, "conversation", core.ErrTenantMismatch)
	}
	m := *msg
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], m)
	c.UpdatedAt = m.CreatedAt
	s.conversations[c.ID] = c
	return nil
}

func (s *MemoryStore) RecentMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok || c.TenantID != tenantID {
		return nil, core.ErrConversationNotFound
	}
	msgs := s.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
