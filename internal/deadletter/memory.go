package deadletter

import (
	"context"
	"sync"

	"github.com/strataline/strataline/internal/core"
)

var _ core.DeadLetterQueue = (*MemoryQueue)(nil)

// MemoryQueue is a non-durable dead-letter queue for tests and local runs.
type MemoryQueue struct {
	mu      sync.Mutex
	entries map[string]core.DeadLetterEntry
	order   []string
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{entries: make(map[string]core.DeadLetterEntry)}
}

func memKey(tenantID, documentID string) string { return tenantID + "/" + documentID }

func (q *MemoryQueue) Push(ctx context.Context, entry core.DeadLetterEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	k := memKey(entry.Event.TenantID, entry.Event.DocumentID)
	if _, seen := q.entries[k]; !seen {
		q.order = append(q.order, k)
	}
	q.entries[k] = entry
	return nil
}

func (q *MemoryQueue) List(ctx context.Context, limit int) ([]core.DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []core.DeadLetterEntry
	for _, k := range q.order {
		if e, ok := q.entries[k]; ok {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (q *MemoryQueue) Remove(ctx context.Context, tenantID, documentID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, memKey(tenantID, documentID))
	return nil
}
