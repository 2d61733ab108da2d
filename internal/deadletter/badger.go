// Package deadletter stores ingestion work items that exhausted their
// retries, for operator triage and requeueing.
package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/strataline/strataline/internal/core"
)

const keyPrefix = "dlq/"

var _ core.DeadLetterQueue = (*BadgerQueue)(nil)

// BadgerQueue is a durable dead-letter queue on an embedded badger store.
// Entries are keyed by (tenant, document) so a document that fails twice
// holds one entry with the latest failure detail.
type BadgerQueue struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenBadger opens (or creates) the queue at dir.
func OpenBadger(dir string, logger *slog.Logger) (*BadgerQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open dead-letter store: %w", err)
	}
	return &BadgerQueue{db: db, logger: logger}, nil
}

func (q *BadgerQueue) Close() error { return q.db.Close() }

func entryKey(tenantID, documentID string) []byte {
	return []byte(keyPrefix + tenantID + "/" + documentID)
}

func (q *BadgerQueue) Push(ctx context.Context, entry core.DeadLetterEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(entry.Event.TenantID, entry.Event.DocumentID), payload)
	})
	if err != nil {
		return fmt.Errorf("dead-letter push: %w", err)
	}
	q.logger.Warn("document dead-lettered",
		"tenant_id", entry.Event.TenantID,
		"document_id", entry.Event.DocumentID,
		"error_kind", entry.ErrorKind,
		"attempts", entry.Attempts)
	return nil
}

func (q *BadgerQueue) List(ctx context.Context, limit int) ([]core.DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []core.DeadLetterEntry
	err := q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e core.DeadLetterEntry
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				out = append(out, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (q *BadgerQueue) Remove(ctx context.Context, tenantID, documentID string) error {
	err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(tenantID, documentID))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("dead-letter remove: %w", err)
	}
	return nil
}

// Depth counts queued entries, for the metrics gauge.
func (q *BadgerQueue) Depth(ctx context.Context) (int, error) {
	n := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
