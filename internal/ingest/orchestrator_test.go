package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataline/strataline/internal/core"
	"github.com/strataline/strataline/internal/core/chunk"
	"github.com/strataline/strataline/internal/core/database"
	"github.com/strataline/strataline/internal/core/embed"
	"github.com/strataline/strataline/internal/core/index"
	"github.com/strataline/strataline/internal/core/llm/mock"
	"github.com/strataline/strataline/internal/deadletter"
	"github.com/strataline/strataline/internal/models"
)

// memObjects is an in-process core.ObjectClient for tests.
type memObjects struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemObjects() *memObjects { return &memObjects{blobs: make(map[string][]byte)} }

func (m *memObjects) UploadFile(ctx context.Context, bucket, key string, body io.Reader, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[bucket+"/"+key] = data
	return nil
}

func (m *memObjects) GetFile(ctx context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("no object at %s/%s", bucket, key)
	}
	return data, nil
}

func (m *memObjects) DeleteFile(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, bucket+"/"+key)
	return nil
}

// passthroughExtractor treats every blob as plain text.
type passthroughExtractor struct{}

func (passthroughExtractor) Extract(ctx context.Context, blob []byte, contentType string) (string, error) {
	return string(blob), nil
}

type fixture struct {
	orch    *Orchestrator
	store   *database.MemoryStore
	objects *memObjects
	indexes *index.MemoryProvider
	dlq     *deadletter.MemoryQueue
}

func newFixture(t *testing.T, embedder core.EmbeddingProvider) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	gen, err := embed.NewGenerator(embedder, embed.Config{Concurrency: 1, BatchSize: 8}, logger)
	require.NoError(t, err)
	t.Cleanup(gen.Release)

	store := database.NewMemoryStore()
	objects := newMemObjects()
	indexes := index.NewMemoryProvider(logger)
	dlq := deadletter.NewMemoryQueue()

	cfg := Config{
		Workers:   1,
		QueueSize: 8,
		Chunking:  chunk.Config{Size: 50, Overlap: 10},
		Retry: RetryPolicy{
			Attempts:   3,
			BaseDelay:  time.Millisecond,
			EmbedDelay: time.Millisecond,
		},
	}
	orch := NewOrchestrator(store, objects, passthroughExtractor{}, gen, indexes, dlq, cfg, logger)
	return &fixture{orch: orch, store: store, objects: objects, indexes: indexes, dlq: dlq}
}

// seed stores a document record plus its blob and returns the upload event.
func (f *fixture) seed(t *testing.T, tenantID, documentID, text string) models.UploadEvent {
	t.Helper()
	ctx := context.Background()
	key := "uploads/" + tenantID + "/" + documentID
	require.NoError(t, f.objects.UploadFile(ctx, "test-bucket", key, strings.NewReader(text), "text/plain"))
	require.NoError(t, f.store.CreateDocument(ctx, &models.Document{
		ID:          documentID,
		TenantID:    tenantID,
		FileName:    documentID + ".txt",
		Bucket:      "test-bucket",
		StorageKey:  key,
		ContentType: "text/plain",
		Status:      models.StatusUploaded,
	}))
	return models.UploadEvent{
		TenantID:    tenantID,
		DocumentID:  documentID,
		Bucket:      "test-bucket",
		Key:         key,
		Size:        int64(len(text)),
		ContentType: "text/plain",
		EventTime:   time.Now().UTC(),
	}
}

func words(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "w%d ", i)
	}
	return b.String()
}

func TestIngestReachesIndexed(t *testing.T) {
	ctx := context.Background()
	embedder := mock.NewEmbedder()
	f := newFixture(t, embedder)
	ev := f.seed(t, "tenant-a", "doc-1", words(120))

	require.NoError(t, f.orch.ProcessOne(ctx, ev))

	doc, err := f.store.GetDocument(ctx, "tenant-a", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusIndexed, doc.Status)
	// 120 words at size 50 / overlap 10 is a stride of 40: offsets 0, 40, 80.
	assert.Equal(t, 3, doc.ChunkCount)
	assert.Empty(t, doc.ErrorDetail)

	idx, err := f.indexes.ForTenant("tenant-a")
	require.NoError(t, err)
	hits, err := idx.Search(ctx, mock.DeterministicVector("w0", embedder.Dimension()), 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		assert.Equal(t, "tenant-a", h.Entry.TenantID)
		assert.Equal(t, "doc-1", h.Entry.DocumentID)
		assert.Equal(t, embedder.ModelID(), h.Entry.ModelID)
	}
}

func TestThrottleRecoversWithinRetryBudget(t *testing.T) {
	ctx := context.Background()
	embedder := mock.NewEmbedder()
	var attempts int
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		attempts++
		if attempts <= 2 {
			return nil, core.Exhausted("embed", errors.New("429 too many requests"))
		}
		out := make([][]float32, len(texts))
		for i, tx := range texts {
			out[i] = mock.DeterministicVector(tx, embedder.Dimension())
		}
		return out, nil
	}
	f := newFixture(t, embedder)
	ev := f.seed(t, "tenant-a", "doc-throttle", words(30))

	require.NoError(t, f.orch.ProcessOne(ctx, ev))

	doc, err := f.store.GetDocument(ctx, "tenant-a", "doc-throttle")
	require.NoError(t, err)
	assert.Equal(t, models.StatusIndexed, doc.Status)
	assert.Equal(t, 3, attempts)

	entries, err := f.dlq.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "a recovered document must not dead-letter")
}

func TestExhaustedRetriesDeadLetter(t *testing.T) {
	ctx := context.Background()
	embedder := mock.NewEmbedder()
	var attempts int
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		attempts++
		return nil, core.Exhausted("embed", errors.New("429 too many requests"))
	}
	f := newFixture(t, embedder)
	ev := f.seed(t, "tenant-a", "doc-doomed", words(30))

	err := f.orch.ProcessOne(ctx, ev)
	require.Error(t, err)
	assert.Equal(t, 3, attempts, "retry budget is three attempts")

	doc, gerr := f.store.GetDocument(ctx, "tenant-a", "doc-doomed")
	require.NoError(t, gerr)
	assert.Equal(t, models.StatusFailed, doc.Status)
	assert.NotEmpty(t, doc.ErrorDetail)

	entries, lerr := f.dlq.List(ctx, 10)
	require.NoError(t, lerr)
	require.Len(t, entries, 1)
	assert.Equal(t, "doc-doomed", entries[0].Event.DocumentID)
	assert.Equal(t, core.KindResourceExhausted.String(), entries[0].ErrorKind)
	assert.Equal(t, 3, entries[0].Attempts)

	idx, ierr := f.indexes.ForTenant("tenant-a")
	require.NoError(t, ierr)
	hits, serr := idx.Search(ctx, mock.DeterministicVector("w0", embedder.Dimension()), 5)
	require.NoError(t, serr)
	assert.Empty(t, hits, "a failed document leaves no index entries")
}

func TestInvalidInputFailsWithoutRetry(t *testing.T) {
	ctx := context.Background()
	embedder := mock.NewEmbedder()
	f := newFixture(t, embedder)

	f.orch.extractor = failingExtractor{err: core.Invalid("extract", errors.New("corrupt container"))}
	ev := f.seed(t, "tenant-a", "doc-corrupt", "unused")

	require.Error(t, f.orch.ProcessOne(ctx, ev))

	doc, err := f.store.GetDocument(ctx, "tenant-a", "doc-corrupt")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, doc.Status)

	entries, err := f.dlq.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, core.KindInvalidInput.String(), entries[0].ErrorKind)
	assert.Zero(t, embedder.Calls(), "extraction failures never reach the embedding backend")
}

type failingExtractor struct{ err error }

func (f failingExtractor) Extract(ctx context.Context, blob []byte, contentType string) (string, error) {
	return "", f.err
}

func TestReingestionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	embedder := mock.NewEmbedder()
	f := newFixture(t, embedder)
	ev := f.seed(t, "tenant-a", "doc-again", words(120))

	require.NoError(t, f.orch.ProcessOne(ctx, ev))
	require.NoError(t, f.orch.ProcessOne(ctx, ev))

	doc, err := f.store.GetDocument(ctx, "tenant-a", "doc-again")
	require.NoError(t, err)
	assert.Equal(t, models.StatusIndexed, doc.Status)
	assert.Equal(t, 3, doc.ChunkCount)

	idx, err := f.indexes.ForTenant("tenant-a")
	require.NoError(t, err)
	hits, err := idx.Search(ctx, mock.DeterministicVector("w0", embedder.Dimension()), 50)
	require.NoError(t, err)
	require.Len(t, hits, 3, "re-ingestion overwrites, it never duplicates")

	seen := map[string]bool{}
	for _, h := range hits {
		seen[h.Entry.ChunkID] = true
	}
	for i := 0; i < 3; i++ {
		assert.True(t, seen[models.ChunkID("doc-again", i)])
	}
}

func TestReingestionRemovesOrphanChunks(t *testing.T) {
	ctx := context.Background()
	embedder := mock.NewEmbedder()
	f := newFixture(t, embedder)

	ev := f.seed(t, "tenant-a", "doc-shrink", words(120))
	require.NoError(t, f.orch.ProcessOne(ctx, ev))

	// The source shrinks to a single chunk; stale tail entries must go.
	require.NoError(t, f.objects.UploadFile(ctx, ev.Bucket, ev.Key, strings.NewReader(words(20)), "text/plain"))
	require.NoError(t, f.orch.ProcessOne(ctx, ev))

	doc, err := f.store.GetDocument(ctx, "tenant-a", "doc-shrink")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.ChunkCount)

	idx, err := f.indexes.ForTenant("tenant-a")
	require.NoError(t, err)
	hits, err := idx.Search(ctx, mock.DeterministicVector("w0", embedder.Dimension()), 50)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, models.ChunkID("doc-shrink", 0), hits[0].Entry.ChunkID)
}

func TestCancellationStopsRunQuietly(t *testing.T) {
	ctx := context.Background()
	embedder := mock.NewEmbedder()
	f := newFixture(t, embedder)
	ev := f.seed(t, "tenant-a", "doc-cancel", words(30))

	// Cancel lands while the embedding stage is in flight; the next stage
	// boundary must observe it.
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		require.NoError(t, f.orch.Cancel(ctx, "tenant-a", "doc-cancel"))
		out := make([][]float32, len(texts))
		for i, tx := range texts {
			out[i] = mock.DeterministicVector(tx, embedder.Dimension())
		}
		return out, nil
	}

	require.NoError(t, f.orch.ProcessOne(ctx, ev))

	doc, err := f.store.GetDocument(ctx, "tenant-a", "doc-cancel")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, doc.Status)

	entries, err := f.dlq.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "cancellation is not a failure")

	idx, err := f.indexes.ForTenant("tenant-a")
	require.NoError(t, err)
	hits, err := idx.Search(ctx, mock.DeterministicVector("w0", embedder.Dimension()), 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDeletedDocumentSkippedQuietly(t *testing.T) {
	ctx := context.Background()
	embedder := mock.NewEmbedder()
	f := newFixture(t, embedder)
	ev := f.seed(t, "tenant-a", "doc-gone", words(30))

	require.NoError(t, f.store.DeleteDocument(ctx, "tenant-a", "doc-gone"))
	require.NoError(t, f.orch.ProcessOne(ctx, ev))

	assert.Zero(t, embedder.Calls())
	entries, err := f.dlq.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEmptyDocumentShortCircuit(t *testing.T) {
	ctx := context.Background()
	embedder := mock.NewEmbedder()
	f := newFixture(t, embedder)
	ev := f.seed(t, "tenant-a", "doc-empty", "   \n\t  ")

	require.NoError(t, f.orch.ProcessOne(ctx, ev))

	doc, err := f.store.GetDocument(ctx, "tenant-a", "doc-empty")
	require.NoError(t, err)
	assert.Equal(t, models.StatusIndexed, doc.Status)
	assert.Equal(t, 0, doc.ChunkCount)
	assert.Zero(t, embedder.Calls(), "empty documents never reach the embedding backend")
}

func TestRequeueFromDeadLetter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	embedder := mock.NewEmbedder()
	var mu sync.Mutex
	healthy := false
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		mu.Lock()
		ok := healthy
		mu.Unlock()
		if !ok {
			return nil, core.Exhausted("embed", errors.New("429 too many requests"))
		}
		out := make([][]float32, len(texts))
		for i, tx := range texts {
			out[i] = mock.DeterministicVector(tx, embedder.Dimension())
		}
		return out, nil
	}
	f := newFixture(t, embedder)
	ev := f.seed(t, "tenant-a", "doc-requeue", words(30))

	require.Error(t, f.orch.ProcessOne(ctx, ev))
	entries, err := f.dlq.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	mu.Lock()
	healthy = true
	mu.Unlock()

	f.orch.Start(ctx)
	require.NoError(t, f.orch.Requeue(ctx, entries[0]))

	require.Eventually(t, func() bool {
		doc, err := f.store.GetDocument(ctx, "tenant-a", "doc-requeue")
		return err == nil && doc.Status == models.StatusIndexed
	}, 5*time.Second, 10*time.Millisecond)

	entries, err = f.dlq.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "a requeued document leaves the dead-letter queue")
}
