package deadletter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataline/strataline/internal/core"
	"github.com/strataline/strataline/internal/models"
)

func testEntry(tenant, doc string) core.DeadLetterEntry {
	return core.DeadLetterEntry{
		Event: models.UploadEvent{
			TenantID:    tenant,
			DocumentID:  doc,
			Bucket:      "docs",
			Key:         tenant + "/" + doc + "/file.pdf",
			ContentType: "application/pdf",
			EventTime:   time.Now().UTC(),
		},
		ErrorKind:   "transient",
		ErrorDetail: "embed: throttled",
		Attempts:    3,
		FailedAt:    time.Now().Unix(),
	}
}

func openTestQueue(t *testing.T) *BadgerQueue {
	t.Helper()
	q, err := OpenBadger(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestBadgerPushListRemove(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, testEntry("tenant-a", "doc-1")))
	require.NoError(t, q.Push(ctx, testEntry("tenant-a", "doc-2")))
	require.NoError(t, q.Push(ctx, testEntry("tenant-b", "doc-1")))

	entries, err := q.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	require.NoError(t, q.Remove(ctx, "tenant-a", "doc-1"))
	entries, err = q.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestBadgerPushOverwritesSameDocument(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	first := testEntry("tenant-a", "doc-1")
	first.ErrorDetail = "extract: timeout"
	require.NoError(t, q.Push(ctx, first))

	second := testEntry("tenant-a", "doc-1")
	second.ErrorDetail = "embed: throttled"
	require.NoError(t, q.Push(ctx, second))

	entries, err := q.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "same document keeps one entry")
	assert.Equal(t, "embed: throttled", entries[0].ErrorDetail)
}

func TestBadgerRemoveMissingIsNoop(t *testing.T) {
	q := openTestQueue(t)
	assert.NoError(t, q.Remove(context.Background(), "tenant-a", "never-seen"))
}

func TestBadgerListLimit(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(ctx, testEntry("tenant-a", models.ChunkID("doc", i))))
	}
	entries, err := q.List(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
