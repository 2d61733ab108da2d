package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/strataline/strataline/internal/core"
	"github.com/strataline/strataline/internal/core/chunk"
	"github.com/strataline/strataline/internal/core/embed"
	"github.com/strataline/strataline/internal/core/sanitize"
	"github.com/strataline/strataline/internal/metrics"
	"github.com/strataline/strataline/internal/models"
)

// RetryPolicy controls per-stage retries. Only transient and
// resource-exhausted errors are retried; the embedding stage gets a longer
// base delay because its backend is the expensive one.
type RetryPolicy struct {
	Attempts   uint
	BaseDelay  time.Duration
	EmbedDelay time.Duration
}

// Config tunes one orchestrator. It is passed in explicitly so the pipeline
// is unit-testable without process-wide setup.
type Config struct {
	Workers   int
	QueueSize int
	Chunking  chunk.Config
	Retry     RetryPolicy
}

func DefaultConfig() Config {
	return Config{
		Workers:   4,
		QueueSize: 64,
		Chunking:  chunk.DefaultConfig(),
		Retry: RetryPolicy{
			Attempts:   3,
			BaseDelay:  2 * time.Second,
			EmbedDelay: 5 * time.Second,
		},
	}
}

// Orchestrator runs one state-machine instance per document. Instances
// share nothing but the document store and the index, both keyed by
// (tenant, document), so runs across documents need no coordination.
type Orchestrator struct {
	store     core.DocumentStore
	objects   core.ObjectClient
	extractor core.TextExtractor
	sanitizer *sanitize.Sanitizer
	chunker   *chunk.Chunker
	embedder  *embed.Generator
	indexes   core.IndexProvider
	dlq       core.DeadLetterQueue
	cfg       Config
	jobs      chan models.UploadEvent
	logger    *slog.Logger
}

func NewOrchestrator(
	store core.DocumentStore,
	objects core.ObjectClient,
	extractor core.TextExtractor,
	embedder *embed.Generator,
	indexes core.IndexProvider,
	dlq core.DeadLetterQueue,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = DefaultConfig().Retry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     store,
		objects:   objects,
		extractor: extractor,
		sanitizer: sanitize.New(),
		chunker:   chunk.New(cfg.Chunking),
		embedder:  embedder,
		indexes:   indexes,
		dlq:       dlq,
		cfg:       cfg,
		jobs:      make(chan models.UploadEvent, cfg.QueueSize),
		logger:    logger,
	}
}

// Start launches the worker goroutines reading from the job queue.
func (o *Orchestrator) Start(ctx context.Context) {
	for w := 1; w <= o.cfg.Workers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					o.logger.Info("ingest worker shutting down", "worker", w)
					return
				case ev := <-o.jobs:
					if err := o.ProcessOne(ctx, ev); err != nil {
						o.logger.Error("ingestion run failed",
							"tenant_id", ev.TenantID, "document_id", ev.DocumentID, "err", err)
					}
				}
			}
		}(w)
	}
}

// Enqueue schedules one upload event. Blocks when the queue is full.
func (o *Orchestrator) Enqueue(ev models.UploadEvent) {
	o.jobs <- ev
}

// ProcessOne drives a single document to a terminal state. Re-driving the
// same document after a partial failure is safe: chunk identities are
// deterministic and index writes are upserts, so repeated runs converge on
// the same final state.
func (o *Orchestrator) ProcessOne(ctx context.Context, ev models.UploadEvent) error {
	doc, err := o.store.GetDocument(ctx, ev.TenantID, ev.DocumentID)
	if errors.Is(err, core.ErrDocumentNotFound) {
		// Deleted before we got to it. Not a failure.
		o.logger.Info("document gone before ingestion, skipping",
			"tenant_id", ev.TenantID, "document_id", ev.DocumentID)
		return nil
	}
	if err != nil {
		return err
	}

	if doc.Status == models.StatusCancelled {
		return nil
	}
	// Every run restarts from the top regardless of the persisted status, so
	// re-driving a partially failed document converges instead of resuming
	// from an unknown point.
	run := &pipelineRun{o: o, ev: ev, sm: NewStateMachine(models.StatusUploaded)}
	if err := run.execute(ctx); err != nil {
		return o.fail(ctx, ev, err)
	}
	return nil
}

// pipelineRun carries one document's intermediate products between stages.
type pipelineRun struct {
	o  *Orchestrator
	ev models.UploadEvent
	sm *StateMachine

	text   string
	chunks []models.Chunk
}

func (r *pipelineRun) execute(ctx context.Context) error {
	o := r.o

	if cancelled, err := r.checkpoint(ctx, models.StatusExtracting); cancelled || err != nil {
		return err
	}
	if err := o.runStage(ctx, "extract", o.cfg.Retry.BaseDelay, r.extract); err != nil {
		return err
	}

	if strings.TrimSpace(r.text) == "" {
		return r.finishEmpty(ctx)
	}

	if cancelled, err := r.checkpoint(ctx, models.StatusSanitizing); cancelled || err != nil {
		return err
	}
	if err := o.runStage(ctx, "sanitize", o.cfg.Retry.BaseDelay, r.sanitize); err != nil {
		return err
	}

	if cancelled, err := r.checkpoint(ctx, models.StatusChunking); cancelled || err != nil {
		return err
	}
	if err := o.runStage(ctx, "chunk", o.cfg.Retry.BaseDelay, r.chunk); err != nil {
		return err
	}
	if len(r.chunks) == 0 {
		return r.finishEmpty(ctx)
	}

	if cancelled, err := r.checkpoint(ctx, models.StatusEmbedding); cancelled || err != nil {
		return err
	}
	if err := o.runStage(ctx, "embed", o.cfg.Retry.EmbedDelay, r.embed); err != nil {
		return err
	}

	if cancelled, err := r.checkpoint(ctx, models.StatusIndexing); cancelled || err != nil {
		return err
	}
	if err := o.runStage(ctx, "index", o.cfg.Retry.BaseDelay, r.index); err != nil {
		return err
	}

	if cancelled, err := r.checkpoint(ctx, models.StatusIndexed); cancelled || err != nil {
		return err
	}
	metrics.IncDocumentProcessed(string(models.StatusIndexed))
	o.logger.Info("document indexed",
		"tenant_id", r.ev.TenantID, "document_id", r.ev.DocumentID, "chunks", len(r.chunks))
	return nil
}

// checkpoint advances the state machine and persists the new status. It is
// also the cancellation boundary: a document deleted (or marked cancelled)
// mid-pipeline stops the run here without raising a failure alarm.
func (r *pipelineRun) checkpoint(ctx context.Context, next models.DocumentStatus) (cancelled bool, err error) {
	doc, err := r.o.store.GetDocument(ctx, r.ev.TenantID, r.ev.DocumentID)
	if errors.Is(err, core.ErrDocumentNotFound) {
		r.o.logger.Info("document deleted mid-pipeline, abandoning run",
			"tenant_id", r.ev.TenantID, "document_id", r.ev.DocumentID)
		metrics.IncDocumentProcessed(string(models.StatusCancelled))
		return true, nil
	}
	if err != nil {
		return false, core.Transient("checkpoint", err)
	}
	if doc.Status == models.StatusCancelled {
		metrics.IncDocumentProcessed(string(models.StatusCancelled))
		return true, nil
	}

	if err := r.sm.Advance(next); err != nil {
		return false, err
	}
	if err := r.o.store.UpdateDocumentStatus(ctx, r.ev.TenantID, r.ev.DocumentID, next, ""); err != nil {
		return false, core.Transient("checkpoint", err)
	}
	return false, nil
}

func (r *pipelineRun) extract(ctx context.Context) error {
	blob, err := r.o.objects.GetFile(ctx, r.ev.Bucket, r.ev.Key)
	if err != nil {
		return core.Transient("extract", err)
	}
	text, err := r.o.extractor.Extract(ctx, blob, r.ev.ContentType)
	if err != nil {
		return err
	}
	r.text = text
	return nil
}

func (r *pipelineRun) sanitize(ctx context.Context) error {
	clean, counts := r.o.sanitizer.Sanitize(r.text)
	r.text = clean
	if len(counts) > 0 {
		metrics.AddRedactions(counts)
		r.o.logger.Info("redactions applied",
			"tenant_id", r.ev.TenantID, "document_id", r.ev.DocumentID, "counts", counts)
	}
	return nil
}

func (r *pipelineRun) chunk(ctx context.Context) error {
	r.chunks = r.o.chunker.Split(r.ev.TenantID, r.ev.DocumentID, r.text)
	metrics.AddChunks(len(r.chunks))
	if err := r.o.store.SetChunkCount(ctx, r.ev.TenantID, r.ev.DocumentID, len(r.chunks)); err != nil {
		return core.Transient("chunk", err)
	}
	return nil
}

func (r *pipelineRun) embed(ctx context.Context) error {
	embedded, err := r.o.embedder.EmbedChunks(ctx, r.chunks)
	if err != nil {
		return err
	}
	r.chunks = embedded
	return nil
}

func (r *pipelineRun) index(ctx context.Context) error {
	idx, err := r.o.indexes.ForTenant(r.ev.TenantID)
	if err != nil {
		return core.Transient("index", err)
	}
	entries := make([]models.IndexEntry, len(r.chunks))
	now := time.Now().UTC()
	for i, c := range r.chunks {
		entries[i] = models.IndexEntry{
			TenantID:   c.TenantID,
			DocumentID: c.DocumentID,
			ChunkID:    c.ID,
			Ordinal:    c.Ordinal,
			Text:       c.Text,
			Embedding:  c.Embedding,
			ModelID:    c.ModelID,
			IndexedAt:  now,
		}
	}
	// Clearing the document's prior entries first removes orphans left by a
	// previous, longer version of the same source.
	if err := idx.DeleteDocument(ctx, r.ev.DocumentID); err != nil {
		return err
	}
	return idx.Upsert(ctx, entries)
}

// finishEmpty short-circuits a document whose sanitized text produced no
// chunks: prior index entries are removed and the document completes with a
// zero chunk count, skipping the embedding and indexing backends entirely.
func (r *pipelineRun) finishEmpty(ctx context.Context) error {
	idx, err := r.o.indexes.ForTenant(r.ev.TenantID)
	if err != nil {
		return core.Transient("index", err)
	}
	if err := idx.DeleteDocument(ctx, r.ev.DocumentID); err != nil {
		return err
	}
	if err := r.o.store.SetChunkCount(ctx, r.ev.TenantID, r.ev.DocumentID, 0); err != nil {
		return core.Transient("index", err)
	}
	if err := r.sm.Advance(models.StatusIndexed); err != nil {
		return err
	}
	if err := r.o.store.UpdateDocumentStatus(ctx, r.ev.TenantID, r.ev.DocumentID, models.StatusIndexed, ""); err != nil {
		return core.Transient("index", err)
	}
	metrics.IncDocumentProcessed(string(models.StatusIndexed))
	return nil
}

// runStage executes fn under the stage retry policy: exponential backoff,
// retrying only error kinds the taxonomy marks retryable.
func (o *Orchestrator) runStage(ctx context.Context, stage string, baseDelay time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	err := retry.Do(
		func() error { return fn(ctx) },
		retry.Context(ctx),
		retry.Attempts(o.cfg.Retry.Attempts),
		retry.Delay(baseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(core.IsRetryable),
		retry.LastErrorOnly(true),
	)
	metrics.ObserveStage(stage, start)
	if err != nil {
		metrics.IncError(stage, core.KindOf(err).String())
	}
	return err
}

// fail marks the document failed, pushes the original event to the
// dead-letter queue and raises the operator alarm condition.
func (o *Orchestrator) fail(ctx context.Context, ev models.UploadEvent, cause error) error {
	kind := core.KindOf(cause)
	if err := o.store.UpdateDocumentStatus(ctx, ev.TenantID, ev.DocumentID, models.StatusFailed, cause.Error()); err != nil &&
		!errors.Is(err, core.ErrDocumentNotFound) {
		o.logger.Error("failed to persist failed status",
			"tenant_id", ev.TenantID, "document_id", ev.DocumentID, "err", err)
	}

	entry := core.DeadLetterEntry{
		Event:       ev,
		ErrorKind:   kind.String(),
		ErrorDetail: cause.Error(),
		Attempts:    int(o.cfg.Retry.Attempts),
		FailedAt:    time.Now().Unix(),
	}
	if err := o.dlq.Push(ctx, entry); err != nil {
		o.logger.Error("dead-letter push failed",
			"tenant_id", ev.TenantID, "document_id", ev.DocumentID, "err", err)
	}
	o.publishQueueDepth(ctx)

	metrics.IncDocumentProcessed(string(models.StatusFailed))
	// Alarm condition; the monitoring collaborator picks this up.
	o.logger.Error("document ingestion exhausted",
		"tenant_id", ev.TenantID, "document_id", ev.DocumentID,
		"error_kind", kind.String(), "err", cause)
	return cause
}

// Requeue re-drives a dead-lettered document and clears its queue entry on
// success.
func (o *Orchestrator) Requeue(ctx context.Context, entry core.DeadLetterEntry) error {
	if err := o.dlq.Remove(ctx, entry.Event.TenantID, entry.Event.DocumentID); err != nil {
		return err
	}
	if err := o.store.UpdateDocumentStatus(ctx, entry.Event.TenantID, entry.Event.DocumentID,
		models.StatusUploaded, ""); err != nil && !errors.Is(err, core.ErrDocumentNotFound) {
		return err
	}
	o.Enqueue(entry.Event)
	o.publishQueueDepth(ctx)
	return nil
}

// publishQueueDepth updates the dead-letter gauge when the queue backend can
// report its depth.
func (o *Orchestrator) publishQueueDepth(ctx context.Context) {
	type depther interface {
		Depth(ctx context.Context) (int, error)
	}
	if d, ok := o.dlq.(depther); ok {
		if n, err := d.Depth(ctx); err == nil {
			metrics.SetDeadLetterDepth(n)
		}
	}
}

// Cancel marks an in-flight document cancelled; the run observes it at the
// next stage boundary.
func (o *Orchestrator) Cancel(ctx context.Context, tenantID, documentID string) error {
	err := o.store.UpdateDocumentStatus(ctx, tenantID, documentID, models.StatusCancelled, "")
	if errors.Is(err, core.ErrDocumentNotFound) {
		return nil
	}
	return err
}
