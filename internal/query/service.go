package query

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/strataline/strataline/internal/core"
	"github.com/strataline/strataline/internal/metrics"
	"github.com/strataline/strataline/internal/models"
)

// Config tunes one query service instance.
type Config struct {
	// K is the retrieval depth.
	K int
	// HistoryLimit caps how many prior messages are included in the prompt.
	HistoryLimit int
	// Timeout bounds one SendMessage call end to end.
	Timeout time.Duration
	// ExcerptChars caps the excerpt length carried into prompts and citations.
	ExcerptChars int
}

func DefaultServiceConfig() Config {
	return Config{K: DefaultK, HistoryLimit: 10, Timeout: 30 * time.Second, ExcerptChars: 400}
}

// Service is the query orchestrator: it records the user turn, retrieves
// context from the tenant's index, generates a cited answer and records the
// assistant turn.
type Service struct {
	documents     core.DocumentStore
	conversations core.ConversationStore
	retriever     *Retriever
	generator     *Generator
	cfg           Config
	logger        *slog.Logger
}

func NewService(
	documents core.DocumentStore,
	conversations core.ConversationStore,
	retriever *Retriever,
	generator *Generator,
	cfg Config,
	logger *slog.Logger,
) *Service {
	def := DefaultServiceConfig()
	if cfg.K <= 0 {
		cfg.K = def.K
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ExcerptChars <= 0 {
		cfg.ExcerptChars = def.ExcerptChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		documents:     documents,
		conversations: conversations,
		retriever:     retriever,
		generator:     generator,
		cfg:           cfg,
		logger:        logger,
	}
}

// SendMessage runs one conversational turn for a tenant. Retrieval being
// unavailable degrades the answer to an uncited one; only conversation-store
// failures surface as errors.
func (s *Service) SendMessage(ctx context.Context, tenantID, conversationID, text string) (*models.Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	start := time.Now()

	userMsg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           "user",
		Content:        text,
	}
	if err := s.conversations.AppendMessage(ctx, tenantID, userMsg); err != nil {
		return nil, err
	}

	history, err := s.conversations.RecentMessages(ctx, tenantID, conversationID, s.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}
	// The user turn was just appended; it goes in as the question, not as
	// history.
	if n := len(history); n > 0 && history[n-1].ID == userMsg.ID {
		history = history[:n-1]
	}

	hits, err := s.retriever.Retrieve(ctx, tenantID, text, s.cfg.K)
	if err != nil {
		if !errors.Is(err, core.ErrRetrievalUnavailable) && core.KindOf(err) != core.KindTransient {
			return nil, err
		}
		s.logger.Warn("retrieval unavailable, answering without citations",
			"tenant_id", tenantID, "conversation_id", conversationID, "err", err)
		hits = nil
	}
	metrics.ObserveQuery(start, len(hits))

	answer := s.generator.Answer(ctx, text, history, s.sources(ctx, tenantID, hits))
	answer.GenerationTimeMs = time.Since(start).Milliseconds()

	assistantMsg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           "assistant",
		Content:        answer.Content,
		Citations:      answer.Citations,
	}
	if err := s.conversations.AppendMessage(ctx, tenantID, assistantMsg); err != nil {
		return nil, err
	}
	answer.MessageID = assistantMsg.ID
	return answer, nil
}

// sources converts retrieval hits into prompt sources, resolving document
// titles from the store. A missing record falls back to the document id.
func (s *Service) sources(ctx context.Context, tenantID string, hits []models.ScoredChunk) []Source {
	out := make([]Source, 0, len(hits))
	titles := make(map[string]string)
	for _, h := range hits {
		title, ok := titles[h.Entry.DocumentID]
		if !ok {
			title = h.Entry.DocumentID
			if doc, err := s.documents.GetDocument(ctx, tenantID, h.Entry.DocumentID); err == nil {
				title = doc.FileName
			}
			titles[h.Entry.DocumentID] = title
		}
		out = append(out, Source{
			DocumentID: h.Entry.DocumentID,
			Title:      title,
			Excerpt:    excerpt(h.Entry.Text, s.cfg.ExcerptChars),
			Confidence: confidenceFor(h.Score),
		})
	}
	return out
}

func excerpt(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
