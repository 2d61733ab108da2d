package query

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/strataline/strataline/internal/core"
	"github.com/strataline/strataline/internal/models"
)

// Source is one retrieved chunk prepared for prompting: the excerpt shown to
// the model plus the metadata a citation needs.
type Source struct {
	DocumentID string
	Title      string
	Excerpt    string
	Confidence float32
}

const systemPrompt = `You are an assistant that answers questions about an organization's uploaded documents.

Always:
1. Base your answer only on the provided document excerpts
2. Reference sources in [Document N] format, matching the numbering of the excerpts
3. If the excerpts do not contain the answer, say so explicitly
4. Be concise and practical`

const unverifiedInstruction = `No documents relevant to the question were found. Answer from general knowledge if you can, and state clearly that the answer is not backed by the organization's documents.`

// degradedAnswer is what the user sees when the generation backend is down.
// The read path never surfaces a backend error as an exception.
const degradedAnswer = "I'm unable to generate a response right now. Please try again shortly."

// citationRef matches the [Document N] references the model is instructed
// to emit.
var citationRef = regexp.MustCompile(`\[Document (\d+)\]`)

// Generator turns a question and its retrieved sources into an answer with
// citations for the sources the model actually referenced.
type Generator struct {
	llm    core.LLMProvider
	logger *slog.Logger
}

func NewGenerator(llm core.LLMProvider, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{llm: llm, logger: logger}
}

// Answer generates a grounded answer. With no sources the result is a
// best-effort answer flagged unverified and carrying no citations. A backend
// failure yields a degraded answer, never an error.
func (g *Generator) Answer(ctx context.Context, question string, history []models.Message, sources []Source) *models.Answer {
	prompt := buildPrompt(question, history, sources)

	content, err := g.llm.Generate(ctx, systemPrompt, prompt)
	if err != nil {
		g.logger.Error("generation backend error", "err", err)
		return &models.Answer{Content: degradedAnswer, Citations: []models.Citation{}, Unverified: true}
	}
	if strings.TrimSpace(content) == "" {
		return &models.Answer{Content: degradedAnswer, Citations: []models.Citation{}, Unverified: true}
	}

	if len(sources) == 0 {
		return &models.Answer{Content: content, Citations: []models.Citation{}, Unverified: true}
	}
	return &models.Answer{Content: content, Citations: citedSources(content, sources)}
}

func buildPrompt(question string, history []models.Message, sources []Source) string {
	var b strings.Builder

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "QUESTION: %s\n\n", question)

	if len(sources) == 0 {
		b.WriteString(unverifiedInstruction)
		return b.String()
	}

	b.WriteString("RELEVANT DOCUMENTS:\n")
	for i, s := range sources {
		fmt.Fprintf(&b, "Document %d: %s\nExcerpt: %s\n\n", i+1, s.Title, s.Excerpt)
	}
	b.WriteString("Answer the question using the documents above, citing them in [Document N] format.")
	return b.String()
}

// citedSources maps [Document N] references back onto the sources list. A
// reference outside the list is ignored, so every returned citation
// corresponds to a retrieved chunk. The result is never nil so an answer
// without references serializes as an empty citations array.
func citedSources(content string, sources []Source) []models.Citation {
	seen := make(map[int]bool)
	citations := []models.Citation{}
	for _, m := range citationRef.FindAllStringSubmatch(content, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		idx := n - 1
		if idx < 0 || idx >= len(sources) || seen[idx] {
			continue
		}
		seen[idx] = true
		s := sources[idx]
		citations = append(citations, models.Citation{
			DocumentID: s.DocumentID,
			Title:      s.Title,
			Excerpt:    s.Excerpt,
			Confidence: s.Confidence,
		})
	}
	return citations
}

// confidenceFor buckets a similarity score into the coarse confidence bands
// surfaced with citations.
func confidenceFor(score float32) float32 {
	switch {
	case score >= 0.85:
		return 0.95
	case score >= 0.7:
		return 0.8
	case score >= 0.5:
		return 0.6
	default:
		return 0.3
	}
}
