// Package chunk splits sanitized text into overlapping word-bounded
// segments sized for downstream embedding limits.
package chunk

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/strataline/strataline/internal/models"
)

// Config tunes the word-window chunker.
//
// Size:    words per chunk.
// Overlap: words shared between consecutive chunks.
type Config struct {
	Size    int
	Overlap int
}

// DefaultConfig mirrors the production chunking parameters.
func DefaultConfig() Config {
	return Config{Size: 1000, Overlap: 200}
}

// Chunker produces a chunk of Size words starting at every Size-Overlap word
// offset. Identical input always yields the identical ordered chunk
// sequence.
type Chunker struct {
	cfg Config
}

func New(cfg Config) *Chunker {
	if cfg.Size <= 0 {
		cfg.Size = 1000
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		cfg.Overlap = 0
	}
	return &Chunker{cfg: cfg}
}

// Split chunks text for one document. Empty text yields zero chunks; text
// shorter than the window yields exactly one chunk equal to the input's
// words rejoined.
func (c *Chunker) Split(tenantID, documentID, text string) []models.Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := c.cfg.Size - c.cfg.Overlap
	var chunks []models.Chunk
	for start, ordinal := 0, 0; start < len(words); start, ordinal = start+step, ordinal+1 {
		end := start + c.cfg.Size
		if end > len(words) {
			end = len(words)
		}
		body := strings.Join(words[start:end], " ")
		sum := md5.Sum([]byte(body))
		chunks = append(chunks, models.Chunk{
			ID:         models.ChunkID(documentID, ordinal),
			TenantID:   tenantID,
			DocumentID: documentID,
			Ordinal:    ordinal,
			Text:       body,
			WordCount:  end - start,
			CharCount:  len(body),
			Hash:       hex.EncodeToString(sum[:]),
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}
