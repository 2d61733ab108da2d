// Package ingest drives one document through the fixed extraction,
// sanitization, chunking, embedding and indexing sequence, with per-stage
// retries and a dead-letter path.
package ingest

import (
	"fmt"

	"github.com/strataline/strataline/internal/models"
)

// transitions is the full state graph. Stages are strictly sequential; the
// failed and cancelled terminals are reachable from every non-terminal
// state.
var transitions = map[models.DocumentStatus][]models.DocumentStatus{
	models.StatusUploaded:   {models.StatusExtracting},
	models.StatusExtracting: {models.StatusSanitizing, models.StatusIndexed},
	models.StatusSanitizing: {models.StatusChunking},
	models.StatusChunking:   {models.StatusEmbedding, models.StatusIndexed},
	models.StatusEmbedding:  {models.StatusIndexing},
	models.StatusIndexing:   {models.StatusIndexed},
}

// CanTransition reports whether moving from one status to another is legal.
// The direct edges into indexed from extracting and chunking are the
// empty-document short circuit.
func CanTransition(from, to models.DocumentStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == models.StatusFailed || to == models.StatusCancelled {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateMachine tracks one document's position in the pipeline. All status
// writes go through Advance so an illegal jump is a programming error
// surfaced immediately rather than a silently corrupted record.
type StateMachine struct {
	current models.DocumentStatus
}

func NewStateMachine(start models.DocumentStatus) *StateMachine {
	return &StateMachine{current: start}
}

func (m *StateMachine) Current() models.DocumentStatus { return m.current }

func (m *StateMachine) Advance(to models.DocumentStatus) error {
	if !CanTransition(m.current, to) {
		return fmt.Errorf("illegal transition %s -> %s", m.current, to)
	}
	m.current = to
	return nil
}
