package core

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline error. The orchestrator decides retry vs. fail
// on the kind alone, never on message text.
type Kind int

const (
	// KindTransient covers network faults, timeouts and backend hiccups.
	// Retryable with backoff.
	KindTransient Kind = iota

	// KindInvalidInput covers malformed or unsupported documents and
	// backend-rejected inputs. Never retried.
	KindInvalidInput

	// KindResourceExhausted covers rate limits from the embedding or index
	// backend. Retryable, but the shared admission limit is what actually
	// reduces recurrence.
	KindResourceExhausted

	// KindIsolation marks an attempted cross-tenant read or write. Always
	// fatal and always logged as a security event.
	KindIsolation
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindInvalidInput:
		return "invalid_input"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindIsolation:
		return "isolation_violation"
	}
	return "unknown"
}

// PipelineError carries the error kind and the stage that produced it.
type PipelineError struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// E wraps err with a kind and the stage it occurred in.
func E(kind Kind, stage string, err error) error {
	return &PipelineError{Kind: kind, Stage: stage, Err: err}
}

// Transient wraps err as a retryable pipeline error.
func Transient(stage string, err error) error { return E(KindTransient, stage, err) }

// Invalid wraps err as a fatal invalid-input pipeline error.
func Invalid(stage string, err error) error { return E(KindInvalidInput, stage, err) }

// Exhausted wraps err as a rate-limit pipeline error.
func Exhausted(stage string, err error) error { return E(KindResourceExhausted, stage, err) }

// KindOf extracts the kind from err. Unclassified errors are treated as
// transient and get retried.
func KindOf(err error) Kind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// IsRetryable reports whether the orchestrator may retry after err.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindResourceExhausted:
		return true
	}
	return false
}

var (
	// ErrDocumentNotFound is returned when a document id has no record.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrConversationNotFound is returned when a conversation id has no record.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrTenantMismatch is returned when an entry's tenant does not match the
	// index handle it was written through.
	ErrTenantMismatch = errors.New("index entry tenant does not match index scope")

	// ErrRetrievalUnavailable is returned when the search backend cannot be
	// reached; callers may retry or degrade to an answer with no citations.
	ErrRetrievalUnavailable = errors.New("retrieval backend unavailable")
)
