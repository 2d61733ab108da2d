package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	middleware "github.com/strataline/strataline/internal/api/middlewares"
	"github.com/strataline/strataline/internal/core"
	"github.com/strataline/strataline/internal/ingest"
)

// scanLimit bounds how far List and Requeue read into the queue before
// tenant filtering.
const scanLimit = 1000

// DeadLetterHandler exposes the triage surface: listing exhausted documents
// and re-driving them. Both operations are scoped to the authenticated
// tenant; one tenant can never see or requeue another tenant's entries.
type DeadLetterHandler struct {
	dlq          core.DeadLetterQueue
	orchestrator *ingest.Orchestrator
	logger       *slog.Logger
}

func NewDeadLetterHandler(dlq core.DeadLetterQueue, orchestrator *ingest.Orchestrator, logger *slog.Logger) *DeadLetterHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetterHandler{dlq: dlq, orchestrator: orchestrator, logger: logger}
}

func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	all, err := h.dlq.List(r.Context(), scanLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	entries := []core.DeadLetterEntry{}
	for _, entry := range all {
		if entry.Event.TenantID != tenantID {
			continue
		}
		entries = append(entries, entry)
		if len(entries) == limit {
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

type requeueRequest struct {
	DocumentID string `json:"document_id"`
}

// Requeue re-drives one of the tenant's dead-lettered documents through the
// pipeline. The entry's tenant comes from the token, never from the body.
func (h *DeadLetterHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req requeueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.DocumentID == "" {
		http.Error(w, "document_id is required", http.StatusBadRequest)
		return
	}

	entries, err := h.dlq.List(r.Context(), scanLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for _, entry := range entries {
		if entry.Event.TenantID == tenantID && entry.Event.DocumentID == req.DocumentID {
			if err := h.orchestrator.Requeue(r.Context(), entry); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			h.logger.Info("dead-lettered document requeued",
				"tenant_id", tenantID, "document_id", req.DocumentID)
			w.WriteHeader(http.StatusAccepted)
			return
		}
	}
	http.Error(w, "no dead-letter entry for document", http.StatusNotFound)
}
