// Package handlers implements the HTTP handlers for the API surface.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	middleware "github.com/strataline/strataline/internal/api/middlewares"
	"github.com/strataline/strataline/internal/core"
	"github.com/strataline/strataline/internal/ingest"
	"github.com/strataline/strataline/internal/models"
)

const maxUploadBytes = 52 << 20

type DocumentHandler struct {
	store        core.DocumentStore
	objects      core.ObjectClient
	indexes      core.IndexProvider
	orchestrator *ingest.Orchestrator
	bucket       string
	logger       *slog.Logger
}

func NewDocumentHandler(
	store core.DocumentStore,
	objects core.ObjectClient,
	indexes core.IndexProvider,
	orchestrator *ingest.Orchestrator,
	bucket string,
	logger *slog.Logger,
) *DocumentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentHandler{
		store:        store,
		objects:      objects,
		indexes:      indexes,
		orchestrator: orchestrator,
		bucket:       bucket,
		logger:       logger,
	}
}

// Upload stores the file blob, records the document and enqueues ingestion.
// The response is the accepted document record; ingestion failures surface
// later through the document's status, never here.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "invalid file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// Strip path components from the client-supplied name.
	fileName := filepath.Base(header.Filename)
	docID := uuid.NewString()
	key := fmt.Sprintf("%s/%s/%s", tenantID, docID, fileName)

	uploadCtx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	if err := h.objects.UploadFile(uploadCtx, h.bucket, key, file, contentType); err != nil {
		h.logger.Error("upload failed", "tenant_id", tenantID, "err", err)
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}

	doc := &models.Document{
		ID:          docID,
		TenantID:    tenantID,
		FileName:    fileName,
		Bucket:      h.bucket,
		StorageKey:  key,
		ContentType: contentType,
		Status:      models.StatusUploaded,
	}
	if err := h.store.CreateDocument(uploadCtx, doc); err != nil {
		h.logger.Error("document insert failed", "tenant_id", tenantID, "document_id", docID, "err", err)
		http.Error(w, "failed to store document metadata", http.StatusInternalServerError)
		return
	}

	h.orchestrator.Enqueue(models.UploadEvent{
		TenantID:    tenantID,
		DocumentID:  docID,
		Bucket:      h.bucket,
		Key:         key,
		Size:        header.Size,
		ContentType: contentType,
		EventTime:   time.Now().UTC(),
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(doc)
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	documents, err := h.store.ListDocuments(r.Context(), tenantID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(documents)
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	doc, err := h.store.GetDocument(r.Context(), tenantID, chi.URLParam(r, "document_id"))
	if errors.Is(err, core.ErrDocumentNotFound) {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

// Delete removes the document record, its blob and its index entries. An
// in-flight ingestion run for the document observes the deletion at its next
// stage boundary and abandons.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	docID := chi.URLParam(r, "document_id")
	ctx := r.Context()

	doc, err := h.store.GetDocument(ctx, tenantID, docID)
	if errors.Is(err, core.ErrDocumentNotFound) {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if !doc.Status.Terminal() {
		if err := h.orchestrator.Cancel(ctx, tenantID, docID); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	idx, err := h.indexes.ForTenant(tenantID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := idx.DeleteDocument(ctx, docID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := h.objects.DeleteFile(ctx, doc.Bucket, doc.StorageKey); err != nil {
		// The record and index entries are already gone; losing the blob is
		// recoverable by a lifecycle rule, so log and continue.
		h.logger.Warn("blob delete failed", "tenant_id", tenantID, "document_id", docID, "err", err)
	}

	if err := h.store.DeleteDocument(ctx, tenantID, docID); err != nil && !errors.Is(err, core.ErrDocumentNotFound) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
