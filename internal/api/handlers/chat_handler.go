package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	middleware "github.com/strataline/strataline/internal/api/middlewares"
	"github.com/strataline/strataline/internal/core"
	"github.com/strataline/strataline/internal/query"
)

type ChatHandler struct {
	conversations core.ConversationStore
	svc           *query.Service
	logger        *slog.Logger
}

func NewChatHandler(conversations core.ConversationStore, svc *query.Service, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{conversations: conversations, svc: svc, logger: logger}
}

func (h *ChatHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conv, err := h.conversations.CreateConversation(r.Context(), tenantID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(conv)
}

type sendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// SendMessage runs one query-path turn. Backend trouble shows up as a
// degraded answer in the body, not as an HTTP error.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.ConversationID == "" || strings.TrimSpace(req.Message) == "" {
		http.Error(w, "conversation_id and message are required", http.StatusBadRequest)
		return
	}

	answer, err := h.svc.SendMessage(r.Context(), tenantID, req.ConversationID, req.Message)
	if errors.Is(err, core.ErrConversationNotFound) {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		if core.KindOf(err) == core.KindIsolation {
			h.logger.Error("cross-tenant conversation access rejected",
				"tenant_id", tenantID, "conversation_id", req.ConversationID)
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(answer)
}
