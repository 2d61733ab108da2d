package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/strataline/strataline/internal/api/handlers"
	middleware "github.com/strataline/strataline/internal/api/middlewares"
	"github.com/strataline/strataline/internal/config"
	"github.com/strataline/strataline/internal/core"
	"github.com/strataline/strataline/internal/ingest"
	"github.com/strataline/strataline/internal/metrics"
	"github.com/strataline/strataline/internal/query"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds and wires all routes.
func NewServer(
	cfg *config.Config,
	st store,
	objects core.ObjectClient,
	indexes core.IndexProvider,
	orchestrator *ingest.Orchestrator,
	querySvc *query.Service,
	dlq core.DeadLetterQueue,
	logger *slog.Logger,
) *Server {
	docHandler := handlers.NewDocumentHandler(st, objects, indexes, orchestrator, cfg.BucketName, logger)
	chatHandler := handlers.NewChatHandler(st, querySvc, logger)
	dlqHandler := handlers.NewDeadLetterHandler(dlq, orchestrator, logger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Group(func(protected chi.Router) {
			protected.Use(middleware.TenantAuth(cfg.JWTSecret))

			protected.Post("/documents/upload", docHandler.Upload)
			protected.Get("/documents", docHandler.List)
			protected.Get("/documents/{document_id}", docHandler.Get)
			protected.Delete("/documents/{document_id}", docHandler.Delete)

			protected.Post("/conversations", chatHandler.CreateConversation)
			protected.Post("/chat/messages", chatHandler.SendMessage)

			protected.Get("/deadletter", dlqHandler.List)
			protected.Post("/deadletter/requeue", dlqHandler.Requeue)
		})
	})

	return &Server{
		httpServer: &http.Server{Addr: ":" + cfg.Port, Handler: r},
		logger:     logger,
	}
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
