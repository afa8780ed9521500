package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/corpora-hq/corpora/internal/api/handlers"
	middleware "github.com/corpora-hq/corpora/internal/api/middlewares"
	"github.com/corpora-hq/corpora/internal/config"
	"github.com/corpora-hq/corpora/internal/core/pipeline"
	"github.com/corpora-hq/corpora/internal/metrics"
)

// Server wraps the HTTP server and its routes.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, a *App, logger *zap.Logger) *Server {
	docHandler := handlers.NewDocumentHandler(a.DB, a.Object, logger)
	chatHandler := handlers.NewChatHandler(a.DB, a.QueryEmbedder, a.llmProvider, a.RetrievalBudget(), cfg.Pipeline.SearchTopK, logger)
	pipeHandler := handlers.NewPipelineHandler(a.Orchestrator, logger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second))
	r.Use(metrics.Middleware())

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Group(func(protected chi.Router) {
			protected.Use(middleware.JWT(cfg.Auth.JWTSecret))
			protected.Post("/documents/upload", docHandler.UploadDocument)
			protected.Get("/documents", docHandler.GetDocuments)
			protected.Post("/chat/query", chatHandler.QueryDocuments)
		})

		api.Group(func(machine chi.Router) {
			machine.Use(middleware.SharedSecret(cfg.Auth.PipelineSecret))
			machine.Post("/pipeline/extract", pipeHandler.RunStage(pipeline.StageExtract))
			machine.Post("/pipeline/chunk", pipeHandler.RunStage(pipeline.StageChunk))
			machine.Post("/pipeline/embed", pipeHandler.RunStage(pipeline.StageEmbed))
			machine.Post("/pipeline/continue-processing", pipeHandler.ContinueProcessing)
			machine.Post("/pipeline/retry", pipeHandler.Retry)
		})
	})

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	return &Server{httpServer: httpSrv, logger: logger}
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
