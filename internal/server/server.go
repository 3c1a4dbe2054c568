// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"bentokaze/internal/metrics"
	"bentokaze/internal/models"
	"bentokaze/internal/optimizer"
	"bentokaze/internal/solver"
	"bentokaze/internal/storage"
)

type Config struct {
	Host    string
	Port    int
	DBPath  string
	Version string

	Solver    solver.Options
	Engine    solver.Engine
	Timeout   time.Duration
	Optimizer models.OptimizerConfig
}

type BentoServer struct {
	httpServer *http.Server
	storage    *storage.SQLiteStorage
	pipeline   *optimizer.Pipeline
	metrics    *metrics.Collector
	logger     *zap.Logger
	info       protocol.Implementation
	config     *Config
}

func NewBentoServer(cfg *Config, collector *metrics.Collector, logger *zap.Logger) (*BentoServer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	stor, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	opts := cfg.Solver
	opts.Logger = logger
	slv, err := solver.New(cfg.Engine, opts)
	if err != nil {
		stor.Close()
		return nil, fmt.Errorf("failed to create solver: %w", err)
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &BentoServer{
		storage:  stor,
		pipeline: optimizer.NewPipeline(stor, slv, collector, logger),
		metrics:  collector,
		logger:   logger,
		info:     protocol.Implementation{Name: "bentokaze", Version: version},
		config:   cfg,
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Routes builds the HTTP handler. Tool calls are accepted on /mcp and, for
// older clients, on /.
func (s *BentoServer) Routes() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(requestLogger(s.logger, s.metrics))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	router.Get("/health", s.handleHealth)
	router.Get("/tools", s.handleListTools)
	router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	router.Post("/mcp", s.handleHTTP)
	router.Post("/", s.handleHTTP)

	return router
}

func (s *BentoServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"name":    s.info.Name,
		"version": s.info.Version,
	})
}

func (s *BentoServer) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": toolCatalog})
}

func (s *BentoServer) handleHTTP(w http.ResponseWriter, r *http.Request) {
	var request protocol.CallToolRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	handler, ok := s.tools()[request.Name]
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown tool: %s", request.Name), http.StatusNotFound)
		return
	}

	result, err := handler(r.Context(), &request)
	if err != nil {
		s.logger.Warn("Tool call failed", zap.String("tool", request.Name), zap.Error(err))
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *BentoServer) Start(ctx context.Context) error {
	s.logger.Info("Starting bento server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *BentoServer) Stop(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if s.storage != nil {
		s.storage.Close()
	}
	return err
}

// Storage exposes the catalog store, mainly for seeding.
func (s *BentoServer) Storage() *storage.SQLiteStorage {
	return s.storage
}

func (s *BentoServer) createJSONResponse(data interface{}) (*protocol.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}

	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent{
				Type: "text",
				Text: string(jsonBytes),
			},
		},
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
