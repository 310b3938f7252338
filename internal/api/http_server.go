// Package api exposes the local control surface of the sync daemon: queue
// and connectivity status for UI indicators, manual drain triggers, and the
// mutation endpoints that feed user intents into the engine.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"driftsync/internal/config"
	"driftsync/internal/domain"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Server struct {
	cfg        config.APIConfig
	controller domain.SyncController
	mutator    domain.Mutator
	server     *http.Server
	logger     *zerolog.Logger
}

func NewServer(cfg config.APIConfig, controller domain.SyncController, mutator domain.Mutator, metricsEnabled bool, logger *zerolog.Logger) *Server {
	mux := http.NewServeMux()
	srv := &Server{cfg: cfg, controller: controller, mutator: mutator, logger: logger}
	auth := NewHTTPAuth(cfg)

	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/api/v1/status", srv.handleStatus)
	mux.HandleFunc("/api/v1/queue", srv.handleQueue)
	mux.HandleFunc("/api/v1/queue/clear", srv.handleQueueClear)
	mux.HandleFunc("/api/v1/sync", srv.handleSync)
	mux.HandleFunc("/api/v1/tasks/", srv.handleTasks)
	mux.HandleFunc("/api/v1/rituals/", srv.handleRituals)
	if metricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	handler := srv.loggingMiddleware(auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *Server) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("control API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
