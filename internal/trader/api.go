package trader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ai-trade-bot-go/internal/exchange"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// APIServer provides an HTTP interface for the trading engine.
type APIServer struct {
	server *http.Server
	engine *Engine
	logger *zap.Logger
}

// NewAPIServer creates a new APIServer. gatherer backs /metrics and may be nil.
func NewAPIServer(engine *Engine, port int, gatherer prometheus.Gatherer, logger *zap.Logger) *APIServer {
	s := &APIServer{
		engine: engine,
		logger: logger.Named("api-server"),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.routes(gatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *APIServer) routes(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /status", s.statusHandler)
	mux.HandleFunc("POST /models/{id}/execute", s.executeHandler)
	mux.HandleFunc("GET /models/{id}/portfolio", s.portfolioHandler)
	mux.HandleFunc("POST /models/{id}/credentials/validate", s.validateHandler)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Handler returns the routed handler.
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	runners, err := s.engine.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := struct {
		UUID      string         `json:"uuid"`
		Name      string         `json:"name"`
		StartTime string         `json:"start_time"`
		Uptime    string         `json:"uptime"`
		Models    []RunnerStatus `json:"models"`
	}{
		UUID:      s.engine.UUID,
		Name:      s.engine.Name,
		StartTime: s.engine.StartTime.Format(time.RFC3339),
		Uptime:    time.Since(s.engine.StartTime).String(),
		Models:    runners,
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *APIServer) executeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.modelID(w, r)
	if !ok {
		return
	}
	out, err := s.engine.ExecuteNow(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *APIServer) portfolioHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.modelID(w, r)
	if !ok {
		return
	}
	snap, err := s.engine.Portfolio(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *APIServer) validateHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.modelID(w, r)
	if !ok {
		return
	}
	if err := s.engine.ValidateCredentials(r.Context(), id); err != nil {
		if errors.Is(err, ErrModelNotFound) {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"valid": false, "reason": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

func (s *APIServer) modelID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		http.Error(w, "invalid model id", http.StatusBadRequest)
		return 0, false
	}
	return uint(id), true
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrModelNotFound):
		status = http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	case errors.Is(err, exchange.ErrAuth):
		status = http.StatusUnauthorized
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}
