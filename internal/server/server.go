// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package server exposes the research engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pdiddy/pharma-research/internal/cache"
	"github.com/pdiddy/pharma-research/internal/research"
	"github.com/pdiddy/pharma-research/pkg/types"
)

// Engine is the part of research.Engine the server needs.
type Engine interface {
	Plan(q types.Query) ([]types.TaskDescriptor, error)
	Report(ctx context.Context, q types.Query, opts research.Options) (types.ResultBundle, types.Report, error)
	ClearCache(ctx context.Context, source types.SourceID) (int, error)
	CacheStats(ctx context.Context) (cache.Stats, error)
}

// Server routes HTTP requests to an Engine.
type Server struct {
	engine   Engine
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// New returns a Server. A nil gatherer serves the default registry.
func New(engine Engine, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{engine: engine, gatherer: gatherer, logger: logger}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /research", s.handleResearch)
	mux.HandleFunc("GET /plan", s.handlePlan)
	mux.HandleFunc("POST /cache/clear", s.handleCacheClear)
	mux.HandleFunc("GET /cache/stats", s.handleCacheStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

// maxRequestBody caps the size of a POST /research body.
const maxRequestBody = 1 << 20

// researchRequest is the body of POST /research.
type researchRequest struct {
	research.Input
	Timeout string `json:"timeout,omitempty"`
	NoCache bool   `json:"no_cache,omitempty"`
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", maxRequestBody))
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	q, err := req.Query()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := research.Options{UseCache: !req.NoCache}
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid timeout %q", req.Timeout))
			return
		}
		opts.Timeout = d
	}

	_, report, err := s.engine.Report(r.Context(), q, opts)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	q, err := research.Input{
		Text:       v.Get("text"),
		Entity:     v.Get("entity"),
		Indication: v.Get("indication"),
		From:       v.Get("from"),
		To:         v.Get("to"),
		Sources:    v["sources"],
	}.Query()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tasks, err := s.engine.Plan(q)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	source := types.SourceID(r.URL.Query().Get("source"))
	n, err := s.engine.ClearCache(r.Context(), source)
	if err != nil {
		if source != "" {
			if _, perr := types.ParseSourceID(string(source)); perr != nil {
				s.writeError(w, http.StatusBadRequest, perr.Error())
				return
			}
		}
		s.logger.Error("clearing cache failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"removed": n, "source": source})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.CacheStats(r.Context())
	if err != nil {
		s.logger.Error("reading cache stats failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(err error) int {
	if errors.Is(err, types.ErrInvalidQuery) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
