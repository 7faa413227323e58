// Package server exposes the RuleGate HTTP API: validation at two
// depths, triage scoring and promotion, and the cache and health
// diagnostic endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/rulegate/breaker"
	"github.com/c360/rulegate/config"
	"github.com/c360/rulegate/errors"
	"github.com/c360/rulegate/health"
	"github.com/c360/rulegate/metric"
	"github.com/c360/rulegate/rulecache"
	"github.com/c360/rulegate/triage"
	"github.com/c360/rulegate/validation"
)

// retryAfterSeconds is the Retry-After hint on 503 responses, aligned
// with the breaker recovery timeout order of magnitude.
const retryAfterSeconds = 30

// Server is the HTTP API surface. All store access goes through the
// validator and scorer; the server itself never talks to the store.
type Server struct {
	cfg        config.ServerConfig
	validator  *validation.Validator
	scorer     *triage.Scorer
	promoter   *triage.Promoter
	cache      *rulecache.ResultCache[validation.Result]
	breaker    *breaker.Breaker
	monitor    *health.Monitor
	thresholds triage.Thresholds
	logger     *slog.Logger
	metrics    *metric.Metrics

	mu         sync.Mutex
	httpServer *http.Server
}

// Dependencies carries the wired components the server serves.
type Dependencies struct {
	Validator  *validation.Validator
	Scorer     *triage.Scorer
	Promoter   *triage.Promoter
	Cache      *rulecache.ResultCache[validation.Result]
	Breaker    *breaker.Breaker
	Monitor    *health.Monitor
	Thresholds triage.Thresholds
	Logger     *slog.Logger
	Metrics    *metric.Metrics
}

// New creates a server. Validator, scorer, promoter, cache, and breaker
// are required.
func New(cfg config.ServerConfig, deps Dependencies) (*Server, error) {
	if deps.Validator == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "server", "New", "validator is required")
	}
	if deps.Scorer == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "server", "New", "scorer is required")
	}
	if deps.Promoter == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "server", "New", "promoter is required")
	}
	if deps.Cache == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "server", "New", "result cache is required")
	}
	if deps.Breaker == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "server", "New", "breaker is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.Port <= 0 {
		cfg.Port = 8080
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	return &Server{
		cfg:        cfg,
		validator:  deps.Validator,
		scorer:     deps.Scorer,
		promoter:   deps.Promoter,
		cache:      deps.Cache,
		breaker:    deps.Breaker,
		monitor:    deps.Monitor,
		thresholds: deps.Thresholds,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
	}, nil
}

// Handler builds the route table. Exposed separately so tests can
// drive the API through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /validate/selective", s.handleValidate(validation.Selective))
	mux.HandleFunc("POST /validate/comprehensive", s.handleValidate(validation.Comprehensive))
	mux.HandleFunc("GET /cache/dump", s.handleCacheDump)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /profile/score", s.handleProfileScore)
	mux.HandleFunc("POST /topics/novelty-check", s.handleNoveltyCheck)
	mux.HandleFunc("POST /topics/suggestion", s.handleSuggestion)

	return s.withRequestID(mux)
}

// Start begins serving. It blocks until the listener fails or Stop is
// called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("api server listening", "addr", addr)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapTransient(err, "server", "Start", "listen")
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// withRequestID propagates or generates an X-Request-ID header.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

// healthResponse is the /health payload.
type healthResponse struct {
	Status              string          `json:"status"`
	CircuitBreakerState string          `json:"circuit_breaker_state"`
	StoreReachable      bool            `json:"store_reachable"`
	Breaker             breaker.State   `json:"breaker"`
	Components          []health.Status `json:"components,omitempty"`
	Timestamp           time.Time       `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := s.breaker.Snapshot()

	resp := healthResponse{
		Status:              health.StatusHealthy,
		CircuitBreakerState: snapshot.StatusText,
		StoreReachable:      snapshot.Status == breaker.Closed,
		Breaker:             snapshot,
		Timestamp:           time.Now(),
	}

	if s.monitor != nil {
		overall := s.monitor.Check()
		resp.Status = overall.Status
		resp.Components = overall.SubStatuses
	} else if s.breaker.Degraded() {
		resp.Status = health.StatusDegraded
	}

	// Degraded still answers 200: the service is serving, from
	// fallbacks. Only unhealthy is a 503.
	status := http.StatusOK
	if resp.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
