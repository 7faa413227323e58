// Package main implements the entry point for RuleGate, the rules and
// validation service: vector-store rule retrieval, selective and
// comprehensive validation, circuit-broken degradation, and triage of
// harvested candidate items.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/rulegate/breaker"
	"github.com/c360/rulegate/config"
	"github.com/c360/rulegate/events"
	"github.com/c360/rulegate/health"
	"github.com/c360/rulegate/metric"
	"github.com/c360/rulegate/pkg/embedding"
	"github.com/c360/rulegate/rulecache"
	"github.com/c360/rulegate/rulestore"
	"github.com/c360/rulegate/server"
	"github.com/c360/rulegate/triage"
	"github.com/c360/rulegate/validation"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "rulegate"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	slog.Info("Starting RuleGate (rules and validation service)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	return runService(ctx, cfg, logger)
}

// runService wires the component graph and serves until a shutdown
// signal arrives.
func runService(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := metric.NewRegistry()
	metrics := registry.Metrics

	embedder, err := buildEmbedder(cfg.Embedding, logger)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	ruleStore, err := rulestore.NewChromaStore(rulestore.ChromaConfig{
		BaseURL:    cfg.Store.BaseURL,
		Collection: cfg.Store.RulesCollection,
		Timeout:    cfg.Store.Timeout,
		Embedder:   embedder,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return fmt.Errorf("create rule store: %w", err)
	}

	profileStore, err := rulestore.NewChromaStore(rulestore.ChromaConfig{
		BaseURL:    cfg.Store.BaseURL,
		Collection: cfg.Store.ProfileCollection,
		Timeout:    cfg.Store.Timeout,
		Embedder:   embedder,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return fmt.Errorf("create profile store: %w", err)
	}

	publisher, natsConn, err := buildPublisher(cfg.Events, logger)
	if err != nil {
		return fmt.Errorf("connect events: %w", err)
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	// One breaker guards every store call: validation and triage share
	// the same view of store availability.
	brk := breaker.New(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Logger:           logger,
		Metrics:          metrics,
		OnTransition: func(from, to breaker.Status) {
			publisher.PublishBreakerChange(from.String(), to.String())
		},
	})

	resultCache, err := rulecache.New[validation.Result](ctx, rulecache.Config{
		MaxEntries:    cfg.Cache.MaxEntries,
		TTL:           cfg.Cache.TTL,
		SweepInterval: cfg.Cache.SweepInterval,
		Metrics:       registry,
	})
	if err != nil {
		return fmt.Errorf("create result cache: %w", err)
	}
	defer func() { _ = resultCache.Close() }()

	validator, err := validation.NewValidator(ruleStore, brk, resultCache, validation.Config{
		SimilarityFloor:   cfg.Validation.SimilarityFloor,
		SelectiveTopK:     cfg.Validation.SelectiveTopK,
		ComprehensiveTopK: cfg.Validation.ComprehensiveTopK,
		Logger:            logger,
		Metrics:           metrics,
	})
	if err != nil {
		return fmt.Errorf("create validator: %w", err)
	}

	scorer, err := triage.NewScorer(profileStore, brk, triage.ScorerConfig{
		ProfileTopK:     cfg.Triage.ProfileTopK,
		SimilarityFloor: cfg.Validation.SimilarityFloor,
		Embedder:        embedder,
		Logger:          logger,
		Metrics:         metrics,
	})
	if err != nil {
		return fmt.Errorf("create scorer: %w", err)
	}

	promoter, err := triage.NewPromoter(ctx, scorer, triage.PromoterConfig{
		MaxRecords: cfg.Triage.MaxRecords,
		RecordTTL:  cfg.Triage.IdempotencyTTL,
		Publisher:  publisher,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return fmt.Errorf("create promoter: %w", err)
	}
	defer func() { _ = promoter.Close() }()

	monitor := buildMonitor(metrics, brk, resultCache, publisher)

	apiServer, err := server.New(cfg.Server, server.Dependencies{
		Validator: validator,
		Scorer:    scorer,
		Promoter:  promoter,
		Cache:     resultCache,
		Breaker:   brk,
		Monitor:   monitor,
		Thresholds: triage.Thresholds{
			MinProfileFit:    cfg.Triage.MinProfileFit,
			MinDissimilarity: cfg.Triage.MinDissimilarity,
		},
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}

	return serve(ctx, cfg, apiServer, registry, logger)
}

// buildEmbedder selects the HTTP embedding service or the lexical
// fallback per configuration.
func buildEmbedder(cfg config.EmbeddingConfig, logger *slog.Logger) (embedding.Embedder, error) {
	if cfg.Lexical || cfg.BaseURL == "" {
		logger.Info("using lexical embedder", "model", "bm25")
		return embedding.NewLexicalEmbedder(embedding.LexicalConfig{}), nil
	}

	memo, err := embedding.NewMemoCache(cfg.MemoEntries)
	if err != nil {
		return nil, err
	}

	return embedding.NewHTTPEmbedder(embedding.HTTPConfig{
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
		Timeout: cfg.Timeout,
		Cache:   memo,
		Logger:  logger,
	})
}

// buildPublisher connects to NATS when events are enabled; otherwise
// returns a disabled publisher.
func buildPublisher(cfg config.EventsConfig, logger *slog.Logger) (*events.Publisher, *nats.Conn, error) {
	if !cfg.Enabled || len(cfg.URLs) == 0 {
		return events.NewPublisher(nil, logger), nil, nil
	}

	nc, err := nats.Connect(cfg.URLs[0],
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, nil, err
	}

	logger.Info("connected to NATS", "servers", len(cfg.URLs))
	return events.NewPublisher(nc, logger), nc, nil
}

// buildMonitor registers the component health checkers.
func buildMonitor(metrics *metric.Metrics, brk *breaker.Breaker, resultCache *rulecache.ResultCache[validation.Result], publisher *events.Publisher) *health.Monitor {
	monitor := health.NewMonitor(metrics)

	monitor.Register(health.CheckerFunc{ComponentName: "store", Check: func() health.Status {
		snapshot := brk.Snapshot()
		switch snapshot.Status {
		case breaker.Closed:
			return health.Healthy("store", "")
		case breaker.HalfOpen:
			return health.Degraded("store", "probing recovery")
		default:
			return health.Degraded("store", "serving from cache")
		}
	}})

	monitor.Register(health.CheckerFunc{ComponentName: "cache", Check: func() health.Status {
		return health.Healthy("cache", fmt.Sprintf("%d entries", resultCache.Size()))
	}})

	if publisher.Enabled() {
		monitor.Register(health.CheckerFunc{ComponentName: "events", Check: func() health.Status {
			return health.Healthy("events", "")
		}})
	}

	return monitor
}

// serve runs the API and metrics servers until a shutdown signal.
func serve(ctx context.Context, cfg *config.Config, apiServer *server.Server, registry *metric.Registry, logger *slog.Logger) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	errCh := make(chan error, 2)

	go func() {
		if err := apiServer.Start(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		go func() {
			if err := metricsServer.Start(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	logger.Info("RuleGate started")

	select {
	case <-signalCtx.Done():
		logger.Info("Received shutdown signal")
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("api server shutdown failed", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error("metrics server shutdown failed", "error", err)
		}
	}

	logger.Info("RuleGate shutdown complete")
	return nil
}

// loadConfig loads the layered configuration.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}

	return cfg, nil
}
