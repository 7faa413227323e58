// Package config loads, merges, and validates RuleGate configuration.
//
// Configuration is layered: built-in defaults, then one or more JSON
// or YAML files (later layers override earlier ones via deep merge),
// then RULEGATE_* environment variables. Validation runs at load time
// so a bad config is rejected before the service starts, never
// partially applied.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Config is the complete service configuration.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Store      StoreConfig      `json:"store"`
	Breaker    BreakerConfig    `json:"breaker"`
	Cache      CacheConfig      `json:"cache"`
	Validation ValidationConfig `json:"validation"`
	Triage     TriageConfig     `json:"triage"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	Events     EventsConfig     `json:"events"`
	Metrics    MetricsConfig    `json:"metrics"`
	Logging    LoggingConfig    `json:"logging"`
}

// ServerConfig defines the HTTP API surface.
type ServerConfig struct {
	Host            string        `json:"host,omitempty"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout,omitempty"`
	WriteTimeout    time.Duration `json:"write_timeout,omitempty"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout,omitempty"`
	MaxBodyBytes    int64         `json:"max_body_bytes,omitempty"`
}

// StoreConfig defines the Chroma vector store connection.
type StoreConfig struct {
	BaseURL           string        `json:"base_url"`
	RulesCollection   string        `json:"rules_collection"`
	ProfileCollection string        `json:"profile_collection"`
	Timeout           time.Duration `json:"timeout,omitempty"`
}

// BreakerConfig defines circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold,omitempty"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout,omitempty"`
	SuccessThreshold int           `json:"success_threshold,omitempty"`
}

// CacheConfig defines the validation result cache.
type CacheConfig struct {
	MaxEntries    int           `json:"max_entries,omitempty"`
	TTL           time.Duration `json:"ttl,omitempty"`
	SweepInterval time.Duration `json:"sweep_interval,omitempty"`
}

// ValidationConfig defines strategy parameters.
type ValidationConfig struct {
	SimilarityFloor   float64 `json:"similarity_floor,omitempty"`
	SelectiveTopK     int     `json:"selective_top_k,omitempty"`
	ComprehensiveTopK int     `json:"comprehensive_top_k,omitempty"`
}

// TriageConfig defines triage scoring and promotion behavior.
type TriageConfig struct {
	MinProfileFit    float64       `json:"min_profile_fit,omitempty"`
	MinDissimilarity float64       `json:"min_dissimilarity,omitempty"`
	ProfileTopK      int           `json:"profile_top_k,omitempty"`
	IdempotencyTTL   time.Duration `json:"idempotency_ttl,omitempty"`
	MaxRecords       int           `json:"max_records,omitempty"`
}

// EmbeddingConfig defines the embedding service.
type EmbeddingConfig struct {
	BaseURL     string        `json:"base_url,omitempty"`
	Model       string        `json:"model,omitempty"`
	APIKey      string        `json:"api_key,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	MemoEntries int           `json:"memo_entries,omitempty"`

	// Lexical falls back to BM25 term scoring when no embedding
	// service is configured.
	Lexical bool `json:"lexical,omitempty"`
}

// EventsConfig defines optional NATS event publishing.
type EventsConfig struct {
	Enabled bool     `json:"enabled"`
	URLs    []string `json:"urls,omitempty"`
}

// MetricsConfig defines the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// LoggingConfig defines structured logging behavior.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn, error
	Format string `json:"format,omitempty"` // json, text
}

// Validate checks the configuration for contradictions and missing
// required values. It is called at load time; a failing config is
// rejected whole.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	if c.Store.BaseURL == "" {
		return errors.New("store.base_url is required")
	}
	if c.Store.RulesCollection == "" {
		return errors.New("store.rules_collection is required")
	}
	if c.Store.Timeout < 0 {
		return errors.New("store.timeout cannot be negative")
	}

	if c.Breaker.FailureThreshold < 0 {
		return errors.New("breaker.failure_threshold cannot be negative")
	}
	if c.Breaker.RecoveryTimeout < 0 {
		return errors.New("breaker.recovery_timeout cannot be negative")
	}
	if c.Breaker.SuccessThreshold < 0 {
		return errors.New("breaker.success_threshold cannot be negative")
	}

	if c.Cache.MaxEntries < 0 {
		return errors.New("cache.max_entries cannot be negative")
	}
	if c.Cache.TTL < 0 {
		return errors.New("cache.ttl cannot be negative")
	}

	if c.Validation.SimilarityFloor < 0 || c.Validation.SimilarityFloor > 1 {
		return fmt.Errorf("validation.similarity_floor %f out of [0,1]", c.Validation.SimilarityFloor)
	}
	if c.Validation.SelectiveTopK < 0 || c.Validation.ComprehensiveTopK < 0 {
		return errors.New("validation top_k values cannot be negative")
	}

	if c.Triage.MinProfileFit < 0 || c.Triage.MinProfileFit > 1 {
		return fmt.Errorf("triage.min_profile_fit %f out of [0,1]", c.Triage.MinProfileFit)
	}
	if c.Triage.MinDissimilarity < 0 || c.Triage.MinDissimilarity > 1 {
		return fmt.Errorf("triage.min_dissimilarity %f out of [0,1]", c.Triage.MinDissimilarity)
	}

	if !c.Embedding.Lexical && c.Embedding.BaseURL == "" {
		return errors.New("embedding.base_url is required unless embedding.lexical is enabled")
	}

	if c.Events.Enabled && len(c.Events.URLs) == 0 {
		return errors.New("events.urls is required when events are enabled")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not one of json, text", c.Logging.Format)
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}

// SafeConfig provides thread-safe access to configuration.
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation. An
// invalid config is rejected whole, never partially applied.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
