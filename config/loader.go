package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// maxConfigBytes bounds config file size.
const maxConfigBytes = 1 << 20

// maxJSONDepth bounds nesting to reject pathological documents.
const maxJSONDepth = 10

// Loader handles configuration loading with layers and overrides.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a configuration loader with validation enabled.
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  "RULEGATE",
	}
}

// AddLayer adds a configuration file layer. Later layers override
// earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables load-time validation.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, file layers, and environment overrides, then
// validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg = l.mergeFromMap(cfg, raw)
	}

	l.applyEnvOverrides(cfg)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Defaults returns the built-in configuration defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Store: StoreConfig{
			BaseURL:           "http://localhost:8000",
			RulesCollection:   "rules",
			ProfileCollection: "profile",
			Timeout:           3 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
			SuccessThreshold: 2,
		},
		Cache: CacheConfig{
			MaxEntries:    1024,
			TTL:           15 * time.Minute,
			SweepInterval: time.Minute,
		},
		Validation: ValidationConfig{
			SimilarityFloor:   0.15,
			SelectiveTopK:     4,
			ComprehensiveTopK: 12,
		},
		Triage: TriageConfig{
			MinProfileFit:    0.7,
			MinDissimilarity: 0.8,
			ProfileTopK:      8,
			IdempotencyTTL:   24 * time.Hour,
			MaxRecords:       4096,
		},
		Embedding: EmbeddingConfig{
			Model:       "all-MiniLM-L6-v2",
			Timeout:     30 * time.Second,
			MemoEntries: 512,
			Lexical:     true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadRaw reads a JSON or YAML layer into a map, normalizing duration
// strings along the way.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	default:
		if err := validateDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	}

	parseDurations(raw)
	return raw, nil
}

// safeReadFile reads a config file with a size bound.
func safeReadFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxConfigBytes {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigBytes)
	}
	return os.ReadFile(path)
}

// validateDepth rejects JSON nested deeper than maxJSONDepth.
func validateDepth(data []byte) error {
	depth := 0
	inString := false
	escaped := false

	for _, b := range data {
		if escaped {
			escaped = false
			continue
		}
		switch b {
		case '\\':
			escaped = inString
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
				if depth > maxJSONDepth {
					return fmt.Errorf("nesting exceeds %d levels", maxJSONDepth)
				}
			}
		case '}', ']':
			if !inString {
				depth--
			}
		}
	}
	return nil
}

// durationKeys are the config fields that accept duration strings
// like "60s" or "15m".
var durationKeys = map[string][]string{
	"server":    {"read_timeout", "write_timeout", "shutdown_timeout"},
	"store":     {"timeout"},
	"breaker":   {"recovery_timeout"},
	"cache":     {"ttl", "sweep_interval"},
	"triage":    {"idempotency_ttl"},
	"embedding": {"timeout"},
}

// parseDurations converts duration strings to nanoseconds so they
// unmarshal into time.Duration fields.
func parseDurations(raw map[string]any) {
	for section, keys := range durationKeys {
		m, ok := raw[section].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			if s, ok := m[key].(string); ok {
				if d, err := time.ParseDuration(s); err == nil {
					m[key] = d.Nanoseconds()
				}
			}
		}
	}
}

// mergeFromMap merges a raw layer into the base config, only
// overriding fields present in the layer.
func (l *Loader) mergeFromMap(base *Config, override map[string]any) *Config {
	if override == nil {
		return base
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}

	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	mergedMap := deepMergeMaps(baseMap, override)

	mergedJSON, err := json.Marshal(mergedMap)
	if err != nil {
		return base
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return base
	}

	return &merged
}

// deepMergeMaps recursively merges two maps, override winning.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}

		if baseMap, baseOk := base[k].(map[string]any); baseOk {
			if overrideMap, overrideOk := v.(map[string]any); overrideOk {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}

		result[k] = v
	}

	return result
}

// applyEnvOverrides applies RULEGATE_* environment variable overrides
// on top of the merged file layers.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(l.envPrefix + "_SERVER_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Server.Port = port
		}
	}
	if val := os.Getenv(l.envPrefix + "_STORE_URL"); val != "" {
		cfg.Store.BaseURL = val
	}
	if val := os.Getenv(l.envPrefix + "_STORE_RULES_COLLECTION"); val != "" {
		cfg.Store.RulesCollection = val
	}
	if val := os.Getenv(l.envPrefix + "_STORE_PROFILE_COLLECTION"); val != "" {
		cfg.Store.ProfileCollection = val
	}
	if val := os.Getenv(l.envPrefix + "_EMBEDDING_URL"); val != "" {
		cfg.Embedding.BaseURL = val
		cfg.Embedding.Lexical = false
	}
	if val := os.Getenv(l.envPrefix + "_EMBEDDING_API_KEY"); val != "" {
		cfg.Embedding.APIKey = val
	}
	if val := os.Getenv(l.envPrefix + "_EVENTS_URLS"); val != "" {
		cfg.Events.URLs = strings.Split(val, ",")
		cfg.Events.Enabled = true
	}
	if val := os.Getenv(l.envPrefix + "_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv(l.envPrefix + "_SIMILARITY_FLOOR"); val != "" {
		if floor, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Validation.SimilarityFloor = floor
		}
	}
}
