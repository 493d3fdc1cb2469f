// Package config loads and validates the engine's configuration
// surface: durable/cache backend targets, pool and breaker tuning,
// extraction sizing, retrieval weights, and rate limiting, via a
// YAML-plus-env-override loader.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jordigilh/episodic-memory/internal/apperrors"
)

// DurableConfig targets the durable backend (Postgres in production, an
// in-memory store when URL is empty).
type DurableConfig struct {
	URL       string `yaml:"url"`
	AuthToken string `yaml:"auth_token"`
}

// CacheConfig targets the cache tier (Redis when Path is a URL, an
// in-process bounded LRU otherwise) plus the query-result cache.
type CacheConfig struct {
	Path             string        `yaml:"path"`
	MaxBytes         int64         `yaml:"max_bytes"`
	QueryResultCap   int           `yaml:"query_result_capacity"`
	QueryResultTTL   time.Duration `yaml:"query_result_ttl"`
}

// PoolConfig sizes the backend connection pool.
type PoolConfig struct {
	Size            int           `yaml:"size"`
	AcquireTimeout  time.Duration `yaml:"acquire_timeout"`
}

// BreakerConfig tunes the per-operation circuit breakers.
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	OpenCooldown     time.Duration `yaml:"open_cooldown"`
	MaxCooldown      time.Duration `yaml:"max_cooldown"`
}

// ExtractionConfig sizes the pattern extraction pipeline.
type ExtractionConfig struct {
	Workers       int `yaml:"workers"`
	QueueCapacity int `yaml:"queue_capacity"`
}

// RetrievalConfig tunes the hierarchical retriever.
type RetrievalConfig struct {
	LimitMax                    int     `yaml:"limit_max"`
	DiversityLambda             float64 `yaml:"diversity_lambda"`
	TemporalBiasWeight          float64 `yaml:"temporal_bias_weight"`
	EnableDiversity             bool    `yaml:"enable_diversity"`
	EnableSpatiotemporalIndex   bool    `yaml:"enable_spatiotemporal_index"`
	RecencyHalfLife             time.Duration `yaml:"recency_half_life"`
}

// RateLimitConfig tunes the per-caller sliding-window limiter.
type RateLimitConfig struct {
	PerCallerPerSecond int `yaml:"per_caller_per_second"`
}

// EvictionPolicy selects how the capacity manager chooses victims for
// Admin.Evict.
type EvictionPolicy string

const (
	// EvictionPolicyLRU evicts the least recently completed episodes
	// first (oldest EndTime first).
	EvictionPolicyLRU EvictionPolicy = "lru"
	// EvictionPolicyRelevanceWeighted evicts the lowest-reward episodes
	// first, keeping high-value episodes in storage longer.
	EvictionPolicyRelevanceWeighted EvictionPolicy = "relevance_weighted"
)

// EvictionConfig tunes the capacity manager's victim-selection policy.
type EvictionConfig struct {
	Policy EvictionPolicy `yaml:"policy"`
}

// LoggingConfig tunes structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the engine's single validated configuration object, the
// first argument to memory.New alongside a durable and cache backend.
type Config struct {
	Durable    DurableConfig     `yaml:"durable"`
	Cache      CacheConfig       `yaml:"cache"`
	Pool       PoolConfig        `yaml:"pool"`
	Breaker    BreakerConfig     `yaml:"breaker"`
	Extraction ExtractionConfig  `yaml:"extraction"`
	Retrieval  RetrievalConfig   `yaml:"retrieval"`
	RateLimit  RateLimitConfig   `yaml:"ratelimit"`
	Eviction   EvictionConfig    `yaml:"eviction"`
	Logging    LoggingConfig     `yaml:"logging"`
}

// Default returns a Config populated with the engine's documented defaults.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{Size: 10, AcquireTimeout: 5 * time.Second},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			OpenCooldown:     30 * time.Second,
			MaxCooldown:      5 * time.Minute,
		},
		Extraction: ExtractionConfig{Workers: 4, QueueCapacity: 10000},
		Retrieval: RetrievalConfig{
			LimitMax:                  1000,
			DiversityLambda:           0.7,
			TemporalBiasWeight:        0.3,
			EnableDiversity:           true,
			EnableSpatiotemporalIndex: true,
			RecencyHalfLife:           14 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{PerCallerPerSecond: 10},
		Eviction:  EvictionConfig{Policy: EvictionPolicyLRU},
		Cache:     CacheConfig{QueryResultCap: 1000, QueryResultTTL: 10 * time.Minute},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads and parses a YAML config file, applying environment overrides
// and defaults, then validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromEnv overrides select fields from well-known environment
// variables, for the host process's deployment-time convenience.
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("EPISODIC_DURABLE_URL"); v != "" {
		cfg.Durable.URL = v
	}
	if v := os.Getenv("EPISODIC_DURABLE_AUTH_TOKEN"); v != "" {
		cfg.Durable.AuthToken = v
	}
	if v := os.Getenv("EPISODIC_CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}
	if v := os.Getenv("EPISODIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("EPISODIC_RATELIMIT_PER_SECOND"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid EPISODIC_RATELIMIT_PER_SECOND: %w", err)
		}
		cfg.RateLimit.PerCallerPerSecond = n
	}
	return nil
}

// Validate re-checks an already-constructed Config (e.g. one built
// programmatically rather than loaded from YAML).
func (c *Config) Validate() error {
	return validate(c)
}

func validate(c *Config) error {
	if c.Pool.Size <= 0 {
		return apperrors.InvalidInput("pool size must be greater than 0")
	}
	if c.Breaker.FailureThreshold == 0 {
		return apperrors.InvalidInput("breaker failure threshold must be greater than 0")
	}
	if c.Extraction.Workers <= 0 {
		return apperrors.InvalidInput("extraction workers must be greater than 0")
	}
	if c.Extraction.QueueCapacity <= 0 {
		return apperrors.InvalidInput("extraction queue capacity must be greater than 0")
	}
	if c.Retrieval.LimitMax <= 0 {
		return apperrors.InvalidInput("retrieval limit_max must be greater than 0")
	}
	if c.Retrieval.DiversityLambda < 0 || c.Retrieval.DiversityLambda > 1 {
		return apperrors.InvalidInput("retrieval diversity_lambda must be in [0,1]")
	}
	if c.Retrieval.TemporalBiasWeight < 0 || c.Retrieval.TemporalBiasWeight > 1 {
		return apperrors.InvalidInput("retrieval temporal_bias_weight must be in [0,1]")
	}
	if c.RateLimit.PerCallerPerSecond <= 0 {
		return apperrors.InvalidInput("ratelimit per_caller_per_second must be greater than 0")
	}
	switch c.Eviction.Policy {
	case "", EvictionPolicyLRU, EvictionPolicyRelevanceWeighted:
	default:
		return apperrors.InvalidInputf("unsupported eviction policy %q", c.Eviction.Policy)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error", "fatal":
	default:
		return apperrors.InvalidInputf("unsupported logging level %q", c.Logging.Level)
	}
	return nil
}
