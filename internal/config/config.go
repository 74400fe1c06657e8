// Package config defines the top-level configuration for the relation engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/polyrelate/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYRELATE_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Supabase   SupabaseConfig   `toml:"supabase"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	AI         AIConfig         `toml:"ai"`
	Discovery  DiscoveryConfig  `toml:"discovery"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Server     ServerConfig     `toml:"server"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds the Gamma API endpoint used for market ingestion.
type PolymarketConfig struct {
	GammaHost string `toml:"gamma_host"`
	PageSize  int    `toml:"page_size"`
	MaxPages  int    `toml:"max_pages"`
	// ActiveOnly restricts ingestion to markets that are open for trading.
	ActiveOnly bool `toml:"active_only"`
	// Tags keeps only events carrying one of these labels. Empty keeps all.
	Tags []string `toml:"tags"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
	// ChunkSize caps the number of IDs sent in one ANY($1) lookup.
	ChunkSize int `toml:"chunk_size"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// CacheTTLMinutes applies to cached market metadata. 0 keeps keys forever.
	CacheTTLMinutes int `toml:"cache_ttl_minutes"`
	// AnalysisTTL bounds how long a pair analysis is reused.
	AnalysisTTL duration `toml:"analysis_ttl"`
}

// S3Config holds S3-compatible object storage parameters for relation
// snapshots.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	SnapshotPrefix string `toml:"snapshot_prefix"`
	SnapshotRetain int    `toml:"snapshot_retain"`
}

// AIConfig covers both the embedding provider and the analysis provider. Both
// speak the OpenAI wire protocol; analysis defaults to Gemini's compatible
// endpoint.
type AIConfig struct {
	EmbeddingAPIKey    string   `toml:"embedding_api_key"`
	EmbeddingBaseURL   string   `toml:"embedding_base_url"`
	EmbeddingModel     string   `toml:"embedding_model"`
	EmbeddingDimension int      `toml:"embedding_dimension"`
	EmbedBatchSize     int      `toml:"embed_batch_size"`
	AnalysisAPIKey     string   `toml:"analysis_api_key"`
	AnalysisBaseURL    string   `toml:"analysis_base_url"`
	AnalysisModel      string   `toml:"analysis_model"`
	Timeout            duration `toml:"timeout"`
	MaxRetries         int      `toml:"max_retries"`
	// BreakerFailures consecutive failures open the provider circuit.
	BreakerFailures int      `toml:"breaker_failures"`
	BreakerCooldown duration `toml:"breaker_cooldown"`
}

// DiscoveryConfig holds relation discovery parameters.
type DiscoveryConfig struct {
	SimilarityThreshold  float64  `toml:"similarity_threshold"`
	CorrelationThreshold float64  `toml:"correlation_threshold"`
	LimitPerMarket       int      `toml:"limit_per_market"`
	SkipExisting         bool     `toml:"skip_existing"`
	BatchSize            int      `toml:"batch_size"`
	FetchChunkSize       int      `toml:"fetch_chunk_size"`
	FetchConcurrency     int      `toml:"fetch_concurrency"`
	UseAICorrelation     bool     `toml:"use_ai_correlation"`
	AnalysisConcurrency  int      `toml:"analysis_concurrency"`
	AnalysisRPS          float64  `toml:"analysis_rps"`
	AnalysisBurst        int      `toml:"analysis_burst"`
	// AnalysisLimiter selects the analysis throttle: "local" token bucket or
	// "redis" sliding window shared across processes.
	AnalysisLimiter string   `toml:"analysis_limiter"`
	Interval        duration `toml:"interval"`
	LockTTL         duration `toml:"lock_ttl"`
	SnapshotEnabled bool     `toml:"snapshot_enabled"`
}

// PipelineConfig holds ingestion and embedding loop parameters.
type PipelineConfig struct {
	Enabled        bool     `toml:"enabled"`
	ScrapeInterval duration `toml:"scrape_interval"`
	EmbedInterval  duration `toml:"embed_interval"`
	EmbedLimit     int      `toml:"embed_limit"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimitPerMinute caps requests per client IP. 0 disables the limit.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
	// APIKey guards mutating endpoints. Empty leaves them open.
	APIKey       string   `toml:"api_key"`
	WriteTimeout duration `toml:"write_timeout"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			GammaHost:  "https://gamma-api.polymarket.com",
			PageSize:   100,
			MaxPages:   50,
			ActiveOnly: true,
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
			ChunkSize:     1000,
		},
		Redis: RedisConfig{
			Addr:            "localhost:6379",
			PoolSize:        20,
			MaxRetries:      3,
			CacheTTLMinutes: 60,
			AnalysisTTL:     duration{30 * time.Minute},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polyrelate-data",
			ForcePathStyle: true,
			SnapshotPrefix: "snapshots/relations",
			SnapshotRetain: 14,
		},
		AI: AIConfig{
			EmbeddingModel:     "text-embedding-3-large",
			EmbeddingDimension: 3072,
			EmbedBatchSize:     100,
			AnalysisBaseURL:    "https://generativelanguage.googleapis.com/v1beta/openai/",
			AnalysisModel:      domain.DefaultAnalysisModel,
			Timeout:            duration{60 * time.Second},
			MaxRetries:         3,
			BreakerFailures:    5,
			BreakerCooldown:    duration{30 * time.Second},
		},
		Discovery: DiscoveryConfig{
			SimilarityThreshold:  0.8,
			CorrelationThreshold: 0.0,
			LimitPerMarket:       100,
			SkipExisting:         true,
			BatchSize:            500,
			FetchChunkSize:       500,
			FetchConcurrency:     4,
			UseAICorrelation:     false,
			AnalysisConcurrency:  8,
			AnalysisRPS:          10,
			AnalysisBurst:        10,
			AnalysisLimiter:      "local",
			Interval:             duration{6 * time.Hour},
			LockTTL:              duration{2 * time.Hour},
			SnapshotEnabled:      true,
		},
		Pipeline: PipelineConfig{
			Enabled:        true,
			ScrapeInterval: duration{15 * time.Minute},
			EmbedInterval:  duration{15 * time.Minute},
			EmbedLimit:     5000,
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMinute: 120,
			WriteTimeout:       duration{120 * time.Second},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":   true,
	"scrape":   true,
	"embed":    true,
	"discover": true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsEmbedder reports whether mode calls the embedding provider.
func (c *Config) NeedsEmbedder() bool {
	switch strings.ToLower(c.Mode) {
	case "embed", "full":
		return true
	}
	return false
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, scrape, embed, discover, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Polymarket
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.PageSize < 1 {
		errs = append(errs, "polymarket: page_size must be >= 1")
	}

	// Supabase
	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		errs = append(errs, "supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns < 0 {
		errs = append(errs, "supabase: pool_min_conns must be >= 0")
	}
	if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
	}
	if c.Supabase.ChunkSize < 1 {
		errs = append(errs, "supabase: chunk_size must be >= 1")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// AI
	if c.NeedsEmbedder() && c.AI.EmbeddingAPIKey == "" {
		errs = append(errs, "ai: embedding_api_key is required for mode "+c.Mode)
	}
	if c.AI.EmbeddingModel == "" {
		errs = append(errs, "ai: embedding_model must not be empty")
	}
	if c.AI.EmbeddingDimension < 0 {
		errs = append(errs, "ai: embedding_dimension must be >= 0")
	}
	if c.AI.EmbedBatchSize < 1 || c.AI.EmbedBatchSize > 2048 {
		errs = append(errs, fmt.Sprintf("ai: embed_batch_size must be 1-2048, got %d", c.AI.EmbedBatchSize))
	}
	if _, err := domain.ResolveAnalysisModel(c.AI.AnalysisModel); err != nil {
		errs = append(errs, "ai: "+err.Error())
	}
	if c.Discovery.UseAICorrelation && c.AI.AnalysisAPIKey == "" {
		errs = append(errs, "ai: analysis_api_key is required when discovery.use_ai_correlation is set")
	}
	if c.AI.BreakerFailures < 1 {
		errs = append(errs, "ai: breaker_failures must be >= 1")
	}

	// Discovery
	d := c.Discovery
	if d.SimilarityThreshold < 0 || d.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Sprintf("discovery: similarity_threshold must be within [0,1], got %v", d.SimilarityThreshold))
	}
	if d.CorrelationThreshold < 0 || d.CorrelationThreshold > 1 {
		errs = append(errs, fmt.Sprintf("discovery: correlation_threshold must be within [0,1], got %v", d.CorrelationThreshold))
	}
	if d.LimitPerMarket < 1 {
		errs = append(errs, "discovery: limit_per_market must be >= 1")
	}
	if d.BatchSize < 1 {
		errs = append(errs, "discovery: batch_size must be >= 1")
	}
	if d.FetchChunkSize < 1 {
		errs = append(errs, "discovery: fetch_chunk_size must be >= 1")
	}
	if d.FetchConcurrency < 1 {
		errs = append(errs, "discovery: fetch_concurrency must be >= 1")
	}
	if d.AnalysisConcurrency < 1 {
		errs = append(errs, "discovery: analysis_concurrency must be >= 1")
	}
	if d.AnalysisRPS <= 0 {
		errs = append(errs, "discovery: analysis_rps must be > 0")
	}
	if l := strings.ToLower(d.AnalysisLimiter); l != "local" && l != "redis" {
		errs = append(errs, fmt.Sprintf("discovery: analysis_limiter must be local or redis, got %q", d.AnalysisLimiter))
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
