package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYRELATE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYRELATE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "POLYRELATE_POLYMARKET_GAMMA_HOST")
	setInt(&cfg.Polymarket.PageSize, "POLYRELATE_POLYMARKET_PAGE_SIZE")
	setInt(&cfg.Polymarket.MaxPages, "POLYRELATE_POLYMARKET_MAX_PAGES")
	setBool(&cfg.Polymarket.ActiveOnly, "POLYRELATE_POLYMARKET_ACTIVE_ONLY")
	setStringSlice(&cfg.Polymarket.Tags, "POLYRELATE_POLYMARKET_TAGS")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "POLYRELATE_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "POLYRELATE_SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "POLYRELATE_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "POLYRELATE_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "POLYRELATE_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "POLYRELATE_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "POLYRELATE_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "POLYRELATE_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "POLYRELATE_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "POLYRELATE_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "POLYRELATE_SUPABASE_RUN_MIGRATIONS")
	setInt(&cfg.Supabase.ChunkSize, "POLYRELATE_SUPABASE_CHUNK_SIZE")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYRELATE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYRELATE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYRELATE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYRELATE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYRELATE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYRELATE_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.CacheTTLMinutes, "POLYRELATE_REDIS_CACHE_TTL_MINUTES")
	setDuration(&cfg.Redis.AnalysisTTL, "POLYRELATE_REDIS_ANALYSIS_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYRELATE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYRELATE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYRELATE_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYRELATE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYRELATE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYRELATE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYRELATE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYRELATE_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.SnapshotPrefix, "POLYRELATE_S3_SNAPSHOT_PREFIX")
	setInt(&cfg.S3.SnapshotRetain, "POLYRELATE_S3_SNAPSHOT_RETAIN")

	// ── AI ──
	setStr(&cfg.AI.EmbeddingAPIKey, "POLYRELATE_AI_EMBEDDING_API_KEY")
	setStr(&cfg.AI.EmbeddingAPIKey, "OPENAI_API_KEY") // compatibility alias
	setStr(&cfg.AI.EmbeddingBaseURL, "POLYRELATE_AI_EMBEDDING_BASE_URL")
	setStr(&cfg.AI.EmbeddingModel, "POLYRELATE_AI_EMBEDDING_MODEL")
	setInt(&cfg.AI.EmbeddingDimension, "POLYRELATE_AI_EMBEDDING_DIMENSION")
	setInt(&cfg.AI.EmbedBatchSize, "POLYRELATE_AI_EMBED_BATCH_SIZE")
	setStr(&cfg.AI.AnalysisAPIKey, "POLYRELATE_AI_ANALYSIS_API_KEY")
	setStr(&cfg.AI.AnalysisAPIKey, "GEMINI_API_KEY") // compatibility alias
	setStr(&cfg.AI.AnalysisBaseURL, "POLYRELATE_AI_ANALYSIS_BASE_URL")
	setStr(&cfg.AI.AnalysisModel, "POLYRELATE_AI_ANALYSIS_MODEL")
	setDuration(&cfg.AI.Timeout, "POLYRELATE_AI_TIMEOUT")
	setInt(&cfg.AI.MaxRetries, "POLYRELATE_AI_MAX_RETRIES")
	setInt(&cfg.AI.BreakerFailures, "POLYRELATE_AI_BREAKER_FAILURES")
	setDuration(&cfg.AI.BreakerCooldown, "POLYRELATE_AI_BREAKER_COOLDOWN")

	// ── Discovery ──
	setFloat64(&cfg.Discovery.SimilarityThreshold, "POLYRELATE_DISCOVERY_SIMILARITY_THRESHOLD")
	setFloat64(&cfg.Discovery.CorrelationThreshold, "POLYRELATE_DISCOVERY_CORRELATION_THRESHOLD")
	setInt(&cfg.Discovery.LimitPerMarket, "POLYRELATE_DISCOVERY_LIMIT_PER_MARKET")
	setBool(&cfg.Discovery.SkipExisting, "POLYRELATE_DISCOVERY_SKIP_EXISTING")
	setInt(&cfg.Discovery.BatchSize, "POLYRELATE_DISCOVERY_BATCH_SIZE")
	setInt(&cfg.Discovery.FetchChunkSize, "POLYRELATE_DISCOVERY_FETCH_CHUNK_SIZE")
	setInt(&cfg.Discovery.FetchConcurrency, "POLYRELATE_DISCOVERY_FETCH_CONCURRENCY")
	setBool(&cfg.Discovery.UseAICorrelation, "POLYRELATE_DISCOVERY_USE_AI_CORRELATION")
	setInt(&cfg.Discovery.AnalysisConcurrency, "POLYRELATE_DISCOVERY_ANALYSIS_CONCURRENCY")
	setFloat64(&cfg.Discovery.AnalysisRPS, "POLYRELATE_DISCOVERY_ANALYSIS_RPS")
	setInt(&cfg.Discovery.AnalysisBurst, "POLYRELATE_DISCOVERY_ANALYSIS_BURST")
	setStr(&cfg.Discovery.AnalysisLimiter, "POLYRELATE_DISCOVERY_ANALYSIS_LIMITER")
	setDuration(&cfg.Discovery.Interval, "POLYRELATE_DISCOVERY_INTERVAL")
	setDuration(&cfg.Discovery.LockTTL, "POLYRELATE_DISCOVERY_LOCK_TTL")
	setBool(&cfg.Discovery.SnapshotEnabled, "POLYRELATE_DISCOVERY_SNAPSHOT_ENABLED")

	// ── Pipeline ──
	setBool(&cfg.Pipeline.Enabled, "POLYRELATE_PIPELINE_ENABLED")
	setDuration(&cfg.Pipeline.ScrapeInterval, "POLYRELATE_PIPELINE_SCRAPE_INTERVAL")
	setDuration(&cfg.Pipeline.EmbedInterval, "POLYRELATE_PIPELINE_EMBED_INTERVAL")
	setInt(&cfg.Pipeline.EmbedLimit, "POLYRELATE_PIPELINE_EMBED_LIMIT")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYRELATE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYRELATE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYRELATE_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerMinute, "POLYRELATE_SERVER_RATE_LIMIT_PER_MINUTE")
	setStr(&cfg.Server.APIKey, "POLYRELATE_SERVER_API_KEY")
	setDuration(&cfg.Server.WriteTimeout, "POLYRELATE_SERVER_WRITE_TIMEOUT")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYRELATE_MODE")
	setStr(&cfg.LogLevel, "POLYRELATE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
