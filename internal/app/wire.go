package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/polyrelate/internal/blob/s3"
	"github.com/alanyoungcy/polyrelate/internal/cache/redis"
	"github.com/alanyoungcy/polyrelate/internal/config"
	"github.com/alanyoungcy/polyrelate/internal/domain"
	"github.com/alanyoungcy/polyrelate/internal/metrics"
	"github.com/alanyoungcy/polyrelate/internal/platform/llm"
	"github.com/alanyoungcy/polyrelate/internal/platform/polymarket"
	"github.com/alanyoungcy/polyrelate/internal/platform/ratelimit"
	"github.com/alanyoungcy/polyrelate/internal/scoring"
	"github.com/alanyoungcy/polyrelate/internal/service"
	"github.com/alanyoungcy/polyrelate/internal/server/handler"
	"github.com/alanyoungcy/polyrelate/internal/store/postgres"
)

// Dependencies bundles every dependency that the application modes need to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	MarketStore    domain.MarketStore
	EmbeddingStore domain.EmbeddingStore
	RelationStore  domain.RelationStore

	// Caches
	MarketCache    domain.MarketCache
	AnalysisCache  domain.AnalysisCache
	APIRateLimiter domain.RateLimiter
	LockManager    domain.LockManager

	// Providers; nil when not configured.
	Embedder domain.Embedder
	Analyzer domain.Analyzer
	Gamma    *polymarket.GammaClient

	// Snapshots and SnapshotReader are nil when object storage or
	// snapshots are disabled.
	Snapshots      domain.SnapshotWriter
	SnapshotReader domain.SnapshotReader

	Metrics *metrics.Registry
	Health  map[string]handler.Pinger

	// Services
	Markets    *service.MarketService
	Embeddings *service.EmbeddingService
	Analysis   *service.AnalysisService
	Relations  *service.RelationService
	Discoverer *service.Discoverer
}

// pingFunc adapts a health check function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Health:  make(map[string]handler.Pinger),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:       cfg.Supabase.DSN,
		Host:      cfg.Supabase.Host,
		Port:      cfg.Supabase.Port,
		Database:  cfg.Supabase.Database,
		User:      cfg.Supabase.User,
		Password:  cfg.Supabase.Password,
		SSLMode:   cfg.Supabase.SSLMode,
		MaxConns:  cfg.Supabase.PoolMaxConns,
		MinConns:  cfg.Supabase.PoolMinConns,
		ChunkSize: cfg.Supabase.ChunkSize,
	})
	if err != nil {
		return fail("postgres", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Health["postgres"] = pgClient

	if cfg.Supabase.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail("postgres migrations", err)
		}
	}

	pool, chunk := pgClient.Pool(), pgClient.ChunkSize()
	deps.MarketStore = postgres.NewMarketStore(pool, chunk)
	deps.EmbeddingStore = postgres.NewEmbeddingStore(pool, chunk)
	deps.RelationStore = postgres.NewRelationStore(pool, chunk)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail("redis", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Health["redis"] = redisClient

	redisTTL := time.Duration(0)
	if cfg.Redis.CacheTTLMinutes > 0 {
		redisTTL = time.Duration(cfg.Redis.CacheTTLMinutes) * time.Minute
	}
	deps.MarketCache = redis.NewMarketCache(redisClient, redisTTL)
	deps.AnalysisCache = redis.NewAnalysisCache(redisClient, cfg.Redis.AnalysisTTL.Duration)
	deps.APIRateLimiter = redis.NewRateLimiter(redisClient, 0, 0)
	deps.LockManager = redis.NewLockManager(redisClient)

	// --- S3 snapshots ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Health["s3"] = pingFunc(s3Client.Health)
		if cfg.Discovery.SnapshotEnabled {
			snap := s3blob.NewSnapshotter(
				s3blob.NewWriter(s3Client),
				s3blob.NewReader(s3Client),
				cfg.S3.SnapshotPrefix,
				cfg.S3.SnapshotRetain,
				logger,
			)
			deps.Snapshots = snap
			deps.SnapshotReader = snap
		}
	}

	// --- Providers ---
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost)

	if cfg.AI.EmbeddingAPIKey != "" {
		deps.Embedder = llm.NewEmbedder(llm.NewClient(llm.ClientConfig{
			Name:            "embedding",
			APIKey:          cfg.AI.EmbeddingAPIKey,
			BaseURL:         cfg.AI.EmbeddingBaseURL,
			Timeout:         cfg.AI.Timeout.Duration,
			MaxRetries:      cfg.AI.MaxRetries,
			BreakerFailures: cfg.AI.BreakerFailures,
			BreakerCooldown: cfg.AI.BreakerCooldown.Duration,
		}, logger), cfg.AI.EmbeddingModel, cfg.AI.EmbeddingDimension, cfg.AI.EmbedBatchSize)
	} else {
		logger.Warn("wire: no embedding api key, text search and embedding are disabled")
	}

	if cfg.AI.AnalysisAPIKey != "" {
		analyzer, err := llm.NewAnalyzer(llm.NewClient(llm.ClientConfig{
			Name:            "analysis",
			APIKey:          cfg.AI.AnalysisAPIKey,
			BaseURL:         cfg.AI.AnalysisBaseURL,
			Timeout:         cfg.AI.Timeout.Duration,
			MaxRetries:      cfg.AI.MaxRetries,
			BreakerFailures: cfg.AI.BreakerFailures,
			BreakerCooldown: cfg.AI.BreakerCooldown.Duration,
		}, logger))
		if err != nil {
			return fail("analyzer", err)
		}
		deps.Analyzer = analyzer
	}

	var analysisLimiter domain.RateLimiter
	if strings.EqualFold(cfg.Discovery.AnalysisLimiter, "redis") {
		limit, window := analysisWindow(cfg.Discovery.AnalysisRPS)
		analysisLimiter = redis.NewRateLimiter(redisClient, limit, window)
	} else {
		analysisLimiter = ratelimit.New(cfg.Discovery.AnalysisRPS, cfg.Discovery.AnalysisBurst)
	}

	// --- Services ---
	d := cfg.Discovery
	discover := service.DiscoverOpts{
		SimilarityThreshold:  d.SimilarityThreshold,
		CorrelationThreshold: d.CorrelationThreshold,
		LimitPerMarket:       d.LimitPerMarket,
	}

	deps.Markets = service.NewMarketService(deps.MarketStore, deps.MarketCache, deps.Metrics, logger)
	deps.Embeddings = service.NewEmbeddingService(deps.MarketStore, deps.EmbeddingStore, deps.Embedder,
		cfg.AI.EmbedBatchSize, d.FetchChunkSize, d.FetchConcurrency, deps.Metrics, logger)
	deps.Analysis = service.NewAnalysisService(deps.Markets, deps.Analyzer, deps.AnalysisCache, analysisLimiter,
		service.AnalysisConfig{DefaultModel: cfg.AI.AnalysisModel, Concurrency: d.AnalysisConcurrency},
		deps.Metrics, logger)

	// A nil correlator selects the constant one.
	var correlator scoring.Correlator
	if d.UseAICorrelation {
		correlator = service.NewAnalysisCorrelator(deps.Analysis, cfg.AI.AnalysisModel)
		logger.Info("wire: discovery uses ai correlation", slog.String("model", cfg.AI.AnalysisModel))
	}

	deps.Relations = service.NewRelationService(deps.Markets, deps.RelationStore, deps.EmbeddingStore,
		deps.Analysis, correlator, service.RelationConfig{
			Discover:             discover,
			FetchChunkSize:       d.FetchChunkSize,
			FetchConcurrency:     d.FetchConcurrency,
			CorrelateConcurrency: d.AnalysisConcurrency,
		}, logger)

	deps.Discoverer = service.NewDiscoverer(deps.MarketStore, deps.RelationStore, deps.EmbeddingStore,
		correlator, deps.LockManager, deps.Snapshots, service.DiscovererConfig{
			FetchChunkSize:       d.FetchChunkSize,
			FetchConcurrency:     d.FetchConcurrency,
			CorrelateConcurrency: d.AnalysisConcurrency,
			LockTTL:              d.LockTTL.Duration,
		}, deps.Metrics, logger)

	return deps, cleanup, nil
}

// analysisWindow turns a requests-per-second budget into a sliding window of
// ceil(rps) requests, widening the window so fractional rates are kept
// exactly: 2.5 becomes 3 per 1.2s and 0.5 becomes 1 per 2s.
func analysisWindow(rps float64) (int, time.Duration) {
	if !(rps > 0) {
		return 1, time.Second
	}
	n := math.Ceil(rps)
	return int(n), time.Duration(math.Round(n / rps * float64(time.Second)))
}
