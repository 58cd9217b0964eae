package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/upb/answer-engine/config"
	"github.com/upb/answer-engine/internal/observability"
	"github.com/upb/answer-engine/repositories"
	"github.com/upb/answer-engine/repositories/postgres"
	"github.com/upb/answer-engine/services"
	"github.com/upb/answer-engine/services/answerlog"
	"github.com/upb/answer-engine/services/cache"
	"github.com/upb/answer-engine/services/providers"
	"github.com/upb/answer-engine/services/providers/anthropic"
	"github.com/upb/answer-engine/services/providers/openai"
	"github.com/upb/answer-engine/services/rag"
	"go.uber.org/zap"
)

// Version is reported by the status endpoint
const Version = "0.1.0"

const (
	cacheCleanupInterval = time.Minute
	answerLogStopTimeout = 10 * time.Second
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Agents      repositories.AgentRepository
	Chunks      repositories.ChunkRepository
	AnswerLogs  repositories.AnswerLogRepository
	TxManager   repositories.TransactionManager
	VectorIndex *postgres.VectorIndex

	// Answer cache
	CacheStore  cache.Store
	AnswerCache *cache.AnswerCache

	// Providers
	ProviderRegistry *providers.Registry
	Invoker          *providers.Invoker
	Embedder         rag.Embedder

	// Observability
	Metrics         observability.Metrics
	MetricsRegistry *prometheus.Registry

	// Services
	AnswerLogger  *answerlog.Service
	AnswerService *rag.Service

	stopCleanup chan struct{}
}

// NewDependencies opens the database and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps, err := NewDependenciesWithFactory(ctx, cfg, factory, logger)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return deps, nil
}

// NewDependenciesWithFactory wires everything on top of an existing repository factory
func NewDependenciesWithFactory(ctx context.Context, cfg *config.Config, factory *postgres.RepositoryFactory, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		RepoFactory: factory,
		DB:          factory.GetDB(),
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()
	deps.initCache(ctx, cfg)

	if err := deps.initProviders(cfg); err != nil {
		_ = deps.closeCache()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	if err := deps.initMetrics(cfg); err != nil {
		_ = deps.closeCache()
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := deps.initAnswerLog(cfg); err != nil {
		_ = deps.closeCache()
		return nil, fmt.Errorf("failed to initialize answer log: %w", err)
	}

	deps.initAnswerService(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase creates the schema when configured to
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if !cfg.Database.InitSchema {
		return nil
	}
	if err := d.DB.InitSchema(ctx); err != nil {
		return err
	}
	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Agents = repos.Agents
	d.Chunks = repos.Chunks
	d.AnswerLogs = repos.AnswerLogs
	d.TxManager = d.RepoFactory.GetTransactionManager()
	d.VectorIndex = d.RepoFactory.NewVectorIndex(postgres.EmbeddingDimensions)

	d.Logger.Info("repositories initialized")
}

// initCache selects the answer cache backend. An unreachable redis is
// logged and tolerated; lookups fail open at request time.
func (d *Dependencies) initCache(ctx context.Context, cfg *config.Config) {
	switch cfg.Retrieval.CacheBackend {
	case config.CacheBackendRedis:
		store := cache.NewRedisStore(cache.RedisOptions{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			Prefix:       cfg.Redis.Prefix,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := store.Ping(ctx); err != nil {
			d.Logger.Warn("answer cache redis unreachable at startup", zap.Error(err))
		}
		d.CacheStore = store
	default:
		store := cache.NewMemoryStore(cfg.Retrieval.CacheMaxEntries)
		d.stopCleanup = make(chan struct{})
		go store.StartCleanupWorker(cacheCleanupInterval, d.stopCleanup)
		d.CacheStore = store
	}

	d.AnswerCache = cache.NewAnswerCache(d.CacheStore, cfg.Retrieval.CacheTTL, d.Logger)
	d.Logger.Info("answer cache initialized",
		zap.String("backend", cfg.Retrieval.CacheBackend),
		zap.Duration("ttl", d.AnswerCache.TTL()))
}

// initProviders registers the configured completion providers. OpenAI also
// serves query embeddings.
func (d *Dependencies) initProviders(cfg *config.Config) error {
	registry := providers.NewRegistry()

	if cfg.Providers.OpenAI.APIKey != "" {
		adapter := openai.NewOpenAIAdapter(providers.ProviderConfig{
			APIKey:     cfg.Providers.OpenAI.APIKey,
			BaseURL:    cfg.Providers.OpenAI.BaseURL,
			OrgID:      cfg.Providers.OpenAI.OrgID,
			Timeout:    cfg.Providers.OpenAI.Timeout,
			MaxRetries: cfg.Providers.OpenAI.MaxRetries,
			RetryDelay: providers.DefaultProviderConfig().RetryDelay,
		}, cfg.Providers.OpenAI.EmbeddingModel)
		if err := registry.RegisterProvider(adapter); err != nil {
			return err
		}
		for _, prefix := range []string{"gpt-", "o1", "o3", "o4"} {
			if err := registry.RegisterModelPrefix(prefix, adapter.Name()); err != nil {
				return err
			}
		}
		d.Embedder = adapter
		d.Logger.Info("registered OpenAI provider")
	} else {
		d.Embedder = unconfiguredEmbedder{}
		d.Logger.Warn("OpenAI not configured, query embedding disabled")
	}

	if cfg.Providers.Anthropic.APIKey != "" {
		adapter := anthropic.NewAdapter(providers.ProviderConfig{
			APIKey:     cfg.Providers.Anthropic.APIKey,
			BaseURL:    cfg.Providers.Anthropic.BaseURL,
			Timeout:    cfg.Providers.Anthropic.Timeout,
			MaxRetries: cfg.Providers.Anthropic.MaxRetries,
			RetryDelay: providers.DefaultProviderConfig().RetryDelay,
		})
		if err := registry.RegisterProvider(adapter); err != nil {
			return err
		}
		if err := registry.RegisterModelPrefix("claude-", adapter.Name()); err != nil {
			return err
		}
		d.Logger.Info("registered Anthropic provider")
	}

	if len(registry.ListProviders()) == 0 {
		d.Logger.Warn("no LLM providers configured")
	}

	d.ProviderRegistry = registry
	d.Invoker = providers.NewInvoker(registry, d.Logger)
	return nil
}

// initMetrics builds a dedicated Prometheus registry when metrics are enabled
func (d *Dependencies) initMetrics(cfg *config.Config) error {
	if !cfg.Observability.MetricsEnabled {
		d.Metrics = observability.NopMetrics{}
		return nil
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return err
	}

	metrics, err := observability.NewPrometheusMetrics(reg)
	if err != nil {
		return err
	}

	d.Metrics = metrics
	d.MetricsRegistry = reg
	return nil
}

// initAnswerLog starts the asynchronous answer log writer when enabled
func (d *Dependencies) initAnswerLog(cfg *config.Config) error {
	if !cfg.AnswerLog.Enabled {
		d.Logger.Info("answer log disabled")
		return nil
	}

	svc := answerlog.NewService(d.AnswerLogs, d.TxManager, d.Logger, answerlog.Config{
		BufferSize:  cfg.AnswerLog.BufferSize,
		WorkerCount: cfg.AnswerLog.WorkerCount,
		BatchSize:   cfg.AnswerLog.BatchSize,
	})
	if err := svc.Start(); err != nil {
		return err
	}
	d.AnswerLogger = svc
	return nil
}

func (d *Dependencies) initAnswerService(cfg *config.Config) {
	// A nil *answerlog.Service must not become a non-nil interface.
	var recorder rag.AnswerRecorder
	if d.AnswerLogger != nil {
		recorder = d.AnswerLogger
	}

	d.AnswerService = rag.NewService(
		d.Agents,
		d.Embedder,
		d.VectorIndex,
		d.Chunks,
		d.Invoker,
		d.AnswerCache,
		recorder,
		d.Metrics,
		rag.Config{
			DefaultTopK:     cfg.Retrieval.TopK,
			DefaultMinScore: cfg.Retrieval.MinScore,
			ExpandQueries:   cfg.Retrieval.ExpandQueries,
		},
		d.Logger,
	)
}

func (d *Dependencies) closeCache() error {
	if d.stopCleanup != nil {
		close(d.stopCleanup)
		d.stopCleanup = nil
	}
	if redisStore, ok := d.CacheStore.(*cache.RedisStore); ok {
		return redisStore.Close()
	}
	return nil
}

// Close gracefully shuts down all dependencies. Buffered answer logs are
// flushed before the database is closed.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.AnswerLogger != nil {
		timeout := answerLogStopTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.AnswerLogger.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop answer log: %w", err))
		}
	}

	if err := d.closeCache(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close answer cache: %w", err))
	}

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %w", errors.Join(errs...))
	}

	return nil
}

// unconfiguredEmbedder reports every embedding request as unavailable.
// Agents without knowledge bases still answer.
type unconfiguredEmbedder struct{}

func (unconfiguredEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, services.WrapUnavailable("embedding provider not configured", services.ErrProviderUnavailable)
}
