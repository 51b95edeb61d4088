package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/tasktrax/pkg/audit"
	"github.com/platinummonkey/tasktrax/pkg/auth"
	"github.com/platinummonkey/tasktrax/pkg/config"
	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/docstore/redisstore"
	"github.com/platinummonkey/tasktrax/pkg/docstore/sqlstore"
	"github.com/platinummonkey/tasktrax/pkg/middleware"
	"github.com/platinummonkey/tasktrax/pkg/observability"
	"github.com/platinummonkey/tasktrax/pkg/rbac"
	"github.com/platinummonkey/tasktrax/pkg/settings"
	"github.com/platinummonkey/tasktrax/pkg/tasks"
	"github.com/platinummonkey/tasktrax/pkg/users"
)

// Store is an opened document store backend
type Store struct {
	docstore.Store
	Backend string
	// Redis is the client of the redis backend, nil for other backends
	Redis *redis.Client
}

// OpenStore opens the configured backend and wraps it with tracing and
// metrics
func OpenStore(ctx context.Context, cfg config.StoreConfig, logger *observability.Logger, metrics *observability.Metrics) (*Store, error) {
	var (
		backend docstore.Store
		client  *redis.Client
	)
	switch cfg.Backend {
	case config.BackendMemory:
		backend = docstore.NewMemoryStore(logger)
	case config.BackendSQLite, config.BackendPostgres:
		sc := sqlstore.Config{
			Dialect:         sqlstore.Postgres,
			DSN:             cfg.PostgresURL,
			MaxOpenConns:    cfg.PostgresMaxConns,
			MaxIdleConns:    cfg.PostgresMaxIdleConns,
			ConnMaxLifetime: cfg.PostgresConnMaxLifetime,
			Listen:          true,
		}
		if cfg.Backend == config.BackendSQLite {
			sc = sqlstore.Config{Dialect: sqlstore.SQLite, DSN: sqlstore.SQLiteDSN(cfg.SQLitePath)}
		}
		s, err := sqlstore.Open(ctx, sc, logger)
		if err != nil {
			return nil, err
		}
		backend = s
	case config.BackendRedis:
		s, err := redisstore.New(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: cfg.RedisPoolSize,
		}, logger)
		if err != nil {
			return nil, err
		}
		backend, client = s, s.Client()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	observability.OrNop(logger).WithField("backend", cfg.Backend).Info("Document store opened")
	return &Store{
		Store:   docstore.Instrument(backend, metrics, cfg.Backend),
		Backend: cfg.Backend,
		Redis:   client,
	}, nil
}

// OpenAudit builds the audit recorder from the configured sinks. The
// returned close function flushes and closes every sink.
func OpenAudit(ctx context.Context, cfg config.AuditConfig, logger *observability.Logger) (*audit.Recorder, func() error, error) {
	var sinks []audit.Logger
	closeAll := func() error {
		var first error
		for _, s := range sinks {
			if err := s.Close(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	if cfg.FilePath != "" {
		fl, err := audit.NewFileLogger(audit.FileLoggerConfig{
			Path:     cfg.FilePath,
			MaxSize:  cfg.MaxFileSize,
			MaxFiles: cfg.MaxFiles,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		sinks = append(sinks, fl)
	}
	if cfg.DatabaseURL != "" {
		dl, err := audit.OpenDBLogger(ctx, cfg.DatabaseURL)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, dl)
	}

	switch len(sinks) {
	case 0:
		return audit.NewRecorder(audit.NewNoOpLogger(), logger), closeAll, nil
	case 1:
		return audit.NewRecorder(sinks[0], logger), closeAll, nil
	}
	multi := audit.NewMultiLogger(sinks...)
	return audit.NewRecorder(multi, logger), multi.Close, nil
}

// NewAuthenticator returns the request authenticator for the auth mode
func NewAuthenticator(ctx context.Context, cfg config.AuthConfig) (auth.Authenticator, error) {
	switch cfg.Mode {
	case config.AuthModeOIDC:
		a, err := auth.NewOIDCAuthenticator(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			return nil, err
		}
		return a, nil
	case config.AuthModeHeader:
		return auth.HeaderAuthenticator{}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// NewLimiter returns the configured rate limiter, or nil when rate limiting
// is disabled. The redis limiter reuses shared when it is set and otherwise
// dials the store's redis settings; the returned close function releases
// only what NewLimiter opened.
func NewLimiter(cfg *config.Config, shared *redis.Client) (middleware.Limiter, func() error, error) {
	noop := func() error { return nil }
	rl := cfg.RateLimit
	if !rl.Enabled {
		return nil, noop, nil
	}
	limits := middleware.RateLimitConfig{
		RequestsPerWindow: rl.RequestsPerWindow,
		WindowDuration:    rl.Window,
		BurstSize:         rl.Burst,
	}
	if rl.Backend != config.BackendRedis {
		return middleware.NewMemoryLimiter(limits), noop, nil
	}

	client, closeClient := shared, noop
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr:        cfg.Store.RedisAddr,
			Password:    cfg.Store.RedisPassword,
			DB:          cfg.Store.RedisDB,
			DialTimeout: 5 * time.Second,
		})
		closeClient = client.Close
	}
	return middleware.NewRedisLimiter(client, limits, ""), closeClient, nil
}

// Services are the domain services shared by the daemon and the CLI
type Services struct {
	Directory       *users.Directory
	Settings        *settings.Controller
	SettingsService *settings.Service
	Resolver        *rbac.Resolver
	Rules           *rbac.RuleStore
	Tasks           *tasks.Service
	Sweeper         *tasks.OverdueSweeper
}

// NewServices builds the domain services on store. The settings controller
// is started and the caller must Stop it.
func NewServices(store docstore.Store, cfg *config.Config, recorder *audit.Recorder, logger *observability.Logger, metrics *observability.Metrics) (*Services, error) {
	controller := settings.NewController(store, logger, metrics)
	if err := controller.Start(); err != nil {
		return nil, fmt.Errorf("failed to start settings controller: %w", err)
	}

	resolver := rbac.NewResolver(controller)
	var key []byte
	if cfg.Activity.HMACKey != "" {
		key = []byte(cfg.Activity.HMACKey)
	}
	directory := users.NewDirectory(store, users.DirectoryConfig{
		CacheSize: cfg.Auth.UserCacheSize,
		CacheTTL:  cfg.Auth.UserCacheTTL,
	}, logger)
	taskService := tasks.NewService(store, resolver, directory, tasks.NewAppender(store, key, metrics), recorder, logger, metrics)

	return &Services{
		Directory:       directory,
		Settings:        controller,
		SettingsService: settings.NewService(store, logger),
		Resolver:        resolver,
		Rules:           rbac.NewRuleStore(store, settings.Ref, logger),
		Tasks:           taskService,
		Sweeper:         tasks.NewOverdueSweeper(taskService, logger, metrics),
	}, nil
}
