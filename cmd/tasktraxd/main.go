package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tasktrax/pkg/api"
	"github.com/platinummonkey/tasktrax/pkg/auth"
	"github.com/platinummonkey/tasktrax/pkg/bootstrap"
	"github.com/platinummonkey/tasktrax/pkg/config"
	"github.com/platinummonkey/tasktrax/pkg/jobs"
	"github.com/platinummonkey/tasktrax/pkg/middleware"
	"github.com/platinummonkey/tasktrax/pkg/observability"
	"github.com/platinummonkey/tasktrax/pkg/realtime"
	"github.com/platinummonkey/tasktrax/pkg/settings"
)

// version is set at build time
var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("TASKTRAX_CONFIG"), "Path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).WithField("version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		if err := otelProviders.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("OpenTelemetry shutdown failed")
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	store, err := bootstrap.OpenStore(ctx, cfg.Store, logger, metrics)
	if err != nil {
		return err
	}
	defer store.Close()

	recorder, closeAudit, err := bootstrap.OpenAudit(ctx, cfg.Audit, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	services, err := bootstrap.NewServices(store, cfg, recorder, logger, metrics)
	if err != nil {
		return err
	}
	defer services.Settings.Stop()

	if cfg.Settings.InitializeOnStart {
		if _, err := services.SettingsService.InitializeDefaults(ctx); err != nil {
			return err
		}
	}
	if cfg.Settings.SeedFile != "" {
		if _, err := settings.ApplySeedFile(ctx, services.SettingsService, cfg.Settings.SeedFile); err != nil {
			return err
		}
	}

	stopUsers, err := services.Directory.Watch()
	if err != nil {
		return fmt.Errorf("failed to watch users: %w", err)
	}
	defer stopUsers()

	authenticator, err := bootstrap.NewAuthenticator(ctx, cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to create authenticator: %w", err)
	}

	limiter, closeLimiter, err := bootstrap.NewLimiter(cfg, store.Redis)
	if err != nil {
		return err
	}
	defer closeLimiter()

	health := observability.NewHealthChecker(version)
	health.Require("store", store)
	switch l := limiter.(type) {
	case *middleware.MemoryLimiter:
		l.StartCleanup(ctx)
	case *middleware.RedisLimiter:
		health.Optional("ratelimit", l)
	}

	controllers := realtime.NewRegistry()
	server := api.NewServer(api.Deps{
		Store:         store,
		Directory:     services.Directory,
		Authenticator: authenticator,
		AuthOptions: auth.MiddlewareOptions{
			AutoProvision: cfg.Auth.Mode == config.AuthModeOIDC,
		},
		Resolver:        services.Resolver,
		Rules:           services.Rules,
		Settings:        services.Settings,
		SettingsService: services.SettingsService,
		Tasks:           services.Tasks,
		Recorder:        recorder,
		Limiter:         limiter,
		Registry:        controllers,
		LivenessTimeout: cfg.Sync.LivenessTimeout,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		Health:          health,
		Metrics:         metrics,
		Gatherer:        registry,
		Logger:          logger,
	})

	scheduler := jobs.NewScheduler(logger)
	if err := scheduler.Add(jobs.OverdueSweepJob, cfg.Sync.OverdueSchedule, jobs.OverdueSweep(services.Sweeper, logger)); err != nil {
		return err
	}
	if cfg.Sync.LivenessTimeout > 0 {
		if err := scheduler.Add(jobs.WatchdogJob, cfg.Sync.WatchdogSchedule, jobs.Watchdog(controllers, logger)); err != nil {
			return err
		}
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("Starting TaskTrax server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	if cfg.Settings.SeedFile != "" && cfg.Settings.Watch {
		g.Go(func() error {
			return settings.WatchSeed(gctx, services.SettingsService, cfg.Settings.SeedFile, logger)
		})
	}
	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		controllers.CloseAll()
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Scheduler did not stop cleanly")
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
