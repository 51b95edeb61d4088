package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/platinummonkey/tasktrax/pkg/bootstrap"
	"github.com/platinummonkey/tasktrax/pkg/cli"
	"github.com/platinummonkey/tasktrax/pkg/config"
	"github.com/platinummonkey/tasktrax/pkg/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(os.Getenv("TASKTRAX_CONFIG"))
	if err != nil {
		return err
	}
	// Commands print their own output; only warnings reach stderr
	logger := observability.NewLogger(observability.WarnLevel, os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := bootstrap.OpenStore(ctx, cfg.Store, logger, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	recorder, closeAudit, err := bootstrap.OpenAudit(ctx, cfg.Audit, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	services, err := bootstrap.NewServices(store, cfg, recorder, logger, nil)
	if err != nil {
		return err
	}
	defer services.Settings.Stop()
	// permission checks need the stored rules
	if err := services.Settings.WaitReady(ctx); err != nil {
		return fmt.Errorf("settings unavailable: %w", err)
	}

	app := &cli.App{
		Directory: services.Directory,
		Rules:     services.Rules,
		Settings:  services.SettingsService,
		Tasks:     services.Tasks,
	}
	return cli.NewRootCmd(app).ExecuteContext(ctx)
}
