// Command catalogsync imports an external product catalog in resumable batches.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/custodia-labs/catalog-sync/internal/adapters/driven/catalog"
	"github.com/custodia-labs/catalog-sync/internal/adapters/driven/config/file"
	"github.com/custodia-labs/catalog-sync/internal/adapters/driven/notify"
	"github.com/custodia-labs/catalog-sync/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/catalog-sync/internal/adapters/driven/transform"
	"github.com/custodia-labs/catalog-sync/internal/adapters/driving/cli"
	"github.com/custodia-labs/catalog-sync/internal/config"
	"github.com/custodia-labs/catalog-sync/internal/core/services"
	"github.com/custodia-labs/catalog-sync/internal/logger"
	"github.com/custodia-labs/catalog-sync/internal/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

// cleanups run in reverse order when the process exits.
var cleanups []func()

func main() {
	cli.SetVersion(version)
	cli.SetInitializer(initialize)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Execute(ctx)
	stop()

	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	if err != nil {
		os.Exit(1)
	}
}

// initialize is the composition root: it loads the configuration, builds the
// adapters and services, and registers them with the CLI.
func initialize(ctx context.Context, configPath string) error {
	cfg, err := config.Load(config.New(), configPath)
	if err != nil {
		return err
	}

	if err := logger.Setup(cfg.Log); err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	cleanups = append(cleanups, func() { _ = logger.Close() })

	store, err := sqlite.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	cleanups = append(cleanups, func() { _ = store.Close() })
	logger.Debug("using database %s", store.Path())

	profiles, err := file.NewProfileStore(cfg.ProfilesFile)
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}

	client, err := catalog.NewClient(ctx, cfg.Catalog)
	if err != nil {
		return fmt.Errorf("catalog client: %w", err)
	}

	var transformOpts []transform.Option
	if len(cfg.Rates) > 0 {
		transformOpts = append(transformOpts, transform.WithPriceConverter(transform.RateTable{Rates: cfg.Rates}))
	}
	transformer := transform.New(store.ProductStore(), transformOpts...)

	notifiers := notify.Multi{notify.LogNotifier{}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.WebhookURL, nil))
	}

	cfg.Metrics.ServiceVersion = version
	provider, shutdown, err := telemetry.NewMeterProvider(ctx, cfg.Metrics)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	cleanups = append(cleanups, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("metrics shutdown: %v", err)
		}
	})
	metrics, err := telemetry.NewSyncMetrics(provider)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	queue := store.TaskQueue(cfg.VisibilityTimeout)
	state := services.NewSessionState(store.KVStore())
	ledger := services.NewHistoryLedger(store.HistoryStore())

	launcher := services.NewLauncher(state, ledger, queue, cfg.Sync)
	processor := services.NewBatchProcessor(services.ProcessorDeps{
		State:       state,
		Ledger:      ledger,
		Catalog:     client,
		Transformer: transformer,
		Products:    store.ProductStore(),
		Profiles:    profiles,
		Notifier:    notifiers,
		Metrics:     metrics,
	}, cfg.Sync)
	worker := services.NewQueueWorker(queue, processor, services.NewDispatcher(queue), cfg.PollInterval)
	scheduler := services.NewScheduler(cfg.Scheduler, store.SchedulerStore(), profiles, launcher, ledger)

	watchProfiles(ctx, profiles, scheduler)

	cli.SetServices(cli.Services{
		Launcher:  launcher,
		History:   ledger,
		Worker:    worker,
		Scheduler: scheduler,
	})
	return nil
}

// watchProfiles reloads the schedule whenever the profiles file changes.
func watchProfiles(ctx context.Context, profiles *file.ProfileStore, scheduler *services.Scheduler) {
	go func() {
		err := profiles.Watch(ctx, func() {
			if err := scheduler.Reload(ctx); err != nil {
				logger.Warn("reload schedule: %v", err)
			}
		})
		if err != nil {
			logger.Debug("profile watch disabled: %v", err)
		}
	}()
}
