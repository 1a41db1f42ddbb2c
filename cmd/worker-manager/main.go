// cmd/worker-manager/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"camunda-discovery/internal/api"
	"camunda-discovery/internal/common/aws"
	"camunda-discovery/internal/common/camunda"
	"camunda-discovery/internal/common/config"
	"camunda-discovery/internal/common/database"
	"camunda-discovery/internal/common/logger"
	"camunda-discovery/internal/common/observability"
	"camunda-discovery/internal/discovery"
	"camunda-discovery/internal/engine"
	"camunda-discovery/internal/registry"
	"camunda-discovery/internal/schedule"
	"camunda-discovery/internal/workers/maintenance"
	"camunda-discovery/internal/workers/reporting"
	catalog "camunda-discovery/pkg/registry"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(ctx context.Context, operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "console")
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs := observability.New(cfg.App.Name, log)
	defer obs.Shutdown()

	shutdownTracing, err := observability.InitTracing(cfg.Tracing, cfg.App.Name)
	if err != nil {
		zapLog.Fatal("tracing init failed", zap.Error(err))
	}

	// --- Zeebe client ---
	var zeebe *camunda.Client
	err = retryWithBackoff(ctx, func() error {
		var err error
		zeebe, err = camunda.NewClientWithConfig(camunda.ConfigFrom(cfg.Camunda))
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- Redis ---
	rdb := database.NewRedis(cfg.Redis)
	err = retryWithBackoff(ctx, func() error {
		return rdb.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}

	// --- Fire history (optional) ---
	runnerCfg := engine.RunnerConfig{
		Timezone: cfg.Scheduling.Timezone,
		LockTTL:  config.GetDuration(cfg.Scheduling.FireLockTTL),
	}
	var pg *database.PostgresClient
	var history *engine.SQLHistory
	if cfg.Postgres.Enabled {
		pg, err = database.NewPostgres(cfg.Postgres)
		if err != nil {
			zapLog.Fatal("postgres init failed", zap.Error(err))
		}
		err = retryWithBackoff(ctx, func() error {
			return pg.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Postgres connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		history = engine.NewSQLHistory(pg.DB)
		if err := history.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("fire history schema failed", zap.Error(err))
		}
		runnerCfg.History = history
	}

	// --- Schedule engine ---
	store := engine.NewStore(rdb.Client, cfg.Scheduling.KeyPrefix)
	runner, err := engine.NewRunner(store, zeebe, log, obs, runnerCfg)
	if err != nil {
		zapLog.Fatal("schedule runner init failed", zap.Error(err))
	}
	eng := engine.New(store, runner, log)
	restored, err := eng.Restore(ctx)
	if err != nil {
		zapLog.Fatal("schedule restore failed", zap.Error(err))
	}
	runner.Start()
	zapLog.Info("Schedule runner started", zap.Int("restored", restored))

	// --- Discovery ---
	sessions, err := maintenance.NewSessions(rdb.Client, log, maintenance.DefaultConfig())
	if err != nil {
		zapLog.Fatal("failed to create maintenance component", zap.Error(err))
	}
	reports, err := reporting.NewReports(rdb.Client, log, reporting.DefaultConfig())
	if err != nil {
		zapLog.Fatal("failed to create reporting component", zap.Error(err))
	}
	if cfg.AWS.SES.Enabled {
		mailer, err := aws.NewSESClient(ctx, cfg.AWS.Region, cfg.AWS.SES.FromEmail)
		if err != nil {
			zapLog.Fatal("ses client init failed", zap.Error(err))
		}
		reports.WithMailer(mailer, cfg.AWS.SES.DigestTo)
	}

	extractor := discovery.NewExtractor(discovery.NewStructTagReader(), log.Named("discovery"))
	scan, err := discovery.Scan(discovery.Components(sessions, reports), extractor, cfg.Scheduling.AllowList)
	if err != nil {
		zapLog.Fatal("component discovery failed", zap.Error(err))
	}

	reg := registry.New(log)
	if err := reg.Populate(scan); err != nil {
		zapLog.Fatal("registry population failed", zap.Error(err))
	}
	activities, _ := reg.Activities()

	// --- Activity workers ---
	workers := camunda.NewActivityWorkers(zeebe.Zeebe(), log, obs)
	started := workers.Start(cfg, activities)
	zapLog.Info("Activity workers registered", zap.Int("workers", started), zap.Int("activities", len(activities)))

	// --- Schedules ---
	manager := schedule.NewManager(scan.Schedules, eng, log, cfg.Scheduling.DefaultTaskQueue, schedule.WithObservability(obs))
	if cfg.Scheduling.AutoSetup {
		summary := manager.SetupAll(ctx)
		zapLog.Info("Schedule setup finished",
			zap.Int("successful", summary.Successful),
			zap.Int("failed", summary.Failed),
			zap.Int("skipped", summary.Skipped),
		)
	}
	var notifier *schedule.FailureNotifier
	if cfg.AWS.SNS.Enabled {
		alerts, err := aws.NewSNSClient(ctx, cfg.AWS.Region, cfg.AWS.SNS.AlertTopicARN)
		if err != nil {
			zapLog.Fatal("sns client init failed", zap.Error(err))
		}
		notifier = schedule.NewFailureNotifier(alerts, cfg.App.Environment, log)
		notifier.Notify(ctx, manager)
	}
	if interval := config.GetDuration(cfg.Scheduling.RetryInterval); interval > 0 {
		go retryLoop(ctx, manager, notifier, interval, zapLog)
	}

	// --- Catalog ---
	buildCatalog := func() *catalog.Catalog {
		acts, _ := reg.Activities()
		return catalog.Build(cfg.App.Version, acts, scan.Schedules, cfg.Scheduling.DefaultTaskQueue, time.Now())
	}
	if cfg.Catalog.Write {
		c := buildCatalog()
		if err := catalog.Validate(c); err != nil {
			zapLog.Error("catalog invalid, not written", zap.Error(err))
		} else if err := catalog.Save(c, cfg.Catalog.Path); err != nil {
			zapLog.Error("catalog write failed", zap.Error(err))
		} else {
			zapLog.Info("Catalog written", zap.String("path", cfg.Catalog.Path))
		}
	}

	// --- Admin server ---
	apiOpts := []api.Option{
		api.WithCheck("zeebe", zeebe.HealthCheck),
		api.WithCheck("redis", rdb.Ping),
		api.WithCatalog(buildCatalog),
	}
	if history != nil {
		apiOpts = append(apiOpts, api.WithHistory(history), api.WithCheck("postgres", pg.Ping))
	}
	server := api.NewServer(reg, manager, log, apiOpts...)
	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zapLog.Info("Admin server listening", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Admin server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping admin server", zap.Error(err))
	}
	if err := runner.Stop(shutdownCtx); err != nil {
		zapLog.Error("Error stopping schedule runner", zap.Error(err))
	}
	workers.Close()
	reg.Clear()

	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}
	if err := rdb.Close(); err != nil {
		zapLog.Error("Error closing Redis client", zap.Error(err))
	}
	if pg != nil {
		if err := pg.Close(); err != nil {
			zapLog.Error("Error closing Postgres client", zap.Error(err))
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		zapLog.Error("Error flushing traces", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

// retryLoop re-runs failed schedule setups until ctx is done.
func retryLoop(ctx context.Context, manager *schedule.Manager, notifier *schedule.FailureNotifier, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if manager.Stats().Errors == 0 {
				continue
			}
			summary := manager.RetryFailedSetups(ctx)
			log.Info("Retried failed schedule setups",
				zap.Int("successful", summary.Successful),
				zap.Int("failed", summary.Failed),
			)
			if notifier != nil {
				notifier.Notify(ctx, manager)
			}
		}
	}
}
