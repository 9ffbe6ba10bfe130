package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/haasonsaas/dualpath/internal/abtest"
	"github.com/haasonsaas/dualpath/internal/bots"
	"github.com/haasonsaas/dualpath/internal/config"
	"github.com/haasonsaas/dualpath/internal/cron"
	"github.com/haasonsaas/dualpath/internal/dispatch"
	"github.com/haasonsaas/dualpath/internal/generation"
	"github.com/haasonsaas/dualpath/internal/observability"
	"github.com/haasonsaas/dualpath/internal/queue"
	"github.com/haasonsaas/dualpath/internal/server"
)

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe loads configuration, wires every component and blocks until a
// shutdown signal arrives.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCfg := cfg.Logging
	if debug {
		logCfg.Level = "debug"
	}
	logCfg.Output = os.Stderr
	logger := observability.NewLogger(logCfg)
	slog.SetDefault(logger)

	logger.Info("starting dualpath",
		"version", version,
		"commit", commit,
		"config", configPath,
		"debug", debug,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	traceCfg := cfg.Tracing
	traceCfg.ServiceVersion = version
	tracer, shutdownTracer, err := observability.NewTracer(ctx, traceCfg)
	if err != nil {
		logger.Warn("tracing exporter unavailable, spans are not exported", "error", err)
	}
	metrics := observability.NewMetrics()

	publisher, err := queue.NewPublisher(ctx, cfg.Queue)
	if err != nil {
		return fmt.Errorf("failed to connect queue: %w", err)
	}

	var forwarder *abtest.Forwarder
	if cfg.Analytics.Enabled {
		forwarder = abtest.NewForwarder(publisher, cfg.Analytics.ForwarderConfig(), logger)
		forwarder.OnDrop = metrics.AnalyticsResultDropped
		metrics.ObserveAnalyticsFailures(forwarder)
	}

	experiment, err := abtest.NewService(cfg.Experiment,
		abtest.WithLogger(logger),
		abtest.WithAnalyticsForwarder(forwarder),
	)
	if err != nil {
		return fmt.Errorf("invalid experiment config: %w", err)
	}

	collaborators, err := buildCollaborators(cfg.Telegram, logger)
	if err != nil {
		return err
	}

	bindings := map[dispatch.Kind]dispatch.Binding{}
	if cfg.Generation.APIKey != "" {
		handlers, err := generation.New(cfg.Generation, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize generation: %w", err)
		}
		bindings = handlers.Bindings()
	} else {
		logger.Warn("generation.api_key not set, direct path has no handlers")
	}

	var routing atomic.Pointer[config.RoutingConfig]
	routing.Store(&cfg.Routing)

	registries := dispatch.Registries{Events: dispatch.DefaultEvents(), Bindings: bindings}
	if err := registries.Validate(); err != nil {
		return fmt.Errorf("invalid operation registry: %w", err)
	}
	router := dispatch.NewRouter(experiment,
		registries,
		publisher,
		collaborators,
		dispatch.WithGates(func() dispatch.Gates { return routing.Load().Gates() }),
		dispatch.WithTracer(tracer.Trace()),
		dispatch.WithRecorder(metrics),
		dispatch.WithLogger(logger),
	)

	var reporter *cron.Reporter
	if cfg.Reporter.Enabled {
		opts := []cron.Option{
			cron.WithLogger(logger),
			cron.WithRunRecorder(metrics),
			cron.WithTracer(tracer),
		}
		if cfg.Reporter.NotifyAdmin {
			admin, err := resolveAdminBot(collaborators, cfg.Telegram)
			if err != nil {
				return err
			}
			opts = append(opts, cron.WithAdminNotifier(admin, cfg.Telegram.AdminChatID))
		}
		reporter, err = cron.NewReporter(cfg.Reporter.Schedule, experiment, publisher, opts...)
		if err != nil {
			return fmt.Errorf("failed to initialize reporter: %w", err)
		}
		if err := reporter.Start(ctx); err != nil {
			return err
		}
	}

	srv := server.New(router, experiment,
		server.WithMetricsHandler(metrics.Handler()),
		server.WithRequestRecorder(metrics),
		server.WithHealthCheck("redis", publisher.Ping),
		server.WithLogger(logger),
	)
	if err := srv.Start(cfg.Server.Addr); err != nil {
		return err
	}

	watcher, err := config.Watch(ctx, configPath, func(next *config.Config, err error) {
		if err == nil {
			err = experiment.UpdateConfig(next.Experiment)
		}
		metrics.RecordConfigReload(err)
		if err != nil {
			logger.Warn("config reload rejected", "error", err)
			return
		}
		routing.Store(&next.Routing)
		if next.Server.Addr != cfg.Server.Addr || next.Queue != cfg.Queue {
			logger.Warn("server and queue settings require a restart to take effect")
		}
	}, config.WithWatchLogger(logger))
	if err != nil {
		logger.Warn("config hot reload disabled", "error", err)
	}

	logger.Info("dualpath started",
		"http_addr", srv.Addr(),
		"operations", strings.Join(router.Operations(), ","),
		"plan_a_percentage", cfg.Experiment.PlanAPercentage,
		"fallback_mode", cfg.Routing.FallbackMode,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	var errs []error
	if watcher != nil {
		errs = append(errs, watcher.Close())
	}
	errs = append(errs, srv.Shutdown(shutdownCtx))
	errs = append(errs, reporter.Stop(shutdownCtx))
	errs = append(errs, forwarder.Close(shutdownCtx))
	errs = append(errs, publisher.Close())
	errs = append(errs, shutdownTracer(shutdownCtx))
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("dualpath stopped")
	return nil
}

func buildCollaborators(cfg config.TelegramConfig, logger *slog.Logger) (*bots.Registry, error) {
	messengers := make([]bots.Messenger, 0, len(cfg.Bots))
	for _, b := range cfg.Bots {
		tg, err := bots.NewTelegram(bots.TelegramConfig{Name: b.Name, Token: b.Token, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("telegram bot %q: %w", b.Name, err)
		}
		messengers = append(messengers, tg)
	}
	registry, err := bots.NewRegistry(messengers...)
	if err != nil {
		return nil, err
	}
	if len(messengers) == 0 {
		logger.Warn("no telegram bots configured, direct path will report missing collaborators")
	}
	return registry, nil
}

func resolveAdminBot(registry *bots.Registry, cfg config.TelegramConfig) (bots.Messenger, error) {
	name := cfg.AdminBot
	if name == "" && len(cfg.Bots) > 0 {
		name = cfg.Bots[0].Name
	}
	if name == "" {
		return nil, fmt.Errorf("reporter.notify_admin requires a telegram bot")
	}
	admin, err := registry.Resolve(name)
	if err != nil {
		return nil, fmt.Errorf("admin bot %q: %w", name, err)
	}
	return admin, nil
}
