package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/labcontrol/labcontrol/pkg/api"
	"github.com/labcontrol/labcontrol/pkg/auth"
	"github.com/labcontrol/labcontrol/pkg/config"
	"github.com/labcontrol/labcontrol/pkg/counter"
	"github.com/labcontrol/labcontrol/pkg/notify"
	"github.com/labcontrol/labcontrol/pkg/observability"
	"github.com/labcontrol/labcontrol/pkg/policy"
	"github.com/labcontrol/labcontrol/pkg/ratelimit"
	"github.com/labcontrol/labcontrol/pkg/storage"
	"github.com/labcontrol/labcontrol/pkg/storage/postgres"
	"github.com/labcontrol/labcontrol/pkg/tokens"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "labcontrol: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting labcontrol")

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	ctx := context.Background()

	store, err := postgres.New(cfg.Storage, metrics)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	counterStore, err := counter.New(cfg.CounterStore)
	if err != nil {
		return fmt.Errorf("failed to connect to counter store: %w", err)
	}

	assets, err := buildAssetStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize asset store: %w", err)
	}

	var table *policy.Table
	if cfg.Policy.RulesPath != "" {
		table, err = policy.LoadTable(cfg.Policy.RulesPath)
		if err != nil {
			return fmt.Errorf("failed to load capability rules: %w", err)
		}
		logger.WithField("path", cfg.Policy.RulesPath).Info("loaded capability rules")
	}
	evaluator := policy.NewEvaluator(table, metrics)

	sessions := auth.NewSessionStore(counterStore, cfg.Auth.SessionTTL)
	tokenManager := tokens.NewManager(counterStore, metrics)
	limiter, err := ratelimit.NewLimiter(counterStore, cfg.Throttle.Policies, metrics)
	if err != nil {
		return err
	}

	server := api.NewServer(api.Deps{
		Store:     store,
		Assets:    assets,
		Logger:    logger,
		Metrics:   metrics,
		Sessions:  sessions,
		Tokens:    tokenManager,
		Limiter:   limiter,
		Evaluator: evaluator,
		AuthCfg:   cfg.Auth,
	})

	notifyLog := logrus.New()
	dispatcher := notify.NewDispatcher(store, &notify.LogSender{Log: notifyLog}, notifyLog, metrics)
	if err := dispatcher.Start(cfg.Notify.DispatchSchedule); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(store.DB(), counterStore.Client())
	healthMux.HandleFunc("/healthz", checker.Liveness)
	healthMux.HandleFunc("/readyz", checker.Readiness)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	var g errgroup.Group
	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("API server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		manager := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
		manager.RegisterShutdownFunc(healthServer.Shutdown)
		manager.RegisterShutdownFunc(func(context.Context) error {
			dispatcher.Stop()
			return nil
		})
		manager.RegisterShutdownFunc(func(context.Context) error { return store.Close() })
		manager.RegisterShutdownFunc(func(context.Context) error { return counterStore.Close() })
		return manager.WaitForShutdown()
	})

	return g.Wait()
}

func buildAssetStore(ctx context.Context, cfg storage.Config) (storage.AssetStore, error) {
	switch cfg.AssetBackend {
	case "s3":
		return storage.NewS3AssetStore(ctx, cfg)
	default:
		return storage.NewFilesystemAssetStore(cfg.FilesystemRoot)
	}
}
