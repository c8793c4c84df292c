// The worker runs the sigil memory store: it hydrates state from the
// configured backend, schedules garbage collection cycles and exposes
// Prometheus metrics.
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
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sigilmem-backend/internal/config"
	"sigilmem-backend/internal/events"
	"sigilmem-backend/internal/observability"
	"sigilmem-backend/internal/repository"
	"sigilmem-backend/internal/repository/boltstore"
	"sigilmem-backend/internal/repository/breakerstore"
	"sigilmem-backend/internal/repository/dynamostore"
	"sigilmem-backend/internal/repository/memstore"
	"sigilmem-backend/internal/repository/redisstore"
	"sigilmem-backend/internal/repository/sqlstore"
	"sigilmem-backend/internal/resilience"
	"sigilmem-backend/internal/service/memory"
	"sigilmem-backend/internal/signing"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	tenantID := flag.String("tenant", "default", "tenant this worker serves")
	authHash := flag.String("auth-hash", "default", "auth hash scoping persisted records")
	flag.Parse()

	if err := run(*configPath, *tenantID, *authHash); err != nil {
		fmt.Fprintf(os.Stderr, "worker failed: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, tenantID, authHash string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := observability.NewCollector(cfg.Metrics.Namespace)

	store, err := buildStore(ctx, logger, collector, cfg)
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	signer, err := buildSigner(logger, cfg)
	if err != nil {
		return err
	}

	bus := events.NewBus(logger, signer)

	var sink *events.EventBridgeSink
	if cfg.Events.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("loading aws config: %w", err)
		}
		sink = events.NewEventBridgeSink(logger, eventbridge.NewFromConfig(awsCfg),
			cfg.Events.EventBusName, cfg.Events.Source)
		bus.Subscribe("*", sink.Handle)
	}

	svcConfig := memory.Config{
		TenantID:        tenantID,
		AuthHash:        authHash,
		GCPassBudget:    cfg.GC.PassBudget,
		GCMinAge:        cfg.GC.AgeThreshold,
		GCMaxAccess:     cfg.GC.AccessCeiling,
		GCSkipThreshold: cfg.GC.SkipLimit,
	}
	svc, err := memory.NewService(logger, store, bus, collector, svcConfig)
	if err != nil {
		return err
	}
	if err := svc.Hydrate(ctx); err != nil {
		return err
	}

	// Dynamic configuration: GC budget changes apply without restart.
	watcher := config.NewWatcher(logger, configPath, cfg)
	watcher.OnReload(func(updated *config.Config) {
		svc.SetPassBudget(updated.GC.PassBudget)
	})
	go func() {
		if err := watcher.Watch(ctx); err != nil {
			logger.Warn("config watcher stopped", zap.Error(err))
		}
	}()

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.GC.Schedule, func() {
		stats, err := svc.PerformCollectionCycle(ctx)
		if err != nil {
			logger.Error("collection cycle failed", zap.Error(err))
			return
		}
		if sink != nil {
			if err := sink.Flush(ctx); err != nil {
				logger.Warn("event flush failed", zap.Error(err))
			}
		}
		logger.Info("collection cycle",
			zap.Int("scanned", stats.Scanned),
			zap.Int("evicted", stats.Evicted),
			zap.Int("forced", stats.ForcedEvicted),
			zap.Int("queue_depth", stats.QueueDepth))
	})
	if err != nil {
		return fmt.Errorf("scheduling collection: %w", err)
	}
	scheduler.Start()

	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: mux,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("worker started",
		zap.String("backend", cfg.Storage.Backend),
		zap.String("tenant", tenantID),
		zap.String("gc_schedule", cfg.GC.Schedule),
		zap.Int("metrics_port", cfg.Metrics.Port))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Wait for a running collection cycle so the final flush drains its
	// events.
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("timed out waiting for collection cycle")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", zap.Error(err))
	}
	if sink != nil {
		if err := sink.Flush(shutdownCtx); err != nil {
			logger.Warn("final event flush failed", zap.Error(err))
		}
	}
	return nil
}

func buildLogger(cfg config.Logging) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

func buildStore(ctx context.Context, logger *zap.Logger, collector *observability.Collector, cfg *config.Config) (repository.Store, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memstore.New(), nil
	case "bolt":
		return boltstore.New(logger, cfg.Storage.BoltPath), nil
	case "sqlite":
		return sqlstore.New(logger, cfg.Storage.SQLitePath), nil
	case "redis":
		store := redisstore.New(logger, redisstore.Config{
			URL:           cfg.Storage.RedisURL,
			AllowInsecure: cfg.Storage.RedisAllowInsecure,
		})
		return breakerstore.Wrap(logger, collector, store, breakerConfig("redis", cfg)), nil
	case "dynamo":
		opts := []func(*awsconfig.LoadOptions) error{}
		if cfg.Storage.DynamoRegion != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Storage.DynamoRegion))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("loading aws config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg)
		store := dynamostore.New(logger, client, cfg.Storage.DynamoTable)
		return breakerstore.Wrap(logger, collector, store, breakerConfig("dynamo", cfg)), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func breakerConfig(name string, cfg *config.Config) resilience.BreakerConfig {
	return resilience.BreakerConfig{
		Name:             name,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		CallTimeout:      cfg.Breaker.CallTimeout,
	}
}

func buildSigner(logger *zap.Logger, cfg *config.Config) (signing.Signer, error) {
	if cfg.Signing.Secret == "" && cfg.DevMode {
		return signing.NewInsecureDevSigner(logger), nil
	}
	return signing.NewSigner(logger, cfg.Signing.Secret)
}
