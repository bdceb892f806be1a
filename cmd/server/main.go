package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/transfer-engine/internal/config"
	"github.com/sheikh-saqib/transfer-engine/internal/events/kafka"
	"github.com/sheikh-saqib/transfer-engine/internal/events/logsink"
	"github.com/sheikh-saqib/transfer-engine/internal/events/rabbitmq"
	"github.com/sheikh-saqib/transfer-engine/internal/httpapi"
	interfaces "github.com/sheikh-saqib/transfer-engine/internal/interfaces"
	"github.com/sheikh-saqib/transfer-engine/internal/ledger"
	"github.com/sheikh-saqib/transfer-engine/internal/logging"
	"github.com/sheikh-saqib/transfer-engine/internal/reconcile"
	"github.com/sheikh-saqib/transfer-engine/internal/resilience"
	"github.com/sheikh-saqib/transfer-engine/internal/storage/memory"
	"github.com/sheikh-saqib/transfer-engine/internal/storage/postgres"
	"github.com/sheikh-saqib/transfer-engine/internal/storage/redis"
	"github.com/sheikh-saqib/transfer-engine/internal/transfer"
)

// store is every port a storage adapter serves.
type store interface {
	interfaces.LedgerStore
	interfaces.Reconcilable
	interfaces.AccountSeeder
}

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	for _, seed := range cfg.SeedAccounts {
		if err := st.EnsureAccount(ctx, seed.ID, seed.Balance); err != nil {
			return err
		}
		logger.Info("account seeded", zap.String("account_id", seed.ID), zap.String("balance", seed.Balance.String()))
	}

	publisher, closePublisher, err := openPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	mutator := ledger.NewLedger(st, ledger.Options{
		MaxConflictRetries: cfg.ConflictMaxRetries,
		CommitTimeout:      cfg.CommitTimeout,
		CommitRetryDelay:   cfg.CommitRetryDelay,
		ConflictBackoff:    ledger.DefaultOptions().ConflictBackoff,
	}, logger.Named("ledger"))

	svc := transfer.NewService(st, mutator, publisher, transfer.Config{
		Retry: resilience.RetryPolicy{
			MaxAttempts:    cfg.RetryMaxAttempts,
			Delay:          cfg.RetryDelay,
			AttemptTimeout: cfg.AttemptTimeout,
		},
		Breaker: resilience.BreakerSettings{
			Name:         "transfer",
			MaxRequests:  cfg.BreakerMaxRequests,
			Interval:     cfg.BreakerInterval,
			Timeout:      cfg.BreakerCooldown,
			FailureRatio: cfg.BreakerFailureRatio,
			MinRequests:  cfg.BreakerMinRequests,
		},
		Topic:          cfg.EventTopic,
		PublishTimeout: cfg.PublishTimeout,
	}, logger.Named("transfer"))

	sweeper := reconcile.NewSweeper(st, cfg.ReconcileGrace, logger.Named("reconcile"))
	scheduler, err := sweeper.Schedule(cfg.ReconcileSchedule, time.Minute)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpapi.NewRouter(httpapi.NewHandler(svc, logger.Named("http"))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// a transfer may spend RetryMaxAttempts * (AttemptTimeout + RetryDelay)
		WriteTimeout: time.Duration(cfg.RetryMaxAttempts)*(cfg.AttemptTimeout+cfg.RetryDelay) + 10*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", server.Addr), zap.String("store", cfg.StoreDriver), zap.String("sink", cfg.EventSink))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store, func(), error) {
	switch cfg.StoreDriver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		pg := postgres.NewPostgresLedgerStore(db)
		if err := pg.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return pg, func() { _ = db.Close() }, nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		return redis.NewRedisLedgerStore(client, "ledger"), func() { _ = client.Close() }, nil

	default:
		logger.Warn("using in-memory store, data is lost on restart")
		return memory.NewMemoryLedgerStore(), func() {}, nil
	}
}

func openPublisher(cfg *config.Config, logger *zap.Logger) (interfaces.EventPublisher, func(), error) {
	switch cfg.EventSink {
	case "kafka":
		p := kafka.NewPublisher(cfg.KafkaBrokers)
		return p, func() { _ = p.Close() }, nil

	case "rabbitmq":
		p, conn, err := rabbitmq.Dial(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			return nil, nil, err
		}
		return p, func() {
			_ = p.Close()
			_ = conn.Close()
		}, nil

	default:
		return logsink.New(logger.Named("events")), func() {}, nil
	}
}
