package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tahirsattar/payvault/internal/config"
	"github.com/tahirsattar/payvault/internal/events/kafka"
	"github.com/tahirsattar/payvault/internal/interfaces"
	"github.com/tahirsattar/payvault/internal/ledger"
	"github.com/tahirsattar/payvault/internal/ratelimit"
	"github.com/tahirsattar/payvault/internal/server"
	"github.com/tahirsattar/payvault/internal/storage/memory"
	"github.com/tahirsattar/payvault/internal/storage/postgres"
	"github.com/tahirsattar/payvault/internal/webhook"
)

func main() {
	cfg := config.Load()

	logger, err := buildLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Production() {
		return zap.NewProduction()
	}

	return zap.NewDevelopment()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		ledgerStore interfaces.LedgerStore
		counters    interfaces.CounterStore
		keys        server.KeyStore
		accounts    server.AccountStore
		directory   interfaces.WebhookDirectory
	)

	if cfg.DatabaseURL != "" {
		store, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Migrate(); err != nil {
			return err
		}

		ledgerStore, counters, keys, accounts, directory = store, store, store, store, store

		logger.Info("connected to postgres")
	} else {
		// No DATABASE_URL means an ephemeral in-memory deployment, useful
		// for local development and demos.
		memStore := memory.NewStore()
		rlStore := memory.NewRateLimitStore()

		ledgerStore, counters, keys, accounts = memStore, rlStore, rlStore, memStore
		directory = webhook.StaticDirectory{}

		logger.Warn("running with in-memory storage, data will not survive restart")
	}

	opts := []ledger.Option{
		ledger.WithNotifier(webhook.NewNotifier(directory, logger)),
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers)
		defer publisher.Close()

		opts = append(opts, ledger.WithPublisher(publisher))

		logger.Info("kafka publisher enabled", zap.Strings("brokers", cfg.KafkaBrokers))
	}

	engine := ledger.New(ledgerStore, logger, opts...)
	limiter := ratelimit.NewLimiter(counters, keys, logger)
	srv := server.New(engine, limiter, accounts, keys, logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))

		return srv.Listen(":" + cfg.Port)
	})

	g.Go(func() error {
		return sweepCounters(ctx, limiter, cfg, logger)
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		return srv.Shutdown()
	})

	return g.Wait()
}

// sweepCounters periodically purges rate limit windows older than the
// retention horizon.
func sweepCounters(ctx context.Context, limiter *ratelimit.Limiter, cfg *config.Config, logger *zap.Logger) error {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := limiter.Cleanup(ctx, cfg.CounterRetention); err != nil {
				logger.Warn("counter cleanup failed", zap.Error(err))
			}
		}
	}
}
