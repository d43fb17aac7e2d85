package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/polyvox/notify-engine/internal/config"
	"github.com/polyvox/notify-engine/internal/db"
	"github.com/polyvox/notify-engine/internal/digest"
	"github.com/polyvox/notify-engine/internal/logger"
	"github.com/polyvox/notify-engine/internal/mailer"
	"github.com/polyvox/notify-engine/internal/metrics"
	"github.com/polyvox/notify-engine/internal/outbox"
	"github.com/polyvox/notify-engine/internal/repository"
	"github.com/polyvox/notify-engine/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Run the scheduled outbox and digest jobs",
	RunE:  runCron,
}

func runCron(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Provider.Validate(); err != nil {
		return fmt.Errorf("provider config: %w", err)
	}

	logger.Init(cfg.Log.Level)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) DB connection (MySQL)
	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	// 3) repositories
	outboxRepo := repository.NewOutboxRepository(dbx)
	contactsRepo := repository.NewContactsRepository(dbx)
	subsRepo := repository.NewSubscriptionsRepository(dbx)
	eventsRepo := repository.NewEventsRepository(dbx)
	deliveriesRepo := repository.NewDigestDeliveriesRepository(dbx)

	// 4) mail plumbing
	provider := mailer.NewHTTPProvider(
		cfg.Provider.Name,
		cfg.Provider.BaseURL,
		cfg.Provider.APIKey,
		cfg.Provider.From,
		cfg.Provider.TimeoutMs,
		cfg.Provider.Breaker.FailThreshold,
		cfg.Provider.Breaker.OpenForMs,
	)
	renderer := mailer.NewRenderer()

	proc := outbox.NewProcessor(outboxRepo, contactsRepo, provider, renderer)
	proc.Log = logger.Log
	if cfg.Outbox.BatchSize > 0 {
		proc.BatchSize = cfg.Outbox.BatchSize
	}
	if cfg.Outbox.MaxAttempts > 0 {
		proc.MaxAttempts = cfg.Outbox.MaxAttempts
	}
	if cfg.Outbox.RetryBackoff > 0 {
		proc.RetryBackoff = cfg.Outbox.RetryBackoff
	}
	if cfg.Outbox.ClaimLease > 0 {
		proc.ClaimLease = cfg.Outbox.ClaimLease
	}

	agg := digest.NewAggregator(subsRepo, eventsRepo, deliveriesRepo, provider, renderer, cfg.App.BaseURL)
	agg.Log = logger.Log
	if cfg.Digest.LimitEntities > 0 {
		agg.LimitEntities = cfg.Digest.LimitEntities
	}
	if cfg.Digest.MaxEventsPerDigest > 0 {
		agg.MaxEventsPerDigest = cfg.Digest.MaxEventsPerDigest
	}

	sched := &worker.Scheduler{
		Processor:  proc,
		Aggregator: agg,
		Log:        logger.Log,
		OutboxSpec: cfg.Cron.OutboxSpec,
		DigestSpec: cfg.Cron.DigestSpec,
	}

	// 5) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> cron started outbox=%q digest=%q", cfg.Cron.OutboxSpec, cfg.Cron.DigestSpec)

	return sched.Run(ctx)
}
