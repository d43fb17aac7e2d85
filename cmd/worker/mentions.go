package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/polyvox/notify-engine/internal/config"
	"github.com/polyvox/notify-engine/internal/db"
	"github.com/polyvox/notify-engine/internal/intake"
	"github.com/polyvox/notify-engine/internal/kafka"
	"github.com/polyvox/notify-engine/internal/logger"
	"github.com/polyvox/notify-engine/internal/metrics"
	"github.com/polyvox/notify-engine/internal/policy"
	"github.com/polyvox/notify-engine/internal/repository"
	"github.com/polyvox/notify-engine/internal/token"
	"github.com/polyvox/notify-engine/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var mentionsCmd = &cobra.Command{
	Use:   "mentions",
	Short: "Consume mention events from Kafka",
	RunE:  runMentions,
}

func runMentions(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
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
	entitiesRepo := repository.NewEntitiesRepository(dbx)
	contactsRepo := repository.NewContactsRepository(dbx)
	mentionsRepo := repository.NewMentionsRepository(dbx)
	subsRepo := repository.NewSubscriptionsRepository(dbx)
	eventsRepo := repository.NewEventsRepository(dbx)
	outboxRepo := repository.NewOutboxRepository(dbx)

	// 4) intake service
	signer, err := token.NewSigner(cfg.App.TokenSecret)
	if err != nil {
		return fmt.Errorf("token signer: %w", err)
	}

	decider := policy.NewDecider(outboxRepo)
	if cfg.Policy.ImmediateThrottle > 0 {
		decider.ImmediateThrottle = cfg.Policy.ImmediateThrottle
	}
	if cfg.Policy.DailyCap > 0 {
		decider.DailyCap = cfg.Policy.DailyCap
	}
	if cfg.Policy.ImmediateDelay > 0 {
		decider.ImmediateDelay = cfg.Policy.ImmediateDelay
	}
	if cfg.Policy.DigestDelay > 0 {
		decider.DigestDelay = cfg.Policy.DigestDelay
	}

	svc := intake.New(
		entitiesRepo, contactsRepo, mentionsRepo,
		subsRepo, eventsRepo, outboxRepo,
		decider, signer, cfg.App.BaseURL,
	)
	svc.Log = logger.Log

	// 5) kafka consumer
	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "notify-mentions"
	}

	consumer := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.Topic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	w := worker.NewMentionsConsumer(consumer, svc, logger.Log)
	if cfg.Kafka.WorkerCount > 0 {
		w.Workers = cfg.Kafka.WorkerCount
	}

	// 6) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> mentions consumer started topic=%s group=%s workers=%d",
		cfg.Kafka.Topic, groupID, w.Workers)

	return w.Run(ctx)
}
