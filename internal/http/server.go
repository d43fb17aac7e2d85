package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/polyvox/notify-engine/internal/config"
	"github.com/polyvox/notify-engine/internal/digest"
	"github.com/polyvox/notify-engine/internal/http/middleware"
	"github.com/polyvox/notify-engine/internal/intake"
	"github.com/polyvox/notify-engine/internal/mailer"
	"github.com/polyvox/notify-engine/internal/metrics"
	"github.com/polyvox/notify-engine/internal/outbox"
	"github.com/polyvox/notify-engine/internal/policy"
	"github.com/polyvox/notify-engine/internal/repository"
	"github.com/polyvox/notify-engine/internal/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client) (*Server, error) {
	// repos (MySQL)
	entitiesRepo := repository.NewEntitiesRepository(mysqlDB)
	contactsRepo := repository.NewContactsRepository(mysqlDB)
	mentionsRepo := repository.NewMentionsRepository(mysqlDB)
	subsRepo := repository.NewSubscriptionsRepository(mysqlDB)
	eventsRepo := repository.NewEventsRepository(mysqlDB)
	outboxRepo := repository.NewOutboxRepository(mysqlDB)
	deliveriesRepo := repository.NewDigestDeliveriesRepository(mysqlDB)

	// repos (ClickHouse)
	chOutboxRepo := repository.NewCHOutboxRepository(clickhouseDB)

	// mail plumbing
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

	signer, err := token.NewSigner(cfg.App.TokenSecret)
	if err != nil {
		return nil, err
	}

	// services
	decider := policy.NewDecider(outboxRepo)
	decider.ImmediateThrottle = cfg.Policy.ImmediateThrottle
	decider.DailyCap = cfg.Policy.DailyCap
	decider.ImmediateDelay = cfg.Policy.ImmediateDelay
	decider.DigestDelay = cfg.Policy.DigestDelay

	intakeSvc := intake.New(
		entitiesRepo, contactsRepo, mentionsRepo,
		subsRepo, eventsRepo, outboxRepo,
		decider, signer, cfg.App.BaseURL,
	)

	proc := outbox.NewProcessor(outboxRepo, contactsRepo, provider, renderer)
	proc.BatchSize = cfg.Outbox.BatchSize
	proc.MaxAttempts = cfg.Outbox.MaxAttempts
	proc.RetryBackoff = cfg.Outbox.RetryBackoff
	proc.ClaimLease = cfg.Outbox.ClaimLease

	agg := digest.NewAggregator(subsRepo, eventsRepo, deliveriesRepo, provider, renderer, cfg.App.BaseURL)
	if cfg.Digest.LimitEntities > 0 {
		agg.LimitEntities = cfg.Digest.LimitEntities
	}
	if cfg.Digest.MaxEventsPerDigest > 0 {
		agg.MaxEventsPerDigest = cfg.Digest.MaxEventsPerDigest
	}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(cfg.App.InternalKey)
	runnerMW := middleware.RunnerTokenMiddleware(cfg.Digest.RunnerToken)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:ip:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// internal routes (service-to-service)
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/mentions", recordMentionHandler(intakeSvc))
	v1.POST("/outbox/process", processOutboxHandler(proc))
	v1.GET("/reports/outbox", listOutboxHandler(chOutboxRepo))

	// digest trigger has its own bearer token
	e.POST("/v1/digests/run", runDigestsHandler(agg), runnerMW, rlMW)

	// public routes (links embedded in emails)
	pub := e.Group("/v1", rlMW)
	pub.GET("/email/unsubscribe", contactUnsubscribeHandler(signer, contactsRepo))
	pub.GET("/subscriptions/unsubscribe", subscriptionUnsubscribeHandler(subsRepo))
	pub.POST("/subscriptions/resubscribe", subscriptionResubscribeHandler(subsRepo))

	return &Server{e: e}, nil
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
