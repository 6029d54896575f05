package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/pricecircle-backend/api/controllers"
	"github.com/angelmondragon/pricecircle-backend/api/routes"
	"github.com/angelmondragon/pricecircle-backend/internal/consensus"
	"github.com/angelmondragon/pricecircle-backend/internal/discussion"
	"github.com/angelmondragon/pricecircle-backend/internal/groups"
	"github.com/angelmondragon/pricecircle-backend/internal/notifications"
	"github.com/angelmondragon/pricecircle-backend/internal/proposals"
	"github.com/angelmondragon/pricecircle-backend/internal/votes"
	"github.com/angelmondragon/pricecircle-backend/pkg/config"
	"github.com/angelmondragon/pricecircle-backend/pkg/db"
	"github.com/angelmondragon/pricecircle-backend/pkg/instance"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
	"github.com/angelmondragon/pricecircle-backend/pkg/metrics"
	"github.com/angelmondragon/pricecircle-backend/pkg/migrate"
	"github.com/angelmondragon/pricecircle-backend/pkg/nats"
	"github.com/angelmondragon/pricecircle-backend/pkg/outbox"
	"github.com/angelmondragon/pricecircle-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Console:     cfg.App.ConsoleLogs(),
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	readiness := []controllers.ReadinessCheck{{Name: "database", Ping: dbClient.Ping}}
	var closers []func() error

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		readiness = append(readiness, controllers.ReadinessCheck{Name: "redis", Ping: redisClient.Ping})
		closers = append(closers, redisClient.Close)
	} else {
		logg.Warn(context.Background(), "redis not configured, idempotency keys are not enforced")
	}

	var natsClient *nats.Client
	if cfg.Discussion.BrokerKind() == config.BrokerNATS {
		natsClient, err = nats.NewClient(context.Background(), cfg.NATS, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap nats", err)
			os.Exit(1)
		}
		readiness = append(readiness, controllers.ReadinessCheck{Name: "nats", Ping: natsClient.Ping})
		closers = append(closers, natsClient.Close)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	consensusMetrics := metrics.NewConsensusMetrics(registry)
	discussionMetrics := metrics.NewDiscussionMetrics(registry)

	broker, err := discussion.NewBroker(cfg.Discussion, discussion.BrokerDeps{Redis: redisClient, NATS: natsClient})
	if err != nil {
		logg.Error(context.Background(), "failed to build discussion broker", err)
		os.Exit(1)
	}
	hub, err := discussion.NewHub(discussion.HubParams{
		Broker:           broker,
		ChannelPrefix:    cfg.Discussion.ChannelNamePrefix,
		SubscriberBuffer: cfg.Discussion.SubscriberBuffer,
		Metrics:          discussionMetrics,
		Logger:           logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build discussion hub", err)
		os.Exit(1)
	}
	closers = append(closers, dbClient.Close)

	conn := dbClient.DB()
	proposalRepo := proposals.NewRepository(conn)
	voteRepo := votes.NewRepository(conn)
	directory, err := groups.NewDirectory(groups.NewRepository(conn))
	if err != nil {
		logg.Error(context.Background(), "failed to create group directory", err)
		os.Exit(1)
	}
	events := outbox.NewService(outbox.NewRepository(conn), logg)

	evaluator, err := consensus.NewEvaluator(consensus.EvaluatorParams{
		Proposals: proposalRepo,
		Votes:     voteRepo,
		Configs:   directory,
		Events:    events,
		Metrics:   consensusMetrics,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create consensus evaluator", err)
		os.Exit(1)
	}
	voteService, err := votes.NewService(votes.ServiceParams{
		Repo:      voteRepo,
		Proposals: proposalRepo,
		Configs:   directory,
		Evaluator: evaluator,
		Metrics:   consensusMetrics,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create vote service", err)
		os.Exit(1)
	}
	proposalService, err := proposals.NewService(proposals.ServiceParams{
		Repo:      proposalRepo,
		Votes:     voteService,
		Directory: directory,
		Events:    events,
		Metrics:   consensusMetrics,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create proposal service", err)
		os.Exit(1)
	}
	discussionService, err := discussion.NewService(discussion.ServiceParams{
		Repo:             discussion.NewRepository(conn),
		Proposals:        proposalRepo,
		Directory:        directory,
		Hub:              hub,
		MaxMessageLength: cfg.Discussion.MaxMessageLength,
		PublishTimeout:   cfg.Discussion.PublishTimeout,
		Metrics:          discussionMetrics,
		Logger:           logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create discussion service", err)
		os.Exit(1)
	}
	notificationService, err := notifications.NewService(notifications.NewRepository(conn))
	if err != nil {
		logg.Error(context.Background(), "failed to create notification service", err)
		os.Exit(1)
	}

	params := routes.Params{
		Config:         cfg,
		Logger:         logg,
		Readiness:      readiness,
		Gatherer:       registry,
		Members:        directory,
		ProposalGroups: proposalRepo,
		Proposals:      proposalService,
		Votes:          voteService,
		Discussion:     discussionService,
		Notifications:  notificationService,
	}
	if redisClient != nil {
		params.Idempotency = redisClient
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
		"broker":   cfg.Discussion.BrokerKind(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(params),
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	exitCode := 0
	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			exitCode = 1
		}
	case <-signalCtx.Done():
		logg.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// closing the hub ends open SSE streams, which Shutdown would otherwise wait on
	errs := hub.Close()
	errs = multierr.Append(errs, server.Shutdown(shutdownCtx))
	for _, closeFn := range closers {
		errs = multierr.Append(errs, closeFn())
	}
	if errs != nil {
		logg.Error(ctx, "errors during shutdown", errs)
		exitCode = 1
	}
	logg.Info(ctx, "api server shut down")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
