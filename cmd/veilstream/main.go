package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/veilstream/veilstream/internal/audit"
	"github.com/veilstream/veilstream/internal/backfill"
	"github.com/veilstream/veilstream/internal/config"
	"github.com/veilstream/veilstream/internal/consumer"
	"github.com/veilstream/veilstream/internal/database"
	"github.com/veilstream/veilstream/internal/dlq"
	"github.com/veilstream/veilstream/internal/logging"
	"github.com/veilstream/veilstream/internal/masking"
	"github.com/veilstream/veilstream/internal/pipeline"
	"github.com/veilstream/veilstream/internal/ratelimit"
	"github.com/veilstream/veilstream/internal/server"
	"github.com/veilstream/veilstream/internal/sink"
	"github.com/veilstream/veilstream/internal/source"

	natsclient "github.com/veilstream/veilstream/internal/messaging/nats"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	)
	logging.SetDefault(logger)

	slog.Info("Starting VeilStream masking pipeline",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
		slog.String("nats_url", cfg.NATS.URL),
		slog.String("masking_service_url", cfg.Masking.ServiceURL),
	)
	if *configPath != "" {
		slog.Info("Loaded configuration", slog.String("config_path", *configPath))
	}

	// Run database migrations
	slog.Info("Running database migrations")
	m, err := migrate.New("file://"+cfg.Database.MigrationsDir, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to initialize migrations: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	slog.Info("Database migrations completed")

	// Shared database pool for sink, source, cursor and audit queries
	dbCtx, dbCancel := database.BulkContext(context.Background())
	dbPool, err := database.Connect(dbCtx, cfg.Database.URL)
	dbCancel()
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer dbPool.Close()

	// Initialize rate limiter for the masking-service quota
	var limiter ratelimit.RateLimiter
	if cfg.Redis.Enabled && cfg.Masking.RateLimitEnabled {
		rl, err := ratelimit.NewRedisRateLimiter(
			cfg.Redis.URL,
			cfg.Masking.RateLimitRequests,
			cfg.Masking.RateLimitWindow,
		)
		if err != nil {
			slog.Warn("Failed to initialize Redis rate limiter, continuing without",
				logging.Error(err))
			limiter = &ratelimit.NoOpRateLimiter{}
		} else {
			limiter = rl
			slog.Info("Masking rate limit enabled",
				slog.Int("requests", cfg.Masking.RateLimitRequests),
				slog.Duration("window", cfg.Masking.RateLimitWindow))
		}
	} else {
		limiter = &ratelimit.NoOpRateLimiter{}
	}
	defer limiter.Close()

	// Load the field masking policy shared by streaming and backfill
	policy, err := masking.LoadPolicy(cfg.Masking.PolicyPath)
	if err != nil {
		log.Fatalf("Failed to load masking policy: %v", err)
	}
	slog.Info("Masking policy loaded",
		slog.String("path", cfg.Masking.PolicyPath),
		slog.Int("fields", len(policy.Fields)))

	// Masking worker pool
	classifier := masking.NewHTTPClassifier(cfg.Masking.ServiceURL, cfg.Masking.RequestTimeout)
	maskPool := masking.NewPool(classifier, policy, limiter, masking.Config{
		MaxConcurrent: cfg.Masking.MaxConcurrent,
		BackfillShare: cfg.Masking.BackfillShare,
		MaxAttempts:   cfg.Masking.MaxAttempts,
		BackoffBase:   cfg.Masking.BackoffBase,
		BackoffCap:    cfg.Masking.BackoffCap,
	})

	// Connect to NATS
	natsClient, err := natsclient.NewJetStreamClient(natsclient.Config{
		URL:  cfg.NATS.URL,
		Name: "veilstream",
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsClient.Close()

	// Dead-letter queue, optionally teed into the OpenSearch archive
	dlqQueue, err := dlq.NewJetStreamQueue(context.Background(), natsClient)
	if err != nil {
		log.Fatalf("Failed to initialize dead-letter queue: %v", err)
	}

	var archiver *dlq.Archiver
	if cfg.DLQ.ArchiveEnabled {
		archiver, err = dlq.NewArchiver(dlq.ArchiveConfig{
			URL:           cfg.DLQ.OpenSearchURL,
			Username:      cfg.DLQ.OpenSearchUsername,
			Password:      cfg.DLQ.OpenSearchPassword,
			TLSSkipVerify: cfg.DLQ.TLSSkipVerify,
			IndexPrefix:   cfg.DLQ.IndexPrefix,
			BatchSize:     cfg.DLQ.ArchiveBatchSize,
			FlushInterval: cfg.DLQ.ArchiveFlushInterval,
		})
		if err != nil {
			slog.Warn("Failed to initialize DLQ archive, continuing without",
				logging.Error(err))
		} else {
			defer archiver.Close()
			slog.Info("DLQ archive enabled",
				slog.String("url", cfg.DLQ.OpenSearchURL),
				slog.String("index_prefix", cfg.DLQ.IndexPrefix))
		}
	}
	router := dlq.NewRouter(dlqQueue, archiver)

	// Sink and the shared processing pipeline
	pgSink := sink.NewPostgresSink(dbPool, cfg.Sink.Table)
	processor := pipeline.NewProcessor(maskPool, pgSink, router, pipeline.SinkRetryConfig{
		MaxAttempts: cfg.Sink.MaxAttempts,
		BackoffBase: cfg.Sink.BackoffBase,
		BackoffCap:  cfg.Sink.BackoffCap,
	})

	// Root context cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Streaming consumer
	cons := consumer.New(natsClient, processor, consumer.Config{
		StreamName:     cfg.NATS.StreamName,
		ConsumerName:   cfg.NATS.ConsumerName,
		BatchSize:      cfg.Consumer.BatchSize,
		FetchTimeout:   cfg.Consumer.FetchTimeout,
		AckWait:        cfg.NATS.AckWait,
		MaxDeliver:     cfg.NATS.MaxDeliver,
		DedupWindow:    cfg.Consumer.DedupWindow,
		AckExtendAfter: cfg.Consumer.AckExtendAfter,
	})
	if err := cons.Start(ctx); err != nil {
		log.Fatalf("Failed to start consumer: %v", err)
	}

	// Source repository serves both backfill and audit
	sourceRepo := source.NewPostgresRepository(dbPool, "source_events")

	// Backfill processor (optional, one-time historical replay)
	var backfillProc *backfill.Processor
	if cfg.Backfill.Enabled {
		backfillProc = backfill.New(
			sourceRepo,
			backfill.NewPostgresCursorStore(dbPool),
			processor,
			backfill.Config{
				BatchSize:   cfg.Backfill.BatchSize,
				QuotaBudget: cfg.Backfill.QuotaBudget,
				Pause:       cfg.Backfill.Pause,
			},
		)
		go func() {
			if err := backfillProc.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Backfill run failed", logging.Error(err))
			}
		}()
		slog.Info("Backfill processor started",
			slog.Int("batch_size", cfg.Backfill.BatchSize),
			slog.Int64("quota_budget", cfg.Backfill.QuotaBudget))
	}

	// Audit reconciler
	var reconciler *audit.Reconciler
	if cfg.Audit.Enabled {
		channels := []audit.Channel{audit.NewLogChannel()}
		if cfg.Audit.WebhookURL != "" {
			channels = append(channels, audit.NewWebhookChannel(cfg.Audit.WebhookURL, cfg.Audit.NotifyTimeout))
		}
		if cfg.Audit.SlackWebhookURL != "" {
			channels = append(channels, audit.NewSlackChannel(cfg.Audit.SlackWebhookURL, cfg.Audit.NotifyTimeout))
		}
		reconciler = audit.New(
			sourceRepo,
			audit.NewPostgresDestinationChecker(dbPool, cfg.Sink.Table),
			audit.NewMultiChannel(channels...),
			audit.Config{
				Staleness:  cfg.Audit.StalenessThreshold,
				Interval:   cfg.Audit.Interval,
				SampleSize: cfg.Audit.SampleSize,
			},
		)
		reconciler.Start(ctx)
	}

	// Admin HTTP server
	handler := server.NewAdminHandler(processor, backfillStatus(backfillProc), natsClient)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Admin API listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown: stop intake first, drain in-flight events, then
	// tear down the rest.
	<-ctx.Done()
	slog.Info("Shutting down")

	cons.Stop()
	if reconciler != nil {
		reconciler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", logging.Error(err))
		os.Exit(1)
	}

	slog.Info("Shutdown complete")
}

// backfillStatus avoids handing the admin API a typed nil.
func backfillStatus(p *backfill.Processor) server.BackfillStatus {
	if p == nil {
		return nil
	}
	return p
}
