package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/api"
	"github.com/lalithlochan/courier/internal/channel"
	"github.com/lalithlochan/courier/internal/circuitbreaker"
	"github.com/lalithlochan/courier/internal/config"
	"github.com/lalithlochan/courier/internal/db"
	"github.com/lalithlochan/courier/internal/directory"
	"github.com/lalithlochan/courier/internal/dispatch"
	"github.com/lalithlochan/courier/internal/metrics"
	"github.com/lalithlochan/courier/internal/observ"
	"github.com/lalithlochan/courier/internal/orchestrator"
	"github.com/lalithlochan/courier/internal/redis"
	"github.com/lalithlochan/courier/internal/sqs"
	"github.com/lalithlochan/courier/internal/template"
	"github.com/lalithlochan/courier/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting courier gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("version", "v1.0.0"),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	// Initialize repository
	repo := db.NewRepository(database, logger)

	// Initialize Redis for idempotency, rate limiting, and in-app fan-out
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var idempotencyService *redis.IdempotencyService
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		idempotencyService = redis.NewIdempotencyService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger)
		defer redisClient.Close()
	}

	// Initialize SQS for the async delivery path
	var producer *sqs.Producer
	var consumer *sqs.Consumer
	if cfg.SQSQueueURL != "" {
		sqsCfg := sqs.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
			DLQURL:   cfg.SQSDLQURL,
		}
		producer, err = sqs.NewProducer(ctx, sqsCfg, logger)
		if err != nil {
			logger.Warn("sqs producer unavailable, deliveries run inline",
				zap.Error(err),
			)
			producer = nil
		}
		if producer != nil {
			consumer, err = sqs.NewConsumer(ctx, sqsCfg, logger)
			if err != nil {
				return fmt.Errorf("sqs consumer unavailable with producer active: %w", err)
			}
			defer producer.Close()
			defer consumer.Close()
		}
	}

	// Assemble the channel senders
	sesSender, err := dispatch.NewSESSender(ctx, dispatch.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create SES email sender: %w", err)
	}

	senders := []dispatch.Sender{sesSender}

	snsSender, err := dispatch.NewSNSSender(ctx, dispatch.SNSConfig{
		Region: cfg.SNSRegion,
	}, logger)
	if err != nil {
		logger.Warn("SNS sender unavailable, SMS notifications disabled",
			zap.Error(err),
		)
	} else {
		senders = append(senders, snsSender)
	}

	pushSender, err := dispatch.NewPushSender(ctx, dispatch.PushConfig{
		Region: cfg.SNSRegion,
	}, logger)
	if err != nil {
		logger.Warn("push sender unavailable, push notifications disabled",
			zap.Error(err),
		)
	} else {
		senders = append(senders, pushSender)
	}

	senders = append(senders, dispatch.NewWebhookSender(logger, dispatch.WebhookConfig{
		DefaultTimeout: time.Duration(cfg.WebhookTimeout) * time.Second,
	}))

	if redisClient != nil {
		senders = append(senders, dispatch.NewInAppSender(redisClient, logger))
	} else {
		// In-app is the default channel; without Redis its deliveries
		// land in the logs instead of the realtime feed.
		logger.Warn("in-app feed unavailable without redis, falling back to log sender")
		senders = append(senders, dispatch.NewLogSender(logger))
	}

	multiSender := dispatch.NewMultiSender(logger, senders...)

	logger.Info("initialized multi-channel delivery stack",
		zap.Bool("email_enabled", true),
		zap.Bool("sms_enabled", snsSender != nil),
		zap.Bool("push_enabled", pushSender != nil),
		zap.Bool("webhook_enabled", true),
		zap.Bool("inapp_realtime", redisClient != nil),
	)

	// Protect providers behind per-channel-type circuit breakers
	breakers := circuitbreaker.NewSet(circuitbreaker.DefaultConfig(), logger)
	protected := circuitbreaker.NewProtectedSender(multiSender, breakers, logger)

	// Core services
	registry := channel.NewRegistry(repo, rateLimiter, logger)
	templater := template.NewEngine(repo, logger)
	dir := directory.New(repo, logger)

	var queue orchestrator.Queue
	if producer != nil {
		queue = producer
	}

	engine := orchestrator.New(repo, registry, templater, dir, protected, queue, logger)

	// Background worker: sweeps and queue consumption
	var workerConsumer worker.Consumer
	if consumer != nil {
		workerConsumer = consumer
	}
	w := worker.New(engine, workerConsumer, worker.Config{
		ScheduledInterval: time.Duration(cfg.ScheduledSweepInterval) * time.Second,
		ExpiryInterval:    time.Duration(cfg.ExpirySweepInterval) * time.Second,
		BatchSize:         cfg.SweepBatchSize,
	}, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go w.Start(workerCtx)

	logger.Info("background worker started",
		zap.Int("scheduled_sweep_seconds", cfg.ScheduledSweepInterval),
		zap.Int("expiry_sweep_seconds", cfg.ExpirySweepInterval),
	)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	handler := api.NewHandler(logger, api.Deps{
		Engine:        engine,
		Notifications: repo,
		Preferences:   repo,
		Channels:      repo,
		Templates:     repo,
		Registry:      registry,
		Templater:     templater,
		Probe:         dispatch.NewCapabilityProbe(multiSender),
		Idempotency:   idempotencyService,
	})

	apiLimit := redis.RateLimitConfig{
		Limit:  cfg.APIRateLimit,
		Window: time.Duration(cfg.APIRateWindow) * time.Second,
	}
	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, apiLimit, api.RecipientKeyFunc))
		handler.Routes(r)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
