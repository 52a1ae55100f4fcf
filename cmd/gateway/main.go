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

	"github.com/lalithlochan/beacon/internal/api"
	"github.com/lalithlochan/beacon/internal/channel"
	"github.com/lalithlochan/beacon/internal/circuitbreaker"
	"github.com/lalithlochan/beacon/internal/config"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/dispatch"
	"github.com/lalithlochan/beacon/internal/metrics"
	"github.com/lalithlochan/beacon/internal/observ"
	"github.com/lalithlochan/beacon/internal/redis"
	"github.com/lalithlochan/beacon/internal/scheduler"
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

	logger.Info("starting beacon gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
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

	// Initialize Redis for idempotency, rate limiting, and the live
	// in-app inbox
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
		redisClient = nil
	}

	var idempotencyService *redis.IdempotencyService
	var rateLimiter *redis.RateLimiter
	var inboxPublisher channel.InboxPublisher
	if redisClient != nil {
		idempotencyService = redis.NewIdempotencyService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  100,             // 100 requests
			Window: 1 * time.Minute, // per minute per caller
		})
		inboxPublisher = redisClient
		defer redisClient.Close()
	}

	// Delivery channels. In-app and webhook always work; email and SMS
	// drop out when their AWS clients can't be built.
	channels := []channel.Channel{
		channel.NewInAppChannel(inboxPublisher, logger),
		channel.NewWebhookChannel(logger, channel.WebhookConfig{
			Timeout: time.Duration(cfg.WebhookTimeout) * time.Second,
		}),
	}

	emailChannel, err := channel.NewEmailChannel(ctx, channel.EmailConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		logger.Warn("SES unavailable, email alerts disabled", zap.Error(err))
	} else {
		channels = append(channels, emailChannel)
	}

	smsChannel, err := channel.NewSMSChannel(ctx, channel.SMSConfig{
		Region: cfg.SNSRegion,
	}, logger)
	if err != nil {
		logger.Warn("SNS unavailable, SMS alerts disabled", zap.Error(err))
	} else {
		channels = append(channels, smsChannel)
	}

	// Wrap every channel in a circuit breaker so a failing provider
	// fails fast instead of stalling dispatch passes.
	registry := channel.NewRegistry(logger)
	for _, ch := range channels {
		breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(ch.Type()), logger)
		registry.Register(circuitbreaker.NewProtectedChannel(ch, breaker, logger))
	}

	logger.Info("delivery channels registered", zap.Strings("types", registry.Types()))

	// Dispatch pipeline
	resolver := dispatch.NewResolver(repo, logger)
	dispatcher := dispatch.New(repo, registry, resolver, logger)

	// Background reminder scheduler
	sched := scheduler.New(repo, dispatcher,
		time.Duration(cfg.ReminderCheckSeconds)*time.Second, logger)
	sched.Start()
	defer func() {
		if err := sched.Stop(10 * time.Second); err != nil {
			logger.Warn("scheduler did not stop cleanly", zap.Error(err))
		}
	}()

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
	var handler *api.Handler
	if idempotencyService != nil {
		handler = api.NewHandlerWithIdempotency(logger, repo, dispatcher, sched, idempotencyService)
	} else {
		handler = api.NewHandler(logger, repo, dispatcher, sched)
	}
	handler.SetDefaultReminderInterval(cfg.ReminderIntervalHours)

	r.Route("/v1", func(r chi.Router) {
		// Apply rate limiting to API routes
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.CallerKeyFunc))

		r.Route("/admin", func(r chi.Router) {
			r.Post("/alerts", handler.CreateAlert)
			r.Get("/alerts", handler.ListAlerts)
			r.Get("/alerts/{alertID}", handler.GetAlert)
			r.Put("/alerts/{alertID}", handler.UpdateAlert)
			r.Post("/alerts/{alertID}/archive", handler.ArchiveAlert)
			r.Post("/alerts/{alertID}/remind", handler.TriggerReminder)
			r.Get("/alerts/{alertID}/stats", handler.GetAlertStats)
			r.Get("/stats", handler.GetSystemStats)
		})

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/alerts", handler.ListUserAlerts)
			r.Post("/alerts/{alertID}/read", handler.MarkRead)
			r.Post("/alerts/{alertID}/unread", handler.MarkUnread)
			r.Post("/alerts/{alertID}/snooze", handler.SnoozeAlert)
		})
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("DB DOWN"))
			return
		}
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
