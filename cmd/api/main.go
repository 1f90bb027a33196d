package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/haulops-crm/cmd/mainconfig"
	"github.com/wolfman30/haulops-crm/internal/api/router"
	"github.com/wolfman30/haulops-crm/internal/app/bootstrap"
	"github.com/wolfman30/haulops-crm/internal/calendar"
	"github.com/wolfman30/haulops-crm/internal/http/handlers"
	"github.com/wolfman30/haulops-crm/internal/observability/metrics"
)

func main() {
	cfg, logger, err := mainconfig.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting haulops API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := bootstrap.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	auditDB, err := bootstrap.OpenAuditDB(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open audit db", "error", err)
		os.Exit(1)
	}
	defer auditDB.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	stores := bootstrap.BuildStores(pool, auditDB)
	resolver := bootstrap.BuildPolicy(redisClient, cfg, logger)
	cal, err := bootstrap.BuildCalendar(ctx, cfg, redisClient, stores.Appointments, logger)
	if err != nil {
		logger.Error("failed to build calendar client", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	orchestrator := bootstrap.BuildOrchestrator(cfg, pool, stores, resolver, cal, logger).
		WithMetrics(metrics.NewAutoReplyMetrics(registry))

	autoReply := handlers.NewAutoReplyHandler(orchestrator, registry, logger)
	if cfg.InboundEventsQueueURL != "" && !cfg.UseMemoryQueue {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		queue, err := bootstrap.BuildInboundQueue(cfg, awsCfg)
		if err != nil {
			logger.Error("failed to build inbound queue", "error", err)
			os.Exit(1)
		}
		autoReply = autoReply.WithQueue(queue)
	}

	health := map[string]handlers.Pinger{
		"postgres": handlers.PingFunc(pool.Ping),
	}
	if redisClient != nil {
		health["redis"] = handlers.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	r := router.New(&router.Config{
		Logger:            logger,
		AutoReply:         autoReply,
		Audit:             handlers.NewAuditHandler(stores.Audit, logger),
		CalendarHook:      calendar.NewWebhookHandler(cal, logger),
		MetricsHandler:    promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		HealthChecks:      health,
		InternalToken:     cfg.InternalToken,
		InternalRateLimit: cfg.InternalRateLimit,
		InternalBurst:     cfg.InternalBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
