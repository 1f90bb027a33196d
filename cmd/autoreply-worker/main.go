package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/haulops-crm/cmd/mainconfig"
	"github.com/wolfman30/haulops-crm/internal/app/bootstrap"
	"github.com/wolfman30/haulops-crm/internal/autoreply"
	"github.com/wolfman30/haulops-crm/internal/observability/metrics"
)

func main() {
	cfg, logger, err := mainconfig.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger = logger.Component("autoreply-worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
	cal, err := bootstrap.BuildCalendar(ctx, cfg, redisClient, stores.Appointments, logger)
	if err != nil {
		logger.Error("failed to build calendar client", "error", err)
		os.Exit(1)
	}
	orchestrator := bootstrap.BuildOrchestrator(cfg, pool, stores, bootstrap.BuildPolicy(redisClient, cfg, logger), cal, logger).
		WithMetrics(metrics.NewAutoReplyMetrics(prometheus.DefaultRegisterer))

	worker := autoreply.NewWorker(orchestrator, queue, logger,
		autoreply.WithWorkerCount(cfg.WorkerCount),
		autoreply.WithHandleTimeout(time.Minute),
		autoreply.WithProcessedEventsStore(stores.Processed),
	)
	logger.Info("autoreply worker starting", "workers", cfg.WorkerCount, "memory_queue", cfg.UseMemoryQueue)
	worker.Start(ctx)

	<-ctx.Done()
	logger.Info("autoreply worker shutting down")
	worker.Wait()
}
