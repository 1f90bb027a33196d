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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/haulops-crm/cmd/mainconfig"
	"github.com/wolfman30/haulops-crm/internal/app/bootstrap"
	"github.com/wolfman30/haulops-crm/internal/events"
	"github.com/wolfman30/haulops-crm/internal/messaging/compliance"
	"github.com/wolfman30/haulops-crm/internal/notify"
	"github.com/wolfman30/haulops-crm/internal/observability/metrics"
)

func main() {
	cfg, logger, err := mainconfig.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger = logger.Component("outbox-worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	pool, err := bootstrap.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	sms, err := bootstrap.BuildSMSSender(cfg, logger)
	if err != nil {
		logger.Error("failed to build sms sender", "error", err)
		os.Exit(1)
	}
	email, err := bootstrap.BuildEmailSender(cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build email sender", "error", err)
		os.Exit(1)
	}
	quiet, err := compliance.ParseQuietHours(cfg.QuietHoursStart, cfg.QuietHoursEnd, cfg.QuietHoursTimezone)
	if err != nil {
		logger.Error("invalid quiet hours", "error", err)
		os.Exit(1)
	}

	stores := bootstrap.BuildStores(pool, nil)
	dispatcher := notify.NewMessageDispatcher(stores.Conversations, sms, email, logger).
		WithQuietHours(quiet).
		WithReplyTo(cfg.EmailReplyTo)
	if dm := bootstrap.BuildDMSender(cfg, logger); dm != nil {
		dispatcher = dispatcher.WithDMSender(dm)
	}

	registry := prometheus.NewRegistry()
	deliverer := events.NewDeliverer(stores.Outbox, logger).
		Handle(events.TypeMessageSend, dispatcher).
		WithBatchSize(int32(cfg.OutboxBatchSize)).
		WithInterval(cfg.OutboxPollInterval).
		WithRate(cfg.OutboxSendRate).
		WithMetrics(metrics.NewOutboxMetrics(registry))

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("outbox deliverer started", "interval", cfg.OutboxPollInterval, "rate", cfg.OutboxSendRate)
		return deliverer.Run(gctx)
	})
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("outbox worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("outbox worker stopped")
}
