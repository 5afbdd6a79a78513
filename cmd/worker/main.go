package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/edvin/certverify/internal/activity"
	"github.com/edvin/certverify/internal/config"
	"github.com/edvin/certverify/internal/core"
	"github.com/edvin/certverify/internal/db"
	"github.com/edvin/certverify/internal/ledger"
	"github.com/edvin/certverify/internal/logging"
	"github.com/edvin/certverify/internal/metrics"
	"github.com/edvin/certverify/internal/registry"
	"github.com/edvin/certverify/internal/workflow"
)

const drainScheduleID = "anchor-outbox-drain"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("worker"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to registry database")
	}
	defer pool.Close()
	metrics.RegisterPgxPoolMetrics(prometheus.DefaultRegisterer, pool)

	kafkaTLS, err := cfg.LedgerKafkaTLS()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure ledger kafka TLS")
	}
	anchorer, closeLedger, err := ledger.New(logger, ledger.Options{
		Backend:      cfg.LedgerBackend,
		Endpoint:     cfg.LedgerEndpoint,
		Token:        cfg.LedgerToken,
		KafkaBrokers: cfg.LedgerKafkaBrokers,
		KafkaTopic:   cfg.LedgerKafkaTopic,
		KafkaTLS:     kafkaTLS,
		Timeout:      cfg.LedgerTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure ledger")
	}
	defer closeLedger()
	logger.Info().Str("backend", anchorer.Backend()).Msg("ledger configured")

	tlsConfig, err := cfg.TemporalTLS()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure temporal TLS")
	}
	dialOpts := temporalclient.Options{HostPort: cfg.TemporalAddress}
	if tlsConfig != nil {
		dialOpts.ConnectionOptions = temporalclient.ConnectionOptions{TLS: tlsConfig}
		logger.Info().Msg("temporal mTLS enabled")
	}
	tc, err := temporalclient.Dial(dialOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	defer tc.Close()

	w := worker.New(tc, core.TaskQueue, worker.Options{})

	anchorActivities := activity.NewAnchor(logger, registry.NewPostgres(pool), anchorer, cfg.LedgerID)
	w.RegisterActivity(anchorActivities)

	w.RegisterWorkflow(workflow.AnchorCertificateWorkflow)
	w.RegisterWorkflow(workflow.DrainAnchorOutboxWorkflow)

	if cfg.MetricsAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsAddr)
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	go func() {
		logger.Info().Str("taskQueue", core.TaskQueue).Msg("starting temporal worker")
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Fatal().Err(err).Msg("worker failed")
		}
	}()

	// Errors for an already-existing schedule are ignored so that
	// re-deploys do not fail.
	registerDrainSchedule(ctx, tc, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down worker")
	cancel()
}

func registerDrainSchedule(ctx context.Context, tc temporalclient.Client, logger zerolog.Logger) {
	const cron = "*/5 * * * *"

	_, err := tc.ScheduleClient().Create(ctx, temporalclient.ScheduleOptions{
		ID: drainScheduleID,
		Spec: temporalclient.ScheduleSpec{
			CronExpressions: []string{cron},
		},
		Action: &temporalclient.ScheduleWorkflowAction{
			ID:        drainScheduleID,
			Workflow:  workflow.DrainAnchorOutboxWorkflow,
			TaskQueue: core.TaskQueue,
		},
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") || strings.Contains(err.Error(), "AlreadyExists") || strings.Contains(err.Error(), "already registered") {
			logger.Info().Str("id", drainScheduleID).Msg("cron schedule already exists, skipping")
			return
		}
		logger.Fatal().Err(err).Str("id", drainScheduleID).Msg("failed to create cron schedule")
	}
	logger.Info().Str("id", drainScheduleID).Str("cron", cron).Msg("created cron schedule")
}
