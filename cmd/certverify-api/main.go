package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/certverify/internal/api"
	"github.com/edvin/certverify/internal/config"
	"github.com/edvin/certverify/internal/core"
	"github.com/edvin/certverify/internal/db"
	"github.com/edvin/certverify/internal/llm"
	"github.com/edvin/certverify/internal/logging"
	"github.com/edvin/certverify/internal/metrics"
	"github.com/edvin/certverify/internal/ocr"
	"github.com/edvin/certverify/internal/ratelimit"
	"github.com/edvin/certverify/internal/registry"
	"github.com/edvin/certverify/internal/storage"
)

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "create-api-key" {
		createAPIKey(os.Args[2:])
		return
	}

	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("api"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]api.ReadinessCheck{}

	var (
		reg     registry.Registry
		keys    core.APIKeyStore
		anchors core.AnchorDispatcher
	)
	switch cfg.Store {
	case "memory":
		mem := registry.NewMemory()
		memKeys := core.NewMemoryAPIKeys()
		_, rawKey, err := memKeys.Create(ctx, "dev", nil)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create development API key")
		}
		logger.Warn().Str("api_key", rawKey).Msg("in-memory store: records are lost on restart and anchoring is disabled")
		reg, keys = mem, memKeys

	default:
		if *migrateFlag {
			logger.Info().Msg("running database migrations")
			if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
				logger.Fatal().Err(err).Msg("migration failed")
			}
		}

		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to registry database")
		}
		defer pool.Close()
		metrics.RegisterPgxPoolMetrics(prometheus.DefaultRegisterer, pool)

		reg = registry.NewPostgres(pool)
		keys = core.NewAPIKeyService(pool)

		tc, err := dialTemporal(cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to temporal")
		}
		defer tc.Close()
		checks["temporal"] = func(ctx context.Context) error {
			_, err := tc.CheckHealth(ctx, &temporalclient.CheckHealthRequest{})
			return err
		}

		queue := core.NewAnchorQueue(logger, core.NewTemporalStarter(tc), cfg.AnchorQueueSize)
		go queue.Run(ctx)
		defer queue.Close()
		anchors = queue
	}
	checks["registry"] = reg.Ping

	raster := storage.NewPdftoppm(logger, cfg.PdftoppmPath, cfg.PDFRenderDPI, cfg.StorageTimeout)
	store := storage.NewS3Store(logger, storage.S3Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		Bucket:        cfg.S3Bucket,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		PublicBaseURL: cfg.S3PublicBaseURL,
		Timeout:       cfg.StorageTimeout,
	}, raster)
	checks["storage"] = store.Ping

	chat := llm.NewClient(cfg.OCRBaseURL, cfg.OCRAPIKey, cfg.OCRModel, cfg.OCRTimeout)
	extractor := ocr.NewExtractor(logger, chat, cfg.OCRTimeout)

	services := core.NewServices(logger, reg, store, extractor, anchors, keys, core.IngestOptions{
		MaxUploadBytes:   cfg.MaxUploadBytes,
		BatchConcurrency: cfg.BatchConcurrency,
		MaxBatchFiles:    cfg.MaxBatchFiles,
	})

	opts := api.Options{MaxUploadBytes: cfg.MaxUploadBytes, Checks: checks}
	if cfg.RedisURL != "" {
		rdb, err := ratelimit.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		opts.RateLimiter = ratelimit.NewLimiter(rdb, cfg.RateLimitPerMinute, time.Minute)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		logger.Info().Int("per_minute", cfg.RateLimitPerMinute).Msg("public endpoint rate limiting enabled")
	}

	srv := api.NewServer(logger, services, opts)

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting certificate API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}

func dialTemporal(cfg *config.Config, logger zerolog.Logger) (temporalclient.Client, error) {
	tlsConfig, err := cfg.TemporalTLS()
	if err != nil {
		return nil, fmt.Errorf("configure temporal TLS: %w", err)
	}
	dialOpts := temporalclient.Options{HostPort: cfg.TemporalAddress}
	if tlsConfig != nil {
		dialOpts.ConnectionOptions = temporalclient.ConnectionOptions{TLS: tlsConfig}
		logger.Info().Msg("temporal mTLS enabled")
	}
	return temporalclient.Dial(dialOpts)
}

func createAPIKey(args []string) {
	fs := flag.NewFlagSet("create-api-key", flag.ExitOnError)
	name := fs.String("name", "", "Name for the API key (required)")
	scopes := fs.String("scopes", core.ScopeAll, "Comma-separated scopes, e.g. certificates:read,certificates:write")
	fs.Parse(args)

	if *name == "" {
		fmt.Fprintln(os.Stderr, "error: --name is required")
		fmt.Fprintln(os.Stderr, "usage: certverify-api create-api-key --name <name> [--scopes <scopes>]")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "error: DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	svc := core.NewAPIKeyService(pool)
	key, rawKey, err := svc.Create(ctx, *name, splitScopes(*scopes))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to create API key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key created successfully.\n\n")
	fmt.Printf("  Name:   %s\n", key.Name)
	fmt.Printf("  ID:     %s\n", key.ID)
	fmt.Printf("  Scopes: %s\n", strings.Join(key.Scopes, ","))
	fmt.Printf("  Key:    %s\n\n", rawKey)
	fmt.Printf("Save this key, it will not be shown again.\n")
}

func splitScopes(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
