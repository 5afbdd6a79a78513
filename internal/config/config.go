package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultMaxUploadBytes is the single upload ceiling shared by every
// ingestion and verification entry point.
const DefaultMaxUploadBytes = 10 << 20

type Config struct {
	ServiceName    string `yaml:"service_name"`
	DatabaseURL    string `yaml:"database_url"`
	Store          string `yaml:"store"`
	HTTPListenAddr string `yaml:"http_listen_addr"`
	MetricsAddr    string `yaml:"metrics_addr"`
	LogLevel       string `yaml:"log_level"`

	MaxUploadBytes   int64 `yaml:"max_upload_bytes"`
	BatchConcurrency int   `yaml:"batch_concurrency"`
	MaxBatchFiles    int   `yaml:"max_batch_files"`

	S3Endpoint      string        `yaml:"s3_endpoint"`
	S3Region        string        `yaml:"s3_region"`
	S3Bucket        string        `yaml:"s3_bucket"`
	S3AccessKey     string        `yaml:"s3_access_key"`
	S3SecretKey     string        `yaml:"s3_secret_key"`
	S3PublicBaseURL string        `yaml:"s3_public_base_url"`
	StorageTimeout  time.Duration `yaml:"storage_timeout"`
	PdftoppmPath    string        `yaml:"pdftoppm_path"`
	PDFRenderDPI    int           `yaml:"pdf_render_dpi"`

	OCRBaseURL string        `yaml:"ocr_base_url"`
	OCRAPIKey  string        `yaml:"ocr_api_key"`
	OCRModel   string        `yaml:"ocr_model"`
	OCRTimeout time.Duration `yaml:"ocr_timeout"`

	// LedgerBackend selects the anchor target: "noop", "http" or "kafka".
	LedgerBackend      string        `yaml:"ledger_backend"`
	LedgerEndpoint     string        `yaml:"ledger_endpoint"`
	LedgerToken        string        `yaml:"ledger_token"`
	LedgerID           string        `yaml:"ledger_id"`
	LedgerKafkaBrokers []string      `yaml:"ledger_kafka_brokers"`
	LedgerKafkaTopic   string        `yaml:"ledger_kafka_topic"`
	LedgerKafkaTLSCA   string        `yaml:"ledger_kafka_tls_ca"`
	LedgerTimeout      time.Duration `yaml:"ledger_timeout"`
	AnchorQueueSize    int           `yaml:"anchor_queue_size"`

	TemporalAddress       string `yaml:"temporal_address"`
	TemporalTLSCert       string `yaml:"temporal_tls_cert"`
	TemporalTLSKey        string `yaml:"temporal_tls_key"`
	TemporalTLSCACert     string `yaml:"temporal_tls_ca_cert"`
	TemporalTLSServerName string `yaml:"temporal_tls_server_name"`

	RedisURL           string `yaml:"redis_url"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

// Load reads the optional YAML file named by CERTVERIFY_CONFIG and then
// applies environment variables, which take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	if path := os.Getenv("CERTVERIFY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	var errs []error
	cfg.ServiceName = getEnv("SERVICE_NAME", or(cfg.ServiceName, "certverify"))
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.Store = getEnv("STORE", or(cfg.Store, "postgres"))
	cfg.HTTPListenAddr = getEnv("HTTP_LISTEN_ADDR", or(cfg.HTTPListenAddr, ":8090"))
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", or(cfg.LogLevel, "info"))

	cfg.MaxUploadBytes = getInt64(&errs, "MAX_UPLOAD_BYTES", orInt64(cfg.MaxUploadBytes, DefaultMaxUploadBytes))
	cfg.BatchConcurrency = getInt(&errs, "BATCH_CONCURRENCY", orInt(cfg.BatchConcurrency, 4))
	cfg.MaxBatchFiles = getInt(&errs, "MAX_BATCH_FILES", orInt(cfg.MaxBatchFiles, 10))

	cfg.S3Endpoint = getEnv("S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = getEnv("S3_REGION", or(cfg.S3Region, "us-east-1"))
	cfg.S3Bucket = getEnv("S3_BUCKET", cfg.S3Bucket)
	cfg.S3AccessKey = getEnv("S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3PublicBaseURL = getEnv("S3_PUBLIC_BASE_URL", cfg.S3PublicBaseURL)
	cfg.StorageTimeout = getDuration(&errs, "STORAGE_TIMEOUT", orDuration(cfg.StorageTimeout, 30*time.Second))
	cfg.PdftoppmPath = getEnv("PDFTOPPM_PATH", or(cfg.PdftoppmPath, "pdftoppm"))
	cfg.PDFRenderDPI = getInt(&errs, "PDF_RENDER_DPI", orInt(cfg.PDFRenderDPI, 150))

	cfg.OCRBaseURL = getEnv("OCR_BASE_URL", or(cfg.OCRBaseURL, "https://api.openai.com"))
	cfg.OCRAPIKey = getEnv("OCR_API_KEY", cfg.OCRAPIKey)
	cfg.OCRModel = getEnv("OCR_MODEL", or(cfg.OCRModel, "gpt-4o-mini"))
	cfg.OCRTimeout = getDuration(&errs, "OCR_TIMEOUT", orDuration(cfg.OCRTimeout, 60*time.Second))

	cfg.LedgerBackend = getEnv("LEDGER_BACKEND", or(cfg.LedgerBackend, "noop"))
	cfg.LedgerEndpoint = getEnv("LEDGER_ENDPOINT", cfg.LedgerEndpoint)
	cfg.LedgerToken = getEnv("LEDGER_TOKEN", cfg.LedgerToken)
	cfg.LedgerID = getEnv("LEDGER_ID", cfg.LedgerID)
	if brokers := os.Getenv("LEDGER_KAFKA_BROKERS"); brokers != "" {
		cfg.LedgerKafkaBrokers = splitList(brokers)
	}
	cfg.LedgerKafkaTopic = getEnv("LEDGER_KAFKA_TOPIC", or(cfg.LedgerKafkaTopic, "certificate-anchors"))
	cfg.LedgerKafkaTLSCA = getEnv("LEDGER_KAFKA_TLS_CA", cfg.LedgerKafkaTLSCA)
	cfg.LedgerTimeout = getDuration(&errs, "LEDGER_TIMEOUT", orDuration(cfg.LedgerTimeout, 15*time.Second))
	cfg.AnchorQueueSize = getInt(&errs, "ANCHOR_QUEUE_SIZE", orInt(cfg.AnchorQueueSize, 256))

	cfg.TemporalAddress = getEnv("TEMPORAL_ADDRESS", or(cfg.TemporalAddress, "localhost:7233"))
	cfg.TemporalTLSCert = getEnv("TEMPORAL_TLS_CERT", cfg.TemporalTLSCert)
	cfg.TemporalTLSKey = getEnv("TEMPORAL_TLS_KEY", cfg.TemporalTLSKey)
	cfg.TemporalTLSCACert = getEnv("TEMPORAL_TLS_CA_CERT", cfg.TemporalTLSCACert)
	cfg.TemporalTLSServerName = getEnv("TEMPORAL_TLS_SERVER_NAME", cfg.TemporalTLSServerName)

	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.RateLimitPerMinute = getInt(&errs, "RATE_LIMIT_PER_MINUTE", orInt(cfg.RateLimitPerMinute, 60))

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every variable the given binary needs is present.
// role is one of "api", "worker" or "mcp-server".
func (c *Config) Validate(role string) error {
	var missing []string
	require := func(name, value string) {
		if value == "" {
			missing = append(missing, name)
		}
	}

	switch role {
	case "api":
		require("HTTP_LISTEN_ADDR", c.HTTPListenAddr)
		if c.Store != "memory" {
			require("DATABASE_URL", c.DatabaseURL)
		}
		require("S3_ENDPOINT", c.S3Endpoint)
		require("S3_BUCKET", c.S3Bucket)
		require("OCR_BASE_URL", c.OCRBaseURL)
		require("OCR_MODEL", c.OCRModel)
		require("TEMPORAL_ADDRESS", c.TemporalAddress)
	case "worker":
		require("DATABASE_URL", c.DatabaseURL)
		require("TEMPORAL_ADDRESS", c.TemporalAddress)
		switch c.LedgerBackend {
		case "http":
			require("LEDGER_ENDPOINT", c.LedgerEndpoint)
		case "kafka":
			if len(c.LedgerKafkaBrokers) == 0 {
				missing = append(missing, "LEDGER_KAFKA_BROKERS")
			}
			require("LEDGER_KAFKA_TOPIC", c.LedgerKafkaTopic)
		}
	}

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, "missing required environment variables: "+strings.Join(missing, ", "))
	}
	if (c.TemporalTLSCert == "") != (c.TemporalTLSKey == "") {
		problems = append(problems, "TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY must both be set")
	}
	if c.Store != "" && c.Store != "postgres" && c.Store != "memory" {
		problems = append(problems, fmt.Sprintf("STORE must be postgres or memory, got %q", c.Store))
	}
	switch c.LedgerBackend {
	case "", "noop", "http", "kafka":
	default:
		problems = append(problems, fmt.Sprintf("LEDGER_BACKEND must be noop, http or kafka, got %q", c.LedgerBackend))
	}
	if role == "api" && c.MaxUploadBytes <= 0 {
		problems = append(problems, "MAX_UPLOAD_BYTES must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s config: %s", role, strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(errs *[]error, key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return fallback
	}
	return n
}

func getInt64(errs *[]error, key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return fallback
	}
	return n
}

func getDuration(errs *[]error, key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func or(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func orInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func orInt64(v, fallback int64) int64 {
	if v != 0 {
		return v
	}
	return fallback
}

func orDuration(v, fallback time.Duration) time.Duration {
	if v != 0 {
		return v
	}
	return fallback
}
