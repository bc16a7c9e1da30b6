// Package config loads the immutable process configuration at boot.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// JobConcurrency holds the configured worker pool size for each job type.
type JobConcurrency struct {
	Fetch  int
	Parse  int
	Stitch int
	Route  int
	Sync   int
}

// Backoff holds the job queue's retry backoff parameters.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Breaker holds the mailbox sync circuit breaker parameters.
type Breaker struct {
	Threshold  int
	PauseWindow time.Duration
}

// Config is read once at boot and passed by reference to every worker.
// Nothing in this package re-reads the environment after Load returns.
type Config struct {
	DatabaseDSN string

	BlobBackend   string // "fs" or "s3"
	BlobFSRoot    string
	BlobS3Bucket  string
	BlobS3Region  string
	BlobS3Prefix  string

	EncryptionKeyB64 string // 32 raw bytes, base64-encoded

	Concurrency JobConcurrency
	Visibility  map[string]time.Duration
	Backoff     Backoff
	Breaker     Breaker
	SyncCadence time.Duration

	ParserAllowlistRevision string

	OutboundQueueURL  string
	RetentionQueueURL string
	AWSRegion         string

	ShutdownGrace time.Duration
}

// Load reads configuration from the environment, optionally seeded by a
// .env file in the working directory (dev convenience only; production
// deploys set real environment variables).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseDSN:             envOr("DATABASE_DSN", "postgres://localhost:5432/journal?sslmode=disable"),
		BlobBackend:             envOr("BLOB_BACKEND", "fs"),
		BlobFSRoot:              envOr("BLOB_FS_ROOT", "./data/blobs"),
		BlobS3Bucket:            os.Getenv("BLOB_S3_BUCKET"),
		BlobS3Region:            envOr("BLOB_S3_REGION", "us-east-1"),
		BlobS3Prefix:            envOr("BLOB_S3_PREFIX", "oss"),
		EncryptionKeyB64:        os.Getenv("MAILBOX_ENCRYPTION_KEY"),
		ParserAllowlistRevision: envOr("PARSER_HTML_ALLOWLIST_REVISION", "v1"),
		OutboundQueueURL:        os.Getenv("OUTBOUND_QUEUE_URL"),
		RetentionQueueURL:       os.Getenv("RETENTION_QUEUE_URL"),
		AWSRegion:               envOr("AWS_REGION", "us-east-1"),
		ShutdownGrace:           envDuration("SHUTDOWN_GRACE", 30*time.Second),
		SyncCadence:             envDuration("SYNC_CADENCE", 60*time.Second),
		Backoff: Backoff{
			Base: envDuration("QUEUE_BACKOFF_BASE", 30*time.Second),
			Cap:  envDuration("QUEUE_BACKOFF_CAP", 15*time.Minute),
		},
		Breaker: Breaker{
			Threshold:   envInt("BREAKER_THRESHOLD", 5),
			PauseWindow: envDuration("BREAKER_PAUSE_WINDOW", 30*time.Minute),
		},
		Concurrency: JobConcurrency{
			Sync:   envInt("CONCURRENCY_SYNC", 2),
			Fetch:  envInt("CONCURRENCY_FETCH", 8),
			Parse:  envInt("CONCURRENCY_PARSE", 8),
			Stitch: envInt("CONCURRENCY_STITCH", 4),
			Route:  envInt("CONCURRENCY_ROUTE", 4),
		},
	}

	cfg.Visibility = map[string]time.Duration{
		"mailbox_backfill":      envDuration("VISIBILITY_MAILBOX_BACKFILL", 5*time.Minute),
		"mailbox_history_sync":  envDuration("VISIBILITY_MAILBOX_HISTORY_SYNC", 2*time.Minute),
		"occurrence_fetch_raw":  envDuration("VISIBILITY_FETCH", 1*time.Minute),
		"occurrence_parse":      envDuration("VISIBILITY_PARSE", 2*time.Minute),
		"occurrence_stitch":     envDuration("VISIBILITY_STITCH", 30*time.Second),
		"ticket_apply_routing":  envDuration("VISIBILITY_ROUTE", 30*time.Second),
	}

	if cfg.BlobBackend == "s3" && cfg.BlobS3Bucket == "" {
		return nil, fmt.Errorf("config: BLOB_S3_BUCKET is required when BLOB_BACKEND=s3")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
