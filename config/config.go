// Package config resolves the reporting configuration from the
// environment. A .env file in the working directory is honored when
// present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Mode selects the result delivery policy.
type Mode string

const (
	// ModeLive sends a create call at test start and an update at finish.
	ModeLive Mode = "live"
	// ModeLazy buffers everything and sends at session end.
	ModeLazy Mode = "lazy"
	// ModeBatch buffers results and sends them in groups of BatchSize.
	ModeBatch Mode = "batch"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLive, ModeLazy, ModeBatch:
		return Mode(s), nil
	}
	return "", fmt.Errorf("invalid mode %q (expected live, lazy or batch)", s)
}

const (
	// DefaultOutputDir is where backups, caches and archives are written.
	DefaultOutputDir = "proofy-artifacts"
	// DefaultBatchSize is the batch-mode flush threshold.
	DefaultBatchSize = 100
	// DefaultTimeout bounds a single remote call.
	DefaultTimeout = 30 * time.Second
)

// Config holds the already-resolved inputs consumed by the reporting core.
type Config struct {
	// Delivery mode (live, lazy or batch)
	Mode Mode
	// Remote API base URL; empty disables remote delivery
	APIBase string
	// Bearer token for the remote API
	Token string
	// Project the run belongs to
	ProjectID int64
	// Existing run to attach to (0 creates a new run)
	RunID int64
	// Run display name (defaulted by the results handler when empty)
	RunName string
	// Directory for backups, the attachment cache and archives
	OutputDir string
	// Batch-mode flush threshold
	BatchSize int
	// Write the local JSON backup even when remote delivery succeeds
	AlwaysBackup bool
	// Disable the attachment cache (only honored in live mode)
	DisableAttachmentCache bool
	// Worker identifier when running under a parallelizing test runner;
	// empty on the coordinating process
	WorkerID string
	// Remote call timeout
	Timeout time.Duration
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Mode:      ModeLazy,
		OutputDir: DefaultOutputDir,
		BatchSize: DefaultBatchSize,
		Timeout:   DefaultTimeout,
	}
}

// FromEnv builds a Config from PROOFY_* environment variables, loading a
// .env file first when one exists.
func FromEnv() (*Config, error) {
	// Missing .env is the common case, not an error
	_ = godotenv.Load()

	cfg := Default()

	if raw := os.Getenv("PROOFY_MODE"); raw != "" {
		mode, err := ParseMode(raw)
		if err != nil {
			return nil, err
		}
		cfg.Mode = mode
	}

	cfg.APIBase = os.Getenv("PROOFY_API_BASE")
	cfg.Token = os.Getenv("PROOFY_TOKEN")
	cfg.RunName = os.Getenv("PROOFY_RUN_NAME")
	cfg.WorkerID = os.Getenv("PROOFY_WORKER_ID")

	if raw := os.Getenv("PROOFY_OUTPUT_DIR"); raw != "" {
		cfg.OutputDir = raw
	}

	var err error
	if cfg.ProjectID, err = envInt64("PROOFY_PROJECT_ID", 0); err != nil {
		return nil, err
	}
	if cfg.RunID, err = envInt64("PROOFY_RUN_ID", 0); err != nil {
		return nil, err
	}

	if raw := os.Getenv("PROOFY_BATCH_SIZE"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return nil, fmt.Errorf("invalid PROOFY_BATCH_SIZE %q", raw)
		}
		cfg.BatchSize = size
	}

	if raw := os.Getenv("PROOFY_TIMEOUT"); raw != "" {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil || seconds <= 0 {
			return nil, fmt.Errorf("invalid PROOFY_TIMEOUT %q", raw)
		}
		cfg.Timeout = time.Duration(seconds * float64(time.Second))
	}

	cfg.AlwaysBackup = envBool("PROOFY_ALWAYS_BACKUP")
	cfg.DisableAttachmentCache = envBool("PROOFY_DISABLE_ATTACHMENT_CACHE")

	return cfg, nil
}

// CacheEnabled reports whether attachments should be copied into the local
// cache. Caching is skipped only in live mode with the cache explicitly
// disabled; in all other cases attachments are cached so they remain
// available after the test finishes.
func (c *Config) CacheEnabled() bool {
	return !(c.Mode == ModeLive && c.DisableAttachmentCache)
}

func envInt64(name string, fallback int64) (int64, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return value, nil
}

func envBool(name string) bool {
	switch os.Getenv(name) {
	case "true", "1", "yes", "on", "True", "TRUE":
		return true
	}
	return false
}
