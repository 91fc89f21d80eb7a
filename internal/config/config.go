// Package config holds the environment-driven runtime configuration. It is
// read once at startup; nothing re-reads the environment after Load returns.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full runtime configuration for the server, the worker
// daemon, and the CLI.
type Config struct {
	// Vend API
	VendBaseURL        string        `env:"VEND_BASE_URL,notEmpty"`
	VendAPIToken       string        `env:"VEND_API_TOKEN,notEmpty"`
	VendRequestTimeout time.Duration `env:"VEND_REQUEST_TIMEOUT" envDefault:"30s"`
	VendMaxAttempts    int           `env:"VEND_MAX_ATTEMPTS" envDefault:"4"`

	// Retry backoff
	BackoffBase time.Duration `env:"BACKOFF_BASE" envDefault:"5s"`
	BackoffCap  time.Duration `env:"BACKOFF_CAP" envDefault:"5m"`

	// Worker daemon
	WorkerCount        int           `env:"WORKER_COUNT" envDefault:"4"`
	WorkerPollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"1s"`
	WorkerMaxJobs      int           `env:"WORKER_MAX_JOBS" envDefault:"1000"`
	ShutdownGrace      time.Duration `env:"WORKER_SHUTDOWN_GRACE" envDefault:"30s"`
	HeartbeatInterval  time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"10s"`
	HeartbeatStale     time.Duration `env:"HEARTBEAT_STALE_THRESHOLD" envDefault:"5m"`

	// Sync
	SyncBatchSize    int           `env:"SYNC_BATCH_SIZE" envDefault:"100"`
	SyncFreshWindow  time.Duration `env:"SYNC_FRESH_WINDOW" envDefault:"5m"`
	SyncPullInterval time.Duration `env:"SYNC_PULL_INTERVAL" envDefault:"15m"`
	CursorStaleAfter time.Duration `env:"CURSOR_STALE_AFTER" envDefault:"1h"`

	// Webhook endpoint
	WebhookSecret string `env:"WEBHOOK_SECRET,notEmpty"`
	ListenAddr    string `env:"LISTEN_ADDR" envDefault:":8080"`

	// Database
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     int    `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"stocksync"`
	DBSSL      bool   `env:"DB_SSL" envDefault:"false"`
}

// Load reads .env (if present) and parses the environment into a Config.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &cfg, nil
}
