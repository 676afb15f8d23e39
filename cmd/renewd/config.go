package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Ledger backends selectable with LEDGER_BACKEND.
const (
	backendMemory    = "memory"
	backendPostgres  = "postgres"
	backendMySQL     = "mysql"
	backendRedis     = "redis"
	backendFirestore = "firestore"
)

type config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LedgerBackend      string `env:"LEDGER_BACKEND" envDefault:"memory"`
	PostgresDSN        string `env:"POSTGRES_DSN"`
	MySQLDSN           string `env:"MYSQL_DSN"`
	RedisAddr          string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisKeyPrefix     string `env:"REDIS_KEY_PREFIX" envDefault:"gorenew:"`
	FirestoreProjectID string `env:"FIRESTORE_PROJECT_ID"`

	// LedgerHotMirror mirrors a durable backend into Redis and keeps
	// webhook claims there.
	LedgerHotMirror bool `env:"LEDGER_HOT_MIRROR" envDefault:"false"`

	// LedgerBreakerThreshold of 0 disables the ledger circuit breaker.
	LedgerBreakerThreshold int           `env:"LEDGER_BREAKER_THRESHOLD" envDefault:"0"`
	LedgerBreakerReset     time.Duration `env:"LEDGER_BREAKER_RESET" envDefault:"30s"`

	// PortOneAPISecret is required for webhook handling. A missing secret
	// does not stop startup; the webhook answers 500 until it is set.
	PortOneAPISecret string `env:"PORTONE_API_SECRET"`
	PortOneBaseURL   string `env:"PORTONE_BASE_URL" envDefault:"https://api.portone.io"`
	WebhookURL       string `env:"WEBHOOK_URL"`

	Currency         string `env:"BILLING_CURRENCY" envDefault:"KRW"`
	ScheduleTimezone string `env:"SCHEDULE_TIMEZONE" envDefault:"Asia/Seoul"`
	WebhookDedupe    bool   `env:"WEBHOOK_DEDUPE" envDefault:"false"`

	// WebhookRateLimit is requests per minute per client on /api/portone.
	// Off by default: the webhook is reached by the gateway only, and its
	// renewal bursts come from a few addresses.
	WebhookRateLimit int `env:"WEBHOOK_RATE_LIMIT" envDefault:"-1"`

	MetricsNamespace string `env:"METRICS_NAMESPACE" envDefault:"gorenew"`
}

// loadConfig reads an optional .env file and then the process environment.
func loadConfig() (config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env is optional

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c *config) validate() error {
	switch c.LedgerBackend {
	case backendMemory, backendRedis:
	case backendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres backend")
		}
	case backendMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("MYSQL_DSN is required for the mysql backend")
		}
	case backendFirestore:
		if c.FirestoreProjectID == "" {
			return fmt.Errorf("FIRESTORE_PROJECT_ID is required for the firestore backend")
		}
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.LedgerBackend)
	}

	if _, err := time.LoadLocation(c.ScheduleTimezone); err != nil {
		return fmt.Errorf("invalid SCHEDULE_TIMEZONE: %w", err)
	}
	if c.LedgerBreakerThreshold < 0 {
		return fmt.Errorf("LEDGER_BREAKER_THRESHOLD must not be negative")
	}
	return nil
}
