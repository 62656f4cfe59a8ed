package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ----------------------------
	// Process
	// ----------------------------
	AppEnv          string        `envconfig:"APP_ENV" default:"production"`
	NodeID          int64         `envconfig:"NODE_ID" default:"1"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort string `envconfig:"API_PORT" default:"8080"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Database
	// ----------------------------
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// ----------------------------
	// Persistence lanes
	// ----------------------------
	QueuePollInterval time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"100ms"`
	DBBatchSize       int           `envconfig:"DB_BATCH_SIZE" default:"1000"`
	LaneIdleTimeout   time.Duration `envconfig:"LANE_IDLE_TIMEOUT" default:"10m"`

	// ----------------------------
	// Webhooks
	// ----------------------------
	WebhookWorkers   int           `envconfig:"WEBHOOK_WORKERS" default:"3"`
	WebhookTimeout   time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	WebhookRateLimit float64       `envconfig:"WEBHOOK_RATE_LIMIT" default:"0"`

	// ----------------------------
	// SMTP
	// ----------------------------
	SMTPRetryWait   time.Duration `envconfig:"SMTP_RETRY_WAIT" default:"10s"`
	SMTPDialTimeout time.Duration `envconfig:"SMTP_DIAL_TIMEOUT" default:"30s"`
	AttachmentDir   string        `envconfig:"ATTACHMENT_DIR" default:"attachments"`

	// ----------------------------
	// Profile events (optional)
	// ----------------------------
	NATSURL              string `envconfig:"NATS_URL" default:""`
	ProfileEventsSubject string `envconfig:"PROFILE_EVENTS_SUBJECT" default:"smtp.config"`

	// ----------------------------
	// Schedule lock (optional)
	// ----------------------------
	RedisURL        string        `envconfig:"REDIS_URL" default:""`
	ScheduleLockTTL time.Duration `envconfig:"SCHEDULE_LOCK_TTL" default:"5m"`
}

func Load() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return &cfg, err
}

// Development reports whether human readable logging should be used.
func (c *Config) Development() bool {
	return c.AppEnv == "development"
}
