package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Optional rotated log file, written alongside stdout.
	LogFile       string `env:"LOG_FILE"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
	LogMaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"28"`

	PrimaryAPIURL      string            `env:"PRIMARY_API_URL" envDefault:"https://youtube-transcriptor.p.rapidapi.com"`
	PrimaryAPIHost     string            `env:"PRIMARY_API_HOST" envDefault:"youtube-transcriptor.p.rapidapi.com"`
	PrimaryAPIKeys     []string          `env:"PRIMARY_API_KEYS" envSeparator:","`
	PrimaryAPIKeysFile string            `env:"PRIMARY_API_KEYS_FILE"`
	PrimaryLangRemap   map[string]string `env:"PRIMARY_LANG_REMAP" envSeparator:"," envKeyValSeparator:":"`
	PrimaryTimeout     time.Duration     `env:"PRIMARY_TIMEOUT" envDefault:"30s"`

	JobServiceURL       string        `env:"JOB_SERVICE_URL"`
	JobDefaultModel     string        `env:"JOB_DEFAULT_MODEL" envDefault:"small"`
	JobRequestTimeout   time.Duration `env:"JOB_REQUEST_TIMEOUT" envDefault:"30s"`
	PollInterval        time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	PollMaxAttempts     int           `env:"POLL_MAX_ATTEMPTS" envDefault:"120"`
	PollMaxAttemptsLive int           `env:"POLL_MAX_ATTEMPTS_LIVE" envDefault:"360"`

	DatabaseURL      string        `env:"DATABASE_URL"`
	HistoryRetention time.Duration `env:"HISTORY_RETENTION"` // 0 keeps transcripts forever

	ArchiveDir string   `env:"ARCHIVE_DIR"`
	S3         S3Config `envPrefix:"S3_"`

	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"quam-engine"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"quam"`
	MQTTControl     bool   `env:"MQTT_CONTROL" envDefault:"true"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"2"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"5"`

	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`
	EventRingSize      int           `env:"EVENT_RING_SIZE" envDefault:"1024"`
}

// S3Config configures the S3-compatible transcript archive.
type S3Config struct {
	Bucket        string        `env:"BUCKET"`
	Endpoint      string        `env:"ENDPOINT"`
	Region        string        `env:"REGION" envDefault:"us-east-1"`
	AccessKey     string        `env:"ACCESS_KEY"`
	SecretKey     string        `env:"SECRET_KEY"`
	Prefix        string        `env:"PREFIX"`
	PresignExpiry time.Duration `env:"PRESIGN_EXPIRY" envDefault:"1h"`

	// LocalCache keeps a copy under ARCHIVE_DIR and reads it first.
	LocalCache bool `env:"LOCAL_CACHE"`
}

// Enabled reports whether an S3 bucket is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile       string
	HTTPAddr      string
	LogLevel      string
	DatabaseURL   string
	JobServiceURL string
	KeysFile      string
	ArchiveDir    string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.JobServiceURL != "" {
		cfg.JobServiceURL = overrides.JobServiceURL
	}
	if overrides.KeysFile != "" {
		cfg.PrimaryAPIKeysFile = overrides.KeysFile
	}
	if overrides.ArchiveDir != "" {
		cfg.ArchiveDir = overrides.ArchiveDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that parse correctly but cannot work.
func (c *Config) Validate() error {
	var errs []error
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if c.JobServiceURL == "" {
		errs = append(errs, errors.New("JOB_SERVICE_URL is required"))
	} else if u, err := url.Parse(c.JobServiceURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("JOB_SERVICE_URL: %q is not an absolute URL", c.JobServiceURL))
	}
	if u, err := url.Parse(c.PrimaryAPIURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("PRIMARY_API_URL: %q is not an absolute URL", c.PrimaryAPIURL))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.PollMaxAttempts <= 0 {
		errs = append(errs, errors.New("POLL_MAX_ATTEMPTS must be positive"))
	}
	if c.PollMaxAttemptsLive < 0 {
		errs = append(errs, errors.New("POLL_MAX_ATTEMPTS_LIVE must not be negative"))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS must not be negative"))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST must be positive when rate limiting is on"))
	}
	if c.S3.LocalCache && c.ArchiveDir == "" {
		errs = append(errs, errors.New("S3_LOCAL_CACHE requires ARCHIVE_DIR"))
	}
	return errors.Join(errs...)
}
