// internal/config/config.go
package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full daemon configuration, loaded from environment
// variables with an optional .env file for local development.
type Config struct {
	// HTTPAddr is the address the API server binds to.
	HTTPAddr string `env:"CAMKEEP_HTTP_ADDR" envDefault:":8080"`

	// APIToken enables bearer authentication on the API when non-empty.
	APIToken string `env:"CAMKEEP_API_TOKEN"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"CAMKEEP_LOG_LEVEL" envDefault:"info"`

	DVR      DVRConfig     `envPrefix:"CAMKEEP_DVR_"`
	Capture  CaptureConfig `envPrefix:"CAMKEEP_CAPTURE_"`
	Pool     PoolConfig    `envPrefix:"CAMKEEP_POOL_"`
	Manager  ManagerConfig `envPrefix:"CAMKEEP_"`
	NATSURL  string        `env:"CAMKEEP_NATS_URL"`
	Previews string        `env:"CAMKEEP_PREVIEW_SIZES" envDefault:"thumb:320x180,poster:1280x720"`
}

// DVRConfig points at the recorder the daemon pulls footage from.
type DVRConfig struct {
	BaseURL  string `env:"BASE_URL"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`

	// Timezone is the recorder clock's IANA timezone. Empty means the
	// daemon's local timezone.
	Timezone string `env:"TIMEZONE"`

	// CameraNames overrides camera names keyed by source IP,
	// e.g. "10.0.0.11:Gate,10.0.0.12:Loading dock".
	CameraNames map[string]string `env:"CAMERA_NAMES"`
}

// CaptureConfig drives the ffmpeg capture runner.
type CaptureConfig struct {
	FFmpegPath   string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	ReadBuffer   int           `env:"READ_BUFFER" envDefault:"1024"`

	// Username and Password are injected into rtsp capture URIs.
	Username string `env:"RTSP_USERNAME"`
	Password string `env:"RTSP_PASSWORD"`
}

// PoolConfig bounds the capture worker pool.
type PoolConfig struct {
	Workers          int `env:"WORKERS" envDefault:"5"`
	MaxJobsPerWorker int `env:"MAX_JOBS_PER_WORKER" envDefault:"100"`
	QueueSize        int `env:"QUEUE_SIZE" envDefault:"256"`
}

// ManagerConfig holds job lifecycle settings.
type ManagerConfig struct {
	// SpoolRoot is where per-job working directories live.
	SpoolRoot string `env:"SPOOL_ROOT" envDefault:"/var/spool/camkeep"`

	// StorageDir is where finished artifacts are moved. Empty leaves
	// artifacts in their spool directory.
	StorageDir string `env:"STORAGE_DIR"`

	CallbackTimeout time.Duration `env:"CALLBACK_TIMEOUT" envDefault:"30s"`
}

// Load reads a .env file when present, then the environment, and applies
// guardrails to the result.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

// Sanitize clamps values that would break the daemon if set to nonsense.
func (c *Config) Sanitize() {
	if c.Pool.Workers < 1 {
		c.Pool.Workers = 1
	}
	if c.Pool.MaxJobsPerWorker < 1 {
		c.Pool.MaxJobsPerWorker = 1
	}
	if c.Pool.QueueSize < 1 {
		c.Pool.QueueSize = 1
	}
	if c.Capture.PollInterval < 100*time.Millisecond {
		c.Capture.PollInterval = 100 * time.Millisecond
	}
	if c.Capture.ReadBuffer < 64 {
		c.Capture.ReadBuffer = 64
	}
	if c.Manager.CallbackTimeout <= 0 {
		c.Manager.CallbackTimeout = 30 * time.Second
	}
}
