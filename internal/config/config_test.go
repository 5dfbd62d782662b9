// internal/config/config_test.go
package config

import (
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestDefaults(t *testing.T) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("env.Parse: %v", err)
	}
	cfg.Sanitize()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.Pool.Workers != 5 {
		t.Errorf("Workers = %d, want 5", cfg.Pool.Workers)
	}
	if cfg.Pool.MaxJobsPerWorker != 100 {
		t.Errorf("MaxJobsPerWorker = %d, want 100", cfg.Pool.MaxJobsPerWorker)
	}
	if cfg.Capture.PollInterval != time.Second {
		t.Errorf("PollInterval = %v, want 1s", cfg.Capture.PollInterval)
	}
	if cfg.Capture.FFmpegPath != "ffmpeg" {
		t.Errorf("FFmpegPath = %q, want ffmpeg", cfg.Capture.FFmpegPath)
	}
	if cfg.Manager.CallbackTimeout != 30*time.Second {
		t.Errorf("CallbackTimeout = %v, want 30s", cfg.Manager.CallbackTimeout)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CAMKEEP_POOL_WORKERS", "2")
	t.Setenv("CAMKEEP_CAPTURE_POLL_INTERVAL", "250ms")
	t.Setenv("CAMKEEP_DVR_CAMERA_NAMES", "10.0.0.11:Gate,10.0.0.12:Loading dock")
	t.Setenv("CAMKEEP_STORAGE_DIR", "/srv/footage")

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("env.Parse: %v", err)
	}
	cfg.Sanitize()

	if cfg.Pool.Workers != 2 {
		t.Errorf("Workers = %d, want 2", cfg.Pool.Workers)
	}
	if cfg.Capture.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v, want 250ms", cfg.Capture.PollInterval)
	}
	if got := cfg.DVR.CameraNames["10.0.0.12"]; got != "Loading dock" {
		t.Errorf("CameraNames[10.0.0.12] = %q, want Loading dock", got)
	}
	if cfg.Manager.StorageDir != "/srv/footage" {
		t.Errorf("StorageDir = %q, want /srv/footage", cfg.Manager.StorageDir)
	}
}

func TestSanitizeClampsNonsense(t *testing.T) {
	cfg := Config{}
	cfg.Pool.Workers = -3
	cfg.Pool.MaxJobsPerWorker = 0
	cfg.Capture.PollInterval = time.Millisecond
	cfg.Manager.CallbackTimeout = -time.Second
	cfg.Sanitize()

	if cfg.Pool.Workers != 1 {
		t.Errorf("Workers = %d, want 1", cfg.Pool.Workers)
	}
	if cfg.Pool.MaxJobsPerWorker != 1 {
		t.Errorf("MaxJobsPerWorker = %d, want 1", cfg.Pool.MaxJobsPerWorker)
	}
	if cfg.Capture.PollInterval != 100*time.Millisecond {
		t.Errorf("PollInterval = %v, want 100ms", cfg.Capture.PollInterval)
	}
	if cfg.Manager.CallbackTimeout != 30*time.Second {
		t.Errorf("CallbackTimeout = %v, want 30s", cfg.Manager.CallbackTimeout)
	}
}
