package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LACEDORE_API_KEY", "test-key")
	t.Setenv("FIREBASE_PROJECT_ID", "test-project")
	t.Setenv("FIREBASE_CREDS_FILE", "creds.json")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("unexpected port: %s", cfg.Port)
	}
	if cfg.LacedoreBaseURL != "http://lacedore.org:6789" {
		t.Fatalf("unexpected base url: %s", cfg.LacedoreBaseURL)
	}
	if cfg.ChunkSize != 50 {
		t.Fatalf("unexpected chunk size: %d", cfg.ChunkSize)
	}
	if cfg.PollBase != 2*time.Second || cfg.PollIncrement != time.Second || cfg.PollMax != 5*time.Second {
		t.Fatalf("unexpected poll settings: %v/%v/%v", cfg.PollBase, cfg.PollIncrement, cfg.PollMax)
	}
	if cfg.PollMaxAttempts != 60 {
		t.Fatalf("unexpected poll attempts cap: %d", cfg.PollMaxAttempts)
	}
	if cfg.ChunkPause != time.Second {
		t.Fatalf("unexpected chunk pause: %v", cfg.ChunkPause)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("VERIFY_CHUNK_SIZE", "10")
	t.Setenv("VERIFY_POLL_BASE", "500ms")
	t.Setenv("VERIFY_POLL_MAX", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChunkSize != 10 {
		t.Fatalf("unexpected chunk size: %d", cfg.ChunkSize)
	}
	if cfg.PollBase != 500*time.Millisecond || cfg.PollMax != 2*time.Second {
		t.Fatalf("unexpected poll settings: %v/%v", cfg.PollBase, cfg.PollMax)
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LACEDORE_API_KEY", "")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "LACEDORE_API_KEY") {
		t.Fatalf("expected api key error, got %v", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("VERIFY_POLL_BASE", "not-a-duration")

	if _, err := Load(); err == nil {
		t.Fatalf("expected duration parse error")
	}
}

func TestValidateRejectsIncoherentPollWindow(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("VERIFY_POLL_BASE", "10s")
	t.Setenv("VERIFY_POLL_MAX", "2s")

	if _, err := Load(); err == nil {
		t.Fatalf("expected poll window validation error")
	}
}
