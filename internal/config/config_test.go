package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8000" {
		t.Errorf("port = %q", cfg.Port)
	}
	if cfg.QueueStream != "events" || cfg.DeadLetterStream != "events:dead" {
		t.Errorf("streams = %q / %q", cfg.QueueStream, cfg.DeadLetterStream)
	}
	if cfg.ModelTimeout != 120*time.Second {
		t.Errorf("model timeout = %v", cfg.ModelTimeout)
	}
	if cfg.PromptBudget != 12000 {
		t.Errorf("prompt budget = %d", cfg.PromptBudget)
	}
	if cfg.ThoughtRetention != 0 {
		t.Errorf("retention = %v, want disabled by default", cfg.ThoughtRetention)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ACCESS_KEY", "secret")
	t.Setenv("MODEL_MAX_RETRIES", "5")
	t.Setenv("BACKOFF_INITIAL", "500ms")
	t.Setenv("THOUGHT_RETENTION", "720h")

	cfg := Load()

	if cfg.Port != "9000" {
		t.Errorf("port = %q", cfg.Port)
	}
	if cfg.AccessKey != "secret" {
		t.Errorf("access key = %q", cfg.AccessKey)
	}
	if cfg.ModelMaxRetries != 5 {
		t.Errorf("retries = %d", cfg.ModelMaxRetries)
	}
	if cfg.BackoffInitial != 500*time.Millisecond {
		t.Errorf("backoff = %v", cfg.BackoffInitial)
	}
	if cfg.ThoughtRetention != 720*time.Hour {
		t.Errorf("retention = %v", cfg.ThoughtRetention)
	}
}

func TestLoadIgnoresUnparseableValues(t *testing.T) {
	t.Setenv("MODEL_MAX_RETRIES", "many")
	t.Setenv("MODEL_TIMEOUT", "soon")

	cfg := Load()

	if cfg.ModelMaxRetries != 3 {
		t.Errorf("retries = %d, want default on parse failure", cfg.ModelMaxRetries)
	}
	if cfg.ModelTimeout != 120*time.Second {
		t.Errorf("timeout = %v, want default on parse failure", cfg.ModelTimeout)
	}
}
