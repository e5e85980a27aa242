package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENGINE_PORT", "")
	t.Setenv("WORKER_VARIANT", "")
	t.Setenv("JOB_MAX_ATTEMPTS", "")
	t.Setenv("ENGINE_ARGS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.EnginePort != 8188 {
		t.Fatalf("EnginePort mismatch: got %d want 8188", cfg.EnginePort)
	}
	if cfg.Variant != "flux1-schnell" {
		t.Fatalf("Variant mismatch: got %q", cfg.Variant)
	}
	if cfg.JobMaxAttempts != 120 || cfg.JobPollInterval != time.Second {
		t.Fatalf("poll budget mismatch: %d x %s", cfg.JobMaxAttempts, cfg.JobPollInterval)
	}
	if len(cfg.EngineArgs) != 1 || cfg.EngineArgs[0] != "main.py" {
		t.Fatalf("EngineArgs mismatch: %#v", cfg.EngineArgs)
	}
	if got := cfg.EngineBaseURL(); got != "http://127.0.0.1:8188" {
		t.Fatalf("EngineBaseURL mismatch: %s", got)
	}
}

func TestLoadConfigHonorsOverrides(t *testing.T) {
	t.Setenv("ENGINE_PORT", "9000")
	t.Setenv("ENGINE_HOST", "localhost")
	t.Setenv("ENGINE_ARGS", "main.py --lowvram")
	t.Setenv("JOB_POLL_INTERVAL_MS", "250")
	t.Setenv("HF_TOKEN", "  hf_secret ")
	t.Setenv("WARMUP", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if got := cfg.EngineBaseURL(); got != "http://localhost:9000" {
		t.Fatalf("EngineBaseURL mismatch: %s", got)
	}
	if len(cfg.EngineArgs) != 2 || cfg.EngineArgs[1] != "--lowvram" {
		t.Fatalf("EngineArgs mismatch: %#v", cfg.EngineArgs)
	}
	if cfg.JobPollInterval != 250*time.Millisecond {
		t.Fatalf("JobPollInterval mismatch: %s", cfg.JobPollInterval)
	}
	if cfg.HFToken != "hf_secret" {
		t.Fatalf("HFToken should be trimmed, got %q", cfg.HFToken)
	}
	if !cfg.Warmup {
		t.Fatalf("Warmup should be enabled")
	}
}

func TestLoadConfigFallsBackOnInvalidNumbers(t *testing.T) {
	t.Setenv("ENGINE_PORT", "not-a-port")
	t.Setenv("JOB_MAX_ATTEMPTS", "many")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.EnginePort != 8188 || cfg.JobMaxAttempts != 120 {
		t.Fatalf("expected defaults, got port=%d attempts=%d", cfg.EnginePort, cfg.JobMaxAttempts)
	}
}

func TestLoadConfigRejectsOutOfRangePort(t *testing.T) {
	t.Setenv("ENGINE_PORT", "70000")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for out of range port")
	}
}
