package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"DB_DSN", "CONTEXT_MAX_TOKENS", "CONTEXT_RESERVE_TOKENS", "TITLE_GENERATION", "FLIGHT_TTL", "MODEL_CONTEXT_LIMITS"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ContextMaxTokens != 4097 {
		t.Fatalf("max tokens = %d, want 4097", cfg.ContextMaxTokens)
	}
	if cfg.ContextReserveTokens != 410 {
		t.Fatalf("reserve = %d, want 410", cfg.ContextReserveTokens)
	}
	if cfg.TitleGeneration != TitleInline {
		t.Fatalf("title mode = %q", cfg.TitleGeneration)
	}
	if cfg.FlightTTL != 3*time.Minute {
		t.Fatalf("flight ttl = %s", cfg.FlightTTL)
	}
	if cfg.DBDSN == "" {
		t.Fatalf("expected default dsn")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CONTEXT_MAX_TOKENS", "8192")
	t.Setenv("TITLE_GENERATION", "QUEUE")
	t.Setenv("CONTEXT_COUNT_SYSTEM", "true")
	t.Setenv("MODEL_CONTEXT_LIMITS", "gpt-4=8192, gpt-4-32k=32768")
	t.Setenv("WORKER_CONCURRENCY", "500")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ContextMaxTokens != 8192 {
		t.Fatalf("max tokens = %d", cfg.ContextMaxTokens)
	}
	if cfg.TitleGeneration != TitleQueue {
		t.Fatalf("title mode = %q", cfg.TitleGeneration)
	}
	if !cfg.CountSystemMessage {
		t.Fatalf("expected system message counting")
	}
	if cfg.ModelContextLimits["gpt-4-32k"] != 32768 {
		t.Fatalf("limits = %v", cfg.ModelContextLimits)
	}
	if cfg.WorkerConcurrency != 50 {
		t.Fatalf("concurrency = %d, want clamp to 50", cfg.WorkerConcurrency)
	}
}

func TestParseModelLimits_Invalid(t *testing.T) {
	for _, in := range []string{"gpt-4", "gpt-4=abc", "gpt-4=-1"} {
		if _, err := ParseModelLimits(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestLoad_RejectsMalformedModelLimits(t *testing.T) {
	t.Setenv("MODEL_CONTEXT_LIMITS", "gpt-4=8192,gpt-4-32k")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "MODEL_CONTEXT_LIMITS") {
		t.Fatalf("expected MODEL_CONTEXT_LIMITS error, got %v", err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("CHATVAULT_TEST_KEY=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("CHATVAULT_TEST_KEY", "")
	os.Unsetenv("CHATVAULT_TEST_KEY")
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("CHATVAULT_TEST_KEY"); got != "from-file" {
		t.Fatalf("env = %q", got)
	}
}
