package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"DATABASE_URL", "SEARCH_ENGINES", "LLM_PROVIDER", "ARCHIVE_BACKEND", "AUTH_REQUIRED",
		"CORS_ALLOWED_ORIGINS", "RESEARCH_MAX_ITERATIONS", "SEARCH_MIN_INTERVAL_MS", "FETCH_TIMEOUT_SECONDS",
	} {
		unsetIfSet(t, key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.DatabaseURL != "file:deepresearch.db" {
		t.Fatalf("unexpected default database url: %s", cfg.DatabaseURL)
	}
	if len(cfg.SearchEngines) != 1 || cfg.SearchEngines[0] != "brave" {
		t.Fatalf("unexpected default engines: %v", cfg.SearchEngines)
	}
	if cfg.OpenRouterBaseURL != "https://openrouter.ai/api/v1" {
		t.Fatalf("unexpected openrouter base url: %s", cfg.OpenRouterBaseURL)
	}
	if cfg.BraveBaseURL != "https://api.search.brave.com/res/v1" {
		t.Fatalf("unexpected brave base url: %s", cfg.BraveBaseURL)
	}
	if cfg.SearchMinInterval != 1100*time.Millisecond || cfg.FetchTimeout != 15*time.Second {
		t.Fatalf("unexpected timing defaults: %v / %v", cfg.SearchMinInterval, cfg.FetchTimeout)
	}
	if cfg.MaxIterations != 5 || cfg.ArchiveBackend != "none" || cfg.AuthRequired {
		t.Fatalf("unexpected research defaults: %+v", cfg)
	}
	if cfg.ListenAddress() != ":8080" {
		t.Fatalf("unexpected listen address: %s", cfg.ListenAddress())
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("SEARCH_ENGINES", " Brave, duckduckgo ,")
	t.Setenv("RESEARCH_REQUIRE_BROWSE_APPROVAL", "true")
	t.Setenv("RESEARCH_MAX_ITERATIONS", "3")
	t.Setenv("GENERATION_TIMEOUT_SECONDS", "45")
	t.Setenv("LLM_PROVIDER", "OpenAI")
	t.Setenv("FETCH_CACHE_TTL_SECONDS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.SearchEngines) != 2 || cfg.SearchEngines[0] != "brave" || cfg.SearchEngines[1] != "duckduckgo" {
		t.Fatalf("unexpected engines: %v", cfg.SearchEngines)
	}
	if !cfg.RequireBrowseApproval || cfg.MaxIterations != 3 || cfg.GenerationTimeout != 45*time.Second {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.LLMProvider != "openai" {
		t.Fatalf("expected lowercased provider, got %s", cfg.LLMProvider)
	}
	if cfg.FetchCacheTTL != 30*time.Minute {
		t.Fatalf("expected malformed value to fall back, got %v", cfg.FetchCacheTTL)
	}
}

func TestLoadRequiresGoogleClientIDWhenAuthRequired(t *testing.T) {
	t.Setenv("AUTH_REQUIRED", "true")
	t.Setenv("GOOGLE_CLIENT_ID", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when GOOGLE_CLIENT_ID is missing")
	}
}

func TestLoadRequiresTokenForLibsqlURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "libsql://research.example.turso.io")
	t.Setenv("DATABASE_AUTH_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_AUTH_TOKEN is missing")
	}
}

func TestValidateRejectsUnknownBackends(t *testing.T) {
	t.Setenv("ARCHIVE_BACKEND", "gcs")
	t.Setenv("GCS_BUCKET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for gcs archive without bucket")
	}

	t.Setenv("ARCHIVE_BACKEND", "none")
	t.Setenv("LLM_PROVIDER", "anthropic")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func unsetIfSet(t *testing.T, key string) {
	t.Helper()
	if value, ok := os.LookupEnv(key); ok {
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset env %s: %v", key, err)
		}
		t.Cleanup(func() { _ = os.Setenv(key, value) })
	}
}
