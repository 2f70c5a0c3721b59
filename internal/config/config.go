package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultPort              = "8080"
	defaultDatabaseURL       = "file:deepresearch.db"
	defaultBraveBaseURL      = "https://api.search.brave.com/res/v1"
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	defaultLLMProvider       = "openrouter"
	defaultLLMModel          = "openrouter/free"
	defaultLLMMaxRetries     = 2
	defaultSearchIntervalMS  = 1100
	defaultSearchCacheTTL    = 600
	defaultFetchCacheTTL     = 1800
	defaultFetchMaxBytes     = 2 << 20
	defaultMaxIterations     = 5
	defaultMaxPages          = 3
	defaultSearchTimeoutSecs = 20
	defaultFetchTimeoutSecs  = 15
	defaultGenTimeoutSecs    = 90
	defaultArchiveDir        = "./archive"
	defaultLogLevel          = "info"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	AuthRequired   bool
	GoogleClientID string

	DatabaseURL       string
	DatabaseAuthToken string

	BraveAPIKey       string
	BraveBaseURL      string
	SearchEngines     []string
	SearchMinInterval time.Duration
	SearchCacheTTL    time.Duration
	SearchTimeout     time.Duration

	FetchTimeout  time.Duration
	FetchMaxBytes int64
	FetchCacheTTL time.Duration

	GenerationTimeout  time.Duration
	LLMProvider        string
	LLMModel           string
	LLMBaseURL         string
	LLMReasoningEffort string
	LLMMaxRetries      int
	OpenRouterAPIKey   string
	OpenRouterBaseURL  string
	OpenAIAPIKey       string

	MaxIterations           int
	MaxPagesPerIteration    int
	RequireBrowseApproval   bool
	RequireContinueApproval bool
	RunTimeout              time.Duration

	LogFile  string
	LogLevel string

	ArchiveBackend string
	ArchiveDir     string
	GCSBucket      string
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// LoadDotEnv loads an optional .env file from the working directory.
func LoadDotEnv() {
	_ = godotenv.Load()
}

func Load() (Config, error) {
	cfg := Config{
		Port:                    envOrDefault("PORT", defaultPort),
		Environment:             envOrDefault("APP_ENV", "development"),
		AuthRequired:            boolOrDefault("AUTH_REQUIRED", false),
		GoogleClientID:          strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID")),
		DatabaseURL:             envOrDefault("DATABASE_URL", defaultDatabaseURL),
		DatabaseAuthToken:       strings.TrimSpace(os.Getenv("DATABASE_AUTH_TOKEN")),
		BraveAPIKey:             strings.TrimSpace(os.Getenv("BRAVE_API_KEY")),
		BraveBaseURL:            envOrDefault("BRAVE_BASE_URL", defaultBraveBaseURL),
		SearchEngines:           parseList(envOrDefault("SEARCH_ENGINES", "brave")),
		SearchMinInterval:       time.Duration(intOrDefault("SEARCH_MIN_INTERVAL_MS", defaultSearchIntervalMS)) * time.Millisecond,
		SearchCacheTTL:          secondsOrDefault("SEARCH_CACHE_TTL_SECONDS", defaultSearchCacheTTL),
		SearchTimeout:           secondsOrDefault("SEARCH_TIMEOUT_SECONDS", defaultSearchTimeoutSecs),
		FetchTimeout:            secondsOrDefault("FETCH_TIMEOUT_SECONDS", defaultFetchTimeoutSecs),
		FetchMaxBytes:           int64(intOrDefault("FETCH_MAX_BYTES", defaultFetchMaxBytes)),
		FetchCacheTTL:           secondsOrDefault("FETCH_CACHE_TTL_SECONDS", defaultFetchCacheTTL),
		GenerationTimeout:       secondsOrDefault("GENERATION_TIMEOUT_SECONDS", defaultGenTimeoutSecs),
		LLMProvider:             strings.ToLower(envOrDefault("LLM_PROVIDER", defaultLLMProvider)),
		LLMModel:                envOrDefault("LLM_MODEL", defaultLLMModel),
		LLMBaseURL:              strings.TrimSpace(os.Getenv("LLM_BASE_URL")),
		LLMReasoningEffort:      strings.TrimSpace(os.Getenv("LLM_REASONING_EFFORT")),
		LLMMaxRetries:           intOrDefault("LLM_MAX_RETRIES", defaultLLMMaxRetries),
		OpenRouterAPIKey:        strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")),
		OpenRouterBaseURL:       envOrDefault("OPENROUTER_BASE_URL", defaultOpenRouterBaseURL),
		OpenAIAPIKey:            strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		MaxIterations:           intOrDefault("RESEARCH_MAX_ITERATIONS", defaultMaxIterations),
		MaxPagesPerIteration:    intOrDefault("RESEARCH_MAX_PAGES_PER_ITERATION", defaultMaxPages),
		RequireBrowseApproval:   boolOrDefault("RESEARCH_REQUIRE_BROWSE_APPROVAL", false),
		RequireContinueApproval: boolOrDefault("RESEARCH_REQUIRE_CONTINUE_APPROVAL", false),
		RunTimeout:              secondsOrDefault("RESEARCH_RUN_TIMEOUT_SECONDS", 0),
		LogFile:                 strings.TrimSpace(os.Getenv("LOG_FILE")),
		LogLevel:                strings.ToLower(envOrDefault("LOG_LEVEL", defaultLogLevel)),
		ArchiveBackend:          strings.ToLower(envOrDefault("ARCHIVE_BACKEND", "none")),
		ArchiveDir:              envOrDefault("ARCHIVE_DIR", defaultArchiveDir),
		GCSBucket:               strings.TrimSpace(os.Getenv("GCS_BUCKET")),
	}

	origins := parseList(envOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:4173"))
	if len(origins) == 0 {
		return Config{}, errors.New("CORS_ALLOWED_ORIGINS must include at least one origin")
	}
	cfg.AllowedOrigins = origins

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the cross-field rules shared by the API server and the CLI.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("DATABASE_URL must not be empty")
	}
	if strings.HasPrefix(c.DatabaseURL, "libsql://") && c.DatabaseAuthToken == "" {
		return errors.New("DATABASE_AUTH_TOKEN is required for libsql:// URLs")
	}
	if len(c.SearchEngines) == 0 {
		return errors.New("SEARCH_ENGINES must include at least one engine")
	}
	switch c.LLMProvider {
	case "openrouter", "openai":
	default:
		return fmt.Errorf("LLM_PROVIDER must be openrouter or openai, got %q", c.LLMProvider)
	}
	switch c.ArchiveBackend {
	case "none", "local":
	case "gcs":
		if c.GCSBucket == "" {
			return errors.New("GCS_BUCKET is required when ARCHIVE_BACKEND=gcs")
		}
	default:
		return fmt.Errorf("ARCHIVE_BACKEND must be none, local or gcs, got %q", c.ArchiveBackend)
	}
	if c.AuthRequired && c.GoogleClientID == "" {
		return errors.New("GOOGLE_CLIENT_ID is required when AUTH_REQUIRED=true")
	}
	if c.MaxIterations <= 0 || c.MaxPagesPerIteration <= 0 {
		return errors.New("RESEARCH_MAX_ITERATIONS and RESEARCH_MAX_PAGES_PER_ITERATION must be > 0")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func boolOrDefault(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func intOrDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func secondsOrDefault(key string, fallback int) time.Duration {
	return time.Duration(intOrDefault(key, fallback)) * time.Second
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.ToLower(strings.TrimSpace(item))
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
