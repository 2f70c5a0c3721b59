package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"deepresearch/backend/internal/config"
	"deepresearch/backend/internal/db"
)

// loadConfig reads the environment configuration and layers config file
// values, DEEPRESEARCH_* variables and bound flags on top of it.
func loadConfig(v *viper.Viper) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	cfg = applyOverrides(cfg, v)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func applyOverrides(cfg config.Config, v *viper.Viper) config.Config {
	if value := strings.TrimSpace(v.GetString("provider")); value != "" {
		cfg.LLMProvider = strings.ToLower(value)
	}
	if value := strings.TrimSpace(v.GetString("model")); value != "" {
		cfg.LLMModel = value
	}
	if value := strings.TrimSpace(v.GetString("base-url")); value != "" {
		cfg.LLMBaseURL = value
	}
	if engines := splitList(v.GetString("engines")); len(engines) > 0 {
		cfg.SearchEngines = engines
	}
	if value := v.GetInt("max-iterations"); value > 0 {
		cfg.MaxIterations = value
	}
	if value := v.GetInt("max-pages"); value > 0 {
		cfg.MaxPagesPerIteration = value
	}
	if value := strings.TrimSpace(v.GetString("db")); value != "" {
		cfg.DatabaseURL = value
	}
	if value := strings.TrimSpace(v.GetString("log-level")); value != "" {
		cfg.LogLevel = strings.ToLower(value)
	}
	if value := strings.TrimSpace(v.GetString("log-file")); value != "" {
		cfg.LogFile = value
	}
	if value := strings.TrimSpace(v.GetString("archive.backend")); value != "" {
		cfg.ArchiveBackend = strings.ToLower(value)
	}
	if value := strings.TrimSpace(v.GetString("archive.dir")); value != "" {
		cfg.ArchiveDir = value
	}
	if value := strings.TrimSpace(v.GetString("archive.bucket")); value != "" {
		cfg.GCSBucket = value
	}
	return cfg
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.ToLower(strings.TrimSpace(item)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func openDatabase(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	database, err := db.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, database); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("migrate %s: %w", cfg.DatabaseURL, err)
	}
	return database, nil
}
