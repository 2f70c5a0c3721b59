package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"deepresearch/backend/internal/app"
	"deepresearch/backend/internal/auth"
	"deepresearch/backend/internal/config"
	"deepresearch/backend/internal/db"
	"deepresearch/backend/internal/events"
	"deepresearch/backend/internal/httpapi"
	"deepresearch/backend/internal/llm"
	"deepresearch/backend/internal/logging"
	"deepresearch/backend/internal/openrouter"
)

func main() {
	config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{FilePath: cfg.LogFile, Level: cfg.LogLevel, Production: cfg.IsProduction()})
	if err != nil {
		_, _ = os.Stderr.WriteString("init logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.Migrate(ctx, database); err != nil {
		return err
	}

	services, err := app.New(ctx, cfg, database, logger)
	if err != nil {
		return err
	}

	var models interface {
		ListModels(ctx context.Context) ([]openrouter.Model, error)
	}
	if cfg.LLMProvider == llm.ProviderOpenRouter {
		models = openrouter.NewClient(cfg, nil, logger.Named("openrouter"))
	}

	broker := events.NewBroker()
	runs := httpapi.NewRunManager(services, broker, logger.Named("runs"))
	handler := httpapi.NewHandler(cfg, runs, broker, auth.NewVerifier(cfg), models, logger.Named("http"))

	srv := &http.Server{
		Addr:        cfg.ListenAddress(),
		Handler:     httpapi.NewRouter(handler),
		ReadTimeout: 15 * time.Second,
		// Event streams stay open for the whole run.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("api listening",
			zap.String("addr", cfg.ListenAddress()),
			zap.Strings("engines", services.Engines),
			zap.String("llm_provider", cfg.LLMProvider),
			zap.String("llm_model", cfg.LLMModel),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := runs.Shutdown(shutdownCtx); err != nil {
		logger.Warn("research runs did not stop in time", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	return nil
}
