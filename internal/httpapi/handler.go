package httpapi

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"deepresearch/backend/internal/auth"
	"deepresearch/backend/internal/config"
	"deepresearch/backend/internal/events"
	"deepresearch/backend/internal/openrouter"
	"deepresearch/backend/internal/store"
)

type tokenVerifier interface {
	Verify(ctx context.Context, idToken string) (auth.Identity, error)
}

type modelLister interface {
	ListModels(ctx context.Context) ([]openrouter.Model, error)
}

type Handler struct {
	cfg      config.Config
	runs     *RunManager
	store    *store.Store
	broker   *events.Broker
	verifier tokenVerifier
	models   modelLister
	logger   *zap.Logger
}

// NewHandler builds the API handler. models may be nil when the configured
// provider has no model catalog.
func NewHandler(cfg config.Config, runs *RunManager, broker *events.Broker, verifier tokenVerifier, models modelLister, logger *zap.Logger) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Handler{
		cfg:      cfg,
		runs:     runs,
		store:    runs.services.Store,
		broker:   broker,
		verifier: verifier,
		models:   models,
		logger:   logger,
	}
}

type contextKey string

const identityContextKey contextKey = "identity"

func (h Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	if h.models == nil {
		writeError(w, http.StatusNotFound, "models_unavailable", "the configured provider has no model catalog")
		return
	}
	models, err := h.models.ListModels(r.Context())
	if err != nil {
		h.logger.Warn("list models failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream_error", "failed to list models")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models, "defaultModel": h.cfg.LLMModel})
}

// RequireAuth verifies a Google ID token sent as a bearer token. Browsers'
// EventSource cannot set headers, so the token may also come as access_token.
func (h Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.cfg.AuthRequired {
			next.ServeHTTP(w, r)
			return
		}

		token := auth.BearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("access_token")
		}
		identity, err := h.verifier.Verify(r.Context(), token)
		if errors.Is(err, auth.ErrMissingToken) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityContextKey, identity)))
	})
}

func identityFromContext(ctx context.Context) (auth.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(auth.Identity)
	return identity, ok
}
