package search

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"deepresearch/backend/internal/brave"
	"deepresearch/backend/internal/config"
	"deepresearch/backend/internal/research"
)

// Engine is one web search backend.
type Engine interface {
	Name() string
	Search(ctx context.Context, query string, count int) ([]research.SearchHit, error)
}

// Registry routes searches to engines by id.
type Registry struct {
	engines map[string]Engine
	logger  *zap.Logger
}

func NewRegistry(logger *zap.Logger, engines ...Engine) Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	byName := make(map[string]Engine, len(engines))
	for _, engine := range engines {
		if engine == nil {
			continue
		}
		byName[strings.ToLower(engine.Name())] = engine
	}
	return Registry{engines: byName, logger: logger}
}

// New builds the registry for the configured engines, each wrapped in a rate
// limiter and a result cache.
func New(cfg config.Config, httpClient *http.Client, logger *zap.Logger) (Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	engines := make([]Engine, 0, len(cfg.SearchEngines))
	for _, name := range cfg.SearchEngines {
		var engine Engine
		switch name {
		case brave.EngineID:
			client := brave.NewClient(cfg, httpClient)
			if !client.Configured() {
				return Registry{}, fmt.Errorf("search engine %q: %w", name, brave.ErrMissingAPIKey)
			}
			engine = client
		case DuckDuckGoID:
			engine = NewDuckDuckGo(httpClient, "")
		default:
			return Registry{}, fmt.Errorf("unknown search engine %q", name)
		}
		engine = NewRateLimited(engine, cfg.SearchMinInterval)
		engine = NewCached(engine, cfg.SearchCacheTTL)
		engines = append(engines, engine)
	}
	return NewRegistry(logger, engines...), nil
}

// Engines lists the registered engine ids in sorted order.
func (r Registry) Engines() []string {
	out := make([]string, 0, len(r.engines))
	for name := range r.engines {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r Registry) Search(ctx context.Context, query, engineID string, maxResults int) ([]research.SearchHit, error) {
	engine, ok := r.engines[strings.ToLower(strings.TrimSpace(engineID))]
	if !ok {
		return nil, fmt.Errorf("search engine %q is not configured", engineID)
	}
	hits, err := engine.Search(ctx, query, maxResults)
	if err != nil {
		r.logger.Warn("search failed", zap.String("engine", engine.Name()), zap.Error(err))
		return nil, err
	}
	r.logger.Debug("search completed", zap.String("engine", engine.Name()), zap.Int("hits", len(hits)))
	return hits, nil
}
