package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepresearch/backend/internal/brave"
	"deepresearch/backend/internal/config"
	"deepresearch/backend/internal/research"
)

type recordingEngine struct {
	name string
	err  error

	mu        sync.Mutex
	queries   []string
	callTimes []time.Time
}

func (e *recordingEngine) Name() string { return e.name }

func (e *recordingEngine) Search(_ context.Context, query string, count int) ([]research.SearchHit, error) {
	e.mu.Lock()
	e.queries = append(e.queries, query)
	e.callTimes = append(e.callTimes, time.Now())
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return []research.SearchHit{{URL: "https://" + e.name + ".example/" + query, Title: query}}, nil
}

func (e *recordingEngine) times() []time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]time.Time{}, e.callTimes...)
}

func TestRegistryRoutesByEngineID(t *testing.T) {
	braveEngine := &recordingEngine{name: "brave"}
	ddg := &recordingEngine{name: "duckduckgo"}
	registry := NewRegistry(nil, braveEngine, ddg)

	hits, err := registry.Search(context.Background(), "nacs", " DuckDuckGo ", 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "https://duckduckgo.example/nacs", hits[0].URL)
	assert.Empty(t, braveEngine.queries)
	assert.Equal(t, []string{"brave", "duckduckgo"}, registry.Engines())

	_, err = registry.Search(context.Background(), "nacs", "bing", 3)
	assert.Error(t, err)
}

func TestNewRejectsUnknownOrUnconfiguredEngines(t *testing.T) {
	_, err := New(config.Config{SearchEngines: []string{"brave"}}, nil, nil)
	assert.ErrorIs(t, err, brave.ErrMissingAPIKey)

	_, err = New(config.Config{SearchEngines: []string{"altavista"}}, nil, nil)
	assert.Error(t, err)

	registry, err := New(config.Config{SearchEngines: []string{"duckduckgo"}, SearchMinInterval: time.Second, SearchCacheTTL: time.Minute}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"duckduckgo"}, registry.Engines())
}

func TestRateLimitedAppliesMinimumSpacing(t *testing.T) {
	engine := &recordingEngine{name: "brave"}
	limited := NewRateLimited(engine, 40*time.Millisecond)

	_, err := limited.Search(context.Background(), "one", 5)
	require.NoError(t, err)
	_, err = limited.Search(context.Background(), "two", 5)
	require.NoError(t, err)

	calls := engine.times()
	require.Len(t, calls, 2)
	assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), 35*time.Millisecond)
}

func TestRateLimitedHonorsContextCancel(t *testing.T) {
	engine := &recordingEngine{name: "brave"}
	limited := NewRateLimited(engine, 120*time.Millisecond)

	_, err := limited.Search(context.Background(), "first", 5)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()
	_, err = limited.Search(ctx, "second", 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, engine.times(), 1)
}

func TestRateLimitedDisabledReturnsInner(t *testing.T) {
	engine := &recordingEngine{name: "brave"}
	assert.Same(t, engine, NewRateLimited(engine, 0))
}

func TestCachedReusesSuccessfulSearches(t *testing.T) {
	engine := &recordingEngine{name: "brave"}
	cached := NewCached(engine, time.Minute)

	first, err := cached.Search(context.Background(), "NACS  adoption", 5)
	require.NoError(t, err)
	second, err := cached.Search(context.Background(), "nacs adoption", 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, engine.queries, 1)

	_, err = cached.Search(context.Background(), "nacs adoption", 8)
	require.NoError(t, err)
	assert.Len(t, engine.queries, 2, "different counts are cached separately")
}

func TestCachedSkipsFailures(t *testing.T) {
	engine := &recordingEngine{name: "brave", err: errors.New("quota")}
	cached := NewCached(engine, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := cached.Search(context.Background(), "q", 5)
		require.Error(t, err)
	}
	assert.Len(t, engine.queries, 2)
}

const duckDuckGoPage = `<html><body>
<div class="result results_links">
  <h2 class="result__title"><a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fwww.sae.org%2Fstandards%2Fj3400&amp;rut=abc">SAE <b>J3400</b> Standard</a></h2>
  <a class="result__snippet" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fwww.sae.org%2Fstandards%2Fj3400">The North American Charging <b>Standard</b>.</a>
</div>
<div class="result result--ad">
  <a class="result__a" href="https://duckduckgo.com/y.js?ad_domain=ads.example">Sponsored</a>
  <a class="result__snippet">Buy now</a>
</div>
<div class="result">
  <a class="result__a" href="https://example.com/direct">Direct link</a>
</div>
<div class="result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fwww.sae.org%2Fstandards%2Fj3400">Duplicate</a>
</div>
<div class="result">
  <a class="result__a" href="https://example.com/third">Third</a>
  <a class="result__snippet">Third snippet</a>
</div>
</body></html>`

func TestDuckDuckGoParsesResults(t *testing.T) {
	var receivedQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedQuery = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(duckDuckGoPage))
	}))
	defer server.Close()

	engine := NewDuckDuckGo(server.Client(), server.URL+"/html/")
	hits, err := engine.Search(context.Background(), " nacs   standard ", 2)
	require.NoError(t, err)

	assert.Equal(t, "nacs standard", receivedQuery)
	require.Len(t, hits, 2)
	assert.Equal(t, "https://www.sae.org/standards/j3400", hits[0].URL)
	assert.Equal(t, "SAE J3400 Standard", hits[0].Title)
	assert.Equal(t, "The North American Charging Standard .", hits[0].Snippet)
	assert.Equal(t, "https://example.com/direct", hits[1].URL)
	assert.Empty(t, hits[1].Snippet)
}

func TestDuckDuckGoUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := NewDuckDuckGo(server.Client(), server.URL).Search(context.Background(), "q", 3)
	assert.ErrorContains(t, err, "duckduckgo returned 403")
}

func TestUnwrapRedirect(t *testing.T) {
	assert.Equal(t, "https://a.example/x?y=1", unwrapRedirect("//duckduckgo.com/l/?uddg=https%3A%2F%2Fa.example%2Fx%3Fy%3D1"))
	assert.Equal(t, "", unwrapRedirect("//duckduckgo.com/l/?kh=1"))
	assert.Equal(t, "", unwrapRedirect("javascript:void(0)"))
	assert.Equal(t, "http://b.example/", unwrapRedirect("http://b.example/"))
}
