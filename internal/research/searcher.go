package research

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultSearchTimeout    = 30 * time.Second
	defaultSearchMaxResults = 8
	queryJoiner             = " OR "
)

// Search result pages and login-walled social feeds carry no evidence of their own.
var defaultDeniedHosts = []string{
	"google.com",
	"bing.com",
	"duckduckgo.com",
	"search.yahoo.com",
	"yandex.com",
	"yandex.ru",
	"baidu.com",
	"search.brave.com",
	"facebook.com",
	"instagram.com",
	"twitter.com",
	"x.com",
	"tiktok.com",
	"linkedin.com",
	"pinterest.com",
	"threads.net",
}

type SearcherConfig struct {
	Timeout       time.Duration
	DeniedHosts   []string
	DefaultEngine string
}

type WebSearcher struct {
	executor      SearchExecutor
	timeout       time.Duration
	deniedHosts   []string
	defaultEngine string
	logger        *zap.Logger
}

func NewWebSearcher(executor SearchExecutor, cfg SearcherConfig, logger *zap.Logger) WebSearcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSearchTimeout
	}
	denied := normalizeEngineIDs(cfg.DeniedHosts)
	if len(denied) == 0 {
		denied = defaultDeniedHosts
	}
	return WebSearcher{
		executor:      executor,
		timeout:       timeout,
		deniedHosts:   denied,
		defaultEngine: strings.ToLower(strings.TrimSpace(cfg.DefaultEngine)),
		logger:        logger,
	}
}

// Search runs the joined queries on one engine. It never returns an error:
// adapter failures and timeouts produce a task with status failed.
func (s WebSearcher) Search(ctx context.Context, queries []string, engine string, maxResults int) SearchTask {
	query := strings.Join(dedupeQueries(queries), queryJoiner)
	engine = strings.ToLower(strings.TrimSpace(engine))
	if engine == "" {
		engine = s.defaultEngine
	}
	if maxResults <= 0 {
		maxResults = defaultSearchMaxResults
	}

	task := SearchTask{
		ID:        newID("search"),
		Query:     query,
		Engine:    engine,
		Status:    TaskRunning,
		Results:   []SearchResult{},
		StartedAt: time.Now().UTC(),
	}

	fail := func(err error) SearchTask {
		task.Status = TaskFailed
		task.Error = err.Error()
		task.CompletedAt = time.Now().UTC()
		s.logger.Warn("search failed", zap.String("engine", engine), zap.String("query", query), zap.Error(err))
		return task
	}

	if query == "" {
		return fail(errors.New("no search queries"))
	}
	if s.executor == nil {
		return fail(errors.New("search executor unavailable"))
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	hits, err := s.executor.Search(callCtx, query, engine, maxResults)
	if err == nil && callCtx.Err() != nil {
		err = callCtx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = errors.New("search timed out after " + s.timeout.String())
		}
		return fail(err)
	}

	for _, hit := range hits {
		rawURL := strings.TrimSpace(hit.URL)
		if rawURL == "" {
			continue
		}
		title := strings.TrimSpace(hit.Title)
		if title == "" {
			title = rawURL
		}
		task.Results = append(task.Results, SearchResult{
			Title:   title,
			URL:     rawURL,
			Snippet: strings.TrimSpace(hit.Snippet),
			Engine:  engine,
			Rank:    len(task.Results) + 1,
		})
		if len(task.Results) >= maxResults {
			break
		}
	}
	task.Status = TaskCompleted
	task.CompletedAt = time.Now().UTC()
	return task
}

// SearchEngines issues one concurrent Search per engine and waits for all of
// them. Tasks come back in engine order.
func (s WebSearcher) SearchEngines(ctx context.Context, queries []string, engines []string, maxResults int) []SearchTask {
	engines = normalizeEngineIDs(engines)
	if len(engines) == 0 {
		engines = []string{s.defaultEngine}
	}

	tasks := make([]SearchTask, len(engines))
	var wg sync.WaitGroup
	for i, engine := range engines {
		wg.Add(1)
		go func(i int, engine string) {
			defer wg.Done()
			tasks[i] = s.Search(ctx, queries, engine, maxResults)
		}(i, engine)
	}
	wg.Wait()
	return tasks
}

// FilterResults drops non-http(s) URLs and hosts on the denylist.
func (s WebSearcher) FilterResults(results []SearchResult) []SearchResult {
	out := make([]SearchResult, 0, len(results))
	for _, result := range results {
		parsed, err := url.Parse(strings.TrimSpace(result.URL))
		if err != nil {
			continue
		}
		scheme := strings.ToLower(parsed.Scheme)
		if scheme != "http" && scheme != "https" {
			continue
		}
		host := strings.ToLower(parsed.Hostname())
		if host == "" || s.isDenied(host) {
			continue
		}
		out = append(out, result)
	}
	return out
}

func (s WebSearcher) isDenied(host string) bool {
	host = strings.TrimPrefix(host, "www.")
	for _, denied := range s.deniedHosts {
		if host == denied || strings.HasSuffix(host, "."+denied) {
			return true
		}
	}
	return false
}

// MergeResults flattens tasks, orders by ascending rank and keeps the first
// result per normalized URL. Equal ranks keep task order.
func MergeResults(tasks []SearchTask) []SearchResult {
	all := make([]SearchResult, 0)
	for _, task := range tasks {
		all = append(all, task.Results...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Rank < all[j].Rank
	})

	seen := make(map[string]struct{}, len(all))
	merged := make([]SearchResult, 0, len(all))
	for _, result := range all {
		key := NormalizeURL(result.URL)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, result)
	}
	return merged
}

// NormalizeURL returns the dedup key for raw: lowercase host without a leading
// "www." followed by the path without trailing slashes. Scheme, query and
// fragment are ignored, so the key is stable under re-normalization.
func NormalizeURL(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	if !strings.Contains(value, "://") {
		value = "http://" + value
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return ""
	}
	return host + strings.TrimRight(parsed.EscapedPath(), "/")
}

func normalizeEngineIDs(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range dedupeStrings(values) {
		out = append(out, strings.ToLower(value))
	}
	return dedupeStrings(out)
}
