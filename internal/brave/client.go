package brave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"deepresearch/backend/internal/config"
	"deepresearch/backend/internal/research"
)

const (
	EngineID          = "brave"
	maxErrorBodyBytes = 8 * 1024
	maxQueryWords     = 50
	maxCount          = 20
	defaultCount      = 5
)

var ErrMissingAPIKey = errors.New("brave api key is not configured")

type APIError struct {
	StatusCode int
	Body       string
	// RetryAfter is parsed from the Retry-After header of 429 responses.
	RetryAfter time.Duration
}

func (e APIError) Error() string {
	return fmt.Sprintf("brave returned %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed when repeated later.
func (e APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type searchAPIResponse struct {
	Web struct {
		Results []searchAPIResult `json:"results"`
	} `json:"web"`
	Results []searchAPIResult `json:"results"`
}

type searchAPIResult struct {
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Snippet       string   `json:"snippet"`
	ExtraSnippets []string `json:"extra_snippets"`
}

func NewClient(cfg config.Config, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return Client{
		apiKey:     strings.TrimSpace(cfg.BraveAPIKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BraveBaseURL), "/"),
		httpClient: httpClient,
	}
}

func (c Client) Name() string {
	return EngineID
}

// Configured reports whether an API key is present.
func (c Client) Configured() bool {
	return c.apiKey != ""
}

// Search runs one web search. Duplicate URLs are dropped and at most count
// hits are returned.
func (c Client) Search(ctx context.Context, query string, count int) ([]research.SearchHit, error) {
	if !c.Configured() {
		return nil, ErrMissingAPIKey
	}

	trimmedQuery := trimToWordLimit(query, maxQueryWords)
	if trimmedQuery == "" {
		return nil, nil
	}

	if count <= 0 {
		count = defaultCount
	}
	if count > maxCount {
		count = maxCount
	}

	endpoint, err := url.Parse(c.baseURL + "/web/search")
	if err != nil {
		return nil, fmt.Errorf("parse brave endpoint: %w", err)
	}

	params := endpoint.Query()
	params.Set("q", trimmedQuery)
	params.Set("count", strconv.Itoa(count))
	params.Set("spellcheck", "0")
	params.Set("text_decorations", "0")
	params.Set("extra_snippets", "1")
	endpoint.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build brave request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request brave: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var parsed searchAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode brave response: %w", err)
	}

	rawResults := parsed.Web.Results
	if len(rawResults) == 0 {
		rawResults = parsed.Results
	}
	return toHits(rawResults, count), nil
}

func toHits(rawResults []searchAPIResult, count int) []research.SearchHit {
	hits := make([]research.SearchHit, 0, len(rawResults))
	seenURLs := make(map[string]struct{}, len(rawResults))
	for _, item := range rawResults {
		rawURL := strings.TrimSpace(item.URL)
		if rawURL == "" {
			continue
		}
		if _, exists := seenURLs[rawURL]; exists {
			continue
		}
		seenURLs[rawURL] = struct{}{}

		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = rawURL
		}

		hits = append(hits, research.SearchHit{
			URL:     rawURL,
			Title:   title,
			Snippet: snippetOf(item),
		})
		if len(hits) >= count {
			break
		}
	}
	return hits
}

// snippetOf prefers the description and appends extra snippets until the text
// is long enough to judge relevance from.
func snippetOf(item searchAPIResult) string {
	parts := make([]string, 0, 1+len(item.ExtraSnippets))
	for _, candidate := range append([]string{item.Description, item.Snippet}, item.ExtraSnippets...) {
		trimmed := strings.TrimSpace(candidate)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
		if len(strings.Join(parts, " ")) >= 280 {
			break
		}
	}
	return strings.Join(parts, " ")
}

func parseRetryAfter(raw string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func trimToWordLimit(input string, maxWords int) string {
	if maxWords <= 0 {
		return ""
	}
	words := strings.Fields(strings.TrimSpace(input))
	if len(words) <= maxWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:maxWords], " ")
}
