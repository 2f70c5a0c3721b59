package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"deepresearch/backend/internal/research"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBytes     = int64(1_500_000)
	defaultMaxRedirects = 3
	defaultMaxTextRunes = 16_000
	defaultUserAgent    = "deepresearch-reader/1.0"
)

var ErrEmptyContent = errors.New("extracted content is empty")

type Config struct {
	RequestTimeout time.Duration
	MaxBytes       int64
	MaxRedirects   int
	MaxTextRunes   int
	UserAgent      string
}

// Result describes one retrieval attempt, successful or not.
type Result struct {
	URL         string    `json:"url"`
	FinalURL    string    `json:"finalUrl"`
	Title       string    `json:"title"`
	Text        string    `json:"text"`
	ContentType string    `json:"contentType"`
	Status      string    `json:"status"`
	Truncated   bool      `json:"truncated"`
	FetchedAt   time.Time `json:"fetchedAt"`
}

// HTTPReader fetches public web pages and reduces them to text. It implements
// research.PageFetcher.
type HTTPReader struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

func NewHTTPReader(cfg Config, httpClient *http.Client, logger *zap.Logger) *HTTPReader {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	if cfg.MaxTextRunes <= 0 {
		cfg.MaxTextRunes = defaultMaxTextRunes
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = nil
		transport.DialContext = (&net.Dialer{Timeout: cfg.RequestTimeout, Control: refuseNonPublic}).DialContext
		httpClient = &http.Client{Transport: transport}
	}
	maxRedirects := cfg.MaxRedirects
	httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		_, err := ValidateURL(req.URL.String())
		return err
	}

	return &HTTPReader{cfg: cfg, httpClient: httpClient, logger: logger}
}

// Fetch returns the extracted page. Pages that yield no text are an error.
func (r *HTTPReader) Fetch(ctx context.Context, rawURL string) (research.Page, error) {
	result, err := r.Read(ctx, rawURL)
	if err != nil {
		r.logger.Debug("page read failed",
			zap.String("url", rawURL),
			zap.String("reason", ClassifyFailure(err, result)),
			zap.Error(err),
		)
		return research.Page{URL: rawURL}, err
	}
	return research.Page{URL: result.FinalURL, Title: result.Title, Content: result.Text}, nil
}

func (r *HTTPReader) Read(ctx context.Context, rawURL string) (Result, error) {
	parsed, err := ValidateURL(rawURL)
	if err != nil {
		return Result{URL: rawURL, Status: "blocked"}, err
	}
	target := parsed.String()

	requestCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, target, nil)
	if err != nil {
		return Result{URL: target, Status: "request_failed"}, err
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain,text/markdown,application/json,text/csv,application/pdf;q=0.9,*/*;q=0.2")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Result{URL: target, Status: "fetch_failed"}, err
	}
	defer resp.Body.Close()

	result := Result{
		URL:       target,
		FinalURL:  target,
		Status:    fmt.Sprintf("http_%d", resp.StatusCode),
		FetchedAt: time.Now().UTC(),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		result.FinalURL = resp.Request.URL.String()
	}
	result.ContentType = "application/octet-stream"
	if mediaType, _, parseErr := mime.ParseMediaType(resp.Header.Get("Content-Type")); parseErr == nil {
		result.ContentType = mediaType
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusBadRequest {
		return result, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	payload, truncated, err := readBounded(resp.Body, r.cfg.MaxBytes)
	if err != nil {
		return result, err
	}
	result.Truncated = truncated

	title, text, err := extractContent(result.ContentType, payload, r.cfg.MaxTextRunes)
	if err != nil {
		if errors.Is(err, ErrUnsupportedContentType) {
			result.Status = "unsupported_content_type"
		}
		return result, err
	}
	result.Title = title
	result.Text = text
	if strings.TrimSpace(text) == "" {
		result.Status = "empty_content"
		return result, ErrEmptyContent
	}
	result.Status = "ok"
	return result, nil
}

// ClassifyFailure maps a Read error to a short reason for logs and task errors.
func ClassifyFailure(err error, result Result) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrBlockedHost), errors.Is(err, ErrBlockedPort), errors.Is(err, ErrUnsupportedScheme):
		return "blocked_url"
	case errors.Is(err, ErrUnsupportedContentType):
		return "unsupported_content_type"
	case errors.Is(err, ErrEmptyContent):
		return "empty_content"
	case strings.HasPrefix(result.Status, "http_"):
		return result.Status
	default:
		return "fetch_failed"
	}
}

func readBounded(r io.Reader, maxBytes int64) ([]byte, bool, error) {
	payload, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(payload)) > maxBytes {
		return payload[:maxBytes], true, nil
	}
	return payload, false, nil
}
