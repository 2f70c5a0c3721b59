package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"deepresearch/backend/internal/research"
)

const (
	DuckDuckGoID             = "duckduckgo"
	defaultDuckDuckGoBaseURL = "https://html.duckduckgo.com/html/"
	maxDuckDuckGoBodyBytes   = 2 << 20
	duckDuckGoUserAgent      = "Mozilla/5.0 (compatible; deepresearch/1.0)"
)

// DuckDuckGo scrapes the HTML-only results page; it needs no API key.
type DuckDuckGo struct {
	baseURL    string
	httpClient *http.Client
}

func NewDuckDuckGo(httpClient *http.Client, baseURL string) DuckDuckGo {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultDuckDuckGoBaseURL
	}
	return DuckDuckGo{baseURL: baseURL, httpClient: httpClient}
}

func (d DuckDuckGo) Name() string {
	return DuckDuckGoID
}

func (d DuckDuckGo) Search(ctx context.Context, query string, count int) ([]research.SearchHit, error) {
	trimmed := strings.Join(strings.Fields(query), " ")
	if trimmed == "" {
		return nil, nil
	}
	if count <= 0 {
		count = 5
	}

	endpoint, err := url.Parse(d.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse duckduckgo endpoint: %w", err)
	}
	params := endpoint.Query()
	params.Set("q", trimmed)
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build duckduckgo request: %w", err)
	}
	req.Header.Set("User-Agent", duckDuckGoUserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request duckduckgo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("duckduckgo returned %d", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxDuckDuckGoBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("parse duckduckgo html: %w", err)
	}
	return parseDuckDuckGoResults(doc, count), nil
}

func parseDuckDuckGoResults(doc *html.Node, count int) []research.SearchHit {
	hits := make([]research.SearchHit, 0, count)
	seen := make(map[string]struct{})
	skipping := false

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(hits) > count {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			switch {
			case hasClass(n, "result__a"):
				target := unwrapRedirect(attr(n, "href"))
				if _, dup := seen[target]; target == "" || dup {
					skipping = true
					return
				}
				seen[target] = struct{}{}
				skipping = false
				title := collapse(textOf(n))
				if title == "" {
					title = target
				}
				hits = append(hits, research.SearchHit{URL: target, Title: title})
				return
			case hasClass(n, "result__snippet"):
				if !skipping && len(hits) > 0 && hits[len(hits)-1].Snippet == "" {
					hits[len(hits)-1].Snippet = collapse(textOf(n))
				}
				return
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	if len(hits) > count {
		hits = hits[:count]
	}
	return hits
}

// unwrapRedirect resolves DuckDuckGo's /l/?uddg= redirect links to the target
// URL. Ad links and non-http targets yield "".
func unwrapRedirect(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.HasSuffix(parsed.Hostname(), "duckduckgo.com") {
		if strings.HasPrefix(parsed.Path, "/y.js") {
			return ""
		}
		target := parsed.Query().Get("uddg")
		if target == "" {
			return ""
		}
		parsed, err = url.Parse(target)
		if err != nil {
			return ""
		}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	return parsed.String()
}

func hasClass(n *html.Node, class string) bool {
	for _, field := range strings.Fields(attr(n, "class")) {
		if field == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
			b.WriteByte(' ')
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
