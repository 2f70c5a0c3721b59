package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var fixedNow = time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

// scriptedGenerator answers each prompt kind from a script and counts calls.
type scriptedGenerator struct {
	mu          sync.Mutex
	plan        string
	planErr     error
	analyze     func(prompt string) (string, error)
	evaluations []string
	report      string
	reportErr   error
	calls       map[string]int
	prompts     map[string]string
}

func (g *scriptedGenerator) Generate(_ context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("no messages")
	}
	system := messages[0].Content
	prompt := messages[len(messages)-1].Content

	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[string]int)
	}
	g.calls[system]++
	if g.prompts == nil {
		g.prompts = make(map[string]string)
	}
	g.prompts[system] = prompt
	g.mu.Unlock()

	switch system {
	case plannerSystemPrompt:
		return g.plan, g.planErr
	case analysisSystemPrompt:
		if g.analyze == nil {
			return "[]", nil
		}
		return g.analyze(prompt)
	case evaluationSystemPrompt:
		g.mu.Lock()
		defer g.mu.Unlock()
		if len(g.evaluations) == 0 {
			return "", errors.New("no evaluation scripted")
		}
		next := g.evaluations[0]
		g.evaluations = g.evaluations[1:]
		return next, nil
	case reportSystemPrompt:
		return g.report, g.reportErr
	default:
		return "", fmt.Errorf("unexpected system prompt %q", system)
	}
}

func (g *scriptedGenerator) count(system string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[system]
}

// lastPrompt returns the most recent user prompt sent with system.
func (g *scriptedGenerator) lastPrompt(system string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts[system]
}

// streamingGenerator emits its text in two deltas.
type streamingGenerator struct {
	scriptedGenerator
}

func (g *streamingGenerator) GenerateStream(ctx context.Context, messages []Message, onDelta func(string) error) (string, error) {
	text, err := g.Generate(ctx, messages)
	if err != nil {
		return "", err
	}
	half := len(text) / 2
	for _, delta := range []string{text[:half], text[half:]} {
		if err := onDelta(delta); err != nil {
			return "", err
		}
	}
	return text, nil
}

type stubSearch struct {
	mu      sync.Mutex
	queries []string
	results func(query, engine string) ([]SearchHit, error)
}

func (s *stubSearch) Search(ctx context.Context, query, engine string, _ int) ([]SearchHit, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.results == nil {
		return nil, nil
	}
	return s.results(query, engine)
}

func (s *stubSearch) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.queries...)
}

type stubFetcher struct {
	mu      sync.Mutex
	fetched []string
	fetch   func(ctx context.Context, rawURL string) (Page, error)
}

func (f *stubFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, rawURL)
	f.mu.Unlock()
	if f.fetch == nil {
		return Page{URL: rawURL, Title: "Page " + rawURL, Content: richContent(rawURL)}, nil
	}
	return f.fetch(ctx, rawURL)
}

func (f *stubFetcher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.fetched...)
}

func richContent(rawURL string) string {
	return strings.Repeat("Detailed technical evidence from "+rawURL+". ", 8)
}

func hits(urls ...string) []SearchHit {
	out := make([]SearchHit, 0, len(urls))
	for i, u := range urls {
		out = append(out, SearchHit{Title: fmt.Sprintf("Result %d", i+1), URL: u, Snippet: "snippet"})
	}
	return out
}

// chunkArray renders an analysis response with one chunk per fact.
func chunkArray(facts ...string) string {
	items := make([]string, 0, len(facts))
	for _, fact := range facts {
		items = append(items, fmt.Sprintf(`{"content":%q,"relevance":0.8,"credibility":0.7}`, fact))
	}
	return "[" + strings.Join(items, ",") + "]"
}

func pageURLFromPrompt(prompt string) string {
	const marker = "Page URL: "
	start := strings.Index(prompt, marker)
	if start == -1 {
		return ""
	}
	rest := prompt[start+len(marker):]
	if end := strings.Index(rest, "\n"); end != -1 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func testPlan(subQuestions ...string) *ResearchPlan {
	plan := &ResearchPlan{
		ID:               "plan_test",
		OriginalQuestion: "test question",
		RefinedQuestion:  "test question",
		Status:           PlanStatusActive,
		SearchStrategy:   SearchStrategy{Depth: DepthStandard, MaxIterations: 4, MaxPagesPerIteration: 3},
	}
	for i, q := range subQuestions {
		plan.SubQuestions = append(plan.SubQuestions, SubQuestion{
			ID:            fmt.Sprintf("sq_%d", i+1),
			Question:      q,
			Priority:      i + 1,
			Status:        SubQuestionPending,
			SearchQueries: []string{q + " query a", q + " query b", q + " query c"},
			Findings:      []InformationChunk{},
		})
	}
	return plan
}

func testChunk(id, url, subQuestionID string, relevance float64) InformationChunk {
	return InformationChunk{
		ID:            id,
		Content:       "Fact " + id + " from " + url,
		SourceURL:     url,
		SourceTitle:   "Title of " + url,
		Relevance:     relevance,
		Credibility:   0.6,
		SubQuestionID: subQuestionID,
	}
}
