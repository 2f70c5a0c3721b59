package research

import (
	"context"
	"time"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhasePlanning   Phase = "planning"
	PhaseSearching  Phase = "searching"
	PhaseWaiting    Phase = "waiting"
	PhaseBrowsing   Phase = "browsing"
	PhaseAnalyzing  Phase = "analyzing"
	PhaseEvaluating Phase = "evaluating"
	PhaseGenerating Phase = "generating"
	PhaseCompleted  Phase = "completed"
	PhaseError      Phase = "error"
	PhaseCancelled  Phase = "cancelled"
)

// Terminal reports whether no further transitions can happen from p.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseError, PhaseCancelled:
		return true
	default:
		return false
	}
}

type PlanStatus string

const (
	PlanStatusActive    PlanStatus = "active"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusFailed    PlanStatus = "failed"
	PlanStatusCancelled PlanStatus = "cancelled"
)

type SubQuestionStatus string

const (
	SubQuestionPending     SubQuestionStatus = "pending"
	SubQuestionResearching SubQuestionStatus = "researching"
	SubQuestionCompleted   SubQuestionStatus = "completed"
	SubQuestionSkipped     SubQuestionStatus = "skipped"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

type Recommendation string

const (
	RecommendContinue Recommendation = "continue"
	RecommendComplete Recommendation = "complete"
	RecommendPivot    Recommendation = "pivot"
)

type ResearchDepth string

const (
	DepthQuick    ResearchDepth = "quick"
	DepthStandard ResearchDepth = "standard"
	DepthDeep     ResearchDepth = "deep"
)

type SearchStrategy struct {
	Depth                ResearchDepth `json:"depth"`
	MaxIterations        int           `json:"maxIterations"`
	MaxPagesPerIteration int           `json:"maxPagesPerIteration"`
	PreferredEngines     []string      `json:"preferredEngines"`
}

type SubQuestion struct {
	ID            string             `json:"id"`
	Question      string             `json:"question"`
	Priority      int                `json:"priority"`
	Status        SubQuestionStatus  `json:"status"`
	SearchQueries []string           `json:"searchQueries"`
	Findings      []InformationChunk `json:"findings"`
	Summary       string             `json:"summary,omitempty"`
}

type ResearchPlan struct {
	ID               string         `json:"id"`
	OriginalQuestion string         `json:"originalQuestion"`
	RefinedQuestion  string         `json:"refinedQuestion"`
	Goal             string         `json:"goal"`
	Reasoning        string         `json:"reasoning"`
	SubQuestions     []SubQuestion  `json:"subQuestions"`
	SearchStrategy   SearchStrategy `json:"searchStrategy"`
	Status           PlanStatus     `json:"status"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// SearchHit is one result stub returned by a SearchExecutor.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Engine  string `json:"engine"`
	// Rank is the 1-based position inside the owning task's result set.
	Rank int `json:"rank"`
}

type SearchTask struct {
	ID          string         `json:"id"`
	Query       string         `json:"query"`
	Engine      string         `json:"engine"`
	Status      TaskStatus     `json:"status"`
	Results     []SearchResult `json:"results"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt"`
}

type InformationChunk struct {
	ID            string    `json:"id"`
	Content       string    `json:"content"`
	SourceURL     string    `json:"sourceUrl"`
	SourceTitle   string    `json:"sourceTitle"`
	Relevance     float64   `json:"relevance"`
	Credibility   float64   `json:"credibility"`
	ExtractedAt   time.Time `json:"extractedAt"`
	SubQuestionID string    `json:"subQuestionId,omitempty"`
}

type BrowseTask struct {
	ID      string             `json:"id"`
	URL     string             `json:"url"`
	Title   string             `json:"title"`
	Status  TaskStatus         `json:"status"`
	Content string             `json:"content,omitempty"`
	Chunks  []InformationChunk `json:"chunks"`
	Error   string             `json:"error,omitempty"`
}

type ResearchEvaluation struct {
	CoverageScore  int            `json:"coverageScore"`
	IsComplete     bool           `json:"isComplete"`
	Gaps           []string       `json:"gaps"`
	NextSearches   []string       `json:"nextSearches"`
	KeyFindings    []string       `json:"keyFindings"`
	Recommendation Recommendation `json:"recommendation"`
	Reasoning      string         `json:"reasoning"`
}

type ReportSection struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Citations []string `json:"citations"`
	Order     int      `json:"order"`
}

type ReportSource struct {
	ID         string    `json:"id"`
	Index      int       `json:"index"`
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	AccessedAt time.Time `json:"accessedAt"`
}

type GenerationMode string

const (
	GenerationJSON     GenerationMode = "json"
	GenerationMarkdown GenerationMode = "markdown"
	GenerationFallback GenerationMode = "fallback"
)

type ReportMetadata struct {
	TotalSearches         int            `json:"totalSearches"`
	FailedSearches        int            `json:"failedSearches"`
	PagesVisited          int            `json:"pagesVisited"`
	PagesFailed           int            `json:"pagesFailed"`
	ChunksCollected       int            `json:"chunksCollected"`
	SourceCount           int            `json:"sourceCount"`
	Iterations            int            `json:"iterations"`
	SubQuestions          int            `json:"subQuestions"`
	SubQuestionsCompleted int            `json:"subQuestionsCompleted"`
	DurationMs            int64          `json:"durationMs"`
	GenerationMode        GenerationMode `json:"generationMode"`
}

type ResearchReport struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Question    string          `json:"question"`
	Summary     string          `json:"summary"`
	Sections    []ReportSection `json:"sections"`
	Sources     []ReportSource  `json:"sources"`
	Metadata    ReportMetadata  `json:"metadata"`
	Limitations string          `json:"limitations"`
	GeneratedAt time.Time       `json:"generatedAt"`
}

type PageContext struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Page is what a PageFetcher extracted from one URL.
type Page struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TextGenerator interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// StreamingTextGenerator delivers generated text incrementally; the returned
// string is the concatenation of every delta.
type StreamingTextGenerator interface {
	TextGenerator
	GenerateStream(ctx context.Context, messages []Message, onDelta func(string) error) (string, error)
}

type SearchExecutor interface {
	Search(ctx context.Context, query, engineID string, maxResults int) ([]SearchHit, error)
}

type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

type PageContextProvider interface {
	PageContext(ctx context.Context) (PageContext, bool)
}

// StaticPageContext serves a fixed page context, e.g. one sent along with an API request.
type StaticPageContext PageContext

func (s StaticPageContext) PageContext(context.Context) (PageContext, bool) {
	if s.Title == "" && s.URL == "" {
		return PageContext{}, false
	}
	return PageContext(s), true
}
