package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMinContentLength = 100
	defaultMaxContentChars  = 8000
	heuristicChunkThreshold = 3
	evaluationExcerptCount  = 20
	evaluationExcerptChars  = 200
	chunkDedupKeyChars      = 200
	highRelevanceThreshold  = 0.7
	unassignedSubQuestion   = "unassigned"
)

type AggregatorConfig struct {
	// MinContentLength is the rune count below which a page is skipped without a generation call.
	MinContentLength int
	// MaxContentChars caps the page excerpt sent for analysis.
	MaxContentChars int
	Timeout         time.Duration
}

type Aggregator struct {
	generator TextGenerator
	cfg       AggregatorConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewAggregator(generator TextGenerator, cfg AggregatorConfig, logger *zap.Logger) Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGenerationTimeout
	}
	return Aggregator{
		generator: generator,
		cfg: AggregatorConfig{
			MinContentLength: intOrDefault(cfg.MinContentLength, defaultMinContentLength),
			MaxContentChars:  intOrDefault(cfg.MaxContentChars, defaultMaxContentChars),
			Timeout:          timeout,
		},
		logger: logger,
		now:    time.Now,
	}
}

// AnalyzePageContent extracts scored chunks from one browsed page for one
// sub-question. Thin pages, generation errors and unparsable output all yield
// an empty list.
func (a Aggregator) AnalyzePageContent(ctx context.Context, task BrowseTask, plan *ResearchPlan, subQuestionID string) []InformationChunk {
	content := strings.TrimSpace(task.Content)
	if len([]rune(content)) < a.cfg.MinContentLength {
		a.logger.Debug("page content too thin", zap.String("url", task.URL), zap.Int("chars", len([]rune(content))))
		return []InformationChunk{}
	}

	subQuestion := findSubQuestion(plan, subQuestionID)
	prompt := buildAnalysisPrompt(plan, subQuestion, task, trimToRunes(content, a.cfg.MaxContentChars))
	raw, err := generateText(ctx, a.generator, a.cfg.Timeout, systemAndUser(analysisSystemPrompt, prompt), nil)
	if err != nil {
		a.logger.Warn("page analysis failed", zap.String("url", task.URL), zap.Error(err))
		return []InformationChunk{}
	}

	items, err := parseChunkItems(raw)
	if err != nil {
		a.logger.Warn("page analysis unparsable", zap.String("url", task.URL), zap.Error(err))
		return []InformationChunk{}
	}

	extractedAt := a.now().UTC()
	title := strings.TrimSpace(task.Title)
	if title == "" {
		title = task.URL
	}
	chunks := make([]InformationChunk, 0, len(items))
	for _, item := range items {
		text := strings.TrimSpace(item.Content)
		if text == "" {
			continue
		}
		chunks = append(chunks, InformationChunk{
			ID:            newID("chunk"),
			Content:       text,
			SourceURL:     task.URL,
			SourceTitle:   title,
			Relevance:     clampUnit(item.Relevance),
			Credibility:   clampUnit(item.Credibility),
			ExtractedAt:   extractedAt,
			SubQuestionID: subQuestionID,
		})
	}
	return chunks
}

type chunkItem struct {
	Content     string  `json:"content"`
	Relevance   float64 `json:"relevance"`
	Credibility float64 `json:"credibility"`
}

func parseChunkItems(raw string) ([]chunkItem, error) {
	jsonRaw := extractJSONArray(raw)
	if jsonRaw == "" {
		return nil, errors.New("analysis response did not include a json array")
	}
	var items []chunkItem
	if err := json.Unmarshal([]byte(jsonRaw), &items); err != nil {
		return nil, fmt.Errorf("decode chunks: %w", err)
	}
	return items, nil
}

// EvaluateProgress judges coverage of plan by chunks. Below three chunks it
// answers from a heuristic without calling the generator; generation and parse
// failures degrade to a conservative "continue".
func (a Aggregator) EvaluateProgress(ctx context.Context, plan *ResearchPlan, chunks []InformationChunk) ResearchEvaluation {
	if len(chunks) < heuristicChunkThreshold {
		return HeuristicEvaluation(plan, len(chunks))
	}
	if plan == nil {
		return conservativeEvaluation(len(chunks), "no research plan")
	}

	prompt := buildEvaluationPrompt(plan, chunks, evaluationExcerptCount, evaluationExcerptChars)
	raw, err := generateText(ctx, a.generator, a.cfg.Timeout, systemAndUser(evaluationSystemPrompt, prompt), nil)
	if err != nil {
		a.logger.Warn("evaluation failed", zap.Int("chunks", len(chunks)), zap.Error(err))
		return conservativeEvaluation(len(chunks), "evaluation unavailable: "+err.Error())
	}
	evaluation, err := parseEvaluation(raw)
	if err != nil {
		a.logger.Warn("evaluation unparsable", zap.Int("chunks", len(chunks)), zap.Error(err))
		return conservativeEvaluation(len(chunks), "evaluation unparsable")
	}
	return evaluation
}

// HeuristicEvaluation is the cheap judgment used while evidence is plainly insufficient.
func HeuristicEvaluation(plan *ResearchPlan, chunkCount int) ResearchEvaluation {
	next := make([]string, 0)
	if plan != nil {
		for _, sq := range plan.SubQuestions {
			if sq.Status != SubQuestionPending {
				continue
			}
			limit := len(sq.SearchQueries)
			if limit > 2 {
				limit = 2
			}
			next = append(next, sq.SearchQueries[:limit]...)
		}
	}
	return ResearchEvaluation{
		CoverageScore:  minInt(chunkCount*15, 30),
		IsComplete:     false,
		Gaps:           []string{"Not enough information collected yet"},
		NextSearches:   dedupeQueries(next),
		KeyFindings:    []string{},
		Recommendation: RecommendContinue,
		Reasoning:      fmt.Sprintf("Only %d information chunks collected; continuing research.", chunkCount),
	}
}

func conservativeEvaluation(chunkCount int, reason string) ResearchEvaluation {
	return ResearchEvaluation{
		CoverageScore:  minInt(chunkCount*10, 60),
		IsComplete:     false,
		Gaps:           []string{},
		NextSearches:   []string{},
		KeyFindings:    []string{},
		Recommendation: RecommendContinue,
		Reasoning:      reason,
	}
}

type evaluationResponse struct {
	CoverageScore  *float64 `json:"coverageScore"`
	IsComplete     *bool    `json:"isComplete"`
	Gaps           []string `json:"gaps"`
	NextSearches   []string `json:"nextSearches"`
	KeyFindings    []string `json:"keyFindings"`
	Recommendation string   `json:"recommendation"`
	Reasoning      string   `json:"reasoning"`
}

func parseEvaluation(raw string) (ResearchEvaluation, error) {
	jsonRaw := extractJSONBlock(raw)
	if jsonRaw == "" {
		return ResearchEvaluation{}, errors.New("evaluation response did not include json")
	}
	var parsed evaluationResponse
	if err := json.Unmarshal([]byte(jsonRaw), &parsed); err != nil {
		return ResearchEvaluation{}, fmt.Errorf("decode evaluation: %w", err)
	}

	evaluation := ResearchEvaluation{
		Gaps:           dedupeStrings(parsed.Gaps),
		NextSearches:   dedupeQueries(parsed.NextSearches),
		KeyFindings:    dedupeStrings(parsed.KeyFindings),
		Recommendation: RecommendContinue,
		Reasoning:      strings.TrimSpace(parsed.Reasoning),
	}
	if parsed.CoverageScore != nil {
		evaluation.CoverageScore = clampInt(int(math.Round(*parsed.CoverageScore)), 0, 100)
	}
	if parsed.IsComplete != nil {
		evaluation.IsComplete = *parsed.IsComplete
	}
	switch Recommendation(strings.ToLower(strings.TrimSpace(parsed.Recommendation))) {
	case RecommendComplete:
		evaluation.Recommendation = RecommendComplete
	case RecommendPivot:
		evaluation.Recommendation = RecommendPivot
	}
	if evaluation.Gaps == nil {
		evaluation.Gaps = []string{}
	}
	if evaluation.NextSearches == nil {
		evaluation.NextSearches = []string{}
	}
	if evaluation.KeyFindings == nil {
		evaluation.KeyFindings = []string{}
	}
	return evaluation, nil
}

// MergeChunks drops chunks whose normalized content repeats an earlier one and
// orders the rest by descending relevance.
func MergeChunks(chunks []InformationChunk) []InformationChunk {
	seen := make(map[string]struct{}, len(chunks))
	merged := make([]InformationChunk, 0, len(chunks))
	for _, chunk := range chunks {
		key := chunkDedupKey(chunk.Content)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, chunk)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Relevance > merged[j].Relevance
	})
	return merged
}

func chunkDedupKey(content string) string {
	return trimToRunes(strings.ToLower(collapseWhitespace(content)), chunkDedupKeyChars)
}

// GroupBySubQuestion buckets chunks by sub-question id; untagged chunks go under "unassigned".
func GroupBySubQuestion(chunks []InformationChunk) map[string][]InformationChunk {
	groups := make(map[string][]InformationChunk)
	for _, chunk := range chunks {
		key := chunk.SubQuestionID
		if key == "" {
			key = unassignedSubQuestion
		}
		groups[key] = append(groups[key], chunk)
	}
	return groups
}

type ChunkStatistics struct {
	TotalChunks         int            `json:"totalChunks"`
	UniqueSources       int            `json:"uniqueSources"`
	AverageRelevance    float64        `json:"averageRelevance"`
	AverageCredibility  float64        `json:"averageCredibility"`
	HighRelevanceChunks int            `json:"highRelevanceChunks"`
	BySubQuestion       map[string]int `json:"bySubQuestion"`
}

func GetStatistics(chunks []InformationChunk) ChunkStatistics {
	stats := ChunkStatistics{
		TotalChunks:   len(chunks),
		BySubQuestion: make(map[string]int),
	}
	if len(chunks) == 0 {
		return stats
	}

	sources := make(map[string]struct{}, len(chunks))
	var relevance, credibility float64
	for _, chunk := range chunks {
		sources[chunk.SourceURL] = struct{}{}
		relevance += chunk.Relevance
		credibility += chunk.Credibility
		if chunk.Relevance >= highRelevanceThreshold {
			stats.HighRelevanceChunks++
		}
		key := chunk.SubQuestionID
		if key == "" {
			key = unassignedSubQuestion
		}
		stats.BySubQuestion[key]++
	}
	stats.UniqueSources = len(sources)
	stats.AverageRelevance = math.Round(relevance/float64(len(chunks))*1000) / 1000
	stats.AverageCredibility = math.Round(credibility/float64(len(chunks))*1000) / 1000
	return stats
}

func topChunksByRelevance(chunks []InformationChunk, limit int) []InformationChunk {
	ranked := make([]InformationChunk, len(chunks))
	copy(ranked, chunks)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Relevance > ranked[j].Relevance
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func findSubQuestion(plan *ResearchPlan, id string) *SubQuestion {
	if plan == nil || id == "" {
		return nil
	}
	for i := range plan.SubQuestions {
		if plan.SubQuestions[i].ID == id {
			return &plan.SubQuestions[i]
		}
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
