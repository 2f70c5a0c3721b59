package research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrPlanningFailed = errors.New("planning failed")

const (
	defaultMaxSubQuestions      = 6
	defaultMaxIterations        = 5
	defaultMaxPagesPerIteration = 3
	defaultGenerationTimeout    = 60 * time.Second
	maxQueriesPerSubQuestion    = 5
)

type depthProfile struct {
	iterations int
	pages      int
}

var depthProfiles = map[ResearchDepth]depthProfile{
	DepthQuick:    {iterations: 2, pages: 2},
	DepthStandard: {iterations: 4, pages: 3},
	DepthDeep:     {iterations: 6, pages: 5},
}

type PlannerConfig struct {
	MaxSubQuestions      int
	MaxIterations        int
	MaxPagesPerIteration int
	// Engines lists the engine ids the search executor can serve; the first is the default.
	Engines []string
	Timeout time.Duration
}

type planLimits struct {
	maxSubQuestions      int
	maxIterations        int
	maxPagesPerIteration int
	engines              []string
}

type Planner struct {
	generator TextGenerator
	cfg       PlannerConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewPlanner(generator TextGenerator, cfg PlannerConfig, logger *zap.Logger) Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Planner{
		generator: generator,
		cfg: PlannerConfig{
			MaxSubQuestions:      intOrDefault(cfg.MaxSubQuestions, defaultMaxSubQuestions),
			MaxIterations:        intOrDefault(cfg.MaxIterations, defaultMaxIterations),
			MaxPagesPerIteration: intOrDefault(cfg.MaxPagesPerIteration, defaultMaxPagesPerIteration),
			Engines:              normalizeEngineIDs(cfg.Engines),
			Timeout:              cfg.Timeout,
		},
		logger: logger,
		now:    time.Now,
	}
}

// CreatePlan asks the generator to decompose question. Any generation or parse
// failure is returned wrapped in ErrPlanningFailed; there is no degraded plan.
func (p Planner) CreatePlan(ctx context.Context, question string, pageContext *PageContext) (*ResearchPlan, error) {
	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: question is empty", ErrPlanningFailed)
	}

	timeout := p.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGenerationTimeout
	}
	prompt := buildPlanPrompt(trimmed, pageContext, p.limits(), p.now())
	raw, err := generateText(ctx, p.generator, timeout, systemAndUser(plannerSystemPrompt, prompt), nil)
	if err != nil {
		p.logger.Warn("plan generation failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPlanningFailed, err)
	}

	parsed, err := parsePlanResponse(raw)
	if err != nil {
		p.logger.Warn("plan response unparsable", zap.Error(err), zap.Int("response_chars", len(raw)))
		return nil, fmt.Errorf("%w: %v", ErrPlanningFailed, err)
	}

	plan := p.buildPlan(trimmed, parsed)
	if len(plan.SubQuestions) == 0 {
		return nil, fmt.Errorf("%w: plan has no sub-questions", ErrPlanningFailed)
	}
	p.logger.Info("plan created",
		zap.String("plan_id", plan.ID),
		zap.Int("sub_questions", len(plan.SubQuestions)),
		zap.Int("max_iterations", plan.SearchStrategy.MaxIterations),
		zap.Strings("engines", plan.SearchStrategy.PreferredEngines),
	)
	return plan, nil
}

func (p Planner) limits() planLimits {
	return planLimits{
		maxSubQuestions:      p.cfg.MaxSubQuestions,
		maxIterations:        p.cfg.MaxIterations,
		maxPagesPerIteration: p.cfg.MaxPagesPerIteration,
		engines:              p.cfg.Engines,
	}
}

type planResponse struct {
	RefinedQuestion string                `json:"refinedQuestion"`
	Goal            string                `json:"goal"`
	Reasoning       string                `json:"reasoning"`
	SubQuestions    []subQuestionResponse `json:"subQuestions"`
	SearchStrategy  struct {
		Depth                string   `json:"depth"`
		MaxIterations        float64  `json:"maxIterations"`
		MaxPagesPerIteration float64  `json:"maxPagesPerIteration"`
		PreferredEngines     []string `json:"preferredEngines"`
	} `json:"searchStrategy"`
}

type subQuestionResponse struct {
	Question      string   `json:"question"`
	Priority      priority `json:"priority"`
	SearchQueries []string `json:"searchQueries"`
}

// priority accepts numbers, numeric strings and high/medium/low labels.
type priority int

func (p *priority) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*p = 0
		return nil
	}
	var number float64
	if err := json.Unmarshal(trimmed, &number); err == nil {
		*p = priority(number)
		return nil
	}
	var label string
	if err := json.Unmarshal(trimmed, &label); err != nil {
		return fmt.Errorf("priority must be a number or label: %w", err)
	}
	label = strings.ToLower(strings.TrimSpace(label))
	switch label {
	case "high", "critical":
		*p = 1
	case "medium", "normal":
		*p = 2
	case "low":
		*p = 3
	default:
		parsed, err := strconv.Atoi(label)
		if err != nil {
			*p = 0
			return nil
		}
		*p = priority(parsed)
	}
	return nil
}

func parsePlanResponse(raw string) (planResponse, error) {
	jsonRaw := extractJSONBlock(raw)
	if jsonRaw == "" {
		return planResponse{}, errors.New("plan response did not include json")
	}
	var parsed planResponse
	if err := json.Unmarshal([]byte(jsonRaw), &parsed); err != nil {
		return planResponse{}, fmt.Errorf("decode plan: %w", err)
	}
	if len(parsed.SubQuestions) == 0 {
		return planResponse{}, errors.New("plan response has no sub-questions")
	}
	return parsed, nil
}

func (p Planner) buildPlan(question string, parsed planResponse) *ResearchPlan {
	subQuestions := make([]SubQuestion, 0, len(parsed.SubQuestions))
	seen := make(map[string]struct{}, len(parsed.SubQuestions))
	for i, item := range parsed.SubQuestions {
		text := collapseWhitespace(item.Question)
		if text == "" {
			continue
		}
		key := strings.ToLower(text)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		queries := dedupeQueries(item.SearchQueries)
		if len(queries) == 0 {
			queries = []string{text}
		}
		if len(queries) > maxQueriesPerSubQuestion {
			queries = queries[:maxQueriesPerSubQuestion]
		}
		prio := int(item.Priority)
		if prio <= 0 {
			prio = i + 1
		}
		subQuestions = append(subQuestions, SubQuestion{
			ID:            newID("sq"),
			Question:      text,
			Priority:      prio,
			Status:        SubQuestionPending,
			SearchQueries: queries,
			Findings:      []InformationChunk{},
		})
	}
	sort.SliceStable(subQuestions, func(i, j int) bool {
		return subQuestions[i].Priority < subQuestions[j].Priority
	})
	if len(subQuestions) > p.cfg.MaxSubQuestions {
		subQuestions = subQuestions[:p.cfg.MaxSubQuestions]
	}

	refined := collapseWhitespace(parsed.RefinedQuestion)
	if refined == "" {
		refined = question
	}

	return &ResearchPlan{
		ID:               newID("plan"),
		OriginalQuestion: question,
		RefinedQuestion:  refined,
		Goal:             strings.TrimSpace(parsed.Goal),
		Reasoning:        strings.TrimSpace(parsed.Reasoning),
		SubQuestions:     subQuestions,
		SearchStrategy:   p.resolveStrategy(parsed),
		Status:           PlanStatusActive,
		CreatedAt:        p.now().UTC(),
	}
}

func (p Planner) resolveStrategy(parsed planResponse) SearchStrategy {
	depth := ResearchDepth(strings.ToLower(strings.TrimSpace(parsed.SearchStrategy.Depth)))
	profile, ok := depthProfiles[depth]
	if !ok {
		depth = DepthStandard
		profile = depthProfiles[DepthStandard]
	}

	iterations := profile.iterations
	if suggested := int(parsed.SearchStrategy.MaxIterations); suggested > 0 {
		iterations = suggested
	}
	pages := profile.pages
	if suggested := int(parsed.SearchStrategy.MaxPagesPerIteration); suggested > 0 {
		pages = suggested
	}

	return SearchStrategy{
		Depth:                depth,
		MaxIterations:        clampInt(iterations, 1, p.cfg.MaxIterations),
		MaxPagesPerIteration: clampInt(pages, 1, p.cfg.MaxPagesPerIteration),
		PreferredEngines:     p.resolveEngines(parsed.SearchStrategy.PreferredEngines),
	}
}

func (p Planner) resolveEngines(suggested []string) []string {
	if len(p.cfg.Engines) == 0 {
		return dedupeStrings(suggested)
	}
	available := make(map[string]struct{}, len(p.cfg.Engines))
	for _, engine := range p.cfg.Engines {
		available[strings.ToLower(engine)] = struct{}{}
	}
	out := make([]string, 0, len(suggested))
	for _, engine := range dedupeStrings(suggested) {
		normalized := strings.ToLower(engine)
		if _, ok := available[normalized]; ok {
			out = append(out, normalized)
		}
	}
	if len(out) == 0 {
		return []string{p.cfg.Engines[0]}
	}
	return out
}
