package research

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const fallbackFindingsPerSection = 5

var citationIndexPattern = regexp.MustCompile(`\[(\d{1,3})\]`)

type ReportConfig struct {
	Timeout time.Duration
}

type ReportGenerator struct {
	generator TextGenerator
	timeout   time.Duration
	onToken   func(string) error
	logger    *zap.Logger
	now       func() time.Time
}

func NewReportGenerator(generator TextGenerator, cfg ReportConfig, logger *zap.Logger) ReportGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGenerationTimeout
	}
	return ReportGenerator{generator: generator, timeout: timeout, logger: logger, now: time.Now}
}

// WithTokenHandler returns a copy that streams report text to onToken when the
// generator supports streaming.
func (g ReportGenerator) WithTokenHandler(onToken func(string) error) ReportGenerator {
	g.onToken = onToken
	return g
}

// GenerateReport always returns a report. Generated text is parsed as JSON,
// then as Markdown; when both fail, or nothing was collected, the report is
// assembled from each sub-question's findings. Metadata comes from state only.
func (g ReportGenerator) GenerateReport(ctx context.Context, plan *ResearchPlan, chunks []InformationChunk, state DeepResearchState) ResearchReport {
	generatedAt := g.now().UTC()
	sources := BuildSourceList(chunks, generatedAt)

	var (
		draft draftResult
		mode  = GenerationFallback
	)
	if len(chunks) > 0 {
		prompt := buildReportPrompt(plan, sources, chunks)
		raw, err := generateText(ctx, g.generator, g.timeout, systemAndUser(reportSystemPrompt, prompt), g.onToken)
		switch {
		case err != nil:
			g.logger.Warn("report generation failed", zap.Error(err))
		default:
			if draft = parseReportJSON(raw, sources); draft.ok {
				mode = GenerationJSON
			} else if md := parseReportMarkdown(raw, sources); md.ok {
				g.logger.Info("report json unparsable, used markdown", zap.String("reason", draft.reason))
				draft = md
				mode = GenerationMarkdown
			} else {
				g.logger.Warn("report output unparsable", zap.String("json_reason", draft.reason), zap.String("markdown_reason", md.reason))
			}
		}
	}

	var report ResearchReport
	if mode == GenerationFallback {
		report = GenerateFallbackReport(plan, sources)
	} else {
		report = ResearchReport{
			Title:       draft.draft.Title,
			Summary:     draft.draft.Summary,
			Sections:    draft.draft.Sections,
			Limitations: draft.draft.Limitations,
		}
		if strings.TrimSpace(report.Title) == "" {
			report.Title = defaultReportTitle(plan)
		}
	}

	report.ID = newID("report")
	report.Question = questionOf(plan, state)
	report.Sources = sources
	report.GeneratedAt = generatedAt
	report.Metadata = buildReportMetadata(plan, chunks, sources, state, generatedAt, mode)
	return report
}

// BuildSourceList assigns one source per distinct URL in first-seen order with
// a dense 1-based index.
func BuildSourceList(chunks []InformationChunk, accessedAt time.Time) []ReportSource {
	sources := make([]ReportSource, 0)
	seen := make(map[string]struct{}, len(chunks))
	for _, chunk := range chunks {
		if _, ok := seen[chunk.SourceURL]; ok {
			continue
		}
		seen[chunk.SourceURL] = struct{}{}
		index := len(sources) + 1
		title := strings.TrimSpace(chunk.SourceTitle)
		if title == "" {
			title = chunk.SourceURL
		}
		sources = append(sources, ReportSource{
			ID:         fmt.Sprintf("source-%d", index),
			Index:      index,
			Title:      title,
			URL:        chunk.SourceURL,
			AccessedAt: accessedAt,
		})
	}
	return sources
}

// GenerateFallbackReport builds one section per sub-question from its own
// findings without any generation call.
func GenerateFallbackReport(plan *ResearchPlan, sources []ReportSource) ResearchReport {
	byURL := make(map[string]ReportSource, len(sources))
	for _, source := range sources {
		byURL[source.URL] = source
	}

	report := ResearchReport{
		Title:    defaultReportTitle(plan),
		Sections: []ReportSection{},
	}
	if plan == nil {
		report.Summary = "No research plan was available, so no information was collected."
		report.Limitations = "The research run ended before a plan was created."
		return report
	}

	answered := 0
	for i, sq := range plan.SubQuestions {
		findings := topChunksByRelevance(MergeChunks(sq.Findings), fallbackFindingsPerSection)
		section := ReportSection{
			Title:     sq.Question,
			Citations: []string{},
			Order:     i + 1,
		}
		if len(findings) == 0 {
			section.Content = "No information was collected for this sub-question."
			report.Sections = append(report.Sections, section)
			continue
		}
		answered++

		var b strings.Builder
		cited := make(map[string]struct{}, len(findings))
		for _, finding := range findings {
			b.WriteString("- ")
			b.WriteString(collapseWhitespace(finding.Content))
			if source, ok := byURL[finding.SourceURL]; ok {
				b.WriteString(fmt.Sprintf(" [%d]", source.Index))
				if _, dup := cited[source.ID]; !dup {
					cited[source.ID] = struct{}{}
					section.Citations = append(section.Citations, source.ID)
				}
			}
			b.WriteString("\n")
		}
		section.Content = strings.TrimSpace(b.String())
		report.Sections = append(report.Sections, section)
	}

	if len(sources) == 0 {
		report.Summary = "No information collected. The research run finished without extracting evidence from any source."
	} else {
		report.Summary = fmt.Sprintf("Findings for %d of %d sub-questions, drawn from %d sources.", answered, len(plan.SubQuestions), len(sources))
	}
	report.Limitations = "This report lists extracted findings without narrative synthesis; relevance and credibility were judged per finding and claims were not cross-checked."
	return report
}

type reportDraft struct {
	Title       string
	Summary     string
	Sections    []ReportSection
	Limitations string
}

// draftResult is the tagged outcome of one parse tier.
type draftResult struct {
	draft  reportDraft
	ok     bool
	reason string
}

func failedDraft(reason string) draftResult {
	return draftResult{reason: reason}
}

type reportResponse struct {
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	Sections []struct {
		Title     string            `json:"title"`
		Content   string            `json:"content"`
		Citations []json.RawMessage `json:"citations"`
	} `json:"sections"`
	Limitations string `json:"limitations"`
	Conclusion  string `json:"conclusion"`
}

func parseReportJSON(raw string, sources []ReportSource) draftResult {
	jsonRaw := extractJSONBlock(raw)
	if jsonRaw == "" {
		return failedDraft("no json object")
	}
	var parsed reportResponse
	if err := json.Unmarshal([]byte(jsonRaw), &parsed); err != nil {
		return failedDraft("decode report: " + err.Error())
	}

	draft := reportDraft{
		Title:       strings.TrimSpace(parsed.Title),
		Summary:     strings.TrimSpace(parsed.Summary),
		Limitations: strings.TrimSpace(parsed.Limitations),
	}
	for _, section := range parsed.Sections {
		content := strings.TrimSpace(section.Content)
		if content == "" {
			continue
		}
		title := strings.TrimSpace(section.Title)
		if title == "" {
			title = fmt.Sprintf("Section %d", len(draft.Sections)+1)
		}
		draft.Sections = append(draft.Sections, ReportSection{
			Title:     title,
			Content:   content,
			Citations: resolveCitations(section.Citations, content, sources),
			Order:     len(draft.Sections) + 1,
		})
	}
	if len(draft.Sections) == 0 {
		return failedDraft("report has no sections")
	}
	if conclusion := strings.TrimSpace(parsed.Conclusion); conclusion != "" {
		draft.Sections = append(draft.Sections, ReportSection{
			Title:     "Conclusion",
			Content:   conclusion,
			Citations: resolveCitations(nil, conclusion, sources),
			Order:     len(draft.Sections) + 1,
		})
	}
	return draftResult{draft: draft, ok: true}
}

// parseReportMarkdown reads "# " as the title and "## " as section boundaries.
// Text between the title and the first section becomes the summary; sections
// named Summary or Limitations fill those fields instead.
func parseReportMarkdown(raw string, sources []ReportSource) draftResult {
	var (
		draft        reportDraft
		current      *ReportSection
		preamble     strings.Builder
		body         strings.Builder
		sectionTitle string
	)

	flush := func() {
		if current == nil {
			return
		}
		content := strings.TrimSpace(body.String())
		body.Reset()
		lower := strings.ToLower(sectionTitle)
		switch {
		case strings.Contains(lower, "limitation"):
			draft.Limitations = content
		case (lower == "summary" || lower == "executive summary") && draft.Summary == "":
			draft.Summary = content
		case content != "":
			current.Content = content
			current.Citations = resolveCitations(nil, content, sources)
			current.Order = len(draft.Sections) + 1
			draft.Sections = append(draft.Sections, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "## "):
			flush()
			sectionTitle = strings.TrimSpace(strings.TrimPrefix(trimmed, "## "))
			current = &ReportSection{Title: sectionTitle}
		case strings.HasPrefix(trimmed, "# ") && draft.Title == "" && current == nil:
			draft.Title = strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
		case current != nil:
			body.WriteString(line)
			body.WriteString("\n")
		default:
			preamble.WriteString(line)
			preamble.WriteString("\n")
		}
	}
	flush()

	if len(draft.Sections) == 0 {
		return failedDraft("markdown has no sections")
	}
	if draft.Summary == "" {
		draft.Summary = strings.TrimSpace(preamble.String())
	}
	return draftResult{draft: draft, ok: true}
}

// resolveCitations maps explicit citation values (numbers, "[n]" strings or
// source ids) and inline [n] markers in content to source ids, ordered by index.
func resolveCitations(explicit []json.RawMessage, content string, sources []ReportSource) []string {
	byIndex := make(map[int]ReportSource, len(sources))
	byID := make(map[string]ReportSource, len(sources))
	for _, source := range sources {
		byIndex[source.Index] = source
		byID[source.ID] = source
	}

	picked := make(map[int]struct{})
	for _, raw := range explicit {
		var number float64
		if err := json.Unmarshal(raw, &number); err == nil {
			if _, ok := byIndex[int(number)]; ok {
				picked[int(number)] = struct{}{}
			}
			continue
		}
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if source, ok := byID[text]; ok {
			picked[source.Index] = struct{}{}
			continue
		}
		if index, err := strconv.Atoi(strings.Trim(text, "[] ")); err == nil {
			if _, ok := byIndex[index]; ok {
				picked[index] = struct{}{}
			}
		}
	}
	for _, match := range citationIndexPattern.FindAllStringSubmatch(content, -1) {
		index, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if _, ok := byIndex[index]; ok {
			picked[index] = struct{}{}
		}
	}

	indexes := make([]int, 0, len(picked))
	for index := range picked {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)
	out := make([]string, 0, len(indexes))
	for _, index := range indexes {
		out = append(out, byIndex[index].ID)
	}
	return out
}

func buildReportMetadata(plan *ResearchPlan, chunks []InformationChunk, sources []ReportSource, state DeepResearchState, generatedAt time.Time, mode GenerationMode) ReportMetadata {
	meta := ReportMetadata{
		TotalSearches:   len(state.SearchTasks),
		ChunksCollected: len(chunks),
		SourceCount:     len(sources),
		Iterations:      state.CurrentIteration,
		GenerationMode:  mode,
	}
	for _, task := range state.SearchTasks {
		if task.Status == TaskFailed {
			meta.FailedSearches++
		}
	}
	for _, task := range state.BrowseTasks {
		switch task.Status {
		case TaskCompleted:
			meta.PagesVisited++
		case TaskFailed:
			meta.PagesFailed++
		}
	}
	if plan != nil {
		meta.SubQuestions = len(plan.SubQuestions)
		for _, sq := range plan.SubQuestions {
			if sq.Status == SubQuestionCompleted {
				meta.SubQuestionsCompleted++
			}
		}
	}
	if !state.StartedAt.IsZero() && generatedAt.After(state.StartedAt) {
		meta.DurationMs = generatedAt.Sub(state.StartedAt).Milliseconds()
	}
	return meta
}

func defaultReportTitle(plan *ResearchPlan) string {
	question := planQuestion(plan)
	if question == "" {
		return "Research Report"
	}
	return "Research Report: " + question
}

func questionOf(plan *ResearchPlan, state DeepResearchState) string {
	if plan != nil && strings.TrimSpace(plan.OriginalQuestion) != "" {
		return plan.OriginalQuestion
	}
	return state.Question
}
