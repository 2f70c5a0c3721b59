package research

import (
	"fmt"
	"strings"
	"time"
)

const (
	plannerSystemPrompt    = "You are a research planner. Return only valid JSON that follows the provided schema."
	analysisSystemPrompt   = "You extract evidence from web pages. Return only a JSON array that follows the provided schema."
	evaluationSystemPrompt = "You judge research coverage. Return only valid JSON that follows the provided schema."
	reportSystemPrompt     = "You write cited research reports. Return only valid JSON that follows the provided schema."
)

func buildPlanPrompt(question string, pageContext *PageContext, limits planLimits, now time.Time) string {
	var b strings.Builder
	b.WriteString("Decompose the research question into independently researchable sub-questions.\n")
	b.WriteString("Schema: {\"refinedQuestion\":string,\"goal\":string,\"reasoning\":string,")
	b.WriteString("\"subQuestions\":[{\"question\":string,\"priority\":number,\"searchQueries\":string[]}],")
	b.WriteString("\"searchStrategy\":{\"depth\":\"quick|standard|deep\",\"maxIterations\":number,\"maxPagesPerIteration\":number,\"preferredEngines\":string[]}}\n")
	b.WriteString("Rules:\n")
	b.WriteString(fmt.Sprintf("- Produce between 2 and %d sub-questions, priority 1 is most important.\n", limits.maxSubQuestions))
	b.WriteString("- Give each sub-question 2 to 4 short, specific web search queries.\n")
	b.WriteString(fmt.Sprintf("- maxIterations must not exceed %d and maxPagesPerIteration must not exceed %d.\n", limits.maxIterations, limits.maxPagesPerIteration))
	if len(limits.engines) > 0 {
		b.WriteString("- preferredEngines must be chosen from: ")
		b.WriteString(strings.Join(limits.engines, ", "))
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("- Current UTC date: %s.\n", now.UTC().Format("2006-01-02")))
	if pageContext != nil && (pageContext.Title != "" || pageContext.URL != "") {
		b.WriteString("\nThe user was viewing this page when asking:\n")
		if pageContext.Title != "" {
			b.WriteString("Title: ")
			b.WriteString(pageContext.Title)
			b.WriteString("\n")
		}
		if pageContext.URL != "" {
			b.WriteString("URL: ")
			b.WriteString(pageContext.URL)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nQuestion:\n")
	b.WriteString(strings.TrimSpace(question))
	return strings.TrimSpace(b.String())
}

func buildAnalysisPrompt(plan *ResearchPlan, subQuestion *SubQuestion, task BrowseTask, content string) string {
	var b strings.Builder
	b.WriteString("Extract the facts from the page below that help answer the sub-question.\n")
	b.WriteString("Schema: [{\"content\":string,\"relevance\":number,\"credibility\":number}]\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Each item is one self-contained fact or claim, quoted or closely paraphrased.\n")
	b.WriteString("- relevance and credibility are between 0 and 1.\n")
	b.WriteString("- Return [] when the page has nothing useful.\n")
	b.WriteString("\nResearch question: ")
	b.WriteString(planQuestion(plan))
	b.WriteString("\n")
	if subQuestion != nil {
		b.WriteString("Sub-question: ")
		b.WriteString(subQuestion.Question)
		b.WriteString("\n")
	}
	b.WriteString("\nPage title: ")
	b.WriteString(task.Title)
	b.WriteString("\nPage URL: ")
	b.WriteString(task.URL)
	b.WriteString("\n\nPage content:\n")
	b.WriteString(content)
	return strings.TrimSpace(b.String())
}

func buildEvaluationPrompt(plan *ResearchPlan, chunks []InformationChunk, excerptCount, excerptChars int) string {
	var b strings.Builder
	b.WriteString("Judge how completely the collected evidence answers the research plan.\n")
	b.WriteString("Schema: {\"coverageScore\":number,\"isComplete\":boolean,\"gaps\":string[],\"nextSearches\":string[],")
	b.WriteString("\"keyFindings\":string[],\"recommendation\":\"continue|complete|pivot\",\"reasoning\":string}\n")
	b.WriteString("Rules:\n")
	b.WriteString("- coverageScore is between 0 and 100.\n")
	b.WriteString("- Recommend complete only when every high-priority sub-question is answered.\n")
	b.WriteString("- nextSearches are concrete web queries that would close the gaps.\n")
	b.WriteString("\nResearch question: ")
	b.WriteString(planQuestion(plan))
	b.WriteString("\n\nSub-question status:\n")
	for _, sq := range plan.SubQuestions {
		b.WriteString(fmt.Sprintf("- [%s] (priority %d, %d findings) %s\n", sq.Status, sq.Priority, len(sq.Findings), sq.Question))
	}

	ranked := topChunksByRelevance(chunks, excerptCount)
	b.WriteString(fmt.Sprintf("\nTop evidence (%d of %d chunks):\n", len(ranked), len(chunks)))
	for i, chunk := range ranked {
		b.WriteString(fmt.Sprintf("%d. (relevance %.2f, credibility %.2f) %s\n", i+1, chunk.Relevance, chunk.Credibility, trimToRunes(collapseWhitespace(chunk.Content), excerptChars)))
	}
	return strings.TrimSpace(b.String())
}

func buildReportPrompt(plan *ResearchPlan, sources []ReportSource, chunks []InformationChunk) string {
	var b strings.Builder
	b.WriteString("Write a structured research report from the evidence below.\n")
	b.WriteString("Schema: {\"title\":string,\"summary\":string,\"sections\":[{\"title\":string,\"content\":string,\"citations\":number[]}],")
	b.WriteString("\"limitations\":string,\"conclusion\":string}\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Cite evidence inline with the bracketed source numbers, e.g. [1] or [2][3].\n")
	b.WriteString("- citations lists the source numbers used in that section.\n")
	b.WriteString("- Only state what the evidence supports and name what is missing under limitations.\n")
	b.WriteString("\nResearch question: ")
	b.WriteString(planQuestion(plan))
	if plan != nil && strings.TrimSpace(plan.Goal) != "" {
		b.WriteString("\nGoal: ")
		b.WriteString(plan.Goal)
	}
	if plan != nil && len(plan.SubQuestions) > 0 {
		b.WriteString("\n\nSub-questions:\n")
		for _, sq := range plan.SubQuestions {
			b.WriteString("- ")
			b.WriteString(sq.Question)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nEvidence by source:\n")
	b.WriteString(formatChunksBySource(sources, chunks))
	return strings.TrimSpace(b.String())
}

// formatChunksBySource lists every chunk under its source heading, prefixed by
// the source's citation marker.
func formatChunksBySource(sources []ReportSource, chunks []InformationChunk) string {
	if len(sources) == 0 {
		return "(no information collected)\n"
	}
	byURL := make(map[string][]InformationChunk, len(sources))
	for _, chunk := range chunks {
		byURL[chunk.SourceURL] = append(byURL[chunk.SourceURL], chunk)
	}

	var b strings.Builder
	for _, source := range sources {
		b.WriteString(fmt.Sprintf("[%d] %s (%s)\n", source.Index, source.Title, source.URL))
		for _, chunk := range byURL[source.URL] {
			b.WriteString(fmt.Sprintf("  - [%d] %s\n", source.Index, collapseWhitespace(chunk.Content)))
		}
	}
	return b.String()
}

func planQuestion(plan *ResearchPlan) string {
	if plan == nil {
		return ""
	}
	if refined := strings.TrimSpace(plan.RefinedQuestion); refined != "" {
		return refined
	}
	return strings.TrimSpace(plan.OriginalQuestion)
}
