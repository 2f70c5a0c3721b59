package research

import (
	"fmt"
	"strings"
)

// Progress is the UI-facing status of a run.
type Progress struct {
	Phase         Phase  `json:"phase"`
	Current       int    `json:"current"`
	Total         int    `json:"total"`
	Percentage    int    `json:"percentage"`
	CurrentTask   string `json:"currentTask"`
	Iteration     int    `json:"iteration"`
	MaxIterations int    `json:"maxIterations"`
	Title         string `json:"title,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

const stepsPerIteration = 4

// progressTotal counts planning, four steps per iteration and report generation.
func progressTotal(iterationBound int) int {
	if iterationBound < 0 {
		iterationBound = 0
	}
	return 2 + stepsPerIteration*iterationBound
}

// iterationStep returns the progress position of step (1..4) inside iteration.
func iterationStep(iteration, step int) int {
	return 1 + stepsPerIteration*(iteration-1) + step
}

func newProgress(phase Phase, current, total int, task string, iteration, maxIterations int) Progress {
	if total < 1 {
		total = 1
	}
	current = clampInt(current, 0, total)
	return WithProgressSummary(Progress{
		Phase:         phase,
		Current:       current,
		Total:         total,
		Percentage:    current * 100 / total,
		CurrentTask:   strings.TrimSpace(task),
		Iteration:     iteration,
		MaxIterations: maxIterations,
	})
}

type ProgressSummary struct {
	Title  string
	Detail string
}

func BuildProgressSummary(progress Progress) ProgressSummary {
	summary := ProgressSummary{}

	switch progress.Phase {
	case PhasePlanning:
		summary.Title = "Planning research"
		summary.Detail = "Breaking the question into sub-questions"
	case PhaseSearching:
		summary.Title = "Searching the web"
		summary.Detail = iterationDetail(progress)
	case PhaseWaiting:
		summary.Title = "Waiting for your decision"
	case PhaseBrowsing:
		summary.Title = "Reading selected sources"
		summary.Detail = iterationDetail(progress)
	case PhaseAnalyzing:
		summary.Title = "Extracting evidence"
		summary.Detail = "Scoring findings for relevance and credibility"
	case PhaseEvaluating:
		summary.Title = "Checking coverage"
		summary.Detail = "Deciding whether the evidence answers the question"
	case PhaseGenerating:
		summary.Title = "Writing report"
		summary.Detail = "Grounding claims to collected sources"
	case PhaseCompleted:
		summary.Title = "Research complete"
	case PhaseCancelled:
		summary.Title = "Research stopped"
	case PhaseError:
		summary.Title = "Research failed"
	default:
		summary.Title = progress.CurrentTask
	}

	if summary.Title == "" {
		summary.Title = "Working on your request"
	}
	return summary
}

func WithProgressSummary(progress Progress) Progress {
	summary := BuildProgressSummary(progress)
	progress.Title = summary.Title
	progress.Detail = summary.Detail
	return progress
}

func iterationDetail(progress Progress) string {
	if progress.Iteration <= 0 || progress.MaxIterations <= 0 {
		return ""
	}
	return fmt.Sprintf("Iteration %d of %d", progress.Iteration, progress.MaxIterations)
}
