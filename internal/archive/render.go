package archive

import (
	"fmt"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"deepresearch/backend/internal/research"
)

// RenderMarkdown formats a report as a standalone Markdown document with a
// numbered source list matching the [n] markers in the text.
func RenderMarkdown(report research.ResearchReport) string {
	var b strings.Builder

	title := strings.TrimSpace(report.Title)
	if title == "" {
		title = "Research Report"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	if question := strings.TrimSpace(report.Question); question != "" && question != title {
		fmt.Fprintf(&b, "> %s\n\n", question)
	}
	if summary := strings.TrimSpace(report.Summary); summary != "" {
		fmt.Fprintf(&b, "## Summary\n\n%s\n\n", summary)
	}

	for _, section := range report.Sections {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", strings.TrimSpace(section.Title), strings.TrimSpace(section.Content))
	}

	if limitations := strings.TrimSpace(report.Limitations); limitations != "" {
		fmt.Fprintf(&b, "## Limitations\n\n%s\n\n", limitations)
	}

	if len(report.Sources) > 0 {
		b.WriteString("## Sources\n\n")
		for _, source := range report.Sources {
			label := strings.TrimSpace(source.Title)
			if label == "" {
				label = source.URL
			}
			fmt.Fprintf(&b, "%d. [%s](%s)\n", source.Index, label, source.URL)
		}
		b.WriteString("\n")
	}

	meta := report.Metadata
	fmt.Fprintf(&b, "---\n\n*%d iterations, %d searches (%d failed), %d pages visited, %d findings from %d sources. Generated %s",
		meta.Iterations, meta.TotalSearches, meta.FailedSearches, meta.PagesVisited, meta.ChunksCollected, meta.SourceCount,
		report.GeneratedAt.UTC().Format(time.RFC3339))
	if meta.GenerationMode != "" {
		fmt.Fprintf(&b, " (%s)", meta.GenerationMode)
	}
	b.WriteString(".*\n")

	return b.String()
}

type yamlReport struct {
	ID          string        `yaml:"id"`
	Title       string        `yaml:"title"`
	Question    string        `yaml:"question"`
	Summary     string        `yaml:"summary,omitempty"`
	Sections    []yamlSection `yaml:"sections"`
	Limitations string        `yaml:"limitations,omitempty"`
	Sources     []yamlSource  `yaml:"sources"`
	Metadata    yamlMetadata  `yaml:"metadata"`
	GeneratedAt string        `yaml:"generated_at"`
}

type yamlSection struct {
	Title     string   `yaml:"title"`
	Content   string   `yaml:"content"`
	Citations []string `yaml:"citations,omitempty"`
}

type yamlSource struct {
	Index int    `yaml:"index"`
	Title string `yaml:"title,omitempty"`
	URL   string `yaml:"url"`
}

type yamlMetadata struct {
	Iterations      int    `yaml:"iterations"`
	TotalSearches   int    `yaml:"total_searches"`
	FailedSearches  int    `yaml:"failed_searches"`
	PagesVisited    int    `yaml:"pages_visited"`
	ChunksCollected int    `yaml:"chunks_collected"`
	SourceCount     int    `yaml:"source_count"`
	DurationMs      int64  `yaml:"duration_ms"`
	GenerationMode  string `yaml:"generation_mode"`
}

func RenderYAML(report research.ResearchReport) ([]byte, error) {
	doc := yamlReport{
		ID:          report.ID,
		Title:       report.Title,
		Question:    report.Question,
		Summary:     report.Summary,
		Limitations: report.Limitations,
		Sections:    make([]yamlSection, 0, len(report.Sections)),
		Sources:     make([]yamlSource, 0, len(report.Sources)),
		Metadata: yamlMetadata{
			Iterations:      report.Metadata.Iterations,
			TotalSearches:   report.Metadata.TotalSearches,
			FailedSearches:  report.Metadata.FailedSearches,
			PagesVisited:    report.Metadata.PagesVisited,
			ChunksCollected: report.Metadata.ChunksCollected,
			SourceCount:     report.Metadata.SourceCount,
			DurationMs:      report.Metadata.DurationMs,
			GenerationMode:  string(report.Metadata.GenerationMode),
		},
		GeneratedAt: report.GeneratedAt.UTC().Format(time.RFC3339),
	}
	for _, section := range report.Sections {
		doc.Sections = append(doc.Sections, yamlSection{Title: section.Title, Content: section.Content, Citations: section.Citations})
	}
	for _, source := range report.Sources {
		doc.Sources = append(doc.Sources, yamlSource{Index: source.Index, Title: source.Title, URL: source.URL})
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode report yaml: %w", err)
	}
	return out, nil
}
