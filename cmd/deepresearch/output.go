package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"deepresearch/backend/internal/app"
	"deepresearch/backend/internal/archive"
	"deepresearch/backend/internal/research"
)

const (
	formatMarkdown = "markdown"
	formatJSON     = "json"
	formatYAML     = "yaml"
)

func validateFormat(format string) error {
	switch format {
	case formatMarkdown, formatJSON, formatYAML:
		return nil
	default:
		return fmt.Errorf("unknown format %q (want markdown, json or yaml)", format)
	}
}

func renderReport(report research.ResearchReport, format string) ([]byte, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case formatYAML:
		return archive.RenderYAML(report)
	case formatMarkdown:
		return []byte(archive.RenderMarkdown(report)), nil
	default:
		return nil, validateFormat(format)
	}
}

func writeOutput(path string, data []byte, stdout io.Writer) error {
	if strings.TrimSpace(path) == "" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// progressPrinter turns run events into one-line status updates.
type progressPrinter struct {
	mu    sync.Mutex
	w     io.Writer
	quiet bool
}

func newProgressPrinter(w io.Writer, quiet bool) *progressPrinter {
	return &progressPrinter{w: w, quiet: quiet}
}

func (p *progressPrinter) handle(eventType string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch eventType {
	case app.EventProgress:
		progress, ok := payload.(research.Progress)
		if !ok || p.quiet {
			return
		}
		line := fmt.Sprintf("[%3d%%] %s", progress.Percentage, progress.CurrentTask)
		if progress.Iteration > 0 {
			line += fmt.Sprintf(" (iteration %d/%d)", progress.Iteration, progress.MaxIterations)
		}
		fmt.Fprintln(p.w, line)
	case app.EventPlan:
		plan, ok := payload.(research.ResearchPlan)
		if !ok || p.quiet {
			return
		}
		fmt.Fprintf(p.w, "Plan: %s\n", plan.RefinedQuestion)
		for i, sq := range plan.SubQuestions {
			fmt.Fprintf(p.w, "  %d. %s\n", i+1, sq.Question)
		}
	case app.EventError:
		if fields, ok := payload.(map[string]any); ok {
			fmt.Fprintf(p.w, "error: %v\n", fields["message"])
		}
	}
}

var errNoInput = errors.New("input closed")

// prompter asks for approval decisions on a line-oriented reader.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

// ask prints the request and reads until one of its options is entered. An
// empty line picks the first option.
func (p *prompter) ask(request research.ApprovalRequest) (string, error) {
	if len(request.Options) == 0 {
		return "", errors.New("approval request has no options")
	}
	fmt.Fprintln(p.out, request.Message)
	for i, candidate := range request.Candidates {
		fmt.Fprintf(p.out, "  %d. %s <%s>\n", i+1, candidate.Title, candidate.URL)
	}
	for {
		fmt.Fprintf(p.out, "%s [%s]: ", strings.Join(request.Options, "/"), request.Options[0])
		line, err := p.in.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		if answer == "" && err == nil {
			return request.Options[0], nil
		}
		if slices.Contains(request.Options, answer) {
			return answer, nil
		}
		if err != nil {
			return "", errNoInput
		}
		fmt.Fprintf(p.out, "please answer one of: %s\n", strings.Join(request.Options, ", "))
	}
}
