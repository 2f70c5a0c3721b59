package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"deepresearch/backend/internal/archive"
	"deepresearch/backend/internal/research"
)

const persistTimeout = 5 * time.Second

// Event types emitted for a run.
const (
	EventPhase      = "phase"
	EventPlan       = "plan"
	EventIteration  = "iteration"
	EventSearch     = "search"
	EventPage       = "page"
	EventChunk      = "chunk"
	EventEvaluation = "evaluation"
	EventWaiting    = "waiting"
	EventProgress   = "progress"
	EventToken      = "token"
	EventReport     = "report"
	EventError      = "error"
	EventDone       = "done"
)

// Publisher receives every event of a run. It is called from the run's
// goroutine and must not block for long.
type Publisher func(runID, eventType string, payload any)

// Run is one research run together with its persistence and event plumbing.
type Run struct {
	services     *Services
	orchestrator *research.Orchestrator
	publish      Publisher
	logger       *zap.Logger
	done         chan struct{}

	mu     sync.Mutex
	report *research.ResearchReport
	err    error
}

// NewRun prepares a run; nothing happens until Execute is called.
func (s *Services) NewRun(opts RunOptions, publish Publisher) *Run {
	if publish == nil {
		publish = func(string, string, any) {}
	}
	run := &Run{services: s, publish: publish, done: make(chan struct{})}

	var pageContext research.PageContextProvider
	if opts.PageContext != nil {
		pageContext = research.StaticPageContext(*opts.PageContext)
	}

	run.orchestrator = research.NewOrchestrator(research.Dependencies{
		Generator:   s.Generator,
		Search:      s.Search,
		Fetcher:     s.Fetcher,
		PageContext: pageContext,
		Logger:      s.Logger.Named("research"),
	}, s.ResearchConfig(opts), run.callbacks())
	run.logger = s.Logger.With(zap.String("run_id", run.orchestrator.ID()))
	return run
}

func (r *Run) ID() string { return r.orchestrator.ID() }

func (r *Run) State() research.DeepResearchState { return r.orchestrator.State() }

func (r *Run) PendingApproval() (research.ApprovalRequest, bool) {
	return r.orchestrator.PendingApproval()
}

func (r *Run) Respond(value string) error { return r.orchestrator.Respond(value) }

func (r *Run) Stop() { r.orchestrator.Stop() }

// Done is closed once Execute has returned.
func (r *Run) Done() <-chan struct{} { return r.done }

func (r *Run) Finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Result returns the report and error of a finished run. Both are nil while
// the run is still going.
func (r *Run) Result() (*research.ResearchReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report, r.err
}

// Execute runs the research to a terminal phase, then stores and archives the
// outcome and publishes the final "done" event.
func (r *Run) Execute(ctx context.Context, question string) (research.ResearchReport, error) {
	defer close(r.done)

	report, err := r.orchestrator.Run(ctx, question)
	r.persistState()

	r.mu.Lock()
	r.err = err
	if err == nil {
		r.report = &report
	}
	r.mu.Unlock()

	if err == nil {
		r.saveReport(report)
	} else if !errors.Is(err, research.ErrAlreadyStarted) {
		r.logger.Info("research run ended without report", zap.Error(err))
	}

	done := map[string]any{"phase": r.orchestrator.State().Phase}
	if err != nil {
		done["error"] = err.Error()
	}
	r.publish(r.ID(), EventDone, done)
	return report, err
}

func (r *Run) saveReport(report research.ResearchReport) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if r.services.Store != nil {
		if err := r.services.Store.SaveReport(ctx, r.ID(), report, archive.RenderMarkdown(report)); err != nil {
			r.logger.Warn("save report failed", zap.Error(err))
		}
	}
	if paths, err := r.services.Archiver.Archive(ctx, report); err != nil {
		r.logger.Warn("archive report failed", zap.Error(err))
	} else if len(paths) > 0 {
		r.logger.Info("report archived", zap.Strings("paths", paths))
	}
}

func (r *Run) persistState() {
	if r.services.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.services.Store.SaveRun(ctx, r.orchestrator.State()); err != nil {
		r.logger.Warn("save run failed", zap.Error(err))
	}
}

func (r *Run) emit(eventType string, payload any) {
	r.publish(r.ID(), eventType, payload)
}

func (r *Run) callbacks() research.Callbacks {
	return research.Callbacks{
		OnPhaseChange: func(from, to research.Phase) {
			r.emit(EventPhase, map[string]any{"from": from, "to": to})
			r.persistState()
		},
		OnPlanCreated: func(plan research.ResearchPlan) {
			r.emit(EventPlan, plan)
			r.persistState()
		},
		OnIterationStart: func(iteration int, subQuestion research.SubQuestion) {
			r.emit(EventIteration, map[string]any{"iteration": iteration, "status": "started", "subQuestion": subQuestion})
		},
		OnSearchComplete: func(iteration int, tasks []research.SearchTask) {
			r.emit(EventSearch, map[string]any{"iteration": iteration, "tasks": tasks})
		},
		OnPageVisited: func(iteration int, task research.BrowseTask) {
			task.Content = ""
			r.emit(EventPage, map[string]any{"iteration": iteration, "task": task})
		},
		OnChunkExtracted: func(chunk research.InformationChunk) {
			r.emit(EventChunk, chunk)
		},
		OnEvaluation: func(iteration int, evaluation research.ResearchEvaluation) {
			r.emit(EventEvaluation, map[string]any{"iteration": iteration, "evaluation": evaluation})
		},
		OnIterationComplete: func(iteration int) {
			r.emit(EventIteration, map[string]any{"iteration": iteration, "status": "completed"})
			r.persistState()
		},
		OnWaiting: func(request research.ApprovalRequest) {
			r.emit(EventWaiting, request)
		},
		OnReportToken: func(delta string) {
			r.emit(EventToken, map[string]any{"delta": delta})
		},
		OnReportGenerated: func(report research.ResearchReport) {
			r.emit(EventReport, report)
		},
		OnProgress: func(progress research.Progress) {
			r.emit(EventProgress, progress)
		},
		OnError: func(err error) {
			r.emit(EventError, map[string]any{"message": err.Error()})
		},
	}
}
