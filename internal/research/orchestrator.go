package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrAlreadyStarted = errors.New("research run already started")
	ErrCancelled      = errors.New("research run cancelled")
)

// Dependencies are the adapters one run talks to.
type Dependencies struct {
	Generator   TextGenerator
	Search      SearchExecutor
	Fetcher     PageFetcher
	PageContext PageContextProvider
	Logger      *zap.Logger
}

// Orchestrator drives a single research run. Create one per run; it cannot be
// restarted.
type Orchestrator struct {
	runID       string
	cfg         Config
	planner     Planner
	searcher    WebSearcher
	fetcher     PageFetcher
	aggregator  Aggregator
	reporter    ReportGenerator
	pageContext PageContextProvider
	callbacks   Callbacks
	gate        *approvalGate
	logger      *zap.Logger
	now         func() time.Time

	mu      sync.Mutex
	state   DeepResearchState
	started bool
	cancel  context.CancelFunc
}

func NewOrchestrator(deps Dependencies, cfg Config, callbacks Callbacks) *Orchestrator {
	cfg = ResolveConfig(cfg)
	runID := newID("run")
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("run_id", runID))

	reporter := NewReportGenerator(deps.Generator, ReportConfig{Timeout: cfg.GenerationTimeout}, logger)
	if callbacks.OnReportToken != nil {
		onToken := callbacks.OnReportToken
		reporter = reporter.WithTokenHandler(func(delta string) error {
			onToken(delta)
			return nil
		})
	}

	return &Orchestrator{
		runID: runID,
		cfg:   cfg,
		planner: NewPlanner(deps.Generator, PlannerConfig{
			MaxSubQuestions:      cfg.MaxSubQuestions,
			MaxIterations:        cfg.MaxIterations,
			MaxPagesPerIteration: cfg.MaxPagesPerIteration,
			Engines:              cfg.Engines,
			Timeout:              cfg.GenerationTimeout,
		}, logger),
		searcher: NewWebSearcher(deps.Search, SearcherConfig{
			Timeout:       cfg.SearchTimeout,
			DeniedHosts:   cfg.DeniedHosts,
			DefaultEngine: firstOrEmpty(cfg.Engines),
		}, logger),
		fetcher: deps.Fetcher,
		aggregator: NewAggregator(deps.Generator, AggregatorConfig{
			MinContentLength: cfg.MinContentLength,
			MaxContentChars:  cfg.MaxContentChars,
			Timeout:          cfg.GenerationTimeout,
		}, logger),
		reporter:    reporter,
		pageContext: deps.PageContext,
		callbacks:   callbacks,
		gate:        newApprovalGate(),
		logger:      logger,
		now:         time.Now,
		state:       newState(runID),
	}
}

func (o *Orchestrator) ID() string {
	return o.runID
}

// State returns a deep copy of the run's current state.
func (o *Orchestrator) State() DeepResearchState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Clone()
}

// PendingApproval returns the request the run is currently blocked on, if any.
func (o *Orchestrator) PendingApproval() (ApprovalRequest, bool) {
	return o.gate.current()
}

// Respond answers the pending approval request. value must be one of the
// request's options.
func (o *Orchestrator) Respond(value string) error {
	return o.gate.respond(value)
}

// Stop cancels the run. It is a no-op once the run is terminal.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.state.Phase.Terminal() {
		o.mu.Unlock()
		return
	}
	if !o.started {
		from := o.state.Phase
		o.state.Phase = PhaseCancelled
		o.state.CompletedAt = o.now().UTC()
		o.mu.Unlock()
		o.callbacks.phaseChange(from, PhaseCancelled)
		return
	}
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		o.logger.Info("research stop requested")
		cancel()
	}
}

// Run executes the whole research loop and blocks until a terminal phase is
// reached. A report is returned on completion; planning failure returns an
// error wrapping ErrPlanningFailed and cancellation one wrapping ErrCancelled.
func (o *Orchestrator) Run(ctx context.Context, question string) (ResearchReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	trimmed := strings.TrimSpace(question)

	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return ResearchReport{}, ErrAlreadyStarted
	}
	o.started = true
	if o.state.Phase == PhaseCancelled {
		o.mu.Unlock()
		return ResearchReport{}, ErrCancelled
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.state.Question = trimmed
	o.state.StartedAt = o.now().UTC()
	o.mu.Unlock()
	defer cancel()

	if o.cfg.RunTimeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, o.cfg.RunTimeout)
		defer cancelTimeout()
	}

	o.logger.Info("research started", zap.String("question", trimToRunes(trimmed, 200)))
	o.transition(PhasePlanning)
	o.reportProgress(PhasePlanning, 0, "Creating research plan", 0)

	plan, err := o.planner.CreatePlan(runCtx, trimmed, o.resolvePageContext(runCtx))
	if err != nil {
		if runCtx.Err() != nil {
			return o.finishCancelled(runCtx.Err())
		}
		return o.fail(err)
	}

	bound := minInt(plan.SearchStrategy.MaxIterations, len(plan.SubQuestions))
	o.update(func(s *DeepResearchState) {
		s.Plan = plan
		s.MaxIterations = bound
	})
	o.callbacks.planCreated(plan)
	o.reportProgress(PhasePlanning, 1, fmt.Sprintf("Plan ready with %d sub-questions", len(plan.SubQuestions)), 0)

	for iteration := 1; iteration <= bound; iteration++ {
		if err := runCtx.Err(); err != nil {
			return o.finishCancelled(err)
		}
		done, err := o.runIteration(runCtx, iteration, bound)
		if err != nil {
			return o.finishCancelled(err)
		}
		o.callbacks.iterationComplete(iteration)
		if done {
			break
		}
	}
	if err := runCtx.Err(); err != nil {
		return o.finishCancelled(err)
	}
	return o.generate(runCtx)
}

// runIteration researches the next pending sub-question. It reports done when
// the loop should stop and returns an error only when ctx ended.
func (o *Orchestrator) runIteration(ctx context.Context, iteration, bound int) (bool, error) {
	sq, ok := o.beginSubQuestion(iteration)
	if !ok {
		return true, nil
	}
	logger := o.logger.With(zap.Int("iteration", iteration), zap.String("sub_question_id", sq.ID))
	o.callbacks.iterationStart(iteration, sq)

	o.transition(PhaseSearching)
	o.reportProgress(PhaseSearching, iterationStep(iteration, 1), "Searching: "+sq.Question, iteration)
	tasks := o.searcher.SearchEngines(ctx, sq.SearchQueries, o.engines(), o.cfg.MaxResultsPerSearch)
	if err := ctx.Err(); err != nil {
		return false, err
	}
	o.update(func(s *DeepResearchState) {
		s.SearchTasks = append(s.SearchTasks, tasks...)
	})
	o.callbacks.searchComplete(iteration, tasks)

	candidates := o.unvisited(o.searcher.FilterResults(MergeResults(tasks)))
	if len(candidates) == 0 {
		logger.Warn("search produced no usable results",
			zap.Int("tasks", len(tasks)),
			zap.Int("failed_tasks", countFailedSearches(tasks)),
		)
		o.finishSubQuestion(sq.ID, SubQuestionSkipped)
		return false, nil
	}
	pages := o.pagesPerIteration()
	if len(candidates) > pages {
		candidates = candidates[:pages]
	}

	if o.cfg.RequireBrowseApproval {
		decision, err := o.awaitApproval(ctx, ApprovalRequest{
			Kind:          ApprovalBrowse,
			Message:       fmt.Sprintf("Visit %d pages to research %q?", len(candidates), sq.Question),
			Options:       []string{DecisionApprove, DecisionSkip},
			Iteration:     iteration,
			SubQuestionID: sq.ID,
			Candidates:    candidates,
		})
		if err != nil {
			return false, err
		}
		if decision == DecisionSkip {
			logger.Info("browsing skipped")
			o.finishSubQuestion(sq.ID, SubQuestionSkipped)
			return o.evaluate(ctx, iteration, bound)
		}
	}

	o.transition(PhaseBrowsing)
	visited := make([]BrowseTask, 0, len(candidates))
	for i, candidate := range candidates {
		o.reportProgress(PhaseBrowsing, iterationStep(iteration, 2), fmt.Sprintf("Reading page %d of %d: %s", i+1, len(candidates), candidate.URL), iteration)
		task, err := o.visit(ctx, candidate)
		o.update(func(s *DeepResearchState) {
			s.BrowseTasks = append(s.BrowseTasks, task)
		})
		if err != nil {
			return false, err
		}
		o.callbacks.pageVisited(iteration, task)
		if task.Status == TaskCompleted {
			visited = append(visited, task)
		}
	}

	o.transition(PhaseAnalyzing)
	o.reportProgress(PhaseAnalyzing, iterationStep(iteration, 3), fmt.Sprintf("Analyzing %d pages", len(visited)), iteration)
	for _, task := range visited {
		chunks := o.aggregator.AnalyzePageContent(ctx, task, o.State().Plan, sq.ID)
		if err := ctx.Err(); err != nil {
			return false, err
		}
		o.addChunks(sq.ID, task.ID, chunks)
		for _, chunk := range chunks {
			o.callbacks.chunkExtracted(chunk)
		}
		logger.Debug("page analyzed", zap.String("url", task.URL), zap.Int("chunks", len(chunks)))
	}
	o.finishSubQuestion(sq.ID, SubQuestionCompleted)

	return o.evaluate(ctx, iteration, bound)
}

func (o *Orchestrator) evaluate(ctx context.Context, iteration, bound int) (bool, error) {
	o.transition(PhaseEvaluating)
	o.reportProgress(PhaseEvaluating, iterationStep(iteration, 4), "Evaluating research coverage", iteration)

	snapshot := o.State()
	evaluation := o.aggregator.EvaluateProgress(ctx, snapshot.Plan, snapshot.Chunks)
	if err := ctx.Err(); err != nil {
		return false, err
	}
	o.update(func(s *DeepResearchState) {
		stored := evaluation.Clone()
		s.Evaluation = &stored
		s.Evaluations = append(s.Evaluations, evaluation.Clone())
	})
	o.callbacks.evaluation(iteration, evaluation)
	o.logger.Info("iteration evaluated",
		zap.Int("iteration", iteration),
		zap.Int("coverage", evaluation.CoverageScore),
		zap.String("recommendation", string(evaluation.Recommendation)),
		zap.Int("chunks", len(snapshot.Chunks)),
	)

	if evaluation.IsComplete || evaluation.Recommendation == RecommendComplete {
		return true, nil
	}

	if o.cfg.RequireContinueApproval && iteration < bound && o.hasPendingSubQuestion() {
		decision, err := o.awaitApproval(ctx, ApprovalRequest{
			Kind:       ApprovalContinue,
			Message:    fmt.Sprintf("Coverage is %d%%. Continue researching?", evaluation.CoverageScore),
			Options:    []string{DecisionContinue, DecisionComplete},
			Iteration:  iteration,
			Evaluation: &evaluation,
		})
		if err != nil {
			return false, err
		}
		if decision == DecisionComplete {
			return true, nil
		}
	}

	o.update(func(s *DeepResearchState) {
		injectNextSearches(s.Plan, evaluation.NextSearches)
	})
	return false, nil
}

func (o *Orchestrator) generate(ctx context.Context) (ResearchReport, error) {
	o.transition(PhaseGenerating)
	snapshot := o.State()
	total := progressTotal(snapshot.MaxIterations)
	o.reportProgress(PhaseGenerating, total-1, "Generating report", snapshot.CurrentIteration)

	report := o.reporter.GenerateReport(ctx, snapshot.Plan, snapshot.Chunks, snapshot)
	if err := ctx.Err(); err != nil {
		return o.finishCancelled(err)
	}

	o.update(func(s *DeepResearchState) {
		stored := report.Clone()
		s.Report = &stored
		if s.Plan != nil {
			s.Plan.Status = PlanStatusCompleted
		}
		s.CurrentSubQuestionID = ""
		s.CompletedAt = o.now().UTC()
	})
	o.callbacks.reportGenerated(report)
	o.transition(PhaseCompleted)
	o.reportProgress(PhaseCompleted, total, "Research complete", snapshot.CurrentIteration)
	o.logger.Info("research completed",
		zap.String("report_id", report.ID),
		zap.Int("sections", len(report.Sections)),
		zap.Int("sources", len(report.Sources)),
		zap.String("generation_mode", string(report.Metadata.GenerationMode)),
	)
	return report, nil
}

// visit fetches one candidate page. The returned error is non-nil only when
// ctx ended; fetch failures are recorded on the task.
func (o *Orchestrator) visit(ctx context.Context, candidate SearchResult) (BrowseTask, error) {
	task := BrowseTask{
		ID:     newID("browse"),
		URL:    candidate.URL,
		Title:  candidate.Title,
		Status: TaskRunning,
		Chunks: []InformationChunk{},
	}
	if o.fetcher == nil {
		task.Status = TaskFailed
		task.Error = "page fetcher unavailable"
		return task, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	page, err := o.fetcher.Fetch(fetchCtx, candidate.URL)
	cancel()
	if ctxErr := ctx.Err(); ctxErr != nil {
		task.Status = TaskFailed
		task.Error = ctxErr.Error()
		return task, ctxErr
	}
	if err != nil {
		o.logger.Warn("page fetch failed", zap.String("url", candidate.URL), zap.Error(err))
		task.Status = TaskFailed
		task.Error = err.Error()
		return task, nil
	}

	task.Status = TaskCompleted
	task.Content = page.Content
	if title := strings.TrimSpace(page.Title); title != "" {
		task.Title = title
	}
	return task, nil
}

func (o *Orchestrator) awaitApproval(ctx context.Context, request ApprovalRequest) (string, error) {
	request.ID = newID("approval")
	request.RequestedAt = o.now().UTC()

	o.gate.open(request)
	o.update(func(s *DeepResearchState) {
		pending := request.Clone()
		s.PendingApproval = &pending
	})
	o.transition(PhaseWaiting)
	o.callbacks.waiting(request)

	decision, err := o.gate.await(ctx)
	o.update(func(s *DeepResearchState) {
		s.PendingApproval = nil
	})
	if err != nil {
		return "", err
	}
	o.logger.Info("approval answered",
		zap.String("kind", string(request.Kind)),
		zap.String("decision", decision),
		zap.Int("iteration", request.Iteration),
	)
	return decision, nil
}

func (o *Orchestrator) fail(err error) (ResearchReport, error) {
	o.update(func(s *DeepResearchState) {
		s.Error = err.Error()
		if s.Plan != nil {
			s.Plan.Status = PlanStatusFailed
		}
		s.CompletedAt = o.now().UTC()
	})
	o.logger.Error("research failed", zap.Error(err))
	o.transition(PhaseError)
	o.callbacks.failed(err)
	o.reportProgress(PhaseError, 0, err.Error(), 0)
	return ResearchReport{}, err
}

// finishCancelled leaves the plan and any researching sub-question as they
// were so the partial run can be inspected.
func (o *Orchestrator) finishCancelled(cause error) (ResearchReport, error) {
	o.update(func(s *DeepResearchState) {
		if s.Plan != nil {
			s.Plan.Status = PlanStatusCancelled
		}
		s.PendingApproval = nil
		s.CompletedAt = o.now().UTC()
	})
	o.logger.Info("research cancelled", zap.Error(cause))
	o.transition(PhaseCancelled)
	return ResearchReport{}, fmt.Errorf("%w: %v", ErrCancelled, cause)
}

func (o *Orchestrator) transition(to Phase) {
	o.mu.Lock()
	from := o.state.Phase
	if from == to || from.Terminal() {
		o.mu.Unlock()
		return
	}
	o.state.Phase = to
	o.mu.Unlock()

	o.logger.Debug("phase change", zap.String("from", string(from)), zap.String("to", string(to)))
	o.callbacks.phaseChange(from, to)
}

func (o *Orchestrator) reportProgress(phase Phase, current int, task string, iteration int) {
	o.mu.Lock()
	bound := o.state.MaxIterations
	progress := newProgress(phase, current, progressTotal(bound), task, iteration, bound)
	o.state.Progress = progress
	o.mu.Unlock()
	o.callbacks.progress(progress)
}

func (o *Orchestrator) update(fn func(*DeepResearchState)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(&o.state)
}

// beginSubQuestion marks the first pending sub-question as researching.
func (o *Orchestrator) beginSubQuestion(iteration int) (SubQuestion, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Plan == nil {
		return SubQuestion{}, false
	}
	for i := range o.state.Plan.SubQuestions {
		sq := &o.state.Plan.SubQuestions[i]
		if sq.Status != SubQuestionPending {
			continue
		}
		sq.Status = SubQuestionResearching
		o.state.CurrentIteration = iteration
		o.state.CurrentSubQuestionID = sq.ID
		out := *sq
		out.SearchQueries = append([]string{}, sq.SearchQueries...)
		out.Findings = append([]InformationChunk{}, sq.Findings...)
		return out, true
	}
	return SubQuestion{}, false
}

func (o *Orchestrator) finishSubQuestion(id string, status SubQuestionStatus) {
	o.update(func(s *DeepResearchState) {
		if sq := findSubQuestion(s.Plan, id); sq != nil {
			sq.Status = status
		}
		if s.CurrentSubQuestionID == id {
			s.CurrentSubQuestionID = ""
		}
	})
}

// addChunks records one page's chunks in the global list, the sub-question's
// findings and the browse task in a single step.
func (o *Orchestrator) addChunks(subQuestionID, browseTaskID string, chunks []InformationChunk) {
	if len(chunks) == 0 {
		return
	}
	o.update(func(s *DeepResearchState) {
		s.Chunks = append(s.Chunks, chunks...)
		if sq := findSubQuestion(s.Plan, subQuestionID); sq != nil {
			sq.Findings = append(sq.Findings, chunks...)
		}
		for i := range s.BrowseTasks {
			if s.BrowseTasks[i].ID == browseTaskID {
				s.BrowseTasks[i].Chunks = append(s.BrowseTasks[i].Chunks, chunks...)
				break
			}
		}
	})
}

// unvisited drops candidates whose page an earlier iteration already read.
func (o *Orchestrator) unvisited(candidates []SearchResult) []SearchResult {
	o.mu.Lock()
	seen := make(map[string]struct{}, len(o.state.BrowseTasks))
	for _, task := range o.state.BrowseTasks {
		seen[NormalizeURL(task.URL)] = struct{}{}
	}
	o.mu.Unlock()

	out := candidates[:0]
	for _, candidate := range candidates {
		if _, ok := seen[NormalizeURL(candidate.URL)]; !ok {
			out = append(out, candidate)
		}
	}
	return out
}

func (o *Orchestrator) hasPendingSubQuestion() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Plan == nil {
		return false
	}
	for _, sq := range o.state.Plan.SubQuestions {
		if sq.Status == SubQuestionPending {
			return true
		}
	}
	return false
}

func (o *Orchestrator) engines() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Plan != nil && len(o.state.Plan.SearchStrategy.PreferredEngines) > 0 {
		return append([]string{}, o.state.Plan.SearchStrategy.PreferredEngines...)
	}
	return []string{firstOrEmpty(o.cfg.Engines)}
}

func (o *Orchestrator) pagesPerIteration() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Plan != nil && o.state.Plan.SearchStrategy.MaxPagesPerIteration > 0 {
		return o.state.Plan.SearchStrategy.MaxPagesPerIteration
	}
	return o.cfg.MaxPagesPerIteration
}

func (o *Orchestrator) resolvePageContext(ctx context.Context) *PageContext {
	if o.pageContext == nil {
		return nil
	}
	pageContext, ok := o.pageContext.PageContext(ctx)
	if !ok {
		return nil
	}
	return &pageContext
}

// injectNextSearches puts queries ahead of the first pending sub-question's
// own queries, keeping at most maxQueriesPerSubQuestion.
func injectNextSearches(plan *ResearchPlan, queries []string) bool {
	if plan == nil || len(queries) == 0 {
		return false
	}
	for i := range plan.SubQuestions {
		sq := &plan.SubQuestions[i]
		if sq.Status != SubQuestionPending {
			continue
		}
		merged := dedupeQueries(append(append([]string{}, queries...), sq.SearchQueries...))
		if len(merged) > maxQueriesPerSubQuestion {
			merged = merged[:maxQueriesPerSubQuestion]
		}
		sq.SearchQueries = merged
		return true
	}
	return false
}

func countFailedSearches(tasks []SearchTask) int {
	failed := 0
	for _, task := range tasks {
		if task.Status == TaskFailed {
			failed++
		}
	}
	return failed
}

func firstOrEmpty(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
