package research

// Callbacks lets a host render a run live. Every field is optional; callbacks
// run on the orchestrator goroutine and receive copies.
type Callbacks struct {
	OnPhaseChange       func(from, to Phase)
	OnPlanCreated       func(plan ResearchPlan)
	OnIterationStart    func(iteration int, subQuestion SubQuestion)
	OnSearchComplete    func(iteration int, tasks []SearchTask)
	OnPageVisited       func(iteration int, task BrowseTask)
	OnChunkExtracted    func(chunk InformationChunk)
	OnEvaluation        func(iteration int, evaluation ResearchEvaluation)
	OnIterationComplete func(iteration int)
	OnWaiting           func(request ApprovalRequest)
	OnReportToken       func(delta string)
	OnReportGenerated   func(report ResearchReport)
	OnProgress          func(progress Progress)
	OnError             func(err error)
}

func (c Callbacks) phaseChange(from, to Phase) {
	if c.OnPhaseChange != nil {
		c.OnPhaseChange(from, to)
	}
}

func (c Callbacks) planCreated(plan *ResearchPlan) {
	if c.OnPlanCreated != nil && plan != nil {
		c.OnPlanCreated(*plan.Clone())
	}
}

func (c Callbacks) iterationStart(iteration int, sq SubQuestion) {
	if c.OnIterationStart != nil {
		c.OnIterationStart(iteration, sq)
	}
}

func (c Callbacks) searchComplete(iteration int, tasks []SearchTask) {
	if c.OnSearchComplete != nil {
		c.OnSearchComplete(iteration, append([]SearchTask{}, tasks...))
	}
}

func (c Callbacks) pageVisited(iteration int, task BrowseTask) {
	if c.OnPageVisited != nil {
		c.OnPageVisited(iteration, task)
	}
}

func (c Callbacks) chunkExtracted(chunk InformationChunk) {
	if c.OnChunkExtracted != nil {
		c.OnChunkExtracted(chunk)
	}
}

func (c Callbacks) evaluation(iteration int, evaluation ResearchEvaluation) {
	if c.OnEvaluation != nil {
		c.OnEvaluation(iteration, evaluation.Clone())
	}
}

func (c Callbacks) iterationComplete(iteration int) {
	if c.OnIterationComplete != nil {
		c.OnIterationComplete(iteration)
	}
}

func (c Callbacks) waiting(request ApprovalRequest) {
	if c.OnWaiting != nil {
		c.OnWaiting(request.Clone())
	}
}

func (c Callbacks) reportGenerated(report ResearchReport) {
	if c.OnReportGenerated != nil {
		c.OnReportGenerated(report.Clone())
	}
}

func (c Callbacks) progress(progress Progress) {
	if c.OnProgress != nil {
		c.OnProgress(progress)
	}
}

func (c Callbacks) failed(err error) {
	if c.OnError != nil && err != nil {
		c.OnError(err)
	}
}
