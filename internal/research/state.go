package research

import "time"

// DeepResearchState is everything one run has produced so far. The
// orchestrator owns the live value; callers only ever see clones.
type DeepResearchState struct {
	RunID                string               `json:"runId"`
	Phase                Phase                `json:"phase"`
	Question             string               `json:"question"`
	Plan                 *ResearchPlan        `json:"plan,omitempty"`
	Chunks               []InformationChunk   `json:"chunks"`
	SearchTasks          []SearchTask         `json:"searchTasks"`
	BrowseTasks          []BrowseTask         `json:"browseTasks"`
	CurrentIteration     int                  `json:"currentIteration"`
	MaxIterations        int                  `json:"maxIterations"`
	CurrentSubQuestionID string               `json:"currentSubQuestionId,omitempty"`
	Evaluation           *ResearchEvaluation  `json:"evaluation,omitempty"`
	Evaluations          []ResearchEvaluation `json:"evaluations"`
	Report               *ResearchReport      `json:"report,omitempty"`
	PendingApproval      *ApprovalRequest     `json:"pendingApproval,omitempty"`
	Progress             Progress             `json:"progress"`
	Error                string               `json:"error,omitempty"`
	StartedAt            time.Time            `json:"startedAt"`
	CompletedAt          time.Time            `json:"completedAt"`
}

func newState(runID string) DeepResearchState {
	return DeepResearchState{
		RunID:       runID,
		Phase:       PhaseIdle,
		Chunks:      []InformationChunk{},
		SearchTasks: []SearchTask{},
		BrowseTasks: []BrowseTask{},
		Evaluations: []ResearchEvaluation{},
	}
}

func (s DeepResearchState) Clone() DeepResearchState {
	out := s
	out.Plan = s.Plan.Clone()
	out.Chunks = append([]InformationChunk{}, s.Chunks...)
	out.SearchTasks = make([]SearchTask, len(s.SearchTasks))
	for i, task := range s.SearchTasks {
		task.Results = append([]SearchResult{}, task.Results...)
		out.SearchTasks[i] = task
	}
	out.BrowseTasks = make([]BrowseTask, len(s.BrowseTasks))
	for i, task := range s.BrowseTasks {
		task.Chunks = append([]InformationChunk{}, task.Chunks...)
		out.BrowseTasks[i] = task
	}
	out.Evaluations = make([]ResearchEvaluation, len(s.Evaluations))
	for i, evaluation := range s.Evaluations {
		out.Evaluations[i] = evaluation.Clone()
	}
	if s.Evaluation != nil {
		evaluation := s.Evaluation.Clone()
		out.Evaluation = &evaluation
	}
	if s.Report != nil {
		report := s.Report.Clone()
		out.Report = &report
	}
	if s.PendingApproval != nil {
		request := s.PendingApproval.Clone()
		out.PendingApproval = &request
	}
	return out
}

func (p *ResearchPlan) Clone() *ResearchPlan {
	if p == nil {
		return nil
	}
	out := *p
	out.SearchStrategy.PreferredEngines = append([]string{}, p.SearchStrategy.PreferredEngines...)
	out.SubQuestions = make([]SubQuestion, len(p.SubQuestions))
	for i, sq := range p.SubQuestions {
		sq.SearchQueries = append([]string{}, sq.SearchQueries...)
		sq.Findings = append([]InformationChunk{}, sq.Findings...)
		out.SubQuestions[i] = sq
	}
	return &out
}

func (e ResearchEvaluation) Clone() ResearchEvaluation {
	e.Gaps = append([]string{}, e.Gaps...)
	e.NextSearches = append([]string{}, e.NextSearches...)
	e.KeyFindings = append([]string{}, e.KeyFindings...)
	return e
}

func (r ResearchReport) Clone() ResearchReport {
	r.Sources = append([]ReportSource{}, r.Sources...)
	sections := make([]ReportSection, len(r.Sections))
	for i, section := range r.Sections {
		section.Citations = append([]string{}, section.Citations...)
		sections[i] = section
	}
	r.Sections = sections
	return r
}
