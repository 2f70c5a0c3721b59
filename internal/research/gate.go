package research

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrNoPendingApproval = errors.New("no approval is pending")
	ErrInvalidDecision   = errors.New("decision is not one of the offered options")
)

type ApprovalKind string

const (
	ApprovalBrowse   ApprovalKind = "browse_pages"
	ApprovalContinue ApprovalKind = "continue_research"
)

const (
	DecisionApprove  = "approve"
	DecisionSkip     = "skip"
	DecisionContinue = "continue"
	DecisionComplete = "complete"
)

// ApprovalRequest describes what the run is waiting on.
type ApprovalRequest struct {
	ID            string              `json:"id"`
	Kind          ApprovalKind        `json:"kind"`
	Message       string              `json:"message"`
	Options       []string            `json:"options"`
	Iteration     int                 `json:"iteration"`
	SubQuestionID string              `json:"subQuestionId,omitempty"`
	Candidates    []SearchResult      `json:"candidates,omitempty"`
	Evaluation    *ResearchEvaluation `json:"evaluation,omitempty"`
	RequestedAt   time.Time           `json:"requestedAt"`
}

func (r ApprovalRequest) Clone() ApprovalRequest {
	r.Options = append([]string{}, r.Options...)
	r.Candidates = append([]SearchResult{}, r.Candidates...)
	if r.Evaluation != nil {
		evaluation := r.Evaluation.Clone()
		r.Evaluation = &evaluation
	}
	return r
}

func (r ApprovalRequest) allows(value string) bool {
	for _, option := range r.Options {
		if option == value {
			return true
		}
	}
	return false
}

// approvalGate is a depth-1 request/response queue: at most one request is
// pending and at most one response can be buffered for it.
type approvalGate struct {
	mu        sync.Mutex
	pending   *ApprovalRequest
	responses chan string
}

func newApprovalGate() *approvalGate {
	return &approvalGate{responses: make(chan string, 1)}
}

// open registers request as pending. It must be followed by await.
func (g *approvalGate) open(request ApprovalRequest) {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.responses:
	default:
	}
	g.pending = &request
}

// await blocks until respond delivers a decision or ctx ends.
func (g *approvalGate) await(ctx context.Context) (string, error) {
	defer g.close()
	select {
	case value := <-g.responses:
		return value, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *approvalGate) close() {
	g.mu.Lock()
	g.pending = nil
	g.mu.Unlock()
}

// respond hands value to the waiting run. The first valid answer clears the
// request, so later answers get ErrNoPendingApproval.
func (g *approvalGate) respond(value string) error {
	normalized := strings.ToLower(strings.TrimSpace(value))
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return ErrNoPendingApproval
	}
	if !g.pending.allows(normalized) {
		return ErrInvalidDecision
	}
	// open drains the buffer, so it is empty while a request is pending.
	g.responses <- normalized
	g.pending = nil
	return nil
}

func (g *approvalGate) current() (ApprovalRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return ApprovalRequest{}, false
	}
	return g.pending.Clone(), true
}
