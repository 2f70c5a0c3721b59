package research

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestApprovalGateRespondWithoutPending(t *testing.T) {
	gate := newApprovalGate()
	if err := gate.respond(DecisionApprove); !errors.Is(err, ErrNoPendingApproval) {
		t.Fatalf("expected ErrNoPendingApproval, got %v", err)
	}
}

func TestApprovalGateDeliversOneDecision(t *testing.T) {
	gate := newApprovalGate()
	gate.open(ApprovalRequest{Kind: ApprovalBrowse, Options: []string{DecisionApprove, DecisionSkip}})

	if _, ok := gate.current(); !ok {
		t.Fatal("expected pending request")
	}
	if err := gate.respond("maybe"); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision, got %v", err)
	}
	if err := gate.respond("  SKIP "); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if err := gate.respond(DecisionApprove); !errors.Is(err, ErrNoPendingApproval) {
		t.Fatalf("expected second response to be rejected, got %v", err)
	}

	decision, err := gate.await(context.Background())
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if decision != DecisionSkip {
		t.Fatalf("expected skip, got %q", decision)
	}
	if _, ok := gate.current(); ok {
		t.Fatal("expected no pending request after await")
	}
}

func TestApprovalGateAbortsOnCancel(t *testing.T) {
	gate := newApprovalGate()
	gate.open(ApprovalRequest{Kind: ApprovalContinue, Options: []string{DecisionContinue, DecisionComplete}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := gate.await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if err := gate.respond(DecisionContinue); !errors.Is(err, ErrNoPendingApproval) {
		t.Fatalf("expected cancelled gate to refuse responses, got %v", err)
	}
}

func TestApprovalGateAcceptsOnlyFirstOfConcurrentAnswers(t *testing.T) {
	gate := newApprovalGate()
	gate.open(ApprovalRequest{Kind: ApprovalBrowse, Options: []string{DecisionApprove, DecisionSkip}})

	const answers = 8
	results := make(chan error, answers)
	var wg sync.WaitGroup
	for i := 0; i < answers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- gate.respond(DecisionApprove)
		}()
	}
	wg.Wait()
	close(results)

	accepted := 0
	for err := range results {
		switch {
		case err == nil:
			accepted++
		case !errors.Is(err, ErrNoPendingApproval):
			t.Fatalf("late answers should get ErrNoPendingApproval, got %v", err)
		}
	}
	if accepted != 1 {
		t.Fatalf("expected exactly one accepted answer, got %d", accepted)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if decision, err := gate.await(ctx); err != nil || decision != DecisionApprove {
		t.Fatalf("await = %q, %v", decision, err)
	}
}
