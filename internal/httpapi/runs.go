package httpapi

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"deepresearch/backend/internal/app"
	"deepresearch/backend/internal/events"
	"deepresearch/backend/internal/research"
)

const defaultRunRetention = 15 * time.Minute

// RunManager owns the live runs of one API handler. Finished runs stay
// addressable for the retention period so late clients can still replay
// their events; the store serves them afterwards.
type RunManager struct {
	services  *app.Services
	broker    *events.Broker
	logger    *zap.Logger
	retention time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu   sync.RWMutex
	runs map[string]*app.Run
}

func NewRunManager(services *app.Services, broker *events.Broker, logger *zap.Logger) *RunManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RunManager{
		services:  services,
		broker:    broker,
		logger:    logger,
		retention: defaultRunRetention,
		baseCtx:   ctx,
		cancel:    cancel,
		runs:      map[string]*app.Run{},
	}
}

// Start launches a run in the background and returns it immediately.
func (m *RunManager) Start(question string, opts app.RunOptions) *app.Run {
	run := m.services.NewRun(opts, func(runID, eventType string, payload any) {
		m.broker.Publish(runID, eventType, payload)
	})

	m.mu.Lock()
	m.runs[run.ID()] = run
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_, err := run.Execute(m.baseCtx, question)
		m.logger.Info("research run finished",
			zap.String("run_id", run.ID()),
			zap.String("phase", string(run.State().Phase)),
			zap.Error(err),
		)
		time.AfterFunc(m.retention, func() { m.evict(run.ID()) })
	}()
	return run
}

func (m *RunManager) Get(id string) (*app.Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	return run, ok
}

// Snapshots returns the state of every tracked run, newest first.
func (m *RunManager) Snapshots() []research.DeepResearchState {
	m.mu.RLock()
	states := make([]research.DeepResearchState, 0, len(m.runs))
	for _, run := range m.runs {
		states = append(states, run.State())
	}
	m.mu.RUnlock()
	sort.Slice(states, func(i, j int) bool { return states[i].StartedAt.After(states[j].StartedAt) })
	return states
}

func (m *RunManager) evict(id string) {
	m.mu.Lock()
	delete(m.runs, id)
	m.mu.Unlock()
	m.broker.Forget(id)
}

// Shutdown cancels all runs and waits for them to wind down or for ctx.
func (m *RunManager) Shutdown(ctx context.Context) error {
	m.cancel()
	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
