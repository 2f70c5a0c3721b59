package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deepresearch/backend/internal/archive"
	"deepresearch/backend/internal/config"
	"deepresearch/backend/internal/db"
	"deepresearch/backend/internal/research"
	"deepresearch/backend/internal/store"
)

const onePlan = `{"refinedQuestion":"Which connector won?","subQuestions":[{"question":"Which automakers adopted NACS?","priority":1,"searchQueries":["nacs automakers"]}],"searchStrategy":{"depth":"quick","maxIterations":1,"maxPagesPerIteration":1}}`

type planOnlyGenerator struct {
	plan string
	err  error
}

func (g planOnlyGenerator) Generate(context.Context, []research.Message) (string, error) {
	return g.plan, g.err
}

func (g planOnlyGenerator) GenerateStream(ctx context.Context, messages []research.Message, _ func(string) error) (string, error) {
	return g.Generate(ctx, messages)
}

type oneHitSearch struct{}

func (oneHitSearch) Search(context.Context, string, string, int) ([]research.SearchHit, error) {
	return []research.SearchHit{{Title: "NACS adoption", URL: "https://example.com/nacs", Snippet: "automakers"}}, nil
}

type shortPageFetcher struct{}

func (shortPageFetcher) Fetch(_ context.Context, rawURL string) (research.Page, error) {
	return research.Page{URL: rawURL, Title: "NACS", Content: "too short"}, nil
}

type recordedEvents struct {
	mu     sync.Mutex
	types  []string
	runIDs map[string]struct{}
}

func (r *recordedEvents) publish(runID, eventType string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runIDs == nil {
		r.runIDs = map[string]struct{}{}
	}
	r.runIDs[runID] = struct{}{}
	r.types = append(r.types, eventType)
}

func (r *recordedEvents) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.types...)
}

func newTestServices(t *testing.T, generator research.StreamingTextGenerator) (*Services, string) {
	t.Helper()

	dir := t.TempDir()
	database, err := db.Open(config.Config{DatabaseURL: "file:" + filepath.Join(dir, "runs.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.Migrate(context.Background(), database))

	objects, err := archive.NewLocalStore(filepath.Join(dir, "archive"))
	require.NoError(t, err)

	runs := store.NewStore(database)
	return &Services{
		Config:    config.Config{MaxIterations: 3, MaxPagesPerIteration: 2},
		Logger:    zap.NewNop(),
		Generator: generator,
		Search:    oneHitSearch{},
		Engines:   []string{"brave"},
		Fetcher:   shortPageFetcher{},
		Store:     &runs,
		Archiver:  archive.NewArchiver(objects, nil),
	}, dir
}

func TestRunPersistsArchivesAndPublishes(t *testing.T) {
	services, dir := newTestServices(t, planOnlyGenerator{plan: onePlan})
	events := &recordedEvents{}
	run := services.NewRun(RunOptions{}, events.publish)

	report, err := run.Execute(context.Background(), "Which EV connector standard won in North America?")
	require.NoError(t, err)
	assert.True(t, run.Finished())
	assert.Equal(t, research.GenerationFallback, report.Metadata.GenerationMode)

	stored, resultErr := run.Result()
	require.NoError(t, resultErr)
	require.NotNil(t, stored)
	assert.Equal(t, report.ID, stored.ID)

	types := events.snapshot()
	require.NotEmpty(t, types)
	assert.Equal(t, EventDone, types[len(types)-1])
	assert.Contains(t, types, EventPlan)
	assert.Contains(t, types, EventPage)
	assert.Contains(t, types, EventReport)
	assert.Len(t, events.runIDs, 1)

	ctx := context.Background()
	savedRun, err := services.Store.GetRun(ctx, run.ID())
	require.NoError(t, err)
	assert.Equal(t, research.PhaseCompleted, savedRun.Phase)

	savedReport, err := services.Store.GetReport(ctx, run.ID())
	require.NoError(t, err)
	assert.Equal(t, report.ID, savedReport.Report.ID)
	assert.Contains(t, savedReport.Markdown, report.Title)

	_, err = os.Stat(filepath.Join(dir, "archive", "reports", report.ID+".md"))
	assert.NoError(t, err)
}

func TestRunPlanningFailureIsStored(t *testing.T) {
	services, _ := newTestServices(t, planOnlyGenerator{err: errors.New("model offline")})
	events := &recordedEvents{}
	run := services.NewRun(RunOptions{}, events.publish)

	_, err := run.Execute(context.Background(), "q")
	require.ErrorIs(t, err, research.ErrPlanningFailed)

	report, resultErr := run.Result()
	assert.Nil(t, report)
	assert.ErrorIs(t, resultErr, research.ErrPlanningFailed)

	types := events.snapshot()
	assert.Contains(t, types, EventError)
	assert.Equal(t, EventDone, types[len(types)-1])

	saved, err := services.Store.GetRun(context.Background(), run.ID())
	require.NoError(t, err)
	assert.Equal(t, research.PhaseError, saved.Phase)
	assert.NotEmpty(t, saved.Error)

	_, err = services.Store.GetReport(context.Background(), run.ID())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunStopBeforeExecute(t *testing.T) {
	services, _ := newTestServices(t, planOnlyGenerator{plan: onePlan})
	run := services.NewRun(RunOptions{}, nil)
	run.Stop()

	_, err := run.Execute(context.Background(), "q")
	assert.ErrorIs(t, err, research.ErrCancelled)
	assert.Equal(t, research.PhaseCancelled, run.State().Phase)
}

func TestRunWaitsForApproval(t *testing.T) {
	services, _ := newTestServices(t, planOnlyGenerator{plan: onePlan})
	approve := true
	waiting := make(chan string, 1)
	run := services.NewRun(RunOptions{RequireBrowseApproval: &approve}, func(_ string, eventType string, _ any) {
		if eventType == EventWaiting {
			waiting <- eventType
		}
	})

	done := make(chan error, 1)
	go func() {
		_, err := run.Execute(context.Background(), "q")
		done <- err
	}()

	select {
	case <-waiting:
	case <-time.After(2 * time.Second):
		t.Fatal("run never reached the browse gate")
	}
	request, ok := run.PendingApproval()
	require.True(t, ok)
	assert.Equal(t, research.ApprovalBrowse, request.Kind)
	require.NoError(t, run.Respond(research.DecisionSkip))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after approval")
	}
}

func TestResearchConfigOnlyTightensCaps(t *testing.T) {
	services := &Services{Config: config.Config{MaxIterations: 4, MaxPagesPerIteration: 3, RequireContinueApproval: true, RunTimeout: time.Minute}, Engines: []string{"duckduckgo"}}
	off := false

	cfg := services.ResearchConfig(RunOptions{MaxIterations: 9, MaxPagesPerIteration: 2, RequireContinueApproval: &off})
	assert.Equal(t, 4, cfg.MaxIterations)
	assert.Equal(t, 2, cfg.MaxPagesPerIteration)
	assert.False(t, cfg.RequireContinueApproval)
	assert.Equal(t, []string{"duckduckgo"}, cfg.Engines)

	cfg = services.ResearchConfig(RunOptions{})
	assert.True(t, cfg.RequireContinueApproval)
	assert.Equal(t, 4, cfg.MaxIterations)
	assert.Equal(t, time.Minute, cfg.RunTimeout)
}

func TestNewRequiresGeneratorKey(t *testing.T) {
	_, err := New(context.Background(), config.Config{LLMProvider: "openrouter", SearchEngines: []string{"duckduckgo"}}, nil, nil)
	assert.Error(t, err)

	services, err := New(context.Background(), config.Config{
		LLMProvider:      "openrouter",
		OpenRouterAPIKey: "k",
		LLMModel:         "m",
		SearchEngines:    []string{"duckduckgo"},
		ArchiveBackend:   "none",
	}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, services.Store)
	assert.Equal(t, []string{"duckduckgo"}, services.Engines)
	assert.NotNil(t, services.Fetcher)
	assert.NotNil(t, services.Generator)
}
