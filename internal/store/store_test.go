package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepresearch/backend/internal/config"
	"deepresearch/backend/internal/db"
	"deepresearch/backend/internal/research"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	database, err := db.Open(config.Config{DatabaseURL: "file:" + filepath.Join(t.TempDir(), "store.db")})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(context.Background(), database))

	s := NewStore(database)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func runState(id, question string, startedAt time.Time) research.DeepResearchState {
	return research.DeepResearchState{
		RunID:     id,
		Phase:     research.PhaseSearching,
		Question:  question,
		Chunks:    []research.InformationChunk{{ID: "c1", Content: "CCS peaks at 350 kW", SourceURL: "https://a.example"}},
		StartedAt: startedAt,
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)

	state := runState("run_1", "Compare two charging standards", started)
	require.NoError(t, s.SaveRun(ctx, state))

	state.Phase = research.PhaseCompleted
	state.CompletedAt = started.Add(2 * time.Minute)
	require.NoError(t, s.SaveRun(ctx, state))

	run, err := s.GetRun(ctx, "run_1")
	require.NoError(t, err)
	assert.Equal(t, research.PhaseCompleted, run.Phase)
	assert.Equal(t, "2026-03-01T11:00:00Z", run.CreatedAt)
	assert.Equal(t, "2026-03-01T11:02:00Z", run.CompletedAt)
	require.NotNil(t, run.State)
	assert.Equal(t, "CCS peaks at 350 kW", run.State.Chunks[0].Content)
}

func TestGetRunMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetReport(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRunRequiresID(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.SaveRun(context.Background(), research.DeepResearchState{}))
}

func TestListRunsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	for i, id := range []string{"run_a", "run_b", "run_c"} {
		require.NoError(t, s.SaveRun(ctx, runState(id, "question "+id, base.Add(time.Duration(i)*time.Hour))))
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run_c", runs[0].ID)
	assert.Equal(t, "run_b", runs[1].ID)
	assert.Nil(t, runs[0].State)
}

func TestSaveAndGetReport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, runState("run_1", "question", time.Time{})))

	report := research.ResearchReport{
		ID:       "report_1",
		Title:    "CCS vs NACS",
		Sections: []research.ReportSection{{Title: "Hardware", Content: "Bigger [1].", Order: 1}},
		Sources:  []research.ReportSource{{ID: "source-1", Index: 1, URL: "https://a.example"}},
	}
	require.NoError(t, s.SaveReport(ctx, "run_1", report, "# CCS vs NACS"))

	stored, err := s.GetReport(ctx, "run_1")
	require.NoError(t, err)
	assert.Equal(t, "# CCS vs NACS", stored.Markdown)
	assert.Equal(t, report.Title, stored.Report.Title)
	assert.Equal(t, report.Sources, stored.Report.Sources)
}
