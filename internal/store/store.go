package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"deepresearch/backend/internal/research"
)

var ErrNotFound = errors.New("research run not found")

type Run struct {
	ID          string                      `json:"id"`
	Question    string                      `json:"question"`
	Phase       research.Phase              `json:"phase"`
	CreatedAt   string                      `json:"createdAt"`
	UpdatedAt   string                      `json:"updatedAt"`
	CompletedAt string                      `json:"completedAt,omitempty"`
	Error       string                      `json:"error,omitempty"`
	State       *research.DeepResearchState `json:"state,omitempty"`
}

type Report struct {
	RunID     string                  `json:"runId"`
	Report    research.ResearchReport `json:"report"`
	Markdown  string                  `json:"markdown"`
	CreatedAt string                  `json:"createdAt"`
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) Store {
	return Store{db: db, now: time.Now}
}

// SaveRun inserts or replaces the snapshot of a run.
func (s Store) SaveRun(ctx context.Context, state research.DeepResearchState) error {
	if strings.TrimSpace(state.RunID) == "" {
		return errors.New("save run: empty run id")
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode run state: %w", err)
	}

	now := s.now().UTC().Format(time.RFC3339)
	createdAt := now
	if !state.StartedAt.IsZero() {
		createdAt = state.StartedAt.UTC().Format(time.RFC3339)
	}
	var completedAt any
	if !state.CompletedAt.IsZero() {
		completedAt = state.CompletedAt.UTC().Format(time.RFC3339)
	}

	query := `
INSERT INTO research_runs (id, question, phase, created_at, updated_at, completed_at, error, state_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  question = excluded.question,
  phase = excluded.phase,
  updated_at = excluded.updated_at,
  completed_at = excluded.completed_at,
  error = excluded.error,
  state_json = excluded.state_json;
`
	if _, err := s.db.ExecContext(ctx, query, state.RunID, state.Question, string(state.Phase), createdAt, now, completedAt, state.Error, string(payload)); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (s Store) GetRun(ctx context.Context, id string) (Run, error) {
	query := `
SELECT id, question, phase, created_at, updated_at, COALESCE(completed_at, ''), error, state_json
FROM research_runs
WHERE id = ?
LIMIT 1;
`
	var (
		out     Run
		phase   string
		payload string
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&out.ID, &out.Question, &phase, &out.CreatedAt, &out.UpdatedAt, &out.CompletedAt, &out.Error, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	out.Phase = research.Phase(phase)

	var state research.DeepResearchState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return Run{}, fmt.Errorf("decode run state: %w", err)
	}
	out.State = &state
	return out, nil
}

// ListRuns returns run summaries, newest first. State is not loaded.
func (s Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
SELECT id, question, phase, created_at, updated_at, COALESCE(completed_at, ''), error
FROM research_runs
ORDER BY created_at DESC, id DESC
LIMIT ?;
`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]Run, 0, limit)
	for rows.Next() {
		var (
			run   Run
			phase string
		)
		if err := rows.Scan(&run.ID, &run.Question, &phase, &run.CreatedAt, &run.UpdatedAt, &run.CompletedAt, &run.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Phase = research.Phase(phase)
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// SaveReport stores the final report of a run. The run must already exist.
func (s Store) SaveReport(ctx context.Context, runID string, report research.ResearchReport, markdown string) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	query := `
INSERT INTO research_reports (run_id, report_json, markdown, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
  report_json = excluded.report_json,
  markdown = excluded.markdown,
  created_at = excluded.created_at;
`
	if _, err := s.db.ExecContext(ctx, query, runID, string(payload), markdown, s.now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func (s Store) GetReport(ctx context.Context, runID string) (Report, error) {
	query := `SELECT run_id, report_json, markdown, created_at FROM research_reports WHERE run_id = ? LIMIT 1;`

	var (
		out     Report
		payload string
	)
	err := s.db.QueryRowContext(ctx, query, runID).Scan(&out.RunID, &payload, &out.Markdown, &out.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Report{}, ErrNotFound
	}
	if err != nil {
		return Report{}, fmt.Errorf("get report: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &out.Report); err != nil {
		return Report{}, fmt.Errorf("decode report: %w", err)
	}
	return out, nil
}
