package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"deepresearch/backend/internal/app"
	"deepresearch/backend/internal/archive"
	"deepresearch/backend/internal/events"
	"deepresearch/backend/internal/research"
	"deepresearch/backend/internal/store"
)

const (
	maxQuestionRunes  = 2000
	sseKeepAlive      = 15 * time.Second
	defaultListLimit  = 50
	reportFormatJSON  = "json"
	reportFormatMD    = "markdown"
	reportFormatYAML  = "yaml"
	eventStreamHeader = "text/event-stream"
)

type startResearchRequest struct {
	Question                string `json:"question"`
	PageTitle               string `json:"pageTitle"`
	PageURL                 string `json:"pageUrl"`
	MaxIterations           int    `json:"maxIterations"`
	MaxPagesPerIteration    int    `json:"maxPagesPerIteration"`
	RequireBrowseApproval   *bool  `json:"requireBrowseApproval"`
	RequireContinueApproval *bool  `json:"requireContinueApproval"`
}

type runResponse struct {
	RunID           string                      `json:"runId"`
	Phase           research.Phase              `json:"phase"`
	Live            bool                        `json:"live"`
	PendingApproval *research.ApprovalRequest   `json:"pendingApproval,omitempty"`
	State           *research.DeepResearchState `json:"state,omitempty"`
}

func (h Handler) StartResearch(w http.ResponseWriter, r *http.Request) {
	var req startResearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "question is required")
		return
	}
	if utf8.RuneCountInString(question) > maxQuestionRunes {
		writeError(w, http.StatusBadRequest, "invalid_request", "question is too long")
		return
	}
	if req.MaxIterations < 0 || req.MaxPagesPerIteration < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "limits must not be negative")
		return
	}

	opts := app.RunOptions{
		MaxIterations:           req.MaxIterations,
		MaxPagesPerIteration:    req.MaxPagesPerIteration,
		RequireBrowseApproval:   req.RequireBrowseApproval,
		RequireContinueApproval: req.RequireContinueApproval,
	}
	if title, pageURL := strings.TrimSpace(req.PageTitle), strings.TrimSpace(req.PageURL); title != "" || pageURL != "" {
		opts.PageContext = &research.PageContext{Title: title, URL: pageURL}
	}

	run := h.runs.Start(question, opts)

	fields := []zap.Field{zap.String("run_id", run.ID())}
	if identity, ok := identityFromContext(r.Context()); ok {
		fields = append(fields, zap.String("email", identity.Email))
	}
	h.logger.Info("research run started", fields...)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"runId":     run.ID(),
		"eventsUrl": "/v1/research/" + run.ID() + "/events",
	})
}

func (h Handler) ListResearch(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusOK, map[string]any{"runs": h.runs.Snapshots()})
		return
	}

	limit := defaultListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "db_error", "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h Handler) GetResearch(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if run, ok := h.runs.Get(runID); ok {
		state := run.State()
		resp := runResponse{RunID: runID, Phase: state.Phase, Live: !run.Finished(), State: &state}
		if pending, ok := run.PendingApproval(); ok {
			resp.PendingApproval = &pending
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	stored, ok := h.storedRun(w, r, runID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, runResponse{RunID: runID, Phase: stored.Phase, State: stored.State})
}

// ResearchEvents streams run events as SSE. Events already published are
// replayed first, starting after Last-Event-ID when the client resumes.
func (h Handler) ResearchEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, live := h.runs.Get(runID)
	if !live {
		stored, ok := h.storedRun(w, r, runID)
		if !ok {
			return
		}
		h.replayStored(w, runID, stored)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "server does not support streaming")
		return
	}

	afterSeq := lastEventID(r)
	stream := h.broker.Subscribe(r.Context(), runID)

	w.Header().Set("Content-Type", eventStreamHeader)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	lastSeq, finished, err := h.writeHistory(w, runID, afterSeq)
	flusher.Flush()
	if finished || err != nil {
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-run.Done():
			// The subscriber may have missed events, done included, while its
			// buffer was full. History holds everything published so far.
			seq, finished, err := h.writeHistory(w, runID, lastSeq)
			if err == nil && !finished {
				_ = writeSSEEvent(w, finalEvent(run, seq))
			}
			flusher.Flush()
			return
		case <-keepAlive.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-stream:
			if !open {
				return
			}
			if event.Seq <= lastSeq {
				continue
			}
			if err := writeSSEEvent(w, event); err != nil {
				return
			}
			flusher.Flush()
			lastSeq = event.Seq
			if event.Type == app.EventDone {
				return
			}
		}
	}
}

// writeHistory writes retained events after afterSeq and reports the last
// sequence written and whether the done event was among them.
func (h Handler) writeHistory(w http.ResponseWriter, runID string, afterSeq int64) (int64, bool, error) {
	lastSeq := afterSeq
	for _, event := range h.broker.History(runID, afterSeq) {
		if err := writeSSEEvent(w, event); err != nil {
			return lastSeq, false, err
		}
		lastSeq = event.Seq
		if event.Type == app.EventDone {
			return lastSeq, true, nil
		}
	}
	return lastSeq, false, nil
}

// finalEvent rebuilds the done event of a finished run whose history no
// longer holds it.
func finalEvent(run *app.Run, lastSeq int64) events.RunEvent {
	payload := map[string]any{"phase": run.State().Phase}
	if _, err := run.Result(); err != nil {
		payload["error"] = err.Error()
	}
	return events.RunEvent{
		RunID:   run.ID(),
		Seq:     lastSeq + 1,
		Type:    app.EventDone,
		Ts:      time.Now().UTC().Format(time.RFC3339Nano),
		Payload: payload,
	}
}

// replayStored answers the event stream of a run that is no longer live with a
// single terminal event built from its stored snapshot.
func (h Handler) replayStored(w http.ResponseWriter, runID string, stored store.Run) {
	w.Header().Set("Content-Type", eventStreamHeader)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	payload := map[string]any{"phase": stored.Phase}
	if stored.Error != "" {
		payload["error"] = stored.Error
	}
	_ = writeSSEEvent(w, events.RunEvent{RunID: runID, Type: app.EventDone, Ts: stored.UpdatedAt, Payload: payload})
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

type respondRequest struct {
	Value string `json:"value"`
}

func (h Handler) RespondResearch(w http.ResponseWriter, r *http.Request) {
	run, ok := h.liveRun(w, r)
	if !ok {
		return
	}

	var req respondRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	err := run.Respond(req.Value)
	switch {
	case errors.Is(err, research.ErrNoPendingApproval):
		writeError(w, http.StatusConflict, "no_pending_approval", err.Error())
		return
	case errors.Is(err, research.ErrInvalidDecision):
		writeError(w, http.StatusBadRequest, "invalid_decision", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "respond_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runId": run.ID(), "value": strings.ToLower(strings.TrimSpace(req.Value))})
}

func (h Handler) StopResearch(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if run, ok := h.runs.Get(runID); ok {
		run.Stop()
		writeJSON(w, http.StatusAccepted, map[string]any{"runId": runID, "phase": run.State().Phase})
		return
	}

	stored, ok := h.storedRun(w, r, runID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runId": runID, "phase": stored.Phase})
}

func (h Handler) ResearchReport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = reportFormatJSON
	}
	if format != reportFormatJSON && format != reportFormatMD && format != reportFormatYAML {
		writeError(w, http.StatusBadRequest, "invalid_request", "format must be json, markdown or yaml")
		return
	}

	report, ok := h.findReport(w, r, runID)
	if !ok {
		return
	}

	switch format {
	case reportFormatMD:
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(archive.RenderMarkdown(report)))
	case reportFormatYAML:
		data, err := archive.RenderYAML(report)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "render_failed", "failed to render report")
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (h Handler) findReport(w http.ResponseWriter, r *http.Request, runID string) (research.ResearchReport, bool) {
	if run, ok := h.runs.Get(runID); ok {
		if !run.Finished() {
			writeError(w, http.StatusConflict, "report_not_ready", "research is still running")
			return research.ResearchReport{}, false
		}
		report, _ := run.Result()
		if report == nil {
			writeError(w, http.StatusNotFound, "not_found", "run finished without a report")
			return research.ResearchReport{}, false
		}
		return *report, true
	}

	if h.store == nil {
		writeError(w, http.StatusNotFound, "not_found", "research run not found")
		return research.ResearchReport{}, false
	}
	stored, err := h.store.GetReport(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "report not found")
		return research.ResearchReport{}, false
	}
	if err != nil {
		h.logger.Error("get report failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "db_error", "failed to read report")
		return research.ResearchReport{}, false
	}
	return stored.Report, true
}

func (h Handler) liveRun(w http.ResponseWriter, r *http.Request) (*app.Run, bool) {
	runID := chi.URLParam(r, "runID")
	run, ok := h.runs.Get(runID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "research run is not active")
		return nil, false
	}
	return run, true
}

func (h Handler) storedRun(w http.ResponseWriter, r *http.Request, runID string) (store.Run, bool) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "not_found", "research run not found")
		return store.Run{}, false
	}
	stored, err := h.store.GetRun(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "research run not found")
		return store.Run{}, false
	}
	if err != nil {
		h.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "db_error", "failed to read run")
		return store.Run{}, false
	}
	return stored, true
}

func lastEventID(r *http.Request) int64 {
	raw := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("after"))
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}
