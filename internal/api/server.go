// Package api exposes herald over HTTP (chi) and MCP. The HTTP surface
// drives and inspects the pipeline; it never implements pipeline semantics
// itself.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/herald/internal/pipeline"
	"github.com/kalambet/herald/internal/signal"
	"github.com/kalambet/herald/internal/storage"
	"github.com/kalambet/herald/internal/voice"
)

const maxRequestBodySize = 1 << 20 // 1MB

// AppDeps holds dependencies for the HTTP API.
type AppDeps struct {
	Store      *storage.Store
	Voice      *voice.Store
	Learner    *voice.Learner // optional; nil disables POST /voice/learn
	Controller *pipeline.Controller
}

// NewAppHandler returns the authenticated application API.
func NewAppHandler(deps AppDeps, token string) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(token))
		r.Post("/runs", handleStartRun(deps))
		r.Get("/runs", handleListRuns(deps))
		r.Get("/content", handleListContent(deps))
		r.Get("/content/{id}", handleGetContent(deps))
		r.Get("/profile", handleGetProfile(deps))
		r.Patch("/profile", handlePatchProfile(deps))
		r.Post("/voice/learn", handleLearnVoice(deps))
		r.Post("/signals/task", handlePushTask(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleStartRun kicks off a pipeline run in the background. Runs never
// overlap; a second request while one is active gets 409.
func handleStartRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Controller.State() != pipeline.StateIdle {
			httpError(w, http.StatusConflict, "conflict", "a pipeline run is already in progress")
			return
		}

		// The run outlives the request, so it gets its own context.
		go func() {
			report, err := deps.Controller.Run(context.Background())
			if err != nil && !errors.Is(err, pipeline.ErrRunInProgress) {
				slog.Error("api-triggered run failed", "run_id", report.RunID, "error", err)
			}
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "started"})
	}
}

func handleListRuns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		runs, err := deps.Store.GetRecentRuns(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}

		out := make([]runResponse, len(runs))
		for i, run := range runs {
			out[i] = toRunResponse(run)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

type runResponse struct {
	ID            int64    `json:"id"`
	CorrelationID string   `json:"correlation_id"`
	State         string   `json:"state"`
	StartedAt     string   `json:"started_at"`
	FinishedAt    string   `json:"finished_at,omitempty"`
	Processed     int      `json:"processed"`
	Generated     int      `json:"generated"`
	Skipped       int      `json:"skipped"`
	Errors        []string `json:"errors"`
}

func toRunResponse(run storage.RunRecord) runResponse {
	var errs []string
	json.Unmarshal([]byte(run.ErrorLog), &errs)
	if errs == nil {
		errs = []string{}
	}
	resp := runResponse{
		ID:            run.ID,
		CorrelationID: run.CorrelationID,
		State:         run.State,
		StartedAt:     run.StartedAt.Format(time.RFC3339),
		Processed:     run.Processed,
		Generated:     run.Generated,
		Skipped:       run.Skipped,
		Errors:        errs,
	}
	if !run.FinishedAt.IsZero() {
		resp.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

type contentResponse struct {
	ID                string   `json:"id"`
	Body              []string `json:"body"`
	Kind              string   `json:"kind"`
	SourceDescription string   `json:"source_description"`
	RelevanceScore    float64  `json:"relevance_score"`
	BrandScore        float64  `json:"brand_score"`
	ImageRef          string   `json:"image_ref,omitempty"`
	CreatedAt         string   `json:"created_at"`
}

func toContentResponse(rec storage.ContentRecord) contentResponse {
	var body []string
	json.Unmarshal([]byte(rec.Body), &body)
	return contentResponse{
		ID:                rec.UUID,
		Body:              body,
		Kind:              rec.Kind,
		SourceDescription: rec.SourceDescription,
		RelevanceScore:    rec.RelevanceScore,
		BrandScore:        rec.BrandScore,
		ImageRef:          rec.ImageRef,
		CreatedAt:         rec.CreatedAt.Format(time.RFC3339),
	}
}

func handleListContent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		records, err := deps.Store.ListContent(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list content: %v", err)
			return
		}

		out := make([]contentResponse, len(records))
		for i, rec := range records {
			out[i] = toContentResponse(rec)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func handleGetContent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		rec, err := deps.Store.GetContentByUUID(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "content not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get content: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toContentResponse(rec))
	}
}

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Voice.Load()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load profile: %v", err)
			return
		}

		learned := p != nil
		if p == nil {
			def := voice.DefaultProfile()
			p = &def
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"learned": learned,
			"profile": p,
		})
	}
}

// handlePatchProfile applies a partial profile edit on top of the persisted
// profile (or the default when nothing has been learned yet).
func handlePatchProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current := voice.DefaultProfile()
		if existing, err := deps.Voice.Load(); err == nil && existing != nil {
			current = *existing
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(r.Body).Decode(&current); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if err := deps.Voice.Save(current); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save profile: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(current)
	}
}

type learnRequest struct {
	Posts []string `json:"posts"`
	Docs  []string `json:"docs"`
}

func handleLearnVoice(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Learner == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "voice learning is not configured")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req learnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		learned, err := deps.Learner.LearnFromSamples(r.Context(), voice.Samples{Posts: req.Posts, Docs: req.Docs})
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "voice learning failed: %v", err)
			return
		}

		merged := *learned
		if existing, err := deps.Voice.Load(); err == nil && existing != nil {
			merged = voice.Merge(*existing, *learned, 0.7, 0.3)
		}
		if err := deps.Voice.Save(merged); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save profile: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(merged)
	}
}

// handlePushTask accepts an externally pushed task completion. It lands in
// the signal mirror and flows into the next run as a supplemental source.
func handlePushTask(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var task signal.Task
		if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		sig := signal.NewTask(task)
		if err := sig.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid task: %v", err)
			return
		}

		payload, err := json.Marshal(sig)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to marshal signal: %v", err)
			return
		}
		err = deps.Store.SaveSignalMirror(storage.SignalRecord{
			ID:          task.ID,
			Kind:        string(signal.KindTask),
			PayloadJSON: string(payload),
			CapturedAt:  time.Now().UTC(),
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save signal: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "queued", "id": task.ID})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
