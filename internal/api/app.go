package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/blogpilot/internal/blog"
	"github.com/kalambet/blogpilot/internal/pipeline"
	"github.com/kalambet/blogpilot/internal/schedule"
	"github.com/kalambet/blogpilot/internal/storage"
)

const (
	defaultLogLimit   = 50
	maxLogLimit       = 200
	defaultQueueLimit = 100
	maxQueueLimit     = 500
	nextRunsShown     = 5
)

// PipelineRunner is implemented by pipeline.Orchestrator.
type PipelineRunner interface {
	RunTriggered(ctx context.Context) pipeline.Result
	Approve(ctx context.Context, id string, a pipeline.Approval) (blog.CreatedPost, error)
	Discard(ctx context.Context, id string) error
}

// Replenisher is implemented by pipeline.Replenisher.
type Replenisher interface {
	Run(ctx context.Context) (pipeline.ReplenishResult, error)
}

// PostFetcher is implemented by blog.Client.
type PostFetcher interface {
	GetPost(ctx context.Context, id string) (json.RawMessage, error)
}

type AppDeps struct {
	Store       *storage.Store
	Pipeline    PipelineRunner
	Replenisher Replenisher
	Schedule    *schedule.Manager
	Posts       PostFetcher
	Token       string
	Now         func() time.Time // optional; defaults to time.Now
}

// NewAppHandler returns the management API. Everything except /health
// requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	runs := &singleflight.Group{}

	r := chi.NewRouter()
	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/pipeline", handleRunPipeline(deps, runs))
		r.Post("/replenish", handleReplenish(deps))
		r.Get("/queue", handleListQueue(deps))
		r.Post("/queue", handleAddQueueItem(deps))
		r.Patch("/queue/{id}", handlePatchQueueItem(deps))
		r.Delete("/queue/{id}", handleDeleteQueueItem(deps))
		r.Post("/review/{id}", handleReview(deps))
		r.Get("/logs", handleListLogs(deps))
		r.Get("/schedule", handleGetSchedule(deps))
		r.Post("/schedule", handleSetSchedule(deps))
		r.Post("/schedule/reload", handleReloadSchedule(deps))
		r.Get("/posts/{id}", handleGetPost(deps))
	})

	return r
}

type scheduleView struct {
	schedule.Settings
	NextRuns []time.Time `json:"next_runs"`
}

func viewSchedule(s schedule.Settings, now time.Time) scheduleView {
	next := schedule.NextRuns(s, now, nextRunsShown)
	if next == nil {
		next = []time.Time{}
	}
	return scheduleView{Settings: s, NextRuns: next}
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"status": "ok"}
		if deps.Schedule != nil {
			if s, err := deps.Schedule.Load(r.Context()); err == nil {
				resp["schedule"] = viewSchedule(s, deps.Now())
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// handleRunPipeline runs the pipeline once. Requests arriving while a run is
// in flight share its result instead of starting another.
func handleRunPipeline(deps AppDeps, runs *singleflight.Group) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithoutCancel(r.Context())
		v, _, shared := runs.Do("pipeline", func() (any, error) {
			return deps.Pipeline.RunTriggered(ctx), nil
		})
		res := v.(pipeline.Result)
		if shared {
			slog.Debug("pipeline trigger joined a run in flight")
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleReplenish(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Replenisher.Run(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleListQueue(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := storage.QueueStatus(r.URL.Query().Get("status"))
		if status != "" && !status.Valid() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown status %q", status)
			return
		}
		items, err := deps.Store.ListQueueItems(r.Context(), storage.QueueFilter{
			Status: status,
			Limit:  parseIntParam(r, "limit", defaultQueueLimit, maxQueueLimit),
			Offset: parseIntParam(r, "offset", 0, 0),
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list queue: %v", err)
			return
		}
		if items == nil {
			items = []storage.QueueItem{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

type addQueueRequest struct {
	Topic          string   `json:"topic"`
	FocusKeyphrase string   `json:"focus_keyphrase"`
	Keywords       []string `json:"keywords"`
}

func handleAddQueueItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addQueueRequest
		if !decodeBody(w, r, &req) {
			return
		}
		topic := strings.TrimSpace(req.Topic)
		if topic == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "topic is required")
			return
		}
		item, err := deps.Store.AddQueueItem(r.Context(), storage.QueueItem{
			Topic:          topic,
			FocusKeyphrase: strings.TrimSpace(req.FocusKeyphrase),
			Keywords:       req.Keywords,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to add topic: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"item": item})
	}
}

func handlePatchQueueItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req struct {
			Status storage.QueueStatus `json:"status"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if !req.Status.Valid() {
			httpError(w, http.StatusBadRequest, "invalid_request_error",
				"status must be one of: pending, in_progress, published, held, discarded")
			return
		}
		if err := deps.Store.UpdateQueueStatus(r.Context(), id, req.Status); err != nil {
			writeError(w, err, "failed to update queue item")
			return
		}
		item, err := deps.Store.GetQueueItem(r.Context(), id)
		if err != nil {
			writeError(w, err, "failed to load queue item")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": item})
	}
}

func handleDeleteQueueItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteQueueItem(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err, "failed to delete queue item")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type reviewRequest struct {
	Action string `json:"action"`
	pipeline.Approval
}

func handleReview(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req reviewRequest
		if !decodeBody(w, r, &req) {
			return
		}

		switch req.Action {
		case "discard":
			if err := deps.Pipeline.Discard(r.Context(), id); err != nil {
				writeError(w, err, "failed to discard")
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": string(storage.StatusDiscarded)})
		case "approve":
			post, err := deps.Pipeline.Approve(r.Context(), id, req.Approval)
			if err != nil {
				writeError(w, err, "approval failed")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"status": string(storage.StatusPublished), "post": post})
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", `action must be "approve" or "discard"`)
		}
	}
}

func handleListLogs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		status := storage.LogStatus(q.Get("status"))
		logs, err := deps.Store.ListLogs(r.Context(), storage.LogFilter{
			QueueID: q.Get("queue_id"),
			Status:  status,
			Limit:   parseIntParam(r, "limit", defaultLogLimit, maxLogLimit),
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list logs: %v", err)
			return
		}
		if logs == nil {
			logs = []storage.AutomationLog{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
	}
}

func handleGetSchedule(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Schedule.Load(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load schedule: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, viewSchedule(s, deps.Now()))
	}
}

func handleSetSchedule(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch schedule.Patch
		if !decodeBody(w, r, &patch) {
			return
		}
		cur, err := deps.Schedule.Load(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load schedule: %v", err)
			return
		}
		next := patch.Apply(cur)
		if err := next.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err := deps.Schedule.Save(r.Context(), next); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save schedule: %v", err)
			return
		}
		slog.Info("schedule updated", "active", next.Active, "run_times", next.RunTimes, "timezone", next.Timezone)
		writeJSON(w, http.StatusOK, viewSchedule(next, deps.Now()))
	}
}

// handleReloadSchedule acknowledges a reload. The runner reads settings on
// every tick, so there is nothing to rebuild.
func handleReloadSchedule(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Schedule.Load(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load schedule: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message":  "Schedule reloaded",
			"schedule": viewSchedule(s, deps.Now()),
		})
	}
}

func handleGetPost(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		post, err := deps.Posts.GetPost(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"post": post})
	}
}
