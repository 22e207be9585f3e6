package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/narvanalabs/build-feed/internal/api/errors"
	"github.com/narvanalabs/build-feed/internal/events"
	"github.com/narvanalabs/build-feed/internal/feed"
	"github.com/narvanalabs/build-feed/internal/models"
	"github.com/narvanalabs/build-feed/internal/store"
)

// MaxPageSize caps the limit accepted by the list endpoint.
const MaxPageSize = 100

// BuildHandler handles build-related HTTP requests.
type BuildHandler struct {
	store   store.Store
	emitter *events.Emitter
	logger  *slog.Logger
}

// NewBuildHandler creates a new build handler.
func NewBuildHandler(st store.Store, emitter *events.Emitter, logger *slog.Logger) *BuildHandler {
	return &BuildHandler{
		store:   st,
		emitter: emitter,
		logger:  logger,
	}
}

// List handles GET /v1/builds. It returns one page of builds newest first,
// filtered by the feed scope in the query.
func (h *BuildHandler) List(w http.ResponseWriter, r *http.Request) {
	scope, err := feed.ParseScope(r.URL.Query())
	if err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", feed.DefaultLimit)
	if err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	if limit == 0 || limit > MaxPageSize {
		WriteBadRequest(w, r, "limit must be between 1 and "+strconv.Itoa(MaxPageSize))
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}

	builds, err := h.store.Builds().List(r.Context(), filterFor(scope), limit, offset)
	if err != nil {
		h.logger.Error("failed to list builds", "error", err, "scope", scope.Type)
		WriteError(w, r, apierrors.FromError(err, "failed to list builds"))
		return
	}
	if builds == nil {
		builds = []models.Build{}
	}

	WriteJSON(w, http.StatusOK, builds)
}

// filterFor maps a validated scope onto a store filter.
func filterFor(scope feed.Scope) store.BuildFilter {
	switch scope.Type {
	case feed.ScopeBranch:
		return store.BuildFilter{Branch: scope.Branch}
	case feed.ScopePR:
		return store.BuildFilter{PR: scope.PR}
	case feed.ScopeCommit:
		return store.BuildFilter{Commit: scope.Commit}
	default:
		return store.BuildFilter{}
	}
}

// Get handles GET /v1/builds/{buildID}.
func (h *BuildHandler) Get(w http.ResponseWriter, r *http.Request) {
	buildID, ok := pathID(w, r, "buildID")
	if !ok {
		return
	}

	build, err := h.store.Builds().Get(r.Context(), buildID)
	if err != nil {
		h.logger.Debug("failed to get build", "error", err, "build_id", buildID)
		WriteError(w, r, apierrors.FromError(err, "build not found"))
		return
	}

	WriteJSON(w, http.StatusOK, build)
}

// CreateJobRequest describes one job of a new build.
type CreateJobRequest struct {
	Image string `json:"image"`
	Env   string `json:"env,omitempty"`
}

// CreateBuildRequest is the body of POST /v1/builds.
type CreateBuildRequest struct {
	Branch  string             `json:"branch"`
	Commit  string             `json:"commit"`
	PR      int                `json:"pr,omitempty"`
	Message string             `json:"message,omitempty"`
	Jobs    []CreateJobRequest `json:"jobs"`
}

// Validate reports every missing field.
func (req CreateBuildRequest) Validate() apierrors.ValidationErrors {
	var v apierrors.ValidationErrors
	if req.Branch == "" {
		v.Add("branch", "branch is required")
	}
	if req.Commit == "" {
		v.Add("commit", "commit is required")
	}
	if req.PR < 0 {
		v.Add("pr", "pr must not be negative")
	}
	if len(req.Jobs) == 0 {
		v.Add("jobs", "at least one job is required")
	}
	for i, j := range req.Jobs {
		if j.Image == "" {
			v.Add("jobs["+strconv.Itoa(i)+"].image", "image is required")
		}
	}
	return v
}

// Create handles POST /v1/builds. The stored build is announced to live
// subscribers as build_created.
func (h *BuildHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateBuildRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	if v := req.Validate(); v.HasErrors() {
		WriteError(w, r, v.ToAPIError())
		return
	}

	build := &models.Build{
		Branch:    req.Branch,
		Commit:    req.Commit,
		PR:        req.PR,
		Message:   req.Message,
		CreatedAt: time.Now().UTC(),
		Jobs:      make([]models.Job, len(req.Jobs)),
	}
	for i, j := range req.Jobs {
		build.Jobs[i] = models.Job{Image: j.Image, Env: j.Env, Status: models.JobStatusQueued}
	}

	if err := h.store.Builds().Create(r.Context(), build); err != nil {
		h.logger.Error("failed to create build", "error", err, "branch", build.Branch)
		WriteError(w, r, apierrors.FromError(err, "failed to create build"))
		return
	}

	if err := h.emitter.BuildCreated(r.Context(), *build); err != nil {
		h.logger.Warn("failed to announce build", "error", err, "build_id", build.ID)
	}

	h.logger.Info("build created", "build_id", build.ID, "branch", build.Branch, "jobs", len(build.Jobs))
	WriteJSON(w, http.StatusCreated, build)
}

// UpdateJobRequest is the body of PATCH /v1/builds/{buildID}/jobs/{jobID}.
type UpdateJobRequest struct {
	Status    models.JobStatus `json:"status"`
	StartTime *time.Time       `json:"startTime"`
	EndTime   *time.Time       `json:"endTime"`
}

// UpdateJob handles PATCH /v1/builds/{buildID}/jobs/{jobID}. The new job
// state is announced as job_updated, sequenced by the job's version.
func (h *BuildHandler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	buildID, ok := pathID(w, r, "buildID")
	if !ok {
		return
	}
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}

	var req UpdateJobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	if !validJobStatus(req.Status) {
		WriteBadRequest(w, r, "unknown job status "+strconv.Quote(string(req.Status)))
		return
	}
	if req.StartTime != nil && req.EndTime != nil && req.EndTime.Before(*req.StartTime) {
		WriteBadRequest(w, r, "endTime must not precede startTime")
		return
	}

	job, build, err := h.store.Builds().UpdateJob(r.Context(), buildID, jobID, store.JobPatch{
		Status:    req.Status,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	})
	if err != nil {
		h.logger.Debug("failed to update job", "error", err, "build_id", buildID, "job_id", jobID)
		WriteError(w, r, apierrors.FromError(err, "job not found"))
		return
	}

	if err := h.emitter.JobUpdated(r.Context(), models.NewJobEvent(*job)); err != nil {
		h.logger.Warn("failed to announce job update", "error", err, "build_id", buildID, "job_id", jobID)
	}

	h.logger.Info("job updated",
		"build_id", buildID,
		"job_id", jobID,
		"status", job.Status,
		"build_status", build.Status,
		"version", job.Version,
	)
	WriteJSON(w, http.StatusOK, job)
}

func validJobStatus(s models.JobStatus) bool {
	switch s {
	case models.JobStatusQueued, models.JobStatusRunning, models.JobStatusPassing,
		models.JobStatusFailing, models.JobStatusCancelled:
		return true
	default:
		return false
	}
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (uint64, bool) {
	raw := chi.URLParam(r, key)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		WriteBadRequest(w, r, key+" must be a positive integer")
		return 0, false
	}
	return id, true
}
