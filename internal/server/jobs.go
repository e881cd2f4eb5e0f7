package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/podtasks/internal/auth"
	"github.com/desertthunder/podtasks/internal/models"
	"github.com/desertthunder/podtasks/internal/shared"
	"github.com/desertthunder/podtasks/internal/tasks"
	"github.com/desertthunder/podtasks/internal/workers"
	"github.com/gorilla/mux"
)

const maxRequestBody = 4 << 20

// JobService is the coordinator surface the API exposes.
type JobService interface {
	Submit(ctx context.Context, req tasks.Request) (string, error)
	Status(ctx context.Context, jobID string) (*models.Job, error)
	List(ctx context.Context, userID int64) ([]models.Job, error)
	Cancel(ctx context.Context, jobID string) error
}

// RequestBuilder turns a client submission into a runnable request.
type RequestBuilder interface {
	Build(ctx context.Context, req workers.JobRequest) (tasks.Request, error)
}

// SubmitResponse is returned by a successful submission.
type SubmitResponse struct {
	JobID string `json:"job_id"`
}

// JobsHandler serves the /api/jobs endpoints. Callers must be authenticated.
type JobsHandler struct {
	jobs    JobService
	builder RequestBuilder
	logger  *log.Logger
	router  *mux.Router
}

// NewJobsHandler creates a JobsHandler.
func NewJobsHandler(jobs JobService, builder RequestBuilder, logger *log.Logger) *JobsHandler {
	h := &JobsHandler{jobs: jobs, builder: builder, logger: shared.WithLogger(logger, "component", "api")}

	h.router = mux.NewRouter()
	h.router.HandleFunc("/api/jobs", h.submit).Methods(http.MethodPost)
	h.router.HandleFunc("/api/jobs", h.list).Methods(http.MethodGet)
	h.router.HandleFunc("/api/jobs/{id}", h.status).Methods(http.MethodGet)
	h.router.HandleFunc("/api/jobs/{id}", h.cancel).Methods(http.MethodDelete)
	return h
}

// Routes implements [Handler].
func (h *JobsHandler) Routes() []Route {
	return []Route{
		{Method: http.MethodPost, Path: "/api/jobs"},
		{Method: http.MethodGet, Path: "/api/jobs"},
		{Method: http.MethodGet, Path: "/api/jobs/{id}"},
		{Method: http.MethodDelete, Path: "/api/jobs/{id}"},
	}
}

// ServeHTTP implements [http.Handler].
func (h *JobsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *JobsHandler) submit(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	var req workers.JobRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeErr(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}
	req.Owner, req.Admin = id.UserID, id.Admin

	built, err := h.builder.Build(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}

	jobID, err := h.jobs.Submit(r.Context(), built)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error("submit failed", "kind", req.Kind, "user_id", id.UserID, "error", err)
		}
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{JobID: jobID})
}

func (h *JobsHandler) list(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	jobs, err := h.jobs.List(r.Context(), id.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// visible loads a job the caller may see. Other users' jobs are reported as not found.
func (h *JobsHandler) visible(r *http.Request) (*models.Job, error) {
	id, _ := auth.IdentityFrom(r.Context())
	jobID := mux.Vars(r)["id"]

	job, err := h.jobs.Status(r.Context(), jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerUserID != id.UserID && !(id.Admin && job.Kind.AdminScoped()) {
		return nil, fmt.Errorf("%w: job %s", shared.ErrNotFound, jobID)
	}
	return job, nil
}

func (h *JobsHandler) status(w http.ResponseWriter, r *http.Request) {
	job, err := h.visible(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobsHandler) cancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.visible(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := h.jobs.Cancel(r.Context(), job.ID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
