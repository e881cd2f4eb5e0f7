package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/desertthunder/podtasks/internal/auth"
	"github.com/desertthunder/podtasks/internal/lock"
	"github.com/desertthunder/podtasks/internal/models"
	"github.com/desertthunder/podtasks/internal/shared"
	"github.com/gorilla/mux"
)

const defaultHistoryLimit = 50

// HistoryLister reads finished jobs kept after the store evicts them.
type HistoryLister interface {
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.Job, error)
}

// HistoryHandler serves GET /api/history.
type HistoryHandler struct {
	history HistoryLister
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(history HistoryLister) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// Routes implements [Handler].
func (h *HistoryHandler) Routes() []Route {
	return []Route{{Method: http.MethodGet, Path: "/api/history"}}
}

// ServeHTTP lists the caller's recorded jobs, newest first.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeErr(w, fmt.Errorf("%w: limit %q", shared.ErrInvalidInput, v))
			return
		}
		limit = n
	}

	jobs, err := h.history.ListByUser(r.Context(), id.UserID, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// LockInspector reads the live lock entry for a resource.
type LockInspector interface {
	Inspect(ctx context.Context, resourceKey string) (*lock.Entry, error)
}

// LockHandler serves GET /api/locks/{resource}. Admins only.
type LockHandler struct {
	locks LockInspector
}

// NewLockHandler creates a LockHandler.
func NewLockHandler(locks LockInspector) *LockHandler {
	return &LockHandler{locks: locks}
}

// Routes implements [Handler].
func (h *LockHandler) Routes() []Route {
	return []Route{{Method: http.MethodGet, Path: "/api/locks/{resource}"}}
}

// ServeHTTP reports who holds the resource lock and until when.
func (h *LockHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	if !id.Admin {
		writeErr(w, shared.ErrForbidden)
		return
	}

	resource := mux.Vars(r)["resource"]
	entry, err := h.locks.Inspect(r.Context(), resource)
	if errors.Is(err, lock.ErrNotHeld) {
		writeErr(w, fmt.Errorf("%w: no lock on %s", shared.ErrNotFound, resource))
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
