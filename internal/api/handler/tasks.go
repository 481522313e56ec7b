package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pingup-app/eventd/internal/api/response"
	"github.com/pingup-app/eventd/internal/model"
	"github.com/pingup-app/eventd/internal/task"
)

const defaultTaskListLimit = 50

var validTaskStatuses = map[string]bool{
	model.TaskPending:   true,
	model.TaskSleeping:  true,
	model.TaskRunning:   true,
	model.TaskCompleted: true,
	model.TaskFailed:    true,
}

// Tasks exposes a read-only operator view of task instances.
type Tasks struct {
	store task.Store
}

func NewTasks(store task.Store) *Tasks {
	return &Tasks{store: store}
}

func (h *Tasks) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if !validTaskStatuses[status] {
		response.WriteError(w, http.StatusBadRequest, "unknown or missing status")
		return
	}

	limit := defaultTaskListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			response.WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	instances, err := h.store.ListByStatus(r.Context(), status, limit)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{"items": instances})
}

func (h *Tasks) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		response.WriteError(w, http.StatusBadRequest, "missing task ID")
		return
	}

	inst, err := h.store.LoadByID(r.Context(), id)
	if errors.Is(err, task.ErrNotFound) {
		response.WriteError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, inst)
}
