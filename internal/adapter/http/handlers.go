package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/effortlog/effortlog/internal/domain/instance"
	"github.com/effortlog/effortlog/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Instances *service.InstanceService
}

// NewHandlers creates the handler set.
func NewHandlers(instances *service.InstanceService) *Handlers {
	return &Handlers{Instances: instances}
}

// CreateInstance handles POST /api/v1/instances
func (h *Handlers) CreateInstance(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[instance.CreateRequest](w, r)
	if !ok {
		return
	}
	if req.TaskID == "" {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	inst, err := h.Instances.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "instance creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

// GetInstance handles GET /api/v1/instances/{id}
func (h *Handlers) GetInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, err := h.Instances.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// GetInstancesBulk handles POST /api/v1/instances/bulk
func (h *Handlers) GetInstancesBulk(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		IDs []string `json:"ids"`
	}](w, r)
	if !ok {
		return
	}
	if len(body.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}

	out, err := h.Instances.GetBulk(r.Context(), body.IDs)
	if err != nil {
		writeDomainError(w, err, "bulk lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ListActive handles GET /api/v1/instances/active
func (h *Handlers) ListActive(w http.ResponseWriter, r *http.Request) {
	list, err := h.Instances.ListActive(r.Context())
	if err != nil {
		writeDomainError(w, err, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ListCancelled handles GET /api/v1/instances/cancelled
func (h *Handlers) ListCancelled(w http.ResponseWriter, r *http.Request) {
	list, err := h.Instances.ListCancelled(r.Context())
	if err != nil {
		writeDomainError(w, err, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ListRecentCompleted handles GET /api/v1/instances/completed?limit=N
func (h *Handlers) ListRecentCompleted(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	list, err := h.Instances.ListRecentCompleted(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ListByTask handles GET /api/v1/tasks/{taskID}/instances?include_completed=true
func (h *Handlers) ListByTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	includeCompleted := r.URL.Query().Get("include_completed") == "true"

	list, err := h.Instances.ListByTask(r.Context(), taskID, includeCompleted)
	if err != nil {
		writeDomainError(w, err, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// InitializeInstance handles POST /api/v1/instances/{id}/initialize
func (h *Handlers) InitializeInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pred, ok := readJSON[instance.Predicted](w, r)
	if !ok {
		return
	}

	inst, err := h.Instances.Initialize(r.Context(), id, pred)
	if err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// StartInstance handles POST /api/v1/instances/{id}/start
func (h *Handlers) StartInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, err := h.Instances.Start(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// PauseInstance handles POST /api/v1/instances/{id}/pause
func (h *Handlers) PauseInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, ok := readJSON[struct {
		Reason            string   `json:"reason"`
		CompletionPercent *float64 `json:"completion_percent"`
	}](w, r)
	if !ok {
		return
	}

	inst, err := h.Instances.Pause(r.Context(), id, body.Reason, body.CompletionPercent)
	if err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// ResumeInstance handles POST /api/v1/instances/{id}/resume
func (h *Handlers) ResumeInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, err := h.Instances.Resume(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// CompleteInstance handles POST /api/v1/instances/{id}/complete
func (h *Handlers) CompleteInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actual, ok := readJSON[instance.Actual](w, r)
	if !ok {
		return
	}

	inst, err := h.Instances.Complete(r.Context(), id, actual)
	if err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// CancelInstance handles POST /api/v1/instances/{id}/cancel
func (h *Handlers) CancelInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actual, ok := readJSON[instance.Actual](w, r)
	if !ok {
		return
	}

	inst, err := h.Instances.Cancel(r.Context(), id, actual)
	if err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// AmendInstance handles PATCH /api/v1/instances/{id}
func (h *Handlers) AmendInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, ok := readJSON[struct {
		Predicted *instance.Predicted `json:"predicted"`
		Actual    *instance.Actual    `json:"actual"`
	}](w, r)
	if !ok {
		return
	}
	if body.Predicted == nil && body.Actual == nil {
		writeError(w, http.StatusBadRequest, "predicted or actual is required")
		return
	}

	inst, err := h.Instances.Amend(r.Context(), id, body.Predicted, body.Actual)
	if err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// DeleteInstance handles DELETE /api/v1/instances/{id}
func (h *Handlers) DeleteInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Instances.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetTaskPriors handles GET /api/v1/tasks/{taskID}/priors
func (h *Handlers) GetTaskPriors(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	priors, err := h.Instances.Priors(r.Context(), taskID)
	if err != nil {
		writeDomainError(w, err, "priors computation failed")
		return
	}
	writeJSON(w, http.StatusOK, priors)
}

// GetTaskPriorsBulk handles POST /api/v1/tasks/priors
func (h *Handlers) GetTaskPriorsBulk(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		TaskIDs []string `json:"task_ids"`
	}](w, r)
	if !ok {
		return
	}
	if len(body.TaskIDs) == 0 {
		writeError(w, http.StatusBadRequest, "task_ids is required")
		return
	}

	priors, err := h.Instances.PriorsBulk(r.Context(), body.TaskIDs)
	if err != nil {
		writeDomainError(w, err, "priors computation failed")
		return
	}
	writeJSON(w, http.StatusOK, priors)
}

// GetTaskPredictedAverages handles GET /api/v1/tasks/{taskID}/averages/predicted
func (h *Handlers) GetTaskPredictedAverages(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	avg, err := h.Instances.PreviousTaskAverages(r.Context(), taskID)
	if err != nil {
		writeDomainError(w, err, "averages computation failed")
		return
	}
	writeJSON(w, http.StatusOK, avg)
}

// GetTaskActualAverages handles GET /api/v1/tasks/{taskID}/averages/actual
func (h *Handlers) GetTaskActualAverages(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	avg, err := h.Instances.PreviousActualAverages(r.Context(), taskID)
	if err != nil {
		writeDomainError(w, err, "averages computation failed")
		return
	}
	writeJSON(w, http.StatusOK, avg)
}
