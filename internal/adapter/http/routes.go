package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/effortlog/effortlog/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router. Every route
// under /api/v1 requires the X-User-ID header; all reads and writes are
// scoped to that owner.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.UserID)

		// Instances
		r.Post("/instances", h.CreateInstance)
		r.Post("/instances/bulk", h.GetInstancesBulk)
		r.Get("/instances/active", h.ListActive)
		r.Get("/instances/cancelled", h.ListCancelled)
		r.Get("/instances/completed", h.ListRecentCompleted)
		r.Get("/instances/{id}", h.GetInstance)
		r.Patch("/instances/{id}", h.AmendInstance)
		r.Delete("/instances/{id}", h.DeleteInstance)

		// Lifecycle transitions
		r.Post("/instances/{id}/initialize", h.InitializeInstance)
		r.Post("/instances/{id}/start", h.StartInstance)
		r.Post("/instances/{id}/pause", h.PauseInstance)
		r.Post("/instances/{id}/resume", h.ResumeInstance)
		r.Post("/instances/{id}/complete", h.CompleteInstance)
		r.Post("/instances/{id}/cancel", h.CancelInstance)

		// Per-task views and priors
		r.Get("/tasks/{taskID}/instances", h.ListByTask)
		r.Get("/tasks/{taskID}/priors", h.GetTaskPriors)
		r.Get("/tasks/{taskID}/averages/predicted", h.GetTaskPredictedAverages)
		r.Get("/tasks/{taskID}/averages/actual", h.GetTaskActualAverages)
		r.Post("/tasks/priors", h.GetTaskPriorsBulk)
	})
}
