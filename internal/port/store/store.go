// Package store defines the instance store port (interface). Both storage
// backends implement it and must behave identically from the caller's
// perspective.
package store

import (
	"context"

	"github.com/effortlog/effortlog/internal/domain/instance"
	"github.com/effortlog/effortlog/internal/stats"
)

// Store is the backend-agnostic contract for task-instance persistence.
//
// Every operation is scoped by the owner user ID carried in the context (see
// middleware.UserIDFromContext). A context without an owner fails closed:
// lists come back empty, lookups and mutations report domain.ErrNotFound.
// No call ever falls back to an unscoped query.
type Store interface {
	Create(ctx context.Context, req instance.CreateRequest) (*instance.Instance, error)
	Get(ctx context.Context, id string) (*instance.Instance, error)
	// GetBulk resolves many instances in one round trip. IDs that are
	// missing or owned by someone else are silently absent from the result.
	GetBulk(ctx context.Context, ids []string) (map[string]*instance.Instance, error)

	ListActive(ctx context.Context) ([]instance.Instance, error)
	ListCancelled(ctx context.Context) ([]instance.Instance, error)
	// ListRecentCompleted returns completed instances ordered most recent
	// first, capped at limit (<=0 means no cap).
	ListRecentCompleted(ctx context.Context, limit int) ([]instance.Instance, error)
	ListByTask(ctx context.Context, taskID string, includeCompleted bool) ([]instance.Instance, error)

	Initialize(ctx context.Context, id string, pred instance.Predicted) (*instance.Instance, error)
	Start(ctx context.Context, id string) (*instance.Instance, error)
	Pause(ctx context.Context, id string, reason string, completionPct *float64) (*instance.Instance, error)
	Resume(ctx context.Context, id string) (*instance.Instance, error)
	Complete(ctx context.Context, id string, actual instance.Actual) (*instance.Instance, error)
	Cancel(ctx context.Context, id string, actual instance.Actual) (*instance.Instance, error)
	// Amend rewrites predicted/actual documents of a terminal instance
	// without changing status or terminal timestamps.
	Amend(ctx context.Context, id string, pred *instance.Predicted, actual *instance.Actual) (*instance.Instance, error)
	Delete(ctx context.Context, id string) error

	// Aggregate helpers compute priors from the owner's own history of the
	// given task. Bulk variants group all task IDs in one pass.
	PreviousTaskAverages(ctx context.Context, taskID string) (stats.Averages, error)
	PreviousTaskAveragesBulk(ctx context.Context, taskIDs []string) (map[string]stats.Averages, error)
	PreviousActualAverages(ctx context.Context, taskID string) (stats.Averages, error)
	PreviousActualAveragesBulk(ctx context.Context, taskIDs []string) (map[string]stats.Averages, error)
	InitialAversion(ctx context.Context, taskID string) (float64, error)
	InitialAversionBulk(ctx context.Context, taskIDs []string) (map[string]float64, error)
	BaselineAversionRobust(ctx context.Context, taskID string) (float64, error)
	BaselineAversionRobustBulk(ctx context.Context, taskIDs []string) (map[string]float64, error)
	BaselineAversionSensitive(ctx context.Context, taskID string) (float64, error)
	BaselineAversionSensitiveBulk(ctx context.Context, taskIDs []string) (map[string]float64, error)
}
