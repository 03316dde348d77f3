// Package failover implements the instance store port as a wrapper over a
// primary (relational) and fallback (flat-file) backend. In lenient mode an
// unexpected primary failure downgrades the whole process to the fallback
// for the remainder of its lifetime; strict mode surfaces the failure
// instead, for deployments where a silent switch would mask isolation bugs.
package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/effortlog/effortlog/internal/domain"
	"github.com/effortlog/effortlog/internal/domain/instance"
	"github.com/effortlog/effortlog/internal/port/store"
	"github.com/effortlog/effortlog/internal/resilience"
	"github.com/effortlog/effortlog/internal/stats"
)

// Store routes calls to the primary backend until it proves unhealthy.
// The downgrade is an explicit, logged state transition of this wrapper,
// never an ambient global.
type Store struct {
	primary  store.Store
	fallback store.Store
	strict   bool
	breaker  *resilience.Breaker
	log      *slog.Logger

	downgraded atomic.Bool
}

var _ store.Store = (*Store)(nil)

// New creates a failover store. The breaker guards primary calls so a
// persistently failing backend stops being retried call after call.
func New(primary, fallback store.Store, strict bool, breaker *resilience.Breaker, log *slog.Logger) *Store {
	return &Store{
		primary:  primary,
		fallback: fallback,
		strict:   strict,
		breaker:  breaker,
		log:      log,
	}
}

// Downgraded reports whether the wrapper has switched to the fallback.
func (s *Store) Downgraded() bool {
	return s.downgraded.Load()
}

// unexpected reports whether err signals backend trouble, as opposed to a
// normal domain outcome the caller asked about.
func unexpected(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// call runs fn against the active backend. Expected domain errors pass
// through untouched and never trip the breaker. Unexpected errors either
// surface as BackendUnavailable (strict) or trigger the one-way downgrade
// and a retry against the fallback (lenient).
func call[T any](s *Store, op string, fn func(st store.Store) (T, error)) (T, error) {
	if s.downgraded.Load() {
		return fn(s.fallback)
	}

	var out T
	var opErr error
	brkErr := s.breaker.Execute(func() error {
		out, opErr = fn(s.primary)
		if unexpected(opErr) {
			return opErr
		}
		return nil
	})
	if brkErr == nil {
		return out, opErr
	}

	if s.strict {
		var zero T
		return zero, fmt.Errorf("%s: %w: %w", op, domain.ErrBackendUnavailable, brkErr)
	}

	if s.downgraded.CompareAndSwap(false, true) {
		s.log.Error("relational backend failed, downgrading to flat-file for the rest of the process lifetime",
			"op", op, "error", brkErr)
	}
	return fn(s.fallback)
}

func (s *Store) Create(ctx context.Context, req instance.CreateRequest) (*instance.Instance, error) {
	return call(s, "create", func(st store.Store) (*instance.Instance, error) { return st.Create(ctx, req) })
}

func (s *Store) Get(ctx context.Context, id string) (*instance.Instance, error) {
	return call(s, "get", func(st store.Store) (*instance.Instance, error) { return st.Get(ctx, id) })
}

func (s *Store) GetBulk(ctx context.Context, ids []string) (map[string]*instance.Instance, error) {
	return call(s, "get bulk", func(st store.Store) (map[string]*instance.Instance, error) { return st.GetBulk(ctx, ids) })
}

func (s *Store) ListActive(ctx context.Context) ([]instance.Instance, error) {
	return call(s, "list active", func(st store.Store) ([]instance.Instance, error) { return st.ListActive(ctx) })
}

func (s *Store) ListCancelled(ctx context.Context) ([]instance.Instance, error) {
	return call(s, "list cancelled", func(st store.Store) ([]instance.Instance, error) { return st.ListCancelled(ctx) })
}

func (s *Store) ListRecentCompleted(ctx context.Context, limit int) ([]instance.Instance, error) {
	return call(s, "list recent completed", func(st store.Store) ([]instance.Instance, error) { return st.ListRecentCompleted(ctx, limit) })
}

func (s *Store) ListByTask(ctx context.Context, taskID string, includeCompleted bool) ([]instance.Instance, error) {
	return call(s, "list by task", func(st store.Store) ([]instance.Instance, error) { return st.ListByTask(ctx, taskID, includeCompleted) })
}

func (s *Store) Initialize(ctx context.Context, id string, pred instance.Predicted) (*instance.Instance, error) {
	return call(s, "initialize", func(st store.Store) (*instance.Instance, error) { return st.Initialize(ctx, id, pred) })
}

func (s *Store) Start(ctx context.Context, id string) (*instance.Instance, error) {
	return call(s, "start", func(st store.Store) (*instance.Instance, error) { return st.Start(ctx, id) })
}

func (s *Store) Pause(ctx context.Context, id string, reason string, completionPct *float64) (*instance.Instance, error) {
	return call(s, "pause", func(st store.Store) (*instance.Instance, error) { return st.Pause(ctx, id, reason, completionPct) })
}

func (s *Store) Resume(ctx context.Context, id string) (*instance.Instance, error) {
	return call(s, "resume", func(st store.Store) (*instance.Instance, error) { return st.Resume(ctx, id) })
}

func (s *Store) Complete(ctx context.Context, id string, actual instance.Actual) (*instance.Instance, error) {
	return call(s, "complete", func(st store.Store) (*instance.Instance, error) { return st.Complete(ctx, id, actual) })
}

func (s *Store) Cancel(ctx context.Context, id string, actual instance.Actual) (*instance.Instance, error) {
	return call(s, "cancel", func(st store.Store) (*instance.Instance, error) { return st.Cancel(ctx, id, actual) })
}

func (s *Store) Amend(ctx context.Context, id string, pred *instance.Predicted, actual *instance.Actual) (*instance.Instance, error) {
	return call(s, "amend", func(st store.Store) (*instance.Instance, error) { return st.Amend(ctx, id, pred, actual) })
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := call(s, "delete", func(st store.Store) (struct{}, error) { return struct{}{}, st.Delete(ctx, id) })
	return err
}

func (s *Store) PreviousTaskAverages(ctx context.Context, taskID string) (stats.Averages, error) {
	return call(s, "previous task averages", func(st store.Store) (stats.Averages, error) { return st.PreviousTaskAverages(ctx, taskID) })
}

func (s *Store) PreviousTaskAveragesBulk(ctx context.Context, taskIDs []string) (map[string]stats.Averages, error) {
	return call(s, "previous task averages bulk", func(st store.Store) (map[string]stats.Averages, error) { return st.PreviousTaskAveragesBulk(ctx, taskIDs) })
}

func (s *Store) PreviousActualAverages(ctx context.Context, taskID string) (stats.Averages, error) {
	return call(s, "previous actual averages", func(st store.Store) (stats.Averages, error) { return st.PreviousActualAverages(ctx, taskID) })
}

func (s *Store) PreviousActualAveragesBulk(ctx context.Context, taskIDs []string) (map[string]stats.Averages, error) {
	return call(s, "previous actual averages bulk", func(st store.Store) (map[string]stats.Averages, error) { return st.PreviousActualAveragesBulk(ctx, taskIDs) })
}

func (s *Store) InitialAversion(ctx context.Context, taskID string) (float64, error) {
	return call(s, "initial aversion", func(st store.Store) (float64, error) { return st.InitialAversion(ctx, taskID) })
}

func (s *Store) InitialAversionBulk(ctx context.Context, taskIDs []string) (map[string]float64, error) {
	return call(s, "initial aversion bulk", func(st store.Store) (map[string]float64, error) { return st.InitialAversionBulk(ctx, taskIDs) })
}

func (s *Store) BaselineAversionRobust(ctx context.Context, taskID string) (float64, error) {
	return call(s, "baseline aversion robust", func(st store.Store) (float64, error) { return st.BaselineAversionRobust(ctx, taskID) })
}

func (s *Store) BaselineAversionRobustBulk(ctx context.Context, taskIDs []string) (map[string]float64, error) {
	return call(s, "baseline aversion robust bulk", func(st store.Store) (map[string]float64, error) { return st.BaselineAversionRobustBulk(ctx, taskIDs) })
}

func (s *Store) BaselineAversionSensitive(ctx context.Context, taskID string) (float64, error) {
	return call(s, "baseline aversion sensitive", func(st store.Store) (float64, error) { return st.BaselineAversionSensitive(ctx, taskID) })
}

func (s *Store) BaselineAversionSensitiveBulk(ctx context.Context, taskIDs []string) (map[string]float64, error) {
	return call(s, "baseline aversion sensitive bulk", func(st store.Store) (map[string]float64, error) { return st.BaselineAversionSensitiveBulk(ctx, taskIDs) })
}
