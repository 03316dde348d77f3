package flatfile

import (
	"context"
	"fmt"
	"sort"

	"github.com/effortlog/effortlog/internal/domain"
	"github.com/effortlog/effortlog/internal/domain/instance"
	"github.com/effortlog/effortlog/internal/middleware"
	"github.com/effortlog/effortlog/internal/port/store"
)

var _ store.Store = (*Store)(nil)

func ownerFromCtx(ctx context.Context) string {
	return middleware.UserIDFromContext(ctx)
}

// Create appends a new instance row for the calling owner.
func (s *Store) Create(ctx context.Context, req instance.CreateRequest) (*instance.Instance, error) {
	owner := ownerFromCtx(ctx)
	if owner == "" {
		return nil, fmt.Errorf("create instance: owner required: %w", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	inst := s.engine.NewInstance(owner, req)
	rows = append(rows, *inst)
	if err := s.save(ctx, rows); err != nil {
		return nil, err
	}
	return inst.Clone(), nil
}

// Get returns the instance if it exists and belongs to the caller. A row
// owned by someone else reports the same not-found as a missing row.
func (s *Store) Get(ctx context.Context, id string) (*instance.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.loadForRead(ctx)
	if i, ok := findOwned(rows, ownerFromCtx(ctx), id); ok {
		return rows[i].Clone(), nil
	}
	return nil, fmt.Errorf("get instance %s: %w", id, domain.ErrNotFound)
}

// GetBulk resolves many instances in one table read.
func (s *Store) GetBulk(ctx context.Context, ids []string) (map[string]*instance.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner := ownerFromCtx(ctx)
	out := make(map[string]*instance.Instance, len(ids))
	if owner == "" {
		return out, nil
	}

	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	rows := s.loadForRead(ctx)
	for i := range rows {
		if rows[i].OwnerUserID != owner {
			continue
		}
		if _, ok := want[rows[i].ID]; ok {
			out[rows[i].ID] = rows[i].Clone()
		}
	}
	return out, nil
}

// ListActive returns the caller's non-terminal instances, oldest first.
func (s *Store) ListActive(ctx context.Context) ([]instance.Instance, error) {
	return s.list(ctx, func(inst *instance.Instance) bool {
		return !inst.Status.Terminal()
	}, byCreatedAsc), nil
}

// ListCancelled returns the caller's cancelled instances, newest first.
func (s *Store) ListCancelled(ctx context.Context) ([]instance.Instance, error) {
	return s.list(ctx, func(inst *instance.Instance) bool {
		return inst.Status == instance.StatusCancelled
	}, byCancelledDesc), nil
}

// ListRecentCompleted returns the caller's completed instances, most recent
// first, capped at limit.
func (s *Store) ListRecentCompleted(ctx context.Context, limit int) ([]instance.Instance, error) {
	out := s.list(ctx, func(inst *instance.Instance) bool {
		return inst.Status == instance.StatusCompleted
	}, byCompletedDesc)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListByTask returns the caller's instances of one task. Cancelled instances
// are always excluded; completed ones only when requested.
func (s *Store) ListByTask(ctx context.Context, taskID string, includeCompleted bool) ([]instance.Instance, error) {
	return s.list(ctx, func(inst *instance.Instance) bool {
		if inst.TaskID != taskID || inst.Status == instance.StatusCancelled {
			return false
		}
		return includeCompleted || inst.Status != instance.StatusCompleted
	}, byCreatedAsc), nil
}

// --- Lifecycle transitions ---

func (s *Store) Initialize(ctx context.Context, id string, pred instance.Predicted) (*instance.Instance, error) {
	return s.mutate(ctx, id, func(inst *instance.Instance) error {
		return s.engine.Initialize(inst, pred)
	})
}

func (s *Store) Start(ctx context.Context, id string) (*instance.Instance, error) {
	return s.mutate(ctx, id, s.engine.Start)
}

func (s *Store) Pause(ctx context.Context, id string, reason string, completionPct *float64) (*instance.Instance, error) {
	return s.mutate(ctx, id, func(inst *instance.Instance) error {
		return s.engine.Pause(inst, reason, completionPct)
	})
}

func (s *Store) Resume(ctx context.Context, id string) (*instance.Instance, error) {
	return s.mutate(ctx, id, s.engine.Resume)
}

func (s *Store) Complete(ctx context.Context, id string, actual instance.Actual) (*instance.Instance, error) {
	return s.mutate(ctx, id, func(inst *instance.Instance) error {
		return s.engine.Complete(inst, actual)
	})
}

func (s *Store) Cancel(ctx context.Context, id string, actual instance.Actual) (*instance.Instance, error) {
	return s.mutate(ctx, id, func(inst *instance.Instance) error {
		return s.engine.Cancel(inst, actual)
	})
}

func (s *Store) Amend(ctx context.Context, id string, pred *instance.Predicted, actual *instance.Actual) (*instance.Instance, error) {
	return s.mutate(ctx, id, func(inst *instance.Instance) error {
		return s.engine.Amend(inst, pred, actual)
	})
}

// Delete removes the row unconditionally, independent of status.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.load(ctx)
	if err != nil {
		return err
	}
	i, ok := findOwned(rows, ownerFromCtx(ctx), id)
	if !ok {
		return fmt.Errorf("delete instance %s: %w", id, domain.ErrNotFound)
	}
	rows = append(rows[:i], rows[i+1:]...)
	return s.save(ctx, rows)
}

// mutate applies a lifecycle transition to one owned row and persists the
// whole table. The mutex spans the read-modify-write so concurrent callers
// cannot interleave partial tables.
func (s *Store) mutate(ctx context.Context, id string, fn func(*instance.Instance) error) (*instance.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	i, ok := findOwned(rows, ownerFromCtx(ctx), id)
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", id, domain.ErrNotFound)
	}
	if err := fn(&rows[i]); err != nil {
		return nil, err
	}
	if err := s.save(ctx, rows); err != nil {
		return nil, err
	}
	return rows[i].Clone(), nil
}

func (s *Store) list(ctx context.Context, keep func(*instance.Instance) bool, less func(a, b *instance.Instance) bool) []instance.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner := ownerFromCtx(ctx)
	if owner == "" {
		return []instance.Instance{}
	}
	rows := s.loadForRead(ctx)
	out := make([]instance.Instance, 0)
	for i := range rows {
		if rows[i].OwnerUserID == owner && keep(&rows[i]) {
			out = append(out, *rows[i].Clone())
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return less(&out[a], &out[b]) })
	return out
}

func findOwned(rows []instance.Instance, owner, id string) (int, bool) {
	if owner == "" || id == "" {
		return 0, false
	}
	for i := range rows {
		if rows[i].ID == id && rows[i].OwnerUserID == owner {
			return i, true
		}
	}
	return 0, false
}

func byCreatedAsc(a, b *instance.Instance) bool {
	return a.CreatedAt.Before(b.CreatedAt)
}

func byCompletedDesc(a, b *instance.Instance) bool {
	at, bt := a.CompletedAt, b.CompletedAt
	if at == nil || bt == nil {
		return bt == nil && at != nil
	}
	return at.After(*bt)
}

func byCancelledDesc(a, b *instance.Instance) bool {
	at, bt := a.CancelledAt, b.CancelledAt
	if at == nil || bt == nil {
		return bt == nil && at != nil
	}
	return at.After(*bt)
}
