package postgres

import (
	"context"
	"fmt"

	"github.com/effortlog/effortlog/internal/domain/instance"
)

// Lifecycle transitions run as one transaction per logical operation: the
// row is locked, the shared engine applies the transition in memory, and the
// full row is written back. Partial writes roll back atomically.

func (s *Store) Initialize(ctx context.Context, id string, pred instance.Predicted) (*instance.Instance, error) {
	return s.transition(ctx, id, func(inst *instance.Instance) error {
		return s.engine.Initialize(inst, pred)
	})
}

func (s *Store) Start(ctx context.Context, id string) (*instance.Instance, error) {
	return s.transition(ctx, id, s.engine.Start)
}

func (s *Store) Pause(ctx context.Context, id string, reason string, completionPct *float64) (*instance.Instance, error) {
	return s.transition(ctx, id, func(inst *instance.Instance) error {
		return s.engine.Pause(inst, reason, completionPct)
	})
}

func (s *Store) Resume(ctx context.Context, id string) (*instance.Instance, error) {
	return s.transition(ctx, id, s.engine.Resume)
}

func (s *Store) Complete(ctx context.Context, id string, actual instance.Actual) (*instance.Instance, error) {
	return s.transition(ctx, id, func(inst *instance.Instance) error {
		return s.engine.Complete(inst, actual)
	})
}

func (s *Store) Cancel(ctx context.Context, id string, actual instance.Actual) (*instance.Instance, error) {
	return s.transition(ctx, id, func(inst *instance.Instance) error {
		return s.engine.Cancel(inst, actual)
	})
}

func (s *Store) Amend(ctx context.Context, id string, pred *instance.Predicted, actual *instance.Actual) (*instance.Instance, error) {
	return s.transition(ctx, id, func(inst *instance.Instance) error {
		return s.engine.Amend(inst, pred, actual)
	})
}

func (s *Store) transition(ctx context.Context, id string, fn func(*instance.Instance) error) (*instance.Instance, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+instanceCols+` FROM instances
		 WHERE id = $1 AND owner_user_id = $2 FOR UPDATE`,
		id, ownerFromCtx(ctx))
	inst, err := scanInstance(row)
	if err != nil {
		return nil, notFoundWrap(err, "instance %s", id)
	}

	if err := fn(inst); err != nil {
		return nil, err
	}
	if err := updateInstanceTx(ctx, tx, inst); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return inst, nil
}
