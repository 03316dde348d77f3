package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/effortlog/effortlog/internal/domain"
	"github.com/effortlog/effortlog/internal/domain/instance"
	"github.com/effortlog/effortlog/internal/lifecycle"
	"github.com/effortlog/effortlog/internal/port/store"
)

// instanceCols is the column list shared by every instance query.
const instanceCols = `id, task_id, task_name, task_version, owner_user_id,
	status, is_completed, is_deleted,
	created_at, initialized_at, started_at, completed_at, cancelled_at,
	predicted, actual,
	duration_minutes, delay_minutes, procrastination_score, proactive_score,
	net_relief, serendipity_factor, disappointment_factor, behavioral_score`

// Store implements store.Store using PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	engine *lifecycle.Engine
}

var _ store.Store = (*Store)(nil)

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return NewStoreWithEngine(pool, lifecycle.New())
}

// NewStoreWithEngine creates a Store with an explicit lifecycle engine
// (tests inject a fixed clock this way).
func NewStoreWithEngine(pool *pgxpool.Pool, engine *lifecycle.Engine) *Store {
	return &Store{pool: pool, engine: engine}
}

// Create inserts a freshly created instance for the calling owner.
func (s *Store) Create(ctx context.Context, req instance.CreateRequest) (*instance.Instance, error) {
	owner := ownerFromCtx(ctx)
	if owner == "" {
		return nil, fmt.Errorf("create instance: owner required: %w", domain.ErrValidation)
	}

	inst := s.engine.NewInstance(owner, req)
	predicted, actual, err := marshalDocs(inst)
	if err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO instances (id, task_id, task_name, task_version, owner_user_id,
			status, is_completed, is_deleted, created_at, predicted, actual)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		inst.ID, inst.TaskID, inst.TaskName, inst.TaskVersion, inst.OwnerUserID,
		string(inst.Status), inst.IsCompleted, inst.IsDeleted, inst.CreatedAt, predicted, actual)
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	return inst, nil
}

// Get returns the instance if it exists and belongs to the caller. A row
// owned by someone else reports the same not-found as a missing row.
func (s *Store) Get(ctx context.Context, id string) (*instance.Instance, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+instanceCols+` FROM instances WHERE id = $1 AND owner_user_id = $2`,
		id, ownerFromCtx(ctx))
	inst, err := scanInstance(row)
	if err != nil {
		return nil, notFoundWrap(err, "get instance %s", id)
	}
	return inst, nil
}

// GetBulk resolves many instances in one round trip.
func (s *Store) GetBulk(ctx context.Context, ids []string) (map[string]*instance.Instance, error) {
	out := make(map[string]*instance.Instance, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+instanceCols+` FROM instances WHERE id = ANY($1) AND owner_user_id = $2`,
		ids, ownerFromCtx(ctx))
	if err != nil {
		return nil, fmt.Errorf("get bulk: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out[inst.ID] = inst
	}
	return out, rows.Err()
}

// ListActive returns the caller's non-terminal instances, oldest first.
func (s *Store) ListActive(ctx context.Context) ([]instance.Instance, error) {
	return s.listWhere(ctx,
		`status NOT IN ('completed', 'cancelled') ORDER BY created_at ASC`)
}

// ListCancelled returns the caller's cancelled instances, newest first.
func (s *Store) ListCancelled(ctx context.Context) ([]instance.Instance, error) {
	return s.listWhere(ctx, `status = 'cancelled' ORDER BY cancelled_at DESC`)
}

// ListRecentCompleted returns completed instances, most recent first.
func (s *Store) ListRecentCompleted(ctx context.Context, limit int) ([]instance.Instance, error) {
	if limit > 0 {
		return s.listWhere(ctx,
			`status = 'completed' ORDER BY completed_at DESC LIMIT `+fmt.Sprint(limit))
	}
	return s.listWhere(ctx, `status = 'completed' ORDER BY completed_at DESC`)
}

// ListByTask returns the caller's instances of one task. Cancelled instances
// are always excluded; completed ones only when requested.
func (s *Store) ListByTask(ctx context.Context, taskID string, includeCompleted bool) ([]instance.Instance, error) {
	cond := `task_id = $2 AND status <> 'cancelled' ORDER BY created_at ASC`
	if !includeCompleted {
		cond = `task_id = $2 AND status NOT IN ('completed', 'cancelled') ORDER BY created_at ASC`
	}
	return s.listWhere(ctx, cond, taskID)
}

// Delete removes the row unconditionally, independent of status.
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM instances WHERE id = $1 AND owner_user_id = $2`,
		id, ownerFromCtx(ctx))
	if err != nil {
		return fmt.Errorf("delete instance %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete instance %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// listWhere runs an owner-scoped list query. cond is appended after the
// owner filter; extra args start at $2.
func (s *Store) listWhere(ctx context.Context, cond string, args ...any) ([]instance.Instance, error) {
	query := `SELECT ` + instanceCols + ` FROM instances WHERE owner_user_id = $1 AND ` + cond
	rows, err := s.pool.Query(ctx, query, append([]any{ownerFromCtx(ctx)}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	out := make([]instance.Instance, 0)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

// scanInstance reads one row in instanceCols order.
func scanInstance(row scannable) (*instance.Instance, error) {
	var (
		inst                 instance.Instance
		status               string
		predicted, actualRaw []byte
	)
	err := row.Scan(
		&inst.ID, &inst.TaskID, &inst.TaskName, &inst.TaskVersion, &inst.OwnerUserID,
		&status, &inst.IsCompleted, &inst.IsDeleted,
		&inst.CreatedAt, &inst.InitializedAt, &inst.StartedAt, &inst.CompletedAt, &inst.CancelledAt,
		&predicted, &actualRaw,
		&inst.DurationMinutes, &inst.DelayMinutes, &inst.ProcrastinationScore, &inst.ProactiveScore,
		&inst.NetRelief, &inst.SerendipityFactor, &inst.DisappointmentFactor, &inst.BehavioralScore,
	)
	if err != nil {
		return nil, err
	}
	inst.Status = instance.Status(status)
	if len(predicted) > 0 {
		if err := json.Unmarshal(predicted, &inst.Predicted); err != nil {
			return nil, fmt.Errorf("unmarshal predicted for %s: %w", inst.ID, err)
		}
	}
	if len(actualRaw) > 0 {
		if err := json.Unmarshal(actualRaw, &inst.Actual); err != nil {
			return nil, fmt.Errorf("unmarshal actual for %s: %w", inst.ID, err)
		}
	}
	return &inst, nil
}

// marshalDocs serializes the structured documents for storage.
func marshalDocs(inst *instance.Instance) (predicted, actual []byte, err error) {
	predicted, err = json.Marshal(inst.Predicted)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal predicted: %w", err)
	}
	actual, err = json.Marshal(inst.Actual)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal actual: %w", err)
	}
	return predicted, actual, nil
}

// updateInstanceTx persists every mutable column inside an open transaction.
func updateInstanceTx(ctx context.Context, tx pgx.Tx, inst *instance.Instance) error {
	predicted, actual, err := marshalDocs(inst)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		`UPDATE instances SET
			status = $3, is_completed = $4, is_deleted = $5,
			initialized_at = $6, started_at = $7, completed_at = $8, cancelled_at = $9,
			predicted = $10, actual = $11,
			duration_minutes = $12, delay_minutes = $13,
			procrastination_score = $14, proactive_score = $15,
			net_relief = $16, serendipity_factor = $17,
			disappointment_factor = $18, behavioral_score = $19
		 WHERE id = $1 AND owner_user_id = $2`,
		inst.ID, inst.OwnerUserID,
		string(inst.Status), inst.IsCompleted, inst.IsDeleted,
		inst.InitializedAt, inst.StartedAt, inst.CompletedAt, inst.CancelledAt,
		predicted, actual,
		inst.DurationMinutes, inst.DelayMinutes,
		inst.ProcrastinationScore, inst.ProactiveScore,
		inst.NetRelief, inst.SerendipityFactor,
		inst.DisappointmentFactor, inst.BehavioralScore)
	if err != nil {
		return fmt.Errorf("update instance %s: %w", inst.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update instance %s: %w", inst.ID, domain.ErrNotFound)
	}
	return nil
}
