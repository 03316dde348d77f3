package postgres

import (
	"context"

	"github.com/effortlog/effortlog/internal/domain/instance"
	"github.com/effortlog/effortlog/internal/stats"
)

// Aggregates load the owner's initialized instances and reduce them with the
// shared stats helpers, so both backends produce identical results given the
// same logical data.

func (s *Store) PreviousTaskAverages(ctx context.Context, taskID string) (stats.Averages, error) {
	insts, err := s.initialized(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return stats.PredictedAverages(insts), nil
}

func (s *Store) PreviousTaskAveragesBulk(ctx context.Context, taskIDs []string) (map[string]stats.Averages, error) {
	return aggregateBulk(ctx, s, taskIDs, stats.PredictedAverages)
}

func (s *Store) PreviousActualAverages(ctx context.Context, taskID string) (stats.Averages, error) {
	insts, err := s.initialized(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return stats.ActualAverages(insts), nil
}

func (s *Store) PreviousActualAveragesBulk(ctx context.Context, taskIDs []string) (map[string]stats.Averages, error) {
	return aggregateBulk(ctx, s, taskIDs, stats.ActualAverages)
}

func (s *Store) InitialAversion(ctx context.Context, taskID string) (float64, error) {
	insts, err := s.initialized(ctx, taskID)
	if err != nil {
		return 0, err
	}
	return stats.InitialAversionMean(insts), nil
}

func (s *Store) InitialAversionBulk(ctx context.Context, taskIDs []string) (map[string]float64, error) {
	return aggregateBulk(ctx, s, taskIDs, stats.InitialAversionMean)
}

func (s *Store) BaselineAversionRobust(ctx context.Context, taskID string) (float64, error) {
	insts, err := s.initialized(ctx, taskID)
	if err != nil {
		return 0, err
	}
	return stats.AversionBaselineRobust(insts), nil
}

func (s *Store) BaselineAversionRobustBulk(ctx context.Context, taskIDs []string) (map[string]float64, error) {
	return aggregateBulk(ctx, s, taskIDs, stats.AversionBaselineRobust)
}

func (s *Store) BaselineAversionSensitive(ctx context.Context, taskID string) (float64, error) {
	insts, err := s.initialized(ctx, taskID)
	if err != nil {
		return 0, err
	}
	return stats.AversionBaselineSensitive(insts), nil
}

func (s *Store) BaselineAversionSensitiveBulk(ctx context.Context, taskIDs []string) (map[string]float64, error) {
	return aggregateBulk(ctx, s, taskIDs, stats.AversionBaselineSensitive)
}

// initialized returns the owner's initialized instances of one task.
func (s *Store) initialized(ctx context.Context, taskID string) ([]instance.Instance, error) {
	return s.listWhere(ctx,
		`task_id = $2 AND initialized_at IS NOT NULL ORDER BY created_at ASC`, taskID)
}

// aggregateBulk fetches every requested task's initialized instances in one
// query and reduces each group with fn.
func aggregateBulk[T any](ctx context.Context, s *Store, taskIDs []string, fn func([]instance.Instance) T) (map[string]T, error) {
	out := make(map[string]T, len(taskIDs))
	if len(taskIDs) == 0 {
		return out, nil
	}
	insts, err := s.listWhere(ctx,
		`task_id = ANY($2) AND initialized_at IS NOT NULL ORDER BY created_at ASC`, taskIDs)
	if err != nil {
		return nil, err
	}
	groups := make(map[string][]instance.Instance, len(taskIDs))
	for i := range insts {
		groups[insts[i].TaskID] = append(groups[insts[i].TaskID], insts[i])
	}
	for _, id := range taskIDs {
		out[id] = fn(groups[id])
	}
	return out, nil
}
