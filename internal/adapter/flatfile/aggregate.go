package flatfile

import (
	"context"

	"github.com/effortlog/effortlog/internal/domain/instance"
	"github.com/effortlog/effortlog/internal/stats"
)

// Aggregates operate over the owner's initialized instances of a task, so a
// prior exists as soon as expectations were captured, completed or not.

func (s *Store) PreviousTaskAverages(ctx context.Context, taskID string) (stats.Averages, error) {
	return stats.PredictedAverages(s.initialized(ctx, taskID)), nil
}

func (s *Store) PreviousTaskAveragesBulk(ctx context.Context, taskIDs []string) (map[string]stats.Averages, error) {
	return aggregateBulk(s, ctx, taskIDs, stats.PredictedAverages), nil
}

func (s *Store) PreviousActualAverages(ctx context.Context, taskID string) (stats.Averages, error) {
	return stats.ActualAverages(s.initialized(ctx, taskID)), nil
}

func (s *Store) PreviousActualAveragesBulk(ctx context.Context, taskIDs []string) (map[string]stats.Averages, error) {
	return aggregateBulk(s, ctx, taskIDs, stats.ActualAverages), nil
}

func (s *Store) InitialAversion(ctx context.Context, taskID string) (float64, error) {
	return stats.InitialAversionMean(s.initialized(ctx, taskID)), nil
}

func (s *Store) InitialAversionBulk(ctx context.Context, taskIDs []string) (map[string]float64, error) {
	return aggregateBulk(s, ctx, taskIDs, stats.InitialAversionMean), nil
}

func (s *Store) BaselineAversionRobust(ctx context.Context, taskID string) (float64, error) {
	return stats.AversionBaselineRobust(s.initialized(ctx, taskID)), nil
}

func (s *Store) BaselineAversionRobustBulk(ctx context.Context, taskIDs []string) (map[string]float64, error) {
	return aggregateBulk(s, ctx, taskIDs, stats.AversionBaselineRobust), nil
}

func (s *Store) BaselineAversionSensitive(ctx context.Context, taskID string) (float64, error) {
	return stats.AversionBaselineSensitive(s.initialized(ctx, taskID)), nil
}

func (s *Store) BaselineAversionSensitiveBulk(ctx context.Context, taskIDs []string) (map[string]float64, error) {
	return aggregateBulk(s, ctx, taskIDs, stats.AversionBaselineSensitive), nil
}

// initialized returns the owner's initialized instances of one task.
func (s *Store) initialized(ctx context.Context, taskID string) []instance.Instance {
	return s.list(ctx, func(inst *instance.Instance) bool {
		return inst.TaskID == taskID && inst.InitializedAt != nil
	}, byCreatedAsc)
}

// aggregateBulk groups the owner's initialized instances by task in one
// table read, then applies fn per group.
func aggregateBulk[T any](s *Store, ctx context.Context, taskIDs []string, fn func([]instance.Instance) T) map[string]T {
	want := make(map[string]struct{}, len(taskIDs))
	for _, id := range taskIDs {
		want[id] = struct{}{}
	}
	all := s.list(ctx, func(inst *instance.Instance) bool {
		_, ok := want[inst.TaskID]
		return ok && inst.InitializedAt != nil
	}, byCreatedAsc)

	groups := make(map[string][]instance.Instance, len(taskIDs))
	for i := range all {
		groups[all[i].TaskID] = append(groups[all[i].TaskID], all[i])
	}
	out := make(map[string]T, len(taskIDs))
	for _, id := range taskIDs {
		out[id] = fn(groups[id])
	}
	return out
}
