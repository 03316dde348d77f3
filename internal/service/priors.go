package service

import (
	"context"
	"strings"

	"github.com/effortlog/effortlog/internal/adapter/otel"
	"github.com/effortlog/effortlog/internal/stats"
)

// TaskPriors bundles every aggregate prior for one task template, computed
// over the owner's initialized instances of that task.
type TaskPriors struct {
	TaskID                    string         `json:"task_id"`
	PredictedAverages         stats.Averages `json:"predicted_averages"`
	ActualAverages            stats.Averages `json:"actual_averages"`
	InitialAversion           float64        `json:"initial_aversion"`
	BaselineAversionRobust    float64        `json:"baseline_aversion_robust"`
	BaselineAversionSensitive float64        `json:"baseline_aversion_sensitive"`
}

// Priors computes all priors for one task in a single call.
func (s *InstanceService) Priors(ctx context.Context, taskID string) (*TaskPriors, error) {
	ctx, span := otel.StartAggregateSpan(ctx, "priors", taskID)
	defer span.End()

	return cached(ctx, s, cacheKey(ctx, "priors", taskID), func(ctx context.Context) (*TaskPriors, error) {
		pred, err := s.store.PreviousTaskAverages(ctx, taskID)
		if err != nil {
			return nil, err
		}
		act, err := s.store.PreviousActualAverages(ctx, taskID)
		if err != nil {
			return nil, err
		}
		initial, err := s.store.InitialAversion(ctx, taskID)
		if err != nil {
			return nil, err
		}
		robust, err := s.store.BaselineAversionRobust(ctx, taskID)
		if err != nil {
			return nil, err
		}
		sensitive, err := s.store.BaselineAversionSensitive(ctx, taskID)
		if err != nil {
			return nil, err
		}
		return &TaskPriors{
			TaskID:                    taskID,
			PredictedAverages:         pred,
			ActualAverages:            act,
			InitialAversion:           initial,
			BaselineAversionRobust:    robust,
			BaselineAversionSensitive: sensitive,
		}, nil
	})
}

// PriorsBulk computes priors for many tasks, one backend pass per aggregate
// family instead of one per task.
func (s *InstanceService) PriorsBulk(ctx context.Context, taskIDs []string) (map[string]*TaskPriors, error) {
	ctx, span := otel.StartAggregateSpan(ctx, "priors_bulk", strings.Join(taskIDs, ","))
	defer span.End()

	key := cacheKey(ctx, "priors-bulk", strings.Join(taskIDs, ","))
	return cached(ctx, s, key, func(ctx context.Context) (map[string]*TaskPriors, error) {
		pred, err := s.store.PreviousTaskAveragesBulk(ctx, taskIDs)
		if err != nil {
			return nil, err
		}
		act, err := s.store.PreviousActualAveragesBulk(ctx, taskIDs)
		if err != nil {
			return nil, err
		}
		initial, err := s.store.InitialAversionBulk(ctx, taskIDs)
		if err != nil {
			return nil, err
		}
		robust, err := s.store.BaselineAversionRobustBulk(ctx, taskIDs)
		if err != nil {
			return nil, err
		}
		sensitive, err := s.store.BaselineAversionSensitiveBulk(ctx, taskIDs)
		if err != nil {
			return nil, err
		}

		out := make(map[string]*TaskPriors, len(taskIDs))
		for _, id := range taskIDs {
			out[id] = &TaskPriors{
				TaskID:                    id,
				PredictedAverages:         pred[id],
				ActualAverages:            act[id],
				InitialAversion:           initial[id],
				BaselineAversionRobust:    robust[id],
				BaselineAversionSensitive: sensitive[id],
			}
		}
		return out, nil
	})
}

// PreviousTaskAverages exposes the predicted-document averages for one task.
func (s *InstanceService) PreviousTaskAverages(ctx context.Context, taskID string) (stats.Averages, error) {
	return cached(ctx, s, cacheKey(ctx, "avg-predicted", taskID), func(ctx context.Context) (stats.Averages, error) {
		return s.store.PreviousTaskAverages(ctx, taskID)
	})
}

// PreviousActualAverages exposes the actual-document averages for one task.
func (s *InstanceService) PreviousActualAverages(ctx context.Context, taskID string) (stats.Averages, error) {
	return cached(ctx, s, cacheKey(ctx, "avg-actual", taskID), func(ctx context.Context) (stats.Averages, error) {
		return s.store.PreviousActualAverages(ctx, taskID)
	})
}
