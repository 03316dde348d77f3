// Package service contains the business logic layer between the HTTP
// adapter and the storage backends.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/effortlog/effortlog/internal/adapter/otel"
	"github.com/effortlog/effortlog/internal/domain/instance"
	"github.com/effortlog/effortlog/internal/middleware"
	"github.com/effortlog/effortlog/internal/port/cache"
	"github.com/effortlog/effortlog/internal/port/catalog"
	"github.com/effortlog/effortlog/internal/port/messagequeue"
	"github.com/effortlog/effortlog/internal/port/store"
)

// InstanceService handles task-instance business logic: catalog resolution on
// create, cached reads, cache invalidation on every write, and best-effort
// lifecycle notifications over the queue.
type InstanceService struct {
	store   store.Store
	cache   cache.Cache
	catalog catalog.Catalog
	queue   messagequeue.Queue
	metrics *otel.Metrics
	ttl     time.Duration
	log     *slog.Logger

	// sf collapses concurrent cache misses for the same key into one
	// backend read.
	sf singleflight.Group
}

// Option customizes an InstanceService.
type Option func(*InstanceService)

// WithCatalog wires a template catalog consulted on Create.
func WithCatalog(c catalog.Catalog) Option {
	return func(s *InstanceService) { s.catalog = c }
}

// WithQueue wires a message queue for lifecycle notifications.
func WithQueue(q messagequeue.Queue) Option {
	return func(s *InstanceService) { s.queue = q }
}

// WithMetrics wires lifecycle metric instruments.
func WithMetrics(m *otel.Metrics) Option {
	return func(s *InstanceService) { s.metrics = m }
}

// WithCacheTTL overrides the default read-cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *InstanceService) { s.ttl = ttl }
}

// NewInstanceService creates an InstanceService. The catalog, queue and
// metrics are optional; the cache is required (use a no-op cache to disable
// caching).
func NewInstanceService(st store.Store, ca cache.Cache, log *slog.Logger, opts ...Option) *InstanceService {
	s := &InstanceService{
		store: st,
		cache: ca,
		ttl:   2 * time.Minute,
		log:   log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// cacheKey builds an owner-scoped cache key. An empty owner yields an empty
// key, which disables caching for that call; the store fails closed anyway.
func cacheKey(ctx context.Context, parts ...string) string {
	owner := middleware.UserIDFromContext(ctx)
	if owner == "" {
		return ""
	}
	key := "u:" + owner
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

// cached serves key from the cache, falling back to fetch on a miss and
// populating the cache with the fetched value. Values round-trip through JSON
// so every hit hands out an independent copy. Concurrent misses for the same
// key share one fetch.
func cached[T any](ctx context.Context, s *InstanceService, key string, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	if key == "" {
		return fetch(ctx)
	}

	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var out T
		if err := json.Unmarshal(data, &out); err == nil {
			return out, nil
		}
		// Undecodable entry: fall through to the backend and overwrite.
	}

	v, err, _ := s.sf.Do(key, func() (any, error) {
		out, err := fetch(ctx)
		if err != nil {
			return zero, err
		}
		if data, err := json.Marshal(out); err == nil {
			if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
				s.log.Warn("cache set failed", "key", key, "error", err)
			}
		}
		return out, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// invalidate drops the whole cache after a successful write. Full
// invalidation keeps both list and aggregate entries consistent without
// tracking which keys a write touched.
func (s *InstanceService) invalidate(ctx context.Context) {
	if err := s.cache.Clear(ctx); err != nil {
		s.log.Warn("cache clear failed", "error", err)
	}
}

// Create creates a new instance. Task name and version are resolved from the
// catalog when one is wired; the request's own snapshot is the fallback.
func (s *InstanceService) Create(ctx context.Context, req instance.CreateRequest) (*instance.Instance, error) {
	if s.catalog != nil && req.TaskID != "" {
		tmpl, err := s.catalog.Lookup(ctx, req.TaskID)
		if err == nil {
			req.TaskName = tmpl.Name
			req.TaskVersion = tmpl.Version
			if req.Predicted.TimeEstimateMinutes == nil && tmpl.DefaultEstimateMinutes > 0 {
				req.Predicted.TimeEstimateMinutes = instance.Float(tmpl.DefaultEstimateMinutes)
			}
		}
	}

	inst, err := s.store.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	if s.metrics != nil {
		s.metrics.InstancesCreated.Add(ctx, 1)
	}
	s.notify(ctx, messagequeue.SubjectInstanceCreated, inst)
	return inst, nil
}

// Get returns one instance by ID.
func (s *InstanceService) Get(ctx context.Context, id string) (*instance.Instance, error) {
	return cached(ctx, s, cacheKey(ctx, "instance", id), func(ctx context.Context) (*instance.Instance, error) {
		return s.store.Get(ctx, id)
	})
}

// GetBulk resolves many instances in one backend round trip. Bulk reads skip
// the cache; the backends already answer them in a single query or file scan.
func (s *InstanceService) GetBulk(ctx context.Context, ids []string) (map[string]*instance.Instance, error) {
	return s.store.GetBulk(ctx, ids)
}

// ListActive returns the owner's non-terminal instances, oldest first.
func (s *InstanceService) ListActive(ctx context.Context) ([]instance.Instance, error) {
	return cached(ctx, s, cacheKey(ctx, "active"), s.store.ListActive)
}

// ListCancelled returns the owner's cancelled instances, newest first.
func (s *InstanceService) ListCancelled(ctx context.Context) ([]instance.Instance, error) {
	return cached(ctx, s, cacheKey(ctx, "cancelled"), s.store.ListCancelled)
}

// ListRecentCompleted returns the owner's completed instances, newest first,
// capped at limit.
func (s *InstanceService) ListRecentCompleted(ctx context.Context, limit int) ([]instance.Instance, error) {
	key := cacheKey(ctx, "recent-completed", fmt.Sprint(limit))
	return cached(ctx, s, key, func(ctx context.Context) ([]instance.Instance, error) {
		return s.store.ListRecentCompleted(ctx, limit)
	})
}

// ListByTask returns the owner's instances of one task template.
func (s *InstanceService) ListByTask(ctx context.Context, taskID string, includeCompleted bool) ([]instance.Instance, error) {
	key := cacheKey(ctx, "by-task", taskID, fmt.Sprint(includeCompleted))
	return cached(ctx, s, key, func(ctx context.Context) ([]instance.Instance, error) {
		return s.store.ListByTask(ctx, taskID, includeCompleted)
	})
}

// Initialize records predicted expectations and moves the instance to
// initialized. Re-initializing merges the new document without clobbering
// absent fields.
func (s *InstanceService) Initialize(ctx context.Context, id string, pred instance.Predicted) (*instance.Instance, error) {
	ctx, span := otel.StartLifecycleSpan(ctx, "initialize", id)
	defer span.End()

	inst, err := s.store.Initialize(ctx, id, pred)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return inst, nil
}

// Start begins the active work session.
func (s *InstanceService) Start(ctx context.Context, id string) (*instance.Instance, error) {
	ctx, span := otel.StartLifecycleSpan(ctx, "start", id)
	defer span.End()

	inst, err := s.store.Start(ctx, id)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return inst, nil
}

// Pause stops the clock, folding the elapsed session into the accumulated
// pre-pause total.
func (s *InstanceService) Pause(ctx context.Context, id, reason string, completionPct *float64) (*instance.Instance, error) {
	ctx, span := otel.StartLifecycleSpan(ctx, "pause", id)
	defer span.End()

	inst, err := s.store.Pause(ctx, id, reason, completionPct)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return inst, nil
}

// Resume restarts the clock after a pause.
func (s *InstanceService) Resume(ctx context.Context, id string) (*instance.Instance, error) {
	ctx, span := otel.StartLifecycleSpan(ctx, "resume", id)
	defer span.End()

	inst, err := s.store.Resume(ctx, id)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return inst, nil
}

// Complete finishes the instance, computing and persisting derived metrics.
func (s *InstanceService) Complete(ctx context.Context, id string, actual instance.Actual) (*instance.Instance, error) {
	ctx, span := otel.StartLifecycleSpan(ctx, "complete", id)
	defer span.End()

	inst, err := s.store.Complete(ctx, id, actual)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	if s.metrics != nil {
		s.metrics.InstancesCompleted.Add(ctx, 1)
		if inst.DurationMinutes != nil {
			s.metrics.InstanceDuration.Record(ctx, *inst.DurationMinutes)
		}
	}
	s.notify(ctx, messagequeue.SubjectInstanceCompleted, inst)
	return inst, nil
}

// Cancel abandons the instance, computing derived metrics from whatever was
// recorded.
func (s *InstanceService) Cancel(ctx context.Context, id string, actual instance.Actual) (*instance.Instance, error) {
	ctx, span := otel.StartLifecycleSpan(ctx, "cancel", id)
	defer span.End()

	inst, err := s.store.Cancel(ctx, id, actual)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	if s.metrics != nil {
		s.metrics.InstancesCancelled.Add(ctx, 1)
	}
	s.notify(ctx, messagequeue.SubjectInstanceCancelled, inst)
	return inst, nil
}

// Amend rewrites the predicted and actual documents of a terminal instance.
func (s *InstanceService) Amend(ctx context.Context, id string, pred *instance.Predicted, actual *instance.Actual) (*instance.Instance, error) {
	ctx, span := otel.StartLifecycleSpan(ctx, "amend", id)
	defer span.End()

	inst, err := s.store.Amend(ctx, id, pred, actual)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return inst, nil
}

// Delete removes an instance.
func (s *InstanceService) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// notify publishes a lifecycle event. Failures are logged and swallowed; the
// transition already committed and listeners are best-effort.
func (s *InstanceService) notify(ctx context.Context, subject string, inst *instance.Instance) {
	if s.queue == nil {
		return
	}

	payload := messagequeue.InstanceEventPayload{
		InstanceID:  inst.ID,
		TaskID:      inst.TaskID,
		OwnerUserID: inst.OwnerUserID,
		Status:      string(inst.Status),
		OccurredAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("marshal lifecycle event", "instance_id", inst.ID, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		s.log.Error("publish lifecycle event", "subject", subject, "instance_id", inst.ID, "error", err)
	}
}
