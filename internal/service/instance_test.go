package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/effortlog/effortlog/internal/domain"
	"github.com/effortlog/effortlog/internal/domain/instance"
	"github.com/effortlog/effortlog/internal/domain/template"
	"github.com/effortlog/effortlog/internal/middleware"
	"github.com/effortlog/effortlog/internal/port/messagequeue"
	"github.com/effortlog/effortlog/internal/port/store"
	"github.com/effortlog/effortlog/internal/stats"
)

// mockStore scripts store outcomes and counts backend hits. Unscripted
// methods panic via the embedded nil interface.
type mockStore struct {
	store.Store

	mu        sync.Mutex
	getCalls  int
	inst      *instance.Instance
	createReq *instance.CreateRequest
}

func (m *mockStore) Get(_ context.Context, id string) (*instance.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.inst == nil || m.inst.ID != id {
		return nil, domain.ErrNotFound
	}
	return m.inst.Clone(), nil
}

func (m *mockStore) Create(_ context.Context, req instance.CreateRequest) (*instance.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createReq = &req
	return &instance.Instance{
		ID:          "i-new",
		TaskID:      req.TaskID,
		TaskName:    req.TaskName,
		TaskVersion: req.TaskVersion,
		OwnerUserID: "u1",
		Status:      instance.StatusActive,
		Predicted:   req.Predicted,
	}, nil
}

func (m *mockStore) Complete(_ context.Context, id string, _ instance.Actual) (*instance.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inst == nil || m.inst.ID != id {
		return nil, domain.ErrNotFound
	}
	out := m.inst.Clone()
	out.Status = instance.StatusCompleted
	out.DurationMinutes = instance.Float(25)
	return out, nil
}

func (m *mockStore) PreviousTaskAverages(_ context.Context, _ string) (stats.Averages, error) {
	return stats.Averages{"expected_relief": 40}, nil
}

func (m *mockStore) PreviousActualAverages(_ context.Context, _ string) (stats.Averages, error) {
	return stats.Averages{"relief_actual": 60}, nil
}

func (m *mockStore) InitialAversion(_ context.Context, _ string) (float64, error) {
	return 30, nil
}

func (m *mockStore) BaselineAversionRobust(_ context.Context, _ string) (float64, error) {
	return 30, nil
}

func (m *mockStore) BaselineAversionSensitive(_ context.Context, _ string) (float64, error) {
	return 35, nil
}

// fakeCache is an in-memory cache.Cache that counts clears.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	clears  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string][]byte{}}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *fakeCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string][]byte{}
	c.clears++
	return nil
}

// fakeCatalog resolves a single template.
type fakeCatalog struct {
	tmpl *template.Template
}

func (f *fakeCatalog) Lookup(_ context.Context, taskID string) (*template.Template, error) {
	if f.tmpl == nil || f.tmpl.ID != taskID {
		return nil, domain.ErrNotFound
	}
	return f.tmpl, nil
}

// mockQueue records published lifecycle events.
type mockQueue struct {
	mu        sync.Mutex
	published []struct {
		subject string
		data    []byte
	}
	publishErr error
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	if q.publishErr != nil {
		return q.publishErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, struct {
		subject string
		data    []byte
	}{subject, data})
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ownerCtx(user string) context.Context {
	return middleware.WithUserID(context.Background(), user)
}

// --- Tests ---

func TestGetServesSecondReadFromCache(t *testing.T) {
	st := &mockStore{inst: &instance.Instance{ID: "i-1", TaskID: "inbox", OwnerUserID: "u1"}}
	svc := NewInstanceService(st, newFakeCache(), testLogger())
	ctx := ownerCtx("u1")

	first, err := svc.Get(ctx, "i-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := svc.Get(ctx, "i-1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.getCalls != 1 {
		t.Fatalf("expected 1 backend read, got %d", st.getCalls)
	}

	// Mutating a returned instance must not poison the cache.
	first.TaskID = "mutated"
	again, err := svc.Get(ctx, "i-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.TaskID != "inbox" {
		t.Fatal("cache handed out shared state")
	}
}

func TestCacheIsPerOwner(t *testing.T) {
	st := &mockStore{inst: &instance.Instance{ID: "i-1", OwnerUserID: "u1"}}
	svc := NewInstanceService(st, newFakeCache(), testLogger())

	if _, err := svc.Get(ownerCtx("u1"), "i-1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	// A different owner must not hit u1's cache entry.
	if _, err := svc.Get(ownerCtx("u2"), "i-1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.getCalls != 2 {
		t.Fatalf("expected 2 backend reads, got %d", st.getCalls)
	}
}

func TestMissingOwnerBypassesCache(t *testing.T) {
	st := &mockStore{inst: &instance.Instance{ID: "i-1"}}
	svc := NewInstanceService(st, newFakeCache(), testLogger())

	ctx := context.Background()
	_, _ = svc.Get(ctx, "i-1")
	_, _ = svc.Get(ctx, "i-1")
	if st.getCalls != 2 {
		t.Fatalf("unscoped reads must bypass the cache, got %d backend reads", st.getCalls)
	}
}

func TestWritesClearTheWholeCache(t *testing.T) {
	st := &mockStore{inst: &instance.Instance{ID: "i-1", OwnerUserID: "u1"}}
	cache := newFakeCache()
	svc := NewInstanceService(st, cache, testLogger())
	ctx := ownerCtx("u1")

	if _, err := svc.Get(ctx, "i-1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := svc.Complete(ctx, "i-1", instance.Actual{}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if cache.clears != 1 {
		t.Fatalf("expected 1 cache clear, got %d", cache.clears)
	}

	// Next read goes back to the store.
	if _, err := svc.Get(ctx, "i-1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.getCalls != 2 {
		t.Fatalf("stale cache survived a write: %d backend reads", st.getCalls)
	}
}

func TestCreateResolvesTemplateFromCatalog(t *testing.T) {
	st := &mockStore{}
	catalog := &fakeCatalog{tmpl: &template.Template{
		ID: "inbox", Name: "Inbox Zero", Version: "3", DefaultEstimateMinutes: 25,
	}}
	svc := NewInstanceService(st, newFakeCache(), testLogger(), WithCatalog(catalog))

	_, err := svc.Create(ownerCtx("u1"), instance.CreateRequest{
		TaskID:   "inbox",
		TaskName: "stale snapshot",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if st.createReq.TaskName != "Inbox Zero" || st.createReq.TaskVersion != "3" {
		t.Fatalf("catalog not consulted: %+v", st.createReq)
	}
	if st.createReq.Predicted.TimeEstimateMinutes == nil || *st.createReq.Predicted.TimeEstimateMinutes != 25 {
		t.Fatal("catalog default estimate not applied")
	}
}

func TestCreateCatalogMissKeepsSnapshot(t *testing.T) {
	st := &mockStore{}
	svc := NewInstanceService(st, newFakeCache(), testLogger(), WithCatalog(&fakeCatalog{}))

	_, err := svc.Create(ownerCtx("u1"), instance.CreateRequest{
		TaskID:   "unknown",
		TaskName: "Snapshot Name",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if st.createReq.TaskName != "Snapshot Name" {
		t.Fatalf("request snapshot clobbered on catalog miss: %+v", st.createReq)
	}
}

func TestCreateExplicitEstimateBeatsCatalogDefault(t *testing.T) {
	st := &mockStore{}
	catalog := &fakeCatalog{tmpl: &template.Template{ID: "inbox", Name: "Inbox Zero", DefaultEstimateMinutes: 25}}
	svc := NewInstanceService(st, newFakeCache(), testLogger(), WithCatalog(catalog))

	_, err := svc.Create(ownerCtx("u1"), instance.CreateRequest{
		TaskID:    "inbox",
		Predicted: instance.Predicted{TimeEstimateMinutes: instance.Float(90)},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if *st.createReq.Predicted.TimeEstimateMinutes != 90 {
		t.Fatalf("caller's estimate overwritten: %v", *st.createReq.Predicted.TimeEstimateMinutes)
	}
}

func TestCompletePublishesLifecycleEvent(t *testing.T) {
	st := &mockStore{inst: &instance.Instance{ID: "i-1", TaskID: "inbox", OwnerUserID: "u1"}}
	queue := &mockQueue{}
	svc := NewInstanceService(st, newFakeCache(), testLogger(), WithQueue(queue))

	if _, err := svc.Complete(ownerCtx("u1"), "i-1", instance.Actual{}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if len(queue.published) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(queue.published))
	}
	if queue.published[0].subject != messagequeue.SubjectInstanceCompleted {
		t.Fatalf("subject = %q", queue.published[0].subject)
	}
}

func TestPublishFailureDoesNotFailTransition(t *testing.T) {
	st := &mockStore{inst: &instance.Instance{ID: "i-1", OwnerUserID: "u1"}}
	queue := &mockQueue{publishErr: errors.New("nats down")}
	svc := NewInstanceService(st, newFakeCache(), testLogger(), WithQueue(queue))

	inst, err := svc.Complete(ownerCtx("u1"), "i-1", instance.Actual{})
	if err != nil {
		t.Fatalf("transition must survive a publish failure: %v", err)
	}
	if inst.Status != instance.StatusCompleted {
		t.Fatalf("status = %q", inst.Status)
	}
}

func TestPriorsBundlesAllAggregates(t *testing.T) {
	st := &mockStore{}
	svc := NewInstanceService(st, newFakeCache(), testLogger())

	priors, err := svc.Priors(ownerCtx("u1"), "inbox")
	if err != nil {
		t.Fatalf("priors: %v", err)
	}
	if priors.PredictedAverages["expected_relief"] != 40 {
		t.Fatalf("predicted averages = %+v", priors.PredictedAverages)
	}
	if priors.ActualAverages["relief_actual"] != 60 {
		t.Fatalf("actual averages = %+v", priors.ActualAverages)
	}
	if priors.InitialAversion != 30 || priors.BaselineAversionRobust != 30 || priors.BaselineAversionSensitive != 35 {
		t.Fatalf("aversion priors = %+v", priors)
	}
}
