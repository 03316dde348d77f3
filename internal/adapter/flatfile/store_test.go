package flatfile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/effortlog/effortlog/internal/domain"
	"github.com/effortlog/effortlog/internal/domain/instance"
	"github.com/effortlog/effortlog/internal/lifecycle"
	"github.com/effortlog/effortlog/internal/middleware"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "instances.csv")
	return New(path, testLogger())
}

func ownerCtx(user string) context.Context {
	return middleware.WithUserID(context.Background(), user)
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := ownerCtx("u1")

	created, err := s.Create(ctx, instance.CreateRequest{
		TaskID:   "inbox",
		TaskName: "Inbox Zero",
		Predicted: instance.Predicted{
			TimeEstimateMinutes: instance.Float(30),
			ExpectedLoad:        map[string]float64{"mental": 6},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TaskName != "Inbox Zero" || got.Status != instance.StatusActive {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Predicted.TimeEstimateMinutes == nil || *got.Predicted.TimeEstimateMinutes != 30 {
		t.Fatal("predicted document lost in round trip")
	}
	if got.Predicted.ExpectedLoad["mental"] != 6 {
		t.Fatal("load map lost in round trip")
	}
}

func TestCreateRequiresOwner(t *testing.T) {
	s := testStore(t)

	_, err := s.Create(context.Background(), instance.CreateRequest{TaskID: "inbox"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestOwnerIsolation(t *testing.T) {
	s := testStore(t)

	created, err := s.Create(ownerCtx("alice"), instance.CreateRequest{TaskID: "inbox"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Another user sees not-found, not someone else's row.
	if _, err := s.Get(ownerCtx("bob"), created.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("cross-owner get: expected ErrNotFound, got %v", err)
	}
	if _, err := s.Start(ownerCtx("bob"), created.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("cross-owner start: expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ownerCtx("bob"), created.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("cross-owner delete: expected ErrNotFound, got %v", err)
	}

	list, err := s.ListActive(ownerCtx("bob"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("cross-owner list leaked %d rows", len(list))
	}
}

func TestMissingOwnerFailsClosed(t *testing.T) {
	s := testStore(t)
	created, err := s.Create(ownerCtx("alice"), instance.CreateRequest{TaskID: "inbox"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.Get(context.Background(), created.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unscoped get: expected ErrNotFound, got %v", err)
	}
	list, err := s.ListActive(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("unscoped list returned %d rows", len(list))
	}
}

func TestLifecyclePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instances.csv")
	ctx := ownerCtx("u1")

	s1 := New(path, testLogger())
	created, err := s1.Create(ctx, instance.CreateRequest{TaskID: "inbox"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s1.Initialize(ctx, created.ID, instance.Predicted{
		TimeEstimateMinutes: instance.Float(30),
		ExpectedAversion:    instance.Float(7),
	}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := s1.Start(ctx, created.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	// A fresh store over the same file sees the same state.
	s2 := New(path, testLogger())
	got, err := s2.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.Status != instance.StatusStarted {
		t.Fatalf("expected started after reopen, got %q", got.Status)
	}
	if got.Predicted.InitialAversion == nil || *got.Predicted.InitialAversion != 7 {
		t.Fatal("initial aversion lost across reopen")
	}
	if got.InitializedAt == nil || got.StartedAt == nil {
		t.Fatal("timestamps lost across reopen")
	}
}

func TestSchemaBackfillLoadsOldFiles(t *testing.T) {
	// A file written before the derived-metric columns existed: shorter
	// header, shorter rows.
	path := filepath.Join(t.TempDir(), "instances.csv")
	old := "id,task_id,owner_user_id,status,created_at\n" +
		"i-1,inbox,u1,initialized,2026-01-05T10:00:00Z\n"
	if err := os.WriteFile(path, []byte(old), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	s := New(path, testLogger())
	got, err := s.Get(ownerCtx("u1"), "i-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != instance.StatusInitialized {
		t.Fatalf("status = %q", got.Status)
	}
	if got.TaskName != "" || got.DurationMinutes != nil {
		t.Fatal("missing columns must back-fill to zero values")
	}

	// Any write upgrades the file to the canonical header.
	if _, err := s.Create(ownerCtx("u1"), instance.CreateRequest{TaskID: "other"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	header := string(data[:len("id,task_id,task_name")])
	if header != "id,task_id,task_name" {
		t.Fatalf("file not rewritten with canonical header: %q", header)
	}
}

func TestListOrderingAndLimits(t *testing.T) {
	clock := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	engine := lifecycle.NewWithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	})
	s := New(filepath.Join(t.TempDir(), "instances.csv"), testLogger(), WithEngine(engine))
	ctx := ownerCtx("u1")

	var ids []string
	for i := 0; i < 3; i++ {
		inst, err := s.Create(ctx, instance.CreateRequest{TaskID: "inbox"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, inst.ID)
	}

	active, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 3 || active[0].ID != ids[0] || active[2].ID != ids[2] {
		t.Fatalf("active list not oldest-first: %+v", active)
	}

	// Complete all three in creation order; recent-completed reverses it.
	for _, id := range ids {
		if _, err := s.Complete(ctx, id, instance.Actual{}); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	recent, err := s.ListRecentCompleted(ctx, 2)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("limit not applied: %d rows", len(recent))
	}
	if recent[0].ID != ids[2] || recent[1].ID != ids[1] {
		t.Fatal("recent-completed not newest-first")
	}
}

func TestListByTaskFiltersStatus(t *testing.T) {
	s := testStore(t)
	ctx := ownerCtx("u1")

	mk := func() string {
		inst, err := s.Create(ctx, instance.CreateRequest{TaskID: "inbox"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		return inst.ID
	}
	open := mk()
	completed := mk()
	cancelled := mk()
	if _, err := s.Complete(ctx, completed, instance.Actual{}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := s.Cancel(ctx, cancelled, instance.Actual{}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, err := s.ListByTask(ctx, "inbox", false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != open {
		t.Fatalf("expected only the open instance, got %+v", got)
	}

	got, err = s.ListByTask(ctx, "inbox", true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("include_completed should add completed but never cancelled, got %d", len(got))
	}
	for _, inst := range got {
		if inst.ID == cancelled {
			t.Fatal("cancelled instance leaked into ListByTask")
		}
	}
}

func TestGetBulk(t *testing.T) {
	s := testStore(t)
	ctx := ownerCtx("u1")

	a, _ := s.Create(ctx, instance.CreateRequest{TaskID: "t1"})
	b, _ := s.Create(ctx, instance.CreateRequest{TaskID: "t2"})
	other, _ := s.Create(ownerCtx("mallory"), instance.CreateRequest{TaskID: "t1"})

	got, err := s.GetBulk(ctx, []string{a.ID, b.ID, other.ID, "missing"})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 resolved instances, got %d", len(got))
	}
	if _, ok := got[other.ID]; ok {
		t.Fatal("foreign instance resolved in bulk get")
	}
}

func TestDeleteRemovesRow(t *testing.T) {
	s := testStore(t)
	ctx := ownerCtx("u1")

	inst, err := s.Create(ctx, instance.CreateRequest{TaskID: "inbox"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Delete(ctx, inst.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, inst.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestWriteFailureReportsBackendUnavailable(t *testing.T) {
	// Point the store at a path whose parent directory does not exist, so
	// the temp-file create fails every attempt.
	path := filepath.Join(t.TempDir(), "missing", "instances.csv")
	s := New(path, testLogger(), WithRetry(1, time.Millisecond))

	_, err := s.Create(ownerCtx("u1"), instance.CreateRequest{TaskID: "inbox"})
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestAggregatesOverInitializedOnly(t *testing.T) {
	s := testStore(t)
	ctx := ownerCtx("u1")

	init := func(aversion float64) {
		inst, err := s.Create(ctx, instance.CreateRequest{TaskID: "inbox"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := s.Initialize(ctx, inst.ID, instance.Predicted{
			ExpectedRelief:   instance.Float(4),
			ExpectedAversion: instance.Float(aversion),
		}); err != nil {
			t.Fatalf("initialize: %v", err)
		}
	}
	init(2)
	init(4)
	// Never initialized: excluded from every aggregate.
	if _, err := s.Create(ctx, instance.CreateRequest{TaskID: "inbox"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	avg, err := s.PreviousTaskAverages(ctx, "inbox")
	if err != nil {
		t.Fatalf("averages: %v", err)
	}
	if got := avg["expected_relief"]; got != 40 {
		t.Fatalf("expected_relief = %v, want 40", got)
	}

	aversion, err := s.InitialAversion(ctx, "inbox")
	if err != nil {
		t.Fatalf("aversion: %v", err)
	}
	if aversion != 30 {
		t.Fatalf("initial aversion mean = %v, want 30", aversion)
	}
}

func TestAggregateBulkMatchesSingle(t *testing.T) {
	s := testStore(t)
	ctx := ownerCtx("u1")

	for _, taskID := range []string{"a", "a", "b"} {
		inst, err := s.Create(ctx, instance.CreateRequest{TaskID: taskID})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := s.Initialize(ctx, inst.ID, instance.Predicted{ExpectedAversion: instance.Float(5)}); err != nil {
			t.Fatalf("initialize: %v", err)
		}
	}

	bulk, err := s.BaselineAversionRobustBulk(ctx, []string{"a", "b", "never-seen"})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	for _, taskID := range []string{"a", "b", "never-seen"} {
		single, err := s.BaselineAversionRobust(ctx, taskID)
		if err != nil {
			t.Fatalf("single: %v", err)
		}
		if bulk[taskID] != single {
			t.Fatalf("task %s: bulk %v != single %v", taskID, bulk[taskID], single)
		}
	}
}

func TestConcurrentCompletesStayIsolated(t *testing.T) {
	s := testStore(t)

	type owned struct {
		ctx context.Context
		id  string
	}
	users := make([]owned, 0, 4)
	for _, u := range []string{"alice", "bob", "carol", "dave"} {
		ctx := ownerCtx(u)
		inst, err := s.Create(ctx, instance.CreateRequest{TaskID: "report"})
		if err != nil {
			t.Fatalf("create for %s: %v", u, err)
		}
		if _, err := s.Initialize(ctx, inst.ID, instance.Predicted{
			TimeEstimateMinutes: instance.Float(30),
			ExpectedRelief:      instance.Float(5),
		}); err != nil {
			t.Fatalf("initialize for %s: %v", u, err)
		}
		users = append(users, owned{ctx: ctx, id: inst.ID})
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(users))
	for i, u := range users {
		wg.Add(1)
		go func(i int, u owned) {
			defer wg.Done()
			_, err := s.Complete(u.ctx, u.id, instance.Actual{
				ReliefActual:      instance.Float(float64(i + 4)),
				TimeActualMinutes: instance.Float(float64(10 * (i + 1))),
			})
			errs <- err
		}(i, u)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent complete: %v", err)
		}
	}

	// Each owner's derived fields must reflect only their own actual values.
	for i, u := range users {
		got, err := s.Get(u.ctx, u.id)
		if err != nil {
			t.Fatalf("get after complete: %v", err)
		}
		if got.Status != instance.StatusCompleted {
			t.Fatalf("instance %d not completed: %s", i, got.Status)
		}
		wantDur := float64(10 * (i + 1))
		if got.DurationMinutes == nil || *got.DurationMinutes != wantDur {
			t.Fatalf("instance %d duration = %v, want %v", i, got.DurationMinutes, wantDur)
		}
		wantNet := float64(i+4) - 5
		if got.NetRelief == nil || *got.NetRelief != wantNet {
			t.Fatalf("instance %d net relief = %v, want %v", i, got.NetRelief, wantNet)
		}
	}
}

func TestUnreadableTableIsNeverRewritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instances.csv")
	seed := strings.Join([]string{
		"id,task_id,owner_user_id,status,created_at",
		"good-1,inbox,u1,active,2026-01-02T10:00:00Z",
		"bad-1,inbox,u1,active,NOT-A-TIMESTAMP",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	s := New(path, testLogger(), WithRetry(1, time.Millisecond))
	ctx := ownerCtx("u1")

	// Every mutating path must abort: writing from a failed read would
	// erase the rows it could not parse.
	if _, err := s.Create(ctx, instance.CreateRequest{TaskID: "inbox"}); !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("create over unreadable table: err = %v, want ErrBackendUnavailable", err)
	}
	if _, err := s.Start(ctx, "good-1"); !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("start over unreadable table: err = %v, want ErrBackendUnavailable", err)
	}
	if err := s.Delete(ctx, "good-1"); !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("delete over unreadable table: err = %v, want ErrBackendUnavailable", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reread file: %v", err)
	}
	if !strings.Contains(string(raw), "good-1") || !strings.Contains(string(raw), "bad-1") {
		t.Fatalf("file was rewritten, rows lost:\n%s", raw)
	}

	// Reads degrade to an empty table instead of failing the caller.
	if _, err := s.Get(ctx, "good-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("get over unreadable table: err = %v, want ErrNotFound", err)
	}
	active, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("list over unreadable table: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected empty active list, got %d rows", len(active))
	}
}
