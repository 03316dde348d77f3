package failover

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/effortlog/effortlog/internal/domain"
	"github.com/effortlog/effortlog/internal/domain/instance"
	"github.com/effortlog/effortlog/internal/port/store"
	"github.com/effortlog/effortlog/internal/resilience"
	"github.com/effortlog/effortlog/internal/stats"
)

// fakeStore lets tests script per-call outcomes.
type fakeStore struct {
	store.Store // panics on unscripted methods

	getErr  error
	getCont *instance.Instance
	calls   int
}

func (f *fakeStore) Get(_ context.Context, _ string) (*instance.Instance, error) {
	f.calls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getCont, nil
}

func (f *fakeStore) PreviousTaskAverages(_ context.Context, _ string) (stats.Averages, error) {
	f.calls++
	return stats.Averages{"expected_relief": 40}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBreaker() *resilience.Breaker {
	return resilience.NewBreaker(3, time.Minute)
}

func TestPrimaryServesWhenHealthy(t *testing.T) {
	primary := &fakeStore{getCont: &instance.Instance{ID: "i-1"}}
	fallback := &fakeStore{getErr: errors.New("must not be called")}
	s := New(primary, fallback, false, newBreaker(), testLogger())

	got, err := s.Get(context.Background(), "i-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "i-1" {
		t.Fatalf("got %+v", got)
	}
	if fallback.calls != 0 {
		t.Fatal("fallback touched while primary healthy")
	}
	if s.Downgraded() {
		t.Fatal("spurious downgrade")
	}
}

func TestExpectedDomainErrorsPassThrough(t *testing.T) {
	primary := &fakeStore{getErr: domain.ErrNotFound}
	fallback := &fakeStore{getCont: &instance.Instance{ID: "shadow"}}
	s := New(primary, fallback, false, newBreaker(), testLogger())

	// A not-found on the primary is an answer, not an outage: the caller
	// must see it, and the fallback must not be consulted.
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if fallback.calls != 0 {
		t.Fatal("fallback consulted on an expected outcome")
	}
	if s.Downgraded() {
		t.Fatal("expected outcome triggered a downgrade")
	}
}

func TestLenientDowngradesOnceAndStaysDown(t *testing.T) {
	primary := &fakeStore{getErr: errors.New("connection refused")}
	fallback := &fakeStore{getCont: &instance.Instance{ID: "i-1"}}
	s := New(primary, fallback, false, newBreaker(), testLogger())

	got, err := s.Get(context.Background(), "i-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "i-1" {
		t.Fatalf("fallback answer not returned: %+v", got)
	}
	if !s.Downgraded() {
		t.Fatal("expected downgrade")
	}

	// Subsequent calls go straight to the fallback: the downgrade is
	// one-way for the process lifetime.
	primaryCallsBefore := primary.calls
	if _, err := s.Get(context.Background(), "i-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.calls != primaryCallsBefore {
		t.Fatal("primary retried after downgrade")
	}
}

func TestStrictSurfacesBackendUnavailable(t *testing.T) {
	primary := &fakeStore{getErr: errors.New("connection refused")}
	fallback := &fakeStore{getCont: &instance.Instance{ID: "i-1"}}
	s := New(primary, fallback, true, newBreaker(), testLogger())

	_, err := s.Get(context.Background(), "i-1")
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if fallback.calls != 0 {
		t.Fatal("strict mode must never consult the fallback")
	}
	if s.Downgraded() {
		t.Fatal("strict mode must never downgrade")
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	primary := &fakeStore{getErr: errors.New("connection refused")}
	s := New(primary, &fakeStore{}, true, resilience.NewBreaker(2, time.Minute), testLogger())

	for i := 0; i < 5; i++ {
		_, _ = s.Get(context.Background(), "i-1")
	}
	// Two real attempts trip the breaker; the rest are rejected without
	// touching the backend.
	if primary.calls != 2 {
		t.Fatalf("expected 2 primary attempts, got %d", primary.calls)
	}
}

func TestAggregatesRouteLikeEverythingElse(t *testing.T) {
	primary := &fakeStore{}
	s := New(primary, &fakeStore{}, false, newBreaker(), testLogger())

	avg, err := s.PreviousTaskAverages(context.Background(), "inbox")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if avg["expected_relief"] != 40 {
		t.Fatalf("got %+v", avg)
	}
	if primary.calls != 1 {
		t.Fatalf("primary calls = %d", primary.calls)
	}
}
