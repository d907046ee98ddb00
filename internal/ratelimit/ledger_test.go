package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"candidate-harvester/internal/models"
)

type memStore struct {
	state models.LedgerState
	ok    bool
	saves int
	err   error
}

func (m *memStore) Load(context.Context) (models.LedgerState, bool, error) {
	if m.err != nil {
		return models.LedgerState{}, false, m.err
	}
	if !m.ok {
		return models.LedgerState{}, false, nil
	}
	cp := m.state
	cp.ErrorCounters = make(map[models.FailureKind]int, len(m.state.ErrorCounters))
	for k, v := range m.state.ErrorCounters {
		cp.ErrorCounters[k] = v
	}
	if m.state.BackoffUntil != nil {
		t := *m.state.BackoffUntil
		cp.BackoffUntil = &t
	}
	return cp, true, nil
}

func (m *memStore) Save(_ context.Context, state models.LedgerState) error {
	m.state = state
	m.ok = true
	m.saves++
	return nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestLedger(store Store, clock *fakeClock) *Ledger {
	cfg := Config{
		DailyLimit:        3,
		BackoffBase:       time.Minute,
		BackoffMultiplier: 2,
	}
	return New(store, cfg, WithClock(clock.Now))
}

func TestCheckAdmissionAllowsFreshState(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	l := newTestLedger(&memStore{}, clock)

	adm, err := l.CheckAdmission(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !adm.Allowed || adm.Reason != ReasonNone {
		t.Fatalf("expected admission, got %+v", adm)
	}
}

func TestCheckAdmissionDailyLimit(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	store := &memStore{}
	l := newTestLedger(store, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.RecordRequest(ctx); err != nil {
			t.Fatalf("record request: %v", err)
		}
	}
	adm, err := l.CheckAdmission(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adm.Allowed || adm.Reason != ReasonDailyLimit {
		t.Fatalf("expected daily_limit denial, got %+v", adm)
	}
	if adm.RetryAfter != 14*time.Hour {
		t.Fatalf("expected retry at next UTC midnight, got %v", adm.RetryAfter)
	}
	if store.state.RequestCount != 3 {
		t.Fatalf("expected persisted count 3, got %d", store.state.RequestCount)
	}
}

func TestCheckAdmissionDailyLimitIgnoresBackoff(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	until := now.Add(10 * time.Minute)
	store := &memStore{ok: true, state: models.LedgerState{
		Date:          "2026-03-02",
		RequestCount:  3,
		BackoffUntil:  &until,
		ErrorCounters: map[models.FailureKind]int{},
	}}
	l := newTestLedger(store, &fakeClock{now: now})

	adm, err := l.CheckAdmission(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adm.Reason != ReasonDailyLimit {
		t.Fatalf("expected daily_limit regardless of backoff, got %+v", adm)
	}
}

func TestCheckAdmissionBackoffThenClears(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	store := &memStore{}
	l := newTestLedger(store, clock)
	ctx := context.Background()

	window, err := l.RecordFailure(ctx, models.FailureRateLimited)
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if window != time.Minute {
		t.Fatalf("expected first window of base, got %v", window)
	}

	clock.now = clock.now.Add(20 * time.Second)
	adm, err := l.CheckAdmission(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adm.Allowed || adm.Reason != ReasonBackoff || adm.RetryAfter != 40*time.Second {
		t.Fatalf("expected backoff with 40s remaining, got %+v", adm)
	}

	clock.now = clock.now.Add(41 * time.Second)
	adm, err = l.CheckAdmission(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !adm.Allowed {
		t.Fatalf("expected admission after backoff, got %+v", adm)
	}
	if store.state.BackoffUntil != nil {
		t.Fatalf("expected backoffUntil cleared, got %v", store.state.BackoffUntil)
	}
}

func TestRecordFailureBackoffGrows(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	l := newTestLedger(&memStore{}, clock)
	ctx := context.Background()

	want := []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute, 8 * time.Minute}
	var prev time.Duration
	for i, expected := range want {
		got, err := l.RecordFailure(ctx, models.FailureRateLimited)
		if err != nil {
			t.Fatalf("record failure: %v", err)
		}
		if got != expected {
			t.Fatalf("failure %d: expected %v, got %v", i+1, expected, got)
		}
		if got <= prev {
			t.Fatalf("backoff did not grow: %v after %v", got, prev)
		}
		prev = got
	}
}

func TestRecordFailureCapsBackoff(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	l := New(&memStore{}, Config{
		DailyLimit:        10,
		BackoffBase:       time.Minute,
		BackoffMultiplier: 10,
		MaxBackoff:        30 * time.Minute,
	}, WithClock(clock.Now))

	ctx := context.Background()
	if _, err := l.RecordFailure(ctx, models.FailureRateLimited); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if _, err := l.RecordFailure(ctx, models.FailureRateLimited); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	got, err := l.RecordFailure(ctx, models.FailureRateLimited)
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if got != 30*time.Minute {
		t.Fatalf("expected capped window, got %v", got)
	}
}

func TestRecordFailureCountersArePerKind(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	store := &memStore{}
	l := newTestLedger(store, clock)
	ctx := context.Background()

	if _, err := l.RecordFailure(ctx, models.FailureRateLimited); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	window, err := l.RecordFailure(ctx, models.FailureNetwork)
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if window != 0 {
		t.Fatalf("network failure should not open a backoff window, got %v", window)
	}
	if _, err := l.RecordFailure(ctx, models.FailureForbidden); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	counters := store.state.ErrorCounters
	if counters[models.FailureRateLimited] != 1 || counters[models.FailureNetwork] != 1 || counters[models.FailureForbidden] != 1 {
		t.Fatalf("unexpected counters: %+v", counters)
	}

	next, err := l.RecordFailure(ctx, models.FailureRateLimited)
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if next != 2*time.Minute {
		t.Fatalf("network failure must not advance rate-limited streak, got %v", next)
	}
}

func TestForbiddenDoesNotOpenBackoff(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	store := &memStore{}
	l := newTestLedger(store, clock)

	if _, err := l.RecordFailure(context.Background(), models.FailureForbidden); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if store.state.BackoffUntil != nil {
		t.Fatalf("forbidden must not set backoff, got %v", store.state.BackoffUntil)
	}
	adm, err := l.CheckAdmission(context.Background())
	if err != nil || !adm.Allowed {
		t.Fatalf("expected admission after forbidden, got %+v err=%v", adm, err)
	}
}

func TestRecordSuccessResetsStreaks(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	store := &memStore{}
	l := newTestLedger(store, clock)
	ctx := context.Background()

	_, _ = l.RecordFailure(ctx, models.FailureRateLimited)
	_, _ = l.RecordFailure(ctx, models.FailureForbidden)
	if err := l.RecordRequest(ctx); err != nil {
		t.Fatalf("record request: %v", err)
	}
	if got := store.state.ErrorCounters[models.FailureRateLimited]; got != 1 {
		t.Fatalf("counting a request must not end the streak, got %d", got)
	}
	if err := l.RecordSuccess(ctx); err != nil {
		t.Fatalf("record success: %v", err)
	}
	counters := store.state.ErrorCounters
	if counters[models.FailureRateLimited] != 0 {
		t.Fatalf("expected rate-limited streak reset, got %d", counters[models.FailureRateLimited])
	}
	if counters[models.FailureForbidden] != 1 {
		t.Fatalf("forbidden counter must survive success, got %d", counters[models.FailureForbidden])
	}
}

func TestDailyRolloverResetsCount(t *testing.T) {
	now := time.Date(2026, 3, 3, 0, 5, 0, 0, time.UTC)
	until := now.Add(time.Minute)
	store := &memStore{ok: true, state: models.LedgerState{
		Date:          "2026-03-02",
		RequestCount:  3,
		BackoffUntil:  &until,
		ErrorCounters: map[models.FailureKind]int{models.FailureRateLimited: 2},
	}}
	l := newTestLedger(store, &fakeClock{now: now})

	state, err := l.State(context.Background())
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Date != "2026-03-03" || state.RequestCount != 0 {
		t.Fatalf("expected rollover, got %+v", state)
	}
	if state.BackoffUntil == nil || !state.BackoffUntil.Equal(until) {
		t.Fatalf("backoff must survive rollover, got %v", state.BackoffUntil)
	}
	if store.state.Date != "2026-03-03" {
		t.Fatalf("expected rollover persisted, got %s", store.state.Date)
	}
}

func TestLoadErrorSurfaces(t *testing.T) {
	l := newTestLedger(&memStore{err: errors.New("disk gone")}, &fakeClock{now: time.Now()})
	if _, err := l.CheckAdmission(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
}
