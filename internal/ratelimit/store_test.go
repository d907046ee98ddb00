package ratelimit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"candidate-harvester/internal/models"
)

func TestFileStoreMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing.json"))
	_, ok, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing file")
	}
}

func TestFileStoreRoundTripKeepsFieldNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "ledger.json")
	store := NewFileStore(path)
	until := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	state := models.NewLedgerState("2026-03-02")
	state.RequestCount = 7
	state.BackoffUntil = &until
	state.ErrorCounters[models.FailureRateLimited] = 2

	if err := store.Save(context.Background(), state); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, field := range []string{`"date"`, `"requestCount"`, `"backoffUntil"`, `"errorCounters"`, `"rate_limited"`} {
		if !strings.Contains(string(raw), field) {
			t.Fatalf("expected %s in %s", field, raw)
		}
	}

	got, ok, err := store.Load(context.Background())
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.RequestCount != 7 || got.BackoffUntil == nil || !got.BackoffUntil.Equal(until) {
		t.Fatalf("unexpected state: %+v", got)
	}
	if got.ErrorCounters[models.FailureRateLimited] != 2 {
		t.Fatalf("unexpected counters: %+v", got.ErrorCounters)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := NewFileStore(path).Load(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestLedgerSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	ctx := context.Background()

	first := newTestLedger(NewFileStore(path), clock)
	if err := first.RecordRequest(ctx); err != nil {
		t.Fatalf("record request: %v", err)
	}
	if _, err := first.RecordFailure(ctx, models.FailureRateLimited); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	second := newTestLedger(NewFileStore(path), clock)
	adm, err := second.CheckAdmission(ctx)
	if err != nil {
		t.Fatalf("check admission: %v", err)
	}
	if adm.Reason != ReasonBackoff {
		t.Fatalf("expected backoff to survive restart, got %+v", adm)
	}
	state, err := second.State(ctx)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.RequestCount != 1 {
		t.Fatalf("expected request count to survive restart, got %d", state.RequestCount)
	}
}
