package graph_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"

	"candidate-harvester/internal/graph"
	"candidate-harvester/internal/models"
	"candidate-harvester/mocks"
)

var record = models.CandidateRecord{
	RunID: "run-1",
	Unit:  models.SearchUnit{CompanyID: "acme", Company: "Acme Corp", Role: "Marketing Manager"},
	Candidate: models.Candidate{
		Name:       "Ana Ruiz",
		ProfileURL: "https://www.linkedin.com/in/ana-ruiz",
		Title:      "Senior Marketing Manager",
		Company:    "Acme Corporation",
		Source:     models.SourceStructuredData,
	},
	CapturedAt: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
}

func TestBuildCandidateQuery(t *testing.T) {
	query, params := graph.BuildCandidateQuery(record)
	for _, part := range []string{"MERGE (p:Person", "MERGE (c:Company", "CANDIDATE_FOR", "coalesce($name, p.name)"} {
		if !strings.Contains(query, part) {
			t.Fatalf("query missing %q: %s", part, query)
		}
	}
	if params["profile_url"] != record.Candidate.ProfileURL || params["company_id"] != "acme" || params["role"] != "Marketing Manager" {
		t.Fatalf("unexpected params: %+v", params)
	}
	if params["location"] != nil || params["captured_at"] != "2026-03-02T09:30:00Z" || params["source"] != "structured-data" {
		t.Fatalf("unexpected params: %+v", params)
	}

	redacted := record
	redacted.Candidate.Name = models.RedactedName
	if _, params := graph.BuildCandidateQuery(redacted); params["name"] != nil {
		t.Fatalf("redacted name must not overwrite a known name: %+v", params)
	}
}

func TestBuildFailureQuery(t *testing.T) {
	query, params := graph.BuildFailureQuery(models.UnitFailure{
		RunID:    "run-1",
		Unit:     models.SearchUnit{Company: "Globex", Role: "Sales Director"},
		Kind:     "rate_limited",
		FailedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	})
	if !strings.Contains(query, "SEARCH_FAILED") || params["company_id"] != "globex" || params["kind"] != "rate_limited" {
		t.Fatalf("unexpected failure query: %s %+v", query, params)
	}
}

func newWriter(t *testing.T, execErr error) (*graph.Writer, *int) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	driver := mocks.NewMockDriverSessioner(ctrl)
	session := mocks.NewMockSessionRunner(ctrl)
	calls := 0

	driver.EXPECT().NewSession(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cfg neo4j.SessionConfig) graph.SessionRunner {
			if cfg.AccessMode != neo4j.AccessModeWrite {
				t.Errorf("expected write session, got %v", cfg.AccessMode)
			}
			return session
		},
	).AnyTimes()
	session.EXPECT().Close(gomock.Any()).Return(nil).AnyTimes()
	session.EXPECT().ExecuteWrite(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, neo4j.ManagedTransactionWork, ...func(*neo4j.TransactionConfig)) (any, error) {
			calls++
			return nil, execErr
		},
	).AnyTimes()
	return graph.NewWriter(driver, zerolog.Nop()), &calls
}

func TestWriteCandidate(t *testing.T) {
	w, calls := newWriter(t, nil)
	if err := w.WriteCandidate(context.Background(), record); err != nil {
		t.Fatalf("write: %v", err)
	}
	empty := record
	empty.Candidate.ProfileURL = ""
	if err := w.WriteCandidate(context.Background(), empty); err != nil {
		t.Fatalf("write empty: %v", err)
	}
	if *calls != 1 {
		t.Fatalf("expected a single write, got %d", *calls)
	}
}

func TestWriteCandidatePropagatesErrors(t *testing.T) {
	w, _ := newWriter(t, errors.New("neo4j unavailable"))
	if err := w.WriteCandidate(context.Background(), record); err == nil {
		t.Fatal("expected error")
	}
}

func TestEnsureConstraints(t *testing.T) {
	w, calls := newWriter(t, nil)
	if err := w.EnsureConstraints(context.Background()); err != nil {
		t.Fatalf("constraints: %v", err)
	}
	if *calls != len(graph.Constraints) {
		t.Fatalf("expected %d writes, got %d", len(graph.Constraints), *calls)
	}
}
