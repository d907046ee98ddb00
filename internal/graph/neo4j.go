// Package graph projects handed-off candidates into a Neo4j talent graph.
package graph

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"

	"candidate-harvester/internal/models"
)

// SessionRunner abstracts neo4j.SessionWithContext.
type SessionRunner interface {
	ExecuteWrite(ctx context.Context, work neo4j.ManagedTransactionWork, configurers ...func(*neo4j.TransactionConfig)) (any, error)
	Close(ctx context.Context) error
}

// DriverSessioner abstracts neo4j.DriverWithContext.
type DriverSessioner interface {
	NewSession(ctx context.Context, config neo4j.SessionConfig) SessionRunner
	Close(ctx context.Context) error
}

// Driver adapts neo4j.DriverWithContext to DriverSessioner.
type Driver struct {
	driver neo4j.DriverWithContext
}

// NewDriver connects to uri with basic auth.
func NewDriver(uri, user, password string) (*Driver, error) {
	d, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, err
	}
	return &Driver{driver: d}, nil
}

func (d *Driver) NewSession(ctx context.Context, config neo4j.SessionConfig) SessionRunner {
	return d.driver.NewSession(ctx, config)
}

func (d *Driver) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

// Constraints keep Person and Company nodes unique on their keys.
var Constraints = []string{
	"CREATE CONSTRAINT person_profile_url IF NOT EXISTS FOR (p:Person) REQUIRE p.profile_url IS UNIQUE",
	"CREATE CONSTRAINT company_id IF NOT EXISTS FOR (c:Company) REQUIRE c.company_id IS UNIQUE",
}

// Writer merges candidate records and unit failures into the graph.
type Writer struct {
	driver DriverSessioner
	log    zerolog.Logger
}

func NewWriter(driver DriverSessioner, logger zerolog.Logger) *Writer {
	return &Writer{driver: driver, log: logger}
}

// EnsureConstraints creates the uniqueness constraints if they are missing.
func (w *Writer) EnsureConstraints(ctx context.Context) error {
	for _, c := range Constraints {
		if err := w.runWrite(ctx, c, nil); err != nil {
			return err
		}
	}
	return nil
}

// WriteCandidate merges the person, the company and the CANDIDATE_FOR edge for one record.
// Records without a profile URL are ignored.
func (w *Writer) WriteCandidate(ctx context.Context, rec models.CandidateRecord) error {
	if rec.Candidate.ProfileURL == "" {
		return nil
	}
	query, params := BuildCandidateQuery(rec)
	return w.runWrite(ctx, query, params)
}

// WriteFailure records an abandoned search on the company node.
func (w *Writer) WriteFailure(ctx context.Context, f models.UnitFailure) error {
	if f.Unit.CompanyKey() == "" {
		return nil
	}
	query, params := BuildFailureQuery(f)
	return w.runWrite(ctx, query, params)
}

func (w *Writer) runWrite(ctx context.Context, query string, params map[string]any) error {
	session := w.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() {
		if err := session.Close(ctx); err != nil {
			w.log.Warn().Err(err).Msg("neo4j session close error")
		}
	}()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, query, params)
		return nil, err
	})
	return err
}

// BuildCandidateQuery returns the MERGE statement for rec. Empty fields and the redacted name never
// overwrite values already on the node.
func BuildCandidateQuery(rec models.CandidateRecord) (string, map[string]any) {
	query := "MERGE (p:Person {profile_url: $profile_url}) " +
		"SET p.name = coalesce($name, p.name), " +
		"p.title = coalesce($title, p.title), " +
		"p.employer = coalesce($employer, p.employer), " +
		"p.location = coalesce($location, p.location), " +
		"p.extraction_source = $source, " +
		"p.last_seen_at = $captured_at " +
		"MERGE (c:Company {company_id: $company_id}) " +
		"SET c.name = coalesce($company, c.name) " +
		"MERGE (p)-[r:CANDIDATE_FOR {role: $role}]->(c) " +
		"SET r.run_id = $run_id, r.captured_at = $captured_at"

	c := rec.Candidate
	name := optional(c.Name)
	if c.Name == models.RedactedName {
		name = nil
	}
	params := map[string]any{
		"profile_url": c.ProfileURL,
		"name":        name,
		"title":       optional(c.Title),
		"employer":    optional(c.Company),
		"location":    optional(c.Location),
		"source":      string(c.Source),
		"captured_at": rec.CapturedAt.UTC().Format(time.RFC3339),
		"company_id":  rec.Unit.CompanyKey(),
		"company":     optional(rec.Unit.Company),
		"role":        rec.Unit.Role,
		"run_id":      rec.RunID,
	}
	return query, params
}

// BuildFailureQuery returns the statement recording f as a SEARCH_FAILED edge to the role.
func BuildFailureQuery(f models.UnitFailure) (string, map[string]any) {
	query := "MERGE (c:Company {company_id: $company_id}) " +
		"SET c.name = coalesce($company, c.name) " +
		"MERGE (r:Role {name: $role}) " +
		"MERGE (c)-[f:SEARCH_FAILED]->(r) " +
		"SET f.run_id = $run_id, f.kind = $kind, f.error = $error, f.failed_at = $failed_at"
	params := map[string]any{
		"company_id": f.Unit.CompanyKey(),
		"company":    optional(f.Unit.Company),
		"role":       f.Unit.Role,
		"run_id":     f.RunID,
		"kind":       f.Kind,
		"error":      f.Error,
		"failed_at":  f.FailedAt.UTC().Format(time.RFC3339),
	}
	return query, params
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}
