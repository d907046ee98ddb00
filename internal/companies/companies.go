// Package companies supplies search units and records per-company checkpoints.
package companies

import (
	"context"
	"strings"
	"sync"
	"time"

	"candidate-harvester/internal/models"
)

// Company is one target employer and the roles searched there.
type Company struct {
	ID    string   `yaml:"id"`
	Name  string   `yaml:"name"`
	Roles []string `yaml:"roles"`
}

// expand turns companies into units, using defaultRoles where a company lists none.
func expand(companies []Company, defaultRoles []string) []models.SearchUnit {
	var units []models.SearchUnit
	for _, c := range companies {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		id := c.ID
		if id == "" {
			id = strings.ToLower(name)
		}
		roles := c.Roles
		if len(roles) == 0 {
			roles = defaultRoles
		}
		for _, role := range roles {
			role = strings.TrimSpace(role)
			if role == "" {
				continue
			}
			units = append(units, models.SearchUnit{CompanyID: id, Company: name, Role: role})
		}
	}
	return units
}

// isStale reports whether a company last scraped at last is due again. A zero staleAfter makes
// every company due.
func isStale(last *time.Time, now time.Time, staleAfter time.Duration) bool {
	if last == nil || last.IsZero() || staleAfter <= 0 {
		return true
	}
	return !now.Before(last.Add(staleAfter))
}

// StaticSource serves a fixed company list and keeps checkpoints in memory.
type StaticSource struct {
	companies    []Company
	defaultRoles []string
	staleAfter   time.Duration
	now          func() time.Time

	mu      sync.Mutex
	scraped map[string]time.Time
}

// NewStaticSource builds a source from a configured list.
func NewStaticSource(companies []Company, defaultRoles []string, staleAfter time.Duration) *StaticSource {
	return &StaticSource{
		companies:    companies,
		defaultRoles: defaultRoles,
		staleAfter:   staleAfter,
		now:          time.Now,
		scraped:      make(map[string]time.Time),
	}
}

func (s *StaticSource) Units(context.Context) ([]models.SearchUnit, error) {
	return expand(s.companies, s.defaultRoles), nil
}

func (s *StaticSource) ShouldSearch(_ context.Context, companyID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.scraped[companyID]
	if !ok {
		return true, nil
	}
	return isStale(&last, s.now(), s.staleAfter), nil
}

func (s *StaticSource) MarkScraped(_ context.Context, companyID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scraped[companyID] = at
	return nil
}

// LastScraped returns the recorded checkpoint for companyID.
func (s *StaticSource) LastScraped(companyID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.scraped[companyID]
	return at, ok
}
