// Package extract turns a rendered search results page into candidate records.
package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"candidate-harvester/internal/models"
	"candidate-harvester/internal/site"
)

// Strategy extracts candidates from a parsed document. Implementations return nil when they find
// nothing and skip malformed records instead of failing.
type Strategy interface {
	Name() string
	Extract(doc *goquery.Document, base *url.URL) []models.Candidate
}

// Pipeline runs strategies in order. The first non-empty result wins unless merge is set.
type Pipeline struct {
	strategies []Strategy
	merge      bool
	log        zerolog.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithStrategies replaces the default strategy order.
func WithStrategies(strategies ...Strategy) Option {
	return func(p *Pipeline) {
		p.strategies = strategies
	}
}

// WithMerge concatenates the output of every strategy instead of stopping at the first hit.
func WithMerge(merge bool) Option {
	return func(p *Pipeline) {
		p.merge = merge
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.log = logger
	}
}

// New returns a pipeline with structured data, structural heuristics and the DOM scan fallback.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		strategies: []Strategy{
			StructuredData{},
			NewStructuralHeuristic(DefaultKeywords()),
			NewDOMScan(DefaultKeywords()),
		},
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Extract returns the deduplicated candidates found on page. It never fails; an unparseable page
// yields an empty result.
func (p *Pipeline) Extract(page models.RenderedPage) []models.Candidate {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		p.log.Warn().Err(err).Str("url", page.URL).Msg("parse page")
		return nil
	}
	base, err := url.Parse(page.URL)
	if err != nil || !base.IsAbs() {
		base, _ = url.Parse(site.BaseURL)
	}

	var out []models.Candidate
	seen := make(map[string]struct{})
	for _, strategy := range p.strategies {
		found := dedupe(p.run(strategy, doc, base), seen)
		p.log.Debug().Str("strategy", strategy.Name()).Int("candidates", len(found)).Msg("strategy finished")
		out = append(out, found...)
		if len(out) > 0 && !p.merge {
			break
		}
	}
	return out
}

func (p *Pipeline) run(strategy Strategy, doc *goquery.Document, base *url.URL) (found []models.Candidate) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("strategy", strategy.Name()).Interface("panic", r).Msg("strategy aborted")
			found = nil
		}
	}()
	return strategy.Extract(doc, base)
}

// dedupe drops candidates without a profile URL and any URL already in seen.
func dedupe(candidates []models.Candidate, seen map[string]struct{}) []models.Candidate {
	out := make([]models.Candidate, 0, len(candidates))
	for _, c := range candidates {
		normalized, ok := site.NormalizeProfileURL(c.ProfileURL, nil)
		if !ok {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		c.ProfileURL = normalized
		out = append(out, c)
	}
	return out
}
