// Package filter decides which extracted candidates match the searched company and role.
package filter

import (
	"math"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"candidate-harvester/internal/models"
	"candidate-harvester/internal/site"
)

// Config holds the matching thresholds. The defaults were tuned by hand against live result pages.
type Config struct {
	// CompanyWordRatio is the share of significant target company words that must appear.
	CompanyWordRatio float64 `yaml:"company_word_ratio"`
	// RoleWordRatio is the share of significant target role words that must appear.
	RoleWordRatio float64 `yaml:"role_word_ratio"`
	// MinCompanyWordLen excludes short company words such as "co" from the ratio.
	MinCompanyWordLen int      `yaml:"min_company_word_len"`
	StopWords         []string `yaml:"stop_words"`
	// LocationKeywords enables the location gate when non-empty.
	LocationKeywords []string `yaml:"location_keywords"`
	// Strict rejects candidates without location text while the gate is on.
	Strict bool `yaml:"strict"`
}

// DefaultConfig returns the default thresholds with English, Spanish and Portuguese stop words.
func DefaultConfig() Config {
	return Config{
		CompanyWordRatio:  0.5,
		RoleWordRatio:     0.5,
		MinCompanyWordLen: 3,
		StopWords: []string{
			"a", "an", "and", "the", "of", "at", "in", "for", "on", "to", "with", "&",
			"inc", "llc", "ltd", "corp", "co", "company", "group", "sa", "cv", "sas", "srl", "ltda",
			"de", "del", "la", "el", "los", "las", "y", "en", "para", "con",
			"da", "do", "das", "dos", "e", "em", "na", "no", "com",
		},
	}
}

// Reason explains why a candidate was rejected.
type Reason string

const (
	Accepted       Reason = ""
	RejectNoURL    Reason = "no_profile_url"
	RejectLocation Reason = "location"
	RejectCompany  Reason = "company"
	RejectRole     Reason = "role"
)

// Filter applies the relevance rules.
type Filter struct {
	cfg       Config
	stopWords map[string]struct{}
	locations []string
	log       zerolog.Logger
}

// New builds a filter. Zero ratios fall back to the defaults.
func New(cfg Config, logger zerolog.Logger) *Filter {
	def := DefaultConfig()
	if cfg.CompanyWordRatio <= 0 {
		cfg.CompanyWordRatio = def.CompanyWordRatio
	}
	if cfg.RoleWordRatio <= 0 {
		cfg.RoleWordRatio = def.RoleWordRatio
	}
	if cfg.MinCompanyWordLen <= 0 {
		cfg.MinCompanyWordLen = def.MinCompanyWordLen
	}
	if cfg.StopWords == nil {
		cfg.StopWords = def.StopWords
	}
	f := &Filter{
		cfg:       cfg,
		stopWords: make(map[string]struct{}, len(cfg.StopWords)),
		log:       logger,
	}
	for _, w := range cfg.StopWords {
		f.stopWords[Normalize(w)] = struct{}{}
	}
	for _, loc := range cfg.LocationKeywords {
		if n := Normalize(loc); n != "" {
			f.locations = append(f.locations, n)
		}
	}
	return f
}

// Select returns the candidates that match targetCompany and targetRole, in input order.
func (f *Filter) Select(candidates []models.Candidate, targetCompany, targetRole string) []models.Candidate {
	out := make([]models.Candidate, 0, len(candidates))
	for _, c := range candidates {
		reason := f.Check(c, targetCompany, targetRole)
		if reason != Accepted {
			f.log.Debug().
				Str("profile_url", c.ProfileURL).
				Str("title", c.Title).
				Str("company", c.Company).
				Str("reason", string(reason)).
				Msg("candidate rejected")
			continue
		}
		out = append(out, c)
	}
	return out
}

// Check returns Accepted or the first rule c fails.
func (f *Filter) Check(c models.Candidate, targetCompany, targetRole string) Reason {
	if _, ok := site.NormalizeProfileURL(c.ProfileURL, nil); !ok {
		return RejectNoURL
	}
	if !f.locationMatches(c.Location) {
		return RejectLocation
	}
	if !f.CompanyMatches(c.Company, targetCompany) {
		return RejectCompany
	}
	if strings.TrimSpace(c.Title) == "" {
		return Accepted
	}
	if !f.RoleMatches(c.Title, targetRole) {
		return RejectRole
	}
	return Accepted
}

func (f *Filter) locationMatches(location string) bool {
	if len(f.locations) == 0 {
		return true
	}
	loc := Normalize(location)
	if loc == "" {
		return !f.cfg.Strict
	}
	for _, k := range f.locations {
		if strings.Contains(loc, k) {
			return true
		}
	}
	return false
}

// CompanyMatches reports whether employer names the target company. An empty employer matches.
func (f *Filter) CompanyMatches(employer, target string) bool {
	emp, tgt := Normalize(employer), Normalize(target)
	if emp == "" || tgt == "" {
		return true
	}
	if strings.Contains(emp, tgt) || strings.Contains(tgt, emp) {
		return true
	}

	var significant []string
	for _, w := range strings.Fields(tgt) {
		if len([]rune(w)) >= f.cfg.MinCompanyWordLen && !f.isStopWord(w) {
			significant = append(significant, w)
		}
	}
	if len(significant) == 0 {
		return false
	}
	empWords := strings.Fields(emp)
	hits := 0
	for _, w := range significant {
		if containsWord(empWords, w) {
			hits++
		}
	}
	return float64(hits) >= f.cfg.CompanyWordRatio*float64(len(significant))
}

// RoleMatches reports whether title satisfies the target role.
func (f *Filter) RoleMatches(title, target string) bool {
	ttl, tgt := Normalize(title), Normalize(target)
	if tgt == "" {
		return true
	}
	if ttl == "" {
		return false
	}
	if strings.Contains(ttl, tgt) || strings.Contains(tgt, ttl) {
		return true
	}

	var significant []string
	for _, w := range strings.Fields(tgt) {
		if !f.isStopWord(w) {
			significant = append(significant, w)
		}
	}
	if len(significant) == 0 {
		return false
	}
	required := int(math.Ceil(f.cfg.RoleWordRatio * float64(len(significant))))
	if required < 1 {
		required = 1
	}
	titleWords := strings.Fields(ttl)
	hits := 0
	for _, w := range significant {
		if containsWord(titleWords, w) {
			hits++
		}
	}
	return hits >= required
}

func (f *Filter) isStopWord(w string) bool {
	_, ok := f.stopWords[w]
	return ok
}

// containsWord matches want against words exactly or by prefix in either direction.
// Reverse prefixes need at least three letters so "a" does not match "analyst".
func containsWord(words []string, want string) bool {
	for _, w := range words {
		if w == want || strings.HasPrefix(w, want) {
			return true
		}
		if len([]rune(w)) >= 3 && strings.HasPrefix(want, w) {
			return true
		}
	}
	return false
}

// Normalize lowercases s, folds diacritics, replaces punctuation with spaces and collapses
// whitespace.
func Normalize(s string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}
	folded = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case r == '&':
			return r
		default:
			return ' '
		}
	}, folded)
	return strings.Join(strings.Fields(folded), " ")
}
