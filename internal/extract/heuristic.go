package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"candidate-harvester/internal/models"
	"candidate-harvester/internal/site"
)

const profileLinkSelector = `a[href*="/in/"]`

// resultContainerSelector matches the card that wraps one search result across known layouts.
const resultContainerSelector = `li.reusable-search__result-container, div.entity-result, ` +
	`li.search-result, div[data-chameleon-result-urn], ` +
	`div[data-view-name="search-entity-result-universal-template"], li.org-people-profile-card, ` +
	`li[class*="search-results__result"], div.search-result__wrapper`

var (
	titleSelectors    = []string{".entity-result__primary-subtitle", ".subline-level-1", ".search-result__snippets", ".artdeco-entity-lockup__subtitle"}
	locationSelectors = []string{".entity-result__secondary-subtitle", ".subline-level-2", ".artdeco-entity-lockup__caption"}
	summarySelectors  = []string{".entity-result__summary", ".entity-result__summary--2-lines", ".search-result__snippets-black"}
	nameSelectors     = []string{`span[aria-hidden="true"]`, ".entity-result__title-text", ".actor-name", ".artdeco-entity-lockup__title"}
)

// StructuralHeuristic walks from each profile link up to its result card and reads the card's text.
type StructuralHeuristic struct {
	kw Keywords
}

// NewStructuralHeuristic returns the heuristic strategy using kw to classify text blocks.
func NewStructuralHeuristic(kw Keywords) StructuralHeuristic {
	return StructuralHeuristic{kw: kw}
}

func (StructuralHeuristic) Name() string { return string(models.SourceStructuralHeuristic) }

func (h StructuralHeuristic) Extract(doc *goquery.Document, base *url.URL) []models.Candidate {
	var out []models.Candidate
	seenCards := make(map[string]bool)

	doc.Find(profileLinkSelector).Each(func(_ int, link *goquery.Selection) {
		profile, ok := site.NormalizeProfileURL(link.AttrOr("href", ""), base)
		if !ok || seenCards[profile] {
			return
		}
		card := link.Closest(resultContainerSelector)
		if card.Length() == 0 {
			return
		}
		c, ok := h.readCard(card, link)
		if !ok {
			return
		}
		seenCards[profile] = true
		c.ProfileURL = profile
		out = append(out, c)
	})
	return out
}

func (h StructuralHeuristic) readCard(card, link *goquery.Selection) (models.Candidate, bool) {
	c := models.Candidate{Source: models.SourceStructuralHeuristic}

	for _, sel := range nameSelectors {
		if n := cleanName(link.Find(sel).First().Text(), h.kw); n != "" {
			c.Name = n
			break
		}
	}
	// The aria-hidden span is only a name inside the link itself.
	for _, sel := range nameSelectors[1:] {
		if c.Name != "" {
			break
		}
		c.Name = cleanName(card.Find(sel).First().Text(), h.kw)
	}
	if c.Name == "" {
		c.Name = cleanName(link.Text(), h.kw)
	}
	if c.Name == "" {
		c.Name = cleanName(link.AttrOr("aria-label", ""), h.kw)
	}
	if c.Name == "" {
		return c, false
	}

	c.Title = firstText(card, titleSelectors)
	c.Location = firstText(card, locationSelectors)
	if summary := firstText(card, summarySelectors); summary != "" {
		h.applySummary(&c, summary)
	}

	used := map[string]bool{c.Name: true, c.Title: true, c.Location: true}
	for _, block := range leafTexts(card) {
		if used[block] || (strings.Contains(block, c.Name) && len(block) <= len(c.Name)+12) {
			continue
		}
		h.classify(&c, block)
		if c.Title != "" && c.Location != "" && c.Company != "" {
			break
		}
	}

	if c.Company == "" && c.Title != "" {
		if role, company, ok := h.kw.splitRoleCompany(c.Title); ok {
			c.Title = role
			c.Company = company
		}
	}
	return c, true
}

// classify applies the text rules to one block and fills the first empty field it fits.
func (h StructuralHeuristic) classify(c *models.Candidate, block string) {
	switch {
	case h.kw.isDegree(block), h.kw.isAction(block):
		return
	}
	if summary, ok := h.kw.currentSummary(block); ok {
		h.applySummary(c, summary)
		return
	}
	if c.Company == "" {
		if role, company, ok := h.kw.splitRoleCompany(block); ok {
			if c.Title == "" {
				c.Title = role
			}
			c.Company = company
			return
		}
	}
	switch {
	case c.Location == "" && h.kw.isLocation(block) && !h.kw.isRole(block):
		c.Location = block
	case c.Title == "" && h.kw.isRole(block):
		c.Title = block
	case c.Title == "":
		c.Title = block
	case c.Location == "" && strings.Contains(block, ","):
		c.Location = block
	}
}

// applySummary reads a "Current: Role at Company" line.
func (h StructuralHeuristic) applySummary(c *models.Candidate, summary string) {
	if rest, ok := h.kw.currentSummary(summary); ok {
		summary = rest
	}
	role, company, ok := h.kw.splitRoleCompany(summary)
	if !ok {
		return
	}
	if c.Company == "" {
		c.Company = company
	}
	if c.Title == "" {
		c.Title = role
	}
}

func firstText(card *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		if t := cleanText(card.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}
