package extract

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"candidate-harvester/internal/models"
	"candidate-harvester/internal/site"
)

// StructuredData reads schema.org Person records from JSON-LD blocks and microdata.
type StructuredData struct{}

func (StructuredData) Name() string { return string(models.SourceStructuredData) }

func (StructuredData) Extract(doc *goquery.Document, base *url.URL) []models.Candidate {
	var out []models.Candidate
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var payload any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &payload); err != nil {
			return
		}
		walkLD(payload, func(node map[string]any) {
			if c, ok := personFromLD(node, base); ok {
				out = append(out, c)
			}
		})
	})

	doc.Find(`[itemscope][itemtype*="schema.org/Person"]`).Each(func(_ int, s *goquery.Selection) {
		if c, ok := personFromMicrodata(s, base); ok {
			out = append(out, c)
		}
	})
	return out
}

// walkLD calls fn for every Person node in a JSON-LD payload, descending into arrays, @graph,
// mainEntity and list items.
func walkLD(v any, fn func(map[string]any)) {
	switch node := v.(type) {
	case []any:
		for _, item := range node {
			walkLD(item, fn)
		}
	case map[string]any:
		if hasType(node, "Person") {
			fn(node)
			return
		}
		for _, key := range []string{"@graph", "mainEntity", "itemListElement", "item", "employee", "author"} {
			if child, ok := node[key]; ok {
				walkLD(child, fn)
			}
		}
	}
}

func hasType(node map[string]any, want string) bool {
	switch t := node["@type"].(type) {
	case string:
		return strings.EqualFold(ldTypeName(t), want)
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && strings.EqualFold(ldTypeName(s), want) {
				return true
			}
		}
	}
	return false
}

// ldTypeName strips a vocabulary prefix such as "schema:" or "http://schema.org/".
func ldTypeName(t string) string {
	if i := strings.LastIndexAny(t, ":/"); i >= 0 {
		return t[i+1:]
	}
	return t
}

func personFromLD(node map[string]any, base *url.URL) (models.Candidate, bool) {
	name := cleanText(ldString(node["name"]))
	if name == "" {
		given := ldString(node["givenName"])
		family := ldString(node["familyName"])
		name = cleanText(given + " " + family)
	}
	profile, ok := ldProfileURL(node, base)
	if name == "" || !ok {
		return models.Candidate{}, false
	}
	return models.Candidate{
		Name:       name,
		ProfileURL: profile,
		Title:      cleanText(ldString(node["jobTitle"])),
		Company:    cleanText(ldOrgName(node["worksFor"])),
		Location:   cleanText(ldPlace(node)),
		Source:     models.SourceStructuredData,
	}, true
}

func ldProfileURL(node map[string]any, base *url.URL) (string, bool) {
	candidates := ldStrings(node["url"])
	candidates = append(candidates, ldStrings(node["sameAs"])...)
	candidates = append(candidates, ldStrings(node["@id"])...)
	for _, raw := range candidates {
		if u, ok := site.NormalizeProfileURL(raw, base); ok {
			return u, true
		}
	}
	return "", false
}

// ldString returns the first string value of v (a string, an array or a {"name"} object).
func ldString(v any) string {
	all := ldStrings(v)
	if len(all) == 0 {
		return ""
	}
	return all[0]
}

func ldStrings(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, ldStrings(item)...)
		}
		return out
	case map[string]any:
		if s, ok := t["@value"].(string); ok {
			return []string{s}
		}
		if s, ok := t["name"].(string); ok {
			return []string{s}
		}
		if s, ok := t["@id"].(string); ok {
			return []string{s}
		}
	}
	return nil
}

func ldOrgName(v any) string {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if name := ldOrgName(item); name != "" {
				return name
			}
		}
		return ""
	case map[string]any:
		if name, ok := t["name"].(string); ok {
			return name
		}
		if org, ok := t["worksFor"]; ok {
			return ldOrgName(org)
		}
		return ""
	case string:
		return t
	}
	return ""
}

func ldPlace(node map[string]any) string {
	for _, key := range []string{"address", "homeLocation", "workLocation"} {
		if s := ldAddress(node[key]); s != "" {
			return s
		}
	}
	return ""
}

func ldAddress(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		for _, item := range t {
			if s := ldAddress(item); s != "" {
				return s
			}
		}
	case map[string]any:
		var parts []string
		for _, key := range []string{"addressLocality", "addressRegion", "addressCountry"} {
			if s := cleanText(ldString(t[key])); s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, ", ")
		}
		if addr, ok := t["address"]; ok {
			return ldAddress(addr)
		}
		if name, ok := t["name"].(string); ok {
			return name
		}
	}
	return ""
}

func personFromMicrodata(s *goquery.Selection, base *url.URL) (models.Candidate, bool) {
	name := itemprop(s, "name")
	var profile string
	for _, sel := range []*goquery.Selection{s.Find(`[itemprop="url"]`), s.Find(`[itemprop="sameAs"]`), s.Find("a[href]")} {
		sel.EachWithBreak(func(_ int, link *goquery.Selection) bool {
			raw := link.AttrOr("href", link.AttrOr("content", ""))
			if u, ok := site.NormalizeProfileURL(raw, base); ok {
				profile = u
				return false
			}
			return true
		})
		if profile != "" {
			break
		}
	}
	if name == "" || profile == "" {
		return models.Candidate{}, false
	}

	company := ""
	if org := s.Find(`[itemprop="worksFor"]`).First(); org.Length() > 0 {
		company = itemprop(org, "name")
		if company == "" {
			company = cleanText(org.AttrOr("content", org.Text()))
		}
	}
	location := ""
	for _, prop := range []string{"address", "homeLocation"} {
		if loc := s.Find(`[itemprop="` + prop + `"]`).First(); loc.Length() > 0 {
			location = cleanText(loc.AttrOr("content", loc.Text()))
			break
		}
	}
	return models.Candidate{
		Name:       name,
		ProfileURL: profile,
		Title:      itemprop(s, "jobTitle"),
		Company:    company,
		Location:   location,
		Source:     models.SourceStructuredData,
	}, true
}

func itemprop(s *goquery.Selection, prop string) string {
	el := s.Find(`[itemprop="` + prop + `"]`).First()
	if el.Length() == 0 {
		return ""
	}
	if content, ok := el.Attr("content"); ok {
		return cleanText(content)
	}
	return cleanText(el.Text())
}
