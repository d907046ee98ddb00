package extract

import (
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"candidate-harvester/internal/models"
	"candidate-harvester/internal/site"
)

// maxScanDepth bounds how far DOMScan climbs from a link looking for text.
const maxScanDepth = 4

// DOMScan is the fallback for markup the heuristic does not recognize: every profile link in the
// document, with text harvested from its nearest ancestors.
type DOMScan struct {
	kw Keywords
}

func NewDOMScan(kw Keywords) DOMScan {
	return DOMScan{kw: kw}
}

func (DOMScan) Name() string { return "dom-scan" }

func (d DOMScan) Extract(doc *goquery.Document, base *url.URL) []models.Candidate {
	var out []models.Candidate
	doc.Find(profileLinkSelector).Each(func(_ int, link *goquery.Selection) {
		profile, ok := site.NormalizeProfileURL(link.AttrOr("href", ""), base)
		if !ok {
			return
		}
		name := cleanName(link.Find(`span[aria-hidden="true"]`).First().Text(), d.kw)
		if name == "" {
			name = cleanName(link.Text(), d.kw)
		}
		if name == "" {
			name = cleanName(link.AttrOr("aria-label", ""), d.kw)
		}
		if name == "" {
			return
		}

		c := models.Candidate{Name: name, ProfileURL: profile, Source: models.SourceStructuralHeuristic}
		parent := link.Parent()
		for depth := 0; depth < maxScanDepth && parent.Length() > 0 && (c.Title == "" || c.Location == ""); depth++ {
			if ownsOtherProfile(parent, profile, base) {
				break
			}
			for _, block := range leafTexts(parent) {
				if block == name || d.kw.isDegree(block) || d.kw.isAction(block) || cleanName(block, d.kw) == name {
					continue
				}
				switch {
				case c.Title == "":
					c.Title = block
				case c.Location == "" && block != c.Title:
					c.Location = block
				}
			}
			parent = parent.Parent()
		}
		if role, company, ok := d.kw.splitRoleCompany(c.Title); ok {
			c.Title, c.Company = role, company
		}
		out = append(out, c)
	})
	return out
}

// ownsOtherProfile reports whether sel links to a profile other than profile, meaning the scan has
// climbed past the result it started from.
func ownsOtherProfile(sel *goquery.Selection, profile string, base *url.URL) bool {
	other := false
	sel.Find(profileLinkSelector).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if u, ok := site.NormalizeProfileURL(a.AttrOr("href", ""), base); ok && u != profile {
			other = true
			return false
		}
		return true
	})
	return other
}
