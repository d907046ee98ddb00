package site

import (
	"net/url"
	"path"
	"strings"
)

const (
	// BaseURL is the canonical origin for profile and search URLs.
	BaseURL = "https://www.linkedin.com"
	// AuthCheckURL only renders for an authenticated member.
	AuthCheckURL = BaseURL + "/feed/"
	// CookieName is the session cookie carrying the member token.
	CookieName = "li_at"
	// CookieDomain scopes the session cookie to every subdomain.
	CookieDomain = ".linkedin.com"
)

// DetourURLs are low-signal pages visited between searches.
var DetourURLs = []string{
	BaseURL + "/feed/",
	BaseURL + "/mynetwork/",
	BaseURL + "/notifications/",
	BaseURL + "/jobs/",
}

var authPaths = []string{"/login", "/uas/login", "/authwall", "/signup", "/checkpoint/lg/login"}

// SearchURL builds a people search for the given role at company.
func SearchURL(company, role string) string {
	keywords := strings.TrimSpace(strings.Join(strings.Fields(role+" "+company), " "))
	u, _ := url.Parse(BaseURL + "/search/results/people/")
	q := url.Values{}
	q.Set("keywords", keywords)
	q.Set("origin", "FACETED_SEARCH")
	u.RawQuery = q.Encode()
	return u.String()
}

// IsAuthURL reports whether raw points at a login or auth wall page.
func IsAuthURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, prefix := range authPaths {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// IsCheckpointURL reports whether raw is a security checkpoint (verification or captcha flow).
func IsCheckpointURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	return strings.HasPrefix(p, "/checkpoint/") && !strings.HasPrefix(p, "/checkpoint/lg/login")
}

// memberIDPrefix starts the opaque id LinkedIn uses in place of a vanity slug.
const memberIDPrefix = "ACoAA"

// NormalizeProfileURL resolves href against base and returns the canonical profile URL
// (https://www.linkedin.com/in/<slug>, vanity slugs lowercased). ok is false when href is not a member profile.
func NormalizeProfileURL(href string, base *url.URL) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if !u.IsAbs() {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host != "linkedin.com" && !strings.HasSuffix(host, ".linkedin.com") {
		return "", false
	}

	segments := strings.Split(strings.Trim(path.Clean(u.Path), "/"), "/")
	if len(segments) < 2 || segments[0] != "in" || segments[1] == "" {
		return "", false
	}
	slug, err := url.PathUnescape(segments[1])
	if err != nil {
		slug = segments[1]
	}
	// Vanity slugs are case-insensitive; opaque member ids are not.
	if !strings.HasPrefix(slug, memberIDPrefix) {
		slug = strings.ToLower(slug)
	}
	return BaseURL + "/in/" + url.PathEscape(slug), true
}

// SlugFromProfileURL returns the member slug of a canonical profile URL.
func SlugFromProfileURL(profileURL string) string {
	idx := strings.Index(profileURL, "/in/")
	if idx < 0 {
		return ""
	}
	slug := strings.Trim(profileURL[idx+len("/in/"):], "/")
	if unescaped, err := url.PathUnescape(slug); err == nil {
		return unescaped
	}
	return slug
}
