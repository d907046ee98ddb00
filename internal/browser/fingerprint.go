package browser

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
)

// Fingerprint is the set of device signals presented by one session.
type Fingerprint struct {
	UserAgent      string
	Platform       string
	Locale         string
	AcceptLanguage string
	Timezone       string
	Width          int
	Height         int
}

var userAgents = []struct {
	ua       string
	platform string
}{
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36", "Win32"},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36", "Win32"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36", "MacIntel"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36", "MacIntel"},
	{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36", "Linux x86_64"},
}

var viewports = [][2]int{
	{1366, 768},
	{1440, 900},
	{1536, 864},
	{1680, 1050},
	{1920, 1080},
}

// DefaultLocales and DefaultTimezones are used when the config leaves them empty.
var (
	DefaultLocales   = []string{"en-US"}
	DefaultTimezones = []string{"America/New_York", "America/Chicago", "America/Los_Angeles"}
)

// RandomFingerprint picks a coherent set of device signals.
func RandomFingerprint(rng *rand.Rand, locales, timezones []string) Fingerprint {
	if len(locales) == 0 {
		locales = DefaultLocales
	}
	if len(timezones) == 0 {
		timezones = DefaultTimezones
	}
	agent := userAgents[rng.Intn(len(userAgents))]
	vp := viewports[rng.Intn(len(viewports))]
	locale := locales[rng.Intn(len(locales))]
	return Fingerprint{
		UserAgent:      agent.ua,
		Platform:       agent.platform,
		Locale:         locale,
		AcceptLanguage: acceptLanguage(locale),
		Timezone:       timezones[rng.Intn(len(timezones))],
		Width:          vp[0],
		Height:         vp[1],
	}
}

func acceptLanguage(locale string) string {
	lang := strings.SplitN(locale, "-", 2)[0]
	if lang == locale {
		return locale + ";q=0.9"
	}
	return locale + "," + lang + ";q=0.9"
}

// StealthScript returns the init script matching the fingerprint's languages.
func (f Fingerprint) StealthScript() string {
	langs := []string{f.Locale}
	if lang := strings.SplitN(f.Locale, "-", 2)[0]; lang != f.Locale {
		langs = append(langs, lang)
	}
	encoded, _ := json.Marshal(langs)
	return fmt.Sprintf(stealthScript, encoded)
}

// stealthScript runs before any page script and hides the usual automation markers.
const stealthScript = `(() => {
  Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
  Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
  Object.defineProperty(navigator, 'languages', { get: () => %s });
  window.chrome = window.chrome || { runtime: {} };
  const query = window.navigator.permissions && window.navigator.permissions.query;
  if (query) {
    window.navigator.permissions.query = (p) =>
      p && p.name === 'notifications'
        ? Promise.resolve({ state: Notification.permission })
        : query(p);
  }
})();`
