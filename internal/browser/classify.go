package browser

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"candidate-harvester/internal/crawler"
	"candidate-harvester/internal/site"
)

// Outcome is the typed classification of a navigation, computed once at the browser boundary.
type Outcome string

const (
	OutcomeOK                   Outcome = "OK"
	OutcomeCookieExpired        Outcome = "COOKIE_EXPIRED"
	OutcomeVerificationRequired Outcome = "VERIFICATION_REQUIRED"
	OutcomeCaptchaRequired      Outcome = "CAPTCHA_REQUIRED"
	OutcomeBlocked              Outcome = "BLOCKED"
	OutcomeRateLimited          Outcome = "RATE_LIMITED"
	OutcomeUnavailable          Outcome = "UNAVAILABLE"
)

// statusBotBlocked is the non-standard status the site returns to suspected automation.
const statusBotBlocked = 999

const (
	captchaSelector = `iframe[src*="captcha"], iframe[src*="recaptcha"], iframe[src*="arkoselabs"], ` +
		`iframe[src*="funcaptcha"], #captcha-internal, .g-recaptcha, [data-sitekey]`
	verificationSelector = `input[name="pin"], input#input__email_verification_pin, ` +
		`input[autocomplete="one-time-code"], form#email-pin-challenge, form[action*="checkpoint/challenge/verify"]`
	blockedSelector = `#restricted-account, .account-restricted, [data-test-id="restricted-account"], ` +
		`form[action*="/checkpoint/rp/"]`

	// CodeInputSelector and CodeSubmitSelector drive the one-time code form.
	CodeInputSelector  = `input[name="pin"], input#input__email_verification_pin, input[autocomplete="one-time-code"]`
	CodeSubmitSelector = `button#email-pin-submit-button, #two-step-submit-button, form#email-pin-challenge button[type="submit"]`
)

var blockedPaths = []string{"/checkpoint/rp/", "/checkpoint/rm/", "/restricted"}

// Classify maps a response to an Outcome.
func Classify(status int, finalURL, html string) Outcome {
	if status == http.StatusTooManyRequests {
		return OutcomeRateLimited
	}
	if site.IsAuthURL(finalURL) {
		return OutcomeCookieExpired
	}
	if status == http.StatusForbidden || status == statusBotBlocked || hasBlockedPath(finalURL) {
		return OutcomeBlocked
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		if doc.Find(blockedSelector).Length() > 0 {
			return OutcomeBlocked
		}
		if doc.Find(captchaSelector).Length() > 0 {
			return OutcomeCaptchaRequired
		}
		if doc.Find(verificationSelector).Length() > 0 {
			return OutcomeVerificationRequired
		}
	}
	if site.IsCheckpointURL(finalURL) {
		return OutcomeVerificationRequired
	}
	if status >= http.StatusInternalServerError {
		return OutcomeUnavailable
	}
	return OutcomeOK
}

// Kind maps an outcome to the error taxonomy. OK maps to KindUnknown.
func (o Outcome) Kind() crawler.Kind {
	switch o {
	case OutcomeCookieExpired:
		return crawler.KindSessionExpired
	case OutcomeVerificationRequired:
		return crawler.KindVerificationRequired
	case OutcomeCaptchaRequired:
		return crawler.KindCaptchaRequired
	case OutcomeBlocked:
		return crawler.KindAccountRestricted
	case OutcomeRateLimited:
		return crawler.KindRateLimited
	case OutcomeUnavailable:
		return crawler.KindNetwork
	default:
		return crawler.KindUnknown
	}
}

func hasBlockedPath(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, prefix := range blockedPaths {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}
