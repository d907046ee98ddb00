package browser

import (
	"testing"

	"candidate-harvester/internal/crawler"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		status int
		url    string
		html   string
		want   Outcome
	}{
		{"ok", 200, "https://www.linkedin.com/search/results/people/", "<html><body><main></main></body></html>", OutcomeOK},
		{"rate limited", 429, "https://www.linkedin.com/search/results/people/", "", OutcomeRateLimited},
		{"login redirect", 200, "https://www.linkedin.com/login?session_redirect=x", "<form></form>", OutcomeCookieExpired},
		{"authwall", 200, "https://www.linkedin.com/authwall", "", OutcomeCookieExpired},
		{"forbidden", 403, "https://www.linkedin.com/search/results/people/", "", OutcomeBlocked},
		{"bot status", 999, "https://www.linkedin.com/search/results/people/", "", OutcomeBlocked},
		{"restricted path", 200, "https://www.linkedin.com/checkpoint/rp/restricted", "", OutcomeBlocked},
		{"restricted markup", 200, "https://www.linkedin.com/feed/", `<div id="restricted-account">x</div>`, OutcomeBlocked},
		{"captcha iframe", 200, "https://www.linkedin.com/checkpoint/challenge/x", `<iframe src="https://client-api.arkoselabs.com/fc"></iframe>`, OutcomeCaptchaRequired},
		{"pin input", 200, "https://www.linkedin.com/checkpoint/challenge/x", `<form id="email-pin-challenge"><input name="pin"></form>`, OutcomeVerificationRequired},
		{"checkpoint without markers", 200, "https://www.linkedin.com/checkpoint/challenge/x", "<p>verify</p>", OutcomeVerificationRequired},
		{"server error", 502, "https://www.linkedin.com/search/results/people/", "", OutcomeUnavailable},
		{"snapshot without status", 0, "https://www.linkedin.com/feed/", "<main></main>", OutcomeOK},
	}

	for _, tc := range cases {
		if got := Classify(tc.status, tc.url, tc.html); got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestOutcomeKind(t *testing.T) {
	if OutcomeBlocked.Kind() != crawler.KindAccountRestricted {
		t.Fatalf("blocked should map to account restricted")
	}
	if OutcomeUnavailable.Kind() != crawler.KindNetwork {
		t.Fatalf("unavailable should map to network")
	}
	if OutcomeOK.Kind() != crawler.KindUnknown {
		t.Fatalf("ok should not carry a kind")
	}
}
