package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies a scraping failure. Callers branch on Kind, never on error text.
type Kind string

const (
	KindUnknown              Kind = ""
	KindRateLimited          Kind = "rate_limited"
	KindQuotaExhausted       Kind = "quota_exhausted"
	KindAccountRestricted    Kind = "account_restricted"
	KindVerificationRequired Kind = "verification_required"
	KindCaptchaRequired      Kind = "captcha_required"
	KindNetwork              Kind = "network"
	KindSessionExpired       Kind = "session_expired"
	KindSessionInvalid       Kind = "session_invalid"
)

var (
	ErrRateLimited          = errors.New("rate limited")
	ErrQuotaExhausted       = errors.New("daily quota exhausted")
	ErrAccountRestricted    = errors.New("account restricted")
	ErrVerificationRequired = errors.New("verification required")
	ErrCaptchaRequired      = errors.New("captcha required")
	ErrNetwork              = errors.New("network error")
	ErrSessionExpired       = errors.New("session cookie expired")
	ErrSessionInvalid       = errors.New("session invalid")
)

var sentinels = map[Kind]error{
	KindRateLimited:          ErrRateLimited,
	KindQuotaExhausted:       ErrQuotaExhausted,
	KindAccountRestricted:    ErrAccountRestricted,
	KindVerificationRequired: ErrVerificationRequired,
	KindCaptchaRequired:      ErrCaptchaRequired,
	KindNetwork:              ErrNetwork,
	KindSessionExpired:       ErrSessionExpired,
	KindSessionInvalid:       ErrSessionInvalid,
}

// Error carries the classification and metadata of a failed operation.
type Error struct {
	Kind       Kind
	URL        string
	Status     int
	RetryAfter time.Duration
	Err        error
}

// NewError builds a classified error. err may be nil.
func NewError(kind Kind, url string, status int, err error) *Error {
	return &Error{Kind: kind, URL: url, Status: status, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if s, ok := sentinels[e.Kind]; ok {
		msg = s.Error()
	}
	if e.URL != "" {
		msg += " url=" + e.URL
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.RetryAfter > 0 {
		msg += " retry_after=" + e.RetryAfter.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf extracts the classification from err. Context deadline errors count as network failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	return KindUnknown
}

// NeedsHuman reports kinds that stop the run until an operator acts.
func (k Kind) NeedsHuman() bool {
	switch k {
	case KindAccountRestricted, KindVerificationRequired, KindCaptchaRequired, KindSessionInvalid:
		return true
	}
	return false
}
