package browser

import "context"

// Cookie is a cookie injected into the browser before the first navigation.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
}

// Response is what a page shows after a navigation or interaction.
// Status is zero when no document response was observed (e.g. a snapshot after a form submit).
type Response struct {
	Status int
	URL    string
	HTML   string
}

// LaunchOptions configure a new browser identity.
type LaunchOptions struct {
	ProfileDir  string
	Headless    bool
	ExecPath    string
	Fingerprint Fingerprint
}

// Driver starts browser pages.
type Driver interface {
	Open(ctx context.Context, opts LaunchOptions) (Page, error)
}

// Page is a single browser tab owned by a session.
type Page interface {
	SetCookie(ctx context.Context, cookie Cookie) error
	Navigate(ctx context.Context, url string) (Response, error)
	Snapshot(ctx context.Context) (Response, error)
	CurrentURL(ctx context.Context) (string, error)
	Click(ctx context.Context, selector string) error
	SendKeys(ctx context.Context, selector, text string) error
	Close() error
}
