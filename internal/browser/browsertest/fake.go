// Package browsertest provides a scripted in-memory browser for tests.
package browsertest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"candidate-harvester/internal/browser"
)

// VerificationPage is a minimal one-time code challenge page.
const VerificationPage = `<html><body><form id="email-pin-challenge"><input name="pin"><button id="email-pin-submit-button">Submit</button></form></body></html>`

// ErrClosed is returned by calls on a closed page.
var ErrClosed = errors.New("page closed")

// Driver hands out FakePages. NewPage, when set, configures each page as it is opened.
type Driver struct {
	mu      sync.Mutex
	NewPage func(n int) *Page
	OpenErr error
	Pages   []*Page
	Options []browser.LaunchOptions
}

// Open implements browser.Driver.
func (d *Driver) Open(_ context.Context, opts browser.LaunchOptions) (browser.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	var p *Page
	if d.NewPage != nil {
		p = d.NewPage(len(d.Pages))
	}
	if p == nil {
		p = NewPage()
	}
	d.Pages = append(d.Pages, p)
	d.Options = append(d.Options, opts)
	return p, nil
}

// LastPage returns the most recently opened page.
func (d *Driver) LastPage() *Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Pages) == 0 {
		return nil
	}
	return d.Pages[len(d.Pages)-1]
}

// Page serves scripted responses keyed by URL. Queued responses are consumed in order and the last
// one sticks; unknown URLs get a 200 empty page.
type Page struct {
	mu        sync.Mutex
	responses map[string][]browser.Response
	errors    map[string][]error
	current   browser.Response
	typed     strings.Builder

	// VerifyCode, when set, is the code that clears a verification page on submit.
	VerifyCode string
	// AfterVerify is shown after a correct code; defaults to the feed page.
	AfterVerify browser.Response

	Visits  []string
	Cookies []browser.Cookie
	Clicks  []string
	Keys    []string
	Closed  bool
}

// NewPage returns an empty scripted page.
func NewPage() *Page {
	return &Page{
		responses: make(map[string][]browser.Response),
		errors:    make(map[string][]error),
	}
}

// On queues responses for url.
func (p *Page) On(url string, responses ...browser.Response) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range responses {
		if responses[i].URL == "" {
			responses[i].URL = url
		}
	}
	p.responses[url] = append(p.responses[url], responses...)
	return p
}

// OnHTML queues a 200 response with html for url.
func (p *Page) OnHTML(url, html string) *Page {
	return p.On(url, browser.Response{Status: 200, URL: url, HTML: html})
}

// FailOnce makes the next navigation to url fail with err.
func (p *Page) FailOnce(url string, err error) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors[url] = append(p.errors[url], err)
	return p
}

// SetCurrent forces what the page is showing (e.g. to simulate a logout between calls).
func (p *Page) SetCurrent(resp browser.Response) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = resp
}

// Typed returns everything typed into the page so far.
func (p *Page) Typed() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typed.String()
}

// VisitCount returns how many navigations targeted url.
func (p *Page) VisitCount(url string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, v := range p.Visits {
		if v == url {
			n++
		}
	}
	return n
}

func (p *Page) SetCookie(_ context.Context, c browser.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return ErrClosed
	}
	p.Cookies = append(p.Cookies, c)
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string) (browser.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return browser.Response{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return browser.Response{}, err
	}
	p.Visits = append(p.Visits, url)
	if errs := p.errors[url]; len(errs) > 0 {
		p.errors[url] = errs[1:]
		return browser.Response{}, errs[0]
	}

	resp := browser.Response{Status: 200, URL: url, HTML: "<html><body></body></html>"}
	if queue := p.responses[url]; len(queue) > 0 {
		resp = queue[0]
		if len(queue) > 1 {
			p.responses[url] = queue[1:]
		}
	}
	p.current = resp
	return resp, nil
}

func (p *Page) Snapshot(context.Context) (browser.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return browser.Response{}, ErrClosed
	}
	snap := p.current
	snap.Status = 0
	return snap, nil
}

func (p *Page) CurrentURL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return "", ErrClosed
	}
	return p.current.URL, nil
}

func (p *Page) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return ErrClosed
	}
	p.Clicks = append(p.Clicks, selector)
	if p.VerifyCode != "" && strings.HasSuffix(p.typed.String(), p.VerifyCode) {
		after := p.AfterVerify
		if after.URL == "" {
			after = browser.Response{Status: 200, URL: "https://www.linkedin.com/feed/", HTML: "<html><body><main>feed</main></body></html>"}
		}
		p.current = after
	}
	return nil
}

func (p *Page) SendKeys(_ context.Context, _ string, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return ErrClosed
	}
	p.Keys = append(p.Keys, text)
	p.typed.WriteString(text)
	return nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}
