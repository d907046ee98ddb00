package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// ChromeDriver starts headless Chrome through chromedp.
type ChromeDriver struct {
	settle time.Duration
	log    zerolog.Logger
}

// NewChromeDriver returns a driver that waits settle after each load for client-side rendering.
func NewChromeDriver(settle time.Duration, logger zerolog.Logger) *ChromeDriver {
	if settle <= 0 {
		settle = 2 * time.Second
	}
	return &ChromeDriver{settle: settle, log: logger}
}

// Open launches a browser with the fingerprint applied before any page script runs.
func (d *ChromeDriver) Open(ctx context.Context, opts LaunchOptions) (Page, error) {
	fp := opts.Fingerprint
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", fp.Locale),
		chromedp.UserAgent(fp.UserAgent),
		chromedp.WindowSize(fp.Width, fp.Height),
	)
	if opts.ProfileDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.ProfileDir))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		d.log.Debug().Msgf(format, args...)
	}))
	cancel := func() {
		tabCancel()
		allocCancel()
	}

	// The first Run creates the target and must use the long-lived tab context.
	stop := context.AfterFunc(ctx, cancel)
	err := chromedp.Run(tabCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(fp.StealthScript()).Do(ctx); err != nil {
				return fmt.Errorf("stealth script: %w", err)
			}
			if err := emulation.SetUserAgentOverride(fp.UserAgent).
				WithAcceptLanguage(fp.AcceptLanguage).
				WithPlatform(fp.Platform).
				Do(ctx); err != nil {
				return fmt.Errorf("user agent override: %w", err)
			}
			if err := emulation.SetTimezoneOverride(fp.Timezone).Do(ctx); err != nil {
				return fmt.Errorf("timezone override: %w", err)
			}
			if err := emulation.SetLocaleOverride().WithLocale(strings.ReplaceAll(fp.Locale, "-", "_")).Do(ctx); err != nil {
				return fmt.Errorf("locale override: %w", err)
			}
			return emulation.SetDeviceMetricsOverride(int64(fp.Width), int64(fp.Height), 1, false).Do(ctx)
		}),
	)
	stop()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return &chromePage{ctx: tabCtx, cancel: cancel, settle: d.settle}, nil
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
	settle time.Duration
}

// scoped derives a context from the tab that also ends when ctx ends.
func (p *chromePage) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(p.ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		prev := cancel
		cancel = func() {
			cancelDeadline()
			prev()
		}
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (p *chromePage) SetCookie(ctx context.Context, c Cookie) error {
	runCtx, cancel := p.scoped(ctx)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookie(c.Name, c.Value).
			WithDomain(c.Domain).
			WithPath(c.Path).
			WithSecure(c.Secure).
			WithHTTPOnly(c.HTTPOnly).
			Do(ctx)
	}))
}

func (p *chromePage) Navigate(ctx context.Context, url string) (Response, error) {
	runCtx, cancel := p.scoped(ctx)
	defer cancel()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		return Response{}, err
	}
	status := 0
	if resp != nil {
		status = int(resp.Status)
	}

	snap, err := p.render(runCtx)
	if err != nil {
		return Response{}, err
	}
	snap.Status = status
	return snap, nil
}

func (p *chromePage) Snapshot(ctx context.Context) (Response, error) {
	runCtx, cancel := p.scoped(ctx)
	defer cancel()
	return p.render(runCtx)
}

// render waits for the body, scrolls once to trigger lazy result cards, and captures the DOM.
func (p *chromePage) render(ctx context.Context) (Response, error) {
	var (
		location string
		html     string
		scrolled bool
	)
	err := chromedp.Run(ctx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight / 2); true`, &scrolled),
		chromedp.Sleep(p.settle),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return Response{}, err
	}
	return Response{URL: location, HTML: html}, nil
}

func (p *chromePage) CurrentURL(ctx context.Context) (string, error) {
	runCtx, cancel := p.scoped(ctx)
	defer cancel()
	var location string
	if err := chromedp.Run(runCtx, chromedp.Location(&location)); err != nil {
		return "", err
	}
	return location, nil
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	runCtx, cancel := p.scoped(ctx)
	defer cancel()
	return chromedp.Run(runCtx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

func (p *chromePage) SendKeys(ctx context.Context, selector, text string) error {
	runCtx, cancel := p.scoped(ctx)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (p *chromePage) Close() error {
	p.cancel()
	return nil
}
