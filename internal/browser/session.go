package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"candidate-harvester/common"
	"candidate-harvester/internal/crawler"
	"candidate-harvester/internal/site"
)

var (
	// ErrNoChallenge is returned when a code is submitted while nothing is paused.
	ErrNoChallenge = errors.New("no verification challenge pending")
	// ErrNotCodeChallenge is returned when the pending challenge cannot be solved with a code.
	ErrNotCodeChallenge = errors.New("pending challenge is not a one-time code")
	// ErrStaleSession is returned when a caller holds a session that has been replaced.
	ErrStaleSession = errors.New("session is no longer live")
)

// Config controls session construction and navigation pacing.
type Config struct {
	AuthToken         string
	ProfileDir        string
	Headless          bool
	ExecPath          string
	AuthCheckURL      string
	DetourURLs        []string
	DetourEvery       int
	NavigationTimeout time.Duration
	TypingDelayMin    time.Duration
	TypingDelayMax    time.Duration
	DetourPauseMin    time.Duration
	DetourPauseMax    time.Duration
	Locales           []string
	Timezones         []string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		AuthCheckURL:      site.AuthCheckURL,
		DetourURLs:        site.DetourURLs,
		DetourEvery:       5,
		NavigationTimeout: 45 * time.Second,
		TypingDelayMin:    60 * time.Millisecond,
		TypingDelayMax:    220 * time.Millisecond,
		DetourPauseMin:    3 * time.Second,
		DetourPauseMax:    9 * time.Second,
	}
}

// Session is one authenticated browser identity.
type Session struct {
	ID          string
	Fingerprint Fingerprint
	CreatedAt   time.Time

	page        Page
	navigations int
}

// Navigations returns how many real navigations the session has issued.
func (s *Session) Navigations() int {
	return s.navigations
}

// NavigationResult is the classified result of a navigation.
type NavigationResult struct {
	Status  int
	URL     string
	Content string
	Outcome Outcome
}

// VerificationChallenge records a page paused on a human check.
type VerificationChallenge struct {
	Kind       crawler.Kind
	URL        string
	DetectedAt time.Time

	session *Session
}

// VerificationResult reports whether a submitted code cleared the challenge.
type VerificationResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Manager owns the single live browser session of the process.
type Manager struct {
	driver Driver
	cfg    Config
	log    zerolog.Logger
	rng    *rand.Rand
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time

	mu        sync.Mutex
	session   *Session
	challenge *VerificationChallenge
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = logger
	}
}

// WithRand fixes the randomness source (tests).
func WithRand(rng *rand.Rand) Option {
	return func(m *Manager) {
		m.rng = rng
	}
}

// WithSleep replaces the pause function (tests).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) {
		m.sleep = sleep
	}
}

// NewManager creates a manager. No browser is started until GetSession.
func NewManager(driver Driver, cfg Config, opts ...Option) *Manager {
	if cfg.AuthCheckURL == "" {
		cfg.AuthCheckURL = site.AuthCheckURL
	}
	if len(cfg.DetourURLs) == 0 {
		cfg.DetourURLs = site.DetourURLs
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	m := &Manager{
		driver: driver,
		cfg:    cfg,
		log:    zerolog.Nop(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  common.Sleep,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetSession returns the live session, creating one if needed. A live session whose page has been
// bounced to a login page is treated as an expired cookie and replaced.
func (m *Manager) GetSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.challenge != nil {
		return nil, crawler.NewError(m.challenge.Kind, m.challenge.URL, 0, errors.New("session paused"))
	}

	if m.session != nil {
		current, err := m.session.page.CurrentURL(ctx)
		if err == nil && !site.IsAuthURL(current) {
			return m.session, nil
		}
		m.log.Warn().
			Str("session", m.session.ID).
			Str("outcome", string(OutcomeCookieExpired)).
			Str("url", current).
			AnErr("probe_error", err).
			Msg("liveness probe failed, recreating session")
		m.invalidateLocked()
	}

	return m.openLocked(ctx)
}

// InvalidateSession closes the live session and drops any pending challenge.
func (m *Manager) InvalidateSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invalidateLocked()
}

// PendingChallenge returns the challenge the manager is paused on, if any.
func (m *Manager) PendingChallenge() (VerificationChallenge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.challenge == nil {
		return VerificationChallenge{}, false
	}
	return *m.challenge, true
}

// Navigate loads url in the session and classifies the result. Every N navigations a detour to a
// neutral page is inserted first. Non-OK outcomes are returned as *crawler.Error alongside the result.
func (m *Manager) Navigate(ctx context.Context, s *Session, url string) (NavigationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s == nil || s != m.session {
		return NavigationResult{}, crawler.NewError(crawler.KindSessionExpired, url, 0, ErrStaleSession)
	}
	if m.challenge != nil {
		return NavigationResult{}, crawler.NewError(m.challenge.Kind, m.challenge.URL, 0, errors.New("session paused"))
	}

	if m.cfg.DetourEvery > 0 && s.navigations > 0 && s.navigations%m.cfg.DetourEvery == 0 {
		if result, err := m.detourLocked(ctx, s); err != nil {
			return result, err
		}
	}

	result, err := m.loadLocked(ctx, s, url)
	s.navigations++
	return result, err
}

// TypeHumanlike types text into selector one character at a time with randomized pauses.
func (m *Manager) TypeHumanlike(ctx context.Context, s *Session, selector, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == nil || s != m.session {
		return crawler.NewError(crawler.KindSessionExpired, "", 0, ErrStaleSession)
	}
	return m.typeLocked(ctx, s.page, selector, text)
}

// SubmitVerificationCode enters code on the paused page and re-checks whether the block cleared.
func (m *Manager) SubmitVerificationCode(ctx context.Context, code string) (VerificationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := m.challenge
	if ch == nil {
		return VerificationResult{Error: ErrNoChallenge.Error()}, ErrNoChallenge
	}
	if ch.Kind != crawler.KindVerificationRequired {
		return VerificationResult{Error: ErrNotCodeChallenge.Error()}, ErrNotCodeChallenge
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return VerificationResult{Error: "empty code"}, nil
	}

	page := ch.session.page
	opCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigationTimeout)
	defer cancel()

	if err := m.typeLocked(opCtx, page, CodeInputSelector, code); err != nil {
		return VerificationResult{Error: err.Error()}, fmt.Errorf("type verification code: %w", err)
	}
	if err := page.Click(opCtx, CodeSubmitSelector); err != nil {
		return VerificationResult{Error: err.Error()}, fmt.Errorf("submit verification code: %w", err)
	}
	snap, err := page.Snapshot(opCtx)
	if err != nil {
		return VerificationResult{Error: err.Error()}, fmt.Errorf("read page after verification: %w", err)
	}

	outcome := Classify(snap.Status, snap.URL, snap.HTML)
	log := m.log.With().Str("session", ch.session.ID).Str("outcome", string(outcome)).Logger()
	switch outcome {
	case OutcomeOK:
		m.challenge = nil
		log.Info().Msg("verification accepted, session resumed")
		return VerificationResult{Success: true}, nil
	case OutcomeVerificationRequired:
		log.Warn().Msg("verification code rejected")
		return VerificationResult{Error: "verification still required"}, nil
	case OutcomeCaptchaRequired:
		ch.Kind = crawler.KindCaptchaRequired
		ch.URL = snap.URL
		log.Warn().Msg("verification escalated to captcha")
		return VerificationResult{Error: "captcha required"}, nil
	default:
		log.Error().Msg("verification ended on a terminal page")
		m.invalidateLocked()
		kind := outcome.Kind()
		return VerificationResult{Error: string(kind)}, crawler.NewError(kind, snap.URL, snap.Status, nil)
	}
}

// Close shuts the browser down.
func (m *Manager) Close() error {
	return m.InvalidateSession()
}

func (m *Manager) openLocked(ctx context.Context) (*Session, error) {
	if strings.TrimSpace(m.cfg.AuthToken) == "" {
		return nil, crawler.NewError(crawler.KindSessionInvalid, "", 0, errors.New("auth token not configured"))
	}

	fp := RandomFingerprint(m.rng, m.cfg.Locales, m.cfg.Timezones)
	page, err := m.driver.Open(ctx, LaunchOptions{
		ProfileDir:  m.cfg.ProfileDir,
		Headless:    m.cfg.Headless,
		ExecPath:    m.cfg.ExecPath,
		Fingerprint: fp,
	})
	if err != nil {
		return nil, fmt.Errorf("open browser: %w", err)
	}

	s := &Session{
		ID:          uuid.NewString(),
		Fingerprint: fp,
		CreatedAt:   m.now().UTC(),
		page:        page,
	}
	log := m.log.With().Str("session", s.ID).Logger()

	if err := page.SetCookie(ctx, Cookie{
		Name:     site.CookieName,
		Value:    m.cfg.AuthToken,
		Domain:   site.CookieDomain,
		Path:     "/",
		Secure:   true,
		HTTPOnly: true,
	}); err != nil {
		page.Close()
		return nil, fmt.Errorf("inject auth cookie: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigationTimeout)
	resp, err := page.Navigate(navCtx, m.cfg.AuthCheckURL)
	cancel()
	if err != nil {
		page.Close()
		return nil, crawler.NewError(crawler.KindNetwork, m.cfg.AuthCheckURL, 0, err)
	}

	outcome := Classify(resp.Status, resp.URL, resp.HTML)
	switch outcome {
	case OutcomeOK:
		if resp.Status != 0 && (resp.Status < 200 || resp.Status >= 300) {
			page.Close()
			return nil, crawler.NewError(crawler.KindSessionInvalid, resp.URL, resp.Status, errors.New("auth check page not served"))
		}
		m.session = s
		log.Info().
			Str("user_agent", fp.UserAgent).
			Str("timezone", fp.Timezone).
			Str("locale", fp.Locale).
			Int("viewport_w", fp.Width).
			Int("viewport_h", fp.Height).
			Msg("session established")
		return s, nil
	case OutcomeVerificationRequired, OutcomeCaptchaRequired:
		m.session = s
		m.challenge = &VerificationChallenge{
			Kind:       outcome.Kind(),
			URL:        resp.URL,
			DetectedAt: m.now().UTC(),
			session:    s,
		}
		log.Warn().Str("outcome", string(outcome)).Str("url", resp.URL).Msg("session paused on challenge")
		return nil, crawler.NewError(outcome.Kind(), resp.URL, resp.Status, nil)
	case OutcomeCookieExpired:
		page.Close()
		return nil, crawler.NewError(crawler.KindSessionInvalid, resp.URL, resp.Status, errors.New("auth cookie rejected"))
	default:
		page.Close()
		return nil, crawler.NewError(outcome.Kind(), resp.URL, resp.Status, nil)
	}
}

func (m *Manager) invalidateLocked() error {
	if m.challenge != nil && m.challenge.session == m.session {
		m.challenge = nil
	}
	if m.session == nil {
		return nil
	}
	s := m.session
	m.session = nil
	m.log.Info().Str("session", s.ID).Int("navigations", s.navigations).Msg("session closed")
	return s.page.Close()
}

func (m *Manager) loadLocked(ctx context.Context, s *Session, url string) (NavigationResult, error) {
	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigationTimeout)
	defer cancel()

	resp, err := s.page.Navigate(navCtx, url)
	if err != nil {
		return NavigationResult{}, crawler.NewError(crawler.KindNetwork, url, 0, err)
	}

	outcome := Classify(resp.Status, resp.URL, resp.HTML)
	result := NavigationResult{
		Status:  resp.Status,
		URL:     resp.URL,
		Content: resp.HTML,
		Outcome: outcome,
	}
	if outcome == OutcomeOK {
		return result, nil
	}

	log := m.log.With().Str("session", s.ID).Str("outcome", string(outcome)).Str("url", url).Int("status", resp.Status).Logger()
	switch outcome {
	case OutcomeVerificationRequired, OutcomeCaptchaRequired:
		m.challenge = &VerificationChallenge{
			Kind:       outcome.Kind(),
			URL:        resp.URL,
			DetectedAt: m.now().UTC(),
			session:    s,
		}
		log.Warn().Msg("navigation paused on challenge")
	case OutcomeBlocked, OutcomeCookieExpired:
		log.Error().Msg("navigation hit a terminal page")
		m.invalidateLocked()
	default:
		log.Warn().Msg("navigation failed")
	}
	return result, crawler.NewError(outcome.Kind(), url, resp.Status, nil)
}

func (m *Manager) detourLocked(ctx context.Context, s *Session) (NavigationResult, error) {
	target := m.cfg.DetourURLs[m.rng.Intn(len(m.cfg.DetourURLs))]
	m.log.Debug().Str("session", s.ID).Str("url", target).Int("navigations", s.navigations).Msg("detour")
	result, err := m.loadLocked(ctx, s, target)
	if err != nil {
		if crawler.KindOf(err) == crawler.KindNetwork {
			m.log.Warn().Err(err).Msg("detour failed, continuing")
			return result, nil
		}
		return result, err
	}
	pause := common.RandomBetween(m.rng, m.cfg.DetourPauseMin, m.cfg.DetourPauseMax)
	if err := m.sleep(ctx, pause); err != nil {
		return result, err
	}
	return result, nil
}

func (m *Manager) typeLocked(ctx context.Context, page Page, selector, text string) error {
	for _, r := range text {
		if err := page.SendKeys(ctx, selector, string(r)); err != nil {
			return err
		}
		delay := common.RandomBetween(m.rng, m.cfg.TypingDelayMin, m.cfg.TypingDelayMax)
		if err := m.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}
