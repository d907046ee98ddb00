package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"candidate-harvester/internal/models"
)

// Reason explains a denied admission.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonBackoff    Reason = "backoff"
	ReasonDailyLimit Reason = "daily_limit"
)

const dateLayout = "2006-01-02"

// Config holds quota and backoff parameters.
type Config struct {
	DailyLimit        int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	// MaxBackoff caps a single backoff window; zero means uncapped.
	MaxBackoff time.Duration
}

// DefaultConfig returns conservative defaults for a single identity.
func DefaultConfig() Config {
	return Config{
		DailyLimit:        80,
		BackoffBase:       2 * time.Minute,
		BackoffMultiplier: 2,
		MaxBackoff:        4 * time.Hour,
	}
}

// Admission is the result of an admission check.
type Admission struct {
	Allowed    bool
	Reason     Reason
	RetryAfter time.Duration
}

// Ledger decides whether a request may be issued now. Every mutation is written through to the store,
// and state is reloaded on each call so a restarted process picks up where the previous one stopped.
type Ledger struct {
	store Store
	cfg   Config
	now   func() time.Time
	log   zerolog.Logger
	mu    sync.Mutex
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithLogger sets the ledger logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Ledger) {
		l.log = logger
	}
}

// New creates a ledger over store.
func New(store Store, cfg Config, opts ...Option) *Ledger {
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 1
	}
	l := &Ledger{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAdmission reports whether a request may be issued now.
// An expired backoff window is cleared and persisted as a side effect.
func (l *Ledger) CheckAdmission(ctx context.Context) (Admission, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	state, err := l.load(ctx, now)
	if err != nil {
		return Admission{}, err
	}

	var backoffLeft time.Duration
	if state.BackoffUntil != nil {
		if now.Before(*state.BackoffUntil) {
			backoffLeft = state.BackoffUntil.Sub(now)
		} else {
			state.BackoffUntil = nil
			if err := l.store.Save(ctx, state); err != nil {
				return Admission{}, fmt.Errorf("persist cleared backoff: %w", err)
			}
			l.log.Info().Msg("backoff window elapsed")
		}
	}

	if state.RequestCount >= l.cfg.DailyLimit {
		return Admission{
			Allowed:    false,
			Reason:     ReasonDailyLimit,
			RetryAfter: untilNextDay(now),
		}, nil
	}
	if backoffLeft > 0 {
		return Admission{
			Allowed:    false,
			Reason:     ReasonBackoff,
			RetryAfter: backoffLeft,
		}, nil
	}
	return Admission{Allowed: true}, nil
}

// RecordRequest counts one issued request against today's quota.
func (l *Ledger) RecordRequest(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, err := l.load(ctx, l.now().UTC())
	if err != nil {
		return err
	}
	state.RequestCount++
	if err := l.store.Save(ctx, state); err != nil {
		return fmt.Errorf("persist request count: %w", err)
	}
	l.log.Debug().Int("request_count", state.RequestCount).Int("daily_limit", l.cfg.DailyLimit).Msg("request recorded")
	return nil
}

// RecordSuccess ends any rate-limited or network failure streak. The forbidden counter is kept.
func (l *Ledger) RecordSuccess(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, err := l.load(ctx, l.now().UTC())
	if err != nil {
		return err
	}
	if state.ErrorCounters[models.FailureRateLimited] == 0 && state.ErrorCounters[models.FailureNetwork] == 0 {
		return nil
	}
	state.ErrorCounters[models.FailureRateLimited] = 0
	state.ErrorCounters[models.FailureNetwork] = 0
	if err := l.store.Save(ctx, state); err != nil {
		return fmt.Errorf("persist streak reset: %w", err)
	}
	return nil
}

// RecordFailure increments the consecutive counter for kind. Rate-limited failures also open a
// backoff window of base*multiplier^(n-1); the window length is returned (zero for other kinds).
func (l *Ledger) RecordFailure(ctx context.Context, kind models.FailureKind) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	state, err := l.load(ctx, now)
	if err != nil {
		return 0, err
	}
	state.ErrorCounters[kind]++
	count := state.ErrorCounters[kind]

	var window time.Duration
	if kind == models.FailureRateLimited {
		window = l.backoffFor(count)
		until := now.Add(window)
		if state.BackoffUntil == nil || until.After(*state.BackoffUntil) {
			state.BackoffUntil = &until
		}
	}

	if err := l.store.Save(ctx, state); err != nil {
		return 0, fmt.Errorf("persist failure: %w", err)
	}
	l.log.Warn().
		Str("kind", string(kind)).
		Int("consecutive", count).
		Dur("backoff", window).
		Msg("failure recorded")
	return window, nil
}

// State returns the current persisted state after rollover is applied.
func (l *Ledger) State(ctx context.Context) (models.LedgerState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx, l.now().UTC())
}

// load reads the store and applies the daily rollover, persisting it when it happens.
func (l *Ledger) load(ctx context.Context, now time.Time) (models.LedgerState, error) {
	today := now.Format(dateLayout)
	state, ok, err := l.store.Load(ctx)
	if err != nil {
		return models.LedgerState{}, fmt.Errorf("load ledger: %w", err)
	}
	if !ok {
		return models.NewLedgerState(today), nil
	}
	if state.ErrorCounters == nil {
		state.ErrorCounters = models.NewLedgerState(today).ErrorCounters
	}
	if state.Date != today {
		l.log.Info().Str("from", state.Date).Str("to", today).Int("request_count", state.RequestCount).Msg("quota day rolled over")
		rolled := models.NewLedgerState(today)
		rolled.BackoffUntil = state.BackoffUntil
		if err := l.store.Save(ctx, rolled); err != nil {
			return models.LedgerState{}, fmt.Errorf("persist rollover: %w", err)
		}
		return rolled, nil
	}
	return state, nil
}

func (l *Ledger) backoffFor(count int) time.Duration {
	if count < 1 {
		count = 1
	}
	factor := math.Pow(l.cfg.BackoffMultiplier, float64(count-1))
	window := time.Duration(float64(l.cfg.BackoffBase) * factor)
	if window < 0 {
		window = time.Duration(math.MaxInt64)
	}
	if l.cfg.MaxBackoff > 0 && window > l.cfg.MaxBackoff {
		window = l.cfg.MaxBackoff
	}
	return window
}

func untilNextDay(now time.Time) time.Duration {
	y, m, d := now.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
	return next.Sub(now)
}
