// Package orchestrator drives a harvesting run: one search unit at a time through admission,
// navigation, extraction, filtering and hand-off, halting when the account needs an operator.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"candidate-harvester/common"
	"candidate-harvester/internal/browser"
	"candidate-harvester/internal/crawler"
	"candidate-harvester/internal/models"
	"candidate-harvester/internal/ratelimit"
	"candidate-harvester/internal/site"
	"candidate-harvester/internal/store"
)

var (
	// ErrNotPaused is returned by SubmitVerificationCode when no run is waiting on a challenge.
	ErrNotPaused = errors.New("run is not paused on verification")
	// ErrRunning is returned when Run is called while another run is in progress.
	ErrRunning = errors.New("run already in progress")
)

// Ledger is the admission and failure accounting the orchestrator needs from ratelimit.Ledger.
type Ledger interface {
	CheckAdmission(ctx context.Context) (ratelimit.Admission, error)
	RecordRequest(ctx context.Context) error
	RecordSuccess(ctx context.Context) error
	RecordFailure(ctx context.Context, kind models.FailureKind) (time.Duration, error)
}

// Sessions is the subset of browser.Manager used by a run.
type Sessions interface {
	GetSession(ctx context.Context) (*browser.Session, error)
	Navigate(ctx context.Context, s *browser.Session, url string) (browser.NavigationResult, error)
	InvalidateSession() error
	PendingChallenge() (browser.VerificationChallenge, bool)
	SubmitVerificationCode(ctx context.Context, code string) (browser.VerificationResult, error)
}

// Extractor turns a rendered page into candidates.
type Extractor interface {
	Extract(page models.RenderedPage) []models.Candidate
}

// Selector keeps the candidates relevant to a unit.
type Selector interface {
	Select(candidates []models.Candidate, targetCompany, targetRole string) []models.Candidate
}

// Observer receives run events for metrics.
type Observer interface {
	ObserveNavigation(outcome string, d time.Duration)
	ObserveUnit(state models.UnitState)
	ObserveCandidates(extracted, selected, handedOff int)
	ObserveRunState(state models.RunState)
}

type nopObserver struct{}

func (nopObserver) ObserveNavigation(string, time.Duration) {}
func (nopObserver) ObserveUnit(models.UnitState)            {}
func (nopObserver) ObserveCandidates(int, int, int)         {}
func (nopObserver) ObserveRunState(models.RunState)         {}

// Deps are the collaborators of a run. Failures and Status are optional.
type Deps struct {
	Ledger      Ledger
	Sessions    Sessions
	Extractor   Extractor
	Filter      Selector
	Units       crawler.UnitSource
	Sink        crawler.CandidateSink
	Checkpoints crawler.Checkpointer
	Failures    crawler.FailureSink
	Status      store.StatusStore
}

// Config holds pacing and retry parameters.
type Config struct {
	UnitDelayMin        time.Duration `yaml:"unit_delay_min"`
	UnitDelayMax        time.Duration `yaml:"unit_delay_max"`
	CompanyDelayMin     time.Duration `yaml:"company_delay_min"`
	CompanyDelayMax     time.Duration `yaml:"company_delay_max"`
	MaxRateLimitRetries int           `yaml:"max_rate_limit_retries"`
}

// DefaultConfig returns the production pacing.
func DefaultConfig() Config {
	return Config{
		UnitDelayMin:        20 * time.Second,
		UnitDelayMax:        60 * time.Second,
		CompanyDelayMin:     2 * time.Minute,
		CompanyDelayMax:     5 * time.Minute,
		MaxRateLimitRetries: 3,
	}
}

// UnitResult is the outcome of one unit within a run.
type UnitResult struct {
	Unit      models.SearchUnit `json:"unit"`
	State     models.UnitState  `json:"state"`
	Extracted int               `json:"extracted"`
	Selected  int               `json:"selected"`
	HandedOff int               `json:"handed_off"`
	Error     string            `json:"error,omitempty"`

	rateLimited int
}

// Report summarizes a Run call.
type Report struct {
	Status models.RunStatus `json:"status"`
	Units  []UnitResult     `json:"units"`
}

// Orchestrator runs search units sequentially. Run must not be called concurrently; Status and
// SubmitVerificationCode are safe to call from other goroutines.
type Orchestrator struct {
	deps     Deps
	cfg      Config
	log      zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	rng      *rand.Rand
	now      func() time.Time
	newRunID func() string
	observer Observer

	plan         []*UnitResult
	checkpointed map[string]bool

	mu      sync.Mutex
	running bool
	status  models.RunStatus
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.log = logger
	}
}

// WithSleep replaces the pacing and backoff wait (tests).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		o.sleep = sleep
	}
}

// WithRand fixes the pacing randomness.
func WithRand(rng *rand.Rand) Option {
	return func(o *Orchestrator) {
		o.rng = rng
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithRunID overrides run ID generation.
func WithRunID(newID func() string) Option {
	return func(o *Orchestrator) {
		o.newRunID = newID
	}
}

// WithObserver registers a metrics observer.
func WithObserver(observer Observer) Option {
	return func(o *Orchestrator) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// New creates an orchestrator in the idle state.
func New(deps Deps, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MaxRateLimitRetries < 0 {
		cfg.MaxRateLimitRetries = 0
	}
	o := &Orchestrator{
		deps:     deps,
		cfg:      cfg,
		log:      zerolog.Nop(),
		sleep:    common.Sleep,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
		newRunID: uuid.NewString,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.status = models.RunStatus{State: models.RunIdle, UpdatedAt: o.now().UTC()}
	return o
}

// Status returns a snapshot of the current run status.
func (o *Orchestrator) Status() models.RunStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.status
	if s.CurrentUnit != nil {
		u := *s.CurrentUnit
		s.CurrentUnit = &u
	}
	return s
}

// Run processes every pending unit of the current plan, building a new plan when the previous one
// finished. It returns when the plan completes or the run halts; the returned error carries the
// halt classification.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return Report{}, ErrRunning
	}
	o.running = true
	state := o.status.State
	reason := o.status.Reason
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	switch state {
	case models.RunRestricted:
		return o.report(), crawler.NewError(crawler.KindAccountRestricted, "", 0, errors.New(reason))
	case models.RunSessionInvalid:
		return o.report(), crawler.NewError(crawler.KindSessionInvalid, "", 0, errors.New(reason))
	}
	if ch, ok := o.deps.Sessions.PendingChallenge(); ok {
		o.setState(ctx, models.RunPaused, string(ch.Kind), nil)
		return o.report(), crawler.NewError(ch.Kind, ch.URL, 0, errors.New("awaiting operator"))
	}

	if o.resumable() {
		for _, r := range o.plan {
			if r.State == models.UnitHalted {
				r.State = models.UnitPending
			}
		}
		o.log.Info().Str("run_id", o.runID()).Msg("resuming run")
	} else if err := o.buildPlan(ctx); err != nil {
		o.setState(ctx, models.RunFailed, err.Error(), nil)
		return o.report(), err
	}

	o.setState(ctx, models.RunRunning, "", nil)
	return o.execute(ctx)
}

// SubmitVerificationCode forwards an operator-supplied code to the paused session. On success the
// run returns to idle and the next Run resumes from the halted unit.
func (o *Orchestrator) SubmitVerificationCode(ctx context.Context, code string) (browser.VerificationResult, error) {
	o.mu.Lock()
	state := o.status.State
	o.mu.Unlock()

	if _, ok := o.deps.Sessions.PendingChallenge(); state != models.RunPaused || !ok {
		return browser.VerificationResult{Error: ErrNotPaused.Error()}, ErrNotPaused
	}

	result, err := o.deps.Sessions.SubmitVerificationCode(ctx, code)
	switch {
	case err != nil && crawler.KindOf(err) == crawler.KindAccountRestricted:
		o.setState(ctx, models.RunRestricted, err.Error(), nil)
	case err != nil && crawler.KindOf(err) != crawler.KindUnknown:
		o.setState(ctx, models.RunFailed, err.Error(), nil)
	case result.Success:
		o.setState(ctx, models.RunIdle, "verification accepted", nil)
	case result.Error != "":
		o.setState(ctx, models.RunPaused, result.Error, nil)
	}
	return result, err
}

func (o *Orchestrator) resumable() bool {
	for _, r := range o.plan {
		if r.State == models.UnitPending || r.State == models.UnitHalted {
			return true
		}
	}
	return false
}

// buildPlan loads the units, groups them by company in first-seen order and marks duplicates and
// recently searched companies as skipped.
func (o *Orchestrator) buildPlan(ctx context.Context) error {
	units, err := o.deps.Units.Units(ctx)
	if err != nil {
		return fmt.Errorf("load search units: %w", err)
	}

	var order []string
	groups := make(map[string][]models.SearchUnit)
	for _, u := range units {
		key := u.CompanyKey()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], u)
	}

	runID := o.newRunID()
	log := o.log.With().Str("run_id", runID).Logger()
	plan := make([]*UnitResult, 0, len(units))
	seen := make(map[string]bool, len(units))
	for _, key := range order {
		search, err := o.deps.Units.ShouldSearch(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("company_id", key).Msg("staleness check failed, searching anyway")
			search = true
		}
		for _, u := range groups[key] {
			r := &UnitResult{Unit: u, State: models.UnitPending}
			switch {
			case seen[u.Key()]:
				r.State = models.UnitSkipped
				r.Error = "duplicate unit"
			case !search:
				r.State = models.UnitSkipped
				r.Error = "recently searched"
			}
			seen[u.Key()] = true
			plan = append(plan, r)
		}
	}

	o.plan = plan
	o.checkpointed = make(map[string]bool)
	o.mu.Lock()
	o.status = models.RunStatus{RunID: runID, State: models.RunIdle, StartedAt: o.now().UTC()}
	o.mu.Unlock()
	o.recount()

	pending := 0
	for _, r := range plan {
		if r.State == models.UnitPending {
			pending++
		}
	}
	log.Info().Int("units", len(plan)).Int("pending", pending).Int("companies", len(order)).Msg("run planned")
	return nil
}

func (o *Orchestrator) execute(ctx context.Context) (Report, error) {
	lastCompany := ""
	for _, r := range o.plan {
		if r.State != models.UnitPending {
			continue
		}
		if err := ctx.Err(); err != nil {
			o.setState(ctx, models.RunInterrupted, "stop requested", nil)
			return o.report(), err
		}
		if lastCompany != "" {
			if err := o.pace(ctx, lastCompany != r.Unit.CompanyKey()); err != nil {
				o.setState(ctx, models.RunInterrupted, "stop requested", nil)
				return o.report(), err
			}
		}
		lastCompany = r.Unit.CompanyKey()

		halt, err := o.runUnit(ctx, r)
		o.observer.ObserveUnit(r.State)
		o.checkpoint(ctx, r.Unit.CompanyKey())
		if halt {
			return o.report(), err
		}
	}

	o.setState(ctx, models.RunCompleted, "", nil)
	o.log.Info().Str("run_id", o.runID()).Msg("run completed")
	return o.report(), nil
}

func (o *Orchestrator) pace(ctx context.Context, newCompany bool) error {
	d := common.RandomBetween(o.rng, o.cfg.UnitDelayMin, o.cfg.UnitDelayMax)
	if newCompany {
		d = common.RandomBetween(o.rng, o.cfg.CompanyDelayMin, o.cfg.CompanyDelayMax)
	}
	o.log.Debug().Dur("delay", d).Bool("new_company", newCompany).Msg("pacing")
	return o.sleep(ctx, d)
}

// runUnit searches one unit. halt reports whether the run must stop; err explains the halt.
func (o *Orchestrator) runUnit(ctx context.Context, r *UnitResult) (halt bool, err error) {
	unit := r.Unit
	log := o.log.With().Str("run_id", o.runID()).Str("company", unit.Company).Str("role", unit.Role).Logger()
	// Bookkeeping for an issued request must land even when a stop arrives mid-unit.
	opCtx := context.WithoutCancel(ctx)
	searchURL := site.SearchURL(unit.Company, unit.Role)

	r.State = models.UnitInFlight
	o.setState(ctx, models.RunRunning, "", &unit)

	for {
		if err := o.admit(ctx, log); err != nil {
			r.State = models.UnitPending
			switch {
			case crawler.KindOf(err) == crawler.KindQuotaExhausted:
				log.Warn().Err(err).Msg("daily quota exhausted")
				o.setState(ctx, models.RunQuotaExhausted, err.Error(), nil)
			case ctx.Err() != nil:
				o.setState(ctx, models.RunInterrupted, "stop requested", nil)
			default:
				o.setState(ctx, models.RunFailed, err.Error(), nil)
			}
			return true, err
		}

		result, issued, err := o.navigate(opCtx, searchURL)
		if issued {
			if rerr := o.deps.Ledger.RecordRequest(opCtx); rerr != nil {
				r.State = models.UnitPending
				rerr = fmt.Errorf("record request: %w", rerr)
				o.setState(ctx, models.RunFailed, rerr.Error(), nil)
				return true, rerr
			}
		}
		if err == nil {
			o.complete(opCtx, r, result, log)
			return false, nil
		}

		kind := crawler.KindOf(err)
		log := log.With().Str("kind", string(kind)).Logger()
		switch kind {
		case crawler.KindRateLimited:
			r.rateLimited++
			window, ferr := o.deps.Ledger.RecordFailure(opCtx, models.FailureRateLimited)
			if ferr != nil {
				log.Error().Err(ferr).Msg("failed to record rate limit")
			}
			if r.rateLimited > o.cfg.MaxRateLimitRetries {
				o.abandon(opCtx, r, searchURL, err, log)
				return false, nil
			}
			log.Warn().Int("attempt", r.rateLimited).Dur("backoff", window).Msg("rate limited, retrying after backoff")

		case crawler.KindAccountRestricted:
			if _, ferr := o.deps.Ledger.RecordFailure(opCtx, models.FailureForbidden); ferr != nil {
				log.Error().Err(ferr).Msg("failed to record forbidden")
			}
			if ierr := o.deps.Sessions.InvalidateSession(); ierr != nil {
				log.Warn().Err(ierr).Msg("failed to close session")
			}
			r.State = models.UnitHalted
			r.Error = err.Error()
			log.Error().Err(err).Msg("account restricted, halting")
			o.setState(ctx, models.RunRestricted, err.Error(), nil)
			return true, err

		case crawler.KindVerificationRequired, crawler.KindCaptchaRequired:
			r.State = models.UnitHalted
			r.Error = err.Error()
			log.Warn().Err(err).Msg("challenge detected, pausing")
			o.setState(ctx, models.RunPaused, string(kind), &unit)
			return true, err

		case crawler.KindNetwork:
			if _, ferr := o.deps.Ledger.RecordFailure(opCtx, models.FailureNetwork); ferr != nil {
				log.Error().Err(ferr).Msg("failed to record network failure")
			}
			r.State = models.UnitPending
			log.Warn().Err(err).Msg("network failure")
			o.setState(ctx, models.RunFailed, err.Error(), nil)
			return true, err

		case crawler.KindSessionInvalid:
			r.State = models.UnitPending
			log.Error().Err(err).Msg("auth credential rejected; a fresh credential is required")
			o.setState(ctx, models.RunSessionInvalid, err.Error(), nil)
			return true, err

		case crawler.KindSessionExpired:
			if ierr := o.deps.Sessions.InvalidateSession(); ierr != nil {
				log.Warn().Err(ierr).Msg("failed to close session")
			}
			r.State = models.UnitPending
			log.Warn().Err(err).Msg("session expired")
			o.setState(ctx, models.RunFailed, err.Error(), nil)
			return true, err

		default:
			r.State = models.UnitPending
			log.Error().Err(err).Msg("unit failed")
			o.setState(ctx, models.RunFailed, err.Error(), nil)
			return true, err
		}
	}
}

// admit blocks through backoff windows until a request is allowed. A daily limit is returned as a
// quota error carrying the time until the next quota day.
func (o *Orchestrator) admit(ctx context.Context, log zerolog.Logger) error {
	for {
		adm, err := o.deps.Ledger.CheckAdmission(ctx)
		if err != nil {
			return fmt.Errorf("check admission: %w", err)
		}
		if adm.Allowed {
			return nil
		}
		if adm.Reason == ratelimit.ReasonDailyLimit {
			qerr := crawler.NewError(crawler.KindQuotaExhausted, "", 0, nil)
			qerr.RetryAfter = adm.RetryAfter
			return qerr
		}
		log.Info().Str("reason", string(adm.Reason)).Dur("retry_after", adm.RetryAfter).Msg("waiting for admission")
		if err := o.sleep(ctx, adm.RetryAfter); err != nil {
			return err
		}
	}
}

// navigate opens or reuses the session and loads url. issued reports whether a request for url
// reached the site and must be counted against the quota.
func (o *Orchestrator) navigate(ctx context.Context, url string) (result browser.NavigationResult, issued bool, err error) {
	s, err := o.deps.Sessions.GetSession(ctx)
	if err != nil {
		return browser.NavigationResult{}, false, err
	}
	start := o.now()
	result, err = o.deps.Sessions.Navigate(ctx, s, url)
	if errors.Is(err, browser.ErrStaleSession) {
		return result, false, err
	}
	outcome := string(result.Outcome)
	if outcome == "" {
		outcome = string(crawler.KindOf(err))
	}
	o.observer.ObserveNavigation(outcome, o.now().Sub(start))
	return result, true, err
}

func (o *Orchestrator) complete(ctx context.Context, r *UnitResult, result browser.NavigationResult, log zerolog.Logger) {
	if err := o.deps.Ledger.RecordSuccess(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to reset failure streak")
	}

	candidates := o.deps.Extractor.Extract(models.RenderedPage{URL: result.URL, HTML: result.Content})
	selected := o.deps.Filter.Select(candidates, r.Unit.Company, r.Unit.Role)
	handed := o.handOff(ctx, r.Unit, selected, log)

	r.State = models.UnitCompleted
	r.Extracted = len(candidates)
	r.Selected = len(selected)
	r.HandedOff = handed
	o.observer.ObserveCandidates(len(candidates), len(selected), handed)
	log.Info().
		Int("extracted", len(candidates)).
		Int("selected", len(selected)).
		Int("handed_off", handed).
		Msg("unit completed")
}

func (o *Orchestrator) handOff(ctx context.Context, unit models.SearchUnit, candidates []models.Candidate, log zerolog.Logger) int {
	hc := models.HandoffContext{RunID: o.runID(), Unit: unit}
	handed := 0
	for _, c := range candidates {
		exists, err := o.deps.Sink.Exists(ctx, c.ProfileURL)
		if err != nil {
			log.Warn().Err(err).Str("profile_url", c.ProfileURL).Msg("duplicate check failed")
			continue
		}
		if exists {
			log.Debug().Str("profile_url", c.ProfileURL).Msg("candidate already known")
			continue
		}
		if err := o.deps.Sink.Create(ctx, c, hc); err != nil {
			log.Warn().Err(err).Str("profile_url", c.ProfileURL).Msg("hand-off failed")
			continue
		}
		handed++
	}
	return handed
}

func (o *Orchestrator) abandon(ctx context.Context, r *UnitResult, url string, cause error, log zerolog.Logger) {
	r.State = models.UnitFailed
	r.Error = cause.Error()
	log.Error().Err(cause).Int("attempts", r.rateLimited).Msg("unit abandoned after rate limit retries")
	if o.deps.Failures == nil {
		return
	}
	failure := models.UnitFailure{
		RunID:    o.runID(),
		Unit:     r.Unit,
		URL:      url,
		Kind:     string(crawler.KindOf(cause)),
		Error:    cause.Error(),
		FailedAt: o.now().UTC(),
	}
	if err := o.deps.Failures.PublishFailure(ctx, failure); err != nil {
		log.Warn().Err(err).Msg("failed to publish unit failure")
	}
}

// checkpoint marks a company scraped once all of its units have finished, at least one completed
// and none failed.
func (o *Orchestrator) checkpoint(ctx context.Context, companyKey string) {
	if o.checkpointed[companyKey] {
		return
	}
	completed := false
	for _, r := range o.plan {
		if r.Unit.CompanyKey() != companyKey {
			continue
		}
		switch r.State {
		case models.UnitCompleted:
			completed = true
		case models.UnitSkipped:
		default:
			return
		}
	}
	if !completed {
		return
	}
	o.checkpointed[companyKey] = true
	if err := o.deps.Checkpoints.MarkScraped(context.WithoutCancel(ctx), companyKey, o.now().UTC()); err != nil {
		o.log.Warn().Err(err).Str("company_id", companyKey).Msg("failed to checkpoint company")
		return
	}
	o.log.Info().Str("company_id", companyKey).Msg("company checkpointed")
}

func (o *Orchestrator) runID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status.RunID
}

// recount refreshes the status counters from the plan.
func (o *Orchestrator) recount() {
	var s models.RunStatus
	for _, r := range o.plan {
		switch r.State {
		case models.UnitCompleted:
			s.UnitsDone++
		case models.UnitSkipped:
			s.UnitsSkipped++
		case models.UnitFailed:
			s.UnitsFailed++
		}
		s.Extracted += r.Extracted
		s.Selected += r.Selected
		s.HandedOff += r.HandedOff
	}
	o.mu.Lock()
	o.status.UnitsTotal = len(o.plan)
	o.status.UnitsDone = s.UnitsDone
	o.status.UnitsSkipped = s.UnitsSkipped
	o.status.UnitsFailed = s.UnitsFailed
	o.status.Extracted = s.Extracted
	o.status.Selected = s.Selected
	o.status.HandedOff = s.HandedOff
	o.mu.Unlock()
}

// setState records a transition and publishes it to the status store.
func (o *Orchestrator) setState(ctx context.Context, state models.RunState, reason string, unit *models.SearchUnit) {
	o.recount()
	o.mu.Lock()
	changed := o.status.State != state
	o.status.State = state
	o.status.Reason = reason
	o.status.CurrentUnit = unit
	o.status.UpdatedAt = o.now().UTC()
	snapshot := o.status
	o.mu.Unlock()

	if changed {
		o.observer.ObserveRunState(state)
		o.log.Info().Str("run_id", snapshot.RunID).Str("state", string(state)).Str("reason", reason).Msg("run state changed")
	}
	if o.deps.Status == nil || snapshot.RunID == "" {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.deps.Status.SetStatus(pubCtx, snapshot); err != nil {
		o.log.Warn().Err(err).Msg("failed to publish run status")
	}
}

func (o *Orchestrator) report() Report {
	units := make([]UnitResult, 0, len(o.plan))
	for _, r := range o.plan {
		units = append(units, *r)
	}
	return Report{Status: o.Status(), Units: units}
}
