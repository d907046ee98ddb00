package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/rs/zerolog"

	"candidate-harvester/internal/browser"
	"candidate-harvester/internal/browser/browsertest"
	"candidate-harvester/internal/crawler"
	"candidate-harvester/internal/extract"
	"candidate-harvester/internal/filter"
	"candidate-harvester/internal/models"
	"candidate-harvester/internal/orchestrator"
	"candidate-harvester/internal/ratelimit"
	"candidate-harvester/internal/site"
	"candidate-harvester/mocks"
)

var (
	acmeMarketing = models.SearchUnit{CompanyID: "acme", Company: "Acme Corp", Role: "Marketing Manager"}
	acmeSales     = models.SearchUnit{CompanyID: "acme", Company: "Acme Corp", Role: "Sales Director"}
	globex        = models.SearchUnit{CompanyID: "globex", Company: "Globex", Role: "Marketing Manager"}
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type person struct {
	name, slug, title, company string
}

func resultsPage(t *testing.T, people ...person) string {
	t.Helper()
	graph := make([]map[string]any, 0, len(people))
	for _, p := range people {
		graph = append(graph, map[string]any{
			"@type":    "Person",
			"name":     p.name,
			"url":      "https://www.linkedin.com/in/" + p.slug,
			"jobTitle": p.title,
			"worksFor": map[string]any{"@type": "Organization", "name": p.company},
		})
	}
	raw, err := json.Marshal(map[string]any{"@context": "https://schema.org", "@graph": graph})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return `<html><head><script type="application/ld+json">` + string(raw) + `</script></head><body></body></html>`
}

type harness struct {
	clock       *fakeClock
	driver      *browsertest.Driver
	page        *browsertest.Page
	ledger      *ratelimit.Ledger
	units       *mocks.MockUnitSource
	sink        *mocks.MockCandidateSink
	checkpoints *mocks.MockCheckpointer
	failures    *mocks.MockFailureSink
	status      *mocks.MockStatusStore
	orch        *orchestrator.Orchestrator
}

func newHarness(t *testing.T, dailyLimit int, mutate func(*orchestrator.Config)) *harness {
	t.Helper()

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	h := &harness{
		clock:       &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		page:        browsertest.NewPage(),
		units:       mocks.NewMockUnitSource(ctrl),
		sink:        mocks.NewMockCandidateSink(ctrl),
		checkpoints: mocks.NewMockCheckpointer(ctrl),
		failures:    mocks.NewMockFailureSink(ctrl),
		status:      mocks.NewMockStatusStore(ctrl),
	}
	h.driver = &browsertest.Driver{NewPage: func(n int) *browsertest.Page {
		if n == 0 {
			return h.page
		}
		return nil
	}}

	h.ledger = ratelimit.New(
		ratelimit.NewFileStore(filepath.Join(t.TempDir(), "ledger.json")),
		ratelimit.Config{DailyLimit: dailyLimit, BackoffBase: 2 * time.Minute, BackoffMultiplier: 2},
		ratelimit.WithClock(h.clock.Now),
	)

	bcfg := browser.DefaultConfig()
	bcfg.AuthToken = "token-123"
	bcfg.DetourEvery = 0
	sessions := browser.NewManager(h.driver, bcfg,
		browser.WithRand(rand.New(rand.NewSource(1))),
		browser.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)

	cfg := orchestrator.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	h.status.EXPECT().SetStatus(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	h.orch = orchestrator.New(orchestrator.Deps{
		Ledger:      h.ledger,
		Sessions:    sessions,
		Extractor:   extract.New(),
		Filter:      filter.New(filter.DefaultConfig(), zerolog.Nop()),
		Units:       h.units,
		Sink:        h.sink,
		Checkpoints: h.checkpoints,
		Failures:    h.failures,
		Status:      h.status,
	}, cfg,
		orchestrator.WithSleep(h.clock.Sleep),
		orchestrator.WithClock(h.clock.Now),
		orchestrator.WithRand(rand.New(rand.NewSource(7))),
		orchestrator.WithRunID(func() string { return "run-1" }),
	)
	return h
}

func (h *harness) expectUnits(units ...models.SearchUnit) {
	h.units.EXPECT().Units(gomock.Any()).Return(units, nil).Times(1)
	seen := map[string]bool{}
	for _, u := range units {
		if seen[u.CompanyID] {
			continue
		}
		seen[u.CompanyID] = true
		h.units.EXPECT().ShouldSearch(gomock.Any(), u.CompanyID).Return(true, nil).Times(1)
	}
}

func (h *harness) acceptAllHandoffs() {
	h.sink.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(false, nil).AnyTimes()
	h.sink.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

func searchURL(u models.SearchUnit) string {
	return site.SearchURL(u.Company, u.Role)
}

func TestVerificationHaltThenResume(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10, nil)
	h.expectUnits(acmeMarketing, acmeSales, globex)

	h.page.VerifyCode = "123456"
	h.page.On(searchURL(acmeMarketing),
		browser.Response{Status: 200, HTML: browsertest.VerificationPage},
		browser.Response{Status: 200, HTML: resultsPage(t,
			person{"Ana Ruiz", "ana-ruiz", "Senior Marketing Manager", "Acme Corporation"},
			person{"Bo Chen", "bo-chen", "Software Engineer", "Acme Corp"},
		)},
	)
	h.page.OnHTML(searchURL(globex), resultsPage(t, person{"Cy Dee", "cy-dee", "Marketing Manager", "Globex"}))

	var created []string
	h.sink.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(false, nil).Times(2)
	h.sink.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, c models.Candidate, hc models.HandoffContext) error {
			if hc.RunID != "run-1" {
				t.Errorf("unexpected run id %q", hc.RunID)
			}
			created = append(created, c.ProfileURL+"|"+hc.Unit.Company)
			return nil
		},
	).Times(2)
	h.checkpoints.EXPECT().MarkScraped(gomock.Any(), "acme", gomock.Any()).Return(nil).Times(1)
	h.checkpoints.EXPECT().MarkScraped(gomock.Any(), "globex", gomock.Any()).Return(nil).Times(1)

	report, err := h.orch.Run(ctx)
	if !errors.Is(err, crawler.ErrVerificationRequired) {
		t.Fatalf("expected verification halt, got %v", err)
	}
	if report.Status.State != models.RunPaused || !h.orch.Status().NeedsHuman() {
		t.Fatalf("expected paused run, got %+v", report.Status)
	}
	if report.Units[0].State != models.UnitHalted || report.Units[1].State != models.UnitPending || report.Units[2].State != models.UnitPending {
		t.Fatalf("unexpected unit states: %+v", report.Units)
	}

	visits := len(h.page.Visits)
	if _, err := h.orch.Run(ctx); !errors.Is(err, crawler.ErrVerificationRequired) {
		t.Fatalf("expected run to stay paused, got %v", err)
	}
	if len(h.page.Visits) != visits {
		t.Fatalf("paused run must not navigate, visits=%v", h.page.Visits)
	}

	res, err := h.orch.SubmitVerificationCode(ctx, "000000")
	if err != nil || res.Success {
		t.Fatalf("wrong code should be rejected: %+v %v", res, err)
	}
	if h.orch.Status().State != models.RunPaused {
		t.Fatalf("expected run to remain paused, got %s", h.orch.Status().State)
	}

	res, err = h.orch.SubmitVerificationCode(ctx, "123456")
	if err != nil || !res.Success {
		t.Fatalf("expected code to be accepted: %+v %v", res, err)
	}
	if h.orch.Status().State != models.RunIdle {
		t.Fatalf("expected idle after verification, got %s", h.orch.Status().State)
	}

	report, err = h.orch.Run(ctx)
	if err != nil {
		t.Fatalf("resume run: %v", err)
	}
	if report.Status.State != models.RunCompleted || report.Status.RunID != "run-1" {
		t.Fatalf("unexpected status: %+v", report.Status)
	}
	for _, u := range report.Units {
		if u.State != models.UnitCompleted {
			t.Fatalf("expected every unit completed: %+v", report.Units)
		}
	}
	if report.Status.Extracted != 3 || report.Status.Selected != 2 || report.Status.HandedOff != 2 {
		t.Fatalf("unexpected counters: %+v", report.Status)
	}
	want := []string{"https://www.linkedin.com/in/ana-ruiz|Acme Corp", "https://www.linkedin.com/in/cy-dee|Globex"}
	if strings.Join(created, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected hand-offs: %v", created)
	}
	if h.page.VisitCount(searchURL(acmeMarketing)) != 2 {
		t.Fatalf("halted unit should be searched again, visits=%v", h.page.Visits)
	}
	if len(h.driver.Pages) != 1 {
		t.Fatalf("verified session should be reused, opened %d pages", len(h.driver.Pages))
	}

	state, err := h.ledger.State(ctx)
	if err != nil {
		t.Fatalf("ledger state: %v", err)
	}
	if state.RequestCount != 4 {
		t.Fatalf("expected 4 recorded requests, got %d", state.RequestCount)
	}

	sleeps := h.clock.Sleeps()
	if len(sleeps) != 2 {
		t.Fatalf("expected a unit delay and a company delay, got %v", sleeps)
	}
	if sleeps[0] < 20*time.Second || sleeps[0] > 60*time.Second {
		t.Fatalf("unit delay out of range: %v", sleeps[0])
	}
	if sleeps[1] < 2*time.Minute || sleeps[1] > 5*time.Minute {
		t.Fatalf("company delay out of range: %v", sleeps[1])
	}
}

func TestRateLimitRetriesThenAbandonsUnit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10, func(cfg *orchestrator.Config) {
		cfg.MaxRateLimitRetries = 1
	})
	h.expectUnits(acmeMarketing, globex)
	h.acceptAllHandoffs()

	h.page.On(searchURL(acmeMarketing), browser.Response{Status: 429})
	h.page.OnHTML(searchURL(globex), resultsPage(t, person{"Cy Dee", "cy-dee", "Marketing Manager", "Globex"}))

	var published models.UnitFailure
	h.failures.EXPECT().PublishFailure(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, f models.UnitFailure) error {
			published = f
			return nil
		},
	).Times(1)
	h.checkpoints.EXPECT().MarkScraped(gomock.Any(), "globex", gomock.Any()).Return(nil).Times(1)

	report, err := h.orch.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Units[0].State != models.UnitFailed || report.Units[1].State != models.UnitCompleted {
		t.Fatalf("unexpected unit states: %+v", report.Units)
	}
	if report.Status.State != models.RunCompleted || report.Status.UnitsFailed != 1 {
		t.Fatalf("unexpected status: %+v", report.Status)
	}
	if published.Unit != acmeMarketing || published.Kind != string(crawler.KindRateLimited) || published.URL != searchURL(acmeMarketing) || published.RunID != "run-1" {
		t.Fatalf("unexpected failure message: %+v", published)
	}
	if h.page.VisitCount(searchURL(acmeMarketing)) != 2 {
		t.Fatalf("expected one retry, visits=%v", h.page.Visits)
	}

	sleeps := h.clock.Sleeps()
	if len(sleeps) == 0 || sleeps[0] != 2*time.Minute {
		t.Fatalf("expected the first backoff window to be waited out, got %v", sleeps)
	}

	state, err := h.ledger.State(ctx)
	if err != nil {
		t.Fatalf("ledger state: %v", err)
	}
	if state.RequestCount != 3 {
		t.Fatalf("expected 3 recorded requests, got %d", state.RequestCount)
	}
	if state.ErrorCounters[models.FailureRateLimited] != 0 {
		t.Fatalf("successful request should end the rate limit streak: %+v", state.ErrorCounters)
	}
}

func TestDailyLimitHaltsWithQuotaExhausted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, nil)
	h.expectUnits(acmeMarketing, globex)
	h.acceptAllHandoffs()
	h.page.OnHTML(searchURL(acmeMarketing), resultsPage(t, person{"Ana Ruiz", "ana-ruiz", "Marketing Manager", "Acme"}))
	h.checkpoints.EXPECT().MarkScraped(gomock.Any(), "acme", gomock.Any()).Return(nil).Times(1)

	report, err := h.orch.Run(ctx)
	if !errors.Is(err, crawler.ErrQuotaExhausted) {
		t.Fatalf("expected quota exhausted, got %v", err)
	}
	var ce *crawler.Error
	if !errors.As(err, &ce) || ce.RetryAfter <= 0 {
		t.Fatalf("expected retry-after on quota error: %v", err)
	}
	if report.Status.State != models.RunQuotaExhausted {
		t.Fatalf("unexpected state: %s", report.Status.State)
	}
	if report.Units[0].State != models.UnitCompleted || report.Units[1].State != models.UnitPending {
		t.Fatalf("unexpected unit states: %+v", report.Units)
	}
	if h.page.VisitCount(searchURL(globex)) != 0 {
		t.Fatalf("no request may be issued past the quota")
	}
}

func TestAccountRestrictionHaltsForGood(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10, nil)
	h.expectUnits(acmeMarketing, globex)
	h.page.On(searchURL(acmeMarketing), browser.Response{Status: 999})

	report, err := h.orch.Run(ctx)
	if !errors.Is(err, crawler.ErrAccountRestricted) {
		t.Fatalf("expected restriction, got %v", err)
	}
	if report.Status.State != models.RunRestricted || report.Units[0].State != models.UnitHalted {
		t.Fatalf("unexpected report: %+v", report)
	}
	if !h.page.Closed {
		t.Fatalf("restricted session should be closed")
	}

	state, err := h.ledger.State(ctx)
	if err != nil {
		t.Fatalf("ledger state: %v", err)
	}
	if state.ErrorCounters[models.FailureForbidden] != 1 || state.RequestCount != 1 {
		t.Fatalf("unexpected ledger state: %+v", state)
	}

	if _, err := h.orch.Run(ctx); !errors.Is(err, crawler.ErrAccountRestricted) {
		t.Fatalf("restricted run must not restart, got %v", err)
	}
	if len(h.driver.Pages) != 1 {
		t.Fatalf("no new session may be opened after restriction")
	}
}

func TestRejectedCredentialStopsWithoutRetry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10, nil)
	h.expectUnits(acmeMarketing, globex)
	h.page.On(site.AuthCheckURL, browser.Response{
		Status: 200,
		URL:    "https://www.linkedin.com/login",
		HTML:   "<form></form>",
	})

	report, err := h.orch.Run(ctx)
	if !errors.Is(err, crawler.ErrSessionInvalid) {
		t.Fatalf("expected session invalid, got %v", err)
	}
	if report.Status.State != models.RunSessionInvalid || !report.Status.NeedsHuman() {
		t.Fatalf("expected an actionable session_invalid status, got %+v", report.Status)
	}
	if !strings.Contains(report.Status.Reason, "auth cookie rejected") {
		t.Fatalf("expected the rejection in the reason, got %q", report.Status.Reason)
	}
	if report.Units[0].State != models.UnitPending || report.Units[1].State != models.UnitPending {
		t.Fatalf("units must stay pending for a fresh credential: %+v", report.Units)
	}
	if h.page.VisitCount(searchURL(acmeMarketing)) != 0 {
		t.Fatalf("no search may be issued with a rejected credential")
	}

	state, err := h.ledger.State(ctx)
	if err != nil {
		t.Fatalf("ledger state: %v", err)
	}
	if state.RequestCount != 0 {
		t.Fatalf("the auth check must not count against the quota: %+v", state)
	}

	if _, err := h.orch.Run(ctx); !errors.Is(err, crawler.ErrSessionInvalid) {
		t.Fatalf("a rejected credential must not be retried, got %v", err)
	}
	if len(h.driver.Pages) != 1 {
		t.Fatalf("expected no new browser after rejection, got %d pages", len(h.driver.Pages))
	}
}

func TestNetworkFailureLeavesUnitPendingForNextRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10, nil)
	h.expectUnits(acmeMarketing)
	h.acceptAllHandoffs()
	h.page.FailOnce(searchURL(acmeMarketing), errors.New("connection reset by peer"))
	h.checkpoints.EXPECT().MarkScraped(gomock.Any(), "acme", gomock.Any()).Return(nil).Times(1)

	report, err := h.orch.Run(ctx)
	if !errors.Is(err, crawler.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if report.Status.State != models.RunFailed || report.Units[0].State != models.UnitPending {
		t.Fatalf("unexpected report: %+v", report)
	}
	state, _ := h.ledger.State(ctx)
	if state.ErrorCounters[models.FailureNetwork] != 1 {
		t.Fatalf("expected network failure recorded: %+v", state.ErrorCounters)
	}

	report, err = h.orch.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.Units[0].State != models.UnitCompleted || report.Status.RunID != "run-1" {
		t.Fatalf("expected the pending unit to complete in the same run: %+v", report)
	}
	state, _ = h.ledger.State(ctx)
	if state.ErrorCounters[models.FailureNetwork] != 0 || state.RequestCount != 2 {
		t.Fatalf("unexpected ledger state: %+v", state)
	}
}

func TestPlanSkipsDuplicatesAndFreshCompanies(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10, nil)
	initech := models.SearchUnit{CompanyID: "initech", Company: "Initech", Role: "Marketing Manager"}
	dup := models.SearchUnit{CompanyID: "acme", Company: "ACME CORP ", Role: "marketing manager"}

	h.units.EXPECT().Units(gomock.Any()).Return([]models.SearchUnit{acmeMarketing, initech, dup}, nil).Times(1)
	h.units.EXPECT().ShouldSearch(gomock.Any(), "acme").Return(true, nil).Times(1)
	h.units.EXPECT().ShouldSearch(gomock.Any(), "initech").Return(false, nil).Times(1)
	h.acceptAllHandoffs()
	h.checkpoints.EXPECT().MarkScraped(gomock.Any(), "acme", gomock.Any()).Return(nil).Times(1)

	report, err := h.orch.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// Units are grouped by company, so the duplicate follows its original.
	got := []models.UnitState{report.Units[0].State, report.Units[1].State, report.Units[2].State}
	want := []models.UnitState{models.UnitCompleted, models.UnitSkipped, models.UnitSkipped}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unit %d: expected %s, got %s (%+v)", i, want[i], got[i], report.Units)
		}
	}
	if report.Units[1].Unit != dup || report.Units[2].Unit != initech {
		t.Fatalf("unexpected plan order: %+v", report.Units)
	}
	if report.Status.UnitsSkipped != 2 || report.Status.UnitsDone != 1 {
		t.Fatalf("unexpected counters: %+v", report.Status)
	}
	if h.page.VisitCount(searchURL(initech)) != 0 || h.page.VisitCount(searchURL(acmeMarketing)) != 1 {
		t.Fatalf("unexpected visits: %v", h.page.Visits)
	}
}

func TestStopBeforeFirstUnitIsResumable(t *testing.T) {
	h := newHarness(t, 10, nil)
	h.expectUnits(acmeMarketing)
	h.acceptAllHandoffs()
	h.checkpoints.EXPECT().MarkScraped(gomock.Any(), "acme", gomock.Any()).Return(nil).Times(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := h.orch.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if report.Status.State != models.RunInterrupted || len(h.driver.Pages) != 0 {
		t.Fatalf("stopped run should not open a browser: %+v", report.Status)
	}

	report, err = h.orch.Run(context.Background())
	if err != nil || report.Status.State != models.RunCompleted {
		t.Fatalf("expected interrupted run to resume: %+v %v", report.Status, err)
	}
}

func TestHandoffSkipsKnownAndToleratesErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10, nil)
	h.expectUnits(acmeMarketing)
	h.page.OnHTML(searchURL(acmeMarketing), resultsPage(t,
		person{"Ana Ruiz", "ana-ruiz", "Marketing Manager", "Acme"},
		person{"Dee Fox", "dee-fox", "Marketing Manager", "Acme"},
		person{"Eli Gray", "eli-gray", "Marketing Manager", "Acme"},
	))

	h.sink.EXPECT().Exists(gomock.Any(), "https://www.linkedin.com/in/ana-ruiz").Return(true, nil)
	h.sink.EXPECT().Exists(gomock.Any(), "https://www.linkedin.com/in/dee-fox").Return(false, nil)
	h.sink.EXPECT().Exists(gomock.Any(), "https://www.linkedin.com/in/eli-gray").Return(false, errors.New("redis down"))
	h.sink.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("broker unavailable")).Times(1)
	h.checkpoints.EXPECT().MarkScraped(gomock.Any(), "acme", gomock.Any()).Return(errors.New("mongo down")).Times(1)

	report, err := h.orch.Run(ctx)
	if err != nil {
		t.Fatalf("hand-off errors must not fail the run: %v", err)
	}
	if report.Units[0].State != models.UnitCompleted || report.Units[0].Selected != 3 || report.Units[0].HandedOff != 0 {
		t.Fatalf("unexpected unit result: %+v", report.Units[0])
	}
}

func TestSubmitVerificationCodeRequiresPause(t *testing.T) {
	h := newHarness(t, 10, nil)
	res, err := h.orch.SubmitVerificationCode(context.Background(), "123456")
	if !errors.Is(err, orchestrator.ErrNotPaused) || res.Success {
		t.Fatalf("expected ErrNotPaused, got %+v %v", res, err)
	}
}

func TestStatusTransitionsArePublished(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	h := newHarness(t, 10, nil)
	h.expectUnits(acmeMarketing)
	h.acceptAllHandoffs()
	h.checkpoints.EXPECT().MarkScraped(gomock.Any(), "acme", gomock.Any()).Return(nil)

	statusStore := mocks.NewMockStatusStore(ctrl)
	var published []models.RunStatus
	statusStore.EXPECT().SetStatus(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, s models.RunStatus) error {
			published = append(published, s)
			return nil
		},
	).MinTimes(2)

	bcfg := browser.DefaultConfig()
	bcfg.AuthToken = "token-123"
	bcfg.DetourEvery = 0
	orch := orchestrator.New(orchestrator.Deps{
		Ledger:      h.ledger,
		Sessions:    browser.NewManager(h.driver, bcfg, browser.WithSleep(func(context.Context, time.Duration) error { return nil })),
		Extractor:   extract.New(),
		Filter:      filter.New(filter.DefaultConfig(), zerolog.Nop()),
		Units:       h.units,
		Sink:        h.sink,
		Checkpoints: h.checkpoints,
		Status:      statusStore,
	}, orchestrator.DefaultConfig(),
		orchestrator.WithSleep(h.clock.Sleep),
		orchestrator.WithClock(h.clock.Now),
		orchestrator.WithRunID(func() string { return "run-9" }),
	)

	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	last := published[len(published)-1]
	if last.RunID != "run-9" || last.State != models.RunCompleted || last.UnitsDone != 1 {
		t.Fatalf("unexpected final status: %+v", last)
	}
	sawUnit := false
	for _, s := range published {
		if s.State == models.RunRunning && s.CurrentUnit != nil && *s.CurrentUnit == acmeMarketing {
			sawUnit = true
		}
	}
	if !sawUnit {
		t.Fatalf("expected an in-flight status naming the unit: %+v", published)
	}
}
