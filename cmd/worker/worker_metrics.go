package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"candidate-harvester/internal/browser"
	"candidate-harvester/internal/models"
)

var (
	// Counters for harvesting activity exposed on /metrics.
	// units: terminal state of each processed unit; candidates: extraction funnel per unit.
	workerRunsStarted         uint64
	workerUnitsCompleted      uint64
	workerUnitsSkipped        uint64
	workerUnitsHalted         uint64
	workerUnitsFailed         uint64
	workerCandidatesExtracted uint64
	workerCandidatesSelected  uint64
	workerCandidatesHandedOff uint64

	// Rate limit hits; one increment per navigation classified RATE_LIMITED.
	workerRateLimitHitsTotal uint64
	// Navigations that hit a verification or captcha challenge.
	workerChallengesTotal uint64

	// Histogram buckets for search page navigation latency (seconds). +Inf is implicit.
	navigationLatencyBuckets = []float64{0.5, 1, 2, 5, 10, 20, 45}
	// Counts per bucket; last slot holds the +Inf bucket.
	navigationLatencyCounts = make([]uint64, len(navigationLatencyBuckets)+1)
	navigationLatencySumNs  uint64
	navigationLatencyCount  uint64

	runStateMu sync.Mutex
	runState   = models.RunIdle
)

// runStates lists the series of the run_state gauge.
var runStates = []models.RunState{
	models.RunIdle,
	models.RunRunning,
	models.RunCompleted,
	models.RunPaused,
	models.RunRestricted,
	models.RunSessionInvalid,
	models.RunQuotaExhausted,
	models.RunInterrupted,
	models.RunFailed,
}

// metricsObserver feeds orchestrator events into the package counters.
type metricsObserver struct{}

func (metricsObserver) ObserveNavigation(outcome string, d time.Duration) {
	observeNavigationLatency(d)
	switch browser.Outcome(outcome) {
	case browser.OutcomeRateLimited:
		atomic.AddUint64(&workerRateLimitHitsTotal, 1)
	case browser.OutcomeVerificationRequired, browser.OutcomeCaptchaRequired:
		atomic.AddUint64(&workerChallengesTotal, 1)
	}
}

func (metricsObserver) ObserveUnit(state models.UnitState) {
	switch state {
	case models.UnitCompleted:
		atomic.AddUint64(&workerUnitsCompleted, 1)
	case models.UnitSkipped:
		atomic.AddUint64(&workerUnitsSkipped, 1)
	case models.UnitHalted:
		atomic.AddUint64(&workerUnitsHalted, 1)
	case models.UnitFailed:
		atomic.AddUint64(&workerUnitsFailed, 1)
	}
}

func (metricsObserver) ObserveCandidates(extracted, selected, handedOff int) {
	atomic.AddUint64(&workerCandidatesExtracted, uint64(extracted))
	atomic.AddUint64(&workerCandidatesSelected, uint64(selected))
	atomic.AddUint64(&workerCandidatesHandedOff, uint64(handedOff))
}

func (metricsObserver) ObserveRunState(state models.RunState) {
	if state == models.RunRunning {
		atomic.AddUint64(&workerRunsStarted, 1)
	}
	runStateMu.Lock()
	runState = state
	runStateMu.Unlock()
}

func currentRunState() models.RunState {
	runStateMu.Lock()
	defer runStateMu.Unlock()
	return runState
}

func startControlServer(ctx context.Context, addr string, mux *http.ServeMux) {
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("control server shutdown error")
		}
	}()

	go func() {
		log.Info().Str("addr", addr).Msg("control server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("control server error")
		}
	}()
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	body := fmt.Sprintf(
		"harvester_worker_up 1\n"+
			"harvester_worker_runs_started_total %d\n"+
			"harvester_worker_units_total{state=\"completed\"} %d\n"+
			"harvester_worker_units_total{state=\"skipped\"} %d\n"+
			"harvester_worker_units_total{state=\"halted\"} %d\n"+
			"harvester_worker_units_total{state=\"failed\"} %d\n"+
			"harvester_worker_candidates_extracted_total %d\n"+
			"harvester_worker_candidates_selected_total %d\n"+
			"harvester_worker_candidates_handed_off_total %d\n",
		atomic.LoadUint64(&workerRunsStarted),
		atomic.LoadUint64(&workerUnitsCompleted),
		atomic.LoadUint64(&workerUnitsSkipped),
		atomic.LoadUint64(&workerUnitsHalted),
		atomic.LoadUint64(&workerUnitsFailed),
		atomic.LoadUint64(&workerCandidatesExtracted),
		atomic.LoadUint64(&workerCandidatesSelected),
		atomic.LoadUint64(&workerCandidatesHandedOff),
	)
	body += "# HELP harvester_worker_rate_limit_hits_total Search navigations classified as rate limited.\n"
	body += "# TYPE harvester_worker_rate_limit_hits_total counter\n"
	body += fmt.Sprintf(
		"harvester_worker_rate_limit_hits_total %d\n"+
			"harvester_worker_challenges_total %d\n",
		atomic.LoadUint64(&workerRateLimitHitsTotal),
		atomic.LoadUint64(&workerChallengesTotal),
	)

	state := currentRunState()
	body += "# HELP harvester_worker_run_state Current run state (1 for the active state).\n"
	body += "# TYPE harvester_worker_run_state gauge\n"
	for _, s := range runStates {
		v := 0
		if s == state {
			v = 1
		}
		body += fmt.Sprintf("harvester_worker_run_state{state=%q} %d\n", string(s), v)
	}
	halted := 0
	if (models.RunStatus{State: state}).NeedsHuman() {
		halted = 1
	}
	body += fmt.Sprintf("harvester_worker_halted %d\n", halted)

	var histogram strings.Builder
	histogram.WriteString("# HELP harvester_worker_navigation_latency_seconds Search page navigation latency.\n")
	histogram.WriteString("# TYPE harvester_worker_navigation_latency_seconds histogram\n")
	appendHistogram(&histogram, "harvester_worker_navigation_latency_seconds", navigationLatencyBuckets,
		navigationLatencyCounts, &navigationLatencySumNs, &navigationLatencyCount, "%.1f")

	_, _ = w.Write([]byte(body + histogram.String()))
}

// appendHistogram writes a Prometheus histogram (buckets, +Inf, sum, count) to sb.
// counts must have len(buckets)+1 elements; leFmt formats bucket bounds (e.g. "%.2f").
func appendHistogram(sb *strings.Builder, name string, buckets []float64, counts []uint64, sumNs, count *uint64, leFmt string) {
	var cumulative uint64
	for i, bound := range buckets {
		cumulative += atomic.LoadUint64(&counts[i])
		sb.WriteString(fmt.Sprintf("%s_bucket{le=\"%s\"} %d\n", name, fmt.Sprintf(leFmt, bound), cumulative))
	}
	cumulative += atomic.LoadUint64(&counts[len(buckets)])
	sb.WriteString(fmt.Sprintf("%s_bucket{le=\"+Inf\"} %d\n", name, cumulative))
	sumSeconds := float64(atomic.LoadUint64(sumNs)) / float64(time.Second)
	sb.WriteString(fmt.Sprintf("%s_sum %.6f\n", name, sumSeconds))
	sb.WriteString(fmt.Sprintf("%s_count %d\n", name, atomic.LoadUint64(count)))
}

// observeNavigationLatency updates a manual Prometheus histogram.
func observeNavigationLatency(duration time.Duration) {
	if duration <= 0 {
		return
	}
	seconds := duration.Seconds()
	bucketIndex := len(navigationLatencyBuckets)
	for i, bound := range navigationLatencyBuckets {
		if seconds <= bound {
			bucketIndex = i
			break
		}
	}
	atomic.AddUint64(&navigationLatencyCounts[bucketIndex], 1)
	atomic.AddUint64(&navigationLatencySumNs, uint64(duration.Nanoseconds()))
	atomic.AddUint64(&navigationLatencyCount, 1)
}
