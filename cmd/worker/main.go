package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"candidate-harvester/common"
	"candidate-harvester/internal/browser"
	"candidate-harvester/internal/companies"
	"candidate-harvester/internal/config"
	"candidate-harvester/internal/crawler"
	"candidate-harvester/internal/extract"
	"candidate-harvester/internal/filter"
	"candidate-harvester/internal/handoff"
	"candidate-harvester/internal/kafka"
	"candidate-harvester/internal/logger"
	"candidate-harvester/internal/models"
	"candidate-harvester/internal/orchestrator"
	"candidate-harvester/internal/ratelimit"
	"candidate-harvester/internal/store"
)

const (
	exitOK             = 0
	exitError          = 1
	exitRestricted     = 2
	exitSessionInvalid = 3
)

var log = zerolog.Nop()

// unitSource is a company source that also records completed companies.
type unitSource interface {
	crawler.UnitSource
	crawler.Checkpointer
}

type worker struct {
	runner        harvester
	runInterval   time.Duration
	retryMax      int
	retryBase     time.Duration
	retryMaxDelay time.Duration
	pollInterval  time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
}

func newWorker(runner harvester, cfg config.WorkerConfig) *worker {
	return &worker{
		runner:        runner,
		runInterval:   cfg.RunInterval,
		retryMax:      cfg.RetryMax,
		retryBase:     cfg.RetryBase,
		retryMaxDelay: cfg.RetryMaxDelay,
		pollInterval:  5 * time.Second,
		sleep:         common.Sleep,
	}
}

func main() {
	os.Exit(start())
}

func start() int {
	_ = godotenv.Load()

	cfg, err := config.Load(common.GetEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitError
	}
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		return exitError
	}
	log = logger.WithComponent("worker")
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledgerStore, closeLedger := newLedgerStore(cfg)
	defer closeLedger()
	ledger := ratelimit.New(ledgerStore, cfg.RateLimitConfig(), ratelimit.WithLogger(logger.WithComponent("ratelimit")))

	sessions := browser.NewManager(
		browser.NewChromeDriver(0, logger.WithComponent("chrome")),
		cfg.BrowserConfig(),
		browser.WithLogger(logger.WithComponent("browser")),
	)
	defer func() {
		if err := sessions.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close browser session")
		}
	}()

	units, closeUnits, err := newUnitSource(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Str("source", cfg.Companies.Source).Msg("company source error")
		return exitError
	}
	defer closeUnits()

	seen := handoff.NewRedisSeenStore(cfg.Redis.Addr, cfg.Redis.SeenPrefix, cfg.Redis.SeenTTL)
	defer func() {
		if err := seen.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close seen store")
		}
	}()

	candidates := kafka.NewProducer(cfg.Kafka.Broker, cfg.Kafka.CandidatesTopic)
	defer func() {
		if err := candidates.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close candidates producer")
		}
	}()

	failures := kafka.NewProducer(cfg.Kafka.Broker, cfg.Kafka.FailuresTopic)
	defer func() {
		if err := failures.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close failures producer")
		}
	}()

	statusStore := store.NewRedisStatusStore(cfg.Redis.Addr, cfg.Redis.StatusPrefix, cfg.Redis.StatusTTL)
	defer func() {
		if err := statusStore.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close status store")
		}
	}()

	orch := orchestrator.New(orchestrator.Deps{
		Ledger:      ledger,
		Sessions:    sessions,
		Extractor:   extract.New(extract.WithMerge(cfg.MergeResults), extract.WithLogger(logger.WithComponent("extract"))),
		Filter:      filter.New(cfg.Filter, logger.WithComponent("filter")),
		Units:       units,
		Sink:        handoff.NewSink(seen, candidates, logger.WithComponent("handoff")),
		Checkpoints: units,
		Failures:    failures,
		Status:      statusStore,
	}, cfg.Pacing,
		orchestrator.WithLogger(logger.WithComponent("orchestrator")),
		orchestrator.WithObserver(metricsObserver{}),
	)

	if cfg.Worker.MetricsAddr != "" {
		startControlServer(ctx, cfg.Worker.MetricsAddr, newControlServer(orch, statusStore).mux())
	}

	log.Info().
		Str("companies", cfg.Companies.Source).
		Str("ledger", cfg.Ledger.Store).
		Int("daily_limit", cfg.Ledger.DailyLimit).
		Str("broker", cfg.Kafka.Broker).
		Msg("worker starting")
	err = newWorker(orch, cfg.Worker).run(ctx)
	return exitCode(err)
}

func newLedgerStore(cfg config.Config) (ratelimit.Store, func()) {
	if cfg.Ledger.Store == config.LedgerStoreRedis {
		s := ratelimit.NewRedisStore(cfg.Redis.Addr, cfg.Ledger.RedisKey)
		return s, func() {
			if err := s.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close ledger store")
			}
		}
	}
	return ratelimit.NewFileStore(cfg.Ledger.Path), func() {}
}

func newUnitSource(ctx context.Context, cfg config.Config) (unitSource, func(), error) {
	if cfg.Companies.Source != config.CompanySourceMongo {
		return companies.NewStaticSource(cfg.Companies.List, cfg.Companies.DefaultRoles, cfg.Companies.StaleAfter), func() {}, nil
	}

	m := cfg.Companies.Mongo
	s, err := companies.NewMongoStore(ctx, m.URI, m.Database, m.Collection,
		cfg.Companies.DefaultRoles, cfg.Companies.StaleAfter, logger.WithComponent("companies"))
	if err != nil {
		return nil, nil, err
	}
	return s, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Close(closeCtx); err != nil {
			log.Error().Err(err).Msg("failed to close mongo client")
		}
	}, nil
}

// run repeats harvesting runs until ctx is cancelled or the account needs more than a code.
// It returns nil on shutdown.
func (w *worker) run(ctx context.Context) error {
	attempts := 0
	delay := w.retryBase
	for {
		report, err := w.runner.Run(ctx)
		if ctx.Err() != nil {
			log.Info().Msg("worker stopped")
			return nil
		}

		status := report.Status
		kind := crawler.KindOf(err)
		switch {
		case err == nil:
			attempts = 0
			delay = w.retryBase
			log.Info().
				Str("run_id", status.RunID).
				Int("units_done", status.UnitsDone).
				Int("units_skipped", status.UnitsSkipped).
				Int("units_failed", status.UnitsFailed).
				Int("handed_off", status.HandedOff).
				Dur("next_run_in", w.runInterval).
				Msg("run completed")
			if err := w.sleep(ctx, w.runInterval); err != nil {
				return nil
			}

		case kind == crawler.KindVerificationRequired || kind == crawler.KindCaptchaRequired:
			log.Warn().Str("run_id", status.RunID).Str("kind", string(kind)).
				Msg("run paused; submit the code with POST /verification")
			if err := w.awaitResume(ctx); err != nil {
				return nil
			}

		case kind.NeedsHuman(), kind == crawler.KindQuotaExhausted:
			log.Error().Err(err).Str("run_id", status.RunID).Str("state", string(status.State)).Msg("run halted")
			return err

		case isTransient(kind):
			attempts++
			if attempts > w.retryMax {
				log.Error().Err(err).Int("attempts", attempts).Msg("giving up after repeated failures")
				return err
			}
			if w.retryMaxDelay > 0 && delay > w.retryMaxDelay {
				delay = w.retryMaxDelay
			}
			log.Warn().Err(err).Int("attempt", attempts).Dur("retry_in", delay).Msg("run failed; retrying")
			if err := w.sleep(ctx, delay); err != nil {
				return nil
			}
			delay *= 2

		default:
			log.Error().Err(err).Str("run_id", status.RunID).Msg("run failed")
			return err
		}
	}
}

// awaitResume blocks while the run is paused on a challenge.
func (w *worker) awaitResume(ctx context.Context) error {
	for w.runner.Status().State == models.RunPaused {
		if err := w.sleep(ctx, w.pollInterval); err != nil {
			return err
		}
	}
	return nil
}

func isTransient(kind crawler.Kind) bool {
	switch kind {
	case crawler.KindNetwork, crawler.KindSessionExpired, crawler.KindRateLimited:
		return true
	}
	return false
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, crawler.ErrAccountRestricted):
		return exitRestricted
	case errors.Is(err, crawler.ErrSessionInvalid):
		return exitSessionInvalid
	case errors.Is(err, crawler.ErrQuotaExhausted):
		return exitOK
	default:
		return exitError
	}
}
