// Package config loads the harvester configuration from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"candidate-harvester/common"
	"candidate-harvester/internal/browser"
	"candidate-harvester/internal/companies"
	"candidate-harvester/internal/filter"
	"candidate-harvester/internal/models"
	"candidate-harvester/internal/orchestrator"
	"candidate-harvester/internal/ratelimit"
)

const (
	LedgerStoreFile  = "file"
	LedgerStoreRedis = "redis"

	CompanySourceStatic = "static"
	CompanySourceMongo  = "mongo"
)

type SessionConfig struct {
	AuthToken         string        `yaml:"auth_token"`
	ProfileDir        string        `yaml:"profile_dir"`
	Headless          bool          `yaml:"headless"`
	ExecPath          string        `yaml:"exec_path"`
	DetourEvery       int           `yaml:"detour_every"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	TypingDelayMin    time.Duration `yaml:"typing_delay_min"`
	TypingDelayMax    time.Duration `yaml:"typing_delay_max"`
	DetourPauseMin    time.Duration `yaml:"detour_pause_min"`
	DetourPauseMax    time.Duration `yaml:"detour_pause_max"`
	Locales           []string      `yaml:"locales"`
	Timezones         []string      `yaml:"timezones"`
}

type LedgerConfig struct {
	DailyLimit        int           `yaml:"daily_limit"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	// Store is "file" or "redis".
	Store    string `yaml:"store"`
	Path     string `yaml:"path"`
	RedisKey string `yaml:"redis_key"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type CompaniesConfig struct {
	// Source is "static" (the list below) or "mongo".
	Source       string              `yaml:"source"`
	List         []companies.Company `yaml:"list"`
	DefaultRoles []string            `yaml:"default_roles"`
	StaleAfter   time.Duration       `yaml:"stale_after"`
	Mongo        MongoConfig         `yaml:"mongo"`
}

type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	SeenPrefix   string        `yaml:"seen_prefix"`
	SeenTTL      time.Duration `yaml:"seen_ttl"`
	StatusPrefix string        `yaml:"status_prefix"`
	StatusTTL    time.Duration `yaml:"status_ttl"`
}

type KafkaConfig struct {
	Broker          string `yaml:"broker"`
	CandidatesTopic string `yaml:"candidates_topic"`
	FailuresTopic   string `yaml:"failures_topic"`
}

type WorkerConfig struct {
	MetricsAddr   string        `yaml:"metrics_addr"`
	RunInterval   time.Duration `yaml:"run_interval"`
	RetryMax      int           `yaml:"retry_max"`
	RetryBase     time.Duration `yaml:"retry_base"`
	RetryMaxDelay time.Duration `yaml:"retry_max_delay"`
}

// Config is the full harvester configuration.
type Config struct {
	Log          models.LogConf      `yaml:"log"`
	Session      SessionConfig       `yaml:"session"`
	Ledger       LedgerConfig        `yaml:"ledger"`
	Pacing       orchestrator.Config `yaml:"pacing"`
	Filter       filter.Config       `yaml:"filter"`
	MergeResults bool                `yaml:"merge_results"`
	Companies    CompaniesConfig     `yaml:"companies"`
	Redis        RedisConfig         `yaml:"redis"`
	Kafka        KafkaConfig         `yaml:"kafka"`
	Worker       WorkerConfig        `yaml:"worker"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	sess := browser.DefaultConfig()
	ledger := ratelimit.DefaultConfig()
	return Config{
		Log: models.LogConf{Level: "info", Format: "console"},
		Session: SessionConfig{
			ProfileDir:        ".harvester/profile",
			Headless:          sess.Headless,
			DetourEvery:       sess.DetourEvery,
			NavigationTimeout: sess.NavigationTimeout,
			TypingDelayMin:    sess.TypingDelayMin,
			TypingDelayMax:    sess.TypingDelayMax,
			DetourPauseMin:    sess.DetourPauseMin,
			DetourPauseMax:    sess.DetourPauseMax,
		},
		Ledger: LedgerConfig{
			DailyLimit:        ledger.DailyLimit,
			BackoffBase:       ledger.BackoffBase,
			BackoffMultiplier: ledger.BackoffMultiplier,
			MaxBackoff:        ledger.MaxBackoff,
			Store:             LedgerStoreFile,
			Path:              ".harvester/ledger.json",
			RedisKey:          "harvester:ledger",
		},
		Pacing: orchestrator.DefaultConfig(),
		Filter: filter.DefaultConfig(),
		Companies: CompaniesConfig{
			Source:     CompanySourceStatic,
			StaleAfter: 7 * 24 * time.Hour,
			Mongo: MongoConfig{
				URI:        "mongodb://localhost:27017",
				Database:   "harvester",
				Collection: "companies",
			},
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			SeenPrefix:   "harvester:seen:",
			SeenTTL:      90 * 24 * time.Hour,
			StatusPrefix: "harvester:run:",
			StatusTTL:    7 * 24 * time.Hour,
		},
		Kafka: KafkaConfig{
			Broker:          "localhost:9092",
			CandidatesTopic: "harvester.candidates",
			FailuresTopic:   "harvester.unit-failures",
		},
		Worker: WorkerConfig{
			MetricsAddr:   ":9090",
			RunInterval:   24 * time.Hour,
			RetryMax:      3,
			RetryBase:     time.Minute,
			RetryMaxDelay: 30 * time.Minute,
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A missing file is not an
// error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Log.Level = common.GetEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = common.GetEnv("LOG_FORMAT", cfg.Log.Format)

	cfg.Session.AuthToken = common.GetEnv("LI_AT_COOKIE", cfg.Session.AuthToken)
	cfg.Session.ProfileDir = common.GetEnv("PROFILE_DIR", cfg.Session.ProfileDir)
	cfg.Session.ExecPath = common.GetEnv("CHROME_PATH", cfg.Session.ExecPath)
	cfg.Session.Headless = common.ParseBool(os.Getenv("HEADLESS"), cfg.Session.Headless)
	cfg.Session.DetourEvery = common.ParseInt(os.Getenv("DETOUR_EVERY"), cfg.Session.DetourEvery)
	cfg.Session.NavigationTimeout = common.ParseDuration(os.Getenv("NAVIGATION_TIMEOUT"), cfg.Session.NavigationTimeout)

	cfg.Ledger.DailyLimit = common.ParseInt(os.Getenv("DAILY_LIMIT"), cfg.Ledger.DailyLimit)
	cfg.Ledger.BackoffBase = common.ParseDuration(os.Getenv("BACKOFF_BASE"), cfg.Ledger.BackoffBase)
	cfg.Ledger.BackoffMultiplier = common.ParseFloat(os.Getenv("BACKOFF_MULTIPLIER"), cfg.Ledger.BackoffMultiplier)
	cfg.Ledger.Store = common.GetEnv("LEDGER_STORE", cfg.Ledger.Store)
	cfg.Ledger.Path = common.GetEnv("LEDGER_PATH", cfg.Ledger.Path)

	cfg.Pacing.UnitDelayMin = common.ParseDuration(os.Getenv("UNIT_DELAY_MIN"), cfg.Pacing.UnitDelayMin)
	cfg.Pacing.UnitDelayMax = common.ParseDuration(os.Getenv("UNIT_DELAY_MAX"), cfg.Pacing.UnitDelayMax)
	cfg.Pacing.CompanyDelayMin = common.ParseDuration(os.Getenv("COMPANY_DELAY_MIN"), cfg.Pacing.CompanyDelayMin)
	cfg.Pacing.CompanyDelayMax = common.ParseDuration(os.Getenv("COMPANY_DELAY_MAX"), cfg.Pacing.CompanyDelayMax)

	cfg.Filter.LocationKeywords = common.ParseList(os.Getenv("LOCATION_KEYWORDS"), cfg.Filter.LocationKeywords)
	cfg.Filter.Strict = common.ParseBool(os.Getenv("LOCATION_STRICT"), cfg.Filter.Strict)

	cfg.Companies.Source = common.GetEnv("COMPANY_SOURCE", cfg.Companies.Source)
	cfg.Companies.DefaultRoles = common.ParseList(os.Getenv("DEFAULT_ROLES"), cfg.Companies.DefaultRoles)
	cfg.Companies.StaleAfter = common.ParseDuration(os.Getenv("COMPANY_STALE_AFTER"), cfg.Companies.StaleAfter)
	cfg.Companies.Mongo.URI = common.GetEnv("MONGO_URI", cfg.Companies.Mongo.URI)
	cfg.Companies.Mongo.Database = common.GetEnv("MONGO_DATABASE", cfg.Companies.Mongo.Database)

	cfg.Redis.Addr = common.GetEnv("REDIS_ADDR", cfg.Redis.Addr)

	cfg.Kafka.Broker = common.GetEnv("KAFKA_BROKER", cfg.Kafka.Broker)
	cfg.Kafka.CandidatesTopic = common.GetEnv("KAFKA_CANDIDATES_TOPIC", cfg.Kafka.CandidatesTopic)
	cfg.Kafka.FailuresTopic = common.GetEnv("KAFKA_FAILURES_TOPIC", cfg.Kafka.FailuresTopic)

	cfg.Worker.MetricsAddr = common.GetEnv("METRICS_ADDR", cfg.Worker.MetricsAddr)
	cfg.Worker.RunInterval = common.ParseDuration(os.Getenv("RUN_INTERVAL"), cfg.Worker.RunInterval)
	cfg.Worker.RetryMax = common.ParseInt(os.Getenv("RETRY_MAX"), cfg.Worker.RetryMax)
	cfg.Worker.RetryBase = common.ParseDuration(os.Getenv("RETRY_BASE_DELAY"), cfg.Worker.RetryBase)
	cfg.Worker.RetryMaxDelay = common.ParseDuration(os.Getenv("RETRY_MAX_DELAY"), cfg.Worker.RetryMaxDelay)
}

// Validate reports the first setting the harvester cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Session.AuthToken) == "" {
		return errors.New("session.auth_token (LI_AT_COOKIE) is required")
	}
	if c.Ledger.DailyLimit <= 0 {
		return fmt.Errorf("ledger.daily_limit must be positive, got %d", c.Ledger.DailyLimit)
	}
	if c.Ledger.BackoffBase <= 0 {
		return errors.New("ledger.backoff_base must be positive")
	}
	if c.Ledger.BackoffMultiplier < 1 {
		return fmt.Errorf("ledger.backoff_multiplier must be at least 1, got %g", c.Ledger.BackoffMultiplier)
	}
	switch c.Ledger.Store {
	case LedgerStoreFile:
		if c.Ledger.Path == "" {
			return errors.New("ledger.path is required for the file store")
		}
	case LedgerStoreRedis:
	default:
		return fmt.Errorf("unknown ledger.store %q", c.Ledger.Store)
	}
	for name, r := range map[string]float64{
		"filter.company_word_ratio": c.Filter.CompanyWordRatio,
		"filter.role_word_ratio":    c.Filter.RoleWordRatio,
	} {
		if r <= 0 || r > 1 {
			return fmt.Errorf("%s must be in (0,1], got %g", name, r)
		}
	}
	for name, d := range map[string][2]time.Duration{
		"pacing.unit_delay":    {c.Pacing.UnitDelayMin, c.Pacing.UnitDelayMax},
		"pacing.company_delay": {c.Pacing.CompanyDelayMin, c.Pacing.CompanyDelayMax},
		"session.typing_delay": {c.Session.TypingDelayMin, c.Session.TypingDelayMax},
		"session.detour_pause": {c.Session.DetourPauseMin, c.Session.DetourPauseMax},
	} {
		if d[0] < 0 || d[0] > d[1] {
			return fmt.Errorf("%s: min %s exceeds max %s", name, d[0], d[1])
		}
	}
	switch c.Companies.Source {
	case CompanySourceStatic:
		if len(c.Companies.List) == 0 {
			return errors.New("companies.list is empty")
		}
	case CompanySourceMongo:
		if c.Companies.Mongo.URI == "" {
			return errors.New("companies.mongo.uri is required")
		}
	default:
		return fmt.Errorf("unknown companies.source %q", c.Companies.Source)
	}
	return nil
}

// BrowserConfig converts the session section for browser.NewManager.
func (c Config) BrowserConfig() browser.Config {
	cfg := browser.DefaultConfig()
	cfg.AuthToken = c.Session.AuthToken
	cfg.ProfileDir = c.Session.ProfileDir
	cfg.Headless = c.Session.Headless
	cfg.ExecPath = c.Session.ExecPath
	cfg.DetourEvery = c.Session.DetourEvery
	cfg.NavigationTimeout = c.Session.NavigationTimeout
	cfg.TypingDelayMin = c.Session.TypingDelayMin
	cfg.TypingDelayMax = c.Session.TypingDelayMax
	cfg.DetourPauseMin = c.Session.DetourPauseMin
	cfg.DetourPauseMax = c.Session.DetourPauseMax
	cfg.Locales = c.Session.Locales
	cfg.Timezones = c.Session.Timezones
	return cfg
}

// RateLimitConfig converts the ledger section for ratelimit.New.
func (c Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		DailyLimit:        c.Ledger.DailyLimit,
		BackoffBase:       c.Ledger.BackoffBase,
		BackoffMultiplier: c.Ledger.BackoffMultiplier,
		MaxBackoff:        c.Ledger.MaxBackoff,
	}
}
