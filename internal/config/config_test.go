package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"candidate-harvester/internal/companies"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ledger.DailyLimit != 80 || cfg.Ledger.Store != LedgerStoreFile {
		t.Fatalf("unexpected ledger defaults: %+v", cfg.Ledger)
	}
	if cfg.Pacing.MaxRateLimitRetries != 3 || cfg.Session.NavigationTimeout != 45*time.Second {
		t.Fatalf("unexpected defaults: %+v %+v", cfg.Pacing, cfg.Session)
	}
	if cfg.Kafka.CandidatesTopic != "harvester.candidates" {
		t.Fatalf("unexpected topic: %s", cfg.Kafka.CandidatesTopic)
	}
}

func TestLoadYAMLAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
log:
  level: debug
  format: json
session:
  auth_token: from-file
  navigation_timeout: 30s
ledger:
  daily_limit: 40
  backoff_base: 5m
pacing:
  unit_delay_min: 10s
  unit_delay_max: 15s
filter:
  role_word_ratio: 0.75
  location_keywords: ["Mexico"]
companies:
  default_roles: ["Marketing Manager"]
  list:
    - name: Acme Corp
    - id: globex
      name: Globex
      roles: ["Sales Director"]
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LI_AT_COOKIE", "from-env")
	t.Setenv("DAILY_LIMIT", "25")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Session.AuthToken != "from-env" || cfg.Ledger.DailyLimit != 25 || cfg.Redis.Addr != "redis:6379" {
		t.Fatalf("env overrides not applied: %+v %+v %+v", cfg.Session, cfg.Ledger, cfg.Redis)
	}
	if cfg.Log.Format != "json" || cfg.Session.NavigationTimeout != 30*time.Second || cfg.Ledger.BackoffBase != 5*time.Minute {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Pacing.UnitDelayMax != 15*time.Second || cfg.Pacing.CompanyDelayMax != 5*time.Minute {
		t.Fatalf("unexpected pacing: %+v", cfg.Pacing)
	}
	if cfg.Filter.RoleWordRatio != 0.75 || cfg.Filter.CompanyWordRatio != 0.5 || len(cfg.Filter.LocationKeywords) != 1 {
		t.Fatalf("unexpected filter config: %+v", cfg.Filter)
	}
	if len(cfg.Companies.List) != 2 || cfg.Companies.List[1].ID != "globex" {
		t.Fatalf("unexpected companies: %+v", cfg.Companies.List)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config: %v", err)
	}

	bc := cfg.BrowserConfig()
	if bc.AuthToken != "from-env" || bc.NavigationTimeout != 30*time.Second || bc.AuthCheckURL == "" {
		t.Fatalf("unexpected browser config: %+v", bc)
	}
	if rc := cfg.RateLimitConfig(); rc.DailyLimit != 25 || rc.BackoffMultiplier != 2 {
		t.Fatalf("unexpected rate limit config: %+v", rc)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("ledger: [unclosed"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Session.AuthToken = "token"
		cfg.Companies.List = []companies.Company{{Name: "Acme"}}
		return cfg
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid config: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing token", func(c *Config) { c.Session.AuthToken = " " }, "auth_token"},
		{"zero daily limit", func(c *Config) { c.Ledger.DailyLimit = 0 }, "daily_limit"},
		{"shrinking backoff", func(c *Config) { c.Ledger.BackoffMultiplier = 0.5 }, "backoff_multiplier"},
		{"unknown ledger store", func(c *Config) { c.Ledger.Store = "sqlite" }, "ledger.store"},
		{"ratio above one", func(c *Config) { c.Filter.CompanyWordRatio = 1.5 }, "company_word_ratio"},
		{"zero role ratio", func(c *Config) { c.Filter.RoleWordRatio = 0 }, "role_word_ratio"},
		{"inverted unit delay", func(c *Config) { c.Pacing.UnitDelayMin = 2 * c.Pacing.UnitDelayMax }, "pacing.unit_delay"},
		{"inverted typing delay", func(c *Config) { c.Session.TypingDelayMax = 0 }, "session.typing_delay"},
		{"empty company list", func(c *Config) { c.Companies.List = nil }, "companies.list"},
		{"mongo without uri", func(c *Config) { c.Companies.Source = CompanySourceMongo; c.Companies.Mongo.URI = "" }, "mongo.uri"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}
