package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"candidate-harvester/common"
	"candidate-harvester/internal/companies"
	"candidate-harvester/internal/config"
	"candidate-harvester/internal/logger"
)

// seeder stores the target company list.
type seeder interface {
	Upsert(ctx context.Context, list []companies.Company) (int, error)
}

var errNoCompanies = errors.New("config has no companies")

func main() {
	_ = godotenv.Load()
	configPath := flag.String("config", common.GetEnv("CONFIG_PATH", "config.yaml"), "Path to the harvester YAML config whose companies.list is seeded")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	log := logger.WithComponent("company-seed")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	m := cfg.Companies.Mongo
	store, err := companies.NewMongoStore(ctx, m.URI, m.Database, m.Collection,
		cfg.Companies.DefaultRoles, cfg.Companies.StaleAfter, logger.WithComponent("companies"))
	if err != nil {
		log.Fatal().Err(err).Msg("mongo connect error")
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("mongo close error")
		}
	}()

	changed, err := run(ctx, cfg.Companies.List, store)
	if err != nil {
		log.Fatal().Err(err).Msg("seed failed")
	}
	log.Info().Int("companies", len(cfg.Companies.List)).Int("changed", changed).
		Str("collection", m.Database+"."+m.Collection).Msg("seeded companies")
}

// run validates the list and writes it through s.
func run(ctx context.Context, list []companies.Company, s seeder) (int, error) {
	var named []companies.Company
	for _, c := range list {
		if c.Name != "" {
			named = append(named, c)
		}
	}
	if len(named) == 0 {
		return 0, errNoCompanies
	}
	return s.Upsert(ctx, named)
}
