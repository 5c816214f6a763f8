/*
main.go - One-time import of the legacy master sheet

PURPOSE:
  Reads the master list workbook and seeds the configured store. Safe to
  run more than once: every run after the first fails with "already
  seeded" and writes nothing.

COMMAND-LINE FLAGS:
  -file    Path to the master sheet .xlsx (required)
  -env     Path to an env file (default: .env, optional)
  -dry-run Parse and validate the sheet without writing

EXAMPLES:
  ./seed -file=./legacy/master.xlsx
  STORE_DRIVER=postgres DATABASE_URL=... ./seed -file=master.xlsx

NOTE:
  Running servers pick the new items up through the change feed only when
  Redis is configured. Otherwise restart them after seeding.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gridmaster/spares-ledger/config"
	"github.com/gridmaster/spares-ledger/feed"
	"github.com/gridmaster/spares-ledger/inventory"
	"github.com/gridmaster/spares-ledger/logger"
	"github.com/gridmaster/spares-ledger/sheet"
	"github.com/gridmaster/spares-ledger/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	file := flag.String("file", "", "master sheet .xlsx")
	envFile := flag.String("env", "", "path to an env file")
	dryRun := flag.Bool("dry-run", false, "parse only")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: seed -file=master.xlsx")
		os.Exit(2)
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		panic(err)
	}
	log := logger.Must(logger.New(cfg.LogLevel)).Named("seed")
	defer func() { _ = log.Sync() }()

	if err := run(cfg, *file, *dryRun, log); err != nil {
		if errors.Is(err, inventory.ErrAlreadySeeded) {
			log.Warn("store already seeded, nothing written")
			os.Exit(1)
		}
		log.Fatal("seed failed", zap.Error(err))
	}
}

func run(cfg *config.Config, path string, dryRun bool, log *zap.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := sheet.ReadMasterSheet(f)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	log.Info("master sheet parsed", zap.String("file", path), zap.Int("rows", len(rows)))
	if dryRun {
		return nil
	}

	st, closeStore, err := store.Open(cfg.Store, log)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	seeder := inventory.NewSeeder(st)
	seeder.Logger = log
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		seeder.Publisher = feed.NewRedis(rdb, cfg.Redis.Channel, log)
	}

	items, err := seeder.Seed(ctx, rows)
	if err != nil {
		return err
	}
	log.Info("seed complete", zap.Int("items", len(items)))
	return nil
}
