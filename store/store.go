// Package store opens the persistence backend named by the configuration.
package store

import (
	"github.com/gridmaster/spares-ledger/config"
	"github.com/gridmaster/spares-ledger/inventory"
	memstore "github.com/gridmaster/spares-ledger/inventory/store"
	"github.com/gridmaster/spares-ledger/store/postgres"
	"github.com/gridmaster/spares-ledger/store/sqlite"
	"go.uber.org/zap"
)

// Backend is everything the binaries need from a store.
type Backend interface {
	inventory.TxStore
	inventory.ReportRunStore
}

// Open opens the backend selected by cfg.Driver. The returned func closes it.
func Open(cfg config.StoreConfig, log *zap.Logger) (Backend, func() error, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch cfg.Driver {
	case config.DriverPostgres:
		st, err := postgres.Open(cfg.DatabaseURL, log)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case config.DriverMemory:
		log.Warn("using in-memory store, data is lost on exit")
		return memstore.NewTxMemory(), func() error { return nil }, nil
	default:
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Info("sqlite store opened", zap.String("path", cfg.SQLitePath))
		return st, st.Close, nil
	}
}
