package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gridmaster/spares-ledger/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_Drivers(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.StoreConfig
	}{
		{"memory", config.StoreConfig{Driver: config.DriverMemory}},
		{"sqlite", config.StoreConfig{Driver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "spares.db")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, closeFn, err := Open(tt.cfg, nil)
			require.NoError(t, err)
			defer closeFn()

			items, err := st.ListItems(context.Background())
			require.NoError(t, err)
			assert.Empty(t, items)
		})
	}
}
