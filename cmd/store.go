package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/conftool-helper/internal/config"
	"github.com/sells-group/conftool-helper/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		path := cfg.OutputPath(cfg.Store.SQLitePath)
		if path == "" {
			path = cfg.OutputPath("runs.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, eris.Wrap(err, "create ledger dir")
		}
		return store.NewSQLite(path)
	case config.DriverPostgres:
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	case config.DriverNone:
		return store.NopStore{}, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openLedger opens and migrates the run ledger. The pipeline keeps running
// without history when the ledger is unavailable.
func openLedger(ctx context.Context) store.Store {
	st, err := initStore(ctx)
	if err != nil {
		zap.L().Warn("run ledger unavailable, continuing without it", zap.Error(err))
		return store.NopStore{}
	}
	if err := st.Migrate(ctx); err != nil {
		zap.L().Warn("run ledger migration failed, continuing without it", zap.Error(err))
		_ = st.Close()
		return store.NopStore{}
	}
	return st
}
