package storage

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteConfig holds SQLite configuration.
type SQLiteConfig struct {
	Path   string
	Logger *zap.Logger
}

// NewSQLiteStorage opens (or creates) a SQLite database file.
func NewSQLiteStorage(ctx context.Context, cfg *SQLiteConfig) (*SQLStorage, error) {
	path := cfg.Path
	if path == "" {
		path = "hedge.db"
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	s := newSQLStorage(db, ModeSQLite, cfg.Logger)
	err = s.Migrate(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("sqlite-storage-opened", zap.String("path", path))
	return s, nil
}
