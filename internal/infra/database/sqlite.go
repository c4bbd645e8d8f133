package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/arklim/credential-policy/internal/infra/config"
	"github.com/arklim/credential-policy/migrations"
)

// SQLiteDSN builds a go-sqlite3 DSN. Write transactions take the database lock up front
// (_txlock=immediate) so concurrent login updates serialize instead of failing on upgrade.
func SQLiteDSN(cfg config.SQLiteSettings) string {
	params := url.Values{}
	params.Set("_txlock", "immediate")
	params.Set("_foreign_keys", "on")
	params.Set("_journal_mode", "WAL")
	if cfg.BusyTimeout > 0 {
		params.Set("_busy_timeout", fmt.Sprintf("%d", cfg.BusyTimeout.Milliseconds()))
	}
	return fmt.Sprintf("file:%s?%s", cfg.Path, params.Encode())
}

// NewSQLite opens the embedded store and applies the schema.
func NewSQLite(ctx context.Context, cfg config.SQLiteSettings, log *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", SQLiteDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := MigrateSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info("opened sqlite store", zap.String("path", cfg.Path))
	return db, nil
}

// MigrateSQLite applies the embedded schema.
func MigrateSQLite(ctx context.Context, db *sql.DB) error {
	scripts, err := migrations.Statements(migrations.SQLite)
	if err != nil {
		return err
	}
	for i, script := range scripts {
		if _, err := db.ExecContext(ctx, script); err != nil {
			return fmt.Errorf("apply sqlite migration %d: %w", i+1, err)
		}
	}
	return nil
}
