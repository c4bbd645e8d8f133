package database

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/credential-policy/internal/infra/config"
)

func TestSQLiteDSN(t *testing.T) {
	dsn := SQLiteDSN(config.SQLiteSettings{Path: "/tmp/credpol.db", BusyTimeout: 2 * time.Second})

	for _, want := range []string{"file:/tmp/credpol.db?", "_txlock=immediate", "_busy_timeout=2000", "_foreign_keys=on"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("expected %q in %q", want, dsn)
		}
	}
}

func TestNewSQLite_AppliesSchema(t *testing.T) {
	path := t.TempDir() + "/credpol.db"
	db, err := NewSQLite(context.Background(), config.SQLiteSettings{Path: path, BusyTimeout: time.Second}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('accounts', 'password_history')`).Scan(&count); err != nil {
		t.Fatalf("query schema: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected both tables, got %d", count)
	}

	if err := MigrateSQLite(context.Background(), db); err != nil {
		t.Fatalf("migrations must be idempotent: %v", err)
	}
}
