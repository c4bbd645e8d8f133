// Package migrations embeds the schema files applied at startup.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Dialect names a migration directory.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Statements returns the migration scripts for dialect in file name order.
func Statements(dialect Dialect) ([]string, error) {
	names, err := fs.Glob(files, string(dialect)+"/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list %s migrations: %w", dialect, err)
	}
	sort.Strings(names)

	scripts := make([]string, 0, len(names))
	for _, name := range names {
		body, err := files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		scripts = append(scripts, string(body))
	}
	return scripts, nil
}
