package migrations

import (
	_ "embed"

	"github.com/evmindex/realtime-sync-core/internal/db"
)

//go:embed 001_initial.sql
var mig0001 string

// RunMigrations runs all migrations for the event store database.
func RunMigrations(dbPath string) error {
	migrations := []db.Migration{
		{
			ID:  "001_initial.sql",
			SQL: mig0001,
		},
	}

	return db.RunMigrations(dbPath, migrations)
}

// Migrations returns the migration set so callers that already hold an open
// *sql.DB can run it via db.RunMigrationsDB without reopening the file.
func Migrations() []db.Migration {
	return []db.Migration{
		{
			ID:  "001_initial.sql",
			SQL: mig0001,
		},
	}
}
