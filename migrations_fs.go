package ingest

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the schema for every supported dialect. Postgres files
// live at the root of data/sql/migrations and SQLite files under sqlite/.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

func GetMigrationsFS() fs.FS {
	return migrationsFS
}
