package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func migrationFiles() ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, "migrations/"+e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Migrate applies every embedded migration in lexical order and returns the
// files it ran. Migrations are written to be re-runnable.
func Migrate(ctx context.Context, db execer) ([]string, error) {
	files, err := migrationFiles()
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		sqlBytes, err := migrationsFS.ReadFile(f)
		if err != nil {
			return nil, err
		}
		if _, err := db.Exec(ctx, string(sqlBytes)); err != nil {
			return nil, fmt.Errorf("migration %s failed: %w", f, err)
		}
	}
	return files, nil
}
