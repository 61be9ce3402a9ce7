package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/davidahmann/antibody/internal/crypto"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

type DBDriver string

const (
	DBSQLite   DBDriver = "sqlite"
	DBPostgres DBDriver = "postgres"
)

// ErrMigrationChanged means a migration file no longer matches the checksum
// recorded when it was applied.
var ErrMigrationChanged = errors.New("storage: applied migration was modified")

// AppliedMigration is one row of the migrations table.
type AppliedMigration struct {
	Version   string
	Checksum  string
	AppliedAt string
}

type dialect struct {
	dir       string
	table     string
	timeType  string
	bind      func(n int) string
	timeValue func(time.Time) any
}

var dialects = map[DBDriver]dialect{
	DBSQLite: {
		dir:       "migrations/sqlite",
		table:     "schema_migrations",
		timeType:  "TEXT",
		bind:      func(int) string { return "?" },
		timeValue: func(t time.Time) any { return t.Format(time.RFC3339) },
	},
	DBPostgres: {
		dir:       "migrations/postgres",
		table:     "antibody_schema_migrations",
		timeType:  "TIMESTAMPTZ",
		bind:      func(n int) string { return fmt.Sprintf("$%d", n) },
		timeValue: func(t time.Time) any { return t },
	},
}

func dialectFor(driver DBDriver) (dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported db driver: %s", driver)
	}
	return d, nil
}

type migrationFile struct {
	version  string
	checksum string
	sql      string
}

// Migrate applies the embedded schema for driver. Each file runs once in its
// own transaction and is recorded with its checksum; a recorded file whose
// contents changed since is reported as ErrMigrationChanged.
func Migrate(db *sql.DB, driver DBDriver) error {
	if db == nil {
		return fmt.Errorf("missing db")
	}
	d, err := dialectFor(driver)
	if err != nil {
		return err
	}
	if _, err := db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  version TEXT PRIMARY KEY,
  checksum TEXT NOT NULL,
  applied_at %s NOT NULL
)`, d.table, d.timeType)); err != nil {
		return fmt.Errorf("create %s: %w", d.table, err)
	}

	files, err := loadMigrations(migrationsFS, d.dir)
	if err != nil {
		return err
	}
	applied, err := appliedMigrations(db, d)
	if err != nil {
		return err
	}
	recorded := make(map[string]string, len(applied))
	for _, m := range applied {
		recorded[m.Version] = m.Checksum
	}

	now := time.Now().UTC()
	for _, f := range files {
		if sum, ok := recorded[f.version]; ok {
			if sum != f.checksum {
				return fmt.Errorf("%w: %s", ErrMigrationChanged, f.version)
			}
			continue
		}
		if err := applyMigration(db, d, f, now); err != nil {
			return err
		}
	}
	return nil
}

// AppliedMigrations lists the recorded migrations in version order.
func AppliedMigrations(db *sql.DB, driver DBDriver) ([]AppliedMigration, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	return appliedMigrations(db, d)
}

func appliedMigrations(db *sql.DB, d dialect) ([]AppliedMigration, error) {
	rows, err := db.Query(fmt.Sprintf(`SELECT version, checksum, applied_at FROM %s ORDER BY version`, d.table))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", d.table, err)
	}
	defer rows.Close()
	var out []AppliedMigration
	for rows.Next() {
		var (
			m         AppliedMigration
			appliedAt any
		)
		if err := rows.Scan(&m.Version, &m.Checksum, &appliedAt); err != nil {
			return nil, err
		}
		switch v := appliedAt.(type) {
		case time.Time:
			m.AppliedAt = v.UTC().Format(time.RFC3339)
		case []byte:
			m.AppliedAt = string(v)
		case string:
			m.AppliedAt = v
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// applyMigration claims the version first so that a concurrent migrator
// blocks on the row and then skips the file.
func applyMigration(db *sql.DB, d dialect, f migrationFile, now time.Time) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	res, err := tx.Exec(fmt.Sprintf(`INSERT INTO %s(version, checksum, applied_at) VALUES(%s, %s, %s) ON CONFLICT(version) DO NOTHING`,
		d.table, d.bind(1), d.bind(2), d.bind(3)), f.version, f.checksum, d.timeValue(now))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", f.version, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.Exec(f.sql); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("apply migration %s: %w", f.version, err)
	}
	return tx.Commit()
}

func loadMigrations(fsys fs.FS, dir string) ([]migrationFile, error) {
	names, err := fs.Glob(fsys, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make([]migrationFile, 0, len(names))
	for _, name := range names {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		out = append(out, migrationFile{
			version:  strings.TrimSuffix(path.Base(name), ".sql"),
			checksum: crypto.DigestHex(raw),
			sql:      string(raw),
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no migrations in %s", dir)
	}
	return out, nil
}
