package storage

import (
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"
)

func TestMigrateSQLiteIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", "file:migrate_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := Migrate(db, DBSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := Migrate(db, DBSQLite); err != nil {
		t.Fatalf("migrate second: %v", err)
	}

	for _, table := range []string{"memories", "threats", "ledger_entries", "alert_outbox"} {
		var name string
		if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("expected %s table: %v", table, err)
		}
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 migration applied, got %d", count)
	}
}

func TestMigrateRejectsModifiedMigration(t *testing.T) {
	db, err := sql.Open("sqlite", "file:migrate_changed?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := Migrate(db, DBSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	applied, err := AppliedMigrations(db, DBSQLite)
	if err != nil {
		t.Fatalf("applied: %v", err)
	}
	if len(applied) != 1 || applied[0].Version != "0001_init" || len(applied[0].Checksum) != 64 || applied[0].AppliedAt == "" {
		t.Fatalf("unexpected applied migrations: %+v", applied)
	}

	if _, err := db.Exec(`UPDATE schema_migrations SET checksum = 'stale' WHERE version = '0001_init'`); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := Migrate(db, DBSQLite); !errors.Is(err, ErrMigrationChanged) {
		t.Fatalf("expected ErrMigrationChanged, got %v", err)
	}
}

func TestMigrationHelpers(t *testing.T) {
	if d, err := dialectFor(DBPostgres); err != nil || d.bind(2) != "$2" {
		t.Fatalf("expected postgres dialect, got %+v %v", d, err)
	}
	if _, err := dialectFor(DBDriver("nope")); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
	if _, err := AppliedMigrations(&sql.DB{}, DBDriver("nope")); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
	if err := Migrate(nil, DBSQLite); err == nil {
		t.Fatalf("expected error for nil db")
	}
	files, err := loadMigrations(migrationsFS, "migrations/postgres")
	if err != nil || len(files) == 0 || files[0].checksum == "" {
		t.Fatalf("load migrations: %v %v", files, err)
	}
	if _, err := loadMigrations(migrationsFS, "migrations/none"); err == nil {
		t.Fatalf("expected error for empty migration dir")
	}
}
