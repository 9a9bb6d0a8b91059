package store

import (
	"context"
	"path/filepath"
	"testing"

	"ccxt-broker/internal/config"
)

func TestNewSQLite_InMemoryMigrate(t *testing.T) {
	s, err := NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Migrate(ctx, `CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	if _, err := s.DB().ExecContext(ctx, `INSERT INTO t (v) VALUES ('x')`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	var count int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM t`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}

func TestMigrate_RollsBackOnError(t *testing.T) {
	s, err := NewSQLite(config.DatabaseConfig{InMemory: true})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	err = s.Migrate(ctx,
		`CREATE TABLE ok_table (id INTEGER)`,
		`CREATE TABLE broken (`,
	)
	if err == nil {
		t.Fatalf("expected migration error")
	}

	var name string
	row := s.DB().QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE name = 'ok_table'`)
	if scanErr := row.Scan(&name); scanErr == nil {
		t.Fatalf("expected ok_table to be rolled back")
	}
}

func TestNewSQLite_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "broker.db")
	s, err := NewSQLite(config.DatabaseConfig{Path: path, MaxOpenConns: 2, MaxIdleConns: 2})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}
