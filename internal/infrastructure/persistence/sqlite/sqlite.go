// Package sqlite implements every repository port on an embedded SQLite file
// (STORAGE_DRIVER=sqlite). It suits single-instance deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Open opens (creating if needed) the database at path and applies the schema.
// SQLite allows one writer, so the pool is limited to a single connection.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if err := createSchemas(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schemas: %w", err)
	}
	return db, nil
}

func createSchemas(ctx context.Context, db *sql.DB) error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS destinations (
			ord INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			country TEXT NOT NULL DEFAULT '',
			threshold_km REAL NOT NULL,
			facts_json TEXT NOT NULL DEFAULT '[]',
			images_json TEXT NOT NULL DEFAULT '[]'
		);`,
		`CREATE TABLE IF NOT EXISTS achievements (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			rule_kind TEXT NOT NULL,
			threshold REAL NOT NULL DEFAULT 0,
			activity TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS training_entries (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			occurred_at TEXT NOT NULL,
			distance_km REAL NOT NULL CHECK (distance_km > 0),
			activity TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_training_entries_user_time ON training_entries(user_id, occurred_at, id);`,
		`CREATE TABLE IF NOT EXISTS user_progress (
			user_id TEXT PRIMARY KEY,
			cumulative_km REAL NOT NULL DEFAULT 0,
			current_order INTEGER NOT NULL DEFAULT 0,
			points INTEGER NOT NULL DEFAULT 0,
			level INTEGER NOT NULL DEFAULT 1,
			entry_count INTEGER NOT NULL DEFAULT 0,
			unlocked_json TEXT NOT NULL DEFAULT '[]',
			achievements_json TEXT NOT NULL DEFAULT '[]',
			version INTEGER NOT NULL DEFAULT 1,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS challenges (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			target_km REAL NOT NULL,
			activity TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS challenge_members (
			challenge_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			joined_at TEXT NOT NULL,
			PRIMARY KEY (challenge_id, user_id),
			FOREIGN KEY (challenge_id) REFERENCES challenges(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_challenge_members_user ON challenge_members(user_id);`,
	}

	for _, query := range schemas {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

// timeLayout is fixed-width so text comparison matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// isConstraint reports unique and primary key violations.
func isConstraint(err error) bool {
	var e *sqlite.Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

func isForeignKey(err error) bool {
	var e *sqlite.Error
	return errors.As(err, &e) && e.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}
