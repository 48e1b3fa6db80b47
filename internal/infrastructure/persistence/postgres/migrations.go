package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrMigrationFailed wraps any failure while applying or reverting a migration.
var ErrMigrationFailed = errors.New("postgres: migration failed")

// Migration is one versioned schema change.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Migrations returns the schema history in order.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_progression", Up: migration001Up, Down: migration001Down},
		{Version: 2, Name: "create_challenges", Up: migration002Up, Down: migration002Down},
	}
}

// Migrator applies Migrations and records them in schema_migrations.
type Migrator struct {
	db         DB
	migrations []Migration
}

// NewMigrator creates a migrator over db.
func NewMigrator(db DB) *Migrator {
	return &Migrator{db: db, migrations: Migrations()}
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	if _, err := m.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return nil, fmt.Errorf("%w: create schema_migrations: %v", ErrMigrationFailed, err)
	}

	rows, err := m.db.Query(ctx, `SELECT version, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("%w: list applied: %v", ErrMigrationFailed, err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var v int
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, err
		}
		out[v] = at
	}
	return out, rows.Err()
}

// Migrate applies every pending migration, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	done, err := m.applied(ctx)
	if err != nil {
		return err
	}
	for _, mig := range m.migrations {
		if _, ok := done[mig.Version]; ok {
			continue
		}
		err := WithTx(ctx, m.db, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.Up); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: %03d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
	}
	return nil
}

// Rollback reverts the newest applied migration. It is a no-op on an empty
// schema.
func (m *Migrator) Rollback(ctx context.Context) error {
	done, err := m.applied(ctx)
	if err != nil {
		return err
	}
	for i := len(m.migrations) - 1; i >= 0; i-- {
		mig := m.migrations[i]
		if _, ok := done[mig.Version]; !ok {
			continue
		}
		err := WithTx(ctx, m.db, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.Down); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, mig.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: revert %03d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
		return nil
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE PROGRESSION
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Session log, catalogs and per-user progression
-- Version: 001

-- Route catalog, unlocked in order of ord
CREATE TABLE IF NOT EXISTS destinations (
    ord INTEGER PRIMARY KEY,
    name VARCHAR(100) NOT NULL UNIQUE,
    country VARCHAR(100) NOT NULL DEFAULT '',
    threshold_km DOUBLE PRECISION NOT NULL,
    facts TEXT[] NOT NULL DEFAULT '{}',
    images TEXT[] NOT NULL DEFAULT '{}',

    CONSTRAINT valid_order CHECK (ord > 0),
    CONSTRAINT valid_threshold CHECK (threshold_km >= 0)
);

-- Achievement catalog; rule is a tagged predicate
CREATE TABLE IF NOT EXISTS achievements (
    id VARCHAR(50) PRIMARY KEY,
    name VARCHAR(100) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    rule_kind VARCHAR(30) NOT NULL,
    threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
    activity VARCHAR(10) NOT NULL DEFAULT '',
    -- catalog order decides the order achievements are announced in
    position INTEGER NOT NULL DEFAULT 0
);

-- Session log (append-only, deletions allowed)
CREATE TABLE IF NOT EXISTS training_entries (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(100) NOT NULL,
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
    distance_km DOUBLE PRECISION NOT NULL,
    activity VARCHAR(10) NOT NULL,
    note TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_distance CHECK (distance_km > 0),
    CONSTRAINT valid_activity CHECK (activity IN ('run', 'bike', 'walk', 'ski', 'other'))
);

CREATE INDEX IF NOT EXISTS idx_training_entries_user_time ON training_entries(user_id, occurred_at, id);

-- Derived progression state, guarded by version
CREATE TABLE IF NOT EXISTS user_progress (
    user_id VARCHAR(100) PRIMARY KEY,
    cumulative_km DOUBLE PRECISION NOT NULL DEFAULT 0,
    current_order INTEGER NOT NULL DEFAULT 0,
    points BIGINT NOT NULL DEFAULT 0,
    level INTEGER NOT NULL DEFAULT 1,
    entry_count INTEGER NOT NULL DEFAULT 0,
    version BIGINT NOT NULL DEFAULT 1,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_cumulative CHECK (cumulative_km >= 0),
    CONSTRAINT valid_points CHECK (points >= 0)
);

CREATE INDEX IF NOT EXISTS idx_user_progress_km ON user_progress(cumulative_km DESC);

CREATE TABLE IF NOT EXISTS unlocked_destinations (
    user_id VARCHAR(100) NOT NULL REFERENCES user_progress(user_id) ON DELETE CASCADE,
    ord INTEGER NOT NULL,
    PRIMARY KEY (user_id, ord)
);

CREATE TABLE IF NOT EXISTS earned_achievements (
    user_id VARCHAR(100) NOT NULL REFERENCES user_progress(user_id) ON DELETE CASCADE,
    achievement_id VARCHAR(50) NOT NULL,
    PRIMARY KEY (user_id, achievement_id)
);
`

const migration001Down = `
DROP TABLE IF EXISTS earned_achievements;
DROP TABLE IF EXISTS unlocked_destinations;
DROP TABLE IF EXISTS user_progress;
DROP TABLE IF EXISTS training_entries;
DROP TABLE IF EXISTS achievements;
DROP TABLE IF EXISTS destinations;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE CHALLENGES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Time-boxed distance challenges
-- Version: 002

CREATE TABLE IF NOT EXISTS challenges (
    id VARCHAR(50) PRIMARY KEY,
    name VARCHAR(100) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    start_date DATE NOT NULL,
    end_date DATE NOT NULL,
    target_km DOUBLE PRECISION NOT NULL,
    activity VARCHAR(10) NOT NULL DEFAULT '',

    CONSTRAINT valid_window CHECK (end_date >= start_date),
    CONSTRAINT valid_target CHECK (target_km > 0)
);

CREATE TABLE IF NOT EXISTS challenge_members (
    challenge_id VARCHAR(50) NOT NULL REFERENCES challenges(id) ON DELETE CASCADE,
    user_id VARCHAR(100) NOT NULL,
    joined_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    PRIMARY KEY (challenge_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_challenge_members_user ON challenge_members(user_id);
`

const migration002Down = `
DROP TABLE IF EXISTS challenge_members;
DROP TABLE IF EXISTS challenges;
`
