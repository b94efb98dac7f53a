package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	sqlStore
	config Config
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS stacks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		armed BOOLEAN NOT NULL DEFAULT 0,
		theme TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS steps (
		id TEXT PRIMARY KEY,
		stack_id TEXT NOT NULL REFERENCES stacks(id),
		title TEXT NOT NULL,
		kind TEXT NOT NULL,
		ord INTEGER NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		hour INTEGER,
		minute INTEGER,
		weekday INTEGER,
		duration_ns BIGINT NOT NULL DEFAULT 0,
		offset_ns BIGINT,
		allow_snooze BOOLEAN NOT NULL DEFAULT 0,
		snooze_minutes INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_steps_stack ON steps(stack_id)`,
}

// NewSQLiteStore creates a new SQLite store. An empty path opens an
// in-memory database.
func NewSQLiteStore(config Config) (*SQLiteStore, error) {
	path := config.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(1) // SQLite works best with a single connection
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxAge > 0 {
		db.SetConnMaxLifetime(config.ConnMaxAge)
	}

	s := &SQLiteStore{
		sqlStore: sqlStore{
			db:       db,
			rebind:   func(q string) string { return q },
			schemaDo: sqliteSchema,
		},
		config: config,
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return s, nil
}
