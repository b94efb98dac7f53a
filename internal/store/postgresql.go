package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgreSQLStore implements Store using PostgreSQL via the pgx stdlib
// driver.
type PostgreSQLStore struct {
	sqlStore
	config Config
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS stacks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		armed BOOLEAN NOT NULL DEFAULT FALSE,
		theme TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS steps (
		id TEXT PRIMARY KEY,
		stack_id TEXT NOT NULL REFERENCES stacks(id),
		title TEXT NOT NULL,
		kind TEXT NOT NULL,
		ord INTEGER NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		hour INTEGER,
		minute INTEGER,
		weekday INTEGER,
		duration_ns BIGINT NOT NULL DEFAULT 0,
		offset_ns BIGINT,
		allow_snooze BOOLEAN NOT NULL DEFAULT FALSE,
		snooze_minutes INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_steps_stack ON steps(stack_id)`,
}

// NewPostgreSQLStore creates a new PostgreSQL store from a DSN.
func NewPostgreSQLStore(config Config) (*PostgreSQLStore, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("postgres store requires a dsn")
	}
	db, err := sql.Open("pgx", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxAge > 0 {
		db.SetConnMaxLifetime(config.ConnMaxAge)
	}

	s := &PostgreSQLStore{
		sqlStore: sqlStore{
			db:       db,
			rebind:   rebindPositional,
			schemaDo: postgresSchema,
		},
		config: config,
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	return s, nil
}

// rebindPositional converts ? placeholders to $1, $2, ...
func rebindPositional(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
