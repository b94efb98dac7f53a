package store

import (
	"context"
	"errors"
	"time"

	"github.com/alarmstacks/alarmstacks/internal/model"
)

// ErrNotFound is returned when no stack exists for the given id.
var ErrNotFound = errors.New("stack not found")

// Config represents configuration for the persistence store.
type Config struct {
	Type string `toml:"type" mapstructure:"type"` // "sqlite" or "postgres"

	// SQLite specific
	Path string `toml:"path,omitempty" mapstructure:"path"`

	// PostgreSQL specific
	DSN string `toml:"dsn,omitempty" mapstructure:"dsn"`

	// Connection pooling
	MaxOpenConns int           `toml:"max_open_conns,omitempty" mapstructure:"max_open_conns"`
	MaxIdleConns int           `toml:"max_idle_conns,omitempty" mapstructure:"max_idle_conns"`
	ConnMaxAge   time.Duration `toml:"conn_max_age,omitempty" mapstructure:"conn_max_age"`
}

// Store persists stacks and their steps. Steps are owned by their stack:
// saving a stack replaces its steps, deleting a stack deletes them.
type Store interface {
	EnsureSchema(ctx context.Context) error
	SaveStack(ctx context.Context, st *model.Stack) error
	GetStack(ctx context.Context, id string) (*model.Stack, error)
	ListStacks(ctx context.Context) ([]*model.Stack, error)
	DeleteStack(ctx context.Context, id string) error
	Close() error
}
