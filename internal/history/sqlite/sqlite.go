package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/alarmstacks/alarmstacks/internal/history"
)

// Sink persists events into a local SQLite database. Suited to on-device
// diagnostics where no external analytics system is reachable.
type Sink struct {
	db    *sql.DB
	table string
}

func New(path, table string) (*Sink, error) {
	if path == "" {
		path = ":memory:"
	}
	if table == "" {
		table = "alarm_events"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Sink{db: db, table: table}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		type TEXT NOT NULL,
		occurred_at TIMESTAMP NOT NULL,
		stack_id TEXT NOT NULL,
		stack_name TEXT,
		step_title TEXT,
		alarm_id TEXT,
		backend TEXT,
		fire_at TIMESTAMP,
		detail TEXT
	)`, s.table))
	if err != nil {
		return fmt.Errorf("failed to ensure history schema: %w", err)
	}
	return nil
}

func (s *Sink) Close() error { return s.db.Close() }

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (type, occurred_at, stack_id, stack_name, step_title, alarm_id, backend, fire_at, detail) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table),
		string(e.Type), e.OccurredAt, e.StackID, e.StackName, e.StepTitle, e.AlarmID, e.Backend, e.FireAt, e.Detail)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Count returns the number of stored events of a type, for tests and
// diagnostics.
func (s *Sink) Count(ctx context.Context, typ history.EventType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE type = ?`, s.table), string(typ)).Scan(&n)
	return n, err
}
