package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/alarmstacks/alarmstacks/internal/model"
)

// sqlStore holds the SQL shared by the sqlite and postgres stores; only the
// dialect hooks differ.
type sqlStore struct {
	db       *sql.DB
	rebind   func(query string) string // converts ? placeholders when needed
	schemaDo []string
}

func (s *sqlStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.schemaDo {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) Close() error { return s.db.Close() }

func (s *sqlStore) SaveStack(ctx context.Context, st *model.Stack) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM steps WHERE stack_id = ?`), st.ID); err != nil {
		return fmt.Errorf("failed to clear steps: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM stacks WHERE id = ?`), st.ID); err != nil {
		return fmt.Errorf("failed to clear stack: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO stacks (id, name, armed, theme, created_at) VALUES (?, ?, ?, ?, ?)`),
		st.ID, st.Name, st.Armed, st.Theme, st.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to insert stack: %w", err)
	}
	for _, step := range st.Steps {
		var hour, minute, weekday sql.NullInt64
		if step.Hour != nil {
			hour = sql.NullInt64{Int64: int64(*step.Hour), Valid: true}
		}
		if step.Minute != nil {
			minute = sql.NullInt64{Int64: int64(*step.Minute), Valid: true}
		}
		if step.Weekday != nil {
			weekday = sql.NullInt64{Int64: int64(*step.Weekday), Valid: true}
		}
		var offset sql.NullInt64
		if step.Offset != nil {
			offset = sql.NullInt64{Int64: int64(*step.Offset), Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			s.rebind(`INSERT INTO steps
				(id, stack_id, title, kind, ord, enabled, created_at, hour, minute, weekday, duration_ns, offset_ns, allow_snooze, snooze_minutes)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			step.ID, st.ID, step.Title, string(step.Kind), step.Order, step.Enabled,
			step.CreatedAt.UTC(), hour, minute, weekday, int64(step.Duration), offset,
			step.AllowSnooze, step.SnoozeMinutes); err != nil {
			return fmt.Errorf("failed to insert step %q: %w", step.Title, err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) GetStack(ctx context.Context, id string) (*model.Stack, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, name, armed, theme, created_at FROM stacks WHERE id = ?`), id)
	st, err := scanStack(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stack: %w", err)
	}
	if err := s.loadSteps(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *sqlStore) ListStacks(ctx context.Context) ([]*model.Stack, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, armed, theme, created_at FROM stacks`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stacks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stacks []*model.Stack
	for rows.Next() {
		st, err := scanStack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stack: %w", err)
		}
		stacks = append(stacks, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, st := range stacks {
		if err := s.loadSteps(ctx, st); err != nil {
			return nil, err
		}
	}
	sort.Slice(stacks, func(i, j int) bool { return stacks[i].CreatedAt.Before(stacks[j].CreatedAt) })
	return stacks, nil
}

func (s *sqlStore) DeleteStack(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM steps WHERE stack_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete steps: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM stacks WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete stack: %w", err)
	}
	return tx.Commit()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanStack(r rowScanner) (*model.Stack, error) {
	var st model.Stack
	var created time.Time
	if err := r.Scan(&st.ID, &st.Name, &st.Armed, &st.Theme, &created); err != nil {
		return nil, err
	}
	st.CreatedAt = created
	return &st, nil
}

func (s *sqlStore) loadSteps(ctx context.Context, st *model.Stack) error {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT id, title, kind, ord, enabled, created_at, hour, minute, weekday, duration_ns, offset_ns, allow_snooze, snooze_minutes
			FROM steps WHERE stack_id = ? ORDER BY ord`), st.ID)
	if err != nil {
		return fmt.Errorf("failed to load steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var step model.Step
		var kind string
		var created time.Time
		var hour, minute, weekday, offset sql.NullInt64
		var durationNS int64
		if err := rows.Scan(&step.ID, &step.Title, &kind, &step.Order, &step.Enabled, &created,
			&hour, &minute, &weekday, &durationNS, &offset, &step.AllowSnooze, &step.SnoozeMinutes); err != nil {
			return fmt.Errorf("failed to scan step: %w", err)
		}
		step.Kind = model.StepKind(kind)
		step.CreatedAt = created
		step.Duration = time.Duration(durationNS)
		if hour.Valid {
			h := int(hour.Int64)
			step.Hour = &h
		}
		if minute.Valid {
			m := int(minute.Int64)
			step.Minute = &m
		}
		if weekday.Valid {
			wd := time.Weekday(weekday.Int64)
			step.Weekday = &wd
		}
		if offset.Valid {
			d := time.Duration(offset.Int64)
			step.Offset = &d
		}
		st.Steps = append(st.Steps, step)
	}
	return rows.Err()
}
