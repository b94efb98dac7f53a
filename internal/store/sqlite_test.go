package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alarmstacks/alarmstacks/internal/model"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(Config{Type: "sqlite"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func sampleStack() *model.Stack {
	st := model.NewStack("morning")
	st.Armed = true
	st.Theme = "sunrise"

	fixed := model.NewStep("wake", model.KindFixedTime, 0)
	h, m := 7, 30
	fixed.Hour, fixed.Minute = &h, &m
	wd := time.Monday
	fixed.Weekday = &wd
	fixed.AllowSnooze = true
	fixed.SnoozeMinutes = 9

	timer := model.NewStep("shower", model.KindTimer, 1)
	timer.Duration = 10 * time.Minute

	rel := model.NewStep("leave", model.KindRelative, 2)
	off := -5 * time.Minute
	rel.Offset = &off
	rel.Enabled = false

	st.Steps = []model.Step{fixed, timer, rel}
	return st
}

func TestSaveAndGetStackRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	st := sampleStack()

	if err := s.SaveStack(ctx, st); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.GetStack(ctx, st.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "morning" || !got.Armed || got.Theme != "sunrise" {
		t.Fatalf("unexpected stack: %+v", got)
	}
	if len(got.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(got.Steps))
	}

	fixed := got.Steps[0]
	if fixed.Kind != model.KindFixedTime || fixed.Hour == nil || *fixed.Hour != 7 ||
		fixed.Minute == nil || *fixed.Minute != 30 {
		t.Fatalf("fixed step lost fields: %+v", fixed)
	}
	if fixed.Weekday == nil || *fixed.Weekday != time.Monday {
		t.Fatalf("weekday lost: %+v", fixed.Weekday)
	}
	if !fixed.AllowSnooze || fixed.SnoozeMinutes != 9 {
		t.Fatalf("snooze policy lost: %+v", fixed)
	}

	timer := got.Steps[1]
	if timer.Kind != model.KindTimer || timer.Duration != 10*time.Minute {
		t.Fatalf("timer step lost duration: %+v", timer)
	}
	if timer.Hour != nil || timer.Weekday != nil || timer.Offset != nil {
		t.Fatalf("unset fields must stay nil: %+v", timer)
	}

	rel := got.Steps[2]
	if rel.Kind != model.KindRelative || rel.Offset == nil || *rel.Offset != -5*time.Minute {
		t.Fatalf("relative step lost offset: %+v", rel)
	}
	if rel.Enabled {
		t.Fatal("disabled flag lost")
	}
}

func TestSaveStackReplacesSteps(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	st := sampleStack()
	if err := s.SaveStack(ctx, st); err != nil {
		t.Fatalf("save: %v", err)
	}

	st.Steps = st.Steps[:1]
	st.Armed = false
	if err := s.SaveStack(ctx, st); err != nil {
		t.Fatalf("re-save: %v", err)
	}
	got, err := s.GetStack(ctx, st.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Steps) != 1 || got.Armed {
		t.Fatalf("re-save did not replace state: %+v", got)
	}
}

func TestGetStackNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetStack(context.Background(), "no-such-id")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListStacksOrderedByCreation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older := model.NewStack("older")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := model.NewStack("newer")
	for _, st := range []*model.Stack{newer, older} {
		if err := s.SaveStack(ctx, st); err != nil {
			t.Fatalf("save %s: %v", st.Name, err)
		}
	}
	got, err := s.ListStacks(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Name != "older" || got[1].Name != "newer" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestDeleteStack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	st := sampleStack()
	if err := s.SaveStack(ctx, st); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.DeleteStack(ctx, st.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetStack(ctx, st.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	// Deleting an absent stack is not an error.
	if err := s.DeleteStack(ctx, st.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestFactoryCreatesByType(t *testing.T) {
	s, err := CreateStore(Config{Type: "sqlite"})
	if err != nil {
		t.Fatalf("factory sqlite: %v", err)
	}
	_ = s.Close()

	if _, err := CreateStore(Config{Type: "mystery"}); err == nil {
		t.Fatal("expected unsupported type to fail")
	}

	types := SupportedTypes()
	seen := map[string]bool{}
	for _, typ := range types {
		seen[typ] = true
	}
	for _, want := range []string{"sqlite", "postgresql", "postgres"} {
		if !seen[want] {
			t.Fatalf("missing supported type %q in %v", want, types)
		}
	}
}
