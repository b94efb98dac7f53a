package resolve

import (
	"errors"
	"testing"
	"time"

	"github.com/alarmstacks/alarmstacks/internal/model"
)

func fixedStep(hour, minute int) model.Step {
	s := model.NewStep("fixed", model.KindFixedTime, 0)
	s.Hour, s.Minute = &hour, &minute
	return s
}

func TestTimerStep(t *testing.T) {
	s := model.NewStep("t", model.KindTimer, 0)
	s.Duration = 90 * time.Second
	ref := time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)
	got, err := NextFireTime(s, ref, time.UTC)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := ref.Add(90 * time.Second); !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestTimerStepRejectsZeroDuration(t *testing.T) {
	s := model.NewStep("t", model.KindTimer, 0)
	_, err := NextFireTime(s, time.Now(), time.UTC)
	if !errors.Is(err, model.ErrInvalidStep) {
		t.Fatalf("expected ErrInvalidStep, got %v", err)
	}
}

func TestRelativeStepSignedOffset(t *testing.T) {
	ref := time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)
	for _, off := range []time.Duration{10 * time.Minute, -5 * time.Minute} {
		s := model.NewStep("r", model.KindRelative, 0)
		o := off
		s.Offset = &o
		got, err := NextFireTime(s, ref, time.UTC)
		if err != nil {
			t.Fatalf("resolve offset %v: %v", off, err)
		}
		if want := ref.Add(off); !got.Equal(want) {
			t.Fatalf("offset %v: got %v want %v", off, got, want)
		}
	}
}

func TestFixedTimeTodayWhenStillAhead(t *testing.T) {
	ref := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	got, err := NextFireTime(fixedStep(11, 30), ref, time.UTC)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := time.Date(2025, 3, 10, 11, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestFixedTimeRollsToTomorrow(t *testing.T) {
	ref := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	got, err := NextFireTime(fixedStep(9, 0), ref, time.UTC)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestFixedTimeExactRefRollsToTomorrow(t *testing.T) {
	// "Strictly in the future": a candidate equal to ref is already gone.
	ref := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	got, err := NextFireTime(fixedStep(9, 0), ref, time.UTC)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestWeekdayMatchNextWantedDay(t *testing.T) {
	// 2025-03-10 is a Monday.
	ref := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s := fixedStep(7, 30)
	wd := time.Sunday
	s.Weekday = &wd
	got, err := NextFireTime(s, ref, time.UTC)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := time.Date(2025, 3, 16, 7, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestWeekdayMatchSameDayStillAhead(t *testing.T) {
	// Seconds below the minute must not shift the match: 06:59:30 on the
	// wanted weekday still matches 07:00 that same day.
	ref := time.Date(2025, 3, 10, 6, 59, 30, 0, time.UTC) // Monday
	s := fixedStep(7, 0)
	wd := time.Monday
	s.Weekday = &wd
	got, err := NextFireTime(s, ref, time.UTC)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestWeekdayMatchPassedRollsToNextWeek(t *testing.T) {
	ref := time.Date(2025, 3, 10, 7, 0, 30, 0, time.UTC) // Monday, 30s past
	s := fixedStep(7, 0)
	wd := time.Monday
	s.Weekday = &wd
	got, err := NextFireTime(s, ref, time.UTC)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := time.Date(2025, 3, 17, 7, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestFixedTimeAcrossSpringForward(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}
	// DST starts 2025-03-09 02:00 in New York: the wall clock jumps an hour,
	// so 23:00 Saturday to 08:00 Sunday is eight real hours, not nine.
	ref := time.Date(2025, 3, 8, 23, 0, 0, 0, loc)
	got, err := NextFireTime(fixedStep(8, 0), ref, loc)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := time.Date(2025, 3, 9, 8, 0, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if d := got.Sub(ref); d != 8*time.Hour {
		t.Fatalf("expected 8h across spring forward, got %v", d)
	}
}

func TestNilLocationDefaultsToLocal(t *testing.T) {
	s := model.NewStep("t", model.KindTimer, 0)
	s.Duration = time.Minute
	if _, err := NextFireTime(s, time.Now(), nil); err != nil {
		t.Fatalf("resolve with nil location: %v", err)
	}
}
