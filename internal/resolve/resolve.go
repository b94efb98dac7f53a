// Package resolve computes the next absolute fire instant for a step.
// It is pure: all results derive from the step, the reference instant and
// the caller-supplied location. Honoring the caller's location matters for
// correctness across DST transitions.
package resolve

import (
	"fmt"
	"time"

	"github.com/alarmstacks/alarmstacks/internal/model"
)

// NextFireTime returns the next fire instant for step at or after ref.
//
//   - timer: ref + duration (duration must be > 0)
//   - relative: ref + offset (offset is signed; no clamping here)
//   - fixed_time without weekday: today at hour:minute if still strictly in
//     the future, otherwise the same wall-clock time tomorrow
//   - fixed_time with weekday: the next instant at or after ref whose
//     weekday, hour and minute all match; seconds below the minute never
//     perturb the match
func NextFireTime(step model.Step, ref time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if err := step.Validate(); err != nil {
		return time.Time{}, err
	}
	switch step.Kind {
	case model.KindTimer:
		return ref.Add(step.Duration), nil
	case model.KindRelative:
		return ref.Add(*step.Offset), nil
	case model.KindFixedTime:
		if step.Weekday != nil {
			return nextWeekdayMatch(ref.In(loc), *step.Weekday, *step.Hour, *step.Minute)
		}
		return nextWallClock(ref.In(loc), *step.Hour, *step.Minute), nil
	}
	return time.Time{}, fmt.Errorf("%w: unknown kind %q", model.ErrInvalidStep, step.Kind)
}

// nextWallClock returns today at hour:minute when that is strictly after
// ref, otherwise tomorrow at the same wall-clock time.
func nextWallClock(ref time.Time, hour, minute int) time.Time {
	candidate := time.Date(ref.Year(), ref.Month(), ref.Day(), hour, minute, 0, 0, ref.Location())
	if candidate.After(ref) {
		return candidate
	}
	next := ref.AddDate(0, 0, 1)
	return time.Date(next.Year(), next.Month(), next.Day(), hour, minute, 0, 0, ref.Location())
}

// nextWeekdayMatch walks forward day by day from ref's date and returns the
// first hour:minute instant on the wanted weekday that is not before ref.
// The candidate is built from whole date components, so ref's seconds and
// subseconds cannot shift the match off the minute.
func nextWeekdayMatch(ref time.Time, wd time.Weekday, hour, minute int) (time.Time, error) {
	for day := 0; day <= 7; day++ {
		d := ref.AddDate(0, 0, day)
		if d.Weekday() != wd {
			continue
		}
		candidate := time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, ref.Location())
		if candidate.Before(ref) {
			continue
		}
		return candidate, nil
	}
	// Unreachable for a sane Gregorian calendar; defined error path anyway.
	return time.Time{}, fmt.Errorf("%w: no instant matches weekday=%s %02d:%02d", model.ErrInvalidStep, wd, hour, minute)
}
