package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alarmstacks/alarmstacks/internal/model"
	"github.com/alarmstacks/alarmstacks/internal/resolve"
)

var (
	// ErrAuthorizationDenied is surfaced to the caller, never swallowed.
	ErrAuthorizationDenied = errors.New("alarm authorization denied")
	// ErrScheduleFailed marks a per-occurrence failure; siblings still get
	// scheduled.
	ErrScheduleFailed = errors.New("schedule failed")
	// ErrBackendUnavailable is returned when a backend cannot accept work.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Occurrence pairs a step with its resolved fire instant and the alarm id
// assigned at schedule time. Occurrences are runtime-only; each scheduling
// pass rebuilds them from stack state.
type Occurrence struct {
	AlarmID       string
	StackID       string
	StackName     string
	StepID        string
	StepTitle     string
	FireAt        time.Time
	AllowSnooze   bool
	SnoozeMinutes int
	// ChainOffset is the distance from the first occurrence in the chain.
	ChainOffset time.Duration
}

// FireFunc is invoked by a backend when an occurrence rings.
type FireFunc func(occ Occurrence)

// Backend is the scheduling capability contract. Two implementations exist:
// the alarmkit backend (preferred, high reliability) and the notification
// fallback.
type Backend interface {
	Name() string
	// Available reports whether the platform capability backing this
	// backend can be used right now.
	Available() bool
	RequestAuthorization(ctx context.Context) error
	// Schedule registers a single occurrence. Implementations assign no
	// meaning to the occurrence beyond ringing it at FireAt.
	Schedule(ctx context.Context, occ Occurrence) error
	// CancelAll drops every pending occurrence for the stack.
	CancelAll(ctx context.Context, stackID string) error
	// ReschedulesUnarmed reports the reschedule-all policy: the primary
	// backend reprocesses every stack, the fallback only armed ones.
	ReschedulesUnarmed() bool
}

// ResolveChain computes an occurrence for every enabled step of the stack.
// The first step resolves against ref; each later step resolves against the
// previous step's resolved instant, so relative-offset and timer steps chain.
func ResolveChain(stack *model.Stack, ref time.Time, loc *time.Location) ([]Occurrence, error) {
	steps := stack.EnabledSteps()
	occs := make([]Occurrence, 0, len(steps))
	prev := ref
	var first time.Time
	for _, step := range steps {
		at, err := resolve.NextFireTime(step, prev, loc)
		if err != nil {
			return nil, fmt.Errorf("stack %q step %q: %w", stack.Name, step.Title, err)
		}
		if first.IsZero() {
			first = at
		}
		occs = append(occs, Occurrence{
			AlarmID:       uuid.NewString(),
			StackID:       stack.ID,
			StackName:     stack.Name,
			StepID:        step.ID,
			StepTitle:     step.Title,
			FireAt:        at,
			AllowSnooze:   step.AllowSnooze,
			SnoozeMinutes: step.SnoozeMinutes,
			ChainOffset:   at.Sub(first),
		})
		prev = at
	}
	return occs, nil
}
