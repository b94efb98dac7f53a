// Package scheduler coordinates the preferred alarmkit backend and the
// notification fallback behind one uniform interface.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alarmstacks/alarmstacks/internal/history"
	"github.com/alarmstacks/alarmstacks/internal/metrics"
	"github.com/alarmstacks/alarmstacks/internal/mirror"
	"github.com/alarmstacks/alarmstacks/internal/model"
)

// Facade selects which backend handles each call based on the runtime
// force-fallback flag and platform availability, and presents one uniform
// interface to the rest of the app.
type Facade struct {
	mu            sync.Mutex
	primary       Backend
	fallback      Backend
	forceFallback bool
	mir           *mirror.Mirror
	sinks         []history.Sink
	logger        *slog.Logger
	now           func() time.Time
}

func NewFacade(primary, fallback Backend, mir *mirror.Mirror) *Facade {
	return &Facade{
		primary:  primary,
		fallback: fallback,
		mir:      mir,
		logger:   slog.Default().With("component", "scheduler"),
		now:      time.Now,
	}
}

// SetHistorySinks configures external history sinks. Passing no sinks clears
// the list.
func (f *Facade) SetHistorySinks(sinks ...history.Sink) {
	f.mu.Lock()
	f.sinks = append([]history.Sink(nil), sinks...)
	f.mu.Unlock()
}

// SetForceFallback flips the runtime flag that routes every call to the
// fallback backend regardless of primary availability.
func (f *Facade) SetForceFallback(v bool) {
	f.mu.Lock()
	f.forceFallback = v
	f.mu.Unlock()
}

func (f *Facade) ForceFallback() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forceFallback
}

// Active returns the backend that would handle the next call.
func (f *Facade) Active() Backend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeLocked()
}

func (f *Facade) activeLocked() Backend {
	if !f.forceFallback && f.primary.Available() {
		return f.primary
	}
	return f.fallback
}

// RequestAuthorizationIfNeeded asks the active backend for authorization.
// Denial propagates to the caller; it is actionable ("permission needed").
func (f *Facade) RequestAuthorizationIfNeeded(ctx context.Context) error {
	return f.Active().RequestAuthorization(ctx)
}

// Schedule resolves the stack's step chain and schedules every occurrence on
// the active backend. One step's failure does not abort its siblings: the
// returned ids are the successfully scheduled subset. Each success writes a
// mirror entry so a cold process can reconstruct context.
func (f *Facade) Schedule(ctx context.Context, stack *model.Stack, loc *time.Location) ([]Occurrence, error) {
	occs, err := ResolveChain(stack, f.nowFn(), loc)
	if err != nil {
		return nil, err
	}
	backend := f.Active()

	scheduled := make([]Occurrence, 0, len(occs))
	for _, occ := range occs {
		if err := backend.Schedule(ctx, occ); err != nil {
			f.logger.Warn("occurrence schedule failed, continuing with siblings",
				"stack", stack.Name, "step", occ.StepTitle, "error", err)
			metrics.IncScheduleFailure(backend.Name())
			f.emit(ctx, history.Event{
				Type: history.EventSkipped, OccurredAt: f.nowFn(),
				StackID: occ.StackID, StackName: occ.StackName, StepTitle: occ.StepTitle,
				AlarmID: occ.AlarmID, Backend: backend.Name(), FireAt: occ.FireAt,
				Detail: err.Error(),
			})
			continue
		}
		f.recordMirror(occ)
		metrics.IncScheduled(backend.Name())
		f.emit(ctx, history.Event{
			Type: history.EventScheduled, OccurredAt: f.nowFn(),
			StackID: occ.StackID, StackName: occ.StackName, StepTitle: occ.StepTitle,
			AlarmID: occ.AlarmID, Backend: backend.Name(), FireAt: occ.FireAt,
		})
		scheduled = append(scheduled, occ)
	}
	return scheduled, nil
}

// ScheduleOne schedules a single pre-built occurrence (snooze re-arms use
// this path) and records its mirror entry.
func (f *Facade) ScheduleOne(ctx context.Context, occ Occurrence) error {
	backend := f.Active()
	if err := backend.Schedule(ctx, occ); err != nil {
		metrics.IncScheduleFailure(backend.Name())
		return err
	}
	f.recordMirror(occ)
	metrics.IncScheduled(backend.Name())
	f.emit(ctx, history.Event{
		Type: history.EventScheduled, OccurredAt: f.nowFn(),
		StackID: occ.StackID, StackName: occ.StackName, StepTitle: occ.StepTitle,
		AlarmID: occ.AlarmID, Backend: backend.Name(), FireAt: occ.FireAt,
	})
	return nil
}

// CancelAll drops every pending occurrence for the stack on the active
// backend and clears the stack's mirror entries.
func (f *Facade) CancelAll(ctx context.Context, stack *model.Stack) error {
	backend := f.Active()
	err := backend.CancelAll(ctx, stack.ID)
	metrics.IncCancelAll(backend.Name())
	for _, id := range f.mir.AlarmIDs(stack.ID) {
		f.mir.Remove(stack.ID, id)
		f.emit(ctx, history.Event{
			Type: history.EventCancelled, OccurredAt: f.nowFn(),
			StackID: stack.ID, StackName: stack.Name, AlarmID: id, Backend: backend.Name(),
		})
	}
	return err
}

// CancelAllByID is CancelAll for callers that only hold a stack id (orphan
// sanitisation after the record itself is gone).
func (f *Facade) CancelAllByID(ctx context.Context, stackID string) error {
	backend := f.Active()
	err := backend.CancelAll(ctx, stackID)
	for _, id := range f.mir.AlarmIDs(stackID) {
		f.mir.Remove(stackID, id)
	}
	return err
}

// RescheduleAll cancels and re-schedules stacks. The fallback backend only
// reprocesses armed stacks; the primary reprocesses unconditionally. Per-
// stack failures are logged and do not stop the pass.
func (f *Facade) RescheduleAll(ctx context.Context, stacks []*model.Stack, loc *time.Location) {
	backend := f.Active()
	for _, st := range stacks {
		if !st.Armed && !backend.ReschedulesUnarmed() {
			continue
		}
		if err := f.CancelAll(ctx, st); err != nil {
			f.logger.Warn("cancel during reschedule failed", "stack", st.Name, "error", err)
		}
		if !st.Armed || !st.Armable() {
			continue
		}
		if _, err := f.Schedule(ctx, st, loc); err != nil {
			f.logger.Warn("reschedule failed", "stack", st.Name, "error", err)
		}
	}
}

// MarkFired records a fire event for the occurrence: history export plus
// mirror cleanup. The backend already rang the alarm; nothing here may fail
// in a way that affects it.
func (f *Facade) MarkFired(ctx context.Context, occ Occurrence) {
	backend := f.Active()
	metrics.IncFired(backend.Name())
	f.mir.Remove(occ.StackID, occ.AlarmID)
	f.emit(ctx, history.Event{
		Type: history.EventFired, OccurredAt: f.nowFn(),
		StackID: occ.StackID, StackName: occ.StackName, StepTitle: occ.StepTitle,
		AlarmID: occ.AlarmID, Backend: backend.Name(), FireAt: occ.FireAt,
	})
}

func (f *Facade) recordMirror(occ Occurrence) {
	nominal := occ.FireAt
	chain := occ.ChainOffset
	err := f.mir.Record(occ.StackID, occ.AlarmID, mirror.Entry{
		StackID:     occ.StackID,
		StackName:   occ.StackName,
		StepTitle:   occ.StepTitle,
		AllowSnooze: occ.AllowSnooze,
		Target:      occ.FireAt,
		Nominal:     &nominal,
		ChainOffset: &chain,
	})
	if err != nil {
		f.logger.Warn("mirror write failed", "stack", occ.StackID, "alarm", occ.AlarmID, "error", err)
	}
}

func (f *Facade) emit(ctx context.Context, e history.Event) {
	f.mu.Lock()
	sinks := append([]history.Sink(nil), f.sinks...)
	f.mu.Unlock()
	for _, s := range sinks {
		_ = s.Send(ctx, e)
	}
}

func (f *Facade) nowFn() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now()
}
