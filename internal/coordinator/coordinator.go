// Package coordinator holds the app-level orchestration on top of the
// scheduler facade, the live-activity manager and the cross-process mirror:
// foreground re-arm, orphan sanitisation and background-wake entry points.
// Wake-style entry points assume no warm in-memory cache; everything they
// need is reconstructed from the mirror and the persistence store.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alarmstacks/alarmstacks/internal/liveactivity"
	"github.com/alarmstacks/alarmstacks/internal/mirror"
	"github.com/alarmstacks/alarmstacks/internal/model"
	"github.com/alarmstacks/alarmstacks/internal/scheduler"
	"github.com/alarmstacks/alarmstacks/internal/store"
)

// Coordinator wires the durable stores to the scheduling and live-status
// components. It is the composition point for all re-entrant entry points.
type Coordinator struct {
	st     store.Store
	facade *scheduler.Facade
	acts   *liveactivity.Manager
	mir    *mirror.Mirror
	loc    *time.Location
	logger *slog.Logger

	themeMu sync.Mutex
	theme   string

	resync  *cron.Cron
	entryID cron.EntryID
}

func New(st store.Store, facade *scheduler.Facade, acts *liveactivity.Manager, mir *mirror.Mirror, loc *time.Location, theme string) *Coordinator {
	if loc == nil {
		loc = time.Local
	}
	return &Coordinator{
		st:     st,
		facade: facade,
		acts:   acts,
		mir:    mir,
		loc:    loc,
		theme:  theme,
		logger: slog.Default().With("component", "coordinator"),
	}
}

// ScheduleStack schedules every enabled step of the stack and plans the
// live-activity prearm attempts for the first occurrence. Returns the
// scheduled alarm ids.
func (c *Coordinator) ScheduleStack(ctx context.Context, st *model.Stack) ([]string, error) {
	if !st.Armable() {
		return nil, fmt.Errorf("stack %q has no enabled steps", st.Name)
	}
	occs, err := c.facade.Schedule(ctx, st, c.loc)
	if err != nil {
		return nil, err
	}
	if len(occs) > 0 {
		first := occs[0]
		req := liveactivity.Request{
			StackID:     st.ID,
			StackName:   st.Name,
			StepTitle:   first.StepTitle,
			AlarmID:     first.AlarmID,
			EndsAt:      first.FireAt,
			AllowSnooze: first.AllowSnooze,
			Accent:      c.currentTheme(),
		}
		c.acts.SchedulePrearms(req)
		c.acts.Nudge(ctx, req)
	}
	ids := make([]string, 0, len(occs))
	for _, o := range occs {
		ids = append(ids, o.AlarmID)
	}
	return ids, nil
}

// CancelStack drops the stack's pending occurrences, prearms and activity.
func (c *Coordinator) CancelStack(ctx context.Context, st *model.Stack) error {
	err := c.facade.CancelAll(ctx, st)
	c.acts.Stop(ctx, st.ID)
	return err
}

// HandleFire is invoked by a backend when an occurrence rings. It exports
// history, marks the live activity fired and clears the mirror entry. No
// failure here may affect the already-rung alarm.
func (c *Coordinator) HandleFire(occ scheduler.Occurrence) {
	ctx := context.Background()
	now := time.Now()
	c.logger.Info("occurrence fired", "stack", occ.StackName, "step", occ.StepTitle, "alarm", occ.AlarmID)
	c.acts.MarkFired(ctx, occ.StackID, now)
	c.facade.MarkFired(ctx, occ)
}

// Snooze schedules a one-shot re-ring of a fired occurrence. Minutes of
// zero uses the step's policy default of nine minutes.
func (c *Coordinator) Snooze(ctx context.Context, occ scheduler.Occurrence, now time.Time) error {
	if !occ.AllowSnooze {
		return fmt.Errorf("step %q does not allow snooze", occ.StepTitle)
	}
	minutes := occ.SnoozeMinutes
	if minutes <= 0 {
		minutes = 9
	}
	snoozed := occ
	snoozed.FireAt = now.Add(time.Duration(minutes) * time.Minute)
	snoozed.AlarmID = occ.AlarmID + ".snooze"
	return c.facade.ScheduleOne(ctx, snoozed)
}

// Rearm is the foreground re-arm pass: reload every stack from the
// persistence store and reschedule through the facade. Entry point for app
// launch and return-to-foreground.
func (c *Coordinator) Rearm(ctx context.Context) error {
	stacks, err := c.st.ListStacks(ctx)
	if err != nil {
		return fmt.Errorf("rearm: %w", err)
	}
	c.facade.RescheduleAll(ctx, stacks, c.loc)
	for _, st := range stacks {
		if !st.Armed || !st.Armable() {
			continue
		}
		// Replan prearms off the mirror so the pass works from durable
		// state alone.
		for _, alarmID := range c.mir.AlarmIDs(st.ID) {
			entry, ok := c.mir.Load(alarmID)
			if !ok || entry.Target.IsZero() {
				continue
			}
			c.acts.SchedulePrearms(liveactivity.Request{
				StackID:     st.ID,
				StackName:   entry.StackName,
				StepTitle:   entry.StepTitle,
				AlarmID:     alarmID,
				EndsAt:      entry.Target,
				AllowSnooze: entry.AllowSnooze,
				Accent:      c.currentTheme(),
			})
			break // first tracked occurrence only
		}
	}
	return nil
}

// Sanitize cancels alarms whose stack no longer exists or is disarmed, and
// sweeps terminal live activities. Tolerates mirror entries for occurrences
// already considered cancelled elsewhere.
func (c *Coordinator) Sanitize(ctx context.Context) error {
	var firstErr error
	for _, stackID := range c.mir.StackIDs() {
		st, err := c.st.GetStack(ctx, stackID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.logger.Info("cancelling orphaned alarms", "stack", stackID)
			if err := c.facade.CancelAllByID(ctx, stackID); err != nil && firstErr == nil {
				firstErr = err
			}
			c.acts.Stop(ctx, stackID)
		case err != nil:
			if firstErr == nil {
				firstErr = err
			}
		case !st.Armed:
			c.logger.Info("cancelling alarms for disarmed stack", "stack", stackID)
			if err := c.facade.CancelAllByID(ctx, stackID); err != nil && firstErr == nil {
				firstErr = err
			}
			c.acts.Stop(ctx, stackID)
		}
	}
	c.acts.Sweep(ctx, 0)
	return firstErr
}

// Wake is the background-wake entry point for a single alarm id, invoked
// with no warm cache: the display context comes from the mirror alone.
func (c *Coordinator) Wake(ctx context.Context, alarmID string) {
	entry, ok := c.mir.Load(alarmID)
	if !ok {
		c.logger.Warn("wake for unknown alarm", "alarm", alarmID)
		return
	}
	req := liveactivity.Request{
		StackID:     entry.StackID,
		StackName:   entry.StackName,
		StepTitle:   entry.StepTitle,
		AlarmID:     alarmID,
		EndsAt:      entry.Target,
		AllowSnooze: entry.AllowSnooze,
		Accent:      c.currentTheme(),
	}
	c.acts.Start(ctx, req)
	if !entry.Target.IsZero() && !entry.Target.After(time.Now()) {
		c.acts.MarkFired(ctx, entry.StackID, entry.Target)
	}
}

// SetTheme updates the accent colour and pushes it to live activities.
func (c *Coordinator) SetTheme(ctx context.Context, theme string) {
	c.themeMu.Lock()
	c.theme = theme
	c.themeMu.Unlock()
	c.acts.ResyncTheme(ctx, theme)
}

func (c *Coordinator) currentTheme() string {
	c.themeMu.Lock()
	defer c.themeMu.Unlock()
	return c.theme
}

// StartResync launches the periodic rearm+sanitize pass on the given cron
// schedule (e.g. "@every 5m").
func (c *Coordinator) StartResync(schedule string) error {
	if c.resync != nil {
		return errors.New("resync already started")
	}
	runner := cron.New()
	id, err := runner.AddFunc(schedule, func() {
		ctx := context.Background()
		if err := c.Rearm(ctx); err != nil {
			c.logger.Warn("periodic rearm failed", "error", err)
		}
		if err := c.Sanitize(ctx); err != nil {
			c.logger.Warn("periodic sanitize failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule resync %q: %w", schedule, err)
	}
	c.resync = runner
	c.entryID = id
	runner.Start()
	c.logger.Info("resync scheduled", "schedule", schedule)
	return nil
}

// StopResync cancels the periodic pass. Idempotent.
func (c *Coordinator) StopResync() {
	if c.resync == nil {
		return
	}
	c.resync.Stop()
	c.resync = nil
}
