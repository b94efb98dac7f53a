// Package liveactivity owns the on-screen activity records that mirror a
// stack's next alarm: prearm attempt planning, create/update/end lifecycle,
// the concurrent-activity cap, the grace window before teardown and the
// cooldown after repeated request failures.
package liveactivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alarmstacks/alarmstacks/internal/metrics"
)

// Config tunes the lifecycle manager. Zero fields fall back to defaults.
type Config struct {
	// Cap is the maximum number of concurrently live activities across all
	// stacks. Creating past the cap force-ends the oldest record first.
	Cap int
	// Grace is how long past a record's end instant it is left alone
	// before teardown. Deliberately generous so a record is not torn down
	// moments before it is needed.
	Grace time.Duration
	// Cooldown is the suppression window entered after a create fails
	// twice. Prearm-driven creates inside the window are skipped.
	Cooldown time.Duration
	// NudgeLead is the largest lead time at which a nudge request is
	// allowed to create an activity.
	NudgeLead time.Duration
	// SweepWindow is the default far-future window for Sweep; records
	// ending beyond it are considered bogus unless just created. Callers
	// that know the real lead time pass an explicit override.
	SweepWindow time.Duration
	// FreshGrace protects just-created records from the far-future rule.
	FreshGrace time.Duration
	// RetryPause is the pause before the single create retry.
	RetryPause time.Duration

	Planner PlannerConfig
}

func (c Config) withDefaults() Config {
	if c.Cap <= 0 {
		c.Cap = 1
	}
	if c.Grace <= 0 {
		c.Grace = 90 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Minute
	}
	if c.NudgeLead <= 0 {
		c.NudgeLead = 90 * time.Second
	}
	if c.SweepWindow <= 0 {
		c.SweepWindow = 8 * time.Minute
	}
	if c.FreshGrace <= 0 {
		c.FreshGrace = 10 * time.Second
	}
	if c.RetryPause <= 0 {
		c.RetryPause = 100 * time.Millisecond
	}
	c.Planner = c.Planner.WithDefaults()
	return c
}

// Request carries everything needed to create or refresh one stack's
// activity. EndsAt is the effective fire instant of the step being surfaced.
type Request struct {
	StackID     string
	StackName   string
	StepTitle   string
	AlarmID     string
	EndsAt      time.Time
	AllowSnooze bool
	Accent      string
}

type record struct {
	handle    Handle
	attrs     Attributes
	state     ContentState
	endsAt    time.Time
	createdAt time.Time
	deadline  time.Time // staleness deadline, refreshed on every update
}

// Manager serializes all activity mutations behind one mutex so concurrent
// create/update/end calls for the same stack never interleave against a
// stale handle.
type Manager struct {
	mu   sync.Mutex
	cfg  Config
	pres Presenter

	records map[string]*record // keyed by stack id
	order   []string           // creation order, oldest first

	prearms map[string][]*time.Timer

	cooldownUntil time.Time

	logger *slog.Logger
	now    func() time.Time
	sleep  func(time.Duration)
}

func NewManager(pres Presenter, cfg Config) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		pres:    pres,
		records: make(map[string]*record),
		prearms: make(map[string][]*time.Timer),
		logger:  slog.Default().With("component", "liveactivity"),
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

// Start brings the stack's activity live, creating it if absent and
// refreshing it otherwise. Failures never propagate to the scheduling path:
// they are retried once, then suppressed for the cooldown window.
func (m *Manager) Start(ctx context.Context, req Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startLocked(ctx, req, false)
}

// Nudge is a cheap opportunistic Start that only acts when the lead time is
// short enough to matter.
func (m *Manager) Nudge(ctx context.Context, req Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lead := req.EndsAt.Sub(m.now()); lead > m.cfg.NudgeLead {
		return
	}
	m.startLocked(ctx, req, false)
}

// SchedulePrearms plans prearm attempts for req.EndsAt and arms timers that
// re-issue Start at each instant. Previously scheduled prearms for the same
// stack are dropped first.
func (m *Manager) SchedulePrearms(req Request) []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelPrearmsLocked(req.StackID)
	attempts := PlannedAttempts(m.cfg.Planner, req.EndsAt, m.now())
	timers := make([]*time.Timer, 0, len(attempts))
	for _, at := range attempts {
		timers = append(timers, time.AfterFunc(at.Sub(m.now()), func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			metrics.IncPrearmAttempt(req.StackID)
			m.startLocked(context.Background(), req, true)
		}))
	}
	m.prearms[req.StackID] = timers
	return attempts
}

// CancelPrearms drops any pending prearm timers for the stack.
func (m *Manager) CancelPrearms(stackID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelPrearmsLocked(stackID)
}

func (m *Manager) cancelPrearmsLocked(stackID string) {
	for _, t := range m.prearms[stackID] {
		t.Stop()
	}
	delete(m.prearms, stackID)
}

func (m *Manager) startLocked(ctx context.Context, req Request, fromPrearm bool) {
	now := m.now()

	if rec, ok := m.records[req.StackID]; ok {
		rec.state.StepTitle = req.StepTitle
		rec.state.EndsAt = req.EndsAt.Unix()
		rec.state.AllowSnooze = req.AllowSnooze
		rec.state.AlarmID = req.AlarmID
		if req.Accent != "" {
			rec.state.Accent = req.Accent
		}
		rec.endsAt = req.EndsAt
		rec.deadline = now.Add(m.cfg.Grace)
		if err := m.pres.Update(ctx, rec.handle, rec.state); err != nil {
			m.logger.Warn("activity update failed", "stack", req.StackID, "error", err)
		}
		return
	}

	if fromPrearm && now.Before(m.cooldownUntil) {
		m.logger.Info("prearm skipped during cooldown",
			"stack", req.StackID, "until", m.cooldownUntil)
		metrics.IncCooldownSkip(req.StackID)
		return
	}

	// Cap enforcement: force-end the oldest records until there is room.
	for len(m.records) >= m.cfg.Cap && len(m.order) > 0 {
		oldest := m.order[0]
		m.logger.Info("activity cap reached, evicting oldest", "evicted", oldest, "for", req.StackID)
		metrics.IncActivityEviction(oldest)
		m.endLocked(ctx, oldest, DismissImmediate)
	}

	attrs := Attributes{StackID: req.StackID, StackName: req.StackName}
	state := ContentState{
		StepTitle:   req.StepTitle,
		EndsAt:      req.EndsAt.Unix(),
		AllowSnooze: req.AllowSnooze,
		AlarmID:     req.AlarmID,
		Accent:      req.Accent,
	}

	h, err := m.pres.Request(ctx, attrs, state)
	if err != nil {
		m.logger.Warn("activity request failed, retrying once", "stack", req.StackID, "error", err)
		for id := range m.records {
			m.endLocked(ctx, id, DismissImmediate)
		}
		m.sleep(m.cfg.RetryPause)
		h, err = m.pres.Request(ctx, attrs, state)
	}
	if err != nil {
		m.cooldownUntil = m.now().Add(m.cfg.Cooldown)
		m.logger.Error("activity request failed twice, entering cooldown",
			"stack", req.StackID, "cooldown", m.cfg.Cooldown, "error", err)
		metrics.IncActivityFailure(req.StackID)
		return
	}

	m.records[req.StackID] = &record{
		handle:    h,
		attrs:     attrs,
		state:     state,
		endsAt:    req.EndsAt,
		createdAt: now,
		deadline:  now.Add(m.cfg.Grace),
	}
	m.order = append(m.order, req.StackID)
	metrics.SetActivitiesLive(len(m.records))
	m.logger.Debug("activity started", "stack", req.StackID, "ends_at", req.EndsAt)
}

// MarkFired records the first observed fire instant for the stack's activity
// and pushes the updated state. The fired timestamp is set exactly once;
// later fire events refresh the staleness deadline only.
func (m *Manager) MarkFired(ctx context.Context, stackID string, firedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[stackID]
	if !ok {
		return
	}
	if rec.state.FiredAtUnix == 0 {
		rec.state.FiredAtUnix = firedAt.Unix()
	}
	rec.deadline = m.now().Add(m.cfg.Grace)
	if err := m.pres.Update(ctx, rec.handle, rec.state); err != nil {
		m.logger.Warn("fired update failed", "stack", stackID, "error", err)
	}
}

// ResyncTheme pushes a new accent colour to every live activity.
func (m *Manager) ResyncTheme(ctx context.Context, accent string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.records {
		rec.state.Accent = accent
		if err := m.pres.Update(ctx, rec.handle, rec.state); err != nil {
			m.logger.Warn("theme resync failed", "stack", id, "error", err)
		}
	}
}

// Stop ends the stack's activity immediately. Stopping an absent record is a
// no-op.
func (m *Manager) Stop(ctx context.Context, stackID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelPrearmsLocked(stackID)
	m.endLocked(ctx, stackID, DismissImmediate)
}

// Sweep ends records that are terminal: end instant more than the grace
// period in the past, required display fields missing, or end instant
// implausibly far in the future. window overrides the far-future horizon;
// pass zero for the configured default. Just-created records are protected
// from the far-future rule so a routine sweep cannot tear down an activity
// whose real lead time the caller did not know.
func (m *Manager) Sweep(ctx context.Context, window time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if window <= 0 {
		window = m.cfg.SweepWindow
	}
	now := m.now()
	for _, id := range append([]string(nil), m.order...) {
		rec, ok := m.records[id]
		if !ok {
			continue
		}
		switch {
		case rec.attrs.StackName == "" || rec.endsAt.IsZero():
			m.logger.Info("sweeping malformed activity", "stack", id)
			m.endLocked(ctx, id, DismissImmediate)
		case now.Sub(rec.endsAt) > m.cfg.Grace:
			m.logger.Info("sweeping stale activity", "stack", id, "ended", rec.endsAt)
			m.endLocked(ctx, id, DismissDefault)
		case rec.endsAt.Sub(now) > window && now.Sub(rec.createdAt) > m.cfg.FreshGrace:
			m.logger.Info("sweeping far-future activity", "stack", id, "ends_at", rec.endsAt)
			m.endLocked(ctx, id, DismissImmediate)
		}
	}
}

// Live returns the stack ids with a live record, oldest first.
func (m *Manager) Live() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// FiredAt returns the recorded fire instant for a stack, if any.
func (m *Manager) FiredAt(stackID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[stackID]
	if !ok || rec.state.FiredAtUnix == 0 {
		return time.Time{}, false
	}
	return time.Unix(rec.state.FiredAtUnix, 0), true
}

func (m *Manager) endLocked(ctx context.Context, stackID string, d Dismissal) {
	rec, ok := m.records[stackID]
	if !ok {
		return
	}
	if err := m.pres.End(ctx, rec.handle, rec.state, d); err != nil {
		m.logger.Warn("activity end failed", "stack", stackID, "error", err)
	}
	delete(m.records, stackID)
	for i, id := range m.order {
		if id == stackID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	metrics.SetActivitiesLive(len(m.records))
}
