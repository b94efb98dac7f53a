package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// AuthFunc asks the platform for alarm authorization. A nil AuthFunc means
// authorization is implicitly granted.
type AuthFunc func(ctx context.Context) error

// AlarmKit is the primary backend: one precise timer per occurrence. It is
// preferred whenever the capability is available and the force-fallback flag
// is off.
type AlarmKit struct {
	mu         sync.Mutex
	timers     map[string]map[string]*time.Timer // stack id -> alarm id -> timer
	fire       FireFunc
	auth       AuthFunc
	authorized bool
	disabled   bool
	logger     *slog.Logger
}

func NewAlarmKit(fire FireFunc, auth AuthFunc) *AlarmKit {
	return &AlarmKit{
		timers: make(map[string]map[string]*time.Timer),
		fire:   fire,
		auth:   auth,
		logger: slog.Default().With("backend", "alarmkit"),
	}
}

func (b *AlarmKit) Name() string { return "alarmkit" }

func (b *AlarmKit) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.disabled
}

// SetAvailable toggles capability detection; used when the platform reports
// the alarm service lost or regained.
func (b *AlarmKit) SetAvailable(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disabled = !ok
}

func (b *AlarmKit) ReschedulesUnarmed() bool { return true }

// RequestAuthorization asks once and caches success. Denial is surfaced,
// never swallowed.
func (b *AlarmKit) RequestAuthorization(ctx context.Context) error {
	b.mu.Lock()
	if b.authorized || b.auth == nil {
		b.authorized = true
		b.mu.Unlock()
		return nil
	}
	auth := b.auth
	b.mu.Unlock()

	if err := auth(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthorizationDenied, err)
	}
	b.mu.Lock()
	b.authorized = true
	b.mu.Unlock()
	return nil
}

// Schedule arms a timer for the occurrence. An occurrence already in the
// past rings immediately.
func (b *AlarmKit) Schedule(_ context.Context, occ Occurrence) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disabled {
		return fmt.Errorf("%w: alarmkit disabled", ErrBackendUnavailable)
	}
	perStack := b.timers[occ.StackID]
	if perStack == nil {
		perStack = make(map[string]*time.Timer)
		b.timers[occ.StackID] = perStack
	}
	d := time.Until(occ.FireAt)
	perStack[occ.AlarmID] = time.AfterFunc(d, func() {
		b.mu.Lock()
		if m := b.timers[occ.StackID]; m != nil {
			delete(m, occ.AlarmID)
			if len(m) == 0 {
				delete(b.timers, occ.StackID)
			}
		}
		fire := b.fire
		b.mu.Unlock()
		if fire != nil {
			fire(occ)
		}
	})
	b.logger.Debug("occurrence armed", "stack", occ.StackID, "alarm", occ.AlarmID, "fire_at", occ.FireAt)
	return nil
}

func (b *AlarmKit) CancelAll(_ context.Context, stackID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, t := range b.timers[stackID] {
		t.Stop()
		delete(b.timers[stackID], id)
	}
	delete(b.timers, stackID)
	return nil
}

// Pending returns the alarm ids still armed for a stack.
func (b *AlarmKit) Pending(stackID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.timers[stackID]))
	for id := range b.timers[stackID] {
		out = append(out, id)
	}
	return out
}
