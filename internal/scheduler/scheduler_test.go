package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alarmstacks/alarmstacks/internal/history"
	"github.com/alarmstacks/alarmstacks/internal/mirror"
	"github.com/alarmstacks/alarmstacks/internal/model"
)

// fakeBackend records calls and fails scheduling for chosen step titles.
type fakeBackend struct {
	mu            sync.Mutex
	name          string
	available     bool
	unarmedPolicy bool
	failSteps     map[string]error
	scheduled     []Occurrence
	cancelled     []string
	authErr       error
}

func newFakeBackend(name string) *fakeBackend {
	return &fakeBackend{name: name, available: true, failSteps: map[string]error{}}
}

func (b *fakeBackend) Name() string             { return b.name }
func (b *fakeBackend) Available() bool          { return b.available }
func (b *fakeBackend) ReschedulesUnarmed() bool { return b.unarmedPolicy }

func (b *fakeBackend) RequestAuthorization(context.Context) error { return b.authErr }

func (b *fakeBackend) Schedule(_ context.Context, occ Occurrence) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failSteps[occ.StepTitle]; err != nil {
		return err
	}
	b.scheduled = append(b.scheduled, occ)
	return nil
}

func (b *fakeBackend) CancelAll(_ context.Context, stackID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, stackID)
	kept := b.scheduled[:0]
	for _, occ := range b.scheduled {
		if occ.StackID != stackID {
			kept = append(kept, occ)
		}
	}
	b.scheduled = kept
	return nil
}

func (b *fakeBackend) scheduledCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.scheduled)
}

func (b *fakeBackend) cancelCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cancelled)
}

func timerStack(name string, durations ...time.Duration) *model.Stack {
	st := model.NewStack(name)
	for i, d := range durations {
		step := model.NewStep(name+"-step", model.KindTimer, i)
		step.Duration = d
		st.Steps = append(st.Steps, step)
	}
	return st
}

func newTestFacade(primary, fallback Backend) *Facade {
	return NewFacade(primary, fallback, mirror.New(mirror.NewMemKV(), mirror.NewMemKV()))
}

func TestResolveChainChainsAgainstPrevious(t *testing.T) {
	st := model.NewStack("Morning")
	wake := model.NewStep("wake", model.KindFixedTime, 0)
	h, m := 7, 0
	wake.Hour, wake.Minute = &h, &m
	getUp := model.NewStep("get up", model.KindRelative, 1)
	off := 600 * time.Second
	getUp.Offset = &off
	st.Steps = []model.Step{wake, getUp}

	ref := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)
	occs, err := ResolveChain(st, ref, time.UTC)
	if err != nil {
		t.Fatalf("resolve chain: %v", err)
	}
	if len(occs) != 2 {
		t.Fatalf("expected two occurrences, got %d", len(occs))
	}
	if want := time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC); !occs[0].FireAt.Equal(want) {
		t.Fatalf("first: got %v want %v", occs[0].FireAt, want)
	}
	if want := time.Date(2025, 3, 10, 7, 10, 0, 0, time.UTC); !occs[1].FireAt.Equal(want) {
		t.Fatalf("second resolves against first, got %v want %v", occs[1].FireAt, want)
	}
	if occs[0].ChainOffset != 0 || occs[1].ChainOffset != 10*time.Minute {
		t.Fatalf("chain offsets: %v %v", occs[0].ChainOffset, occs[1].ChainOffset)
	}
	if occs[0].AlarmID == occs[1].AlarmID || occs[0].AlarmID == "" {
		t.Fatalf("alarm ids not unique: %q %q", occs[0].AlarmID, occs[1].AlarmID)
	}
}

func TestResolveChainSkipsDisabledSteps(t *testing.T) {
	st := timerStack("s", time.Minute, time.Minute*2)
	st.Steps[0].Enabled = false
	occs, err := ResolveChain(st, time.Now(), time.UTC)
	if err != nil {
		t.Fatalf("resolve chain: %v", err)
	}
	if len(occs) != 1 {
		t.Fatalf("expected one occurrence, got %d", len(occs))
	}
}

func TestFacadePrefersPrimaryWhenAvailable(t *testing.T) {
	primary := newFakeBackend("alarmkit")
	fallback := newFakeBackend("notify")
	f := newTestFacade(primary, fallback)

	if got := f.Active().Name(); got != "alarmkit" {
		t.Fatalf("expected primary, got %q", got)
	}
	primary.available = false
	if got := f.Active().Name(); got != "notify" {
		t.Fatalf("expected fallback when primary unavailable, got %q", got)
	}
}

func TestFacadeForceFallbackOverridesAvailability(t *testing.T) {
	primary := newFakeBackend("alarmkit")
	fallback := newFakeBackend("notify")
	f := newTestFacade(primary, fallback)

	f.SetForceFallback(true)
	if got := f.Active().Name(); got != "notify" {
		t.Fatalf("expected fallback under force flag, got %q", got)
	}
	f.SetForceFallback(false)
	if got := f.Active().Name(); got != "alarmkit" {
		t.Fatalf("expected primary after clearing flag, got %q", got)
	}
}

func TestScheduleContinuesPastStepFailure(t *testing.T) {
	primary := newFakeBackend("alarmkit")
	f := newTestFacade(primary, newFakeBackend("notify"))

	st := model.NewStack("partial")
	good := model.NewStep("good", model.KindTimer, 0)
	good.Duration = time.Minute
	bad := model.NewStep("bad", model.KindTimer, 1)
	bad.Duration = time.Minute
	st.Steps = []model.Step{good, bad}
	primary.failSteps["bad"] = errors.New("boom")

	occs, err := f.Schedule(context.Background(), st, time.UTC)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if len(occs) != 1 || occs[0].StepTitle != "good" {
		t.Fatalf("expected the good step scheduled, got %+v", occs)
	}
	if primary.scheduledCount() != 1 {
		t.Fatalf("backend scheduled %d", primary.scheduledCount())
	}
}

func TestScheduleWritesMirrorEntries(t *testing.T) {
	primary := newFakeBackend("alarmkit")
	mir := mirror.New(mirror.NewMemKV(), mirror.NewMemKV())
	f := NewFacade(primary, newFakeBackend("notify"), mir)

	st := timerStack("mirrored", time.Minute, 2*time.Minute)
	occs, err := f.Schedule(context.Background(), st, time.UTC)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	ids := mir.AlarmIDs(st.ID)
	if len(ids) != len(occs) {
		t.Fatalf("mirror tracks %d ids, scheduled %d", len(ids), len(occs))
	}
	entry, ok := mir.Load(occs[0].AlarmID)
	if !ok {
		t.Fatal("expected mirror entry for first occurrence")
	}
	if entry.StackName != "mirrored" || !entry.Target.Equal(occs[0].FireAt) {
		t.Fatalf("unexpected mirror entry: %+v", entry)
	}
}

func TestCancelAllClearsMirror(t *testing.T) {
	primary := newFakeBackend("alarmkit")
	mir := mirror.New(mirror.NewMemKV(), mirror.NewMemKV())
	f := NewFacade(primary, newFakeBackend("notify"), mir)

	st := timerStack("gone", time.Minute)
	if _, err := f.Schedule(context.Background(), st, time.UTC); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := f.CancelAll(context.Background(), st); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if ids := mir.AlarmIDs(st.ID); len(ids) != 0 {
		t.Fatalf("mirror ids survived cancel: %v", ids)
	}
	if primary.cancelCount() != 1 {
		t.Fatalf("backend cancel count %d", primary.cancelCount())
	}
}

func TestRescheduleAllFallbackSkipsUnarmed(t *testing.T) {
	fallback := newFakeBackend("notify") // unarmedPolicy=false
	f := newTestFacade(newFakeBackend("alarmkit"), fallback)
	f.SetForceFallback(true)

	armed := timerStack("armed", time.Minute)
	armed.Armed = true
	disarmed := timerStack("disarmed", time.Minute)

	f.RescheduleAll(context.Background(), []*model.Stack{armed, disarmed}, time.UTC)

	if fallback.cancelCount() != 1 {
		t.Fatalf("fallback must only touch armed stacks, cancels=%d", fallback.cancelCount())
	}
	if fallback.scheduledCount() != 1 {
		t.Fatalf("expected one rescheduled occurrence, got %d", fallback.scheduledCount())
	}
}

func TestRescheduleAllPrimaryCancelsUnarmedToo(t *testing.T) {
	primary := newFakeBackend("alarmkit")
	primary.unarmedPolicy = true
	f := newTestFacade(primary, newFakeBackend("notify"))

	armed := timerStack("armed", time.Minute)
	armed.Armed = true
	disarmed := timerStack("disarmed", time.Minute)

	f.RescheduleAll(context.Background(), []*model.Stack{armed, disarmed}, time.UTC)

	if primary.cancelCount() != 2 {
		t.Fatalf("primary reprocesses every stack, cancels=%d", primary.cancelCount())
	}
	// Only the armed stack is re-scheduled after cancellation.
	if primary.scheduledCount() != 1 {
		t.Fatalf("expected one rescheduled occurrence, got %d", primary.scheduledCount())
	}
}

func TestScheduleOneRecordsMirror(t *testing.T) {
	primary := newFakeBackend("alarmkit")
	mir := mirror.New(mirror.NewMemKV(), mirror.NewMemKV())
	f := NewFacade(primary, newFakeBackend("notify"), mir)

	occ := Occurrence{
		AlarmID: "a1.snooze", StackID: "s1", StackName: "morning",
		StepTitle: "wake", FireAt: time.Now().Add(9 * time.Minute),
	}
	if err := f.ScheduleOne(context.Background(), occ); err != nil {
		t.Fatalf("schedule one: %v", err)
	}
	if _, ok := mir.Load("a1.snooze"); !ok {
		t.Fatal("expected mirror entry for snoozed occurrence")
	}
}

func TestMarkFiredClearsMirrorEntry(t *testing.T) {
	primary := newFakeBackend("alarmkit")
	mir := mirror.New(mirror.NewMemKV(), mirror.NewMemKV())
	f := NewFacade(primary, newFakeBackend("notify"), mir)

	st := timerStack("fired", time.Minute)
	occs, err := f.Schedule(context.Background(), st, time.UTC)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	f.MarkFired(context.Background(), occs[0])
	if _, ok := mir.Load(occs[0].AlarmID); ok {
		t.Fatal("mirror entry survived fire")
	}
}

func TestAuthorizationDenialPropagates(t *testing.T) {
	primary := newFakeBackend("alarmkit")
	primary.authErr = ErrAuthorizationDenied
	f := newTestFacade(primary, newFakeBackend("notify"))
	err := f.RequestAuthorizationIfNeeded(context.Background())
	if !errors.Is(err, ErrAuthorizationDenied) {
		t.Fatalf("expected denial to propagate, got %v", err)
	}
}

// sinkFunc adapts a function to the history.Sink interface.
type sinkFunc func(e history.Event)

func (f sinkFunc) Send(_ context.Context, e history.Event) error {
	f(e)
	return nil
}

func TestScheduleEmitsHistoryEvents(t *testing.T) {
	primary := newFakeBackend("alarmkit")
	f := newTestFacade(primary, newFakeBackend("notify"))
	var mu sync.Mutex
	var got []history.EventType
	f.SetHistorySinks(sinkFunc(func(e history.Event) {
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
	}))

	st := timerStack("evented", time.Minute)
	if _, err := f.Schedule(context.Background(), st, time.UTC); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != history.EventScheduled {
		t.Fatalf("expected one scheduled event, got %v", got)
	}
}

func TestSkippedStepEmitsSkippedEvent(t *testing.T) {
	primary := newFakeBackend("alarmkit")
	f := newTestFacade(primary, newFakeBackend("notify"))
	var mu sync.Mutex
	var got []history.EventType
	f.SetHistorySinks(sinkFunc(func(e history.Event) {
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
	}))

	st := timerStack("broken", time.Minute)
	primary.failSteps["broken-step"] = errors.New("boom")
	if _, err := f.Schedule(context.Background(), st, time.UTC); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != history.EventSkipped {
		t.Fatalf("expected one skipped event, got %v", got)
	}
}
