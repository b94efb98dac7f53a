package liveactivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// flakyPresenter fails the first n Request calls, then delegates to a fake.
type flakyPresenter struct {
	mu   sync.Mutex
	fail int
	*FakePresenter
}

func (p *flakyPresenter) Request(ctx context.Context, attrs Attributes, state ContentState) (Handle, error) {
	p.mu.Lock()
	if p.fail > 0 {
		p.fail--
		p.mu.Unlock()
		return "", errors.New("transient")
	}
	p.mu.Unlock()
	return p.FakePresenter.Request(ctx, attrs, state)
}

func testManager(pres Presenter) (*Manager, *time.Time) {
	m := NewManager(pres, Config{})
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	now := base
	m.now = func() time.Time { return now }
	m.sleep = func(time.Duration) {}
	return m, &now
}

func req(stackID string, endsAt time.Time) Request {
	return Request{
		StackID:   stackID,
		StackName: "stack " + stackID,
		StepTitle: "wake",
		AlarmID:   stackID + "-alarm",
		EndsAt:    endsAt,
	}
}

func TestStartCreatesThenRefreshes(t *testing.T) {
	pres := NewFakePresenter()
	m, now := testManager(pres)
	ctx := context.Background()

	m.Start(ctx, req("a", now.Add(time.Minute)))
	if live := m.Live(); len(live) != 1 || live[0] != "a" {
		t.Fatalf("expected [a], got %v", live)
	}

	// Second Start for the same stack updates in place, no second record.
	r := req("a", now.Add(2*time.Minute))
	r.StepTitle = "second step"
	m.Start(ctx, r)
	if live := m.Live(); len(live) != 1 {
		t.Fatalf("expected one record after refresh, got %v", live)
	}
	handles, _ := pres.Active(ctx)
	if len(handles) != 1 {
		t.Fatalf("expected one presented activity, got %d", len(handles))
	}
	st, ok := pres.State(handles[0])
	if !ok || st.StepTitle != "second step" {
		t.Fatalf("refresh did not reach presenter: %+v", st)
	}
}

func TestCapEvictsOldestFirst(t *testing.T) {
	pres := NewFakePresenter()
	m, now := testManager(pres)
	ctx := context.Background()

	m.Start(ctx, req("old", now.Add(time.Minute)))
	m.Start(ctx, req("new", now.Add(time.Minute)))

	live := m.Live()
	if len(live) != 1 || live[0] != "new" {
		t.Fatalf("expected cap of one with oldest evicted, got %v", live)
	}
	handles, _ := pres.Active(ctx)
	if len(handles) != 1 {
		t.Fatalf("evicted activity still presented: %v", handles)
	}
}

func TestMarkFiredSetExactlyOnce(t *testing.T) {
	pres := NewFakePresenter()
	m, now := testManager(pres)
	ctx := context.Background()

	m.Start(ctx, req("a", now.Add(time.Minute)))
	first := now.Add(time.Minute)
	m.MarkFired(ctx, "a", first)
	m.MarkFired(ctx, "a", first.Add(30*time.Second))

	got, ok := m.FiredAt("a")
	if !ok {
		t.Fatal("expected a fired timestamp")
	}
	if got.Unix() != first.Unix() {
		t.Fatalf("fired timestamp moved: got %v want %v", got, first)
	}
}

func TestMarkFiredUnknownStackIsNoop(t *testing.T) {
	m, now := testManager(NewFakePresenter())
	m.MarkFired(context.Background(), "ghost", *now)
	if _, ok := m.FiredAt("ghost"); ok {
		t.Fatal("fired timestamp for stack that never existed")
	}
}

func TestRequestRetriesAfterEndingAll(t *testing.T) {
	pres := &flakyPresenter{fail: 1, FakePresenter: NewFakePresenter()}
	m, now := testManager(pres)
	ctx := context.Background()

	m.Start(ctx, req("a", now.Add(time.Minute)))
	if live := m.Live(); len(live) != 1 || live[0] != "a" {
		t.Fatalf("expected retry to succeed, got %v", live)
	}
}

func TestDoubleFailureEntersCooldownAndSkipsPrearms(t *testing.T) {
	pres := NewFakePresenter()
	m, now := testManager(pres)
	ctx := context.Background()

	pres.FailRequests(errors.New("down"))
	m.Start(ctx, req("a", now.Add(time.Minute)))
	if live := m.Live(); len(live) != 0 {
		t.Fatalf("expected no record after double failure, got %v", live)
	}

	// Prearm-driven creates are suppressed during the cooldown, even when
	// the presenter has recovered.
	pres.FailRequests(nil)
	m.mu.Lock()
	m.startLocked(ctx, req("a", now.Add(time.Minute)), true)
	m.mu.Unlock()
	if live := m.Live(); len(live) != 0 {
		t.Fatalf("expected prearm skip during cooldown, got %v", live)
	}

	// A direct user-driven Start is not suppressed.
	m.Start(ctx, req("a", now.Add(time.Minute)))
	if live := m.Live(); len(live) != 1 {
		t.Fatalf("expected direct start to bypass cooldown, got %v", live)
	}
}

func TestNudgeOnlyWithinLead(t *testing.T) {
	pres := NewFakePresenter()
	m, now := testManager(pres)
	ctx := context.Background()

	m.Nudge(ctx, req("far", now.Add(10*time.Minute)))
	if live := m.Live(); len(live) != 0 {
		t.Fatalf("nudge acted on a far target: %v", live)
	}
	m.Nudge(ctx, req("near", now.Add(time.Minute)))
	if live := m.Live(); len(live) != 1 || live[0] != "near" {
		t.Fatalf("nudge did not act on a near target: %v", live)
	}
}

func TestSweepStaleAndMalformed(t *testing.T) {
	pres := NewFakePresenter()
	m, now := testManager(pres)
	ctx := context.Background()

	m.Start(ctx, Request{StackID: "ok", StackName: "keep", StepTitle: "s", EndsAt: now.Add(time.Minute)})
	if live := m.Live(); len(live) != 1 {
		t.Fatalf("setup: %v", live)
	}

	// Move time past the end instant but inside the grace window: kept.
	*now = now.Add(90 * time.Second)
	m.Sweep(ctx, 0)
	if live := m.Live(); len(live) != 1 {
		t.Fatalf("swept inside grace window: %v", live)
	}

	// Past the grace window: swept.
	*now = now.Add(2 * time.Minute)
	m.Sweep(ctx, 0)
	if live := m.Live(); len(live) != 0 {
		t.Fatalf("stale record survived sweep: %v", live)
	}

	// Malformed record (no stack name) goes on the next sweep.
	m.Start(ctx, Request{StackID: "broken", EndsAt: now.Add(time.Minute)})
	m.Sweep(ctx, 0)
	if live := m.Live(); len(live) != 0 {
		t.Fatalf("malformed record survived sweep: %v", live)
	}
}

func TestSweepFarFutureProtectsFreshRecords(t *testing.T) {
	pres := NewFakePresenter()
	m, now := testManager(pres)
	ctx := context.Background()

	m.Start(ctx, req("a", now.Add(time.Hour)))

	// Just created: the far-future rule must not apply yet.
	m.Sweep(ctx, 0)
	if live := m.Live(); len(live) != 1 {
		t.Fatalf("fresh far-future record swept: %v", live)
	}

	// Once no longer fresh, an end instant beyond the window is bogus.
	*now = now.Add(time.Minute)
	m.Sweep(ctx, 0)
	if live := m.Live(); len(live) != 0 {
		t.Fatalf("far-future record survived sweep: %v", live)
	}
}

func TestSweepExplicitWindowOverride(t *testing.T) {
	pres := NewFakePresenter()
	m, now := testManager(pres)
	ctx := context.Background()

	m.Start(ctx, req("a", now.Add(time.Hour)))
	*now = now.Add(time.Minute)

	// The caller knows the real lead time; a wide window keeps the record.
	m.Sweep(ctx, 2*time.Hour)
	if live := m.Live(); len(live) != 1 {
		t.Fatalf("record swept despite explicit window: %v", live)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	pres := NewFakePresenter()
	m, now := testManager(pres)
	ctx := context.Background()

	m.Start(ctx, req("a", now.Add(time.Minute)))
	m.Stop(ctx, "a")
	m.Stop(ctx, "a")
	m.Stop(ctx, "never-existed")
	if live := m.Live(); len(live) != 0 {
		t.Fatalf("expected nothing live, got %v", live)
	}
}

func TestSchedulePrearmsReplacesPrevious(t *testing.T) {
	pres := NewFakePresenter()
	m, now := testManager(pres)

	first := m.SchedulePrearms(req("a", now.Add(10*time.Minute)))
	if len(first) == 0 {
		t.Fatal("expected planned attempts")
	}
	second := m.SchedulePrearms(req("a", now.Add(20*time.Minute)))
	if len(second) == 0 {
		t.Fatal("expected replanned attempts")
	}
	m.mu.Lock()
	timers := len(m.prearms["a"])
	m.mu.Unlock()
	if timers != len(second) {
		t.Fatalf("expected %d live timers after replan, got %d", len(second), timers)
	}
	m.CancelPrearms("a")
	m.mu.Lock()
	timers = len(m.prearms["a"])
	m.mu.Unlock()
	if timers != 0 {
		t.Fatalf("expected no timers after cancel, got %d", timers)
	}
}
