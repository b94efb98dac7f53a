package liveactivity

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

// Presenter errors. Capacity triggers cap eviction plus a best-effort retry;
// anything else from Request counts toward the cooldown.
var (
	ErrCapacity     = errors.New("live activity capacity exceeded")
	ErrUnauthorized = errors.New("live activities not authorized")
)

// Handle identifies one presented activity on the platform surface.
type Handle string

// Dismissal controls how an ended activity leaves the screen.
type Dismissal string

const (
	DismissImmediate Dismissal = "immediate"
	DismissDefault   Dismissal = "default"
)

// Attributes are the immutable fields of an activity.
type Attributes struct {
	StackID   string
	StackName string
}

// ContentState is the mutable display state of an activity.
type ContentState struct {
	StepTitle   string
	EndsAt      int64 // unix seconds; kept primitive for cross-process encoding
	AllowSnooze bool
	AlarmID     string
	FiredAtUnix int64 // zero until the first fire event
	Accent      string
}

// Presenter is the platform service that renders live activities.
// Implementations must be safe for concurrent use.
type Presenter interface {
	Request(ctx context.Context, attrs Attributes, state ContentState) (Handle, error)
	Update(ctx context.Context, h Handle, state ContentState) error
	End(ctx context.Context, h Handle, state ContentState, d Dismissal) error
	Active(ctx context.Context) ([]Handle, error)
}

// FakePresenter is an in-memory Presenter for tests and headless setups.
type FakePresenter struct {
	mu      sync.Mutex
	next    int
	active  map[Handle]ContentState
	attrs   map[Handle]Attributes
	failing error // when set, Request fails with this error
}

func NewFakePresenter() *FakePresenter {
	return &FakePresenter{active: make(map[Handle]ContentState), attrs: make(map[Handle]Attributes)}
}

// FailRequests makes subsequent Request calls fail with err (nil clears).
func (p *FakePresenter) FailRequests(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing = err
}

func (p *FakePresenter) Request(_ context.Context, attrs Attributes, state ContentState) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing != nil {
		return "", p.failing
	}
	p.next++
	h := Handle(attrs.StackID + "#" + strconv.Itoa(p.next))
	p.active[h] = state
	p.attrs[h] = attrs
	return h, nil
}

func (p *FakePresenter) Update(_ context.Context, h Handle, state ContentState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.active[h]; !ok {
		return errors.New("unknown handle")
	}
	p.active[h] = state
	return nil
}

func (p *FakePresenter) End(_ context.Context, h Handle, _ ContentState, _ Dismissal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, h)
	delete(p.attrs, h)
	return nil
}

func (p *FakePresenter) Active(_ context.Context) ([]Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Handle, 0, len(p.active))
	for h := range p.active {
		out = append(out, h)
	}
	return out, nil
}

// State returns the current content state for a handle, for assertions.
func (p *FakePresenter) State(h Handle) (ContentState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.active[h]
	return s, ok
}
