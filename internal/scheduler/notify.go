package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Notification is what the fallback delivers when an occurrence rings.
type Notification struct {
	AlarmID string
	StackID string
	Title   string
	Body    string
	At      time.Time
}

// Notifier is the platform notification service the fallback delivers
// through. Implementations must be safe for concurrent use.
type Notifier interface {
	Deliver(ctx context.Context, n Notification) error
}

// NotifyFunc adapts a function to the Notifier interface.
type NotifyFunc func(ctx context.Context, n Notification) error

func (f NotifyFunc) Deliver(ctx context.Context, n Notification) error { return f(ctx, n) }

// NotifyConfig tunes the fallback backend.
type NotifyConfig struct {
	// MinLead rejects occurrences closer to now than this; the platform's
	// notification pipeline cannot reliably deliver on shorter notice.
	MinLead time.Duration
	// Tick is the scan period of the delivery loop.
	Tick time.Duration
}

func (c NotifyConfig) withDefaults() NotifyConfig {
	if c.MinLead <= 0 {
		c.MinLead = 2 * time.Second
	}
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	return c
}

// NotifyBackend is the notification-based fallback. Occurrences are held in
// a pending set and rung by a coarse scan loop rather than per-alarm timers,
// matching the weaker timing guarantees of the notification pipeline.
type NotifyBackend struct {
	mu      sync.Mutex
	cfg     NotifyConfig
	pending map[string][]Occurrence // stack id -> occurrences, sorted by FireAt
	fire    FireFunc
	sink    Notifier
	quit    chan struct{}
	done    chan struct{}
	logger  *slog.Logger
	now     func() time.Time
}

func NewNotifyBackend(fire FireFunc, sink Notifier, cfg NotifyConfig) *NotifyBackend {
	return &NotifyBackend{
		cfg:     cfg.withDefaults(),
		pending: make(map[string][]Occurrence),
		fire:    fire,
		sink:    sink,
		logger:  slog.Default().With("backend", "notify"),
		now:     time.Now,
	}
}

func (b *NotifyBackend) Name() string { return "notify" }

// Available is always true: the notification pipeline is the floor the app
// can count on.
func (b *NotifyBackend) Available() bool { return true }

func (b *NotifyBackend) ReschedulesUnarmed() bool { return false }

// RequestAuthorization is a no-op for the fallback; notification permission
// is requested by the platform glue outside this core.
func (b *NotifyBackend) RequestAuthorization(context.Context) error { return nil }

func (b *NotifyBackend) Schedule(_ context.Context, occ Occurrence) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if occ.FireAt.Sub(b.now()) < b.cfg.MinLead {
		return fmt.Errorf("%w: %s under minimum lead %s", ErrScheduleFailed, occ.AlarmID, b.cfg.MinLead)
	}
	list := append(b.pending[occ.StackID], occ)
	sort.Slice(list, func(i, j int) bool { return list[i].FireAt.Before(list[j].FireAt) })
	b.pending[occ.StackID] = list
	return nil
}

func (b *NotifyBackend) CancelAll(_ context.Context, stackID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, stackID)
	return nil
}

// Start launches the scan loop. Call Stop to cancel.
func (b *NotifyBackend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.quit != nil {
		return errors.New("notify backend already started")
	}
	b.quit = make(chan struct{})
	b.done = make(chan struct{})
	go b.loop(b.quit, b.done)
	return nil
}

// Stop cancels the scan loop. Idempotent.
func (b *NotifyBackend) Stop() {
	b.mu.Lock()
	quit := b.quit
	b.mu.Unlock()
	if quit == nil {
		return
	}
	select {
	case <-quit:
	default:
		close(quit)
	}
}

func (b *NotifyBackend) loop(quit, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(b.cfg.Tick)
	defer t.Stop()
	for {
		select {
		case <-quit:
			return
		case <-t.C:
			b.scan()
		}
	}
}

func (b *NotifyBackend) scan() {
	now := b.now()
	var due []Occurrence
	b.mu.Lock()
	for stackID, list := range b.pending {
		i := 0
		for ; i < len(list) && !list[i].FireAt.After(now); i++ {
			due = append(due, list[i])
		}
		if i == 0 {
			continue
		}
		if i == len(list) {
			delete(b.pending, stackID)
		} else {
			b.pending[stackID] = list[i:]
		}
	}
	fire := b.fire
	b.mu.Unlock()

	for _, occ := range due {
		n := Notification{
			AlarmID: occ.AlarmID,
			StackID: occ.StackID,
			Title:   occ.StackName,
			Body:    occ.StepTitle,
			At:      occ.FireAt,
		}
		if b.sink != nil {
			if err := b.sink.Deliver(context.Background(), n); err != nil {
				b.logger.Warn("notification delivery failed", "alarm", occ.AlarmID, "error", err)
			}
		}
		if fire != nil {
			fire(occ)
		}
	}
}

// PendingCount reports how many occurrences are queued for a stack.
func (b *NotifyBackend) PendingCount(stackID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[stackID])
}
