package alarmstacks

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/alarmstacks/alarmstacks/internal/config"
	"github.com/alarmstacks/alarmstacks/internal/coordinator"
	"github.com/alarmstacks/alarmstacks/internal/history"
	"github.com/alarmstacks/alarmstacks/internal/liveactivity"
	"github.com/alarmstacks/alarmstacks/internal/metrics"
	"github.com/alarmstacks/alarmstacks/internal/mirror"
	"github.com/alarmstacks/alarmstacks/internal/model"
	"github.com/alarmstacks/alarmstacks/internal/resolve"
	"github.com/alarmstacks/alarmstacks/internal/scheduler"
	iapi "github.com/alarmstacks/alarmstacks/internal/server"
	"github.com/alarmstacks/alarmstacks/internal/store"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Stack = model.Stack

type Step = model.Step

type StepKind = model.StepKind

const (
	KindFixedTime = model.KindFixedTime
	KindTimer     = model.KindTimer
	KindRelative  = model.KindRelative
)

// NewStack builds an empty stack with a fresh id.
func NewStack(name string) *Stack { return model.NewStack(name) }

// NewStep builds a step of the given kind with a fresh id.
func NewStep(title string, kind StepKind, order int) Step {
	return model.NewStep(title, kind, order)
}

type Occurrence = scheduler.Occurrence

type Backend = scheduler.Backend

type HistorySink = history.Sink

type Config = cfg.Config

// NextFireTime exposes the step time resolver.
func NextFireTime(step Step, ref time.Time, loc *time.Location) (time.Time, error) {
	return resolve.NextFireTime(step, ref, loc)
}

// Scheduler is a thin facade over the internal scheduling components,
// providing a stable public API for embedding.
type Scheduler struct {
	facade *scheduler.Facade
	coord  *coordinator.Coordinator
	acts   *liveactivity.Manager
	st     store.Store
	mir    *mirror.Mirror
}

// Options configures New. Zero values select an in-memory store, an
// in-memory mirror and a fake presenter, which suits embedding and tests;
// daemons pass real implementations.
type Options struct {
	Store     store.Store
	Primary   scheduler.Backend
	Fallback  scheduler.Backend
	Presenter liveactivity.Presenter
	MirrorA   mirror.KV
	MirrorB   mirror.KV
	Activity  liveactivity.Config
	Location  *time.Location
	Theme     string
	FireFunc  scheduler.FireFunc
}

// New assembles a Scheduler from options. The returned Scheduler owns no
// goroutines; backends that poll (the notify fallback) are started by the
// caller.
func New(opts Options) (*Scheduler, error) {
	st := opts.Store
	if st == nil {
		var err error
		st, err = store.NewSQLiteStore(store.Config{Type: "sqlite"})
		if err != nil {
			return nil, err
		}
	}
	if err := st.EnsureSchema(context.Background()); err != nil {
		return nil, err
	}
	a, b := opts.MirrorA, opts.MirrorB
	if a == nil {
		a = mirror.NewMemKV()
	}
	if b == nil {
		b = mirror.NewMemKV()
	}
	mir := mirror.New(a, b)

	// Late-bound dispatch: the coordinator does not exist yet when the
	// default backends are built.
	var sched *Scheduler
	fire := func(occ Occurrence) {
		if sched != nil {
			sched.coord.HandleFire(occ)
		}
		if opts.FireFunc != nil {
			opts.FireFunc(occ)
		}
	}
	primary := opts.Primary
	if primary == nil {
		primary = scheduler.NewAlarmKit(fire, nil)
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = scheduler.NewNotifyBackend(fire, nil, scheduler.NotifyConfig{})
	}
	facade := scheduler.NewFacade(primary, fallback, mir)

	pres := opts.Presenter
	if pres == nil {
		pres = liveactivity.NewFakePresenter()
	}
	acts := liveactivity.NewManager(pres, opts.Activity)

	coord := coordinator.New(st, facade, acts, mir, opts.Location, opts.Theme)
	sched = &Scheduler{facade: facade, coord: coord, acts: acts, st: st, mir: mir}
	return sched, nil
}

func (s *Scheduler) Store() store.Store                      { return s.st }
func (s *Scheduler) Coordinator() *coordinator.Coordinator   { return s.coord }
func (s *Scheduler) Activities() *liveactivity.Manager       { return s.acts }
func (s *Scheduler) SetForceFallback(v bool)                 { s.facade.SetForceFallback(v) }
func (s *Scheduler) SetHistorySinks(sinks ...HistorySink)    { s.facade.SetHistorySinks(sinks...) }
func (s *Scheduler) RequestAuthorization(ctx context.Context) error {
	return s.facade.RequestAuthorizationIfNeeded(ctx)
}

// Schedule arms every enabled step of the stack and plans prearm attempts.
func (s *Scheduler) Schedule(ctx context.Context, st *Stack) ([]string, error) {
	return s.coord.ScheduleStack(ctx, st)
}

// Cancel drops the stack's pending occurrences and live activity.
func (s *Scheduler) Cancel(ctx context.Context, st *Stack) error {
	return s.coord.CancelStack(ctx, st)
}

// Rearm reloads and reschedules every stack from durable state.
func (s *Scheduler) Rearm(ctx context.Context) error { return s.coord.Rearm(ctx) }

// Sanitize cancels orphaned alarms and sweeps terminal activities.
func (s *Scheduler) Sanitize(ctx context.Context) error { return s.coord.Sanitize(ctx) }

// LoadConfig reads a TOML config file.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewHTTPServer starts an HTTP server exposing the internal API.
func NewHTTPServer(addr, basePath string, s *Scheduler) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, s.st, s.coord, s.acts)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It runs in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
