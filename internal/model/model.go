package model

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// StepKind selects how a step's fire instant is computed.
type StepKind string

const (
	KindFixedTime StepKind = "fixed_time"
	KindTimer     StepKind = "timer"
	KindRelative  StepKind = "relative"
)

// ErrInvalidStep is returned when a step is missing the fields its kind requires.
var ErrInvalidStep = errors.New("invalid step")

// Step is one alarm definition inside a stack. Kind-specific fields are
// pointers so "unset" is distinguishable from zero.
type Step struct {
	ID        string    `json:"id" mapstructure:"id"`
	Title     string    `json:"title" mapstructure:"title"`
	Kind      StepKind  `json:"kind" mapstructure:"kind"`
	Order     int       `json:"order" mapstructure:"order"`
	Enabled   bool      `json:"enabled" mapstructure:"enabled"`
	CreatedAt time.Time `json:"created_at" mapstructure:"created_at"`

	// fixed_time
	Hour    *int          `json:"hour,omitempty" mapstructure:"hour"`
	Minute  *int          `json:"minute,omitempty" mapstructure:"minute"`
	Weekday *time.Weekday `json:"weekday,omitempty" mapstructure:"weekday"`

	// timer
	Duration time.Duration `json:"duration,omitempty" mapstructure:"duration"`

	// relative; signed, may be negative
	Offset *time.Duration `json:"offset,omitempty" mapstructure:"offset"`

	AllowSnooze   bool `json:"allow_snooze" mapstructure:"allow_snooze"`
	SnoozeMinutes int  `json:"snooze_minutes" mapstructure:"snooze_minutes"`
}

// NewStep returns an enabled step with a fresh identity.
func NewStep(title string, kind StepKind, order int) Step {
	return Step{
		ID:        uuid.NewString(),
		Title:     title,
		Kind:      kind,
		Order:     order,
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks that the kind-specific fields the step needs are present.
func (s *Step) Validate() error {
	switch s.Kind {
	case KindTimer:
		if s.Duration <= 0 {
			return fmt.Errorf("%w: timer step %q requires duration > 0", ErrInvalidStep, s.Title)
		}
	case KindRelative:
		if s.Offset == nil {
			return fmt.Errorf("%w: relative step %q requires an offset", ErrInvalidStep, s.Title)
		}
	case KindFixedTime:
		if s.Hour == nil || s.Minute == nil {
			return fmt.Errorf("%w: fixed-time step %q requires hour and minute", ErrInvalidStep, s.Title)
		}
		if *s.Hour < 0 || *s.Hour > 23 || *s.Minute < 0 || *s.Minute > 59 {
			return fmt.Errorf("%w: fixed-time step %q has out-of-range hour/minute", ErrInvalidStep, s.Title)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidStep, s.Kind)
	}
	return nil
}

// Stack is an ordered group of steps ringed as one sequence.
type Stack struct {
	ID        string    `json:"id" mapstructure:"id"`
	Name      string    `json:"name" mapstructure:"name"`
	Armed     bool      `json:"armed" mapstructure:"armed"`
	Theme     string    `json:"theme" mapstructure:"theme"`
	CreatedAt time.Time `json:"created_at" mapstructure:"created_at"`
	Steps     []Step    `json:"steps" mapstructure:"steps"`
}

// NewStack returns an empty, disarmed stack with a fresh identity.
func NewStack(name string) *Stack {
	return &Stack{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate enforces stack invariants: a name, unique step order values,
// and per-step kind fields.
func (st *Stack) Validate() error {
	if st.Name == "" {
		return errors.New("stack requires a name")
	}
	seen := make(map[int]string, len(st.Steps))
	for i := range st.Steps {
		s := &st.Steps[i]
		if prev, dup := seen[s.Order]; dup {
			return fmt.Errorf("stack %q: steps %q and %q share order %d", st.Name, prev, s.Title, s.Order)
		}
		seen[s.Order] = s.Title
		if err := s.Validate(); err != nil {
			return fmt.Errorf("stack %q: %w", st.Name, err)
		}
	}
	return nil
}

// EnabledSteps returns the enabled steps sorted by order. The slice is a
// copy; mutating it does not touch the stack.
func (st *Stack) EnabledSteps() []Step {
	out := make([]Step, 0, len(st.Steps))
	for _, s := range st.Steps {
		if s.Enabled {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Armable reports whether arming the stack is meaningful: at least one
// enabled step.
func (st *Stack) Armable() bool {
	return len(st.EnabledSteps()) > 0
}
