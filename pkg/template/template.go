package template

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alarmstacks/alarmstacks/internal/model"
)

// TemplateType selects which preset stack to generate.
type TemplateType string

const (
	TypeMorning  TemplateType = "morning"
	TypeWake     TemplateType = "wake"
	TypeWeekday  TemplateType = "weekday"
	TypeWorkday  TemplateType = "workday"
	TypeNap      TemplateType = "nap"
	TypeTimer    TemplateType = "timer"
	TypePomodoro TemplateType = "pomodoro"
	TypeFocus    TemplateType = "focus"
	TypeSimple   TemplateType = "simple"
	TypeBasic    TemplateType = "basic"
)

// Generator builds preset stacks that users can tweak instead of
// assembling steps one flag at a time.
type Generator struct{}

// NewGenerator creates a new template generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate builds a preset stack of the given type with the given name.
func (g *Generator) Generate(templateType TemplateType, name string) (*model.Stack, error) {
	switch templateType {
	case TypeMorning, TypeWake:
		return g.generateMorning(name), nil
	case TypeWeekday, TypeWorkday:
		return g.generateWeekday(name), nil
	case TypeNap, TypeTimer:
		return g.generateNap(name), nil
	case TypePomodoro, TypeFocus:
		return g.generatePomodoro(name), nil
	case TypeSimple, TypeBasic:
		return g.generateSimple(name), nil
	default:
		return nil, fmt.Errorf("unknown template type: %s (supported: morning, weekday, nap, pomodoro, simple)", templateType)
	}
}

// GenerateJSON builds a preset stack and renders it as indented JSON,
// ready to POST to the daemon or save as a starting point.
func (g *Generator) GenerateJSON(templateType TemplateType, name string) ([]byte, error) {
	stack, err := g.Generate(templateType, name)
	if err != nil {
		return nil, err
	}
	jsonData, err := json.MarshalIndent(stack, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return jsonData, nil
}

// SupportedTypes returns the primary template type names.
func (g *Generator) SupportedTypes() []string {
	return []string{
		string(TypeMorning),
		string(TypeWeekday),
		string(TypeNap),
		string(TypePomodoro),
		string(TypeSimple),
	}
}

func (g *Generator) generateMorning(name string) *model.Stack {
	stack := model.NewStack(name)
	stack.Theme = "sunrise"

	wake := model.NewStep("Wake up", model.KindFixedTime, 0)
	h, m := 7, 0
	wake.Hour, wake.Minute = &h, &m
	wake.AllowSnooze = true
	wake.SnoozeMinutes = 9

	up := model.NewStep("Get out of bed", model.KindRelative, 1)
	upOff := 10 * time.Minute
	up.Offset = &upOff

	leave := model.NewStep("Leave the house", model.KindRelative, 2)
	leaveOff := 35 * time.Minute
	leave.Offset = &leaveOff

	stack.Steps = []model.Step{wake, up, leave}
	return stack
}

func (g *Generator) generateWeekday(name string) *model.Stack {
	stack := model.NewStack(name)
	stack.Theme = "slate"

	wake := model.NewStep("Wake up", model.KindFixedTime, 0)
	h, m := 6, 30
	wd := time.Monday
	wake.Hour, wake.Minute, wake.Weekday = &h, &m, &wd
	wake.AllowSnooze = true
	wake.SnoozeMinutes = 5

	standup := model.NewStep("Daily standup", model.KindFixedTime, 1)
	sh, sm := 9, 0
	standup.Hour, standup.Minute = &sh, &sm

	stack.Steps = []model.Step{wake, standup}
	return stack
}

func (g *Generator) generateNap(name string) *model.Stack {
	stack := model.NewStack(name)
	nap := model.NewStep("Nap over", model.KindTimer, 0)
	nap.Duration = 20 * time.Minute
	nap.AllowSnooze = true
	nap.SnoozeMinutes = 5
	stack.Steps = []model.Step{nap}
	return stack
}

func (g *Generator) generatePomodoro(name string) *model.Stack {
	stack := model.NewStack(name)
	stack.Theme = "tomato"

	focus := model.NewStep("Focus block done", model.KindTimer, 0)
	focus.Duration = 25 * time.Minute

	back := model.NewStep("Break over", model.KindRelative, 1)
	backOff := 5 * time.Minute
	back.Offset = &backOff

	stack.Steps = []model.Step{focus, back}
	return stack
}

func (g *Generator) generateSimple(name string) *model.Stack {
	stack := model.NewStack(name)
	ring := model.NewStep("Ring", model.KindTimer, 0)
	ring.Duration = 10 * time.Minute
	stack.Steps = []model.Step{ring}
	return stack
}
