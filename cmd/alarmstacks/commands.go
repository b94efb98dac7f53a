package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alarmstacks/alarmstacks/internal/model"
	"github.com/alarmstacks/alarmstacks/pkg/client"
	"github.com/alarmstacks/alarmstacks/pkg/template"
)

func apiClient(g *GlobalFlags) *client.Client {
	return client.New(client.Config{BaseURL: g.APIUrl, Timeout: g.APITimeout})
}

func newAddCmd(g *GlobalFlags, f *StackFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a new, empty stack",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := model.NewStack(f.Name)
			st.Theme = f.Theme
			created, err := apiClient(g).CreateStack(cmd.Context(), st)
			if err != nil {
				return err
			}
			fmt.Printf("created stack %s (%s)\n", created.Name, created.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "stack name (required)")
	cmd.Flags().StringVar(&f.Theme, "theme", "", "theme name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newStepCmd(g *GlobalFlags, f *StepFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "step",
		Short: "Append a step to a stack",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := apiClient(g)
			st, err := c.GetStack(cmd.Context(), f.StackID)
			if err != nil {
				return err
			}
			step := model.NewStep(f.Title, model.StepKind(f.Kind), f.Order)
			step.AllowSnooze = f.AllowSnooze
			step.SnoozeMinutes = f.SnoozeMinutes
			switch step.Kind {
			case model.KindFixedTime:
				h, m := f.Hour, f.Minute
				step.Hour, step.Minute = &h, &m
				if cmd.Flags().Changed("weekday") {
					wd := time.Weekday(f.Weekday)
					step.Weekday = &wd
				}
			case model.KindTimer:
				step.Duration = f.Duration
			case model.KindRelative:
				off := f.Offset
				step.Offset = &off
			}
			if err := step.Validate(); err != nil {
				return err
			}
			st.Steps = append(st.Steps, step)
			if _, err := c.CreateStack(cmd.Context(), st); err != nil {
				return err
			}
			fmt.Printf("added step %q to stack %s\n", step.Title, st.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.StackID, "stack", "", "stack id (required)")
	cmd.Flags().StringVar(&f.Title, "title", "", "step title")
	cmd.Flags().StringVar(&f.Kind, "kind", "timer", "fixed_time | timer | relative")
	cmd.Flags().IntVar(&f.Order, "order", 0, "order index within the stack")
	cmd.Flags().IntVar(&f.Hour, "hour", 0, "hour for fixed_time steps")
	cmd.Flags().IntVar(&f.Minute, "minute", 0, "minute for fixed_time steps")
	cmd.Flags().IntVar(&f.Weekday, "weekday", 0, "weekday for fixed_time steps (0=Sunday)")
	cmd.Flags().DurationVar(&f.Duration, "duration", 0, "duration for timer steps")
	cmd.Flags().DurationVar(&f.Offset, "offset", 0, "signed offset for relative steps")
	cmd.Flags().BoolVar(&f.AllowSnooze, "allow-snooze", false, "allow snoozing this step")
	cmd.Flags().IntVar(&f.SnoozeMinutes, "snooze-minutes", 9, "snooze length in minutes")
	_ = cmd.MarkFlagRequired("stack")
	return cmd
}

func newListCmd(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all stacks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stacks, err := apiClient(g).ListStacks(cmd.Context())
			if err != nil {
				return err
			}
			for _, st := range stacks {
				armed := "disarmed"
				if st.Armed {
					armed = "armed"
				}
				fmt.Printf("%s  %-20s %s  steps=%d\n", st.ID, st.Name, armed, len(st.Steps))
			}
			return nil
		},
	}
}

func newArmCmd(g *GlobalFlags, f *StackFlags, arm bool) *cobra.Command {
	use, short := "arm", "Arm a stack and schedule its alarms"
	if !arm {
		use, short = "disarm", "Disarm a stack and cancel its alarms"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := apiClient(g)
			if arm {
				ids, err := c.Arm(cmd.Context(), f.StackID)
				if err != nil {
					return err
				}
				fmt.Printf("scheduled %d occurrence(s)\n", len(ids))
				return nil
			}
			if err := c.Disarm(cmd.Context(), f.StackID); err != nil {
				return err
			}
			fmt.Println("disarmed")
			return nil
		},
	}
	cmd.Flags().StringVar(&f.StackID, "stack", "", "stack id (required)")
	_ = cmd.MarkFlagRequired("stack")
	return cmd
}

func newScheduleCmd(g *GlobalFlags, f *StackFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Recompute and schedule a stack's occurrences",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ids, err := apiClient(g).Schedule(cmd.Context(), f.StackID)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.StackID, "stack", "", "stack id (required)")
	_ = cmd.MarkFlagRequired("stack")
	return cmd
}

func newStatusCmd(g *GlobalFlags, f *StackFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a stack's steps and armed state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient(g).GetStack(cmd.Context(), f.StackID)
			if err != nil {
				return err
			}
			armed := "disarmed"
			if st.Armed {
				armed = "armed"
			}
			fmt.Printf("%s (%s) %s\n", st.Name, st.ID, armed)
			for _, step := range st.Steps {
				state := ""
				if !step.Enabled {
					state = " (disabled)"
				}
				fmt.Printf("  %2d. %-20s %s%s\n", step.Order, step.Title, step.Kind, state)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.StackID, "stack", "", "stack id (required)")
	_ = cmd.MarkFlagRequired("stack")
	return cmd
}

func newDeleteCmd(g *GlobalFlags, f *StackFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a stack and cancel its alarms",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := apiClient(g).DeleteStack(cmd.Context(), f.StackID); err != nil {
				return err
			}
			fmt.Println("deleted")
			return nil
		},
	}
	cmd.Flags().StringVar(&f.StackID, "stack", "", "stack id (required)")
	_ = cmd.MarkFlagRequired("stack")
	return cmd
}

func newTemplateCmd(g *GlobalFlags) *cobra.Command {
	var (
		templateType string
		name         string
		create       bool
	)
	gen := template.NewGenerator()
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Generate a preset stack as JSON, or create it on the daemon",
		Long: "Generate a preset stack definition. Supported types: " +
			strings.Join(gen.SupportedTypes(), ", ") + ".",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if create {
				st, err := gen.Generate(template.TemplateType(templateType), name)
				if err != nil {
					return err
				}
				created, err := apiClient(g).CreateStack(cmd.Context(), st)
				if err != nil {
					return err
				}
				fmt.Printf("created stack %s (%s) with %d step(s)\n", created.Name, created.ID, len(created.Steps))
				return nil
			}
			jsonData, err := gen.GenerateJSON(template.TemplateType(templateType), name)
			if err != nil {
				return err
			}
			fmt.Println(string(jsonData))
			return nil
		},
	}
	cmd.Flags().StringVar(&templateType, "type", "simple", "template type")
	cmd.Flags().StringVar(&name, "name", "", "stack name (required)")
	cmd.Flags().BoolVar(&create, "create", false, "create the stack on the daemon instead of printing JSON")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newActivitiesCmd(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "activities",
		Short: "List stacks with a live activity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			live, err := apiClient(g).Activities(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range live {
				fmt.Println(id)
			}
			return nil
		},
	}
}

// waitReachable gives the daemon a moment to come up before client commands
// are retried by scripts.
func waitReachable(ctx context.Context, c *client.Client, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if c.IsReachable(ctx) {
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}
	return false
}
