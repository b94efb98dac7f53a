package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

// StackFlags holds stack-related flags
type StackFlags struct {
	Name    string
	Theme   string
	StackID string
}

// StepFlags holds flags for the step command
type StepFlags struct {
	StackID       string
	Title         string
	Kind          string
	Order         int
	Hour          int
	Minute        int
	Weekday       int
	Duration      time.Duration
	Offset        time.Duration
	AllowSnooze   bool
	SnoozeMinutes int
}

// buildRoot creates the root command
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	stackFlags := &StackFlags{}
	stepFlags := &StepFlags{}

	root := &cobra.Command{
		Use:   "alarmstacks",
		Short: "Ordered alarm step sequences with a dual-backend scheduler",
	}
	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML config file")
	root.PersistentFlags().StringVar(&globalFlags.APIUrl, "api-url", "http://localhost:8080/api", "daemon API base URL")
	root.PersistentFlags().DurationVar(&globalFlags.APITimeout, "api-timeout", 10*time.Second, "daemon API timeout")

	root.AddCommand(newServeCmd(globalFlags))
	root.AddCommand(newAddCmd(globalFlags, stackFlags))
	root.AddCommand(newStepCmd(globalFlags, stepFlags))
	root.AddCommand(newListCmd(globalFlags))
	root.AddCommand(newArmCmd(globalFlags, stackFlags, true))
	root.AddCommand(newArmCmd(globalFlags, stackFlags, false))
	root.AddCommand(newScheduleCmd(globalFlags, stackFlags))
	root.AddCommand(newStatusCmd(globalFlags, stackFlags))
	root.AddCommand(newDeleteCmd(globalFlags, stackFlags))
	root.AddCommand(newTemplateCmd(globalFlags))
	root.AddCommand(newActivitiesCmd(globalFlags))
	return root
}
