// Package config loads the TOML configuration. Every empirically tuned
// scheduling constant (prearm offsets, minimum lead, grace, cap, cooldown)
// is configuration with a default rather than a hardcoded value: the numbers
// were tuned against one platform's timing behavior and do not transfer.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/alarmstacks/alarmstacks/internal/liveactivity"
	"github.com/alarmstacks/alarmstacks/internal/logger"
	"github.com/alarmstacks/alarmstacks/internal/scheduler"
	"github.com/alarmstacks/alarmstacks/internal/store"
)

// Config represents the top-level TOML structure.
type Config struct {
	Timezone string         `toml:"timezone" mapstructure:"timezone"`
	Theme    string         `toml:"theme" mapstructure:"theme"`
	Log      logger.Config  `toml:"log" mapstructure:"log"`
	Store    store.Config   `toml:"store" mapstructure:"store"`
	Mirror   MirrorConfig   `toml:"mirror" mapstructure:"mirror"`
	Server   ServerConfig   `toml:"server" mapstructure:"server"`
	Schedule ScheduleConfig `toml:"schedule" mapstructure:"schedule"`
	Activity ActivityConfig `toml:"activity" mapstructure:"activity"`
	History  HistoryConfig  `toml:"history" mapstructure:"history"`
}

// MirrorConfig locates the two physical tiers of the cross-process state
// mirror.
type MirrorConfig struct {
	PrimaryPath   string `toml:"primary_path" mapstructure:"primary_path"`
	SecondaryPath string `toml:"secondary_path" mapstructure:"secondary_path"`
}

type ServerConfig struct {
	Addr        string `toml:"addr" mapstructure:"addr"`
	BasePath    string `toml:"base_path" mapstructure:"base_path"`
	MetricsAddr string `toml:"metrics_addr" mapstructure:"metrics_addr"`
}

type ScheduleConfig struct {
	ForceFallback   bool          `toml:"force_fallback" mapstructure:"force_fallback"`
	FallbackMinLead time.Duration `toml:"fallback_min_lead" mapstructure:"fallback_min_lead"`
	FallbackTick    time.Duration `toml:"fallback_tick" mapstructure:"fallback_tick"`
	// Resync is a cron expression for the periodic rearm/sanitize pass,
	// e.g. "@every 5m".
	Resync string `toml:"resync" mapstructure:"resync"`
}

type ActivityConfig struct {
	Cap           int             `toml:"cap" mapstructure:"cap"`
	Grace         time.Duration   `toml:"grace" mapstructure:"grace"`
	Cooldown      time.Duration   `toml:"cooldown" mapstructure:"cooldown"`
	NudgeLead     time.Duration   `toml:"nudge_lead" mapstructure:"nudge_lead"`
	SweepWindow   time.Duration   `toml:"sweep_window" mapstructure:"sweep_window"`
	FreshGrace    time.Duration   `toml:"fresh_grace" mapstructure:"fresh_grace"`
	RetryPause    time.Duration   `toml:"retry_pause" mapstructure:"retry_pause"`
	PrearmOffsets []time.Duration `toml:"prearm_offsets" mapstructure:"prearm_offsets"`
	MinLead       time.Duration   `toml:"min_lead" mapstructure:"min_lead"`
	FinalWindow   time.Duration   `toml:"final_window" mapstructure:"final_window"`
	NudgeGuard    time.Duration   `toml:"nudge_guard" mapstructure:"nudge_guard"`
	Nudge         time.Duration   `toml:"nudge" mapstructure:"nudge"`
}

type HistoryConfig struct {
	SQLitePath      string `toml:"sqlite_path" mapstructure:"sqlite_path"`
	SQLiteTable     string `toml:"sqlite_table" mapstructure:"sqlite_table"`
	ClickHouseDSN   string `toml:"clickhouse_dsn" mapstructure:"clickhouse_dsn"`
	ClickHouseTable string `toml:"clickhouse_table" mapstructure:"clickhouse_table"`
}

// Default returns a config usable without a file: in-memory sqlite store,
// temp-dir mirror, production activity tuning.
func Default() *Config {
	return &Config{
		Timezone: "Local",
		Server: ServerConfig{
			Addr:     ":8080",
			BasePath: "/api",
		},
		Store: store.Config{Type: "sqlite"},
		Schedule: ScheduleConfig{
			Resync: "@every 5m",
		},
	}
}

// Load reads a TOML config file. Missing optional sections fall back to
// defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = "sqlite"
	}
	return cfg, nil
}

// Location resolves the configured timezone. "Local" or empty means the
// process local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ActivityManagerConfig converts the TOML section into the live-activity
// manager's config.
func (c *Config) ActivityManagerConfig() liveactivity.Config {
	planner := liveactivity.PlannerConfig{
		Offsets:     c.Activity.PrearmOffsets,
		MinLead:     c.Activity.MinLead,
		FinalWindow: c.Activity.FinalWindow,
		NudgeGuard:  c.Activity.NudgeGuard,
		Nudge:       c.Activity.Nudge,
	}.WithDefaults()
	return liveactivity.Config{
		Cap:         c.Activity.Cap,
		Grace:       c.Activity.Grace,
		Cooldown:    c.Activity.Cooldown,
		NudgeLead:   c.Activity.NudgeLead,
		SweepWindow: c.Activity.SweepWindow,
		FreshGrace:  c.Activity.FreshGrace,
		RetryPause:  c.Activity.RetryPause,
		Planner:     planner,
	}
}

// NotifyConfig converts the TOML section into the fallback backend's config.
func (c *Config) NotifyConfig() scheduler.NotifyConfig {
	return scheduler.NotifyConfig{
		MinLead: c.Schedule.FallbackMinLead,
		Tick:    c.Schedule.FallbackTick,
	}
}
