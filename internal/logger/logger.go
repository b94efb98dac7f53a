package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes the app log destination. If Path is empty and Dir is
// set, the file is Dir/alarmstacks.log; if both are empty, logs go to
// stderr only. Rotation parameters follow lumberjack semantics.
type Config struct {
	Level      string `toml:"level" mapstructure:"level"` // debug|info|warn|error
	Dir        string `toml:"dir" mapstructure:"dir"`
	Path       string `toml:"path" mapstructure:"path"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
	Color      bool   `toml:"color" mapstructure:"color"`
}

// Writer returns the rotating file writer for the config, or nil when file
// logging is disabled.
func (c Config) Writer() io.WriteCloser {
	path := c.Path
	if path == "" && c.Dir != "" {
		path = filepath.Join(c.Dir, "alarmstacks.log")
	}
	if path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// Setup builds a slog logger per config and installs it as the default.
func Setup(c Config) *slog.Logger {
	level := parseLevel(c.Level)
	var out io.Writer = os.Stderr
	if w := c.Writer(); w != nil {
		out = io.MultiWriter(os.Stderr, w)
	}
	var handler slog.Handler
	if c.Color {
		handler = NewColorTextHandler(out, &slog.HandlerOptions{Level: level}, true)
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}
	l := slog.New(handler)
	slog.SetDefault(l)
	return l
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
