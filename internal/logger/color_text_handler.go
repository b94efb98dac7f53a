package logger

import (
	"context"
	"io"
	"log/slog"
)

const ansiReset = "\033[0m"

// levelColor picks the ANSI sequence for a level token. Errors are bold so
// they stand out in a scrolling serve log; debug is dimmed.
func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "\033[1;31m"
	case l >= slog.LevelWarn:
		return "\033[33m"
	case l >= slog.LevelInfo:
		return "\033[32m"
	default:
		return "\033[90m"
	}
}

// ColorTextHandler wraps slog.TextHandler and prefixes each message with a
// colored level token. Meant for interactive stderr output; file writers get
// the plain handler.
type ColorTextHandler struct {
	*slog.TextHandler
	showTime bool
}

// NewColorTextHandler creates a new ColorTextHandler.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	return &ColorTextHandler{
		TextHandler: slog.NewTextHandler(w, opts),
		showTime:    showTime,
	}
}

// Handle implements slog.Handler.
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	r.Message = levelColor(r.Level) + r.Level.String() + ansiReset + "  " + r.Message
	return h.TextHandler.Handle(ctx, r)
}
