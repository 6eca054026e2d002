// Package logger configures the process-wide slog logger with a compact
// colored console handler.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/fatih/color"
)

// ConsoleHandler renders records as "time | LEVEL | message k=v ...".
type ConsoleHandler struct {
	mu     *sync.Mutex
	writer io.Writer
	attrs  []slog.Attr
	level  slog.Level
}

// NewConsoleHandler writes colored log lines to w at the given level.
func NewConsoleHandler(w io.Writer, level slog.Level) *ConsoleHandler {
	return &ConsoleHandler{mu: &sync.Mutex{}, writer: w, level: level}
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String()
	switch r.Level {
	case slog.LevelDebug:
		level = color.MagentaString(level)
	case slog.LevelInfo:
		level = color.BlueString(level)
	case slog.LevelWarn:
		level = color.YellowString(level)
	case slog.LevelError:
		level = color.RedString(level)
	}

	line := fmt.Sprintf(
		"%s | %-5s | %s",
		color.GreenString(r.Time.Format("2006-01-02T15:04:05")),
		level,
		r.Message,
	)
	for _, attr := range h.attrs {
		line += color.CyanString(fmt.Sprintf(" %s=%v", attr.Key, attr.Value))
	}
	r.Attrs(func(attr slog.Attr) bool {
		line += color.CyanString(fmt.Sprintf(" %s=%v", attr.Key, attr.Value))
		return true
	})
	line += "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, line)
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &ConsoleHandler{mu: h.mu, writer: h.writer, attrs: merged, level: h.level}
}

func (h *ConsoleHandler) WithGroup(string) slog.Handler {
	return h
}

// Init installs the console handler as the default slog logger and returns
// it for component-scoped children.
func Init(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	log := slog.New(NewConsoleHandler(os.Stdout, level))
	slog.SetDefault(log)
	return log
}
