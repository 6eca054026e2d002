// Package notify decouples the core from notification rendering. The UI
// shell (toast, badge, OS notification plumbing) implements Notifier; the
// core only decides when and what to surface.
package notify

import (
	"log/slog"

	"classboard/pkg/types"
)

// Level classifies a transient notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notifier receives notification side effects from the core.
type Notifier interface {
	// Notice surfaces a transient user-facing notice.
	Notice(level Level, text string)
	// MessageArrived announces a live message. background is true when the
	// client surface is not visible, in which case an OS-level notification
	// should be requested.
	MessageArrived(msg types.Message, background bool)
	// UnreadChanged reports the new aggregate unread count for badge or
	// title decoration.
	UnreadChanged(count int)
}

// LogNotifier writes notifications to the logger. Used by the CLI and as a
// safe default when no UI shell is attached.
type LogNotifier struct {
	Log *slog.Logger
}

func (n *LogNotifier) logger() *slog.Logger {
	if n.Log != nil {
		return n.Log
	}
	return slog.Default()
}

func (n *LogNotifier) Notice(level Level, text string) {
	switch level {
	case LevelWarning:
		n.logger().Warn(text)
	case LevelError:
		n.logger().Error(text)
	default:
		n.logger().Info(text)
	}
}

func (n *LogNotifier) MessageArrived(msg types.Message, background bool) {
	n.logger().Info("message arrived",
		"sender", msg.Sender, "body", msg.Body, "background", background)
}

func (n *LogNotifier) UnreadChanged(count int) {
	n.logger().Debug("unread count changed", "unread", count)
}
