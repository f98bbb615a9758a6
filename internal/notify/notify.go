// Package notify delivers out-of-band notifications (stuck hints, skips,
// pauses) by running a user-configured command. Delivery is best-effort:
// failures are logged, never propagated.
package notify

import (
	"os/exec"

	"go.uber.org/zap"
)

// Notifier sends a short out-of-band message to the operator.
type Notifier interface {
	Notify(title, message string)
}

// Command runs a configured shell command with the title and message as
// arguments. An empty command makes it a no-op.
type Command struct {
	Cmd    string
	Logger *zap.Logger
}

// New creates a Command notifier. logger may be nil.
func New(cmd string, logger *zap.Logger) *Command {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Command{Cmd: cmd, Logger: logger}
}

// Notify runs the configured command. Errors are logged only.
func (c *Command) Notify(title, message string) {
	if c.Cmd == "" {
		return
	}
	if err := exec.Command(c.Cmd, title, message).Run(); err != nil {
		c.Logger.Warn("notification command failed",
			zap.String("command", c.Cmd),
			zap.String("title", title),
			zap.Error(err))
		return
	}
	c.Logger.Debug("notification sent", zap.String("title", title))
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) Notify(string, string) {}
