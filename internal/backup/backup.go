// Package backup provides the pre-migration snapshot hook. A backup is a
// precondition: migrations are often irreversible in practice even when a
// down section exists, so a failed backup aborts the run instead of being
// logged and ignored.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrBackupFailed indicates the backup hook did not produce a snapshot.
var ErrBackupFailed = errors.New("pre-migration backup failed")

// Hook is invoked before a destructive operation when backups are enabled.
type Hook interface {
	Run(ctx context.Context) error
}

// NoopHook is the disabled state: it always succeeds without doing anything.
type NoopHook struct{}

// Run implements Hook.
func (NoopHook) Run(context.Context) error { return nil }

// CommandHook shells out to an external dump tool (typically pg_dump).
// The command line is split on whitespace; the first token is the binary.
type CommandHook struct {
	Command string
}

// NewCommandHook creates a CommandHook for the given command line.
func NewCommandHook(command string) *CommandHook {
	return &CommandHook{Command: command}
}

// Run executes the configured command, honoring the caller's deadline.
// Output is captured and attached to the error on failure.
func (h *CommandHook) Run(ctx context.Context) error {
	fields := strings.Fields(h.Command)
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty backup command", ErrBackupFailed)
	}

	logrus.WithField("command", fields[0]).Debug("running pre-migration backup")

	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...) //nolint:gosec // command comes from operator config
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrBackupFailed, ctxErr)
		}

		return fmt.Errorf("%w: %w: %s", ErrBackupFailed, err, strings.TrimSpace(string(out)))
	}

	return nil
}
