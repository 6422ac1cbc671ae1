package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"assemblyline/internal/logging"
	"assemblyline/internal/services"
)

// stderrLimit bounds how much captured stderr ends up in an error message.
const stderrLimit = 2048

// ExecResult holds the buffered output of a tool run.
type ExecResult struct {
	Stdout []byte
	Stderr []byte
}

// Exec runs an external tool inside the scratch directory with stdout and
// stderr buffered in memory. A non-zero exit yields an ErrExternalTool error
// whose message is the captured stderr.
func (c *StepContext) Exec(ctx context.Context, name string, args ...string) (ExecResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = c.ScratchDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.Logger.Debug("running external tool",
		logging.String(logging.FieldStep, c.Step()),
		logging.String("tool", name),
		logging.Any("args", args),
	)
	err := cmd.Run()
	result := ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return result, nil
	}

	message := tail(strings.TrimSpace(stderr.String()), stderrLimit)
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		if message == "" {
			message = exitErr.Error()
		}
		return result, services.Wrap(services.ErrExternalTool, c.Step(), name, message, nil)
	case errors.Is(err, exec.ErrNotFound):
		return result, services.Wrap(services.ErrExternalTool, c.Step(), name, "binary not found in PATH", err)
	default:
		return result, services.Wrap(services.ErrExternalTool, c.Step(), name, message, err)
	}
}

func tail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return "..." + s[len(s)-limit:]
}
