package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// DefaultCommandTimeout bounds a single privileged command.
const DefaultCommandTimeout = 30 * time.Second

// SuExecutor implements domain.CommandExecutor by running commands through
// `su -c`, or through `sh -c` when the process already runs as root.
type SuExecutor struct {
	suPath  string
	direct  bool
	timeout time.Duration
	logger  *zap.Logger
}

// NewSuExecutor creates an executor. When running as root (or suPath is
// empty) commands are run directly with sh.
func NewSuExecutor(suPath string, timeout time.Duration, logger *zap.Logger) *SuExecutor {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &SuExecutor{
		suPath:  suPath,
		direct:  suPath == "" || IsRoot(),
		timeout: timeout,
		logger:  logger,
	}
}

// NewShellExecutor creates an executor that always uses sh (for tests and
// for the broker, which already holds its own identity).
func NewShellExecutor(timeout time.Duration, logger *zap.Logger) *SuExecutor {
	e := NewSuExecutor("", timeout, logger)
	e.direct = true
	return e
}

// Exec runs command and captures its exit status and output.
func (e *SuExecutor) Exec(ctx context.Context, command string) (*domain.CommandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var cmd *exec.Cmd
	if e.direct {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	} else {
		cmd = exec.CommandContext(ctx, e.suPath, "-c", command)
	}
	cmd.Stdin = nil // Prevent any interactive prompts
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &domain.CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			return nil, fmt.Errorf("command %q interrupted: %w", command, ctx.Err())
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("su binary %q not found: %w", e.suPath, domain.ErrPrivilegeUnavailable)
		default:
			return nil, fmt.Errorf("failed to run %q: %w", command, err)
		}
	}

	e.logger.Debug("command executed",
		zap.String("command", command),
		zap.Int("exit", result.ExitCode),
		zap.Duration("took", time.Since(start)))

	return result, nil
}

// Ensure SuExecutor implements domain.CommandExecutor.
var _ domain.CommandExecutor = (*SuExecutor)(nil)
