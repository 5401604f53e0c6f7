// Package controller implements the component enablement backends and
// the registry that selects one of them.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// PMController toggles the platform enabled flag with `pm enable|disable`.
type PMController struct {
	executor  domain.CommandExecutor
	privilege domain.PrivilegeChecker
	userID    int
	logger    *zap.Logger
}

// NewPMController creates a controller acting on behalf of the given Android user.
func NewPMController(
	executor domain.CommandExecutor,
	privilege domain.PrivilegeChecker,
	userID int,
	logger *zap.Logger,
) *PMController {
	return &PMController{
		executor:  executor,
		privilege: privilege,
		userID:    userID,
		logger:    logger,
	}
}

// Enable sets the component's enabled flag.
func (c *PMController) Enable(ctx context.Context, packageName, componentName string) (bool, error) {
	if err := c.privilege.Check(ctx); err != nil {
		return false, err
	}
	return c.setState(ctx, "enable", packageName, componentName)
}

// Disable clears the component's enabled flag.
func (c *PMController) Disable(ctx context.Context, packageName, componentName string) (bool, error) {
	if err := c.privilege.Check(ctx); err != nil {
		return false, err
	}
	return c.setState(ctx, "disable", packageName, componentName)
}

func (c *PMController) setState(ctx context.Context, verb, packageName, componentName string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	cmd := fmt.Sprintf("pm %s --user %d %s", verb, c.userID, EscapeShell(domain.FlattenName(packageName, componentName)))
	result, err := c.executor.Exec(ctx, cmd)
	if fatal := fatalExecError(ctx, err); fatal != nil {
		return false, fatal
	}
	if err != nil || !result.Success() {
		c.logger.Warn("pm command failed",
			zap.String("command", cmd),
			zap.Error(err),
			zap.String("stderr", stderrOf(result)))
		return false, nil
	}

	c.logger.Debug("component state changed",
		zap.String("package", packageName),
		zap.String("component", componentName),
		zap.String("state", verb+"d"))
	return true, nil
}

// CheckEnableState reports false when the component is listed under
// disabledComponents for the configured user.
func (c *PMController) CheckEnableState(ctx context.Context, packageName, componentName string) (bool, error) {
	if err := c.privilege.Check(ctx); err != nil {
		return false, err
	}

	result, err := c.executor.Exec(ctx, "dumpsys package "+packageName)
	if fatal := fatalExecError(ctx, err); fatal != nil {
		return false, fatal
	}
	if err != nil || !result.Success() {
		return false, fmt.Errorf("failed to query %s: %w", packageName, domain.ErrStateUnknown)
	}

	disabled, ok := ParseDisabledComponents(result.Stdout, packageName, c.userID)
	if !ok {
		return false, fmt.Errorf("package %s not in dumpsys output: %w", packageName, domain.ErrStateUnknown)
	}
	return !disabled[NormalizeComponentName(packageName, componentName)], nil
}

// BatchEnable enables refs one after another.
func (c *PMController) BatchEnable(ctx context.Context, refs []domain.ComponentRef, progress domain.ProgressFunc) (int, error) {
	if err := c.privilege.Check(ctx); err != nil {
		return 0, err
	}
	return RunBatch(ctx, refs, func(ctx context.Context, ref domain.ComponentRef) (bool, error) {
		return c.setState(ctx, "enable", ref.PackageName, ref.ComponentName)
	}, progress)
}

// BatchDisable disables refs one after another.
func (c *PMController) BatchDisable(ctx context.Context, refs []domain.ComponentRef, progress domain.ProgressFunc) (int, error) {
	if err := c.privilege.Check(ctx); err != nil {
		return 0, err
	}
	return RunBatch(ctx, refs, func(ctx context.Context, ref domain.ComponentRef) (bool, error) {
		return c.setState(ctx, "disable", ref.PackageName, ref.ComponentName)
	}, progress)
}

// ParseDisabledComponents extracts the disabledComponents set of packageName
// for userID from `dumpsys package` output. ok is false when the package
// block is absent.
func ParseDisabledComponents(output, packageName string, userID int) (disabled map[string]bool, ok bool) {
	disabled = make(map[string]bool)

	header := "Package [" + packageName + "]"
	pkgIndent := -1
	currentUser := -1
	listIndent := -1

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, " \r\t")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " "))

		if pkgIndent < 0 {
			if strings.HasPrefix(trimmed, header) {
				pkgIndent = indent
				ok = true
			}
			continue
		}
		if indent <= pkgIndent {
			// End of this package's block.
			break
		}

		if listIndent >= 0 {
			if indent > listIndent {
				disabled[NormalizeComponentName(packageName, trimmed)] = true
				continue
			}
			listIndent = -1
		}

		if uid, isUser := parseUserLine(trimmed); isUser {
			currentUser = uid
			continue
		}
		if trimmed == "disabledComponents:" && (currentUser < 0 || currentUser == userID) {
			listIndent = indent
		}
	}
	return disabled, ok
}

// parseUserLine recognises "User <n>: ..." headers.
func parseUserLine(line string) (int, bool) {
	if !strings.HasPrefix(line, "User ") {
		return 0, false
	}
	rest := strings.TrimPrefix(line, "User ")
	colon := strings.IndexByte(rest, ':')
	if colon <= 0 {
		return 0, false
	}
	uid, err := strconv.Atoi(rest[:colon])
	if err != nil {
		return 0, false
	}
	return uid, true
}

// NormalizeComponentName expands the ".Short" form to a fully qualified name.
func NormalizeComponentName(packageName, componentName string) string {
	if strings.HasPrefix(componentName, ".") {
		return packageName + componentName
	}
	return componentName
}

// EscapeShell escapes characters of a component name that the shell would expand.
func EscapeShell(s string) string {
	return strings.ReplaceAll(s, "$", `\$`)
}

// fatalExecError returns the executor error if it must abort the operation:
// missing privilege or a cancelled context. Other errors are command failures.
func fatalExecError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrPrivilegeUnavailable) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return nil
}

func stderrOf(r *domain.CommandResult) string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Stderr)
}

// Ensure PMController implements domain.ComponentController.
var _ domain.ComponentController = (*PMController)(nil)
