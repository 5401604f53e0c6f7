package controller

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// AppController runs package-level commands: stop, clear, uninstall, enable.
type AppController struct {
	executor  domain.CommandExecutor
	privilege domain.PrivilegeChecker
	processes domain.ProcessManager
	userID    int
	logger    *zap.Logger

	mu      sync.RWMutex
	running map[string]bool
}

// NewAppController creates an app controller for the given Android user.
func NewAppController(
	executor domain.CommandExecutor,
	privilege domain.PrivilegeChecker,
	processes domain.ProcessManager,
	userID int,
	logger *zap.Logger,
) *AppController {
	return &AppController{
		executor:  executor,
		privilege: privilege,
		processes: processes,
		userID:    userID,
		logger:    logger,
		running:   make(map[string]bool),
	}
}

// ForceStop kills every process of the package.
func (c *AppController) ForceStop(ctx context.Context, packageName string) (bool, error) {
	return c.run(ctx, "force-stop", "am force-stop "+packageName)
}

// ClearData wipes the package's data for the user.
func (c *AppController) ClearData(ctx context.Context, packageName string) (bool, error) {
	return c.run(ctx, "clear-data", fmt.Sprintf("pm clear --user %d %s", c.userID, packageName))
}

// ClearCache deletes the package's cache directories for the user.
func (c *AppController) ClearCache(ctx context.Context, packageName string) (bool, error) {
	base := path.Join("/data/user", fmt.Sprint(c.userID), packageName)
	return c.run(ctx, "clear-cache",
		fmt.Sprintf("rm -rf %s %s", path.Join(base, "cache"), path.Join(base, "code_cache")))
}

// Uninstall removes the package for the user.
func (c *AppController) Uninstall(ctx context.Context, packageName string) (bool, error) {
	return c.run(ctx, "uninstall", fmt.Sprintf("pm uninstall --user %d %s", c.userID, packageName))
}

// EnableApp enables the whole package.
func (c *AppController) EnableApp(ctx context.Context, packageName string) (bool, error) {
	return c.run(ctx, "enable", fmt.Sprintf("pm enable --user %d %s", c.userID, packageName))
}

// DisableApp disables the whole package.
func (c *AppController) DisableApp(ctx context.Context, packageName string) (bool, error) {
	return c.run(ctx, "disable", fmt.Sprintf("pm disable --user %d %s", c.userID, packageName))
}

func (c *AppController) run(ctx context.Context, action, cmd string) (bool, error) {
	if err := c.privilege.Check(ctx); err != nil {
		return false, err
	}

	result, err := c.executor.Exec(ctx, cmd)
	if fatal := fatalExecError(ctx, err); fatal != nil {
		return false, fatal
	}
	if err != nil || !result.Success() {
		c.logger.Warn("app command failed",
			zap.String("action", action),
			zap.String("command", cmd),
			zap.Error(err),
			zap.String("stderr", stderrOf(result)))
		return false, nil
	}
	c.logger.Info("app command done", zap.String("action", action), zap.String("command", cmd))
	return true, nil
}

// RefreshRunningApps snapshots the process table. It reads /proc through
// gopsutil and falls back to `ps -A -o NAME` when that yields nothing
// (unprivileged callers only see their own processes).
func (c *AppController) RefreshRunningApps(ctx context.Context) error {
	names, err := c.processes.Names()
	if err != nil || len(names) == 0 {
		c.logger.Debug("process table unavailable, falling back to ps", zap.Error(err))
		names, err = c.psNames(ctx)
		if err != nil {
			return err
		}
	}

	running := make(map[string]bool, len(names))
	for _, n := range names {
		// App processes are named "<pkg>" or "<pkg>:<process>".
		if i := strings.IndexByte(n, ':'); i > 0 {
			n = n[:i]
		}
		running[n] = true
	}

	c.mu.Lock()
	c.running = running
	c.mu.Unlock()
	return nil
}

func (c *AppController) psNames(ctx context.Context) ([]string, error) {
	result, err := c.executor.Exec(ctx, "ps -A -o NAME")
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	if !result.Success() {
		return nil, fmt.Errorf("failed to list processes: %s", stderrOf(result))
	}
	return result.Lines(), nil
}

// IsAppRunning reports whether the package was running at the last refresh.
func (c *AppController) IsAppRunning(packageName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running[packageName]
}
