package controller

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

var blankLines = regexp.MustCompile(`\n\s*\n+`)

// ServiceController starts and stops services and tracks which are running.
type ServiceController struct {
	executor  domain.CommandExecutor
	privilege domain.PrivilegeChecker
	logger    *zap.Logger

	mu      sync.RWMutex
	records []string
}

// NewServiceController creates a service controller.
func NewServiceController(executor domain.CommandExecutor, privilege domain.PrivilegeChecker, logger *zap.Logger) *ServiceController {
	return &ServiceController{executor: executor, privilege: privilege, logger: logger}
}

// StartService runs `am startservice`.
func (c *ServiceController) StartService(ctx context.Context, packageName, serviceName string) (bool, error) {
	if err := c.privilege.Check(ctx); err != nil {
		return false, err
	}
	cmd := "am startservice " + EscapeShell(domain.FlattenName(packageName, serviceName))
	result, err := c.executor.Exec(ctx, cmd)
	if fatal := fatalExecError(ctx, err); fatal != nil {
		return false, fatal
	}
	if err != nil || !result.Success() {
		c.logger.Warn("cannot start service", zap.String("command", cmd), zap.Error(err), zap.String("stderr", stderrOf(result)))
		return false, nil
	}
	return true, nil
}

// StopService runs `am stopservice`; it succeeds only if the platform
// reports "Service stopped".
func (c *ServiceController) StopService(ctx context.Context, packageName, serviceName string) (bool, error) {
	if err := c.privilege.Check(ctx); err != nil {
		return false, err
	}
	cmd := "am stopservice " + EscapeShell(domain.FlattenName(packageName, serviceName))
	result, err := c.executor.Exec(ctx, cmd)
	if fatal := fatalExecError(ctx, err); fatal != nil {
		return false, fatal
	}
	if err != nil || !strings.Contains(result.Stdout, "Service stopped") {
		c.logger.Warn("cannot stop service", zap.String("command", cmd), zap.Error(err))
		return false, nil
	}
	return true, nil
}

// LoadRunning snapshots `dumpsys activity services`.
func (c *ServiceController) LoadRunning(ctx context.Context) error {
	if err := c.privilege.Check(ctx); err != nil {
		return err
	}
	result, err := c.executor.Exec(ctx, "dumpsys activity services")
	if err != nil {
		return fmt.Errorf("failed to dump services: %w", err)
	}
	if !result.Success() {
		return fmt.Errorf("failed to dump services: %s", stderrOf(result))
	}

	var records []string
	if !strings.Contains(result.Stdout, "(nothing)") {
		records = blankLines.Split(result.Stdout, -1)
		if n := len(records); n > 0 && strings.Contains(records[n-1], "Connection bindings to services") {
			records = records[:n-1]
		}
	}

	c.mu.Lock()
	c.records = records
	c.mu.Unlock()
	c.logger.Debug("running services loaded", zap.Int("records", len(records)))
	return nil
}

// IsServiceRunning reports whether a ServiceRecord with a live process was
// present at the last LoadRunning.
func (c *ServiceController) IsServiceRunning(packageName, serviceName string) bool {
	full := serviceRecordPattern(packageName, serviceName)
	short := full
	if s := strings.TrimPrefix(serviceName, packageName); s != serviceName {
		short = serviceRecordPattern(packageName, s)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, rec := range c.records {
		if (full.MatchString(rec) || short.MatchString(rec)) && strings.Contains(rec, "app=ProcessRecord{") {
			return true
		}
	}
	return false
}

func serviceRecordPattern(packageName, serviceName string) *regexp.Regexp {
	return regexp.MustCompile(`ServiceRecord\{(.*?) ` + regexp.QuoteMeta(packageName) + `/` + regexp.QuoteMeta(serviceName) + `\}`)
}
