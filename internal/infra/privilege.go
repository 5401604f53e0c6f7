package infra

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// RootChecker implements domain.PrivilegeChecker.
// Root is granted when the process runs as uid 0, or when `id -u` run
// through the executor reports 0. The probe result is remembered.
type RootChecker struct {
	executor domain.CommandExecutor
	logger   *zap.Logger

	mu      sync.Mutex
	probed  bool
	granted bool
}

// NewRootChecker creates a checker that probes through executor.
func NewRootChecker(executor domain.CommandExecutor, logger *zap.Logger) *RootChecker {
	return &RootChecker{executor: executor, logger: logger}
}

// Check returns nil when root access is available.
func (c *RootChecker) Check(ctx context.Context) error {
	if IsRoot() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.probed {
		c.granted = c.probe(ctx)
		// A cancelled probe says nothing about privilege; try again next time.
		c.probed = ctx.Err() == nil
	}
	if !c.granted {
		return fmt.Errorf("root access not granted: %w", domain.ErrPrivilegeUnavailable)
	}
	return nil
}

func (c *RootChecker) probe(ctx context.Context) bool {
	result, err := c.executor.Exec(ctx, "id -u")
	if err != nil {
		c.logger.Warn("root probe failed", zap.Error(err))
		return false
	}
	if !result.Success() {
		c.logger.Warn("root probe rejected",
			zap.Int("exit", result.ExitCode),
			zap.String("stderr", result.Stderr))
		return false
	}
	return strings.TrimSpace(result.Stdout) == "0"
}

// StaticPrivilege is a PrivilegeChecker with a fixed answer.
// The broker uses it for its own identity, which is decided at startup.
type StaticPrivilege bool

// Check implements domain.PrivilegeChecker.
func (p StaticPrivilege) Check(ctx context.Context) error {
	if !p {
		return fmt.Errorf("privilege not granted: %w", domain.ErrPrivilegeUnavailable)
	}
	return nil
}

// Ensure implementations satisfy domain.PrivilegeChecker.
var _ domain.PrivilegeChecker = (*RootChecker)(nil)
var _ domain.PrivilegeChecker = StaticPrivilege(true)
