package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/rule"
)

// RuleImporter applies a directory of rule files.
type RuleImporter interface {
	ImportAll(ctx context.Context, dir string, progress rule.ProgressFunc) (int, error)
}

// WatcherConfig holds watcher configuration.
type WatcherConfig struct {
	RulesDir            string
	EnforcementInterval time.Duration // How often to re-apply the rules (default 10 min)
}

// DefaultEnforcementInterval is how often rules are re-applied.
const DefaultEnforcementInterval = 10 * time.Minute

// Watcher re-applies rule files on a schedule, so components that an app
// update or another tool re-enabled are blocked again.
type Watcher struct {
	config   WatcherConfig
	importer RuleImporter
	logger   *zap.Logger
}

// NewWatcher creates a watcher.
func NewWatcher(config WatcherConfig, importer RuleImporter, logger *zap.Logger) *Watcher {
	if config.EnforcementInterval <= 0 {
		config.EnforcementInterval = DefaultEnforcementInterval
	}
	return &Watcher{config: config, importer: importer, logger: logger}
}

// Run applies the rules immediately and then on every tick until ctx is
// canceled. A failed pass is retried at the next tick.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watcher started",
		zap.String("rules", w.config.RulesDir),
		zap.Duration("interval", w.config.EnforcementInterval))

	if err := w.Enforce(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	ticker := time.NewTicker(w.config.EnforcementInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.Enforce(ctx); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// Enforce runs one pass. Per-file failures are logged; only errors that
// stop the whole import are returned.
func (w *Watcher) Enforce(ctx context.Context) error {
	failed := 0
	n, err := w.importer.ImportAll(ctx, w.config.RulesDir, func(name string, err error) {
		if err != nil {
			failed++
		}
	})
	if err != nil {
		w.logger.Error("enforcement failed", zap.Int("imported", n), zap.Error(err))
		return err
	}
	w.logger.Info("enforcement completed", zap.Int("imported", n), zap.Int("failed", failed))
	return nil
}
