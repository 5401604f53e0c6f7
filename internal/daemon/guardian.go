package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/broker"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// Pinger probes the broker.
type Pinger interface {
	Ping(ctx context.Context) (*broker.PingReply, error)
}

// GuardianConfig holds guardian configuration.
type GuardianConfig struct {
	CheckInterval time.Duration // How often to probe the broker
	PingTimeout   time.Duration // Bound on a single probe
	// StartupGrace is how long a freshly started broker may stay silent
	// before it is started again.
	StartupGrace time.Duration
}

// DefaultGuardianConfig returns default guardian configuration.
func DefaultGuardianConfig() GuardianConfig {
	return GuardianConfig{
		CheckInterval: 30 * time.Second,
		PingTimeout:   broker.DefaultDialTimeout,
		StartupGrace:  10 * time.Second,
	}
}

// Guardian keeps the broker alive: when it stops answering and no broker
// process is left, it starts a new one.
type Guardian struct {
	config    GuardianConfig
	pinger    Pinger
	processes domain.ProcessManager
	start     func() error
	logger    *zap.Logger

	lastStart time.Time
	now       func() time.Time
}

// NewGuardian creates a guardian. start launches a broker process.
func NewGuardian(
	config GuardianConfig,
	pinger Pinger,
	processes domain.ProcessManager,
	start func() error,
	logger *zap.Logger,
) *Guardian {
	return &Guardian{
		config:    config,
		pinger:    pinger,
		processes: processes,
		start:     start,
		logger:    logger,
		now:       time.Now,
	}
}

// Run checks the broker immediately and then on every tick.
// This blocks until context is canceled.
func (g *Guardian) Run(ctx context.Context) error {
	g.logger.Info("guardian started", zap.Duration("interval", g.config.CheckInterval))
	g.Check(ctx)

	ticker := time.NewTicker(g.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("guardian stopping")
			return ctx.Err()
		case <-ticker.C:
			g.Check(ctx)
		}
	}
}

// Check probes the broker once and restarts it if needed. It reports
// whether a start was attempted.
func (g *Guardian) Check(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, g.config.PingTimeout)
	reply, err := g.pinger.Ping(pingCtx)
	cancel()
	if err == nil {
		g.logger.Debug("broker alive", zap.Int("pid", reply.PID), zap.String("version", reply.Version))
		return false
	}
	if ctx.Err() != nil {
		return false
	}

	if broker.Running(g.processes) {
		if g.now().Sub(g.lastStart) < g.config.StartupGrace {
			g.logger.Debug("broker starting up", zap.Error(err))
			return false
		}
		// A hung broker holds the lock; a new one would fail to start.
		g.logger.Warn("broker process present but not answering", zap.Error(err))
		return false
	}

	g.logger.Info("broker not running, restarting", zap.Error(err))
	g.lastStart = g.now()
	if err := g.start(); err != nil {
		g.logger.Error("failed to restart broker", zap.Error(err))
	} else {
		g.logger.Info("broker restarted")
	}
	return true
}
