package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/broker"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/controller"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/daemon"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/infra"
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Run or probe the privileged broker",
	Long: `The broker applies component state changes with the identity it was started
with (root, or the shell user granted by the device). Unprivileged compctl
processes forward to it when the controller type is SHIZUKU.`,
}

var brokerServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve component changes on the broker socket",
	Args:  cobra.NoArgs,
	RunE:  runBrokerServe,
}

var brokerGuardCmd = &cobra.Command{
	Use:   "guard",
	Short: "Keep the broker running, restarting it when it dies",
	Args:  cobra.NoArgs,
	RunE:  runBrokerGuard,
}

var brokerPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the broker answers",
	Args:  cobra.NoArgs,
	RunE:  runBrokerPing,
}

func addBrokerCommands(root *cobra.Command) {
	brokerCmd.AddCommand(brokerServeCmd, brokerGuardCmd, brokerPingCmd)
	root.AddCommand(brokerCmd)
}

func runBrokerServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger := createDaemonLogger(cfg)
	defer func() { _ = logger.Sync() }()

	lock, err := infra.TryAcquireFileLock(filepath.Join(cfg.DataDir, "broker.lock"))
	if err != nil {
		return fmt.Errorf("cannot start broker: %w", err)
	}
	defer func() { _ = lock.Release() }()

	// Commands run directly: the broker already holds the identity it serves.
	executor := infra.NewShellExecutor(cfg.CommandTimeout, logger)
	pm := controller.NewPMController(executor, infra.StaticPrivilege(true), cfg.UserID, logger)
	server := broker.NewServer(pm, Version, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("broker starting",
		zap.String("socket", cfg.BrokerSocket),
		zap.Int("pid", os.Getpid()),
		zap.Int("uid", os.Getuid()),
		zap.String("version", Version))

	if err := server.Serve(ctx, cfg.BrokerSocket); err != nil {
		logger.Error("broker stopped", zap.Error(err))
		return err
	}
	logger.Info("broker stopped")
	return nil
}

func runBrokerGuard(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger := createDaemonLogger(cfg)
	defer func() { _ = logger.Sync() }()

	lock, err := infra.TryAcquireFileLock(filepath.Join(cfg.DataDir, "guardian.lock"))
	if err != nil {
		return fmt.Errorf("cannot start guardian: %w", err)
	}
	defer func() { _ = lock.Release() }()

	client := broker.NewClient(cfg.BrokerSocket, logger)
	defer client.Close()

	guardian := daemon.NewGuardian(daemon.DefaultGuardianConfig(), client, infra.NewProcessManager(),
		func() error { return daemon.StartBroker("", configPath) }, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := guardian.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func runBrokerPing(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := createCLILogger(cfg)
	defer func() { _ = logger.Sync() }()

	client := broker.NewClient(cfg.BrokerSocket, logger)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), broker.DefaultDialTimeout)
	defer cancel()

	reply, err := client.Ping(ctx)
	if err != nil {
		if broker.Running(infra.NewProcessManager()) {
			return fmt.Errorf("broker process is running but does not answer on %s: %w", cfg.BrokerSocket, err)
		}
		return err
	}
	fmt.Printf("broker %s (pid %d, uid %d) on %s\n", reply.Version, reply.PID, reply.UID, cfg.BrokerSocket)
	return nil
}
