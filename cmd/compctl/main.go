// Package main is the CLI entry point for compctl.
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
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/broker"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/cache"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/config"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/controller"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/ifw"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/infra"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/rule"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "compctl",
	Short: "Component controller - blocks application components",
	Long: `compctl decides whether the activities, services, receivers and providers
of installed applications are reachable. It can block them with the platform's
enabled flag (PM), with intent firewall rules (IFW), or through a privileged
broker (SHIZUKU), and exports the resulting state as portable rule files.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath     string
	controllerFlag string
	jsonOutput     bool
	verbose        bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to the config file")
	rootCmd.PersistentFlags().StringVar(&controllerFlag, "controller", "", "Override the controller type (PM, IFW, SHIZUKU, IFW_PLUS_PM)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(versionCmd)
	addComponentCommands(rootCmd)
	addRuleCommands(rootCmd)
	addAppCommands(rootCmd)
	addBrokerCommands(rootCmd)
	addWatchCommands(rootCmd)
}

// app holds the wired components of one invocation.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	executor  *infra.SuExecutor
	privilege domain.PrivilegeChecker
	processes domain.ProcessManager
	cache     *cache.EncryptedCache
	inspector *controller.DumpsysInspector
	pm        *controller.PMController
	store     *ifw.Store
	registry  *controller.Registry
	repo      *usecase.ComponentRepository
	engine    *rule.Engine
	apps      *controller.AppController
	services  *controller.ServiceController
	client    *broker.Client
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if controllerFlag != "" {
		t, err := domain.ParseControllerType(controllerFlag)
		if err != nil {
			return nil, err
		}
		cfg.ControllerType = string(t)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// newApp loads the configuration and wires every component.
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	logger := createCLILogger(cfg)

	executor := infra.NewSuExecutor(cfg.SuBinary, cfg.CommandTimeout, logger)
	privilege := infra.NewRootChecker(executor, logger)
	processes := infra.NewProcessManager()

	componentCache, err := cache.Open(cfg.DataDir, cfg.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to open component cache: %w", err)
	}

	inspector := controller.NewDumpsysInspector(executor, controller.NewAPKManifestReader(), componentCache, cfg.UserID, logger)
	pm := controller.NewPMController(executor, privilege, cfg.UserID, logger)

	// The IFW root is only readable by root; without it, go through su.
	var ifwFiles domain.FileSystemManager = infra.NewFileSystemManager()
	if !infra.IsRoot() {
		ifwFiles = infra.NewShellFileSystem(executor, cfg.CommandTimeout)
	}
	// Lock files stay in our data dir; the platform owns the IFW root.
	store := ifw.NewStore(cfg.IfwRoot, filepath.Join(cfg.DataDir, "locks"), ifwFiles, privilege, logger)
	ifwController := ifw.NewController(store, inspector, pm, logger)

	client := broker.NewClient(cfg.BrokerSocket, logger)
	brokerController := broker.NewController(client, logger)

	registry := controller.NewRegistry(cfg.Controller(), pm, ifwController, brokerController)

	return &app{
		cfg:       cfg,
		logger:    logger,
		executor:  executor,
		privilege: privilege,
		processes: processes,
		cache:     componentCache,
		inspector: inspector,
		pm:        pm,
		store:     store,
		registry:  registry,
		repo:      usecase.NewComponentRepository(registry, inspector, componentCache, logger),
		engine:    rule.NewEngine(registry, store, inspector, infra.NewFileSystemManager(), logger),
		apps:      controller.NewAppController(executor, privilege, processes, cfg.UserID, logger),
		services:  controller.NewServiceController(executor, privilege, logger),
		client:    client,
	}, nil
}

func (a *app) Close() {
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("failed to close cache", zap.Error(err))
	}
	a.client.Close()
	_ = a.logger.Sync()
}

// withApp wires the app, runs fn with a context cancelled on SIGINT/SIGTERM,
// and releases resources afterwards.
func withApp(fn func(ctx context.Context, a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a)
}

func parseLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// createCLILogger logs to stderr in a human readable form.
func createCLILogger(cfg *config.Config) *zap.Logger {
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Log.Level))
	zc.DisableStacktrace = true
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// createDaemonLogger logs JSON to the configured file.
func createDaemonLogger(cfg *config.Config) *zap.Logger {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Log.Level))
	if cfg.Log.File != "" {
		zc.OutputPaths = []string{cfg.Log.File}
		zc.ErrorOutputPaths = []string{cfg.Log.File}
	}
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build()
	if err != nil {
		// Fallback to stdout if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("compctl %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
