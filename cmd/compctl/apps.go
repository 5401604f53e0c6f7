package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var appCmd = &cobra.Command{
	Use:   "app",
	Short: "Package-level commands",
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Start, stop and inspect services",
}

// appActions maps each package-level subcommand to its controller call.
var appActions = []struct {
	use   string
	short string
	done  string
	run   func(a *app) func(ctx context.Context, pkg string) (bool, error)
}{
	{"force-stop", "Kill every process of a package", "Stopped", func(a *app) func(context.Context, string) (bool, error) { return a.apps.ForceStop }},
	{"clear-data", "Wipe the data of a package", "Cleared data of", func(a *app) func(context.Context, string) (bool, error) { return a.apps.ClearData }},
	{"clear-cache", "Delete the cache directories of a package", "Cleared cache of", func(a *app) func(context.Context, string) (bool, error) { return a.apps.ClearCache }},
	{"uninstall", "Uninstall a package for the configured user", "Uninstalled", func(a *app) func(context.Context, string) (bool, error) { return a.apps.Uninstall }},
	{"enable", "Enable a whole package", "Enabled", func(a *app) func(context.Context, string) (bool, error) { return a.apps.EnableApp }},
	{"disable", "Disable a whole package", "Disabled", func(a *app) func(context.Context, string) (bool, error) { return a.apps.DisableApp }},
}

var appRunningCmd = &cobra.Command{
	Use:   "running <package>...",
	Short: "Report whether packages have a live process",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAppRunning,
}

var serviceStartCmd = &cobra.Command{
	Use:   "start <package/service>",
	Short: "Start a service",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runService(args[0], true) },
}

var serviceStopCmd = &cobra.Command{
	Use:   "stop <package/service>",
	Short: "Stop a service",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runService(args[0], false) },
}

var serviceRunningCmd = &cobra.Command{
	Use:   "running <package/service>...",
	Short: "Report whether services are running",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runServiceRunning,
}

func addAppCommands(root *cobra.Command) {
	for _, action := range appActions {
		action := action
		appCmd.AddCommand(&cobra.Command{
			Use:   action.use + " <package>",
			Short: action.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(ctx context.Context, a *app) error {
					ok, err := action.run(a)(ctx, args[0])
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("%s %s failed", action.use, args[0])
					}
					fmt.Printf("%s %s\n", action.done, args[0])
					return nil
				})
			},
		})
	}
	appCmd.AddCommand(appRunningCmd)
	serviceCmd.AddCommand(serviceStartCmd, serviceStopCmd, serviceRunningCmd)
	root.AddCommand(appCmd, serviceCmd)
}

func runAppRunning(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		if err := a.apps.RefreshRunningApps(ctx); err != nil {
			return err
		}
		for _, pkg := range args {
			fmt.Printf("%s\t%t\n", pkg, a.apps.IsAppRunning(pkg))
		}
		return nil
	})
}

func runService(arg string, start bool) error {
	ref, err := parseRef(arg)
	if err != nil {
		return err
	}
	return withApp(func(ctx context.Context, a *app) error {
		var ok bool
		if start {
			ok, err = a.services.StartService(ctx, ref.PackageName, ref.ComponentName)
		} else {
			ok, err = a.services.StopService(ctx, ref.PackageName, ref.ComponentName)
		}
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("cannot change state of %s", ref.FlattenedName())
		}
		fmt.Printf("Done: %s\n", ref.FlattenedName())
		return nil
	})
}

func runServiceRunning(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		if err := a.services.LoadRunning(ctx); err != nil {
			return err
		}
		for _, arg := range args {
			ref, err := parseRef(arg)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%t\n", ref.FlattenedName(), a.services.IsServiceRunning(ref.PackageName, ref.ComponentName))
		}
		return nil
	})
}
