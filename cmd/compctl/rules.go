package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/rule"
)

var (
	outDir     string
	resetAfter bool
)

var exportCmd = &cobra.Command{
	Use:   "export <package>...",
	Short: "Export the component state of packages as rule files",
	Long: `Writes <package>.json into --out for every package that declares components.
Each component gets one rule per mechanism; providers only get a PM rule.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <file|dir>",
	Short: "Apply rule files",
	Long: `Applies a single rule file, or every *.json rule file in a directory.
Files of packages that are not installed are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var importIfwCmd = &cobra.Command{
	Use:   "import-ifw <dir>",
	Short: "Block every component named by the IFW documents in a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runImportIfw,
}

var exportIfwCmd = &cobra.Command{
	Use:   "export-ifw <dir>",
	Short: "Copy every IFW document into a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runExportIfw,
}

var resetIfwCmd = &cobra.Command{
	Use:   "reset-ifw",
	Short: "Delete every IFW document",
	Args:  cobra.NoArgs,
	RunE:  runResetIfw,
}

func addRuleCommands(root *cobra.Command) {
	exportCmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory to write rule files into")
	exportIfwCmd.Flags().BoolVar(&resetAfter, "reset", false, "Delete the IFW documents once they are exported")
	root.AddCommand(exportCmd, importCmd, importIfwCmd, exportIfwCmd, resetIfwCmd)
}

func printProgress(name string, err error) {
	if err != nil {
		fmt.Printf("  failed  %s: %v\n", name, err)
		return
	}
	fmt.Printf("  done    %s\n", name)
}

func runExport(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", outDir, err)
	}
	return withApp(func(ctx context.Context, a *app) error {
		n, err := a.engine.ExportAll(ctx, args, outDir, printProgress)
		fmt.Printf("Exported %d rule file(s) to %s\n", n, outDir)
		return err
	})
}

func runImport(cmd *cobra.Command, args []string) error {
	path := args[0]
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	return withApp(func(ctx context.Context, a *app) error {
		if info.IsDir() {
			n, err := a.engine.ImportAll(ctx, path, printProgress)
			fmt.Printf("Imported %d rule file(s)\n", n)
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		rf, err := rule.Decode(f)
		if err != nil {
			return err
		}
		ok, err := a.engine.Import(ctx, rf)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("some rules of %s could not be applied", rf.PackageName)
		}
		fmt.Printf("Imported %d rule(s) for %s\n", len(rf.Components), rf.PackageName)
		return nil
	})
}

func runImportIfw(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		n, err := a.engine.ImportIfwDir(ctx, args[0], printProgress)
		fmt.Printf("Imported %d IFW document(s)\n", n)
		return err
	})
}

func runExportIfw(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(args[0], 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", args[0], err)
	}
	return withApp(func(ctx context.Context, a *app) error {
		n, err := a.engine.ExportIfwDir(ctx, args[0], printProgress)
		fmt.Printf("Exported %d IFW document(s) to %s\n", n, args[0])
		if err != nil || !resetAfter {
			return err
		}
		removed, err := a.engine.ResetIfw(ctx)
		fmt.Printf("Removed %d IFW document(s)\n", removed)
		return err
	})
}

func runResetIfw(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		n, err := a.engine.ResetIfw(ctx)
		fmt.Printf("Removed %d IFW document(s)\n", n)
		return err
	})
}
