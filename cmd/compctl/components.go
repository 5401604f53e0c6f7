package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

var (
	typeFilter   string
	statusAsJSON bool
)

var enableCmd = &cobra.Command{
	Use:   "enable <package/component>... | <package> --type TYPE",
	Short: "Make components reachable again",
	Args:  cobra.MinimumNArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runControl(args, true) },
}

var disableCmd = &cobra.Command{
	Use:   "disable <package/component>... | <package> --type TYPE",
	Short: "Block components with the configured controller",
	Args:  cobra.MinimumNArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runControl(args, false) },
}

var statusCmd = &cobra.Command{
	Use:   "status <package/component>... | <package>",
	Short: "Show the blocked state of components",
	Long: `With a package/component argument the state is read from the device.
With a bare package name the cached state of every known component is shown;
run "refresh" first to rediscover it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStatus,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh <package>...",
	Short: "Rediscover the components of packages and cache their state",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRefresh,
}

var searchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "Search cached components by name",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func addComponentCommands(root *cobra.Command) {
	for _, c := range []*cobra.Command{enableCmd, disableCmd} {
		c.Flags().StringVar(&typeFilter, "type", "", "Apply to every component of this type (ACTIVITY, SERVICE, RECEIVER, PROVIDER)")
	}
	for _, c := range []*cobra.Command{statusCmd, refreshCmd, searchCmd} {
		c.Flags().BoolVar(&statusAsJSON, "json", false, "Output as JSON")
	}
	root.AddCommand(enableCmd, disableCmd, statusCmd, refreshCmd, searchCmd)
}

// parseRef splits "<package>/<component>". A component name starting with
// "." is relative to the package.
func parseRef(arg string) (domain.ComponentRef, error) {
	pkg, name, ok := strings.Cut(arg, "/")
	if !ok || pkg == "" || name == "" {
		return domain.ComponentRef{}, fmt.Errorf("expected <package>/<component>, got %q", arg)
	}
	if strings.HasPrefix(name, ".") {
		name = pkg + name
	}
	return domain.ComponentRef{PackageName: pkg, ComponentName: name}, nil
}

// resolveRefs turns the arguments into refs. With --type the single
// argument is a package and every component of that type is selected.
func resolveRefs(ctx context.Context, a *app, args []string) ([]domain.ComponentRef, error) {
	if typeFilter != "" {
		if len(args) != 1 {
			return nil, fmt.Errorf("--type takes exactly one package")
		}
		t, err := domain.ParseComponentType(typeFilter)
		if err != nil {
			return nil, err
		}
		info, err := a.inspector.GetPackageInfo(ctx, args[0])
		if err != nil {
			return nil, err
		}
		var refs []domain.ComponentRef
		for _, c := range info.ComponentsOfType(t) {
			refs = append(refs, c.ComponentRef)
		}
		return refs, nil
	}

	refs := make([]domain.ComponentRef, 0, len(args))
	for _, arg := range args {
		ref, err := parseRef(arg)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func runControl(args []string, newState bool) error {
	return withApp(func(ctx context.Context, a *app) error {
		refs, err := resolveRefs(ctx, a, args)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			fmt.Println("No matching components")
			return nil
		}

		verb := "Disabled"
		if newState {
			verb = "Enabled"
		}

		if len(refs) == 1 {
			ok, err := a.repo.ControlComponent(ctx, refs[0].PackageName, refs[0].ComponentName, newState)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("controller rejected %s", refs[0].FlattenedName())
			}
			fmt.Printf("%s %s\n", verb, refs[0].FlattenedName())
			return nil
		}

		n, err := a.repo.BatchControl(ctx, refs, newState, func(s domain.ComponentStatus) {
			fmt.Printf("  %s %s\n", stateLabel(s), s.Ref.FlattenedName())
		})
		fmt.Printf("%s %d/%d components\n", verb, n, len(refs))
		return err
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		var statuses []domain.ComponentStatus
		for _, arg := range args {
			if !strings.Contains(arg, "/") {
				cached, err := a.repo.Cached(arg)
				if err != nil {
					return err
				}
				statuses = append(statuses, cached...)
				continue
			}
			ref, err := parseRef(arg)
			if err != nil {
				return err
			}
			s, err := a.repo.Status(ctx, ref.PackageName, ref.ComponentName)
			if err != nil {
				return err
			}
			statuses = append(statuses, *s)
		}
		return printStatuses(statuses)
	})
}

func runRefresh(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		var statuses []domain.ComponentStatus
		for _, pkg := range args {
			s, err := a.repo.RefreshPackage(ctx, pkg)
			if err != nil {
				return err
			}
			statuses = append(statuses, s...)
		}
		return printStatuses(statuses)
	})
}

func runSearch(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		statuses, err := a.repo.Search(args[0])
		if err != nil {
			return err
		}
		return printStatuses(statuses)
	})
}

func stateLabel(s domain.ComponentStatus) string {
	switch {
	case s.Reachable():
		return "enabled"
	case s.PMBlocked && s.IFWBlocked:
		return "blocked (pm+ifw)"
	case s.PMBlocked:
		return "blocked (pm)"
	default:
		return "blocked (ifw)"
	}
}

type statusJSON struct {
	Package    string `json:"package"`
	Component  string `json:"component"`
	Type       string `json:"type,omitempty"`
	Exported   bool   `json:"exported"`
	PMBlocked  bool   `json:"pm_blocked"`
	IFWBlocked bool   `json:"ifw_blocked"`
	UpdatedAt  string `json:"updated_at"`
}

func printStatuses(statuses []domain.ComponentStatus) error {
	if statusAsJSON {
		out := make([]statusJSON, 0, len(statuses))
		for _, s := range statuses {
			out = append(out, statusJSON{
				Package:    s.Ref.PackageName,
				Component:  s.Ref.ComponentName,
				Type:       string(s.Ref.Type),
				Exported:   s.Exported,
				PMBlocked:  s.PMBlocked,
				IFWBlocked: s.IFWBlocked,
				UpdatedAt:  s.UpdatedAt.Format(time.RFC3339),
			})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(statuses) == 0 {
		fmt.Println("No components")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COMPONENT\tTYPE\tEXPORTED\tSTATE")
	for _, s := range statuses {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", s.Ref.FlattenedName(), s.Ref.Type, s.Exported, stateLabel(s))
	}
	return w.Flush()
}
