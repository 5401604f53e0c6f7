// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/controller"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// FakeDevice answers the shell commands compctl issues (pm, dumpsys) from
// an in-memory package table, and serves the package manifests.
type FakeDevice struct {
	mu       sync.Mutex
	packages map[string]*fakePackage
	commands []string
}

type fakePackage struct {
	versionName string
	versionCode int64
	components  map[string]domain.ComponentType
	filtered    map[string]bool
	disabled    map[string]bool
}

// NewFakeDevice creates a device with no packages installed.
func NewFakeDevice() *FakeDevice {
	return &FakeDevice{packages: make(map[string]*fakePackage)}
}

// Install adds a package declaring the given components, each with an
// intent filter. Component names are fully qualified.
func (d *FakeDevice) Install(packageName, versionName string, versionCode int64, components map[string]domain.ComponentType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &fakePackage{
		versionName: versionName,
		versionCode: versionCode,
		components:  make(map[string]domain.ComponentType, len(components)),
		filtered:    make(map[string]bool, len(components)),
		disabled:    make(map[string]bool),
	}
	for name, t := range components {
		p.components[name] = t
		p.filtered[name] = true
	}
	d.packages[packageName] = p
}

// Declare adds a component to an installed package. Components without an
// intent filter are missing from the dumpsys resolver tables and only show
// up in the manifest.
func (d *FakeDevice) Declare(packageName, componentName string, t domain.ComponentType, intentFilter bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.packages[packageName]; ok {
		p.components[componentName] = t
		p.filtered[componentName] = intentFilter
	}
}

// Uninstall removes a package.
func (d *FakeDevice) Uninstall(packageName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.packages, packageName)
}

// Disabled reports whether the platform flag of a component is off.
func (d *FakeDevice) Disabled(packageName, componentName string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.packages[packageName]
	return ok && p.disabled[componentName]
}

// SetDisabled changes the platform flag behind compctl's back.
func (d *FakeDevice) SetDisabled(packageName, componentName string, disabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.packages[packageName]; ok {
		p.disabled[componentName] = disabled
	}
}

// Commands returns every command received so far.
func (d *FakeDevice) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

// ReadManifest implements controller.ManifestReader for the paths `pm path` reports.
func (d *FakeDevice) ReadManifest(ctx context.Context, apkPath string) (*controller.Manifest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pkg := strings.TrimSuffix(strings.TrimPrefix(apkPath, "/data/app/"), "/base.apk")
	p, ok := d.packages[pkg]
	if !ok {
		return nil, fmt.Errorf("open %s: no such file", apkPath)
	}

	m := &controller.Manifest{Package: pkg}
	m.UsesSdk.TargetSdk = "34"
	for name, t := range p.components {
		c := controller.ManifestComponent{Name: name}
		if p.filtered[name] {
			c.IntentFilters = []struct{}{{}}
		}
		switch t {
		case domain.ComponentActivity:
			m.Application.Activities = append(m.Application.Activities, c)
		case domain.ComponentService:
			m.Application.Services = append(m.Application.Services, c)
		case domain.ComponentReceiver:
			m.Application.Receivers = append(m.Application.Receivers, c)
		case domain.ComponentProvider:
			m.Application.Providers = append(m.Application.Providers, c)
		}
	}
	return m, nil
}

// Exec implements domain.CommandExecutor.
func (d *FakeDevice) Exec(ctx context.Context, command string) (*domain.CommandResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, command)

	fields := strings.Fields(command)
	switch {
	case len(fields) == 3 && fields[0] == "pm" && fields[1] == "path":
		if _, ok := d.packages[fields[2]]; !ok {
			return &domain.CommandResult{ExitCode: 1}, nil
		}
		return &domain.CommandResult{Stdout: fmt.Sprintf("package:/data/app/%s/base.apk\n", fields[2])}, nil

	case len(fields) == 3 && fields[0] == "dumpsys" && fields[1] == "package":
		p, ok := d.packages[fields[2]]
		if !ok {
			return &domain.CommandResult{Stdout: "Unable to find package: " + fields[2] + "\n"}, nil
		}
		return &domain.CommandResult{Stdout: p.dump(fields[2])}, nil

	case len(fields) == 5 && fields[0] == "pm" && (fields[1] == "enable" || fields[1] == "disable") && fields[2] == "--user":
		return d.setState(fields[1] == "disable", strings.ReplaceAll(fields[4], `\$`, "$")), nil
	}
	return &domain.CommandResult{ExitCode: 127, Stderr: "unknown command: " + command}, nil
}

func (d *FakeDevice) setState(disable bool, flattened string) *domain.CommandResult {
	pkg, name, _ := strings.Cut(flattened, "/")
	if strings.HasPrefix(name, ".") {
		name = pkg + name
	}
	p, ok := d.packages[pkg]
	if !ok {
		return &domain.CommandResult{ExitCode: 1, Stderr: "Error: Unknown package: " + pkg}
	}
	if _, ok := p.components[name]; !ok {
		return &domain.CommandResult{ExitCode: 1, Stderr: "Error: Unknown component: " + flattened}
	}
	p.disabled[name] = disable
	state := "enabled"
	if disable {
		state = "disabled"
	}
	return &domain.CommandResult{Stdout: fmt.Sprintf("Component {%s} new state: %s\n", flattened, state)}
}

var sectionHeaders = []struct {
	t      domain.ComponentType
	header string
}{
	{domain.ComponentActivity, "Activity Resolver Table:"},
	{domain.ComponentReceiver, "Receiver Resolver Table:"},
	{domain.ComponentService, "Service Resolver Table:"},
	{domain.ComponentProvider, "Registered ContentProviders:"},
}

// dump renders the parts of `dumpsys package` that compctl reads.
func (p *fakePackage) dump(packageName string) string {
	names := make([]string, 0, len(p.components))
	for n := range p.components {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, s := range sectionHeaders {
		b.WriteString(s.header + "\n  Non-Data Actions:\n")
		for i, n := range names {
			// Providers are listed whether or not they have a filter.
			if p.components[n] == s.t && (p.filtered[n] || s.t == domain.ComponentProvider) {
				fmt.Fprintf(&b, "        %07x %s/%s filter %07x\n", i+1, packageName, n, i+100)
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Packages:\n  Package [%s] (abc1234):\n", packageName)
	fmt.Fprintf(&b, "    versionCode=%d minSdk=24 targetSdk=34\n", p.versionCode)
	fmt.Fprintf(&b, "    versionName=%s\n", p.versionName)
	b.WriteString("    User 0: ceDataInode=1 installed=true hidden=false suspended=false\n")
	var disabled []string
	for _, n := range names {
		if p.disabled[n] {
			disabled = append(disabled, n)
		}
	}
	if len(disabled) > 0 {
		b.WriteString("      disabledComponents:\n")
		for _, n := range disabled {
			b.WriteString("        " + n + "\n")
		}
	}
	return b.String()
}

// Ensure FakeDevice implements the device-facing interfaces.
var (
	_ domain.CommandExecutor    = (*FakeDevice)(nil)
	_ controller.ManifestReader = (*FakeDevice)(nil)
)
