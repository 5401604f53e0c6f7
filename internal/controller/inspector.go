package controller

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// Section headers of `dumpsys package` that list components by type.
var resolverSections = map[string]domain.ComponentType{
	"Activity Resolver Table:":    domain.ComponentActivity,
	"Receiver Resolver Table:":    domain.ComponentReceiver,
	"Service Resolver Table:":     domain.ComponentService,
	"Provider Resolver Table:":    domain.ComponentProvider,
	"Registered ContentProviders:": domain.ComponentProvider,
}

// DumpsysInspector discovers package components. The declared components
// and their exported flag come from the APK manifests listed by `pm path`;
// version and enabled state come from `dumpsys package`. When no manifest
// can be read, components are taken from the dumpsys resolver tables and
// the cache.
type DumpsysInspector struct {
	executor  domain.CommandExecutor
	manifests ManifestReader
	cache     domain.ComponentCache
	userID    int
	logger    *zap.Logger
}

// NewDumpsysInspector creates an inspector. manifests and cache may be nil.
func NewDumpsysInspector(executor domain.CommandExecutor, manifests ManifestReader, cache domain.ComponentCache, userID int, logger *zap.Logger) *DumpsysInspector {
	return &DumpsysInspector{executor: executor, manifests: manifests, cache: cache, userID: userID, logger: logger}
}

// IsInstalled checks `pm path`.
func (i *DumpsysInspector) IsInstalled(ctx context.Context, packageName string) bool {
	return len(i.apkPaths(ctx, packageName)) > 0
}

// apkPaths returns the base and split APKs of a package.
func (i *DumpsysInspector) apkPaths(ctx context.Context, packageName string) []string {
	result, err := i.executor.Exec(ctx, "pm path "+packageName)
	if err != nil || !result.Success() {
		return nil
	}
	var paths []string
	for _, line := range strings.Split(result.Stdout, "\n") {
		if p, ok := strings.CutPrefix(strings.TrimSpace(line), "package:"); ok && p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// GetPackageInfo returns the package's version and declared components.
func (i *DumpsysInspector) GetPackageInfo(ctx context.Context, packageName string) (*domain.PackageInfo, error) {
	result, err := i.executor.Exec(ctx, "dumpsys package "+packageName)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", packageName, err)
	}
	if !result.Success() {
		return nil, fmt.Errorf("failed to inspect %s: %s", packageName, stderrOf(result))
	}

	info, listed := ParsePackageDump(result.Stdout, packageName, i.userID)
	if info == nil {
		return nil, fmt.Errorf("%s: %w", packageName, domain.ErrPackageNotFound)
	}

	if declared, ok := i.readManifests(ctx, packageName); ok {
		info.Components = mergeComponents(declared, info.Components)
		return info, nil
	}
	i.addListedComponents(info, listed)
	return info, nil
}

// readManifests collects the components declared by every APK of the
// package. It reports false when no manifest could be read.
func (i *DumpsysInspector) readManifests(ctx context.Context, packageName string) ([]domain.Component, bool) {
	if i.manifests == nil {
		return nil, false
	}
	var declared []domain.Component
	read := false
	for _, path := range i.apkPaths(ctx, packageName) {
		m, err := i.manifests.ReadManifest(ctx, path)
		if err != nil {
			i.logger.Warn("cannot read manifest",
				zap.String("package", packageName),
				zap.String("apk", path),
				zap.Error(err))
			continue
		}
		read = true
		declared = append(declared, m.Components(packageName)...)
	}
	return declared, read
}

// mergeComponents keeps every declared component and adds dumped ones the
// manifests did not mention.
func mergeComponents(declared, dumped []domain.Component) []domain.Component {
	seen := make(map[string]bool, len(declared))
	var result []domain.Component
	for _, c := range declared {
		if seen[c.ComponentName] {
			continue
		}
		seen[c.ComponentName] = true
		result = append(result, c)
	}
	for _, c := range dumped {
		if !seen[c.ComponentName] {
			seen[c.ComponentName] = true
			result = append(result, c)
		}
	}
	sortComponents(result)
	return result
}

// addListedComponents adds enabled/disabled-listed components whose type the cache knows.
func (i *DumpsysInspector) addListedComponents(info *domain.PackageInfo, listed []string) {
	known := make(map[string]bool, len(info.Components))
	for _, c := range info.Components {
		known[c.ComponentName] = true
	}
	for _, name := range listed {
		if known[name] {
			continue
		}
		var cached *domain.ComponentStatus
		if i.cache != nil {
			cached, _ = i.cache.Get(info.PackageName, name)
		}
		if cached == nil || cached.Ref.Type == "" {
			i.logger.Debug("skipping component of unknown type",
				zap.String("package", info.PackageName),
				zap.String("component", name))
			continue
		}
		info.Components = append(info.Components, domain.Component{
			ComponentRef: domain.ComponentRef{PackageName: info.PackageName, ComponentName: name, Type: cached.Ref.Type},
			Exported:     cached.Exported,
		})
		known[name] = true
	}
	sortComponents(info.Components)
}

// GetComponentType resolves a component's type from the package dump, then the cache.
func (i *DumpsysInspector) GetComponentType(ctx context.Context, packageName, componentName string) (domain.ComponentType, error) {
	name := NormalizeComponentName(packageName, componentName)

	info, err := i.GetPackageInfo(ctx, packageName)
	if err != nil && !errors.Is(err, domain.ErrPackageNotFound) {
		i.logger.Debug("package dump failed, trying cache", zap.Error(err))
	}
	if info != nil {
		for _, c := range info.Components {
			if c.ComponentName == name {
				return c.Type, nil
			}
		}
	}

	if i.cache != nil {
		if cached, _ := i.cache.Get(packageName, name); cached != nil && cached.Ref.Type != "" {
			return cached.Ref.Type, nil
		}
	}
	return "", fmt.Errorf("%s: %w", domain.FlattenName(packageName, name), domain.ErrComponentNotFound)
}

// ParsePackageDump parses `dumpsys package <pkg>` output. It returns nil
// when the package is absent, plus the names from the enabled/disabled
// component lists of userID (their type is not printed).
func ParsePackageDump(output, packageName string, userID int) (*domain.PackageInfo, []string) {
	compRe := regexp.MustCompile(regexp.QuoteMeta(packageName) + `/([\w.$]+)`)

	info := &domain.PackageInfo{PackageName: packageName}
	found := false
	seen := make(map[string]bool)

	var section domain.ComponentType
	inPackages := false
	pkgIndent := -1
	currentUser := -1
	listIndent := -1
	var listed []string

	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimRight(raw, " \r\t")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " "))

		if indent == 0 {
			t, isSection := resolverSections[trimmed]
			section = ""
			if isSection {
				section = t
			}
			inPackages = trimmed == "Packages:"
			pkgIndent = -1
			continue
		}

		if section != "" {
			for _, m := range compRe.FindAllStringSubmatch(line, -1) {
				name := NormalizeComponentName(packageName, m[1])
				if seen[name] {
					continue
				}
				seen[name] = true
				info.Components = append(info.Components, domain.Component{
					ComponentRef: domain.ComponentRef{PackageName: packageName, ComponentName: name, Type: section},
					// Without the manifest, an intent filter is the only hint:
					// such components are exported unless they opt out.
					Exported: section != domain.ComponentProvider,
				})
			}
			continue
		}

		if !inPackages {
			continue
		}
		if pkgIndent < 0 {
			if strings.HasPrefix(trimmed, "Package ["+packageName+"]") {
				pkgIndent = indent
				found = true
			}
			continue
		}
		if indent <= pkgIndent {
			inPackages = false
			continue
		}

		if listIndent >= 0 {
			if indent > listIndent {
				listed = append(listed, NormalizeComponentName(packageName, trimmed))
				continue
			}
			listIndent = -1
		}

		switch {
		case strings.HasPrefix(trimmed, "versionCode="):
			field := strings.Fields(strings.TrimPrefix(trimmed, "versionCode="))
			if len(field) > 0 {
				info.VersionCode, _ = strconv.ParseInt(field[0], 10, 64)
			}
		case strings.HasPrefix(trimmed, "versionName="):
			info.VersionName = strings.TrimPrefix(trimmed, "versionName=")
		case trimmed == "disabledComponents:" || trimmed == "enabledComponents:":
			if currentUser < 0 || currentUser == userID {
				listIndent = indent
			}
		default:
			if uid, ok := parseUserLine(trimmed); ok {
				currentUser = uid
			}
		}
	}

	if !found {
		return nil, nil
	}
	sortComponents(info.Components)
	return info, listed
}

func sortComponents(components []domain.Component) {
	sort.SliceStable(components, func(a, b int) bool {
		if components[a].Type != components[b].Type {
			return components[a].Type < components[b].Type
		}
		return components[a].ComponentName < components[b].ComponentName
	})
}

// Ensure DumpsysInspector implements domain.PackageInspector.
var _ domain.PackageInspector = (*DumpsysInspector)(nil)
