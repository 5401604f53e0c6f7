// Package domain contains core business entities and interfaces.
// This is the innermost layer - no external dependencies.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// ComponentType is the kind of an application component.
type ComponentType string

const (
	ComponentActivity ComponentType = "ACTIVITY"
	ComponentService  ComponentType = "SERVICE"
	ComponentReceiver ComponentType = "RECEIVER"
	ComponentProvider ComponentType = "PROVIDER"
)

// ParseComponentType accepts the upper or lower case name of a component type.
func ParseComponentType(s string) (ComponentType, error) {
	switch t := ComponentType(strings.ToUpper(strings.TrimSpace(s))); t {
	case ComponentActivity, ComponentService, ComponentReceiver, ComponentProvider:
		return t, nil
	}
	return "", fmt.Errorf("unknown component type: %q", s)
}

// ControllerMethod identifies which backend produced or should apply a state.
type ControllerMethod string

const (
	MethodPM      ControllerMethod = "PM"
	MethodIFW     ControllerMethod = "IFW"
	MethodShizuku ControllerMethod = "SHIZUKU"
)

// ControllerType is the user's preferred backend for mutations.
type ControllerType string

const (
	ControllerPM      ControllerType = "PM"
	ControllerIFW     ControllerType = "IFW"
	ControllerShizuku ControllerType = "SHIZUKU"
	// ControllerIFWPlusPM writes both the IFW filter and the PM flag.
	ControllerIFWPlusPM ControllerType = "IFW_PLUS_PM"
)

// ParseControllerType accepts the name of a controller type, case-insensitively.
func ParseControllerType(s string) (ControllerType, error) {
	switch t := ControllerType(strings.ToUpper(strings.TrimSpace(s))); t {
	case ControllerPM, ControllerIFW, ControllerShizuku, ControllerIFWPlusPM:
		return t, nil
	}
	return "", fmt.Errorf("unknown controller type: %q", s)
}

// ComponentRef identifies a component. Identity is (PackageName, ComponentName).
type ComponentRef struct {
	PackageName   string
	ComponentName string
	Type          ComponentType
}

// FlattenedName returns "<package>/<component>", the form used by IFW filters.
func (r ComponentRef) FlattenedName() string {
	return FlattenName(r.PackageName, r.ComponentName)
}

// FlattenName joins a package and component name the way IFW filters store them.
func FlattenName(packageName, componentName string) string {
	return packageName + "/" + componentName
}

// ComponentStatus is the derived blocked state of a component.
// It is recomputed from the backends after every mutation; the cached copy
// is never the source of truth.
type ComponentStatus struct {
	Ref        ComponentRef
	Exported   bool
	PMBlocked  bool
	IFWBlocked bool
	UpdatedAt  time.Time
}

// Reachable reports whether neither mechanism blocks the component.
func (s ComponentStatus) Reachable() bool {
	return !s.PMBlocked && !s.IFWBlocked
}

// Component is a component declared by an installed package.
type Component struct {
	ComponentRef
	Exported bool
}

// PackageInfo describes an installed package and its declared components.
type PackageInfo struct {
	PackageName string
	VersionName string
	VersionCode int64
	Components  []Component
}

// ComponentsOfType returns the declared components of the given type.
func (p *PackageInfo) ComponentsOfType(t ComponentType) []Component {
	var result []Component
	for _, c := range p.Components {
		if c.Type == t {
			result = append(result, c)
		}
	}
	return result
}

// RuleFile is the portable export/import unit for one package.
type RuleFile struct {
	PackageName string          `json:"packageName" validate:"required"`
	VersionName string          `json:"versionName"`
	VersionCode int64           `json:"versionCode"`
	Components  []ComponentRule `json:"components" validate:"dive"`
}

// ComponentRule records the state of one component under one method.
// State true means enabled (not blocked) for that method.
type ComponentRule struct {
	PackageName string           `json:"packageName" validate:"required"`
	Name        string           `json:"name" validate:"required"`
	State       bool             `json:"state"`
	Type        ComponentType    `json:"type" validate:"oneof=ACTIVITY SERVICE RECEIVER PROVIDER"`
	Method      ControllerMethod `json:"method" validate:"oneof=PM IFW SHIZUKU"`
}

// CommandResult is the outcome of a privileged shell command.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success reports whether the command exited with status 0.
func (r *CommandResult) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Lines returns stdout split into lines with trailing whitespace removed.
func (r *CommandResult) Lines() []string {
	if r == nil || r.Stdout == "" {
		return nil
	}
	lines := strings.Split(strings.TrimRight(r.Stdout, "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \r\t")
	}
	return lines
}
