package domain

import "context"

// CommandExecutor runs a shell command with elevated privilege.
// A non-zero exit is reported through CommandResult, not as an error; an
// error means the command could not be run at all.
type CommandExecutor interface {
	Exec(ctx context.Context, command string) (*CommandResult, error)
}

// PrivilegeChecker verifies elevated access before a privileged operation.
type PrivilegeChecker interface {
	// Check returns an error wrapping ErrPrivilegeUnavailable when access
	// is not granted.
	Check(ctx context.Context) error
}

// ProgressFunc is invoked after each item of a batch operation.
type ProgressFunc func(ref ComponentRef)

// ComponentController toggles and queries a component's blocked state
// through one enforcement backend.
//
// Enable and Disable return false when the underlying command failed; that
// is logged, not returned as an error. Errors are reserved for missing
// privilege and cancellation.
type ComponentController interface {
	Enable(ctx context.Context, packageName, componentName string) (bool, error)
	Disable(ctx context.Context, packageName, componentName string) (bool, error)

	// CheckEnableState returns true when the backend does not block the
	// component. An unreadable state is reported as ErrStateUnknown.
	CheckEnableState(ctx context.Context, packageName, componentName string) (bool, error)

	// BatchEnable processes refs sequentially, calling progress after each
	// item and stopping before the next item once ctx is cancelled.
	// It returns the number of items that succeeded.
	BatchEnable(ctx context.Context, refs []ComponentRef, progress ProgressFunc) (int, error)
	BatchDisable(ctx context.Context, refs []ComponentRef, progress ProgressFunc) (int, error)
}

// PackageInspector discovers installed packages and their components.
type PackageInspector interface {
	// GetPackageInfo returns ErrPackageNotFound when pkg is not installed.
	GetPackageInfo(ctx context.Context, packageName string) (*PackageInfo, error)

	// GetComponentType returns ErrComponentNotFound for unknown components.
	GetComponentType(ctx context.Context, packageName, componentName string) (ComponentType, error)

	// IsInstalled checks if the package exists on the device.
	IsInstalled(ctx context.Context, packageName string) bool
}

// ComponentCache stores the last derived ComponentStatus per component.
// Implementation: SQLCipher encrypted SQLite database.
type ComponentCache interface {
	// Get returns nil, nil when nothing is cached for the component.
	Get(packageName, componentName string) (*ComponentStatus, error)

	// Upsert inserts or replaces the status of one component.
	Upsert(status ComponentStatus) error

	// ListByPackage returns every cached component of a package.
	ListByPackage(packageName string) ([]ComponentStatus, error)

	// Search returns components whose name contains keyword.
	Search(keyword string) ([]ComponentStatus, error)

	// DeleteByPackage drops all cached rows of a package.
	DeleteByPackage(packageName string) error

	// Close releases resources (e.g., database connection).
	Close() error
}

// ProcessManager handles OS process table queries.
// Implementation: uses gopsutil.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// Names returns the names of all running processes.
	Names() ([]string, error)
}

// FileSystemManager handles the file operations behind rule storage.
type FileSystemManager interface {
	// Exists checks if a path exists.
	Exists(path string) bool

	// ReadFile returns the file content.
	ReadFile(path string) ([]byte, error)

	// WriteFile writes data atomically (temp file + rename).
	WriteFile(path string, data []byte, perm uint32) error

	// Remove deletes a file. A missing file is not an error.
	Remove(path string) error

	// List returns the sorted names of files in dir with the given extension.
	List(dir, ext string) ([]string, error)
}
