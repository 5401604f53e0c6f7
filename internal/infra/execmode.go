// Package infra implements infrastructure concerns (shell, privilege, process, filesystem).
package infra

import (
	"os"
	"os/user"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser runs unprivileged; mutations go through su or the broker.
	ExecModeUser ExecMode = "user"
	// ExecModeRoot runs with euid 0; commands are executed directly.
	ExecModeRoot ExecMode = "root"
)

const (
	// DefaultIfwRoot is where the platform reads intent firewall rules.
	DefaultIfwRoot = "/data/system/ifw"
	// DefaultSuBinary is the su used to escalate in user mode.
	DefaultSuBinary = "su"
	// rootDataDir is shared by the CLI and the broker when running as root.
	rootDataDir = "/data/local/tmp/compctl"
)

// ExecModeConfig holds paths and settings based on execution mode.
type ExecModeConfig struct {
	Mode         ExecMode
	DataDir      string // Where the encrypted cache and key live
	ConfigPath   string // Default config file location
	BrokerSocket string // Unix socket of the privileged broker
	LogPath      string // Broker log file
	IsRoot       bool
}

// IsRoot reports whether the effective uid is 0.
func IsRoot() bool {
	return unix.Geteuid() == 0
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	if IsRoot() {
		return &ExecModeConfig{
			Mode:         ExecModeRoot,
			DataDir:      rootDataDir,
			ConfigPath:   filepath.Join(rootDataDir, "config.yaml"),
			BrokerSocket: filepath.Join(rootDataDir, "broker.sock"),
			LogPath:      filepath.Join(rootDataDir, "compctl.log"),
			IsRoot:       true,
		}
	}

	dataDir := filepath.Join(GetRealUserHome(), ".compctl")
	return &ExecModeConfig{
		Mode:         ExecModeUser,
		DataDir:      dataDir,
		ConfigPath:   filepath.Join(dataDir, "config.yaml"),
		BrokerSocket: filepath.Join(rootDataDir, "broker.sock"),
		LogPath:      filepath.Join(dataDir, "compctl.log"),
		IsRoot:       false,
	}
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeRoot:
		return "root (direct shell)"
	case ExecModeUser:
		return "user (su / broker)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return os.TempDir()
	}
	return home
}
