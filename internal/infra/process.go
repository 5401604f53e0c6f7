package infra

import (
	"os"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// FindByName returns PIDs of processes matching the pattern (case-insensitive).
func (pm *ProcessManagerImpl) FindByName(pattern string) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	var found []int
	patternLower := strings.ToLower(pattern)

	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue // Process may have exited
		}
		if strings.Contains(strings.ToLower(name), patternLower) {
			found = append(found, int(p.Pid))
			continue
		}
		// Android truncates comm to 15 chars; app processes carry the
		// package name in their cmdline.
		if cmdline, err := p.Cmdline(); err == nil && strings.Contains(strings.ToLower(cmdline), patternLower) {
			found = append(found, int(p.Pid))
		}
	}

	return found, nil
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Send signal 0 to check if process exists
	return proc.Signal(syscall.Signal(0)) == nil
}

// Names returns the command line (or name) of every running process.
// On Android an app process cmdline is its package name, optionally
// followed by ":<process>".
func (pm *ProcessManagerImpl) Names() ([]string, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(procs))
	for _, p := range procs {
		if cmdline, err := p.CmdlineSlice(); err == nil && len(cmdline) > 0 && cmdline[0] != "" {
			names = append(names, cmdline[0])
			continue
		}
		if name, err := p.Name(); err == nil {
			names = append(names, name)
		}
	}
	return names, nil
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
