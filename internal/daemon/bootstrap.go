// Package daemon implements the long-running loops: the guardian that keeps
// the broker alive and the watcher that re-applies rule files.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// StartBroker spawns `<binary> broker serve` detached from the caller.
// An empty binary means the running executable.
func StartBroker(binary, configPath string) error {
	if binary == "" {
		var err error
		binary, err = os.Executable()
		if err != nil {
			return fmt.Errorf("failed to resolve executable: %w", err)
		}
	}

	args := []string{"broker", "serve"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	cmd := exec.Command(binary, args...)

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start broker: %w", err)
	}
	// The broker outlives us; don't leave a zombie if it exits first.
	go func() { _ = cmd.Wait() }()
	return nil
}
