package infra

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// ShellFileSystem implements domain.FileSystemManager through the privileged
// executor, for directories the calling user cannot access directly.
type ShellFileSystem struct {
	executor domain.CommandExecutor
	timeout  time.Duration
}

// NewShellFileSystem creates a filesystem that runs every operation through executor.
func NewShellFileSystem(executor domain.CommandExecutor, timeout time.Duration) *ShellFileSystem {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &ShellFileSystem{executor: executor, timeout: timeout}
}

func (s *ShellFileSystem) exec(command string) (*domain.CommandResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.executor.Exec(ctx, command)
}

// Exists runs `test -e`.
func (s *ShellFileSystem) Exists(p string) bool {
	result, err := s.exec("test -e " + quote(p))
	return err == nil && result.Success()
}

// ReadFile returns the base64-decoded output of the file, so binary
// content survives the shell round trip.
func (s *ShellFileSystem) ReadFile(p string) ([]byte, error) {
	result, err := s.exec("base64 " + quote(p))
	if err != nil {
		return nil, err
	}
	if !result.Success() {
		return nil, fmt.Errorf("failed to read %s: %s", p, strings.TrimSpace(result.Stderr))
	}
	data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(result.Stdout), ""))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", p, err)
	}
	return data, nil
}

// WriteFile writes to a temp file next to p, sets perm, then renames it into place.
func (s *ShellFileSystem) WriteFile(p string, data []byte, perm uint32) error {
	tmp := p + ".compctl.tmp"
	cmd := fmt.Sprintf("mkdir -p %s && echo %s | base64 -d > %s && chmod %o %s && mv -f %s %s",
		quote(path.Dir(p)),
		base64.StdEncoding.EncodeToString(data),
		quote(tmp), perm, quote(tmp), quote(tmp), quote(p))
	result, err := s.exec(cmd)
	if err != nil {
		return err
	}
	if !result.Success() {
		_, _ = s.exec("rm -f " + quote(tmp))
		return fmt.Errorf("failed to write %s: %s", p, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// Remove runs `rm -f`.
func (s *ShellFileSystem) Remove(p string) error {
	result, err := s.exec("rm -f " + quote(p))
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("failed to remove %s: %s", p, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// List returns the sorted names of regular files in dir ending with ext.
func (s *ShellFileSystem) List(dir, ext string) ([]string, error) {
	result, err := s.exec(fmt.Sprintf("for f in %s/*; do [ -f \"$f\" ] && echo \"${f##*/}\"; done; true", quote(dir)))
	if err != nil {
		return nil, err
	}
	if !result.Success() {
		return nil, fmt.Errorf("failed to list %s: %s", dir, strings.TrimSpace(result.Stderr))
	}
	var names []string
	for _, name := range result.Lines() {
		if name != "" && strings.HasSuffix(name, ext) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// quote wraps s in single quotes for sh.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Ensure ShellFileSystem implements domain.FileSystemManager.
var _ domain.FileSystemManager = (*ShellFileSystem)(nil)
