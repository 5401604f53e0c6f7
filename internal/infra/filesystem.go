package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// FileSystemManagerImpl implements domain.FileSystemManager.
type FileSystemManagerImpl struct {
	homeDir string
}

// NewFileSystemManager creates a new filesystem manager.
func NewFileSystemManager() domain.FileSystemManager {
	return &FileSystemManagerImpl{homeDir: GetRealUserHome()}
}

// NewFileSystemManagerWithHome creates a filesystem manager with custom home (for testing).
func NewFileSystemManagerWithHome(home string) domain.FileSystemManager {
	return &FileSystemManagerImpl{homeDir: home}
}

// Exists checks if a path exists.
func (fm *FileSystemManagerImpl) Exists(path string) bool {
	_, err := os.Stat(fm.ExpandHome(path))
	return err == nil
}

// ReadFile returns the content of path.
func (fm *FileSystemManagerImpl) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(fm.ExpandHome(path))
}

// WriteFile writes data atomically (write temp + rename) and applies perm.
// The parent directory is created when missing.
func (fm *FileSystemManagerImpl) WriteFile(path string, data []byte, perm uint32) error {
	expanded := fm.ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return atomicWrite(expanded, data, os.FileMode(perm))
}

// Remove deletes a file. A missing file is not an error.
func (fm *FileSystemManagerImpl) Remove(path string) error {
	err := os.Remove(fm.ExpandHome(path))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the sorted names of regular files in dir ending with ext.
// A missing directory yields an empty list.
func (fm *FileSystemManagerImpl) List(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(fm.ExpandHome(dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ExpandHome expands ~ to the user's home directory.
func (fm *FileSystemManagerImpl) ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(fm.homeDir, path[2:])
	}
	if path == "~" {
		return fm.homeDir
	}
	return path
}

// atomicWrite writes data to path atomically (write + rename).
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	// Write to temp file first (unique per process to avoid race)
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return err
	}
	// WriteFile honours umask; the platform requires the exact mode.
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return err
	}
	return nil
}

// Ensure FileSystemManagerImpl implements domain.FileSystemManager.
var _ domain.FileSystemManager = (*FileSystemManagerImpl)(nil)
