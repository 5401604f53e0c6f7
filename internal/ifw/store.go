package ifw

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/infra"
)

const (
	ruleExt  = ".xml"
	ruleMode = 0644
)

// Store loads and saves rule documents under one IFW root directory.
// Edits of the same package are serialized within the process by a mutex
// and across processes by a flock in the lock directory.
type Store struct {
	root      string
	lockDir   string
	fs        domain.FileSystemManager
	privilege domain.PrivilegeChecker
	logger    *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a store for root. lockDir holds the per-package lock
// files and must lie outside root. With an empty lockDir edits are only
// serialized within this process.
func NewStore(
	root, lockDir string,
	fs domain.FileSystemManager,
	privilege domain.PrivilegeChecker,
	logger *zap.Logger,
) *Store {
	return &Store{
		root:      root,
		lockDir:   lockDir,
		fs:        fs,
		privilege: privilege,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// Root returns the IFW directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the rule file of packageName.
func (s *Store) Path(packageName string) string {
	return filepath.Join(s.root, packageName+ruleExt)
}

// Load reads the document of packageName. A missing or unreadable file
// yields an empty document; the failure is only logged.
func (s *Store) Load(ctx context.Context, packageName string) *Document {
	path := s.Path(packageName)
	if !s.fs.Exists(path) {
		return NewDocument(packageName)
	}

	data, err := s.fs.ReadFile(path)
	if err != nil {
		s.logger.Warn("cannot read rule file, treating as empty",
			zap.String("path", path), zap.Error(err))
		return NewDocument(packageName)
	}

	doc, err := Parse(packageName, data)
	if err != nil {
		s.logger.Warn("cannot parse rule file, treating as empty",
			zap.String("path", path), zap.Error(err))
		return NewDocument(packageName)
	}
	return doc
}

// Save writes doc, or deletes its file when every section is empty.
// Privilege is checked before any file is touched.
func (s *Store) Save(ctx context.Context, doc *Document) error {
	if err := s.privilege.Check(ctx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.Path(doc.PackageName())
	doc.Prune()
	if doc.IsEmpty() {
		if err := s.fs.Remove(path); err != nil {
			return fmt.Errorf("failed to delete %s: %w", path, err)
		}
		s.logger.Debug("rule file removed", zap.String("path", path))
		doc.dirty = false
		return nil
	}

	data, err := doc.Marshal()
	if err != nil {
		return err
	}
	if err := s.fs.WriteFile(path, data, ruleMode); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	s.logger.Debug("rule file saved", zap.String("path", path))
	doc.dirty = false
	return nil
}

// Clear deletes the rule file of packageName.
func (s *Store) Clear(ctx context.Context, packageName string) error {
	return s.Edit(ctx, packageName, func(doc *Document) error {
		doc.Clear()
		doc.dirty = true
		return nil
	})
}

// Edit runs a load-modify-save cycle for packageName while holding the
// package lock. If fn fails the document is discarded unsaved. The
// document is only written when fn changed it.
func (s *Store) Edit(ctx context.Context, packageName string, fn func(doc *Document) error) error {
	if err := s.privilege.Check(ctx); err != nil {
		return err
	}

	unlock, err := s.lock(packageName)
	if err != nil {
		return err
	}
	defer unlock()

	doc := s.Load(ctx, packageName)
	if err := fn(doc); err != nil {
		return err
	}
	if !doc.Dirty() {
		return nil
	}
	return s.Save(ctx, doc)
}

// GetEnableState is true when the package's rule file does not block componentName.
func (s *Store) GetEnableState(ctx context.Context, packageName, componentName string) bool {
	return s.Load(ctx, packageName).GetEnableState(componentName)
}

// ListPackages returns the packages that have a rule file.
func (s *Store) ListPackages() ([]string, error) {
	names, err := s.fs.List(s.root, ruleExt)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.root, err)
	}
	pkgs := make([]string, 0, len(names))
	for _, n := range names {
		pkgs = append(pkgs, strings.TrimSuffix(n, ruleExt))
	}
	return pkgs, nil
}

// Reset deletes every rule file under the root and returns how many were removed.
func (s *Store) Reset(ctx context.Context) (int, error) {
	if err := s.privilege.Check(ctx); err != nil {
		return 0, err
	}
	pkgs, err := s.ListPackages()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, pkg := range pkgs {
		if err := s.Clear(ctx, pkg); err != nil {
			if errors.Is(err, domain.ErrPrivilegeUnavailable) || ctx.Err() != nil {
				return removed, err
			}
			s.logger.Warn("cannot delete rule file", zap.String("package", pkg), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// lock takes the in-process mutex and then, when a lock directory is set,
// the cross-process flock of packageName.
func (s *Store) lock(packageName string) (func(), error) {
	s.mu.Lock()
	m, ok := s.locks[packageName]
	if !ok {
		m = &sync.Mutex{}
		s.locks[packageName] = m
	}
	s.mu.Unlock()

	m.Lock()
	if s.lockDir == "" {
		return m.Unlock, nil
	}
	fl, err := infra.AcquireFileLock(filepath.Join(s.lockDir, "."+packageName+".lock"))
	if err != nil {
		m.Unlock()
		return nil, fmt.Errorf("failed to lock rules of %s: %w", packageName, err)
	}
	return func() {
		_ = fl.Release()
		m.Unlock()
	}, nil
}
