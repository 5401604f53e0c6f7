package rule

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/ifw"
)

// ProgressFunc is called after each file or package of a batch. err is
// the non-fatal failure of that item, if any.
type ProgressFunc func(name string, err error)

func report(progress ProgressFunc, name string, err error) {
	if progress != nil {
		progress(name, err)
	}
}

// fatal reports errors that stop a whole batch.
func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, domain.ErrPrivilegeUnavailable) || ctx.Err() != nil
}

// ExportAll exports every package in packages into dir and returns the
// number of files written.
func (e *Engine) ExportAll(ctx context.Context, packages []string, dir string, progress ProgressFunc) (int, error) {
	written := 0
	for _, pkg := range packages {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		path, err := e.ExportTo(ctx, pkg, dir)
		if err != nil {
			if fatal(ctx, err) {
				return written, err
			}
			e.logger.Warn("export failed", zap.String("package", pkg), zap.Error(err))
		} else if path != "" {
			written++
		}
		report(progress, pkg, err)
	}
	return written, nil
}

// ImportAll imports every rule file in dir. Files of packages that are not
// installed are skipped without decoding them fully. It returns the number
// of files imported.
func (e *Engine) ImportAll(ctx context.Context, dir string, progress ProgressFunc) (int, error) {
	names, err := e.files.List(dir, Ext)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	imported := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return imported, err
		}
		done, err := e.importFile(ctx, filepath.Join(dir, name))
		if err != nil {
			if fatal(ctx, err) {
				return imported, err
			}
			e.logger.Warn("import failed", zap.String("file", name), zap.Error(err))
		}
		if done {
			imported++
		}
		report(progress, name, err)
	}

	e.logger.Info("rule files imported", zap.String("dir", dir), zap.Int("count", imported))
	return imported, nil
}

func (e *Engine) importFile(ctx context.Context, path string) (bool, error) {
	data, err := e.files.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	pkg := gjson.GetBytes(data, "packageName").String()
	if pkg == "" {
		return false, fmt.Errorf("%s has no packageName", path)
	}
	if !e.inspector.IsInstalled(ctx, pkg) {
		e.logger.Debug("package not installed, skipping", zap.String("package", pkg))
		return false, nil
	}

	rf, err := Decode(bytes.NewReader(data))
	if err != nil {
		return false, err
	}
	if _, err := e.Import(ctx, rf); err != nil {
		return false, err
	}
	return true, nil
}

// ApplyRemote imports rule files delivered as data, one after the other.
// Rules of packages that are not installed are skipped.
func (e *Engine) ApplyRemote(ctx context.Context, files []domain.RuleFile, progress ProgressFunc) (int, error) {
	applied := 0
	for i := range files {
		rf := &files[i]
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		if !e.inspector.IsInstalled(ctx, rf.PackageName) {
			report(progress, rf.PackageName, nil)
			continue
		}
		_, err := e.Import(ctx, rf)
		if err != nil {
			if fatal(ctx, err) {
				return applied, err
			}
			e.logger.Warn("remote rule import failed", zap.String("package", rf.PackageName), zap.Error(err))
		} else {
			applied++
		}
		report(progress, rf.PackageName, err)
	}
	return applied, nil
}

// ImportIfwDir blocks the components named by every IFW document in dir
// through the IFW controller. It returns the number of documents imported.
func (e *Engine) ImportIfwDir(ctx context.Context, dir string, progress ProgressFunc) (int, error) {
	names, err := e.files.List(dir, IfwExt)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	ifwController := e.registry.IFW()

	imported := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return imported, err
		}
		pkg := strings.TrimSuffix(name, IfwExt)
		if !e.inspector.IsInstalled(ctx, pkg) {
			e.logger.Debug("package not installed, skipping", zap.String("package", pkg))
			report(progress, name, nil)
			continue
		}

		data, err := e.files.ReadFile(filepath.Join(dir, name))
		if err == nil {
			var doc *ifw.Document
			if doc, err = ifw.Parse(pkg, data); err == nil {
				_, err = ifwController.BatchDisable(ctx, doc.Filters(), nil)
			}
		}
		if err != nil {
			if fatal(ctx, err) {
				return imported, err
			}
			e.logger.Warn("ifw import failed", zap.String("file", name), zap.Error(err))
		} else {
			imported++
		}
		report(progress, name, err)
	}
	return imported, nil
}

// ExportIfwDir copies every IFW document into dir.
func (e *Engine) ExportIfwDir(ctx context.Context, dir string, progress ProgressFunc) (int, error) {
	pkgs, err := e.store.ListPackages()
	if err != nil {
		return 0, err
	}

	copied := 0
	for _, pkg := range pkgs {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		doc := e.store.Load(ctx, pkg)
		if doc.IsEmpty() {
			continue
		}
		data, err := doc.Marshal()
		if err == nil {
			err = e.files.WriteFile(filepath.Join(dir, pkg+IfwExt), data, ruleFileMode)
		}
		if err != nil {
			e.logger.Warn("ifw export failed", zap.String("package", pkg), zap.Error(err))
		} else {
			copied++
		}
		report(progress, pkg, err)
	}
	return copied, nil
}

// ResetIfw deletes every IFW document.
func (e *Engine) ResetIfw(ctx context.Context) (int, error) {
	n, err := e.store.Reset(ctx)
	if err != nil {
		return n, err
	}
	e.logger.Info("ifw rules cleared", zap.Int("count", n))
	return n, nil
}
