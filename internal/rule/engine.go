package rule

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/controller"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/ifw"
)

const ruleFileMode = 0644

// Engine exports and imports rule files through the controllers.
type Engine struct {
	registry  *controller.Registry
	store     *ifw.Store
	inspector domain.PackageInspector
	files     domain.FileSystemManager
	logger    *zap.Logger
}

// NewEngine creates an engine. files is used for the rule files on the
// user's side, not for the IFW root.
func NewEngine(
	registry *controller.Registry,
	store *ifw.Store,
	inspector domain.PackageInspector,
	files domain.FileSystemManager,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		registry:  registry,
		store:     store,
		inspector: inspector,
		files:     files,
		logger:    logger,
	}
}

// Export records the IFW and PM state of every declared component of
// packageName. Providers only get a PM entry.
func (e *Engine) Export(ctx context.Context, packageName string) (*domain.RuleFile, error) {
	info, err := e.inspector.GetPackageInfo(ctx, packageName)
	if err != nil {
		return nil, err
	}
	pm, err := e.registry.PMSide()
	if err != nil {
		return nil, err
	}

	rf := &domain.RuleFile{
		PackageName: info.PackageName,
		VersionName: info.VersionName,
		VersionCode: info.VersionCode,
		Components:  []domain.ComponentRule{},
	}
	doc := e.store.Load(ctx, packageName)

	for _, c := range info.Components {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.Type != domain.ComponentProvider {
			rf.Components = append(rf.Components, domain.ComponentRule{
				PackageName: c.PackageName,
				Name:        c.ComponentName,
				State:       doc.GetEnableState(c.ComponentName),
				Type:        c.Type,
				Method:      domain.MethodIFW,
			})
		}

		enabled, err := pm.CheckEnableState(ctx, c.PackageName, c.ComponentName)
		if err != nil {
			return nil, fmt.Errorf("failed to read state of %s: %w", c.FlattenedName(), err)
		}
		rf.Components = append(rf.Components, domain.ComponentRule{
			PackageName: c.PackageName,
			Name:        c.ComponentName,
			State:       enabled,
			Type:        c.Type,
			Method:      domain.MethodPM,
		})
	}
	return rf, nil
}

// ExportTo exports packageName into dir as <package>.json and returns the
// written path. A package without components is a successful no-op and
// returns an empty path.
func (e *Engine) ExportTo(ctx context.Context, packageName, dir string) (string, error) {
	rf, err := e.Export(ctx, packageName)
	if err != nil {
		return "", err
	}
	if len(rf.Components) == 0 {
		e.logger.Info("no components to export", zap.String("package", packageName))
		return "", nil
	}

	var buf bytes.Buffer
	if err := Encode(&buf, rf); err != nil {
		return "", err
	}
	path := filepath.Join(dir, FileName(packageName))
	if err := e.files.WriteFile(path, buf.Bytes(), ruleFileMode); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	e.logger.Info("rules exported",
		zap.String("package", packageName),
		zap.String("path", path),
		zap.Int("rules", len(rf.Components)))
	return path, nil
}

// Import replays rf against the controllers. IFW rules of providers fall
// back to PM. PM rules are skipped when the live state already matches.
// IFW changes are saved once, after every rule was applied.
//
// Import is not transactional: when a rule fails the pending IFW changes
// are discarded, but PM changes of earlier rules stay applied.
// ok is false when any controller command failed.
func (e *Engine) Import(ctx context.Context, rf *domain.RuleFile) (ok bool, err error) {
	if err := Validate(rf); err != nil {
		return false, err
	}
	pm, err := e.registry.PMSide()
	if err != nil {
		return false, err
	}

	ok = true
	apply := func(doc *ifw.Document) error {
		for _, r := range rf.Components {
			if err := ctx.Err(); err != nil {
				return err
			}
			applied, err := e.applyRule(ctx, pm, doc, r)
			if err != nil {
				return fmt.Errorf("failed to import %s: %w", domain.FlattenName(r.PackageName, r.Name), err)
			}
			ok = ok && applied
		}
		return nil
	}

	if hasFilterRules(rf) {
		err = e.store.Edit(ctx, rf.PackageName, apply)
	} else {
		err = apply(nil)
	}
	if err != nil {
		e.logger.Warn("import aborted", zap.String("package", rf.PackageName), zap.Error(err))
		return false, err
	}

	e.logger.Info("rules imported",
		zap.String("package", rf.PackageName),
		zap.Int("rules", len(rf.Components)),
		zap.Bool("all_applied", ok))
	return ok, nil
}

func (e *Engine) applyRule(ctx context.Context, pm domain.ComponentController, doc *ifw.Document, r domain.ComponentRule) (bool, error) {
	if r.Method == domain.MethodIFW {
		if r.Type == domain.ComponentProvider {
			return setState(ctx, pm, r.PackageName, r.Name, r.State)
		}
		if r.State {
			doc.Remove(r.Name, r.Type)
		} else {
			doc.Add(r.Name, r.Type)
		}
		return true, nil
	}

	current, err := pm.CheckEnableState(ctx, r.PackageName, r.Name)
	switch {
	case err == nil && current == r.State:
		return true, nil
	case err != nil && !errors.Is(err, domain.ErrStateUnknown):
		return false, err
	}
	return setState(ctx, pm, r.PackageName, r.Name, r.State)
}

func setState(ctx context.Context, c domain.ComponentController, packageName, componentName string, enabled bool) (bool, error) {
	if enabled {
		return c.Enable(ctx, packageName, componentName)
	}
	return c.Disable(ctx, packageName, componentName)
}

// hasFilterRules reports whether rf needs the IFW document.
func hasFilterRules(rf *domain.RuleFile) bool {
	for _, r := range rf.Components {
		if r.Method == domain.MethodIFW && r.Type != domain.ComponentProvider {
			return true
		}
	}
	return false
}
