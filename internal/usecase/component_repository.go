// Package usecase contains application business logic.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/controller"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// StatusFunc receives the refreshed status of each processed batch item.
type StatusFunc func(status domain.ComponentStatus)

// ComponentRepository applies component changes through the preferred
// controller and keeps the cached ComponentStatus in line with what the
// backends report afterwards.
type ComponentRepository struct {
	registry  *controller.Registry
	inspector domain.PackageInspector
	cache     domain.ComponentCache
	logger    *zap.Logger
}

// NewComponentRepository creates a repository.
func NewComponentRepository(
	registry *controller.Registry,
	inspector domain.PackageInspector,
	cache domain.ComponentCache,
	logger *zap.Logger,
) *ComponentRepository {
	return &ComponentRepository{
		registry:  registry,
		inspector: inspector,
		cache:     cache,
		logger:    logger,
	}
}

// ControlComponent sets a component to newState (true = reachable) with
// the preferred controller, then re-derives and caches its status.
func (r *ComponentRepository) ControlComponent(ctx context.Context, packageName, componentName string, newState bool) (bool, error) {
	ref := domain.ComponentRef{PackageName: packageName, ComponentName: componentName}
	r.logger.Debug("control component",
		zap.String("component", ref.FlattenedName()),
		zap.Bool("state", newState),
		zap.String("controller", string(r.registry.Preferred())))

	var (
		ok  bool
		err error
	)
	switch r.registry.Preferred() {
	case domain.ControllerIFW:
		ok, err = r.controlInIfwMode(ctx, ref, newState)
	case domain.ControllerPM:
		ok, err = r.controlInPmMode(ctx, ref, newState)
	default:
		ok, err = r.controlWithActive(ctx, ref, newState)
	}
	if err != nil {
		return false, err
	}

	if _, err := r.updateComponentStatus(ctx, ref); err != nil {
		if isFatal(ctx, err) {
			return ok, err
		}
		r.logger.Warn("cannot refresh component status",
			zap.String("component", ref.FlattenedName()), zap.Error(err))
	}
	return ok, nil
}

// controlInIfwMode unblocks at the PM layer first: an IFW filter change on a
// disabled component would look successful while it stays unreachable.
func (r *ComponentRepository) controlInIfwMode(ctx context.Context, ref domain.ComponentRef, newState bool) (bool, error) {
	if r.componentType(ctx, ref) == domain.ComponentProvider {
		r.logger.Debug("provider cannot be filtered, using pm", zap.String("component", ref.FlattenedName()))
		return r.controlInPmMode(ctx, ref, newState)
	}

	ifw := r.registry.IFW()
	if !newState {
		return ifw.Disable(ctx, ref.PackageName, ref.ComponentName)
	}

	pm := r.registry.PM()
	enabled, err := pm.CheckEnableState(ctx, ref.PackageName, ref.ComponentName)
	if err != nil && isFatal(ctx, err) {
		return false, err
	}
	if err != nil || !enabled {
		if _, err := pm.Enable(ctx, ref.PackageName, ref.ComponentName); err != nil {
			return false, err
		}
	}
	return ifw.Enable(ctx, ref.PackageName, ref.ComponentName)
}

// controlInPmMode removes a blocking IFW filter before enabling the PM flag.
func (r *ComponentRepository) controlInPmMode(ctx context.Context, ref domain.ComponentRef, newState bool) (bool, error) {
	pm := r.registry.PM()
	if !newState {
		return pm.Disable(ctx, ref.PackageName, ref.ComponentName)
	}

	ifw := r.registry.IFW()
	enabled, err := ifw.CheckEnableState(ctx, ref.PackageName, ref.ComponentName)
	if err != nil && isFatal(ctx, err) {
		return false, err
	}
	if err == nil && !enabled {
		if _, err := ifw.Enable(ctx, ref.PackageName, ref.ComponentName); err != nil {
			return false, err
		}
	}
	return pm.Enable(ctx, ref.PackageName, ref.ComponentName)
}

// controlWithActive covers SHIZUKU, which never touches the other method,
// and IFW_PLUS_PM, which writes both.
func (r *ComponentRepository) controlWithActive(ctx context.Context, ref domain.ComponentRef, newState bool) (bool, error) {
	c, err := r.registry.Active()
	if err != nil {
		return false, err
	}
	if newState {
		return c.Enable(ctx, ref.PackageName, ref.ComponentName)
	}
	return c.Disable(ctx, ref.PackageName, ref.ComponentName)
}

// BatchControl sets every ref to newState. In IFW mode providers are sent to
// the PM controller, and when unblocking, PM-blocked components are enabled
// at the PM layer first. progress receives each refreshed status.
// It returns the number of refs whose change succeeded.
func (r *ComponentRepository) BatchControl(ctx context.Context, refs []domain.ComponentRef, newState bool, progress StatusFunc) (int, error) {
	r.logger.Info("batch control",
		zap.Int("components", len(refs)),
		zap.Bool("state", newState),
		zap.String("controller", string(r.registry.Preferred())))

	active, err := r.registry.Active()
	if err != nil {
		return 0, err
	}

	report := func(ref domain.ComponentRef) {
		status, err := r.updateComponentStatus(ctx, ref)
		if err != nil {
			r.logger.Warn("cannot refresh component status",
				zap.String("component", ref.FlattenedName()), zap.Error(err))
			return
		}
		if progress != nil {
			progress(*status)
		}
	}

	succeeded := 0
	rest := refs
	if r.registry.Preferred() == domain.ControllerIFW {
		var providers []domain.ComponentRef
		providers, rest = r.splitProviders(ctx, refs)
		pm := r.registry.PM()

		n, err := controller.RunBatch(ctx, providers, func(ctx context.Context, ref domain.ComponentRef) (bool, error) {
			if newState {
				return pm.Enable(ctx, ref.PackageName, ref.ComponentName)
			}
			return pm.Disable(ctx, ref.PackageName, ref.ComponentName)
		}, report)
		succeeded += n
		if err != nil {
			return succeeded, err
		}

		if newState {
			if _, err := controller.RunBatch(ctx, r.pmBlocked(ctx, rest), func(ctx context.Context, ref domain.ComponentRef) (bool, error) {
				return pm.Enable(ctx, ref.PackageName, ref.ComponentName)
			}, nil); err != nil {
				return succeeded, err
			}
		}
	}

	var n int
	if newState {
		n, err = active.BatchEnable(ctx, rest, report)
	} else {
		n, err = active.BatchDisable(ctx, rest, report)
	}
	return succeeded + n, err
}

// splitProviders separates providers from the other refs, filling in
// missing types on the way.
func (r *ComponentRepository) splitProviders(ctx context.Context, refs []domain.ComponentRef) (providers, others []domain.ComponentRef) {
	for _, ref := range refs {
		if ref.Type == "" {
			ref.Type = r.componentType(ctx, ref)
		}
		if ref.Type == domain.ComponentProvider {
			providers = append(providers, ref)
		} else {
			others = append(others, ref)
		}
	}
	return providers, others
}

// pmBlocked returns the refs that the cache records as PM-blocked. Refs
// without a cached status are queried live.
func (r *ComponentRepository) pmBlocked(ctx context.Context, refs []domain.ComponentRef) []domain.ComponentRef {
	var blocked []domain.ComponentRef
	for _, ref := range refs {
		if cached, err := r.cache.Get(ref.PackageName, ref.ComponentName); err == nil && cached != nil {
			if cached.PMBlocked {
				blocked = append(blocked, ref)
			}
			continue
		}
		enabled, err := r.registry.PM().CheckEnableState(ctx, ref.PackageName, ref.ComponentName)
		if err == nil && !enabled {
			blocked = append(blocked, ref)
		}
	}
	return blocked
}

// Status re-derives the component's flags from the backends and caches them.
func (r *ComponentRepository) Status(ctx context.Context, packageName, componentName string) (*domain.ComponentStatus, error) {
	return r.updateComponentStatus(ctx, domain.ComponentRef{PackageName: packageName, ComponentName: componentName})
}

// Cached returns the cached statuses of a package without querying anything.
func (r *ComponentRepository) Cached(packageName string) ([]domain.ComponentStatus, error) {
	return r.cache.ListByPackage(packageName)
}

// Search looks up cached components by keyword.
func (r *ComponentRepository) Search(keyword string) ([]domain.ComponentStatus, error) {
	return r.cache.Search(keyword)
}

// RefreshPackage rediscovers the package's components and re-derives the
// status of each. Rows of components the package no longer declares are
// dropped.
func (r *ComponentRepository) RefreshPackage(ctx context.Context, packageName string) ([]domain.ComponentStatus, error) {
	info, err := r.inspector.GetPackageInfo(ctx, packageName)
	if err != nil {
		if errors.Is(err, domain.ErrPackageNotFound) {
			if delErr := r.cache.DeleteByPackage(packageName); delErr != nil {
				r.logger.Warn("cannot drop cached components", zap.String("package", packageName), zap.Error(delErr))
			}
		}
		return nil, err
	}

	previous := make(map[string]domain.ComponentStatus)
	if cached, err := r.cache.ListByPackage(packageName); err == nil {
		for _, s := range cached {
			previous[s.Ref.ComponentName] = s
		}
	}
	if err := r.cache.DeleteByPackage(packageName); err != nil {
		return nil, fmt.Errorf("failed to reset cache for %s: %w", packageName, err)
	}

	statuses := make([]domain.ComponentStatus, 0, len(info.Components))
	for _, c := range info.Components {
		if err := ctx.Err(); err != nil {
			return statuses, err
		}

		status := previous[c.ComponentName]
		status.Ref = c.ComponentRef
		status.Exported = c.Exported
		if err := r.derive(ctx, &status); err != nil {
			return statuses, err
		}
		if err := r.cache.Upsert(status); err != nil {
			return statuses, fmt.Errorf("failed to cache %s: %w", c.FlattenedName(), err)
		}
		statuses = append(statuses, status)
	}

	r.logger.Info("package refreshed",
		zap.String("package", packageName),
		zap.Int("components", len(statuses)))
	return statuses, nil
}

// updateComponentStatus queries both backends and stores the result. The
// backends are the source of truth; the cached row only supplies the values
// a failed query cannot.
func (r *ComponentRepository) updateComponentStatus(ctx context.Context, ref domain.ComponentRef) (*domain.ComponentStatus, error) {
	status := domain.ComponentStatus{Ref: ref}
	cached, err := r.cache.Get(ref.PackageName, ref.ComponentName)
	if err != nil {
		r.logger.Warn("cannot read cached status", zap.String("component", ref.FlattenedName()), zap.Error(err))
	}
	if cached != nil {
		status = *cached
	}
	if status.Ref.Type == "" {
		status.Ref.Type = r.componentType(ctx, ref)
	}

	if err := r.derive(ctx, &status); err != nil {
		return nil, err
	}
	if err := r.cache.Upsert(status); err != nil {
		return nil, fmt.Errorf("failed to cache %s: %w", ref.FlattenedName(), err)
	}
	return &status, nil
}

// derive refreshes PMBlocked and IFWBlocked in place. A query that fails
// for a non-fatal reason leaves the previous value.
func (r *ComponentRepository) derive(ctx context.Context, status *domain.ComponentStatus) error {
	ref := status.Ref

	pm, err := r.registry.PMSide()
	if err != nil {
		return err
	}
	if enabled, err := pm.CheckEnableState(ctx, ref.PackageName, ref.ComponentName); err == nil {
		status.PMBlocked = !enabled
	} else if isFatal(ctx, err) {
		return err
	} else {
		r.logger.Debug("pm state unknown, keeping cached value",
			zap.String("component", ref.FlattenedName()), zap.Error(err))
	}

	if enabled, err := r.registry.IFW().CheckEnableState(ctx, ref.PackageName, ref.ComponentName); err == nil {
		status.IFWBlocked = !enabled
	} else if isFatal(ctx, err) {
		return err
	}

	status.UpdatedAt = time.Now()
	return nil
}

// componentType resolves the type from the cache, then the inspector.
func (r *ComponentRepository) componentType(ctx context.Context, ref domain.ComponentRef) domain.ComponentType {
	if ref.Type != "" {
		return ref.Type
	}
	if cached, err := r.cache.Get(ref.PackageName, ref.ComponentName); err == nil && cached != nil && cached.Ref.Type != "" {
		return cached.Ref.Type
	}
	t, err := r.inspector.GetComponentType(ctx, ref.PackageName, ref.ComponentName)
	if err != nil {
		r.logger.Debug("component type unknown", zap.String("component", ref.FlattenedName()), zap.Error(err))
		return ""
	}
	return t
}

// isFatal reports errors that must abort an operation instead of being
// logged: missing privilege and cancellation.
func isFatal(ctx context.Context, err error) bool {
	return errors.Is(err, domain.ErrPrivilegeUnavailable) || ctx.Err() != nil
}
