package ifw

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/controller"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// Controller implements domain.ComponentController with rule files.
// Providers cannot be filtered and are forwarded to the PM controller.
type Controller struct {
	store     *Store
	inspector domain.PackageInspector
	pm        domain.ComponentController
	logger    *zap.Logger
}

// NewController creates the IFW controller.
func NewController(store *Store, inspector domain.PackageInspector, pm domain.ComponentController, logger *zap.Logger) *Controller {
	return &Controller{store: store, inspector: inspector, pm: pm, logger: logger}
}

// Enable removes the component's filter.
func (c *Controller) Enable(ctx context.Context, packageName, componentName string) (bool, error) {
	return c.enable(ctx, domain.ComponentRef{PackageName: packageName, ComponentName: componentName})
}

// Disable adds a filter for the component.
func (c *Controller) Disable(ctx context.Context, packageName, componentName string) (bool, error) {
	return c.disable(ctx, domain.ComponentRef{PackageName: packageName, ComponentName: componentName})
}

func (c *Controller) enable(ctx context.Context, ref domain.ComponentRef) (bool, error) {
	// Removal is not type-scoped, so an unknown type does not stop it.
	t, _ := c.resolveType(ctx, ref)
	if t == domain.ComponentProvider {
		return c.pm.Enable(ctx, ref.PackageName, ref.ComponentName)
	}

	err := c.store.Edit(ctx, ref.PackageName, func(doc *Document) error {
		doc.Remove(ref.ComponentName, t)
		return nil
	})
	return c.result(ctx, "enable", ref, err)
}

func (c *Controller) disable(ctx context.Context, ref domain.ComponentRef) (bool, error) {
	t, err := c.resolveType(ctx, ref)
	if err != nil {
		c.logger.Warn("cannot resolve component type",
			zap.String("component", ref.FlattenedName()), zap.Error(err))
		return false, nil
	}
	if t == domain.ComponentProvider {
		return c.pm.Disable(ctx, ref.PackageName, ref.ComponentName)
	}

	err = c.store.Edit(ctx, ref.PackageName, func(doc *Document) error {
		doc.Add(ref.ComponentName, t)
		return nil
	})
	return c.result(ctx, "disable", ref, err)
}

func (c *Controller) result(ctx context.Context, op string, ref domain.ComponentRef, err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrPrivilegeUnavailable) {
		return false, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	c.logger.Warn("ifw "+op+" failed", zap.String("component", ref.FlattenedName()), zap.Error(err))
	return false, nil
}

func (c *Controller) resolveType(ctx context.Context, ref domain.ComponentRef) (domain.ComponentType, error) {
	if ref.Type != "" {
		return ref.Type, nil
	}
	return c.inspector.GetComponentType(ctx, ref.PackageName, ref.ComponentName)
}

// CheckEnableState is true when no filter names the component.
func (c *Controller) CheckEnableState(ctx context.Context, packageName, componentName string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return c.store.GetEnableState(ctx, packageName, componentName), nil
}

// BatchEnable removes the filters of refs one after another.
func (c *Controller) BatchEnable(ctx context.Context, refs []domain.ComponentRef, progress domain.ProgressFunc) (int, error) {
	if err := c.store.privilege.Check(ctx); err != nil {
		return 0, err
	}
	return controller.RunBatch(ctx, refs, c.enable, progress)
}

// BatchDisable adds filters for refs one after another. A ref's Type is
// used when set, saving a package lookup per item.
func (c *Controller) BatchDisable(ctx context.Context, refs []domain.ComponentRef, progress domain.ProgressFunc) (int, error) {
	if err := c.store.privilege.Check(ctx); err != nil {
		return 0, err
	}
	return controller.RunBatch(ctx, refs, c.disable, progress)
}

// Ensure Controller implements domain.ComponentController.
var _ domain.ComponentController = (*Controller)(nil)
