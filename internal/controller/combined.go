package controller

import (
	"context"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// CombinedController writes both the IFW filter and the PM flag.
// Mutations run IFW first, then PM, and succeed only if both do.
type CombinedController struct {
	ifw domain.ComponentController
	pm  domain.ComponentController
}

// NewCombinedController creates the IFW_PLUS_PM controller.
func NewCombinedController(ifw, pm domain.ComponentController) *CombinedController {
	return &CombinedController{ifw: ifw, pm: pm}
}

// Enable removes the IFW filter and enables the PM flag.
func (c *CombinedController) Enable(ctx context.Context, packageName, componentName string) (bool, error) {
	return c.both(ctx, packageName, componentName, domain.ComponentController.Enable)
}

// Disable adds the IFW filter and disables the PM flag.
func (c *CombinedController) Disable(ctx context.Context, packageName, componentName string) (bool, error) {
	return c.both(ctx, packageName, componentName, domain.ComponentController.Disable)
}

type toggleFunc func(domain.ComponentController, context.Context, string, string) (bool, error)

func (c *CombinedController) both(ctx context.Context, packageName, componentName string, op toggleFunc) (bool, error) {
	ifwOK, err := op(c.ifw, ctx, packageName, componentName)
	if err != nil {
		return false, err
	}
	pmOK, err := op(c.pm, ctx, packageName, componentName)
	if err != nil {
		return false, err
	}
	return ifwOK && pmOK, nil
}

// CheckEnableState is true only when neither backend blocks the component.
func (c *CombinedController) CheckEnableState(ctx context.Context, packageName, componentName string) (bool, error) {
	ifwEnabled, err := c.ifw.CheckEnableState(ctx, packageName, componentName)
	if err != nil {
		return false, err
	}
	if !ifwEnabled {
		return false, nil
	}
	return c.pm.CheckEnableState(ctx, packageName, componentName)
}

// BatchEnable enables refs one after another.
func (c *CombinedController) BatchEnable(ctx context.Context, refs []domain.ComponentRef, progress domain.ProgressFunc) (int, error) {
	return RunBatch(ctx, refs, func(ctx context.Context, ref domain.ComponentRef) (bool, error) {
		return c.Enable(ctx, ref.PackageName, ref.ComponentName)
	}, progress)
}

// BatchDisable disables refs one after another.
func (c *CombinedController) BatchDisable(ctx context.Context, refs []domain.ComponentRef, progress domain.ProgressFunc) (int, error) {
	return RunBatch(ctx, refs, func(ctx context.Context, ref domain.ComponentRef) (bool, error) {
		return c.Disable(ctx, ref.PackageName, ref.ComponentName)
	}, progress)
}

// Ensure CombinedController implements domain.ComponentController.
var _ domain.ComponentController = (*CombinedController)(nil)
