package broker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/controller"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// Controller implements domain.ComponentController by forwarding every
// change to the broker.
type Controller struct {
	client *Client
	logger *zap.Logger
}

// NewController creates a controller on top of client.
func NewController(client *Client, logger *zap.Logger) *Controller {
	return &Controller{client: client, logger: logger}
}

// Enable asks the broker to enable the component.
func (c *Controller) Enable(ctx context.Context, packageName, componentName string) (bool, error) {
	return c.set(ctx, domain.ComponentRef{PackageName: packageName, ComponentName: componentName}, true)
}

// Disable asks the broker to disable the component.
func (c *Controller) Disable(ctx context.Context, packageName, componentName string) (bool, error) {
	return c.set(ctx, domain.ComponentRef{PackageName: packageName, ComponentName: componentName}, false)
}

func (c *Controller) set(ctx context.Context, ref domain.ComponentRef, enabled bool) (bool, error) {
	ok, err := c.client.SetComponentEnabled(ctx, ref.PackageName, ref.ComponentName, enabled)
	if err != nil {
		if errors.Is(err, domain.ErrPrivilegeUnavailable) {
			return false, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		c.logger.Warn("broker request failed",
			zap.String("component", ref.FlattenedName()), zap.Error(err))
		return false, nil
	}
	if !ok {
		c.logger.Warn("broker could not change component state",
			zap.String("component", ref.FlattenedName()), zap.Bool("enabled", enabled))
	}
	return ok, nil
}

// CheckEnableState asks the broker for the component's enabled flag.
func (c *Controller) CheckEnableState(ctx context.Context, packageName, componentName string) (bool, error) {
	enabled, err := c.client.GetComponentEnabled(ctx, packageName, componentName)
	if err == nil {
		return enabled, nil
	}
	if errors.Is(err, domain.ErrPrivilegeUnavailable) || ctx.Err() != nil {
		return false, err
	}
	return false, fmt.Errorf("%s: %v: %w", domain.FlattenName(packageName, componentName), err, domain.ErrStateUnknown)
}

// BatchEnable enables refs one after another through the broker.
func (c *Controller) BatchEnable(ctx context.Context, refs []domain.ComponentRef, progress domain.ProgressFunc) (int, error) {
	if err := c.Check(ctx); err != nil {
		return 0, err
	}
	return controller.RunBatch(ctx, refs, func(ctx context.Context, ref domain.ComponentRef) (bool, error) {
		return c.set(ctx, ref, true)
	}, progress)
}

// BatchDisable disables refs one after another through the broker.
func (c *Controller) BatchDisable(ctx context.Context, refs []domain.ComponentRef, progress domain.ProgressFunc) (int, error) {
	if err := c.Check(ctx); err != nil {
		return 0, err
	}
	return controller.RunBatch(ctx, refs, func(ctx context.Context, ref domain.ComponentRef) (bool, error) {
		return c.set(ctx, ref, false)
	}, progress)
}

// Check implements domain.PrivilegeChecker: the broker must answer a ping.
func (c *Controller) Check(ctx context.Context) error {
	if _, err := c.client.Ping(ctx); err != nil {
		if errors.Is(err, domain.ErrPrivilegeUnavailable) || ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return nil
}

// Running reports whether a broker process shows up in the process table.
func Running(processes domain.ProcessManager) bool {
	pids, err := processes.FindByName(ProcessPattern)
	return err == nil && len(pids) > 0
}

// Ensure Controller implements domain.ComponentController and domain.PrivilegeChecker.
var (
	_ domain.ComponentController = (*Controller)(nil)
	_ domain.PrivilegeChecker    = (*Controller)(nil)
)
