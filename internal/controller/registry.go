package controller

import (
	"fmt"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// Registry holds one controller per ControllerType and the user's preference.
type Registry struct {
	preferred   domain.ControllerType
	controllers map[domain.ControllerType]domain.ComponentController
}

// NewRegistry wires the three backends and derives the combined IFW_PLUS_PM one.
// broker may be nil when no broker is configured; selecting SHIZUKU then fails.
func NewRegistry(preferred domain.ControllerType, pm, ifw, broker domain.ComponentController) *Registry {
	r := &Registry{
		preferred:   preferred,
		controllers: make(map[domain.ControllerType]domain.ComponentController),
	}
	r.Register(domain.ControllerPM, pm)
	r.Register(domain.ControllerIFW, ifw)
	if broker != nil {
		r.Register(domain.ControllerShizuku, broker)
	}
	if ifw != nil && pm != nil {
		r.Register(domain.ControllerIFWPlusPM, NewCombinedController(ifw, pm))
	}
	return r
}

// Register adds or replaces the controller for t.
func (r *Registry) Register(t domain.ControllerType, c domain.ComponentController) {
	if c == nil {
		return
	}
	r.controllers[t] = c
}

// Get returns the controller for t.
func (r *Registry) Get(t domain.ControllerType) (domain.ComponentController, error) {
	c, ok := r.controllers[t]
	if !ok {
		if t == domain.ControllerShizuku {
			return nil, fmt.Errorf("no broker configured: %w", domain.ErrPrivilegeUnavailable)
		}
		return nil, fmt.Errorf("no controller registered for %s", t)
	}
	return c, nil
}

// Preferred returns the configured ControllerType.
func (r *Registry) Preferred() domain.ControllerType {
	return r.preferred
}

// Active returns the controller for the configured preference.
func (r *Registry) Active() (domain.ComponentController, error) {
	return r.Get(r.preferred)
}

// PM returns the package manager controller.
func (r *Registry) PM() domain.ComponentController {
	return r.controllers[domain.ControllerPM]
}

// IFW returns the intent firewall controller.
func (r *Registry) IFW() domain.ComponentController {
	return r.controllers[domain.ControllerIFW]
}

// PMSide returns the controller that owns the PM flag under the current
// preference: the broker for SHIZUKU, the PM controller otherwise.
func (r *Registry) PMSide() (domain.ComponentController, error) {
	if r.preferred == domain.ControllerShizuku {
		return r.Get(domain.ControllerShizuku)
	}
	return r.Get(domain.ControllerPM)
}
