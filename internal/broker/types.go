// Package broker provides the privileged broker backend: a small RPC
// server that applies component state changes with its own identity, and
// a client-side controller that forwards to it over a Unix socket.
package broker

import (
	"errors"
	"fmt"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// ServiceName is the net/rpc service name the server registers.
const ServiceName = "Broker"

// ProcessPattern identifies a running broker in the process table.
const ProcessPattern = "broker serve"

// ErrBrokerUnavailable means the broker socket cannot be reached or the
// broker itself lacks privilege. It is a privilege error.
var ErrBrokerUnavailable = fmt.Errorf("broker unavailable: %w", domain.ErrPrivilegeUnavailable)

// errStateUnknown is what the client reports when the broker could not read a state.
var errStateUnknown = errors.New("broker could not read component state")

// ComponentArgs addresses one component.
type ComponentArgs struct {
	RequestID     string
	PackageName   string
	ComponentName string
	Enabled       bool
}

// SetReply is the result of SetComponentEnabled.
type SetReply struct {
	Success bool
	Denied  bool
}

// GetReply is the result of GetComponentEnabled.
type GetReply struct {
	Enabled bool
	Unknown bool
	Denied  bool
}

// PingArgs carries the request id of a liveness probe.
type PingArgs struct {
	RequestID string
}

// PingReply identifies the broker process.
type PingReply struct {
	PID     int
	UID     int
	Version string
}
