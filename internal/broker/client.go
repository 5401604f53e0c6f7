package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultDialTimeout bounds connecting to the broker socket.
const DefaultDialTimeout = 3 * time.Second

// Client is the RPC client of the broker. It connects on first use and
// reconnects once when the connection turns out to be dead.
type Client struct {
	socketPath  string
	dialTimeout time.Duration
	logger      *zap.Logger

	mu     sync.RWMutex
	client *rpc.Client
}

// NewClient creates a client for the broker listening on socketPath.
func NewClient(socketPath string, logger *zap.Logger) *Client {
	return &Client{
		socketPath:  socketPath,
		dialTimeout: DefaultDialTimeout,
		logger:      logger,
	}
}

// Close closes the RPC connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// SetComponentEnabled asks the broker to enable or disable a component.
// It returns false when the broker's command failed.
func (c *Client) SetComponentEnabled(ctx context.Context, packageName, componentName string, enabled bool) (bool, error) {
	args := &ComponentArgs{
		RequestID:     uuid.NewString(),
		PackageName:   packageName,
		ComponentName: componentName,
		Enabled:       enabled,
	}
	var reply SetReply
	if err := c.call(ctx, "SetComponentEnabled", args, &reply); err != nil {
		return false, err
	}
	if reply.Denied {
		return false, fmt.Errorf("request %s denied: %w", args.RequestID, ErrBrokerUnavailable)
	}
	return reply.Success, nil
}

// GetComponentEnabled asks the broker whether a component is enabled.
func (c *Client) GetComponentEnabled(ctx context.Context, packageName, componentName string) (bool, error) {
	args := &ComponentArgs{
		RequestID:     uuid.NewString(),
		PackageName:   packageName,
		ComponentName: componentName,
	}
	var reply GetReply
	if err := c.call(ctx, "GetComponentEnabled", args, &reply); err != nil {
		return false, err
	}
	switch {
	case reply.Denied:
		return false, fmt.Errorf("request %s denied: %w", args.RequestID, ErrBrokerUnavailable)
	case reply.Unknown:
		return false, errStateUnknown
	}
	return reply.Enabled, nil
}

// Ping checks that the broker is reachable.
func (c *Client) Ping(ctx context.Context) (*PingReply, error) {
	var reply PingReply
	if err := c.call(ctx, "Ping", &PingArgs{RequestID: uuid.NewString()}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// call wraps the RPC call with reconnection logic.
func (c *Client) call(ctx context.Context, method string, args, reply any) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		var err error
		if client, err = c.reconnect(nil); err != nil {
			return err
		}
	}

	err := c.invoke(ctx, client, method, args, reply)
	if err == nil || !isConnectionError(err) {
		return err
	}

	c.logger.Debug("broker connection lost, reconnecting", zap.Error(err))
	client, recErr := c.reconnect(client)
	if recErr != nil {
		return fmt.Errorf("rpc call failed (%v) and reconnection failed: %w", err, recErr)
	}
	return c.invoke(ctx, client, method, args, reply)
}

func (c *Client) invoke(ctx context.Context, client *rpc.Client, method string, args, reply any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	call := client.Go(ServiceName+"."+method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-call.Done:
		return done.Error
	}
}

// reconnect replaces old with a fresh connection unless another caller
// already did.
func (c *Client) reconnect(old *rpc.Client) (*rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil && c.client != old {
		return c.client, nil
	}
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}

	conn, err := net.DialTimeout("unix", c.socketPath, c.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	c.client = rpc.NewClient(conn)
	return c.client, nil
}

func isConnectionError(err error) bool {
	if errors.Is(err, rpc.ErrShutdown) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection is shut down") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "unexpected EOF") ||
		strings.Contains(msg, "use of closed network connection")
}
