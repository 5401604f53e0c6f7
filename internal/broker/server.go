package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

const (
	socketMode = 0660
	// requestTimeout bounds a single state change on the broker side.
	requestTimeout = time.Minute
)

// Server applies component changes received over RPC through its own
// controller.
type Server struct {
	pm      domain.ComponentController
	version string
	logger  *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
}

// NewServer creates a broker that applies changes through pm.
func NewServer(pm domain.ComponentController, version string, logger *zap.Logger) *Server {
	return &Server{pm: pm, version: version, logger: logger, conns: make(map[net.Conn]struct{})}
}

// Serve listens on socketPath and serves requests until ctx is done.
// A stale socket file is replaced.
func (s *Server) Serve(ctx context.Context, socketPath string) error {
	listener, err := s.Listen(socketPath)
	if err != nil {
		return err
	}
	defer os.Remove(socketPath)
	return s.ServeListener(ctx, listener)
}

// Listen creates the Unix socket with group access.
func (s *Server) Listen(socketPath string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, socketMode); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}
	return listener, nil
}

// ServeListener serves RPC connections accepted from listener until ctx is
// done or the listener is closed.
func (s *Server) ServeListener(ctx context.Context, listener net.Listener) error {
	srv := rpc.NewServer()
	if err := srv.RegisterName(ServiceName, &service{server: s, ctx: ctx}); err != nil {
		return fmt.Errorf("failed to register RPC service: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	s.logger.Info("broker listening", zap.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				s.logger.Info("broker stopped")
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		s.track(conn, true)
		go func() {
			defer s.track(conn, false)
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("rpc connection handler panicked", zap.Any("panic", r))
				}
			}()
			srv.ServeConn(conn)
		}()
	}
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// Close stops accepting connections and drops the open ones.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// service holds the RPC method set; keeping it apart from Server keeps
// non-RPC methods out of the registered service.
type service struct {
	server *Server
	ctx    context.Context
}

// SetComponentEnabled enables or disables one component.
func (svc *service) SetComponentEnabled(args *ComponentArgs, reply *SetReply) error {
	s := svc.server
	ctx, cancel := context.WithTimeout(svc.ctx, requestTimeout)
	defer cancel()

	var (
		ok  bool
		err error
	)
	if args.Enabled {
		ok, err = s.pm.Enable(ctx, args.PackageName, args.ComponentName)
	} else {
		ok, err = s.pm.Disable(ctx, args.PackageName, args.ComponentName)
	}

	log := s.logger.With(
		zap.String("request_id", args.RequestID),
		zap.String("component", domain.FlattenName(args.PackageName, args.ComponentName)),
		zap.Bool("enabled", args.Enabled))

	switch {
	case errors.Is(err, domain.ErrPrivilegeUnavailable):
		log.Warn("broker lacks privilege", zap.Error(err))
		reply.Denied = true
		return nil
	case err != nil:
		return err
	}

	reply.Success = ok
	log.Debug("component state request handled", zap.Bool("success", ok))
	return nil
}

// GetComponentEnabled reports whether the component is enabled.
func (svc *service) GetComponentEnabled(args *ComponentArgs, reply *GetReply) error {
	s := svc.server
	ctx, cancel := context.WithTimeout(svc.ctx, requestTimeout)
	defer cancel()

	enabled, err := s.pm.CheckEnableState(ctx, args.PackageName, args.ComponentName)
	switch {
	case errors.Is(err, domain.ErrPrivilegeUnavailable):
		reply.Denied = true
		return nil
	case errors.Is(err, domain.ErrStateUnknown):
		s.logger.Debug("component state unknown",
			zap.String("request_id", args.RequestID), zap.Error(err))
		reply.Unknown = true
		return nil
	case err != nil:
		return err
	}

	reply.Enabled = enabled
	return nil
}

// Ping reports the broker's identity.
func (svc *service) Ping(args *PingArgs, reply *PingReply) error {
	reply.PID = os.Getpid()
	reply.UID = os.Geteuid()
	reply.Version = svc.server.version
	svc.server.logger.Debug("ping", zap.String("request_id", args.RequestID))
	return nil
}
