package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/pipeguard/pipeguard/internal/logger"
	"github.com/pipeguard/pipeguard/pkg/types"
)

// ServerState is the lifecycle state of a Server
type ServerState string

const (
	StateIdle      ServerState = "idle"
	StateListening ServerState = "listening"
	StateStopped   ServerState = "stopped"
)

// Handler consumes one accepted connection. It runs in its own goroutine
// and its error is logged, never propagated to the accept loop.
type Handler interface {
	ServeConn(ctx context.Context, conn *Connection) error
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, conn *Connection) error

// ServeConn calls f(ctx, conn)
func (f HandlerFunc) ServeConn(ctx context.Context, conn *Connection) error {
	return f(ctx, conn)
}

// Server accepts connections on a pipe and dispatches each to a Handler
type Server struct {
	name       PipeName
	opts       options
	verifier   *PathVerifier
	logger     *logger.Logger
	instanceID string

	// nextID is the only state shared across connections
	nextID atomic.Uint64

	mu           sync.Mutex
	state        ServerState
	listener     net.Listener
	ownsPipeFile bool

	handlers sync.WaitGroup
}

// NewServer creates a server for the pipe called name. With identity
// enforcement the current executable is resolved here, and failing to do so
// is returned as an error.
func NewServer(name string, opts ...Option) (*Server, error) {
	pipe, err := NewPipeName(name)
	if err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		name:       pipe,
		opts:       o,
		instanceID: uuid.NewString(),
		state:      StateIdle,
		listener:   o.listener,
	}
	s.logger = logger.OrDefault(o.logger).With(
		"component", "ipc_server",
		"pipe", pipe.String(),
		"instance_id", s.instanceID)

	if o.enforceIdentity {
		s.verifier, err = NewPathVerifier(o.resolver)
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Name returns the normalized pipe name
func (s *Server) Name() PipeName {
	return s.name
}

// InstanceID returns a random id identifying this server in logs
func (s *Server) InstanceID() string {
	return s.instanceID
}

// State returns the current lifecycle state
func (s *Server) State() ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Serve listens on the pipe and dispatches every accepted connection to
// handler in a new goroutine. It blocks until ctx is done or Close is
// called, and returns nil in both cases. Temporary accept errors are retried
// with back-off; any other accept error stops the server and is returned.
// Stopping the loop does not stop handlers that are already running; use
// Wait or Shutdown for that.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	if handler == nil {
		return types.NewError(types.ErrCodeInvalidArgument, "handler cannot be nil")
	}

	l, err := s.start()
	if err != nil {
		return err
	}

	s.logger.Info("IPC server listening",
		"encrypted", s.opts.cipher != nil,
		"enforce_client_identity", s.verifier != nil,
		"max_frame_size", s.opts.maxFrameSize)

	stop := context.AfterFunc(ctx, func() {
		if err := s.Close(); err != nil {
			s.logger.Warn("Failed to close server", "error", err)
		}
	})
	defer stop()

	// Handlers outlive the accept loop, so they must not inherit its cancellation
	handlerCtx := context.WithoutCancel(ctx)

	var tempDelay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.State() == StateStopped || errors.Is(err, net.ErrClosed) {
				s.markStopped()
				s.logger.Info("IPC server stopped accepting")
				return nil
			}
			if !retryableAcceptError(err) {
				s.logger.Error("Accept failed permanently", "error", err)
				if cerr := s.Close(); cerr != nil {
					s.logger.Warn("Failed to close server", "error", cerr)
				}
				return types.WrapError(types.ErrCodeIO, "accept failed", err)
			}

			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if tempDelay > time.Second {
				tempDelay = time.Second
			}
			s.logger.Error("Failed to accept connection", "error", err, "retry_in", tempDelay.String())
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0

		s.dispatch(handlerCtx, conn, handler)
	}
}

// retryableAcceptError reports whether the accept loop should back off and
// try again rather than give up on the listener
func retryableAcceptError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var te interface{ Temporary() bool }
	return errors.As(err, &te) && te.Temporary()
}

func (s *Server) start() (net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return nil, types.NewError(types.ErrCodeInvalid, fmt.Sprintf("server is %s", s.state))
	}

	if s.listener == nil {
		l, err := Listen(s.name)
		if err != nil {
			return nil, err
		}
		s.listener = l
		s.ownsPipeFile = true
	}
	s.state = StateListening
	return s.listener, nil
}

func (s *Server) markStopped() {
	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
}

// dispatch runs on the accept loop: verification settles before the
// connection id is assigned and before the handler can see the connection
func (s *Server) dispatch(ctx context.Context, conn net.Conn, handler Handler) {
	var peerPID int
	if s.verifier != nil {
		pid, err := s.verifier.Verify(conn)
		if err != nil {
			s.opts.metrics.rejected()
			s.logger.Warn("Rejected client, identity verification failed",
				"peer_pid", pid,
				"error", err)
			if cerr := conn.Close(); cerr != nil {
				s.logger.Debug("Failed to close rejected connection", "error", cerr)
			}
			return
		}
		peerPID = pid
	}

	c := &Connection{
		Channel:    newChannel(conn, s.opts.cipher, s.opts.maxFrameSize, s.opts.metrics),
		id:         s.nextID.Add(1),
		verified:   s.verifier != nil,
		peerPID:    peerPID,
		acceptedAt: time.Now(),
	}
	s.opts.metrics.accepted()

	s.handlers.Add(1)
	go s.runHandler(ctx, c, handler)
}

func (s *Server) runHandler(ctx context.Context, c *Connection, handler Handler) {
	defer s.handlers.Done()

	log := s.logger.With("conn_id", c.ID())
	log.Debug("Connection accepted", "peer_pid", c.PeerPID(), "verified", c.Verified())

	err := invokeHandler(ctx, c, handler)
	if err != nil {
		log.Warn("Connection handler failed", "error", err)
	}
	if cerr := c.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		log.Debug("Failed to close connection", "error", cerr)
	}
	s.opts.metrics.finished(err != nil)

	log.Debug("Connection closed", "duration", time.Since(c.AcceptedAt()).String())
}

// invokeHandler contains panics to the connection that caused them
func invokeHandler(ctx context.Context, c *Connection, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewError(types.ErrCodeHandlerFailed, fmt.Sprintf("handler panic: %v", r))
		}
	}()
	return handler.ServeConn(ctx, c)
}

// Close stops accepting new connections. Running handlers are unaffected.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		return nil
	}
	s.state = StateStopped

	var err error
	if s.listener != nil {
		if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, types.WrapError(types.ErrCodeIO, "failed to close listener", cerr))
		}
	}
	if s.ownsPipeFile {
		err = multierr.Append(err, removePipeFile(s.name))
	}
	return err
}

// Wait blocks until every dispatched handler has returned
func (s *Server) Wait() {
	s.handlers.Wait()
}

// Shutdown closes the server and waits for running handlers until ctx is done
func (s *Server) Shutdown(ctx context.Context) error {
	closeErr := s.Close()

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return closeErr
	case <-ctx.Done():
		return multierr.Append(closeErr,
			types.WrapError(types.ErrCodeCanceled, "handlers still running at shutdown", ctx.Err()))
	}
}
