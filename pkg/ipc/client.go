package ipc

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/pipeguard/pipeguard/internal/logger"
	"github.com/pipeguard/pipeguard/pkg/types"
)

// ErrNotConnected is returned by Client operations before Connect and after
// Disconnect
var ErrNotConnected = types.NewError(types.ErrCodeNotConnected, "not connected")

// Client is one end of a channel to a Server. It owns at most one transport
// at a time. Send and receive calls must not be made concurrently, but
// Disconnect may be called from another goroutine to abort a blocked call.
type Client struct {
	name       PipeName
	opts       options
	verifier   *PathVerifier
	logger     *logger.Logger
	instanceID string

	mu        sync.Mutex
	channel   *Channel
	serverPID int
}

// NewClient creates a disconnected client for the pipe called name
func NewClient(name string, opts ...Option) (*Client, error) {
	pipe, err := NewPipeName(name)
	if err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		name:       pipe,
		opts:       o,
		instanceID: uuid.NewString(),
	}
	c.logger = logger.OrDefault(o.logger).With(
		"component", "ipc_client",
		"pipe", pipe.String(),
		"instance_id", c.instanceID)

	if o.enforceIdentity {
		c.verifier, err = NewPathVerifier(o.resolver)
		if err != nil {
			return nil, err
		}
	}

	return c, nil
}

// PipeName returns the normalized pipe name
func (c *Client) PipeName() PipeName {
	return c.name
}

// Connect opens the transport. With identity enforcement the server is
// verified before Connect returns; on mismatch the transport is closed, the
// client stays disconnected and a permission error is returned.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	connected := c.channel != nil
	c.mu.Unlock()
	if connected {
		return types.NewError(types.ErrCodeInvalid, "client is already connected")
	}

	dialCtx := ctx
	if c.opts.dialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.opts.dialTimeout)
		defer cancel()
	}

	conn, err := Dial(dialCtx, c.name)
	if err != nil {
		return err
	}

	var serverPID int
	if c.verifier != nil {
		pid, err := c.verifier.Verify(conn)
		if err != nil {
			conn.Close()
			c.logger.Warn("Server identity verification failed", "server_pid", pid, "error", err)
			return err
		}
		serverPID = pid
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		conn.Close()
		return types.NewError(types.ErrCodeInvalid, "client is already connected")
	}
	c.channel = newChannel(conn, c.opts.cipher, c.opts.maxFrameSize, c.opts.metrics)
	c.serverPID = serverPID

	c.logger.Debug("Connected", "server_pid", serverPID, "encrypted", c.opts.cipher != nil)
	return nil
}

// IsConnected reports whether Connect succeeded and Disconnect has not been called
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel != nil
}

// ServerPID returns the verified server process id, or 0 without identity enforcement
func (c *Client) ServerPID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverPID
}

func (c *Client) current() (*Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		return nil, ErrNotConnected
	}
	return c.channel, nil
}

// SendBytes sends data as one message
func (c *Client) SendBytes(data []byte) error {
	ch, err := c.current()
	if err != nil {
		return err
	}
	return ch.SendBytes(data)
}

// ReceiveBytes blocks until the next message arrives
func (c *Client) ReceiveBytes() ([]byte, error) {
	ch, err := c.current()
	if err != nil {
		return nil, err
	}
	return ch.ReceiveBytes()
}

// SendString sends s as a UTF-8 message
func (c *Client) SendString(s string) error {
	ch, err := c.current()
	if err != nil {
		return err
	}
	return ch.SendString(s)
}

// ReceiveString receives a UTF-8 message
func (c *Client) ReceiveString() (string, error) {
	ch, err := c.current()
	if err != nil {
		return "", err
	}
	return ch.ReceiveString()
}

// SendJSON sends v encoded as JSON
func (c *Client) SendJSON(v any) error {
	ch, err := c.current()
	if err != nil {
		return err
	}
	return ch.SendJSON(v)
}

// ReceiveJSON receives a JSON message into v
func (c *Client) ReceiveJSON(v any) error {
	ch, err := c.current()
	if err != nil {
		return err
	}
	return ch.ReceiveJSON(v)
}

// Disconnect releases the transport. It is idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	ch := c.channel
	c.channel = nil
	c.serverPID = 0
	c.mu.Unlock()

	if ch == nil {
		return nil
	}
	if err := ch.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return types.WrapError(types.ErrCodeIO, "failed to close transport", err)
	}
	c.logger.Debug("Disconnected")
	return nil
}

// Close is Disconnect, for use with defer and io.Closer
func (c *Client) Close() error {
	return c.Disconnect()
}
