package ipc

import (
	"net"
	"time"

	"github.com/pipeguard/pipeguard/internal/logger"
)

// Option configures a Server or a Client. Options that only make sense for
// one side are ignored by the other.
type Option func(*options)

type options struct {
	cipher          *Cipher
	enforceIdentity bool
	resolver        Resolver
	logger          *logger.Logger
	maxFrameSize    int
	metrics         *Metrics
	listener        net.Listener
	dialTimeout     time.Duration
}

func defaultOptions() options {
	return options{
		maxFrameSize: DefaultMaxFrameSize,
	}
}

// WithCipher encrypts every message with c. Both ends must be configured
// alike; a nil cipher means plaintext.
func WithCipher(c *Cipher) Option {
	return func(o *options) {
		o.cipher = c
	}
}

// WithIdentityEnforcement requires the peer to run the same executable as
// this process. Servers check each client right after accept, clients check
// the server right after dialing.
func WithIdentityEnforcement(enforce bool) Option {
	return func(o *options) {
		o.enforceIdentity = enforce
	}
}

// WithResolver replaces the platform identity resolver
func WithResolver(r Resolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

// WithLogger sets the logger; the global logger is used otherwise
func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMaxFrameSize bounds frame payloads in both directions. 0 disables the
// bound, which lets a peer make us allocate up to 4 GiB per frame.
func WithMaxFrameSize(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.maxFrameSize = n
	}
}

// WithMetrics records activity into m
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithListener makes a Server accept from l instead of creating its own
// pipe. The server takes ownership of l.
func WithListener(l net.Listener) Option {
	return func(o *options) {
		o.listener = l
	}
}

// WithDialTimeout bounds how long Client.Connect waits for the pipe
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = d
	}
}
