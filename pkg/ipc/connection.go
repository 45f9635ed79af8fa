package ipc

import "time"

// Connection is the server-side handle to one accepted peer. The handler it
// is passed to owns it exclusively until the handler returns, at which point
// the server closes it.
type Connection struct {
	*Channel

	id         uint64
	verified   bool
	peerPID    int
	acceptedAt time.Time
}

// ID returns the server-unique connection id. Ids start at 1 and increase
// in accept order.
func (c *Connection) ID() uint64 {
	return c.id
}

// Verified reports whether the peer passed executable path verification
func (c *Connection) Verified() bool {
	return c.verified
}

// PeerPID returns the verified peer process id, or 0 when identity
// enforcement is off
func (c *Connection) PeerPID() int {
	return c.peerPID
}

// AcceptedAt returns when the connection was accepted
func (c *Connection) AcceptedAt() time.Time {
	return c.acceptedAt
}
