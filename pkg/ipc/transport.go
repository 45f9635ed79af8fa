package ipc

import (
	"context"
	"net"

	"github.com/pipeguard/pipeguard/pkg/types"
)

// Listen creates the server end of the pipe called name
func Listen(name PipeName) (net.Listener, error) {
	l, err := listenPipe(name)
	if err != nil {
		return nil, types.WrapError(types.ErrCodeIO, "failed to listen on "+name.String(), err)
	}
	return l, nil
}

// Dial connects to the pipe called name
func Dial(ctx context.Context, name PipeName) (net.Conn, error) {
	conn, err := dialPipe(ctx, name)
	if err != nil {
		return nil, types.WrapError(types.ErrCodeUnavailable, "failed to connect to "+name.String(), err)
	}
	return conn, nil
}
