//go:build windows

package ipc

import (
	"context"
	"net"

	"github.com/Microsoft/go-winio"
)

func listenPipe(name PipeName) (net.Listener, error) {
	return winio.ListenPipe(name.String(), &winio.PipeConfig{
		// Byte mode: framing is ours, not the pipe's
		MessageMode:      false,
		InputBufferSize:  65536,
		OutputBufferSize: 65536,
	})
}

func dialPipe(ctx context.Context, name PipeName) (net.Conn, error) {
	return winio.DialPipeContext(ctx, name.String())
}

// removePipeFile is a no-op: named pipes vanish with their last handle
func removePipeFile(PipeName) error {
	return nil
}
