//go:build !linux && !windows

package ipc

import (
	"net"
	"runtime"

	"github.com/pipeguard/pipeguard/pkg/types"
)

// platformResolver has no way to identify peers here, so every lookup
// fails and path enforcement rejects all peers
type platformResolver struct{}

func (platformResolver) PeerPID(net.Conn) (int, error) {
	return 0, types.NewError(types.ErrCodeUnsupported, "peer process lookup is not supported on "+runtime.GOOS)
}

func (platformResolver) ExecutablePath(int) (string, error) {
	return "", types.NewError(types.ErrCodeUnsupported, "process image lookup is not supported on "+runtime.GOOS)
}
