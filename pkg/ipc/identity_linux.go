//go:build linux

package ipc

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/pipeguard/pipeguard/pkg/types"
)

// platformResolver reads peer credentials from the kernel (SO_PEERCRED)
// and executable paths from procfs
type platformResolver struct{}

func (platformResolver) PeerPID(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, types.NewError(types.ErrCodeUnsupported,
			fmt.Sprintf("connection type %T does not expose a socket", conn))
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, types.WrapError(types.ErrCodeIO, "failed to access socket", err)
	}

	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return 0, types.WrapError(types.ErrCodeIO, "failed to access socket", err)
	}
	if credErr != nil {
		return 0, types.WrapError(types.ErrCodeIO, "failed to read peer credentials", credErr)
	}
	if cred.Pid <= 0 {
		return 0, types.NewError(types.ErrCodePermissionDenied, "peer process id unavailable")
	}
	return int(cred.Pid), nil
}

func (platformResolver) ExecutablePath(pid int) (string, error) {
	path, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
			return "", types.WrapError(types.ErrCodePermissionDenied, "cannot open process", err)
		}
		return "", types.WrapError(types.ErrCodeIO, "failed to query process image name", err)
	}
	return path, nil
}
