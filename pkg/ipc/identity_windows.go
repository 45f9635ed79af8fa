//go:build windows

package ipc

import (
	"fmt"
	"net"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/pipeguard/pipeguard/pkg/types"
)

const (
	pipeServerEnd = 0x00000001
	maxImagePath  = 32768
)

var (
	modkernel32                     = windows.NewLazySystemDLL("kernel32.dll")
	procGetNamedPipeClientProcessId = modkernel32.NewProc("GetNamedPipeClientProcessId")
	procGetNamedPipeServerProcessId = modkernel32.NewProc("GetNamedPipeServerProcessId")
)

// platformResolver asks the pipe for the process on its other end and the
// process for its image name
type platformResolver struct{}

type fdConn interface {
	Fd() uintptr
}

func (platformResolver) PeerPID(conn net.Conn) (int, error) {
	fc, ok := conn.(fdConn)
	if !ok {
		return 0, types.NewError(types.ErrCodeUnsupported,
			fmt.Sprintf("connection type %T does not expose a pipe handle", conn))
	}
	h := windows.Handle(fc.Fd())

	var flags uint32
	if err := windows.GetNamedPipeInfo(h, &flags, nil, nil, nil); err != nil {
		return 0, types.WrapError(types.ErrCodeIO, "failed to query pipe end", err)
	}

	// The server end asks for its client and vice versa
	proc := procGetNamedPipeServerProcessId
	if flags&pipeServerEnd != 0 {
		proc = procGetNamedPipeClientProcessId
	}

	var pid uint32
	r1, _, e1 := proc.Call(uintptr(h), uintptr(unsafe.Pointer(&pid)))
	if r1 == 0 {
		return 0, types.WrapError(types.ErrCodeIO, "failed to get peer process id", e1)
	}
	return int(pid), nil
}

func (platformResolver) ExecutablePath(pid int) (string, error) {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return "", types.WrapError(types.ErrCodePermissionDenied, "cannot open process", err)
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, maxImagePath)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return "", types.WrapError(types.ErrCodeIO, "failed to query process image name", err)
	}
	return windows.UTF16ToString(buf[:size]), nil
}
