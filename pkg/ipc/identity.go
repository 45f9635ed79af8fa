package ipc

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/pipeguard/pipeguard/pkg/types"
)

// Resolver answers identity questions about the process on the other end
// of a connection. Implementations are platform specific.
type Resolver interface {
	// PeerPID returns the process id attached to the far end of conn
	PeerPID(conn net.Conn) (int, error)
	// ExecutablePath returns the full image path of process pid
	ExecutablePath(pid int) (string, error)
}

// NewResolver returns the Resolver for the current platform
func NewResolver() Resolver {
	return platformResolver{}
}

// PathVerifier checks that a peer runs the same executable as this process
type PathVerifier struct {
	resolver Resolver
	selfPath string
}

// NewPathVerifier resolves the current executable once. Failing to do so
// is a configuration problem of the host environment and is returned here
// rather than surfacing later as a per-connection rejection.
func NewPathVerifier(resolver Resolver) (*PathVerifier, error) {
	if resolver == nil {
		resolver = NewResolver()
	}
	self, err := currentExecutable()
	if err != nil {
		return nil, types.WrapError(types.ErrCodeInternal, "failed to resolve own executable path", err)
	}
	return &PathVerifier{resolver: resolver, selfPath: self}, nil
}

// SelfPath returns the resolved path of the current executable
func (v *PathVerifier) SelfPath() string {
	return v.selfPath
}

// Verify resolves the peer of conn and compares its executable path with
// our own. It returns the peer pid on success. Any resolution failure is a
// rejection.
func (v *PathVerifier) Verify(conn net.Conn) (int, error) {
	pid, err := v.resolver.PeerPID(conn)
	if err != nil {
		return 0, types.WrapError(types.ErrCodePermissionDenied, "failed to resolve peer process", err)
	}
	if err := v.VerifyPID(pid); err != nil {
		return pid, err
	}
	return pid, nil
}

// VerifyPID compares the executable path of pid with our own
func (v *PathVerifier) VerifyPID(pid int) error {
	peerPath, err := v.resolver.ExecutablePath(pid)
	if err != nil {
		return types.WrapError(types.ErrCodePermissionDenied,
			fmt.Sprintf("failed to resolve executable of process %d", pid), err)
	}
	if !samePath(peerPath, v.selfPath) {
		return types.NewError(types.ErrCodePermissionDenied,
			fmt.Sprintf("process %d executable %q does not match %q", pid, peerPath, v.selfPath))
	}
	return nil
}

// samePath compares case-insensitively, as image paths on Windows are
func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(filepath.Clean(a), filepath.Clean(b))
}

func currentExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(exe)
}
