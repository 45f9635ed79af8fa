//go:build !windows

package ipc

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
	"path/filepath"
)

func listenPipe(name PipeName) (net.Listener, error) {
	path := name.String()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	// Remove a stale socket file left behind by a crashed server
	if info, err := os.Lstat(path); err == nil {
		if info.Mode()&fs.ModeSocket == 0 {
			return nil, &fs.PathError{Op: "listen", Path: path, Err: errors.New("exists and is not a socket")}
		}
		if err := os.Remove(path); err != nil {
			return nil, err
		}
	}

	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, err
	}
	l.SetUnlinkOnClose(true)
	return l, nil
}

func dialPipe(ctx context.Context, name PipeName) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", name.String())
}

// removePipeFile deletes the socket file if the listener left it behind
func removePipeFile(name PipeName) error {
	if err := os.Remove(name.String()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
