//go:build !windows

package ipc

import (
	"os"
	"path/filepath"
	"strings"
)

const socketSuffix = ".sock"

// PipeNamespace returns the directory holding sockets created from logical
// names. Absolute paths bypass it.
func PipeNamespace() string {
	return filepath.Join(os.TempDir(), "pipeguard")
}

func normalizePipeName(name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	if !strings.HasSuffix(name, socketSuffix) {
		name += socketSuffix
	}
	return filepath.Join(PipeNamespace(), filepath.Base(name))
}
