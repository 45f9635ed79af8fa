package ipc

import (
	"strings"

	"github.com/pipeguard/pipeguard/pkg/types"
)

// PipeName identifies a rendezvous point. It is always in normalized form:
// the platform namespace is prepended to short logical names, so two names
// refer to the same pipe exactly when their strings are equal.
type PipeName string

// NewPipeName normalizes name into a PipeName
func NewPipeName(name string) (PipeName, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", types.NewError(types.ErrCodeInvalidArgument, "pipe name cannot be empty")
	}
	return PipeName(normalizePipeName(name)), nil
}

// String returns the normalized pipe path
func (p PipeName) String() string {
	return string(p)
}
