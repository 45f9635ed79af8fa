//go:build windows

package ipc

import "strings"

const pipePrefix = `\\.\pipe\`

// PipeNamespace returns the prefix of every local named pipe path
func PipeNamespace() string {
	return pipePrefix
}

func normalizePipeName(name string) string {
	if strings.HasPrefix(name, pipePrefix) {
		return name
	}
	return pipePrefix + name
}
