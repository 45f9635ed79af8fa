package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/pipeguard/pipeguard/pkg/types"
)

const (
	// FrameHeaderSize is the size of the little-endian length prefix
	FrameHeaderSize = 4
	// DefaultMaxFrameSize bounds a single frame unless configured otherwise
	DefaultMaxFrameSize = 16 << 20
)

type flusher interface {
	Flush() error
}

// WriteFrame writes payload as one length-prefixed frame and flushes w when
// it buffers. maxSize bounds the payload length; 0 means unbounded.
func WriteFrame(w io.Writer, payload []byte, maxSize int) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return types.NewError(types.ErrCodeData, "payload exceeds 4 GiB frame limit")
	}
	if maxSize > 0 && len(payload) > maxSize {
		return types.NewError(types.ErrCodeData,
			fmt.Sprintf("payload of %d bytes exceeds max frame size %d", len(payload), maxSize))
	}

	var header [FrameHeaderSize]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return types.WrapError(types.ErrCodeIO, "failed to write frame header", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return types.WrapError(types.ErrCodeIO, "failed to write frame payload", err)
		}
	}
	if f, ok := w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return types.WrapError(types.ErrCodeIO, "failed to flush frame", err)
		}
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r. A declared length above
// maxSize is rejected before anything is allocated; 0 means unbounded.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, types.WrapError(types.ErrCodeIO, "failed to read frame header", err)
	}

	length := binary.LittleEndian.Uint32(header[:])
	if maxSize > 0 && uint64(length) > uint64(maxSize) {
		return nil, types.NewError(types.ErrCodeData,
			fmt.Sprintf("frame of %d bytes exceeds max frame size %d", length, maxSize))
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, types.WrapError(types.ErrCodeIO, "failed to read frame payload", err)
	}
	return payload, nil
}
