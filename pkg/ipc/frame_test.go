package ipc

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeguard/pipeguard/pkg/types"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", []byte{}},
		{"single byte", []byte{0x7f}},
		{"text", []byte("hello, pipe")},
		{"binary with zeros", []byte{0, 0, 0, 0, 1, 2, 3}},
		{"large", bytes.Repeat([]byte("x"), 1<<20)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteFrame(&buf, tt.payload, DefaultMaxFrameSize))
			assert.Equal(t, FrameHeaderSize+len(tt.payload), buf.Len())

			got, err := ReadFrame(&buf, DefaultMaxFrameSize)
			require.NoError(t, err)
			assert.Equal(t, len(tt.payload), len(got))
			assert.True(t, bytes.Equal(tt.payload, got))
			assert.Zero(t, buf.Len(), "frame must consume exactly its bytes")
		})
	}
}

func TestFrameHeaderIsLittleEndian(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, make([]byte, 0x0102), 0))
	assert.Equal(t, []byte{0x02, 0x01, 0x00, 0x00}, buf.Bytes()[:FrameHeaderSize])
}

func TestFramesKeepOrder(t *testing.T) {
	var buf bytes.Buffer
	for _, msg := range []string{"one", "", "three"} {
		require.NoError(t, WriteFrame(&buf, []byte(msg), 0))
	}
	for _, want := range []string{"one", "", "three"} {
		got, err := ReadFrame(&buf, 0)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

func TestWriteFrameFlushesBufferedWriter(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteFrame(w, []byte("abc"), 0))
	assert.Equal(t, 0, w.Buffered())
	assert.Equal(t, 7, buf.Len())
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("complete payload"), 0))
	truncated := buf.Bytes()[:buf.Len()-3]

	_, err := ReadFrame(bytes.NewReader(truncated), 0)
	require.Error(t, err)
	assert.True(t, types.IsErrCode(err, types.ErrCodeIO))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestReadFrameEmptyStream(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil), 0)
	require.Error(t, err)
	assert.True(t, types.IsErrCode(err, types.ErrCodeIO))
	assert.True(t, errors.Is(err, io.EOF))
}

func TestReadFrameRejectsOversizePrefix(t *testing.T) {
	// Declares 4 GiB - 1 but carries nothing; must fail before allocating
	r := bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff})
	_, err := ReadFrame(r, 1024)
	require.Error(t, err)
	assert.True(t, types.IsErrCode(err, types.ErrCodeData))
}

func TestWriteFrameRejectsOversizePayload(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, make([]byte, 1025), 1024)
	require.Error(t, err)
	assert.True(t, types.IsErrCode(err, types.ErrCodeData))
	assert.Zero(t, buf.Len(), "nothing may reach the wire")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestWriteFrameTransportError(t *testing.T) {
	err := WriteFrame(failingWriter{}, []byte("x"), 0)
	require.Error(t, err)
	assert.True(t, types.IsErrCode(err, types.ErrCodeIO))
	assert.True(t, errors.Is(err, io.ErrClosedPipe))
}
