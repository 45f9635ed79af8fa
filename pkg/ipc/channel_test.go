package ipc

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeguard/pipeguard/pkg/types"
)

// channelPair returns two channels joined by an in-memory duplex pipe
func channelPair(t *testing.T, a, b *Cipher) (*Channel, *Channel) {
	t.Helper()
	left, right := net.Pipe()
	ca := NewChannel(left, a, DefaultMaxFrameSize)
	cb := NewChannel(right, b, DefaultMaxFrameSize)
	t.Cleanup(func() {
		ca.Close()
		cb.Close()
	})
	return ca, cb
}

// sendAsync performs send on its own goroutine; net.Pipe writes block until read
func sendAsync(send func() error) <-chan error {
	done := make(chan error, 1)
	go func() { done <- send() }()
	return done
}

func TestChannelBytes(t *testing.T) {
	for _, encrypted := range []bool{false, true} {
		var c *Cipher
		if encrypted {
			c = NewDefaultCipher()
		}
		a, b := channelPair(t, c, c)
		assert.Equal(t, encrypted, a.Encrypted())

		for _, msg := range [][]byte{{}, []byte("hello"), bytes.Repeat([]byte{0}, 70000)} {
			done := sendAsync(func() error { return a.SendBytes(msg) })
			got, err := b.ReceiveBytes()
			require.NoError(t, err)
			require.NoError(t, <-done)
			assert.True(t, bytes.Equal(msg, got))
		}
	}
}

func TestChannelStringAndJSON(t *testing.T) {
	a, b := channelPair(t, NewDefaultCipher(), NewDefaultCipher())

	done := sendAsync(func() error { return a.SendString("héllo") })
	s, err := b.ReceiveString()
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, "héllo", s)

	type request struct {
		Op   string `json:"op"`
		Args []int  `json:"args"`
	}
	done = sendAsync(func() error { return b.SendJSON(request{Op: "sum", Args: []int{1, 2}}) })
	var got request
	require.NoError(t, a.ReceiveJSON(&got))
	require.NoError(t, <-done)
	assert.Equal(t, request{Op: "sum", Args: []int{1, 2}}, got)
}

func TestChannelRejectsInvalidUTF8(t *testing.T) {
	a, b := channelPair(t, nil, nil)
	done := sendAsync(func() error { return a.SendBytes([]byte{0xff, 0xfe}) })
	_, err := b.ReceiveString()
	require.NoError(t, <-done)
	require.Error(t, err)
	assert.True(t, types.IsErrCode(err, types.ErrCodeData))
}

func TestChannelRejectsMalformedJSON(t *testing.T) {
	a, b := channelPair(t, nil, nil)
	done := sendAsync(func() error { return a.SendString("{not json") })
	var v map[string]any
	err := b.ReceiveJSON(&v)
	require.NoError(t, <-done)
	require.Error(t, err)
	assert.True(t, types.IsErrCode(err, types.ErrCodeData))

	err = a.SendJSON(func() {})
	require.Error(t, err)
	assert.True(t, types.IsErrCode(err, types.ErrCodeData))
}

func TestChannelWireBytes(t *testing.T) {
	tests := []struct {
		name      string
		cipher    *Cipher
		plaintext bool
	}{
		{"unencrypted frames carry the message", nil, true},
		{"encrypted frames hide the message", NewDefaultCipher(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			left, right := net.Pipe()
			defer left.Close()
			defer right.Close()
			ch := NewChannel(left, tt.cipher, 0)

			done := sendAsync(func() error { return ch.SendString("ping") })
			wire, err := ReadFrame(right, 0)
			require.NoError(t, err)
			require.NoError(t, <-done)

			assert.Equal(t, tt.plaintext, bytes.Equal(wire, []byte("ping")))
			if !tt.plaintext {
				assert.Equal(t, NonceSize+len("ping")+TagSize, len(wire))
				assert.False(t, bytes.Contains(wire, []byte("ping")))
			}
		})
	}
}

func TestChannelCorruptNonce(t *testing.T) {
	c := NewDefaultCipher()
	left, right := net.Pipe()
	sender := NewChannel(left, c, 0)
	defer sender.Close()

	done := sendAsync(func() error { return sender.SendString("pong") })
	captured, err := ReadFrame(right, 0)
	require.NoError(t, err)
	require.NoError(t, <-done)

	captured[0] ^= 0x01

	// Replay the corrupted frame into a fresh receiving channel
	replayL, replayR := net.Pipe()
	receiver := NewChannel(replayR, c, 0)
	defer receiver.Close()
	go func() {
		WriteFrame(replayL, captured, 0)
		replayL.Close()
	}()

	got, err := receiver.ReceiveBytes()
	require.Error(t, err)
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, ErrDecryptFailed))
	right.Close()
}

func TestChannelEncryptionMismatch(t *testing.T) {
	a, b := channelPair(t, nil, NewDefaultCipher())
	done := sendAsync(func() error { return a.SendString("plaintext sender") })
	_, err := b.ReceiveString()
	require.NoError(t, <-done)
	require.Error(t, err)
	assert.True(t, types.IsErrCode(err, types.ErrCodeData))
}

func TestChannelOversizeFrame(t *testing.T) {
	left, right := net.Pipe()
	small := NewChannel(right, nil, 8)
	defer small.Close()
	big := NewChannel(left, nil, 0)
	defer big.Close()

	go big.SendBytes(make([]byte, 64))
	_, err := small.ReceiveBytes()
	require.Error(t, err)
	assert.True(t, types.IsErrCode(err, types.ErrCodeData))

	err = small.SendBytes(make([]byte, 9))
	assert.True(t, types.IsErrCode(err, types.ErrCodeData))
}

func TestChannelClose(t *testing.T) {
	a, b := channelPair(t, nil, nil)

	received := make(chan error, 1)
	go func() {
		_, err := b.ReceiveBytes()
		received <- err
	}()

	require.NoError(t, a.Close())
	require.NoError(t, a.Close(), "Close must be idempotent")

	err := <-received
	require.Error(t, err)
	assert.True(t, types.IsErrCode(err, types.ErrCodeIO))
	assert.True(t, errors.Is(err, io.EOF))
}

func TestChannelMetrics(t *testing.T) {
	m := NewMetrics(nil)
	left, right := net.Pipe()
	a := newChannel(left, NewDefaultCipher(), 0, m)
	b := newChannel(right, NewDefaultCipher(), 0, m)
	defer a.Close()
	defer b.Close()

	done := sendAsync(func() error { return a.SendString("count me") })
	_, err := b.ReceiveString()
	require.NoError(t, err)
	require.NoError(t, <-done)

	wireLen := float64(NonceSize + len("count me") + TagSize)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesReceived))
	assert.Equal(t, wireLen, testutil.ToFloat64(m.bytesSent))
	assert.Equal(t, wireLen, testutil.ToFloat64(m.bytesReceived))
	assert.Zero(t, testutil.ToFloat64(m.dataErrors))
}
