package ipc

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"unicode/utf8"

	"github.com/pipeguard/pipeguard/pkg/types"
)

// Channel sends and receives discrete messages over one transport. It owns
// the transport exclusively. Calls must come from one goroutine at a time;
// frames are written and read strictly in call order.
type Channel struct {
	conn         net.Conn
	r            *bufio.Reader
	w            *bufio.Writer
	cipher       *Cipher
	maxFrameSize int
	metrics      *Metrics

	closeOnce sync.Once
	closeErr  error
}

// NewChannel wraps conn. A nil cipher sends plaintext frames. maxFrameSize
// bounds frames in both directions; 0 means unbounded.
func NewChannel(conn net.Conn, cipher *Cipher, maxFrameSize int) *Channel {
	return newChannel(conn, cipher, maxFrameSize, nil)
}

func newChannel(conn net.Conn, cipher *Cipher, maxFrameSize int, metrics *Metrics) *Channel {
	return &Channel{
		conn:         conn,
		r:            bufio.NewReader(conn),
		w:            bufio.NewWriter(conn),
		cipher:       cipher,
		maxFrameSize: maxFrameSize,
		metrics:      metrics,
	}
}

// Encrypted reports whether payloads are sealed
func (c *Channel) Encrypted() bool {
	return c.cipher != nil
}

// Conn returns the underlying transport
func (c *Channel) Conn() net.Conn {
	return c.conn
}

// SendBytes sends data as one message
func (c *Channel) SendBytes(data []byte) error {
	payload := data
	if c.cipher != nil {
		sealed, err := c.cipher.Encrypt(data)
		if err != nil {
			return err
		}
		payload = sealed
	}
	if err := WriteFrame(c.w, payload, c.maxFrameSize); err != nil {
		return err
	}
	c.metrics.sent(len(payload))
	return nil
}

// ReceiveBytes blocks until the next message arrives
func (c *Channel) ReceiveBytes() ([]byte, error) {
	payload, err := ReadFrame(c.r, c.maxFrameSize)
	if err != nil {
		if types.IsErrCode(err, types.ErrCodeData) {
			c.metrics.dataError()
		}
		return nil, err
	}
	c.metrics.received(len(payload))

	if c.cipher == nil {
		return payload, nil
	}
	plaintext, err := c.cipher.Decrypt(payload)
	if err != nil {
		c.metrics.dataError()
		return nil, err
	}
	return plaintext, nil
}

// SendString sends s as a UTF-8 message
func (c *Channel) SendString(s string) error {
	return c.SendBytes([]byte(s))
}

// ReceiveString receives a message and checks that it is valid UTF-8
func (c *Channel) ReceiveString() (string, error) {
	data, err := c.ReceiveBytes()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		c.metrics.dataError()
		return "", types.NewError(types.ErrCodeData, "invalid UTF-8 string")
	}
	return string(data), nil
}

// SendJSON sends v encoded as JSON
func (c *Channel) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return types.WrapError(types.ErrCodeData, "JSON serialization failed", err)
	}
	return c.SendString(string(data))
}

// ReceiveJSON receives a message and decodes it into v
func (c *Channel) ReceiveJSON(v any) error {
	s, err := c.ReceiveString()
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		c.metrics.dataError()
		return types.WrapError(types.ErrCodeData, "JSON deserialization failed", err)
	}
	return nil
}

// Close releases the transport. It is safe to call more than once; a
// blocked ReceiveBytes returns with an I/O error.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
