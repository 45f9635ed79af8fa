package ipc

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pipeguard/pipeguard/internal/logger"
)

// testPipe returns a pipe name that no other test uses
func testPipe(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		return "pipeguard-test-" + uuid.NewString()
	}
	// t.TempDir embeds the test name, which can overflow sun_path
	dir, err := os.MkdirTemp("", "pg")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "ipc.sock")
}

// fakeResolver reports a fixed peer pid and executable path
type fakeResolver struct {
	pid     int
	pidErr  error
	path    string
	pathErr error
	calls   atomic.Int32
}

func (r *fakeResolver) PeerPID(net.Conn) (int, error) {
	r.calls.Add(1)
	return r.pid, r.pidErr
}

func (r *fakeResolver) ExecutablePath(int) (string, error) {
	return r.path, r.pathErr
}

// selfResolver pretends every peer is this very executable
func selfResolver(t *testing.T) *fakeResolver {
	t.Helper()
	self, err := currentExecutable()
	require.NoError(t, err)
	return &fakeResolver{pid: 4242, path: self}
}

var errBoom = errors.New("boom")

// startServer runs srv.Serve in the background and stops it at test end
func startServer(t *testing.T, srv *Server, h Handler) {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(context.Background(), h)
	}()
	require.Eventually(t, func() bool {
		return srv.State() == StateListening
	}, 2*time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		require.NoError(t, srv.Close())
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after Close")
		}
		srv.Wait()
	})
}

func newTestServer(t *testing.T, pipe string, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithLogger(logger.NewNop())}, opts...)
	srv, err := NewServer(pipe, opts...)
	require.NoError(t, err)
	return srv
}

func newTestClient(t *testing.T, pipe string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(logger.NewNop()), WithDialTimeout(2 * time.Second)}, opts...)
	c, err := NewClient(pipe, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// echoHandler answers "ping" with "pong" and echoes anything else
var echoHandler = HandlerFunc(func(ctx context.Context, conn *Connection) error {
	for {
		msg, err := conn.ReceiveString()
		if err != nil {
			return nil
		}
		reply := msg
		if msg == "ping" {
			reply = "pong"
		}
		if err := conn.SendString(reply); err != nil {
			return err
		}
	}
})
