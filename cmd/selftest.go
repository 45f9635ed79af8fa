package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pipeguard/pipeguard/pkg/ipc"
	"github.com/pipeguard/pipeguard/pkg/types"
)

const (
	expectAccept = "accept"
	expectReject = "reject"

	selftestMessage = "Hello from verified client!"
)

var selftestExpect string

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Demonstrate same-executable enforcement end to end",
	Long: `Start a server that only accepts clients running this executable, then
run this binary as a client (which must be accepted) and a copy of it at a
different path (which must be rejected).`,
	Args: cobra.NoArgs,
	RunE: runSelftest,
}

// selftestClientCmd is the child half of selftest
var selftestClientCmd = &cobra.Command{
	Use:    "selftest-client",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runSelftestClient,
}

func init() {
	selftestClientCmd.Flags().StringVar(&selftestExpect, "expect", expectAccept,
		"Expected outcome: accept or reject")
}

func runSelftest(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	self, err := os.Executable()
	if err != nil {
		return types.WrapError(types.ErrCodeInternal, "failed to resolve own executable", err)
	}
	pipe := "pipeguard-selftest-" + uuid.NewString()

	opts, err := ipcOptions(ipc.WithIdentityEnforcement(true))
	if err != nil {
		return err
	}
	srv, err := ipc.NewServer(pipe, opts...)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()

	g.Go(func() error {
		return srv.Serve(serveCtx, ipc.HandlerFunc(func(ctx context.Context, conn *ipc.Connection) error {
			fmt.Fprintf(out, "   [SERVER] Client connected (ID: %d, PID: %d) - path verified\n", conn.ID(), conn.PeerPID())
			msg, err := conn.ReceiveString()
			if err != nil {
				return err
			}
			return conn.SendString("Path-verified echo: " + msg)
		}))
	})

	g.Go(func() error {
		defer stopServe()
		if err := waitListening(ctx, srv); err != nil {
			return err
		}

		fmt.Fprintln(out, "1. Same executable, expecting the connection to succeed")
		if err := runChild(ctx, out, self, pipe, expectAccept); err != nil {
			return fmt.Errorf("same-path client: %w", err)
		}
		fmt.Fprintln(out, "   SUCCESS: same-path client was accepted")

		fmt.Fprintln(out, "2. Copied executable, expecting the connection to be refused")
		dir, err := os.MkdirTemp("", "pipeguard-selftest")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		copied := filepath.Join(dir, filepath.Base(self))
		if err := copyFile(self, copied); err != nil {
			return types.WrapError(types.ErrCodeIO, "failed to copy executable", err)
		}
		if err := runChild(ctx, out, copied, pipe, expectReject); err != nil {
			return fmt.Errorf("different-path client: %w", err)
		}
		fmt.Fprintln(out, "   SUCCESS: different-path client was refused")
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	srv.Wait()
	fmt.Fprintln(out, "Selftest passed")
	return nil
}

func waitListening(ctx context.Context, srv *ipc.Server) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(5 * time.Second)
	for srv.State() != ipc.StateListening {
		select {
		case <-ticker.C:
		case <-deadline:
			return types.NewError(types.ErrCodeUnavailable, "server did not start listening")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// runChild runs exe as a selftest client. The child exits 0 when the
// outcome matched expect.
func runChild(ctx context.Context, out io.Writer, exe, pipe, expect string) error {
	childArgs := []string{"selftest-client", "--pipe", pipe, "--expect", expect}
	if cfgFile != "" {
		childArgs = append(childArgs, "--config", cfgFile)
	}
	if keyHex != "" {
		childArgs = append(childArgs, "--key", keyHex)
	}
	if passphrase != "" {
		childArgs = append(childArgs, "--passphrase", passphrase)
	}
	if encrypt {
		childArgs = append(childArgs, "--encrypt")
	}
	if logLevel != "" {
		childArgs = append(childArgs, "--log-level", logLevel)
	}

	child := exec.CommandContext(ctx, exe, childArgs...)
	child.Stdout = out
	child.Stderr = os.Stderr
	if err := child.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("child exited with code %d", exitErr.ExitCode())
		}
		return types.WrapError(types.ErrCodeInternal, "failed to run child process", err)
	}
	return nil
}

func runSelftestClient(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	opts, err := ipcOptions(ipc.WithIdentityEnforcement(true))
	if err != nil {
		return err
	}
	client, err := ipc.NewClient(cfg.Pipe.Name, opts...)
	if err != nil {
		return err
	}
	defer client.Close()

	err = exchange(cmd.Context(), out, client)
	switch selftestExpect {
	case expectAccept:
		if err != nil {
			return fmt.Errorf("expected to be accepted: %w", err)
		}
		return nil
	case expectReject:
		if err == nil {
			return errors.New("expected to be refused but the exchange succeeded")
		}
		if !types.IsErrCode(err, types.ErrCodePermissionDenied) {
			return fmt.Errorf("expected a permission error: %w", err)
		}
		fmt.Fprintf(out, "   [CLIENT] Refused as expected: %v\n", err)
		return nil
	default:
		return fmt.Errorf("unknown expectation %q", selftestExpect)
	}
}

func exchange(ctx context.Context, out io.Writer, client *ipc.Client) error {
	if err := client.Connect(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "   [CLIENT] Connected, server PID %d verified\n", client.ServerPID())

	if err := client.SendString(selftestMessage); err != nil {
		return err
	}
	reply, err := client.ReceiveString()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "   [CLIENT] Received: %q\n", reply)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
