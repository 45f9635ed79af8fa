package cmd

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pipeguard/pipeguard/pkg/ipc"
	"github.com/pipeguard/pipeguard/pkg/types"
)

var (
	benchClients  int
	benchMessages int
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run concurrent clients against a text mode server",
	Long: `Connect --clients clients concurrently to a running text mode server, send
--messages messages from each, and report throughput and the connection ids
the server assigned.`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().IntVar(&benchClients, "clients", 8, "Number of concurrent clients")
	benchCmd.Flags().IntVar(&benchMessages, "messages", 100, "Messages per client")
}

func runBench(cmd *cobra.Command, args []string) error {
	if benchClients <= 0 || benchMessages <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "--clients and --messages must be positive")
	}
	opts, err := ipcOptions()
	if err != nil {
		return err
	}

	var mu sync.Mutex
	ids := make([]uint64, 0, benchClients)

	start := time.Now()
	g, ctx := errgroup.WithContext(cmd.Context())
	for i := 0; i < benchClients; i++ {
		i := i
		g.Go(func() error {
			client, err := ipc.NewClient(cfg.Pipe.Name, opts...)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.Connect(ctx); err != nil {
				return err
			}

			var id uint64
			for n := 0; n < benchMessages; n++ {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				msg := fmt.Sprintf("client %d message %d", i, n)
				if err := client.SendString(msg); err != nil {
					return err
				}
				reply, err := client.ReceiveString()
				if err != nil {
					return err
				}
				if _, err := fmt.Sscanf(reply, "[%d]", &id); err != nil {
					return types.WrapError(types.ErrCodeData, "unexpected reply "+reply, err)
				}
			}

			mu.Lock()
			ids = append(ids, id)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	total := benchClients * benchMessages
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d clients, %d round trips in %s (%.0f msg/s)\n",
		benchClients, total, elapsed.Round(time.Millisecond), float64(total)/elapsed.Seconds())
	fmt.Fprintf(out, "connection ids: %v\n", ids)
	return nil
}
