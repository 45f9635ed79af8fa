package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/pipeguard/pipeguard/internal/config"
	"github.com/pipeguard/pipeguard/internal/logger"
	"github.com/pipeguard/pipeguard/internal/shutdown"
	"github.com/pipeguard/pipeguard/pkg/ipc"
)

const (
	modeText = "text"
	modeJSON = "json"
)

var (
	metricsAddr     string
	serveMode       string
	shutdownTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an echo server",
	Long: `Run an echo server on the configured pipe until interrupted.

In text mode "ping" is answered with "pong" and any other message is echoed
back prefixed with the connection id. In json mode requests are envelopes
{"id","type","payload"} routed to the "ping", "echo" and "stats" handlers.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address (implies metrics enabled)")
	serveCmd.Flags().StringVar(&serveMode, "mode", modeText,
		"Protocol: text or json")
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", shutdown.DefaultTimeout,
		"How long to wait for open connections on shutdown")
}

func runServe(cmd *cobra.Command, args []string) error {
	handler, err := serveHandler(serveMode)
	if err != nil {
		return err
	}

	var extra []ipc.Option
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		extra = append(extra, ipc.WithMetrics(ipc.NewMetrics(reg)))

		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	opts, err := ipcOptions(extra...)
	if err != nil {
		return err
	}
	srv, err := ipc.NewServer(cfg.Pipe.Name, opts...)
	if err != nil {
		return err
	}

	sm := shutdown.New(srv, shutdownTimeout, rootLog)
	if metricsServer != nil {
		go func() {
			rootLog.Info("Metrics server listening", "address", metricsServer.Addr, "path", cfg.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rootLog.Error("Metrics server failed", "error", err)
			}
		}()
		sm.AddPostHook(metricsServer.Shutdown)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sm.AddPreHook(func(context.Context) error {
		cancel()
		return nil
	})
	sm.Start()
	defer sm.Stop()

	reloader := config.NewReloader(cfgFile, flagOverrides(), cfg, rootLog.Slog())
	reloader.AddCallback(applyLogLevel)
	reloader.Start()
	defer reloader.Stop()

	rootLog.Info("Pipeguard server starting",
		"version", Version,
		"pipe", srv.Name().String(),
		"mode", serveMode)

	if err := srv.Serve(ctx, handler); err != nil {
		return err
	}

	// Serve also returns when the parent context ends without a signal
	if sm.State() == shutdown.StateRunning {
		return sm.Shutdown(context.Background(), "server stopped")
	}
	return sm.Wait(context.Background())
}

// applyLogLevel is the only setting a running server picks up on reload;
// the pipe, key and identity policy are fixed for the life of the listener
func applyLogLevel(ctx context.Context, c *config.Config) error {
	level, err := logger.ParseLevel(c.Logging.Level)
	if err != nil {
		return err
	}
	if level != rootLog.GetLevel() {
		rootLog.Info("Log level changed", "from", rootLog.GetLevel().String(), "to", level.String())
		rootLog.SetLevel(level)
	}
	return nil
}

func serveHandler(mode string) (ipc.Handler, error) {
	switch mode {
	case modeText:
		return ipc.HandlerFunc(textEcho), nil
	case modeJSON:
		router, err := newJSONRouter()
		if err != nil {
			return nil, err
		}
		return router, nil
	default:
		return nil, fmt.Errorf("unknown mode %q (must be %s or %s)", mode, modeText, modeJSON)
	}
}

// textEcho answers "ping" with "pong" and echoes anything else prefixed
// with the connection id
func textEcho(ctx context.Context, conn *ipc.Connection) error {
	log := rootLog.With("conn_id", conn.ID())
	log.Info("Client connected", "peer_pid", conn.PeerPID(), "verified", conn.Verified())

	for {
		msg, err := conn.ReceiveString()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Info("Client disconnected")
				return nil
			}
			return err
		}
		log.Debug("Message received", "message", msg)

		reply := fmt.Sprintf("[%d] %s", conn.ID(), msg)
		if msg == "ping" {
			reply = "pong"
		}
		if err := conn.SendString(reply); err != nil {
			return err
		}
	}
}

func newJSONRouter() (*ipc.Router, error) {
	router := ipc.NewRouter(0, rootLog)
	handlers := map[string]ipc.MessageHandlerFunc{
		"ping": func(ctx context.Context, conn *ipc.Connection, msg *ipc.Message) (any, error) {
			return map[string]string{"reply": "pong"}, nil
		},
		"echo": func(ctx context.Context, conn *ipc.Connection, msg *ipc.Message) (any, error) {
			return json.RawMessage(msg.Payload), nil
		},
		"stats": func(ctx context.Context, conn *ipc.Connection, msg *ipc.Message) (any, error) {
			return map[string]any{
				"conn_id": conn.ID(),
				"router":  router.Stats(),
			}, nil
		},
	}
	for msgType, h := range handlers {
		if err := router.RegisterHandler(msgType, h); err != nil {
			return nil, fmt.Errorf("failed to register %s handler: %w", msgType, err)
		}
	}
	return router, nil
}
