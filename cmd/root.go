package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pipeguard/pipeguard/internal/config"
	"github.com/pipeguard/pipeguard/internal/logger"
	"github.com/pipeguard/pipeguard/pkg/ipc"
)

var (
	// CLI flags
	cfgFile         string
	logLevel        string
	logFormat       string
	logOutput       string
	pipeName        string
	encrypt         bool
	keyHex          string
	passphrase      string
	enforceSamePath bool

	// Global variables
	rootLog *logger.Logger
	cfg     *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pipeguard",
	Short: "Pipeguard - authenticated local IPC over named pipes and Unix sockets",
	Long: `Pipeguard connects processes on one machine over a named pipe (Windows) or a
Unix domain socket (everywhere else). Messages are length-prefixed frames,
optionally sealed with ChaCha20-Poly1305, and either end can insist that its
peer runs the very same executable.`,
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rootLog != nil {
			rootLog.Close()
		}
	},
}

// setup loads configuration and initializes the global logger
func setup(cmd *cobra.Command, args []string) error {
	loaded, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg = loaded

	if err := initLogger(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	rootLog.Debug("Configuration loaded", "config", cfg.String())
	return nil
}

// loadConfig loads the configuration from file and environment, then
// applies CLI overrides
func loadConfig() (*config.Config, error) {
	c, err := config.LoadPath(cfgFile)
	if err != nil {
		return nil, err
	}

	// Apply CLI overrides (highest precedence)
	c.ApplyOverrides(flagOverrides())

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

func flagOverrides() config.OverrideOptions {
	return config.OverrideOptions{
		PipeName:        pipeName,
		Encrypt:         encrypt,
		Key:             keyHex,
		Passphrase:      passphrase,
		EnforceSamePath: enforceSamePath,
		LogLevel:        logLevel,
		LogFormat:       logFormat,
		LogOutput:       logOutput,
		MetricsAddress:  metricsAddr,
	}
}

// initLogger initializes the global logger
func initLogger(logCfg config.LoggingConfig) error {
	log, err := logger.New(logCfg)
	if err != nil {
		return err
	}
	rootLog = log
	logger.SetGlobal(log)
	return nil
}

// ipcOptions translates the loaded configuration into channel options
// shared by servers and clients
func ipcOptions(extra ...ipc.Option) ([]ipc.Option, error) {
	cipher, err := ipc.CipherFromConfig(cfg.Crypto)
	if err != nil {
		return nil, err
	}
	opts := []ipc.Option{
		ipc.WithLogger(rootLog),
		ipc.WithCipher(cipher),
		ipc.WithIdentityEnforcement(cfg.Identity.EnforceSamePath),
		ipc.WithMaxFrameSize(cfg.Pipe.FrameLimit()),
		ipc.WithDialTimeout(cfg.Pipe.DialTimeout),
	}
	return append(opts, extra...), nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if rootLog != nil {
			rootLog.Error("Command execution failed", "error", err)
		} else {
			fmt.Fprintln(os.Stderr, "Command execution failed:", err)
		}
		os.Exit(1)
	}
}

func init() {
	// Config file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Config file path (default: ~/.config/pipeguard/config.yaml if present)")

	// Logging flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error (default: from config or env)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format: json, text (default: from config or env)")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "",
		"Log output: stdout, stderr, or file path (default: from config or env)")

	// Channel flags
	rootCmd.PersistentFlags().StringVar(&pipeName, "pipe", "",
		"Pipe name or socket path (default: "+config.DefaultPipeName+")")
	rootCmd.PersistentFlags().BoolVar(&encrypt, "encrypt", false,
		"Encrypt messages; uses the built-in key unless --key or --passphrase is given")
	rootCmd.PersistentFlags().StringVar(&keyHex, "key", "",
		"Channel key as 64 hex characters (implies --encrypt)")
	rootCmd.PersistentFlags().StringVar(&passphrase, "passphrase", "",
		"Derive the channel key from a passphrase (implies --encrypt)")
	rootCmd.PersistentFlags().BoolVar(&enforceSamePath, "enforce-same-path", false,
		"Require the peer to run this very executable")

	rootCmd.AddCommand(serveCmd, sendCmd, selftestCmd, selftestClientCmd, benchCmd, versionCmd)
}
