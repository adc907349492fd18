package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kblocks/internal/api"
	"kblocks/internal/app"
	"kblocks/internal/config"
	"kblocks/pkg/logging"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error.
	ExitCodeError = 1
	// ExitCodeConfig indicates the configuration could not be loaded or is invalid.
	ExitCodeConfig = 2
	// ExitCodeRoute indicates an event could not be enqueued; the caller should retry.
	ExitCodeRoute = 3
	// ExitCodeProtocol indicates malformed input.
	ExitCodeProtocol = 4
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

// rootCmd represents the base command for the kblocks runtime.
var rootCmd = &cobra.Command{
	Use:   "kblocks",
	Short: "Run reconciliation loops for declarative custom resources",
	Long: `kblocks turns a custom resource definition into a working reconciliation loop.

Change notifications are routed to partitions by namespace and name, drained by
workers that resolve cross-resource references, call the configured engine and
patch the resource status, while a control channel lets an external control
plane apply, patch, delete, refresh and read resources out of band.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logging.Init(level, logging.Format(logFormat), os.Stderr)
		return nil
	},
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command with a context cancelled on SIGINT or SIGTERM.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "kblocks version %s\n" .Version}}`)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	switch {
	case err == nil:
		return ExitCodeSuccess
	case config.IsConfigurationError(err), config.IsValidationError(err):
		return ExitCodeConfig
	case api.IsPartitionRouteError(err):
		return ExitCodeRoute
	case api.IsProtocolError(err):
		return ExitCodeProtocol
	default:
		return ExitCodeError
	}
}

// loadConfig loads and validates the configuration named by --config-path.
func loadConfig() (*app.Config, error) {
	path := configPath
	if path == "" {
		path = config.GetDefaultConfigPathOrPanic()
	}
	return app.LoadConfig(path)
}

// initServices loads the configuration and wires the components for mode.
func initServices(cmd *cobra.Command, mode app.Mode) (*app.Services, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s, err := app.InitializeServices(cmd.Context(), cfg.Runtime, app.Options{Mode: mode})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return s, nil
}

// closeServices releases s, logging rather than returning failures.
func closeServices(s *app.Services) {
	if err := s.Close(); err != nil && !errors.Is(err, context.Canceled) {
		logging.Warn("CLI", "Shutdown: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", "", "Configuration directory (default ~/.config/kblocks)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", string(logging.FormatText), "Log format: text or json")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newWorkerCmd())
	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newControlCmd())
	rootCmd.AddCommand(newRouteCmd())
	rootCmd.AddCommand(newQueueCmd())
}
