package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nbng/pkg/config"
	"nbng/pkg/observability"
)

var (
	// Global flags
	cfgFile  string
	logLevel string

	// Shared state set during PersistentPreRun
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd is the base command for nbng-ctl.
var rootCmd = &cobra.Command{
	Use:   "nbng-ctl",
	Short: "Talk to pair, pub/sub, req/rep, pipeline, survey and bus sockets",
	Long: `nbng-ctl opens a single scalability-protocol socket and either performs
one request/reply round trip, prints the messages it receives, or answers
requests on a bound endpoint.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		// Keep stdout for command output.
		cfg.Log.Outputs = []string{"stderr"}
		logger, err = observability.SetupLogger(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to setup logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./nbng.yaml, ./configs, ~/.nbng)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level: debug, info, warn, error")
	rootCmd.AddCommand(sendCmd, listenCmd, serveCmd, configCmd, protocolsCmd)
}
