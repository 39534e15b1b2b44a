package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	logLevel   string // Log verbosity level
	configPath string // Path to the YAML policy bundle
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "inference-scheduler",
	Short: "Accelerator scheduler and A/B experimentation controller for model serving",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		logrus.SetLevel(level)
		return nil
	},
	SilenceUsage: true,
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up persistent flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML policy config (allocation, health, rebalance, experiments, discovery, controller, trace, accelerators)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(inventoryCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(simulateCmd)
}
