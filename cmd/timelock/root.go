package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "timelock",
	Short: "TimeLock - per-app usage quotas, schedules and date blocks",
	Long: `TimeLock tracks foreground app usage against per-package quotas,
time-of-day schedules and calendar date blocks, and blocks restricted apps
with an overlay when any rule is active.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to daemon command when no subcommand is provided
		return runDaemon(cmd, args)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/timelock/config.yaml", "Path to configuration file")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
