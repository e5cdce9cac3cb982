// Package cmd is the engine's command-line surface: a thin cobra binding
// over internal/backup, internal/restore and internal/repo, in the shape
// of the teacher's cmd/root.go (PersistentPreRunE does logger/config
// init, subcommands are grouped, Execute() is main.main()'s sole call).
package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pig/internal/output"
	"pig/internal/telemetry"
)

var (
	logLevel   string
	logPath    string
	configFile string
	stanza     string
)

var rootCmd = &cobra.Command{
	Use:   "pgbackrest",
	Short: "Reliable PostgreSQL backup and restore",
	Long:  "pgbackrest - parallel, incremental, encrypted PostgreSQL backup and restore",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return telemetry.Init(logLevel, logPath)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logPath, "log-path", "", "log file path, terminal by default")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "engine config file (pgbackrest.conf format)")
	rootCmd.PersistentFlags().StringVar(&stanza, "stanza", "", "stanza name (required)")

	rootCmd.AddCommand(backupCmd, restoreCmd, infoCmd, stanzaInfoCmd)
}

// Execute is main.main()'s sole call into this package.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("command failed")
		os.Exit(output.ProcessExitCode(err))
	}
}
