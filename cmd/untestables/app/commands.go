// Package app holds the untestables CLI commands.
package app

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"untestables/config"
	"untestables/utils"
)

// Set at build time with -ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "untestables",
	Short: "GitHub star range scan orchestrator",
	Long: `untestables finds repositories without tests by scanning GitHub star
ranges. It tracks which star counts have been processed, computes the
remaining gaps and drives an external scanner process over them.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// NewRootCmd assembles the root command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(orchestrateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(gapsCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("untestables %s (commit %s, built %s, %s)\n",
			version, commit, buildDate, runtime.Version())
	},
}

// loadConfig reads the configuration and applies the global logging setup.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	return cfg, nil
}

func componentLogger(component string) utils.Logger {
	return utils.NewComponentLogger(component)
}
