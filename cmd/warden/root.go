package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/example/warden/config"
)

const defaultConfigPath = "/etc/warden/config.yaml"

var (
	version = "0.1.0"

	cfgPath string
	debug   bool

	rootCmd = &cobra.Command{
		Use:   "warden",
		Short: "Workload lifecycle reconciliation engine",
		Long: `Warden - Workload Lifecycle Reconciliation Engine

Warden keeps a workload record store and an infrastructure platform in
agreement. It adopts pre-existing resources under management, tears
workloads down along provenance-aware paths, rescues records stuck in
transitional states, and sweeps away records whose resources vanished
behind its back.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(setupLogging)

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file (default "+defaultConfigPath+" when present)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.SetVersionTemplate(`Warden {{.Version}} - Workload Lifecycle Reconciliation Engine
`)
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// loadConfig reads --config if given, else the default path if it
// exists, else runs on built-in defaults
func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadConfig(cfgPath)
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return config.LoadConfig(defaultConfigPath)
	}
	cfg := config.Default()
	return &cfg, nil
}
