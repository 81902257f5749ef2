package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/heapkit/heap/printer"
	"github.com/joshuapare/heapkit/internal/config"
	"github.com/joshuapare/heapkit/internal/logger"
)

var (
	// Global flags
	verbose    bool
	quiet      bool
	jsonOut    bool
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "heapctl",
	Short: "Exercise and inspect a region-based heap",
	Long: `heapctl drives the heapkit memory subsystem outside of a runtime. It can
simulate concurrent mutators against a toy collector, compute reclamation sets
from liveness fixtures and validate configuration files.`,
	Version: "0.1.0",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
	SilenceUsage: true,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().
		StringVar(&logLevel, "log-level", "", "Log to stderr at this level (debug, info, warn, error)")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig returns the file named by --config, or the defaults.
func loadConfig() (config.File, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	printVerbose("Loading config: %s\n", configPath)
	return config.Load(configPath)
}

// setupLogging enables the logger from --log-level, falling back to the log
// section of the config file.
func setupLogging() error {
	if logLevel != "" {
		level, err := logger.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		return logger.Init(logger.Options{Enabled: true, Level: level})
	}
	if configPath == "" {
		return nil
	}
	f, err := config.Load(configPath)
	if err != nil {
		return err
	}
	opts, err := f.LoggerOptions()
	if err != nil {
		return err
	}
	return logger.Init(opts)
}

// newPrinter returns a printer writing to stdout in the format chosen by --json.
func newPrinter() *printer.Printer {
	opts := printer.DefaultOptions()
	if jsonOut {
		opts.Format = printer.FormatJSON
	}
	opts.ExactBytes = verbose
	return printer.New(os.Stdout, opts)
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
