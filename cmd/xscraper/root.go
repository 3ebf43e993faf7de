package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"xscraper/pkg/config"
	errs "xscraper/pkg/errors"
	"xscraper/pkg/logger"
	"xscraper/pkg/ui"
)

const (
	exitOK      = 0
	exitFatal   = 1
	exitConfig  = 2
	exitPartial = 3
)

var (
	// Version information
	version   = "0.3.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	logFormat  string
	noColor    bool
	quiet      bool

	// exitStatus is set by commands that succeed but still want a non-zero exit
	exitStatus = exitOK
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "xscraper [keywords...]",
	Short: "Collect recent posts for a list of search keywords",
	Long: `xscraper logs into the site with a rotating set of identities, searches
each keyword and collects unique posts until a per-keyword target is met.

Features:
  - Round-robin identity rotation with cooldown after failures
  - Optional rotation through public HTTP proxies
  - Per-keyword failure budget so one bad keyword cannot stall a run
  - Checkpoints to resume an interrupted run
  - JSON output with an optional MongoDB sink`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.SetColor(false)
		}
		if quiet {
			logLevel = "error"
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitStatus)
}

// exitCode maps a command error to the process exit status
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errs.Is(err, errs.ErrorTypeConfig) {
		return exitConfig
	}
	return exitFatal
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.xscraper.yaml or ~/.config/xscraper/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (console, json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log errors")

	rootCmd.SetVersionTemplate(`xscraper {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// globalFlags returns the explicitly set global flags in the shape config.MergeCommandLineFlags expects
func globalFlags() map[string]interface{} {
	flags := make(map[string]interface{})
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	if logFormat != "" {
		flags["log-format"] = logFormat
	}
	return flags
}

// loadUnvalidated reads defaults, file and environment without validating, for
// commands that do not need a runnable configuration
func loadUnvalidated() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := cfg.LoadFromFile(configFile); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeConfig, err, "load config file")
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeConfig, err, "load environment")
	}
	cfg.MergeCommandLineFlags(globalFlags())
	return cfg, nil
}

// setupLogging initializes the global logger and returns it
func setupLogging(cfg *config.Config) (logger.Logger, error) {
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeConfig, err, "initialize logger")
	}
	return logger.GetLogger(), nil
}
