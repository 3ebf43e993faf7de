package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"xscraper/pkg/auth"
	"xscraper/pkg/config"
	"xscraper/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage xscraper configuration files.

Configuration is merged from, in order of priority:
  - Command line flags
  - Environment variables (XSCRAPER_*, .env is loaded too)
  - Configuration file
  - Default values`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with the common options.

The file is written to .xscraper.yaml in the current directory unless a
different path is given with --config.`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Show the configuration after merging every source. Secrets are masked.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

const exampleConfig = `# xscraper configuration
#
# Environment variables prefixed with XSCRAPER_ override these values,
# for example XSCRAPER_KEYWORDS="golang,rust" or XSCRAPER_OUTPUT=out.json.

# Login identities, used round-robin. Leave secret out to read it from the
# credential store ('xscraper auth login <handle>') or XSCRAPER_SECRET_<HANDLE>.
identities:
  - handle: "first_account"
  - handle: "second_account"

# Search keywords, processed in this order
keywords:
  - "golang"
  - "kubernetes"

target_per_keyword: 100

# Failed sessions a keyword tolerates before it is abandoned
failure_budget_per_keyword: 10

# Consecutive sessions without a new post before a keyword is abandoned (0 disables)
stall_limit_per_keyword: 5

# Random pause between sessions
pace_delay:
  min: 5s
  max: 15s

# Keywords processed in parallel; identities are split between workers
workers: 1

identity:
  cooldown: 1m
  max_cooldown: 15m
  multiplier: 2.0
  disable_after: 0

use_proxy_rotation: true
proxy:
  fetch_timeout: 15s
  fetch_attempts: 2
  validate: false
  validate_url: "http://example.com"
  evict_after: 3

session:
  runner: "browser"
  headless: true
  open_timeout: 90s
  search_timeout: 60s
  sessions_per_minute: 0

output:
  path: "twitter_scrape_results.json"
  # mongo_uri: "mongodb://localhost:27017"
  mongo_database: "xscraper"
  mongo_collection: "posts"

checkpoint:
  enabled: true

logging:
  level: "info"
  format: "console"
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = ".xscraper.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(ui.Out, "To overwrite, first remove the existing file:\n  rm %s\n\n", path)
		return fmt.Errorf("configuration file already exists: %s", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(exampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + path)
	fmt.Fprintln(ui.Out, "\nNext steps:")
	fmt.Fprintln(ui.Out, "1. Edit the identities and keywords")
	fmt.Fprintln(ui.Out, "2. Store each identity's secret with 'xscraper auth login <handle>'")
	fmt.Fprintln(ui.Out, "3. Check the file with 'xscraper config validate'")
	fmt.Fprintln(ui.Out, "4. Start collecting with 'xscraper scrape'")
	return nil
}

// redacted returns a copy of cfg that is safe to print
func redacted(cfg *config.Config) config.Config {
	out := *cfg
	out.Identities = make([]config.IdentityConfig, len(cfg.Identities))
	for i, id := range cfg.Identities {
		out.Identities[i] = id
		if id.Secret != "" {
			out.Identities[i].Secret = auth.Mask(id.Secret)
		}
	}
	if out.Output.MongoURI != "" {
		out.Output.MongoURI = auth.Mask(out.Output.MongoURI)
	}
	return out
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadUnvalidated()
	if err != nil {
		return err
	}

	display := redacted(cfg)
	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, string(data))

	fmt.Fprintln(ui.Out, "\nConfiguration sources (in order of priority):")
	fmt.Fprintln(ui.Out, "1. Command line flags")
	fmt.Fprintln(ui.Out, "2. Environment variables (XSCRAPER_*)")
	if configFile != "" {
		fmt.Fprintf(ui.Out, "3. Configuration file: %s\n", configFile)
	} else {
		fmt.Fprintln(ui.Out, "3. Configuration file: (discovered or none)")
	}
	fmt.Fprintln(ui.Out, "4. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, globalFlags())
	if err != nil {
		return err
	}

	var warnings []string
	if cfg.Session.Runner != config.RunnerMock {
		if creds, err := auth.NewManager(); err == nil {
			creds.Resolve(cfg.Identities)
		}
		for _, handle := range cfg.MissingSecrets() {
			warnings = append(warnings, fmt.Sprintf("identity %q has no secret (set %s or run 'xscraper auth login %s')", handle, auth.EnvVar(handle), handle))
		}
	}
	if cfg.UseProxyRotation && !cfg.Proxy.Validate {
		warnings = append(warnings, "proxy rotation is on without validation; dead proxies are only found by failing sessions")
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			warnings = append(warnings, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:")
		for _, w := range warnings {
			fmt.Fprintf(ui.Out, "  - %s\n", w)
		}
		fmt.Fprintln(ui.Out)
	}

	ui.PrintSuccess("Configuration is valid")

	fmt.Fprintln(ui.Out, "\nConfiguration summary:")
	fmt.Fprintf(ui.Out, "  Identities: %d\n", len(cfg.Identities))
	fmt.Fprintf(ui.Out, "  Keywords: %d\n", len(cfg.Keywords))
	fmt.Fprintf(ui.Out, "  Target per keyword: %d\n", cfg.TargetPerKeyword)
	fmt.Fprintf(ui.Out, "  Failure budget: %d\n", cfg.FailureBudgetPerKeyword)
	fmt.Fprintf(ui.Out, "  Proxy rotation: %t\n", cfg.UseProxyRotation)
	fmt.Fprintf(ui.Out, "  Workers: %d\n", cfg.Workers)
	fmt.Fprintf(ui.Out, "  Output: %s\n", cfg.Output.Path)
	fmt.Fprintf(ui.Out, "  Log level: %s\n", cfg.Logging.Level)
	return nil
}
