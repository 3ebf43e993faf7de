package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"xscraper/pkg/proxy"
	"xscraper/pkg/ui"
)

var (
	validateProxies bool
	listProxies     bool
)

var proxiesCmd = &cobra.Command{
	Use:   "proxies",
	Short: "Fetch the proxy lists and report on them",
	Long: `Fetch every configured proxy source into a fresh pool and print how many
addresses were found. With --validate each address is checked through
validate_url first.`,
	Example: `  xscraper proxies
  xscraper proxies --validate --list`,
	Args: cobra.NoArgs,
	RunE: runProxies,
}

func init() {
	rootCmd.AddCommand(proxiesCmd)
	proxiesCmd.Flags().BoolVar(&validateProxies, "validate", false, "check every proxy")
	proxiesCmd.Flags().BoolVar(&listProxies, "list", false, "print every address")
}

func runProxies(cmd *cobra.Command, args []string) error {
	cfg, err := loadUnvalidated()
	if err != nil {
		return err
	}
	log, err := setupLogging(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := newProxyPool(cfg, log)
	n, err := pool.Refresh(ctx)
	if err != nil {
		return err
	}
	ui.PrintInfo("Fetched", fmt.Sprintf("%d proxies from %d source(s)", n, len(cfg.Proxy.Sources)))

	stats := pool.Stats()
	if validateProxies || cfg.Proxy.Validate {
		ui.PrintHighlight("[VALIDATING]")
		if stats, err = pool.Validate(ctx); err != nil {
			ui.PrintWarning("Validation interrupted", err)
		}
	}

	printProxyStats(stats)
	if listProxies {
		printProxyList(pool.Snapshot())
	}
	return nil
}

func printProxyStats(s proxy.Stats) {
	fmt.Fprintln(ui.Out)
	ui.PrintInfo("Total", fmt.Sprint(s.Total))
	ui.PrintInfo("Untested", fmt.Sprint(s.Untested))
	ui.PrintInfo("Healthy", ui.Green(fmt.Sprint(s.Healthy)))
	ui.PrintInfo("Dead", ui.Red(fmt.Sprint(s.Dead)))
	ui.PrintInfo("Evicted", fmt.Sprint(s.Evicted))
}

func printProxyList(addrs []proxy.Address) {
	fmt.Fprintln(ui.Out)
	w := tabwriter.NewWriter(ui.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tHEALTH\tFAILURES")
	for _, a := range addrs {
		fmt.Fprintf(w, "%s\t%s\t%d\n", a.String(), a.Health, a.Failures)
	}
	w.Flush()
}
