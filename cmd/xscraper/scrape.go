package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"xscraper/internal/dispatch"
	"xscraper/pkg/auth"
	"xscraper/pkg/checkpoint"
	"xscraper/pkg/config"
	"xscraper/pkg/identity"
	"xscraper/pkg/ratelimit"
	"xscraper/pkg/scraper"
	"xscraper/pkg/ui"
)

var (
	// Scrape command flags
	targetPerKeyword int
	failureBudget    int
	noProxy          bool
	workers          int
	outputPath       string
	runnerName       string
	headless         bool
	resumeRun        bool
	forceRestart     bool
	strictExitCodes  bool
)

// scrapeCmd represents the scrape command
var scrapeCmd = &cobra.Command{
	Use:   "scrape [keywords...]",
	Short: "Collect posts for each keyword",
	Long: `Collect up to target-per-keyword unique posts for every keyword.

Keywords given on the command line replace the configured list. Identities
come from the configuration; secrets that are not in the config file are read
from the credential store ('xscraper auth login') or from
XSCRAPER_SECRET_<HANDLE>.

Results are written once, at the end of the run, as a JSON object that maps
each keyword to its posts. A keyword that runs out of identities or failure
budget keeps whatever it collected and the run moves on.`,
	Example: `  # Scrape the configured keywords
  xscraper scrape

  # Scrape two keywords, 50 posts each, without proxies
  xscraper scrape golang "rust lang" --target 50 --no-proxy

  # Try the pipeline without a browser
  xscraper scrape golang --runner mock

  # Resume an interrupted run
  xscraper scrape --resume

  # Exit with status 3 when some keyword fell short
  xscraper scrape --exit-codes`,
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)
	bindScrapeFlags(scrapeCmd)

	// scrape is also the default command
	bindScrapeFlags(rootCmd)
	rootCmd.Args = cobra.ArbitraryArgs
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 && isKnownCommand(args[0]) {
			return cmd.Help()
		}
		return runScrape(cmd, args)
	}
}

func bindScrapeFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&targetPerKeyword, "target", 0, "posts to collect per keyword")
	cmd.Flags().IntVar(&failureBudget, "budget", 0, "failed attempts a keyword tolerates before it is abandoned")
	cmd.Flags().BoolVar(&noProxy, "no-proxy", false, "connect directly instead of rotating proxies")
	cmd.Flags().IntVar(&workers, "workers", 0, "keywords processed in parallel (each worker gets its own identities)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output JSON file")
	cmd.Flags().StringVar(&runnerName, "runner", "", "session runner (browser, mock)")
	cmd.Flags().BoolVar(&headless, "headless", true, "run the browser without a window")
	cmd.Flags().BoolVar(&resumeRun, "resume", false, "resume from the last checkpoint")
	cmd.Flags().BoolVar(&forceRestart, "force-restart", false, "discard an existing checkpoint")
	cmd.Flags().BoolVar(&strictExitCodes, "exit-codes", false, "exit with status 3 when not every keyword was satisfied")
}

func isKnownCommand(arg string) bool {
	for _, cmd := range rootCmd.Commands() {
		if cmd.Name() == arg || cmd.HasAlias(arg) {
			return true
		}
	}
	return false
}

// scrapeFlags collects the flags the user actually set
func scrapeFlags(cmd *cobra.Command, args []string) map[string]interface{} {
	flags := globalFlags()

	var keywords []string
	for _, arg := range args {
		if kw := strings.TrimSpace(arg); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	if len(keywords) > 0 {
		flags["keywords"] = keywords
	}

	changed := cmd.Flags().Changed
	if changed("target") {
		flags["target"] = targetPerKeyword
	}
	if changed("budget") {
		flags["budget"] = failureBudget
	}
	if changed("no-proxy") {
		flags["no-proxy"] = noProxy
	}
	if changed("workers") {
		flags["workers"] = workers
	}
	if changed("output") {
		flags["output"] = outputPath
	}
	if changed("runner") {
		flags["runner"] = runnerName
	}
	if changed("headless") {
		flags["headless"] = headless
	}
	return flags
}

func runScrape(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, scrapeFlags(cmd, args))
	if err != nil {
		return err
	}

	log, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	log.WithField("version", version).Info("xscraper starting")

	if !quiet {
		ui.PrintBanner()
	}

	if cfg.Session.Runner != config.RunnerMock {
		creds, err := auth.NewManager()
		if err != nil {
			log.WithError(err).Warn("credential store unavailable")
		} else if missing := creds.Resolve(cfg.Identities); len(missing) > 0 {
			log.WithField("identities", missing).Debug("identities without a stored secret")
		}
	}
	if err := checkSecrets(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ring, err := newRing(cfg)
	if err != nil {
		return err
	}

	store, closeStore, err := newStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}
	defer closeStore()

	requests := buildRequests(cfg.Keywords, cfg.TargetPerKeyword)
	runID := uuid.NewString()

	var (
		cpMgr *checkpoint.Manager
		cp    *checkpoint.Checkpoint
		done  []scraper.KeywordResult
	)
	pending := requests
	if cfg.Checkpoint.Enabled {
		cpMgr, err = checkpoint.NewManager(cfg.Checkpoint.Dir, cfg.Output.Path, log)
		if err != nil {
			return fmt.Errorf("failed to open checkpoint: %w", err)
		}
		if forceRestart {
			if err := cpMgr.Delete(); err != nil {
				return err
			}
		}
		if resumeRun {
			cp, err = cpMgr.Load()
			if err != nil {
				return fmt.Errorf("failed to load checkpoint: %w", err)
			}
			if cp == nil {
				ui.PrintWarning("No checkpoint found, starting a new run")
			} else {
				runID = cp.RunID
				pending, done = cp.Resume(requests)
				ui.PrintInfo("Resuming run", fmt.Sprintf("%s (%d of %d keywords done)", runID, len(done), len(requests)))
			}
		} else if cpMgr.Exists() && !forceRestart {
			ui.PrintWarning("A checkpoint for this output exists; use --resume to continue it. Starting a new run")
		}
		if cp == nil {
			if cp, err = cpMgr.Create(runID, cfg.Output.Path); err != nil {
				return fmt.Errorf("failed to create checkpoint: %w", err)
			}
		}
	}

	proxies := newProxyPool(cfg, log)
	if cfg.UseProxyRotation && len(pending) > 0 {
		prepareProxies(ctx, proxies, cfg, log)
	}

	runner := newRunner(cfg, log)
	pacer := ratelimit.NewPacer(cfg.PaceDelay.Min, cfg.PaceDelay.Max, cfg.Session.SessionsPerMinute)
	opts := driverOptions(cfg)

	lanes := dispatch.Split(ring, cfg.Workers, func(worker int, share *identity.Ring) dispatch.Extractor {
		return scraper.NewDriver(share, proxies, runner, pacer, opts, log.WithField("worker", worker))
	})
	pool, err := dispatch.NewWorkerPool(lanes, log)
	if err != nil {
		return err
	}

	tracker := ui.NewStatusTracker(len(requests))
	for _, kr := range done {
		tracker.Observe(kr)
	}
	pool.OnKeyword = func(res scraper.KeywordResult) {
		tracker.Observe(res)
		if cp != nil {
			if err := cpMgr.Record(cp, res); err != nil {
				log.WithError(err).Warn("failed to update checkpoint")
			}
		}
	}

	ui.PrintInfo("Keywords", fmt.Sprintf("%d (%d pending)", len(requests), len(pending)))
	ui.PrintInfo("Identities", fmt.Sprintf("%d across %d worker(s)", ring.Len(), pool.Size()))
	ui.PrintHighlight("[COLLECTING]")

	runReport := pool.Run(ctx, runID, pending)
	report := mergeResults(requests, done, runReport)

	if ctx.Err() != nil {
		ui.PrintWarning("Interrupted, saving what was collected")
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.Save(saveCtx, report.ResultSet()); err != nil {
		log.WithError(err).Error("failed to save results")
		return fmt.Errorf("failed to save results: %w", err)
	}
	log.WithFields(map[string]interface{}{
		"output":  cfg.Output.Path,
		"records": report.Total(),
	}).Info("results saved")

	if cpMgr != nil && report.Complete() {
		if err := cpMgr.Delete(); err != nil {
			log.WithError(err).Warn("failed to remove checkpoint")
		}
	}

	ui.PrintSummary(report)
	ui.PrintSuccess("Results written to " + cfg.Output.Path)

	exitStatus = runExitStatus(report, strictExitCodes)
	return nil
}
