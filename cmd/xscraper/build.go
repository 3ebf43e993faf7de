package main

import (
	"context"
	"time"

	"xscraper/pkg/browser"
	"xscraper/pkg/config"
	errs "xscraper/pkg/errors"
	"xscraper/pkg/identity"
	"xscraper/pkg/logger"
	"xscraper/pkg/proxy"
	"xscraper/pkg/retry"
	"xscraper/pkg/scraper"
	"xscraper/pkg/session"
	"xscraper/pkg/storage"
)

// scrollRounds is how often a results page is scrolled per session
const scrollRounds = 3

func newRing(cfg *config.Config) (*identity.Ring, error) {
	ids := make([]identity.Identity, len(cfg.Identities))
	for i, ic := range cfg.Identities {
		ids[i] = identity.Identity{Handle: ic.Handle, Secret: ic.Secret}
	}
	return identity.NewRing(ids, identity.Policy{
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:  cfg.Identity.Cooldown,
			MaxDelay:   cfg.Identity.MaxCooldown,
			Multiplier: cfg.Identity.Multiplier,
		},
		DisableAfter: cfg.Identity.DisableAfter,
	})
}

func newProxyPool(cfg *config.Config, log logger.Logger) *proxy.Pool {
	return proxy.NewPool(proxy.Options{
		Sources:             cfg.Proxy.Sources,
		FetchTimeout:        cfg.Proxy.FetchTimeout,
		FetchAttempts:       cfg.Proxy.FetchAttempts,
		ValidateURL:         cfg.Proxy.ValidateURL,
		ValidateTimeout:     cfg.Proxy.ValidateTimeout,
		ValidateConcurrency: cfg.Proxy.ValidateConcurrency,
		EvictAfter:          cfg.Proxy.EvictAfter,
	}, log)
}

// prepareProxies fills the pool. An empty pool is not fatal: sessions then connect directly.
func prepareProxies(ctx context.Context, pool *proxy.Pool, cfg *config.Config, log logger.Logger) {
	n, err := pool.Refresh(ctx)
	if err != nil {
		log.WithError(err).Warn("no proxies available, connecting directly")
		return
	}
	log.WithField("proxies", n).Info("proxy pool ready")

	if cfg.Proxy.Validate {
		stats, err := pool.Validate(ctx)
		if err != nil {
			log.WithError(err).Warn("proxy validation interrupted")
			return
		}
		if stats.Healthy == 0 {
			log.Warn("no proxy passed validation")
		}
	}
}

func newRunner(cfg *config.Config, log logger.Logger) session.Runner {
	if cfg.Session.Runner == config.RunnerMock {
		return session.NewMockRunner()
	}
	return browser.NewRunner(browser.Options{
		Headless:     cfg.Session.Headless,
		Bin:          cfg.Session.BrowserBin,
		LoginURL:     cfg.Session.LoginURL,
		SearchURL:    cfg.Session.SearchURL,
		UserAgent:    cfg.Session.UserAgent,
		ScrollRounds: scrollRounds,
	}, log)
}

func driverOptions(cfg *config.Config) scraper.Options {
	return scraper.Options{
		TargetPerKeyword: cfg.TargetPerKeyword,
		FailureBudget:    cfg.FailureBudgetPerKeyword,
		StallLimit:       cfg.StallLimitPerKeyword,
		UseProxy:         cfg.UseProxyRotation,
		OpenTimeout:      cfg.Session.OpenTimeout,
		SearchTimeout:    cfg.Session.SearchTimeout,
	}
}

// newStore opens the file store and, when configured, the MongoDB sink.
// The returned close function releases the sink.
func newStore(ctx context.Context, cfg *config.Config, log logger.Logger) (storage.Store, func(), error) {
	file, err := storage.NewFileStore(cfg.Output.Path)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Output.MongoURI == "" {
		return file, func() {}, nil
	}

	sink, err := storage.NewMongoSink(ctx, cfg.Output.MongoURI, cfg.Output.MongoDatabase, cfg.Output.MongoCollection, log)
	if err != nil {
		return nil, nil, err
	}
	closeSink := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sink.Close(ctx); err != nil {
			log.WithError(err).Warn("failed to disconnect from MongoDB")
		}
	}
	return storage.MultiStore{file, sink}, closeSink, nil
}

func buildRequests(keywords []string, target int) []scraper.Request {
	requests := make([]scraper.Request, len(keywords))
	for i, kw := range keywords {
		requests[i] = scraper.Request{Keyword: kw, Target: target}
	}
	return requests
}

// mergeResults combines keywords finished by an earlier run with the ones just
// run, in the order they were requested
func mergeResults(requests []scraper.Request, done []scraper.KeywordResult, run *scraper.Report) *scraper.Report {
	byKeyword := make(map[string]scraper.KeywordResult, len(requests))
	for _, kr := range done {
		byKeyword[kr.Keyword] = kr
	}
	for _, kr := range run.Keywords {
		byKeyword[kr.Keyword] = kr
	}

	merged := &scraper.Report{
		RunID:      run.RunID,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
	for _, req := range requests {
		if kr, ok := byKeyword[req.Keyword]; ok {
			merged.Keywords = append(merged.Keywords, kr)
		}
	}
	return merged
}

// checkSecrets fails when a browser run has identities without a secret
func checkSecrets(cfg *config.Config) error {
	if cfg.Session.Runner == config.RunnerMock {
		return nil
	}
	if missing := cfg.MissingSecrets(); len(missing) > 0 {
		return errs.Config("no secret for identities %v; run 'xscraper auth login <handle>' or set %s", missing, "XSCRAPER_SECRET_<HANDLE>")
	}
	return nil
}

// runExitStatus is the exit status of a run that completed
func runExitStatus(report *scraper.Report, strict bool) int {
	if strict && !report.Complete() {
		return exitPartial
	}
	return exitOK
}
