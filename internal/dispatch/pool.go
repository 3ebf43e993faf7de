// Package dispatch spreads keywords over several extraction drivers. Each
// driver owns a disjoint slice of the identity ring, so no identity is ever
// used by two sessions at once.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"xscraper/pkg/identity"
	"xscraper/pkg/logger"
	"xscraper/pkg/post"
	"xscraper/pkg/scraper"
)

// Extractor runs one keyword to completion. *scraper.Driver implements it.
type Extractor interface {
	Extract(ctx context.Context, req scraper.Request) scraper.KeywordResult
}

type job struct {
	index int
	req   scraper.Request
}

// WorkerPool runs one worker per extractor and merges the results in request order
type WorkerPool struct {
	workers []Extractor
	log     logger.Logger

	// OnKeyword is called as each keyword finishes, in completion order. Calls are serialized.
	OnKeyword func(scraper.KeywordResult)
	// Now is the clock; replaced in tests
	Now func() time.Time
}

// NewWorkerPool creates a pool over the given extractors
func NewWorkerPool(workers []Extractor, log logger.Logger) (*WorkerPool, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("worker pool needs at least one extractor")
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &WorkerPool{
		workers: workers,
		log:     log.WithField("component", "dispatch"),
		Now:     time.Now,
	}, nil
}

// Split deals the ring's identities over at most n workers and builds an
// extractor for each share
func Split(ring *identity.Ring, n int, build func(worker int, share *identity.Ring) Extractor) []Extractor {
	shares := ring.Split(n)
	out := make([]Extractor, len(shares))
	for i, share := range shares {
		out[i] = build(i, share)
	}
	return out
}

// Size returns the number of workers
func (wp *WorkerPool) Size() int {
	return len(wp.workers)
}

// Run extracts every request and returns the report with keywords in request
// order. An empty runID gets a fresh one. After cancellation, keywords not yet
// started are reported as cancelled with their seed records.
func (wp *WorkerPool) Run(ctx context.Context, runID string, requests []scraper.Request) *scraper.Report {
	if runID == "" {
		runID = uuid.NewString()
	}
	report := &scraper.Report{RunID: runID, StartedAt: wp.Now()}
	results := make([]scraper.KeywordResult, len(requests))

	wp.log.InfoWithFields("starting worker pool", map[string]interface{}{
		"run_id":   runID,
		"workers":  len(wp.workers),
		"keywords": len(requests),
	})

	queue := make(chan job, len(requests))
	for i, req := range requests {
		queue <- job{index: i, req: req}
	}
	close(queue)

	var mu sync.Mutex
	var g errgroup.Group
	for id, w := range wp.workers {
		id, w := id, w
		g.Go(func() error {
			for j := range queue {
				var res scraper.KeywordResult
				if ctx.Err() != nil {
					res = cancelled(j.req)
				} else {
					wp.log.DebugWithFields("worker picked keyword", map[string]interface{}{
						"worker_id": id,
						"keyword":   j.req.Keyword,
					})
					res = w.Extract(ctx, j.req)
				}

				mu.Lock()
				results[j.index] = res
				if wp.OnKeyword != nil {
					wp.OnKeyword(res)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	// workers never fail; outcomes are carried in the results
	_ = g.Wait()

	report.Keywords = results
	report.FinishedAt = wp.Now()
	wp.log.InfoWithFields("worker pool finished", map[string]interface{}{
		"run_id":    runID,
		"satisfied": report.Count(scraper.Satisfied),
		"aborted":   report.Count(scraper.Aborted),
		"records":   report.Total(),
	})
	return report
}

func cancelled(req scraper.Request) scraper.KeywordResult {
	set := post.NewSet(req.Keyword, max(req.Target, len(req.Seed)), req.Seed...)
	return scraper.KeywordResult{
		Keyword: req.Keyword,
		Target:  req.Target,
		Outcome: scraper.Aborted,
		Reason:  scraper.ReasonCancelled,
		Records: set.Records(),
	}
}
