package scraper

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	errs "xscraper/pkg/errors"
	"xscraper/pkg/identity"
	"xscraper/pkg/logger"
	"xscraper/pkg/post"
	"xscraper/pkg/proxy"
	"xscraper/pkg/ratelimit"
	"xscraper/pkg/session"
)

// Options tunes the extraction loop
type Options struct {
	TargetPerKeyword int
	// FailureBudget is how many failed attempts a keyword tolerates; one more aborts it
	FailureBudget int
	// StallLimit aborts a keyword after this many consecutive sessions that added nothing; 0 disables
	StallLimit    int
	UseProxy      bool
	OpenTimeout   time.Duration
	SearchTimeout time.Duration
}

// Driver runs the per-keyword extraction state machine
type Driver struct {
	ring    IdentitySource
	proxies ProxySource
	runner  session.Runner
	pacer   ratelimit.Limiter
	opts    Options
	log     logger.Logger

	// OnKeyword is called after each keyword finishes, in order
	OnKeyword func(KeywordResult)
	// Now is the clock; replaced in tests
	Now func() time.Time
}

// NewDriver wires a driver. proxies may be nil when proxy rotation is off.
func NewDriver(ring IdentitySource, proxies ProxySource, runner session.Runner, pacer ratelimit.Limiter, opts Options, log logger.Logger) *Driver {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if pacer == nil {
		pacer = ratelimit.NewPacer(0, 0, 0)
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 90 * time.Second
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = 60 * time.Second
	}
	return &Driver{
		ring:    ring,
		proxies: proxies,
		runner:  runner,
		pacer:   pacer,
		opts:    opts,
		log:     log.WithField("component", "driver"),
		Now:     time.Now,
	}
}

type phase int

const (
	phaseOpen phase = iota
	phaseSearch
)

func (p phase) String() string {
	if p == phaseOpen {
		return "open"
	}
	return "search"
}

// Run processes keywords in order and returns the report. Keywords reached
// after cancellation are reported as aborted with their seed records.
func (d *Driver) Run(ctx context.Context, requests []Request) *Report {
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: d.Now(),
	}

	for _, req := range requests {
		var res KeywordResult
		if ctx.Err() != nil {
			res = KeywordResult{
				Keyword: req.Keyword,
				Target:  d.target(req),
				Outcome: Aborted,
				Reason:  ReasonCancelled,
				Records: post.NewSet(req.Keyword, d.target(req), req.Seed...).Records(),
			}
		} else {
			res = d.Extract(ctx, req)
		}
		report.Keywords = append(report.Keywords, res)
		if d.OnKeyword != nil {
			d.OnKeyword(res)
		}
	}

	report.FinishedAt = d.Now()
	d.log.InfoWithFields("run finished", map[string]interface{}{
		"run_id":    report.RunID,
		"keywords":  len(report.Keywords),
		"satisfied": report.Count(Satisfied),
		"aborted":   report.Count(Aborted),
		"records":   report.Total(),
	})
	return report
}

func (d *Driver) target(req Request) int {
	if req.Target > 0 {
		return req.Target
	}
	return d.opts.TargetPerKeyword
}

// Extract collects posts for one keyword until the target is met or the keyword is abandoned
func (d *Driver) Extract(ctx context.Context, req Request) KeywordResult {
	started := d.Now()
	target := d.target(req)
	set := post.NewSet(req.Keyword, target, req.Seed...)
	res := KeywordResult{Keyword: req.Keyword, Target: target}
	log := d.log.WithField("keyword", req.Keyword)

	finish := func(outcome Outcome, reason Reason) KeywordResult {
		res.Outcome = outcome
		res.Reason = reason
		res.Records = set.Records()
		res.Duration = d.Now().Sub(started)

		fields := map[string]interface{}{
			"outcome":   string(outcome),
			"collected": set.Len(),
			"target":    target,
			"attempts":  res.Attempts,
			"failures":  res.Failures,
		}
		if reason != ReasonNone {
			fields["reason"] = string(reason)
			log.WarnWithFields("keyword aborted", fields)
		} else {
			log.InfoWithFields("keyword satisfied", fields)
		}
		return res
	}

	log.InfoWithFields("keyword started", map[string]interface{}{
		"target": target,
		"seeded": set.Len(),
	})

	stalled := 0
	for !set.Full() {
		if ctx.Err() != nil {
			return finish(Aborted, ReasonCancelled)
		}

		id, err := d.ring.Next()
		if err != nil {
			log.WithError(err).Warn("no identity available")
			return finish(Aborted, ReasonNoIdentity)
		}

		var via *proxy.Address
		if d.opts.UseProxy && d.proxies != nil {
			if addr, ok := d.proxies.Next(); ok {
				via = &addr
			}
		}

		if err := d.pacer.Reserve(ctx); err != nil {
			return finish(Aborted, ReasonCancelled)
		}

		res.Attempts++
		attemptLog := log.WithFields(map[string]interface{}{
			"attempt":  res.Attempts,
			"identity": id.Handle,
			"proxy":    proxyLabel(via),
		})

		fragments, ph, err := d.attempt(ctx, id, via, req.Keyword)
		if ctx.Err() != nil {
			return finish(Aborted, ReasonCancelled)
		}

		if err != nil {
			kind := errs.TypeOf(err)
			d.penalize(id, via, ph, kind, attemptLog)
			if errs.CountsAgainstBudget(kind) {
				res.Failures++
			} else {
				stalled++
			}
			attemptLog.WithError(err).WarnWithFields("attempt failed", map[string]interface{}{
				"phase":    ph.String(),
				"kind":     string(kind),
				"failures": res.Failures,
				"budget":   d.opts.FailureBudget,
			})
			if res.Failures > d.opts.FailureBudget {
				return finish(Aborted, ReasonFailureBudget)
			}
			if d.opts.StallLimit > 0 && stalled >= d.opts.StallLimit {
				return finish(Aborted, ReasonStalled)
			}
			if ph == phaseOpen {
				continue
			}
		} else {
			d.ring.ReportSuccess(id)

			candidates := make([]post.Record, 0, len(fragments))
			for i, frag := range fragments {
				rec, perr := post.Parse(frag, req.Keyword)
				if perr != nil {
					res.Skipped++
					attemptLog.DebugWithFields("fragment skipped", map[string]interface{}{
						"index":  i,
						"reason": perr.Error(),
					})
					continue
				}
				candidates = append(candidates, rec)
			}

			added, dups := set.Add(candidates...)
			res.Duplicates += dups
			attemptLog.InfoWithFields("attempt finished", map[string]interface{}{
				"fragments":  len(fragments),
				"added":      added,
				"duplicates": dups,
				"collected":  set.Len(),
				"target":     target,
			})

			if added == 0 {
				stalled++
			} else {
				stalled = 0
			}
			if !set.Full() && d.opts.StallLimit > 0 && stalled >= d.opts.StallLimit {
				return finish(Aborted, ReasonStalled)
			}
		}

		if set.Full() {
			break
		}
		if err := d.pacer.Pause(ctx); err != nil {
			return finish(Aborted, ReasonCancelled)
		}
	}

	return finish(Satisfied, ReasonNone)
}

// attempt opens a session, searches once and always closes the session
func (d *Driver) attempt(ctx context.Context, id identity.Identity, via *proxy.Address, keyword string) ([]session.RawFragment, phase, error) {
	openCtx, cancelOpen := context.WithTimeout(ctx, d.opts.OpenTimeout)
	sess, err := d.runner.Open(openCtx, id, via)
	cancelOpen()
	if err != nil {
		if sess != nil {
			sess.Close()
		}
		return nil, phaseOpen, classify(err, errs.ErrorTypeNetwork, "open session")
	}
	defer sess.Close()

	searchCtx, cancelSearch := context.WithTimeout(ctx, d.opts.SearchTimeout)
	defer cancelSearch()

	fragments, err := sess.Search(searchCtx, keyword)
	if err != nil {
		return nil, phaseSearch, classify(err, errs.ErrorTypeExtraction, "search")
	}
	return fragments, phaseSearch, nil
}

// penalize applies identity and proxy penalties for a failed attempt. A
// network failure after login blames the proxy, not the identity.
func (d *Driver) penalize(id identity.Identity, via *proxy.Address, ph phase, kind errs.ErrorType, log logger.Logger) {
	blameIdentity := errs.PenalizesIdentity(kind)
	if ph == phaseSearch && kind == errs.ErrorTypeNetwork {
		blameIdentity = false
	}

	if blameIdentity {
		until := d.ring.ReportFailure(id)
		if until.IsZero() {
			log.Warn("identity disabled")
		} else {
			log.DebugWithFields("identity cooling down", map[string]interface{}{
				"until": until.Format(time.RFC3339),
			})
		}
	} else {
		d.ring.ReportSuccess(id)
	}

	if via != nil && d.proxies != nil && errs.PenalizesProxy(kind) {
		d.proxies.MarkDead(*via)
		log.Debug("proxy marked dead")
	}
}

// classify gives unclassified errors a type. Deadline expiry is a network failure.
func classify(err error, fallback errs.ErrorType, msg string) error {
	var typed *errs.Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.ErrorTypeNetwork, err, msg+" timed out")
	}
	return errs.Wrap(fallback, err, msg)
}

func proxyLabel(via *proxy.Address) string {
	if via == nil {
		return "direct"
	}
	return via.Key()
}
