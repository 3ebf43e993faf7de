package proxy

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	errs "xscraper/pkg/errors"
	"xscraper/pkg/logger"
	"xscraper/pkg/retry"
)

// Options configures a Pool
type Options struct {
	Sources             []string
	FetchTimeout        time.Duration
	FetchAttempts       int
	ValidateURL         string
	ValidateTimeout     time.Duration
	ValidateConcurrency int
	// EvictAfter drops an address once it has been marked dead this many times; 0 keeps it forever
	EvictAfter int
}

// Stats summarises pool health
type Stats struct {
	Total    int `json:"total"`
	Untested int `json:"untested"`
	Healthy  int `json:"healthy"`
	Dead     int `json:"dead"`
	Evicted  int `json:"evicted"`
}

// Pool keeps a deduplicated set of proxies gathered from list sources
type Pool struct {
	opts   Options
	client *http.Client
	log    logger.Logger

	mu      sync.Mutex
	order   []string
	entries map[string]*Address
	evicted map[string]bool
	rnd     *rand.Rand

	// Now is the clock; replaced in tests
	Now func() time.Time
}

// NewPool creates an empty pool
func NewPool(opts Options, log logger.Logger) *Pool {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 15 * time.Second
	}
	if opts.FetchAttempts <= 0 {
		opts.FetchAttempts = 1
	}
	if opts.ValidateTimeout <= 0 {
		opts.ValidateTimeout = 10 * time.Second
	}
	if opts.ValidateConcurrency <= 0 {
		opts.ValidateConcurrency = 16
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Pool{
		opts:    opts,
		client:  &http.Client{},
		log:     log.WithField("component", "proxy_pool"),
		entries: make(map[string]*Address),
		evicted: make(map[string]bool),
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		Now:     time.Now,
	}
}

// SetHTTPClient overrides the client used to fetch sources
func (p *Pool) SetHTTPClient(c *http.Client) {
	p.client = c
}

// SetRand makes Next deterministic in tests
func (p *Pool) SetRand(r *rand.Rand) {
	p.mu.Lock()
	p.rnd = r
	p.mu.Unlock()
}

// Refresh fetches every source and merges the results. Known addresses keep
// their state, so refreshing twice with the same data changes nothing. A
// failing source is logged and skipped; an error is returned only when every
// source failed and the pool is still empty.
func (p *Pool) Refresh(ctx context.Context) (int, error) {
	var (
		added  int
		failed int
		last   error
	)

	for _, source := range p.opts.Sources {
		addrs, err := p.fetch(ctx, source)
		if err != nil {
			if ctx.Err() != nil {
				return added, ctx.Err()
			}
			failed++
			last = err
			p.log.WithError(err).WarnWithFields("proxy source failed", map[string]interface{}{
				"source": source,
			})
			continue
		}
		n := p.Add(addrs...)
		added += n
		p.log.DebugWithFields("proxy source fetched", map[string]interface{}{
			"source": source,
			"listed": len(addrs),
			"added":  n,
		})
	}

	if failed > 0 && failed == len(p.opts.Sources) && p.Len() == 0 {
		return 0, errs.Wrap(errs.ErrorTypeNetwork, last, "every proxy source failed")
	}

	stats := p.Stats()
	p.log.InfoWithFields("proxy pool refreshed", map[string]interface{}{
		"added":   added,
		"total":   stats.Total,
		"usable":  stats.Healthy + stats.Untested,
		"sources": len(p.opts.Sources),
	})
	return added, nil
}

func (p *Pool) fetch(ctx context.Context, source string) ([]Address, error) {
	return retry.DoWithResult(ctx, func(ctx context.Context) ([]Address, error) {
		ctx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("proxy source returned %s", resp.Status)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, retry.Permanent(err)
			}
			return nil, err
		}

		addrs, malformed, err := ParseList(resp.Body)
		if err != nil {
			return nil, err
		}
		if len(malformed) > 0 {
			p.log.DebugWithFields("discarded malformed proxy entries", map[string]interface{}{
				"source": source,
				"count":  len(malformed),
			})
		}
		return addrs, nil
	}, &retry.Config{
		MaxAttempts: p.opts.FetchAttempts,
		Backoff:     retry.DefaultExponentialBackoff(),
		Logger:      p.log,
	})
}

// Add merges addresses into the pool and returns how many were new.
// Evicted addresses are not re-added.
func (p *Pool) Add(addrs ...Address) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	added := 0
	for _, addr := range addrs {
		key := addr.Key()
		if _, ok := p.entries[key]; ok || p.evicted[key] {
			continue
		}
		entry := addr
		p.entries[key] = &entry
		p.order = append(p.order, key)
		added++
	}
	return added
}

// Next picks a uniformly random healthy or untested proxy. ok is false when
// none is usable, in which case the caller connects directly.
func (p *Pool) Next() (Address, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	usable := make([]*Address, 0, len(p.order))
	for _, key := range p.order {
		if entry := p.entries[key]; entry.Health != Dead {
			usable = append(usable, entry)
		}
	}
	if len(usable) == 0 {
		return Address{}, false
	}
	return *usable[p.rnd.Intn(len(usable))], true
}

// MarkDead excludes the address from selection. It stays in the pool for
// diagnostics until it has failed EvictAfter times.
func (p *Pool) MarkDead(addr Address) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := addr.Key()
	entry, ok := p.entries[key]
	if !ok {
		return
	}
	entry.Health = Dead
	entry.Failures++

	if p.opts.EvictAfter > 0 && entry.Failures >= p.opts.EvictAfter {
		p.evictLocked(key)
		p.log.DebugWithFields("proxy evicted", map[string]interface{}{
			"proxy":    key,
			"failures": entry.Failures,
		})
	}
}

func (p *Pool) evictLocked(key string) {
	delete(p.entries, key)
	p.evicted[key] = true
	for i, k := range p.order {
		if k == key {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of addresses held, dead ones included
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// Snapshot returns a copy of every address in insertion order
func (p *Pool) Snapshot() []Address {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Address, 0, len(p.order))
	for _, key := range p.order {
		out = append(out, *p.entries[key])
	}
	return out
}

// Stats counts addresses by health
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Total: len(p.order), Evicted: len(p.evicted)}
	for _, key := range p.order {
		switch p.entries[key].Health {
		case Untested:
			s.Untested++
		case Healthy:
			s.Healthy++
		case Dead:
			s.Dead++
		}
	}
	return s
}

func (p *Pool) setHealth(key string, health Health, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[key]
	if !ok {
		return
	}
	entry.LastValidated = at
	if health == Dead {
		entry.Health = Dead
		entry.Failures++
		if p.opts.EvictAfter > 0 && entry.Failures >= p.opts.EvictAfter {
			p.evictLocked(key)
		}
		return
	}
	entry.Health = health
}
