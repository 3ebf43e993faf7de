package proxy

import (
	"context"
	"io"
	"net/http"

	"golang.org/x/sync/errgroup"
)

// Validate checks every non-dead address by fetching ValidateURL through it.
// Reachable proxies become Healthy; the rest are marked Dead. Checks run
// concurrently, bounded by ValidateConcurrency.
func (p *Pool) Validate(ctx context.Context) (Stats, error) {
	var targets []Address
	for _, addr := range p.Snapshot() {
		if addr.Health != Dead {
			targets = append(targets, addr)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.ValidateConcurrency)

	for _, addr := range targets {
		addr := addr
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			health := Dead
			if p.check(gctx, addr) {
				health = Healthy
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}
			p.setHealth(addr.Key(), health, p.Now())
			return nil
		})
	}

	err := g.Wait()
	stats := p.Stats()
	p.log.InfoWithFields("proxy validation finished", map[string]interface{}{
		"checked": len(targets),
		"healthy": stats.Healthy,
		"dead":    stats.Dead,
		"evicted": stats.Evicted,
	})
	return stats, err
}

func (p *Pool) check(ctx context.Context, addr Address) bool {
	ctx, cancel := context.WithTimeout(ctx, p.opts.ValidateTimeout)
	defer cancel()

	client := &http.Client{
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(addr.URL()),
			DisableKeepAlives: true,
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.ValidateURL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		p.log.DebugWithFields("proxy check failed", map[string]interface{}{
			"proxy": addr.Key(),
			"error": err.Error(),
		})
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.StatusCode < http.StatusInternalServerError
}
