// Package browser implements session.Runner on a real Chromium instance driven by go-rod.
package browser

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	errs "xscraper/pkg/errors"
	"xscraper/pkg/identity"
	"xscraper/pkg/logger"
	"xscraper/pkg/post"
	"xscraper/pkg/proxy"
	"xscraper/pkg/session"
)

const queryPlaceholder = "{query}"

// Options configures the browser runner
type Options struct {
	Headless  bool
	Bin       string
	LoginURL  string
	SearchURL string
	UserAgent string
	// StepTimeout bounds each wait for an element during login and search
	StepTimeout time.Duration
	// ScrollRounds is how many times the results page is scrolled to load more posts
	ScrollRounds int
	ScrollPause  time.Duration
}

// Runner launches one browser per session
type Runner struct {
	opts Options
	log  logger.Logger
}

// NewRunner creates a browser runner
func NewRunner(opts Options, log logger.Logger) *Runner {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 20 * time.Second
	}
	if opts.ScrollRounds < 0 {
		opts.ScrollRounds = 0
	}
	if opts.ScrollPause <= 0 {
		opts.ScrollPause = 1500 * time.Millisecond
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Runner{opts: opts, log: log.WithField("component", "browser")}
}

// SearchURL fills the query placeholder of tmpl with the escaped keyword
func SearchURL(tmpl, keyword string) string {
	q := url.QueryEscape(keyword)
	if strings.Contains(tmpl, queryPlaceholder) {
		return strings.ReplaceAll(tmpl, queryPlaceholder, q)
	}
	return tmpl + q
}

func (r *Runner) newLauncher(via *proxy.Address) *launcher.Launcher {
	l := launcher.New().Headless(r.opts.Headless)
	if r.opts.Bin != "" {
		l = l.Bin(r.opts.Bin)
	}
	if via != nil {
		l = l.Proxy(via.String())
	}
	return l
}

// Open starts a browser, optionally through via, and logs in as id
func (r *Runner) Open(ctx context.Context, id identity.Identity, via *proxy.Address) (session.Session, error) {
	l := r.newLauncher(via)
	controlURL, err := launch(ctx, l)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.Wrap(errs.ErrorTypeNetwork, err, "launch browser")
	}

	// the browser outlives ctx, which only bounds opening
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, errs.Wrap(errs.ErrorTypeNetwork, err, "connect to browser")
	}

	s := &browserSession{runner: r, launcher: l, browser: b, handle: id.Handle}

	page, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		s.Close()
		return nil, errs.Wrap(errs.ErrorTypeNetwork, err, "open page")
	}
	s.page = page

	if r.opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: r.opts.UserAgent}); err != nil {
			r.log.WithError(err).Warn("set user agent failed")
		}
	}

	if err := s.login(ctx, id); err != nil {
		s.Close()
		return nil, err
	}

	r.log.InfoWithFields("logged in", map[string]interface{}{
		"identity": id.Handle,
		"proxy":    proxyLabel(via),
	})
	return s, nil
}

// launch starts the browser process. When ctx ends first, the process is
// torn down as soon as the launch returns.
func launch(ctx context.Context, l *launcher.Launcher) (string, error) {
	type result struct {
		url string
		err error
	}
	done := make(chan result, 1)
	go func() {
		u, err := l.Launch()
		done <- result{u, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			l.Kill()
			l.Cleanup()
		}
		return res.url, res.err
	case <-ctx.Done():
		go func() {
			<-done
			l.Kill()
			l.Cleanup()
		}()
		return "", ctx.Err()
	}
}

type browserSession struct {
	runner   *Runner
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	handle   string
	once     sync.Once
}

func (s *browserSession) login(ctx context.Context, id identity.Identity) error {
	page := s.page.Context(ctx)
	if err := page.Navigate(s.runner.opts.LoginURL); err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, err, "open login page")
	}

	steps := []struct {
		name string
		run  func(p *rod.Page) error
	}{
		{"username", func(p *rod.Page) error { return fill(p, post.LoginUsernameInput, id.Handle) }},
		{"next", func(p *rod.Page) error { return clickText(p, "Next") }},
		{"password", func(p *rod.Page) error { return fill(p, post.LoginPasswordInput, id.Secret) }},
		{"log in", func(p *rod.Page) error { return clickText(p, "Log in") }},
		{"home", func(p *rod.Page) error {
			_, err := p.Element(post.HomeIndicator)
			return err
		}},
	}

	for _, step := range steps {
		stepCtx, cancel := context.WithTimeout(ctx, s.runner.opts.StepTimeout)
		err := step.run(page.Context(stepCtx))
		cancel()
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.Wrap(errs.ErrorTypeAuth, err, "login step "+step.name+" failed for "+id.Handle)
	}
	return nil
}

func fill(p *rod.Page, selector, text string) error {
	el, err := p.Element(selector)
	if err != nil {
		return err
	}
	return el.Input(text)
}

func clickText(p *rod.Page, label string) error {
	el, err := p.ElementR("span", "^"+label+"$")
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

var errNoResults = errors.New("no results")

// Search loads the results page and returns the outer HTML of every listed post
func (s *browserSession) Search(ctx context.Context, keyword string) ([]session.RawFragment, error) {
	opts := s.runner.opts
	page := s.page.Context(ctx)

	if err := page.Navigate(SearchURL(opts.SearchURL, keyword)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.Wrap(errs.ErrorTypeNetwork, err, "open search page")
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.StepTimeout)
	_, err := page.Context(waitCtx).Race().
		Element(post.PostArticle).Handle(func(*rod.Element) error { return nil }).
		Element(`[data-testid="emptyState"]`).Handle(func(*rod.Element) error { return errNoResults }).
		Do()
	cancel()
	switch {
	case errors.Is(err, errNoResults):
		return []session.RawFragment{}, nil
	case err != nil && ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		return nil, errs.Wrap(errs.ErrorTypeExtraction, err, "results never rendered")
	}

	s.scroll(ctx, page)

	elements, err := page.Elements(post.PostArticle)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.Wrap(errs.ErrorTypeExtraction, err, "list posts")
	}

	fragments := make([]session.RawFragment, 0, len(elements))
	for _, el := range elements {
		html, err := el.HTML()
		if err != nil {
			// detached while scrolling; the next session will see it again
			continue
		}
		fragments = append(fragments, session.RawFragment{HTML: html})
	}

	s.runner.log.DebugWithFields("search page collected", map[string]interface{}{
		"identity":  s.handle,
		"keyword":   keyword,
		"fragments": len(fragments),
	})
	return fragments, nil
}

// scroll loads more posts until the count stops growing or the rounds run out
func (s *browserSession) scroll(ctx context.Context, page *rod.Page) {
	opts := s.runner.opts
	last := -1
	for i := 0; i < opts.ScrollRounds; i++ {
		elements, err := page.Elements(post.PostArticle)
		if err != nil || len(elements) == last {
			return
		}
		last = len(elements)

		if _, err := page.Eval(`() => window.scrollBy(0, window.innerHeight)`); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(opts.ScrollPause):
		}
	}
}

// Close tears the browser down. Only the first call does anything.
func (s *browserSession) Close() {
	s.once.Do(func() {
		if s.page != nil {
			_ = s.page.Close()
		}
		if err := s.browser.Close(); err != nil {
			s.runner.log.WithError(err).Debug("browser close failed")
		}
		s.launcher.Kill()
		s.launcher.Cleanup()
	})
}

func proxyLabel(via *proxy.Address) string {
	if via == nil {
		return "direct"
	}
	return via.Key()
}
