// Package session defines how the scraper talks to the platform: a Runner
// opens an authenticated Session for one identity (optionally through a
// proxy), and the Session returns raw post fragments for a keyword search.
package session

import (
	"context"

	"xscraper/pkg/identity"
	"xscraper/pkg/proxy"
)

// RawFragment is an unvalidated post as scraped from a results page. Any field may be empty.
type RawFragment struct {
	// HTML is the outer HTML of the post element, when the runner captured it
	HTML   string
	Text   string
	Author string
}

// Runner opens sessions. Open fails with an auth error when the identity is
// rejected and with a network error when the platform cannot be reached.
type Runner interface {
	Open(ctx context.Context, id identity.Identity, via *proxy.Address) (Session, error)
}

// Session is one logged-in browsing context
type Session interface {
	// Search returns the posts currently listed for keyword. Failures are extraction errors.
	Search(ctx context.Context, keyword string) ([]RawFragment, error)
	// Close releases the session. It always succeeds and may be called more than once.
	Close()
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, id identity.Identity, via *proxy.Address) (Session, error)

func (f RunnerFunc) Open(ctx context.Context, id identity.Identity, via *proxy.Address) (Session, error) {
	return f(ctx, id, via)
}
