package scraper

import (
	"time"

	"xscraper/pkg/identity"
	"xscraper/pkg/proxy"
)

// IdentitySource hands out identities and records how sessions went.
// *identity.Ring implements it.
type IdentitySource interface {
	Next() (identity.Identity, error)
	ReportFailure(id identity.Identity) time.Time
	ReportSuccess(id identity.Identity)
}

// ProxySource hands out proxies. *proxy.Pool implements it.
type ProxySource interface {
	Next() (proxy.Address, bool)
	MarkDead(addr proxy.Address)
}
