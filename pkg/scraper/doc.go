// Package scraper drives keyword extraction.
//
// For each keyword a Driver repeatedly takes the next identity from the
// ring, optionally a proxy from the pool, opens a session, searches and
// keeps the new unique posts until the target count is reached. Failed
// sessions put the identity into cooldown and dead proxies out of rotation;
// each keyword has a failure budget after which it is abandoned. Sessions are
// always closed, whatever the outcome of the attempt.
package scraper
