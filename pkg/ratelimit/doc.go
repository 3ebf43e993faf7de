// Package ratelimit paces browser sessions.
//
// A Pacer inserts a random delay between consecutive sessions and can cap the
// number of sessions opened per minute with a token bucket from
// golang.org/x/time/rate. Both waits are cancellable through the context.
package ratelimit
