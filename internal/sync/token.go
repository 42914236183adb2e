// Package sync implements the incremental sync engine that mirrors the
// remote memo stream into the local store.
package sync

import "sync/atomic"

// Token is a cooperative cancellation signal for one sync run. It is
// passed into Run explicitly rather than living in process-wide state, so
// independent runs cannot observe each other's cancellation.
//
// Cancellation is polled between pages, not preemptive: latency is bounded
// by one page fetch.
type Token struct {
	cancelled atomic.Bool
}

// NewToken creates an unset cancellation token.
func NewToken() *Token {
	return &Token{}
}

// Cancel requests that the run stop at its next checkpoint. Idempotent.
func (t *Token) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether cancellation has been requested.
func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}
