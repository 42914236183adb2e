package sync

import "github.com/kimhsiao/memomirror/internal/models"

// EventHandler receives progress events from a running sync.
//
// Delivery is fire-and-forget: handlers have no error return, and a
// misbehaving handler must not be able to fail the run. Handlers that fan
// out to slow consumers should drop rather than block.
type EventHandler interface {
	OnSyncProgress(event models.ProgressEvent)
}

// EventHandlerFunc adapts a plain function to an EventHandler.
type EventHandlerFunc func(event models.ProgressEvent)

// OnSyncProgress implements EventHandler.
func (f EventHandlerFunc) OnSyncProgress(event models.ProgressEvent) {
	f(event)
}
