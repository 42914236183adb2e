// Package models provides data model definitions for memomirror.
package models

// ProgressEvent is a point-in-time snapshot of a running sync, emitted
// after every persisted batch and once more on termination.
//
// Current is always read back from the store so it reflects true
// deduplication; Total is an estimate (current plus one pending batch)
// until the run ends, at which point Current == Total.
type ProgressEvent struct {
	RunID   string    `json:"run_id"`
	Total   int64     `json:"total"`
	Current int64     `json:"current"`
	Status  SyncState `json:"status"`
	Message string    `json:"message"`
}
