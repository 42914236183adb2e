// Package models provides data model definitions for memomirror.
package models

// SyncState is the lifecycle state of the singleton sync status record.
type SyncState string

const (
	SyncStateIdle      SyncState = "idle"
	SyncStateSyncing   SyncState = "syncing"
	SyncStateCompleted SyncState = "completed"
	SyncStateFailed    SyncState = "failed"
	SyncStateCancelled SyncState = "cancelled"
)

// Terminal reports whether the state ends a run. A terminal state never
// locks out future runs; a new sync may start from any of them.
func (s SyncState) Terminal() bool {
	switch s {
	case SyncStateCompleted, SyncStateFailed, SyncStateCancelled:
		return true
	}
	return false
}

// SyncStatus is the single-row sync bookkeeping record.
//
// TotalMemos is advisory: it reflects the local store size at the time it
// was written, not a guaranteed remote total.
type SyncStatus struct {
	ID           int64     `db:"id" json:"id"`
	Status       SyncState `db:"status" json:"status"`
	LastSyncAt   string    `db:"last_sync_at" json:"last_sync_at,omitempty"`
	TotalMemos   int64     `db:"total_memos" json:"total_memos"`
	ErrorMessage string    `db:"error_message" json:"error_message,omitempty"`
}

// TableName returns the table name for SyncStatus.
func (SyncStatus) TableName() string {
	return "sync_status"
}
