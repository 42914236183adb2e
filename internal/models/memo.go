// Package models provides data model definitions for memomirror.
package models

import (
	"encoding/json"
	"time"
)

// Memo represents a single mirrored note.
//
// The slug uniquely identifies a memo across the whole system: re-syncing
// the same slug overwrites content, tags and updated_at but never
// created_at, and never produces a second row.
type Memo struct {
	Slug      string   `db:"slug" json:"slug"`
	Content   string   `db:"content" json:"content"`
	CreatedAt string   `db:"created_at" json:"created_at"`
	UpdatedAt string   `db:"updated_at" json:"updated_at"`
	Tags      []string `db:"-" json:"tags"`
	URL       string   `db:"url" json:"url,omitempty"`
	SyncedAt  string   `db:"synced_at" json:"synced_at,omitempty"`
}

// TableName returns the table name for Memo.
func (Memo) TableName() string {
	return "memos"
}

// TagsJSON returns the tag list serialized as a JSON array for storage.
func (m *Memo) TagsJSON() string {
	if len(m.Tags) == 0 {
		return "[]"
	}
	data, err := json.Marshal(m.Tags)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// SetTagsJSON replaces the tag list from its stored JSON form.
// Malformed input leaves the memo with no tags.
func (m *Memo) SetTagsJSON(s string) {
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		m.Tags = nil
		return
	}
	m.Tags = tags
}

// Timestamp formats accepted for cursor math. The remote service has been
// observed returning both space-separated and T-separated date-times.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// ParseTimestamp parses a memo timestamp into epoch seconds (UTC assumed).
// The second return value reports whether any accepted layout matched.
func ParseTimestamp(s string) (int64, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Unix(), true
		}
	}
	return 0, false
}

// Cursor is the transient pagination position for one sync run.
// UpdatedAt is epoch seconds; zero means the timestamp could not be derived
// and pagination proceeds on the slug alone (duplicate-tolerant).
type Cursor struct {
	Slug      string
	UpdatedAt int64
}

// Degraded reports whether this cursor is missing its timestamp component.
func (c Cursor) Degraded() bool {
	return c.UpdatedAt == 0
}
