package models

import "testing"

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int64
		ok    bool
	}{
		{"space separated", "2023-11-14 22:13:20", 1700000000, true},
		{"t separated", "2023-11-14T22:13:20", 1700000000, true},
		{"rfc3339", "2023-11-14T22:13:20Z", 1700000000, true},
		{"date only", "2023-11-14", 0, false},
		{"garbage", "not-a-timestamp", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.input)
			if ok != tt.ok {
				t.Fatalf("ParseTimestamp(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("ParseTimestamp(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestTagsJSONRoundTrip(t *testing.T) {
	memo := Memo{Tags: []string{"work", "a\"quoted\"tag"}}
	var restored Memo
	restored.SetTagsJSON(memo.TagsJSON())
	if len(restored.Tags) != 2 || restored.Tags[1] != "a\"quoted\"tag" {
		t.Errorf("round trip = %v, want original tags", restored.Tags)
	}

	empty := Memo{}
	if got := empty.TagsJSON(); got != "[]" {
		t.Errorf("empty TagsJSON() = %q, want []", got)
	}

	var bad Memo
	bad.Tags = []string{"stale"}
	bad.SetTagsJSON("{broken")
	if bad.Tags != nil {
		t.Errorf("malformed input should clear tags, got %v", bad.Tags)
	}
}

func TestCursorDegraded(t *testing.T) {
	if !(Cursor{Slug: "abc"}).Degraded() {
		t.Error("cursor without timestamp should be degraded")
	}
	if (Cursor{Slug: "abc", UpdatedAt: 1700000000}).Degraded() {
		t.Error("cursor with timestamp should not be degraded")
	}
}

func TestSyncStateTerminal(t *testing.T) {
	tests := []struct {
		state SyncState
		want  bool
	}{
		{SyncStateIdle, false},
		{SyncStateSyncing, false},
		{SyncStateCompleted, true},
		{SyncStateFailed, true},
		{SyncStateCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}
