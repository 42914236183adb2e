// Package export renders cached memos into human-readable formats.
// Formatting is pure string transformation; all data comes from the local
// store, never the remote source.
package export

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kimhsiao/memomirror/internal/models"
)

// Format identifies an output format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatTable    Format = "table"
)

// URL rendering modes for Markdown output.
const (
	URLModeNone = "none"
	URLModeFull = "full"
	URLModeID   = "id"
)

// Options controls rendering across all formats. Zero value renders
// timestamps as stored, full URLs, non-minimal Markdown, indented JSON.
type Options struct {
	// DateFormat uses web-style tokens (yyyy, MM, dd, HH, mm, ss, MMM);
	// empty leaves timestamps as the remote delivered them.
	DateFormat string
	// URLMode is one of none, full, id (Markdown only).
	URLMode string
	// Minimal emits one line per memo (Markdown only).
	Minimal bool
	// Compact disables JSON indentation.
	Compact bool
}

// datePatterns maps web-style date tokens to Go reference-time fragments.
// Order matters: longer tokens first so MMM is not eaten by MM.
var datePatterns = []struct{ from, to string }{
	{"yyyy", "2006"},
	{"MMM", "Jan"},
	{"MM", "01"},
	{"dd", "02"},
	{"HH", "15"},
	{"mm", "04"},
	{"ss", "05"},
}

// formatDate re-renders a stored timestamp with the given token format.
// Unparseable input is returned unchanged rather than dropped.
func formatDate(dateStr, format string) string {
	if format == "" {
		return dateStr
	}
	epoch, ok := models.ParseTimestamp(dateStr)
	if !ok {
		return dateStr
	}
	layout := format
	for _, p := range datePatterns {
		layout = strings.ReplaceAll(layout, p.from, p.to)
	}
	return time.Unix(epoch, 0).UTC().Format(layout)
}

// jsonMemo is the export shape of one memo.
type jsonMemo struct {
	Index     int      `json:"index"`
	Slug      string   `json:"slug"`
	Content   string   `json:"content"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
	Tags      []string `json:"tags"`
	URL       string   `json:"url,omitempty"`
}

// JSON renders memos as a JSON array.
func JSON(memos []models.Memo, opts Options) (string, error) {
	out := make([]jsonMemo, 0, len(memos))
	for i, memo := range memos {
		out = append(out, jsonMemo{
			Index:     i + 1,
			Slug:      memo.Slug,
			Content:   memo.Content,
			CreatedAt: formatDate(memo.CreatedAt, opts.DateFormat),
			UpdatedAt: formatDate(memo.UpdatedAt, opts.DateFormat),
			Tags:      memo.Tags,
			URL:       memo.URL,
		})
	}

	var data []byte
	var err error
	if opts.Compact {
		data, err = json.Marshal(out)
	} else {
		data, err = json.MarshalIndent(out, "", "  ")
	}
	if err != nil {
		return "", fmt.Errorf("failed to encode memos: %w", err)
	}
	return string(data), nil
}

// Markdown renders memos as a Markdown document, one section per memo, or
// one line per memo in minimal mode.
func Markdown(memos []models.Memo, opts Options) string {
	var b strings.Builder

	if !opts.Minimal {
		b.WriteString("# Memos\n\n")
	}

	for i, memo := range memos {
		if opts.Minimal {
			content := strings.ReplaceAll(memo.Content, "\n", " ")
			if opts.DateFormat == "" {
				fmt.Fprintf(&b, "%d|%s\n", i+1, content)
			} else {
				fmt.Fprintf(&b, "%d|%s|%s\n", i+1, formatDate(memo.CreatedAt, opts.DateFormat), content)
			}
			continue
		}

		if opts.DateFormat != "" {
			fmt.Fprintf(&b, "## %d. %s\n\n", i+1, formatDate(memo.CreatedAt, opts.DateFormat))
		} else {
			fmt.Fprintf(&b, "## %d. %s\n\n", i+1, memo.CreatedAt)
		}
		fmt.Fprintf(&b, "%s\n", strings.TrimSpace(memo.Content))

		switch opts.URLMode {
		case URLModeFull:
			if memo.URL != "" {
				fmt.Fprintf(&b, "**Link**: %s\n", memo.URL)
			}
		case URLModeID:
			fmt.Fprintf(&b, "**ID**: %s\n", memo.Slug)
		}

		if len(memo.Tags) > 0 {
			fmt.Fprintf(&b, "**Tags**: %s\n", strings.Join(memo.Tags, ", "))
		}
		b.WriteString("\n---\n\n")
	}

	return b.String()
}

// previewLen is how many runes of content the table shows per memo.
const previewLen = 30

// Table renders memos as an aligned plain-text table with a short content
// preview per row.
func Table(memos []models.Memo, opts Options) string {
	var b strings.Builder
	b.WriteString("No.  | Created           | Preview\n")
	b.WriteString(strings.Repeat("-", 50))
	b.WriteByte('\n')

	for i, memo := range memos {
		preview := []rune(strings.ReplaceAll(memo.Content, "\n", " "))
		truncated := string(preview)
		if len(preview) > previewLen {
			truncated = string(preview[:previewLen]) + "..."
		}

		date := memo.CreatedAt
		if opts.DateFormat != "" {
			date = formatDate(memo.CreatedAt, opts.DateFormat)
		} else if idx := strings.IndexByte(date, ' '); idx > 0 {
			date = date[:idx]
		}

		fmt.Fprintf(&b, "%-4d | %-17s | %s\n", i+1, date, truncated)
	}

	return b.String()
}

// Render dispatches to the formatter for the given format.
func Render(format Format, memos []models.Memo, opts Options) (string, error) {
	switch format {
	case FormatJSON:
		return JSON(memos, opts)
	case FormatMarkdown:
		return Markdown(memos, opts), nil
	case FormatTable:
		return Table(memos, opts), nil
	default:
		return "", fmt.Errorf("unknown export format: %q", format)
	}
}
