package export

import (
	"fmt"
	"io"

	"github.com/kimhsiao/memomirror/internal/models"
)

// Store is the slice of the local store the exporter reads from.
type Store interface {
	ListMemos(orderBy, direction string, offset, limit int64) ([]models.Memo, error)
}

// Service streams the whole cache through a formatter.
type Service struct {
	store Store
}

// NewService creates an export Service over the store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// exportPageSize is how many memos are read from the store per batch.
const exportPageSize = 500

// Export writes every cached memo to w in the given format, ordered by
// creation time descending. The cache is read in batches; the remote
// source is never touched.
func (s *Service) Export(w io.Writer, format Format, opts Options) (int, error) {
	var all []models.Memo
	for offset := int64(0); ; offset += exportPageSize {
		page, err := s.store.ListMemos("created_at", "desc", offset, exportPageSize)
		if err != nil {
			return 0, fmt.Errorf("failed to read memos: %w", err)
		}
		all = append(all, page...)
		if len(page) < exportPageSize {
			break
		}
	}

	rendered, err := Render(format, all, opts)
	if err != nil {
		return 0, err
	}
	if _, err := io.WriteString(w, rendered); err != nil {
		return 0, fmt.Errorf("failed to write export: %w", err)
	}
	return len(all), nil
}
