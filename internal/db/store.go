// Package db provides the local SQLite cache for mirrored memos.
package db

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/memomirror/internal/models"
)

// Store provides all persistence operations over the memo cache.
//
// All access goes through one sql.DB configured with a single connection,
// which serializes readers and writers behind the driver's own lock.
type Store struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewStore creates a Store over an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// prepareStmt gets or creates a prepared statement from the cache.
func (s *Store) prepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (s *Store) Close() error {
	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Memo Operations
// =====================================================

const upsertMemoSQL = `
INSERT INTO memos (slug, content, created_at, updated_at, tags, url, synced_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(slug) DO UPDATE SET
	content = excluded.content,
	updated_at = excluded.updated_at,
	tags = excluded.tags,
	url = excluded.url,
	synced_at = excluded.synced_at
`

// UpsertMemo inserts or replaces a single memo keyed by slug.
// created_at of an existing row is never overwritten; synced_at always is.
func (s *Store) UpsertMemo(memo *models.Memo) error {
	syncedAt := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(upsertMemoSQL,
		memo.Slug, memo.Content, memo.CreatedAt, memo.UpdatedAt,
		memo.TagsJSON(), memo.URL, syncedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert memo %s: %w", memo.Slug, err)
	}
	return nil
}

// BulkUpsertMemos upserts a batch of memos in a single transaction.
// The batch commits together or not at all: a mid-batch failure leaves the
// store exactly as it was before the call.
func (s *Store) BulkUpsertMemos(memos []models.Memo) error {
	if len(memos) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(upsertMemoSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	syncedAt := time.Now().UTC().Format(time.RFC3339)
	for i := range memos {
		memo := &memos[i]
		if _, err := stmt.Exec(
			memo.Slug, memo.Content, memo.CreatedAt, memo.UpdatedAt,
			memo.TagsJSON(), memo.URL, syncedAt); err != nil {
			return fmt.Errorf("failed to upsert memo %s in transaction: %w", memo.Slug, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// orderClause sanitizes order parameters. Unknown values fall back to
// created_at / DESC instead of erroring; the fields are interpolated into
// SQL and must never come from the query string unchecked.
func orderClause(orderBy, direction string) string {
	field := "created_at"
	if orderBy == "updated_at" {
		field = "updated_at"
	}
	dir := "DESC"
	if direction == "asc" {
		dir = "ASC"
	}
	return fmt.Sprintf("ORDER BY %s %s", field, dir)
}

// ListMemos returns one page of memos ordered by the requested field.
func (s *Store) ListMemos(orderBy, direction string, offset, limit int64) ([]models.Memo, error) {
	query := fmt.Sprintf(`
	SELECT slug, content, created_at, updated_at, tags, url, synced_at
	FROM memos %s LIMIT ? OFFSET ?`, orderClause(orderBy, direction))

	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query memos: %w", err)
	}
	defer rows.Close()

	return scanMemos(rows)
}

// SearchMemos returns one page of memos whose content or serialized tag
// list contains the query as a case-sensitive substring.
func (s *Store) SearchMemos(query, orderBy, direction string, offset, limit int64) ([]models.Memo, error) {
	sqlQuery := fmt.Sprintf(`
	SELECT slug, content, created_at, updated_at, tags, url, synced_at
	FROM memos
	WHERE content LIKE ? ESCAPE '\' OR tags LIKE ? ESCAPE '\'
	%s LIMIT ? OFFSET ?`, orderClause(orderBy, direction))

	stmt, err := s.prepareStmt(sqlQuery)
	if err != nil {
		return nil, err
	}

	pattern := "%" + escapeLike(query) + "%"
	rows, err := stmt.Query(pattern, pattern, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to search memos: %w", err)
	}
	defer rows.Close()

	return scanMemos(rows)
}

// escapeLike escapes LIKE metacharacters so user queries match literally.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

func scanMemos(rows *sql.Rows) ([]models.Memo, error) {
	var memos []models.Memo
	for rows.Next() {
		var memo models.Memo
		var tags string
		if err := rows.Scan(&memo.Slug, &memo.Content, &memo.CreatedAt,
			&memo.UpdatedAt, &tags, &memo.URL, &memo.SyncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memo: %w", err)
		}
		memo.SetTagsJSON(tags)
		memos = append(memos, memo)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return memos, nil
}

// CountMemos returns the total number of stored memos.
func (s *Store) CountMemos() (int64, error) {
	stmt, err := s.prepareStmt("SELECT COUNT(*) FROM memos")
	if err != nil {
		return 0, err
	}
	var count int64
	if err := stmt.QueryRow().Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count memos: %w", err)
	}
	return count, nil
}

// =====================================================
// Sync Status Operations
// =====================================================

// KeepTotal passed as the total argument of UpdateSyncStatus leaves the
// stored memo count untouched.
const KeepTotal int64 = -1

// UpdateSyncStatus mutates the singleton status row.
//
// Transition side effects:
//   - syncing and idle clear any previous error_message
//   - completed additionally stamps last_sync_at
//   - failed records errMsg
//   - cancelled preserves whatever error_message was present
func (s *Store) UpdateSyncStatus(status models.SyncState, total int64, errMsg string) error {
	set := "status = ?"
	args := []interface{}{string(status)}

	if total != KeepTotal {
		set += ", total_memos = ?"
		args = append(args, total)
	}

	switch status {
	case models.SyncStateCompleted:
		set += ", last_sync_at = ?, error_message = NULL"
		args = append(args, time.Now().UTC().Format(time.RFC3339))
	case models.SyncStateSyncing, models.SyncStateIdle:
		set += ", error_message = NULL"
	case models.SyncStateFailed:
		set += ", error_message = ?"
		args = append(args, errMsg)
	}

	query := "UPDATE sync_status SET " + set + " WHERE id = 1"
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	return nil
}

// GetSyncStatus returns the current sync status snapshot.
func (s *Store) GetSyncStatus() (*models.SyncStatus, error) {
	var status models.SyncStatus
	var lastSyncAt, errorMessage sql.NullString
	err := s.db.QueryRow(`
	SELECT id, status, last_sync_at, total_memos, error_message
	FROM sync_status WHERE id = 1`).Scan(
		&status.ID, &status.Status, &lastSyncAt, &status.TotalMemos, &errorMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync status: %w", err)
	}
	if lastSyncAt.Valid {
		status.LastSyncAt = lastSyncAt.String
	}
	if errorMessage.Valid {
		status.ErrorMessage = errorMessage.String
	}
	return &status, nil
}

// ClearAll deletes every memo and resets the status row to idle with a
// zero count, in one transaction so the cache and its bookkeeping can
// never disagree.
func (s *Store) ClearAll() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM memos"); err != nil {
		return fmt.Errorf("failed to clear memos: %w", err)
	}
	if _, err := tx.Exec(
		"UPDATE sync_status SET status = ?, total_memos = 0, error_message = NULL WHERE id = 1",
		string(models.SyncStateIdle)); err != nil {
		return fmt.Errorf("failed to reset sync status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
