package sync

import (
	"context"
	"fmt"
	"testing"

	"github.com/kimhsiao/memomirror/internal/db"
	apperrors "github.com/kimhsiao/memomirror/internal/errors"
	"github.com/kimhsiao/memomirror/internal/models"
)

// newEngineStore creates a real store over an in-memory database. The
// engine's accounting depends on store semantics (dedup by slug, count
// read-back), so fakes would hide exactly the bugs these tests target.
func newEngineStore(t *testing.T) *db.Store {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := db.Init(database.DB); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	store := db.NewStore(database.DB)
	t.Cleanup(func() { store.Close() })
	return store
}

// makeMemos builds n memos with slugs prefix0..prefixN-1.
func makeMemos(prefix string, n int, updatedAt string) []models.Memo {
	memos := make([]models.Memo, n)
	for i := range memos {
		memos[i] = models.Memo{
			Slug:      fmt.Sprintf("%s%04d", prefix, i),
			Content:   "memo " + prefix,
			CreatedAt: "2024-01-01 10:00:00",
			UpdatedAt: updatedAt,
		}
	}
	return memos
}

// scriptedSource plays back a fixed sequence of pages. Calls beyond the
// script return empty pages. An optional hook runs before each fetch.
type scriptedSource struct {
	pages    [][]models.Memo
	errs     map[int]error
	pageSize int
	calls    int
	cursors  []models.Cursor
	onFetch  func(call int)
}

func (s *scriptedSource) FetchPage(_ context.Context, cursor models.Cursor) ([]models.Memo, error) {
	call := s.calls
	s.calls++
	s.cursors = append(s.cursors, cursor)
	if s.onFetch != nil {
		s.onFetch(call)
	}
	if err, ok := s.errs[call]; ok {
		return nil, err
	}
	if call < len(s.pages) {
		return s.pages[call], nil
	}
	return nil, nil
}

func (s *scriptedSource) PageSize() int { return s.pageSize }

// endlessSource produces unique full pages forever.
type endlessSource struct {
	pageSize int
	calls    int
}

func (s *endlessSource) FetchPage(_ context.Context, _ models.Cursor) ([]models.Memo, error) {
	page := makeMemos(fmt.Sprintf("p%d-", s.calls), s.pageSize, "2024-01-01 10:00:00")
	s.calls++
	return page, nil
}

func (s *endlessSource) PageSize() int { return s.pageSize }

// eventRecorder collects progress events in order.
type eventRecorder struct {
	events []models.ProgressEvent
}

func (r *eventRecorder) OnSyncProgress(event models.ProgressEvent) {
	r.events = append(r.events, event)
}

// TestRunMultiPage drives a three-page stream of unique memos through the
// engine and checks the result, the persisted status, and that progress
// counts never go backwards.
func TestRunMultiPage(t *testing.T) {
	store := newEngineStore(t)
	source := &scriptedSource{
		pageSize: 200,
		pages: [][]models.Memo{
			makeMemos("a", 200, "2024-01-01 10:00:00"),
			makeMemos("b", 200, "2024-01-02 10:00:00"),
			makeMemos("c", 50, "2024-01-03 10:00:00"),
		},
	}
	recorder := &eventRecorder{}
	engine := NewEngine(source, store)
	engine.SetEventHandler(recorder)

	result, err := engine.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if result.State != models.SyncStateCompleted {
		t.Errorf("state = %q, want completed", result.State)
	}
	if result.Total != 450 {
		t.Errorf("total = %d, want 450", result.Total)
	}
	if result.Pages != 3 {
		t.Errorf("pages = %d, want 3 (short page must end the run)", result.Pages)
	}
	if source.calls != 3 {
		t.Errorf("fetch calls = %d, want 3", source.calls)
	}

	// First fetch starts from the zero cursor; later fetches carry the
	// last record of the previous page.
	if source.cursors[0].Slug != "" || source.cursors[0].UpdatedAt != 0 {
		t.Errorf("first cursor = %+v, want zero", source.cursors[0])
	}
	if source.cursors[1].Slug != "a0199" {
		t.Errorf("second cursor slug = %q, want a0199", source.cursors[1].Slug)
	}
	if source.cursors[1].UpdatedAt == 0 {
		t.Error("second cursor should carry a parsed timestamp")
	}

	status, err := store.GetSyncStatus()
	if err != nil {
		t.Fatalf("GetSyncStatus() failed: %v", err)
	}
	if status.Status != models.SyncStateCompleted || status.TotalMemos != 450 {
		t.Errorf("persisted status = %+v, want completed/450", status)
	}
	if status.LastSyncAt == "" {
		t.Error("last_sync_at should be stamped on completion")
	}

	if len(recorder.events) == 0 {
		t.Fatal("no progress events emitted")
	}
	var prev int64 = -1
	for i, event := range recorder.events {
		if event.Current < prev {
			t.Errorf("event %d current = %d, regressed below %d", i, event.Current, prev)
		}
		prev = event.Current
	}
	last := recorder.events[len(recorder.events)-1]
	if last.Status != models.SyncStateCompleted || last.Current != 450 || last.Total != 450 {
		t.Errorf("final event = %+v, want completed 450/450", last)
	}
}

// TestRunDegradedDuplicateTermination reproduces a source that keeps
// returning the same full page once the cursor degrades to slug-only. The
// run must converge on the unique count instead of hanging.
func TestRunDegradedDuplicateTermination(t *testing.T) {
	store := newEngineStore(t)
	// Unparseable updated_at degrades the cursor after page one.
	page := makeMemos("a", 200, "not-a-timestamp")
	source := &scriptedSource{
		pageSize: 200,
		pages:    [][]models.Memo{page, page, page, page},
	}
	engine := NewEngine(source, store)

	result, err := engine.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if result.State != models.SyncStateCompleted {
		t.Errorf("state = %q, want completed", result.State)
	}
	if result.Total != 200 {
		t.Errorf("total = %d, want 200 unique memos", result.Total)
	}
	// Page 1 is productive, pages 2 and 3 are all-duplicate; the second
	// consecutive dead page ends the run.
	if source.calls != 3 {
		t.Errorf("fetch calls = %d, want 3", source.calls)
	}
	if source.cursors[1].UpdatedAt != 0 {
		t.Errorf("cursor after unparseable timestamp = %+v, want slug-only", source.cursors[1])
	}
}

// TestRunToleratesSingleDeadPage verifies the debounce: one empty page in
// the middle of the stream does not end the run when the next page still
// has new records.
func TestRunToleratesSingleDeadPage(t *testing.T) {
	store := newEngineStore(t)
	source := &scriptedSource{
		pageSize: 200,
		pages: [][]models.Memo{
			makeMemos("a", 200, "2024-01-01 10:00:00"),
			nil, // spurious empty page
			makeMemos("b", 100, "2024-01-02 10:00:00"),
		},
	}
	engine := NewEngine(source, store)

	result, err := engine.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if result.State != models.SyncStateCompleted {
		t.Errorf("state = %q, want completed", result.State)
	}
	if result.Total != 300 {
		t.Errorf("total = %d, want 300", result.Total)
	}
	if source.calls != 3 {
		t.Errorf("fetch calls = %d, want 3 (empty page must be retried once)", source.calls)
	}
}

// TestRunCancelBeforeFirstFetch verifies a pre-cancelled token stops the
// run before any remote traffic.
func TestRunCancelBeforeFirstFetch(t *testing.T) {
	store := newEngineStore(t)
	source := &scriptedSource{pageSize: 200, pages: [][]models.Memo{makeMemos("a", 200, "2024-01-01 10:00:00")}}
	engine := NewEngine(source, store)

	token := NewToken()
	token.Cancel()

	result, err := engine.Run(context.Background(), token)
	if err != nil {
		t.Fatalf("Run() failed: %v (cancellation is not an error)", err)
	}

	if result.State != models.SyncStateCancelled {
		t.Errorf("state = %q, want cancelled", result.State)
	}
	if result.Total != 0 {
		t.Errorf("total = %d, want 0", result.Total)
	}
	if source.calls != 0 {
		t.Errorf("fetch calls = %d, want 0", source.calls)
	}

	status, _ := store.GetSyncStatus()
	if status.Status != models.SyncStateCancelled {
		t.Errorf("persisted status = %q, want cancelled", status.Status)
	}
}

// TestRunCancelBetweenPages cancels after the first fetch and verifies the
// persisted batch survives.
func TestRunCancelBetweenPages(t *testing.T) {
	store := newEngineStore(t)
	token := NewToken()
	source := &scriptedSource{
		pageSize: 200,
		pages: [][]models.Memo{
			makeMemos("a", 200, "2024-01-01 10:00:00"),
			makeMemos("b", 200, "2024-01-02 10:00:00"),
		},
	}
	source.onFetch = func(call int) {
		if call == 0 {
			token.Cancel()
		}
	}
	engine := NewEngine(source, store)

	result, err := engine.Run(context.Background(), token)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if result.State != models.SyncStateCancelled {
		t.Errorf("state = %q, want cancelled", result.State)
	}
	if result.Total != 200 {
		t.Errorf("total = %d, want 200 (first batch must be kept)", result.Total)
	}
	if source.calls != 1 {
		t.Errorf("fetch calls = %d, want 1", source.calls)
	}

	count, _ := store.CountMemos()
	if count != 200 {
		t.Errorf("stored count = %d, want 200", count)
	}
}

// TestRunContextCancellation verifies ctx cancellation behaves like the
// token: a controlled stop, not a failure.
func TestRunContextCancellation(t *testing.T) {
	store := newEngineStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	source := &scriptedSource{
		pageSize: 200,
		pages: [][]models.Memo{
			makeMemos("a", 200, "2024-01-01 10:00:00"),
			makeMemos("b", 200, "2024-01-02 10:00:00"),
		},
	}
	source.onFetch = func(call int) {
		if call == 0 {
			cancel()
		}
	}
	engine := NewEngine(source, store)

	result, err := engine.Run(ctx, nil)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if result.State != models.SyncStateCancelled {
		t.Errorf("state = %q, want cancelled", result.State)
	}
}

// TestRunIterationCeiling verifies a source that never terminates is cut
// off at the ceiling and the run still completes with partial data.
func TestRunIterationCeiling(t *testing.T) {
	store := newEngineStore(t)
	source := &endlessSource{pageSize: 5}
	engine := NewEngine(source, store, WithMaxIterations(3))

	result, err := engine.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if result.State != models.SyncStateCompleted {
		t.Errorf("state = %q, want completed (ceiling fails open)", result.State)
	}
	if result.Pages != 3 {
		t.Errorf("pages = %d, want 3", result.Pages)
	}
	if result.Total != 15 {
		t.Errorf("total = %d, want 15", result.Total)
	}
}

// TestRunFetchFailure verifies a mid-stream fetch error fails the run but
// keeps the batches persisted before it.
func TestRunFetchFailure(t *testing.T) {
	store := newEngineStore(t)
	source := &scriptedSource{
		pageSize: 200,
		pages: [][]models.Memo{
			makeMemos("a", 200, "2024-01-01 10:00:00"),
		},
		errs: map[int]error{
			1: apperrors.New(apperrors.ErrTransport, "connection reset"),
		},
	}
	engine := NewEngine(source, store)

	result, err := engine.Run(context.Background(), nil)
	if err == nil {
		t.Fatal("Run() should fail on a fetch error")
	}
	if apperrors.CodeOf(err) != apperrors.ErrTransport {
		t.Errorf("error code = %v, want ErrTransport", apperrors.CodeOf(err))
	}

	if result.State != models.SyncStateFailed {
		t.Errorf("state = %q, want failed", result.State)
	}
	if result.Total != 200 {
		t.Errorf("total = %d, want 200 (partial data is kept)", result.Total)
	}

	status, _ := store.GetSyncStatus()
	if status.Status != models.SyncStateFailed {
		t.Errorf("persisted status = %q, want failed", status.Status)
	}
	if status.ErrorMessage == "" {
		t.Error("error_message should be recorded")
	}
	if status.TotalMemos != 200 {
		t.Errorf("persisted total = %d, want 200", status.TotalMemos)
	}
}

// TestRunGuard verifies a second concurrent run is rejected without
// touching the stored status.
func TestRunGuard(t *testing.T) {
	store := newEngineStore(t)
	engine := NewEngine(&scriptedSource{pageSize: 200}, store)

	engine.running.Store(true)
	_, err := engine.Run(context.Background(), nil)
	if !apperrors.Is(err, apperrors.ErrSyncInProgress) {
		t.Fatalf("err = %v, want ErrSyncInProgress", err)
	}
	engine.running.Store(false)

	status, _ := store.GetSyncStatus()
	if status.Status != models.SyncStateIdle {
		t.Errorf("status = %q, want idle (rejected run must not touch it)", status.Status)
	}
}

// TestRunNilHandler verifies a run without a handler does not panic.
func TestRunNilHandler(t *testing.T) {
	store := newEngineStore(t)
	source := &scriptedSource{
		pageSize: 200,
		pages:    [][]models.Memo{makeMemos("a", 10, "2024-01-01 10:00:00")},
	}
	engine := NewEngine(source, store)

	result, err := engine.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if result.Total != 10 {
		t.Errorf("total = %d, want 10", result.Total)
	}
}
