package sync

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	apperrors "github.com/kimhsiao/memomirror/internal/errors"
	"github.com/kimhsiao/memomirror/internal/models"
)

const (
	// defaultMaxIterations bounds the page loop against sources that never
	// signal termination. Exceeding it is a safety stop, not a failure:
	// the run keeps whatever was fetched.
	defaultMaxIterations = 100

	// maxUnproductivePages is how many consecutive pages contributing no
	// new slugs the engine tolerates before concluding the stream is
	// exhausted. A single dead page from the remote is not trusted.
	maxUnproductivePages = 2

	// keepTotal mirrors the store contract: a negative total leaves the
	// persisted count untouched.
	keepTotal int64 = -1
)

// Source is the remote memo source consumed by the engine. It may return
// short pages while more data exists, overlapping records when the cursor
// timestamp could not be derived, and transient or permanent errors.
type Source interface {
	FetchPage(ctx context.Context, cursor models.Cursor) ([]models.Memo, error)
	PageSize() int
}

// Store is the slice of the local store the engine needs.
type Store interface {
	BulkUpsertMemos(memos []models.Memo) error
	CountMemos() (int64, error)
	UpdateSyncStatus(status models.SyncState, total int64, errMsg string) error
}

// Engine orchestrates one full resynchronization: paging through the
// source, deduplicating, persisting batches, and reporting progress.
type Engine struct {
	source Source
	store  Store

	handler       EventHandler
	maxIterations int
	running       atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxIterations overrides the hard page-loop ceiling.
func WithMaxIterations(n int) Option {
	return func(e *Engine) { e.maxIterations = n }
}

// NewEngine creates an Engine over a source and a store.
func NewEngine(source Source, store Store, opts ...Option) *Engine {
	e := &Engine{
		source:        source,
		store:         store,
		maxIterations: defaultMaxIterations,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetEventHandler registers the progress sink. Pass nil to disable.
func (e *Engine) SetEventHandler(handler EventHandler) {
	e.handler = handler
}

// Running reports whether a run is currently active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Result summarizes a finished run.
type Result struct {
	RunID   string
	Pages   int
	Fetched int
	Total   int64
	State   models.SyncState
}

// Run performs one full sync. Each iteration fetches one page.
//
// The run ends with state completed (all pages consumed, or the iteration
// ceiling was hit), cancelled (token observed between pages; not an
// error), or failed (fetch, decode, or persist error; returned as the
// error value). Partial data persisted before any outcome stays in the
// store. Only one run may be active per Engine; a concurrent call returns
// ErrSyncInProgress without touching stored status.
func (e *Engine) Run(ctx context.Context, token *Token) (*Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "a sync run is already active")
	}
	defer e.running.Store(false)

	if token == nil {
		token = NewToken()
	}

	result := &Result{
		RunID: uuid.New().String(),
		State: models.SyncStateSyncing,
	}
	logger := log.With().Str("run_id", result.RunID).Logger()

	if err := e.store.UpdateSyncStatus(models.SyncStateSyncing, keepTotal, ""); err != nil {
		return result, e.fail(result, logger, apperrors.Wrap(apperrors.ErrPersistence, "failed to mark sync started", err))
	}

	var (
		cursor       models.Cursor
		seen         = map[string]struct{}{}
		unproductive int
	)
	pageSize := e.source.PageSize()

	for {
		result.Pages++
		if result.Pages > e.maxIterations {
			// Fail open: partial data beats an unbounded loop.
			logger.Warn().
				Int("limit", e.maxIterations).
				Msg("iteration ceiling reached, stopping with data fetched so far")
			result.Pages = e.maxIterations
			break
		}

		if token.Cancelled() || ctx.Err() != nil {
			return e.cancel(result, logger)
		}

		page, err := e.source.FetchPage(ctx, cursor)
		if err != nil {
			// A fetch aborted by cancellation is a controlled stop.
			if token.Cancelled() || ctx.Err() != nil {
				return e.cancel(result, logger)
			}
			return result, e.fail(result, logger, err)
		}
		result.Fetched += len(page)

		newCount := 0
		for i := range page {
			if _, ok := seen[page[i].Slug]; !ok {
				newCount++
			}
			seen[page[i].Slug] = struct{}{}
		}
		logger.Debug().
			Int("page", result.Pages).
			Int("records", len(page)).
			Int("new", newCount).
			Msg("page fetched")

		// A page contributing no previously-unseen slugs is unproductive.
		// All-duplicate pages only count when the cursor was degraded to
		// slug-only; with a timestamp the overlap is the source's quirk
		// and the loop presses on under the iteration ceiling.
		if len(page) == 0 || (newCount == 0 && cursor.Degraded()) {
			unproductive++
		} else if newCount > 0 {
			unproductive = 0
		}

		more := len(page) >= pageSize
		if unproductive > 0 && unproductive < maxUnproductivePages {
			// Tolerate a single spurious dead page.
			more = true
		}
		if unproductive >= maxUnproductivePages {
			logger.Info().
				Int("pages", unproductive).
				Msg("consecutive unproductive pages, stream treated as exhausted")
			more = false
		}

		if more && len(page) > 0 {
			last := page[len(page)-1]
			cursor = models.Cursor{Slug: last.Slug}
			if ts, ok := models.ParseTimestamp(last.UpdatedAt); ok {
				cursor.UpdatedAt = ts
			} else {
				// Degraded cursor: paginate on slug alone and accept the
				// duplicate-tolerance cost.
				logger.Warn().
					Str("updated_at", last.UpdatedAt).
					Msg("could not parse cursor timestamp, falling back to slug-only pagination")
			}
		}

		if len(page) > 0 {
			if err := e.store.BulkUpsertMemos(page); err != nil {
				return result, e.fail(result, logger,
					apperrors.Wrap(apperrors.ErrPersistence, "failed to persist batch", err))
			}
		}

		// The store count is the only source of truth for progress: the
		// source's pagination is not exclusive, so raw fetch counts can
		// overstate it.
		count, err := e.store.CountMemos()
		if err != nil {
			return result, e.fail(result, logger,
				apperrors.Wrap(apperrors.ErrPersistence, "failed to read store count", err))
		}
		if err := e.store.UpdateSyncStatus(models.SyncStateSyncing, count, ""); err != nil {
			return result, e.fail(result, logger,
				apperrors.Wrap(apperrors.ErrPersistence, "failed to update sync status", err))
		}

		estimated := count
		if more {
			estimated += int64(len(page))
		}
		e.emit(models.ProgressEvent{
			RunID:   result.RunID,
			Total:   estimated,
			Current: count,
			Status:  models.SyncStateSyncing,
			Message: fmt.Sprintf("Synced %d unique memos...", count),
		})

		if !more {
			break
		}
	}

	final, err := e.store.CountMemos()
	if err != nil {
		return result, e.fail(result, logger,
			apperrors.Wrap(apperrors.ErrPersistence, "failed to read final count", err))
	}
	if err := e.store.UpdateSyncStatus(models.SyncStateCompleted, final, ""); err != nil {
		return result, e.fail(result, logger,
			apperrors.Wrap(apperrors.ErrPersistence, "failed to mark sync completed", err))
	}

	result.Total = final
	result.State = models.SyncStateCompleted
	logger.Info().
		Int("pages", result.Pages).
		Int("fetched", result.Fetched).
		Int64("total", final).
		Msg("sync completed")

	e.emit(models.ProgressEvent{
		RunID:   result.RunID,
		Total:   final,
		Current: final,
		Status:  models.SyncStateCompleted,
		Message: fmt.Sprintf("Successfully synced %d unique memos", final),
	})
	return result, nil
}

// cancel finalizes a cancelled run, preserving the count persisted so far.
// Cancellation is a controlled stop, not an error.
func (e *Engine) cancel(result *Result, logger zerolog.Logger) (*Result, error) {
	count, err := e.store.CountMemos()
	if err != nil {
		count = 0
	}
	if err := e.store.UpdateSyncStatus(models.SyncStateCancelled, count, ""); err != nil {
		logger.Error().Err(err).Msg("failed to mark sync cancelled")
	}

	result.Total = count
	result.State = models.SyncStateCancelled
	logger.Info().Int64("total", count).Msg("sync cancelled")

	e.emit(models.ProgressEvent{
		RunID:   result.RunID,
		Total:   count,
		Current: count,
		Status:  models.SyncStateCancelled,
		Message: fmt.Sprintf("Sync cancelled after %d memos", count),
	})
	return result, nil
}

// fail finalizes a failed run. The accumulated count is preserved; only
// the status and error message change.
func (e *Engine) fail(result *Result, logger zerolog.Logger, cause error) error {
	if err := e.store.UpdateSyncStatus(models.SyncStateFailed, keepTotal, cause.Error()); err != nil {
		logger.Error().Err(err).Msg("failed to mark sync failed")
	}
	if count, err := e.store.CountMemos(); err == nil {
		result.Total = count
	}

	result.State = models.SyncStateFailed
	logger.Error().Err(cause).Msg("sync failed")

	e.emit(models.ProgressEvent{
		RunID:   result.RunID,
		Total:   result.Total,
		Current: result.Total,
		Status:  models.SyncStateFailed,
		Message: cause.Error(),
	})
	return cause
}

// emit delivers a progress event to the registered handler. Delivery
// problems are the handler's to absorb; the run never depends on them.
func (e *Engine) emit(event models.ProgressEvent) {
	if e.handler == nil {
		return
	}
	e.handler.OnSyncProgress(event)
}
