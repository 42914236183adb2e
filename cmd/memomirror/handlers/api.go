// Package handlers provides the localhost HTTP and WebSocket surface used
// by GUI shells.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	gosync "sync"

	"github.com/rs/zerolog/log"

	"github.com/kimhsiao/memomirror/internal/db"
	"github.com/kimhsiao/memomirror/internal/sync"
)

// API wires the store, the sync engine, and the event hub into HTTP
// handlers. One sync run at most is active at a time; the engine's own
// run guard enforces it and the API surfaces it as 409.
type API struct {
	store  *db.Store
	engine *sync.Engine
	hub    *WSHub

	mu    gosync.Mutex
	token *sync.Token // token of the active run, nil when idle
}

// NewAPI creates the handler set and registers the engine's progress
// events with the hub.
func NewAPI(store *db.Store, engine *sync.Engine, hub *WSHub) *API {
	engine.SetEventHandler(hub)
	return &API{store: store, engine: engine, hub: hub}
}

// Register installs all routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/sync", a.StartSync)
	mux.HandleFunc("/api/sync/cancel", a.CancelSync)
	mux.HandleFunc("/api/sync/status", a.SyncStatus)
	mux.HandleFunc("/api/memos", a.ListMemos)
	mux.HandleFunc("/api/search", a.SearchMemos)
	mux.HandleFunc("/api/clear", a.ClearData)
	mux.HandleFunc("/ws", a.hub.ServeWS)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// StartSync handles POST /api/sync. The run executes in the background;
// progress streams over /ws and the terminal outcome lands in the status
// record. A second request while a run is active gets 409.
func (a *API) StartSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.engine.Running() {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "a sync run is already active",
		})
		return
	}

	token := sync.NewToken()
	a.token = token

	go func() {
		result, err := a.engine.Run(context.Background(), token)
		if err != nil {
			log.Error().Err(err).Msg("background sync failed")
			return
		}
		log.Info().
			Str("run_id", result.RunID).
			Str("state", string(result.State)).
			Int64("total", result.Total).
			Msg("background sync finished")
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// CancelSync handles POST /api/sync/cancel. Idempotent: cancelling with no
// active run is a no-op.
func (a *API) CancelSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	a.mu.Lock()
	if a.token != nil {
		a.token.Cancel()
	}
	a.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancel requested"})
}

// SyncStatus handles GET /api/sync/status.
func (a *API) SyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status, err := a.store.GetSyncStatus()
	if err != nil {
		http.Error(w, "Failed to read sync status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// pageParams extracts ordering and paging query parameters with the same
// fallbacks the store applies.
func pageParams(r *http.Request) (orderBy, direction string, offset, limit int64) {
	q := r.URL.Query()
	orderBy = q.Get("order_by")
	direction = q.Get("direction")
	offset, _ = strconv.ParseInt(q.Get("offset"), 10, 64)
	if offset < 0 {
		offset = 0
	}
	limit, _ = strconv.ParseInt(q.Get("limit"), 10, 64)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return
}

// ListMemos handles GET /api/memos. Local cache only.
func (a *API) ListMemos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orderBy, direction, offset, limit := pageParams(r)
	memos, err := a.store.ListMemos(orderBy, direction, offset, limit)
	if err != nil {
		http.Error(w, "Failed to list memos", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"memos": memos,
		"count": len(memos),
	})
}

// SearchMemos handles GET /api/search. Local cache only.
func (a *API) SearchMemos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "Search query 'q' is required", http.StatusBadRequest)
		return
	}

	orderBy, direction, offset, limit := pageParams(r)
	memos, err := a.store.SearchMemos(query, orderBy, direction, offset, limit)
	if err != nil {
		http.Error(w, "Failed to search memos", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"memos": memos,
		"count": len(memos),
		"query": query,
	})
}

// ClearData handles POST /api/clear: wipes the cache and resets status.
func (a *API) ClearData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if a.engine.Running() {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "cannot clear while a sync run is active",
		})
		return
	}

	if err := a.store.ClearAll(); err != nil {
		http.Error(w, "Failed to clear local data", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
