package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"

	"xtream-resolver/work/database"
	"xtream-resolver/work/resolver"
)

// favoriteRequest is the optional body of favorite writes.
type favoriteRequest struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

func favoriteFromRequest(r *http.Request) (database.Favorite, error) {
	kind, err := kindVar(r)
	if err != nil {
		return database.Favorite{}, err
	}

	var body favoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return database.Favorite{}, errors.Join(errBadRequest, err)
	}

	return database.Favorite{
		Kind:     kind,
		StreamID: mux.Vars(r)["id"],
		Name:     body.Name,
		Payload:  body.Payload,
	}, nil
}

func (a *API) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	kind, err := kindVar(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	favorites, err := a.db.ListFavorites(kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, favorites)
}

func (a *API) handleGetFavorite(w http.ResponseWriter, r *http.Request) {
	kind, err := kindVar(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := mux.Vars(r)["id"]
	favorite, err := a.db.IsFavorite(kind, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"kind":     kind,
		"streamId": id,
		"favorite": favorite,
	})
}

func (a *API) handleAddFavorite(w http.ResponseWriter, r *http.Request) {
	f, err := favoriteFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.db.AddFavorite(f); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, "Favorite added")
}

func (a *API) handleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	kind, err := kindVar(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.db.RemoveFavorite(kind, mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, "Favorite removed")
}

func (a *API) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	f, err := favoriteFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	favorite, err := a.db.ToggleFavorite(f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"kind":     f.Kind,
		"streamId": f.StreamID,
		"favorite": favorite,
	})
}

func (a *API) handleListHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := a.db.ListHistory()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := a.db.ClearHistory(); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, "History cleared")
}

// settingKey returns the {key} variable if the API may touch it.
func settingKey(r *http.Request) (string, error) {
	key := mux.Vars(r)["key"]
	if !database.IsPublicSetting(key) {
		return "", badRequest("unknown setting " + key)
	}
	return key, nil
}

func (a *API) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key, err := settingKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	value, err := a.db.GetSetting(key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": value})
}

// handleSetSetting stores a setting. Body: {"value": "..."}
func (a *API) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	key, err := settingKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var request struct {
		Value string `json:"value"`
	}
	if err := decodeBody(r, &request); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.db.SetSetting(key, request.Value); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": request.Value})
}

// handleGetStatus reports process and storage statistics.
func (a *API) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := a.db.GetStats()
	if err != nil {
		writeError(w, r, err)
		return
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	_, sessionErr := a.activeSession()
	stats["logged_in"] = sessionErr == nil
	stats["active_playbacks"] = a.tracker.Len()
	stats["cached_catalogs"] = a.catalogs.Len()
	stats["resolve_cache_enabled"] = a.resolved.Enabled()
	stats["max_retries"] = a.resolver.MaxRetries()
	stats["uptime"] = time.Since(a.startedAt).Round(time.Second).String()
	stats["memory_alloc_bytes"] = m.Alloc
	stats["goroutines"] = runtime.NumGoroutine()
	if a.pool != nil {
		stats["worker_pool_running"] = a.pool.Running()
		stats["worker_pool_capacity"] = a.pool.Cap()
	}
	stats["candidates"] = map[resolver.Kind][]string{
		resolver.KindLive:   resolver.Candidates(resolver.KindLive),
		resolver.KindMovie:  resolver.Candidates(resolver.KindMovie),
		resolver.KindSeries: resolver.Candidates(resolver.KindSeries),
	}

	writeJSON(w, http.StatusOK, stats)
}
