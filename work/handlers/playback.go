package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"xtream-resolver/work/cache"
	"xtream-resolver/work/resolver"
)

// handleResolve runs a one-off resolution without tracking it. Query
// parameters: attempt (candidate index to start from) and hint (the
// listing's container_extension). Attempt 0 is answered from the cache
// when possible.
func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	session, err := a.activeSession()
	if err != nil {
		writeError(w, r, err)
		return
	}
	kind, err := kindVar(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	attempt := 0
	if raw := r.URL.Query().Get("attempt"); raw != "" {
		if attempt, err = strconv.Atoi(raw); err != nil {
			writeError(w, r, badRequest("invalid attempt"))
			return
		}
	}

	d := resolver.ContentDescriptor{
		StreamID:      mux.Vars(r)["id"],
		Kind:          kind,
		ContainerHint: r.URL.Query().Get("hint"),
	}
	key := cache.ResolveKey(a.resolver.NormalizeBaseURL(session.ServerBaseURL), session, d)

	if attempt == 0 {
		if stream, ok := a.resolved.Get(key); ok {
			writeJSON(w, http.StatusOK, map[string]interface{}{"stream": stream, "fromCache": true})
			return
		}
	}

	stream, err := a.resolver.Resolve(r.Context(), session, d, attempt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if attempt == 0 {
		a.resolved.Put(key, stream)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stream": stream, "fromCache": false})
}

// handleStartPlayback starts a tracked playback.
//
// Body: {"kind": "movie", "streamId": "123", "containerHint": "mkv", "name": "..."}
func (a *API) handleStartPlayback(w http.ResponseWriter, r *http.Request) {
	session, err := a.activeSession()
	if err != nil {
		writeError(w, r, err)
		return
	}

	var request struct {
		Kind          string `json:"kind"`
		StreamID      string `json:"streamId"`
		ContainerHint string `json:"containerHint"`
		Name          string `json:"name"`
	}
	if err := decodeBody(r, &request); err != nil {
		writeError(w, r, err)
		return
	}
	kind, err := resolver.ParseKind(request.Kind)
	if err != nil {
		writeError(w, r, err)
		return
	}

	pb, err := a.tracker.Start(r.Context(), session, resolver.ContentDescriptor{
		StreamID:      request.StreamID,
		Kind:          kind,
		ContainerHint: request.ContainerHint,
	}, request.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pb)
}

func (a *API) handleListPlaybacks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.tracker.List())
}

func (a *API) handleGetPlayback(w http.ResponseWriter, r *http.Request) {
	pb, err := a.tracker.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pb)
}

// handleReportPlaybackError is called by the player when the current stream
// failed. Once retries are spent the answer is 410 Gone carrying the last
// stream, so the client can still show what was tried.
func (a *API) handleReportPlaybackError(w http.ResponseWriter, r *http.Request) {
	pb, err := a.tracker.ReportError(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, resolver.ErrRetriesExhausted) {
		writeJSON(w, http.StatusGone, map[string]interface{}{
			"status":   "error",
			"error":    err.Error(),
			"playback": pb,
		})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pb)
}

func (a *API) handleStopPlayback(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.tracker.Stop(id); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, "Playback "+id+" stopped")
}
