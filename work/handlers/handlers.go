// Package handlers exposes the resolver, panel catalog and library over a
// JSON HTTP API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"xtream-resolver/work/cache"
	"xtream-resolver/work/database"
	"xtream-resolver/work/filter"
	"xtream-resolver/work/logger"
	"xtream-resolver/work/middleware"
	"xtream-resolver/work/playback"
	"xtream-resolver/work/resolver"
	"xtream-resolver/work/xtream"
)

// Options carries the collaborators the API is built from.
type Options struct {
	DB           *database.DB
	Panel        *xtream.Client
	Resolver     *resolver.StreamResolver
	Tracker      *playback.Tracker
	ResolveCache *cache.ResolveCache
	Filter       *filter.CompiledFilter
	Pool         *ants.Pool

	// CatalogTTL is how long a loaded catalog is served before the panel is
	// asked again. Zero uses ten minutes.
	CatalogTTL time.Duration

	// Rand seeds recommendations. Nil uses the global source.
	Rand *rand.Rand
}

// API holds the handler dependencies.
type API struct {
	db       *database.DB
	sessions database.SessionStore
	panel    *xtream.Client
	resolver *resolver.StreamResolver
	tracker  *playback.Tracker
	resolved *cache.ResolveCache
	catalogs *cache.Store[*xtream.Catalog]
	filter   *filter.CompiledFilter
	pool     *ants.Pool

	rngMu sync.Mutex
	rng   *rand.Rand

	startedAt time.Time
}

// New builds the API.
func New(opts Options) *API {
	ttl := opts.CatalogTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	resolved := opts.ResolveCache
	if resolved == nil {
		resolved = cache.NewResolveCache(false, 0, 0)
	}

	return &API{
		db:        opts.DB,
		sessions:  opts.DB,
		panel:     opts.Panel,
		resolver:  opts.Resolver,
		tracker:   opts.Tracker,
		resolved:  resolved,
		catalogs:  cache.NewStore[*xtream.Catalog]("catalog", 16, ttl),
		filter:    opts.Filter,
		pool:      opts.Pool,
		rng:       opts.Rand,
		startedAt: time.Now(),
	}
}

// Routes registers every endpoint on router.
func (a *API) Routes(router *mux.Router) {
	api := router.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware, middleware.Gzip)

	api.HandleFunc("/login", a.handleLogin).Methods("POST", "OPTIONS")
	api.HandleFunc("/logout", a.handleLogout).Methods("POST", "OPTIONS")
	api.HandleFunc("/session", a.handleGetSession).Methods("GET", "OPTIONS")

	api.HandleFunc("/accounts", a.handleListAccounts).Methods("GET", "OPTIONS")
	api.HandleFunc("/accounts/{id:[0-9]+}/activate", a.handleActivateAccount).Methods("POST", "OPTIONS")
	api.HandleFunc("/accounts/{id:[0-9]+}", a.handleDeleteAccount).Methods("DELETE", "OPTIONS")

	api.HandleFunc("/catalog/{kind}", a.handleGetCatalog).Methods("GET", "OPTIONS")
	api.HandleFunc("/categories/{kind}", a.handleGetCategories).Methods("GET", "OPTIONS")
	api.HandleFunc("/series/{id}/episodes", a.handleGetEpisodes).Methods("GET", "OPTIONS")
	api.HandleFunc("/recommendations/{kind}", a.handleGetRecommendations).Methods("GET", "OPTIONS")

	api.HandleFunc("/resolve/{kind}/{id}", a.handleResolve).Methods("GET", "OPTIONS")
	api.HandleFunc("/playback", a.handleListPlaybacks).Methods("GET", "OPTIONS")
	api.HandleFunc("/playback", a.handleStartPlayback).Methods("POST")
	api.HandleFunc("/playback/{id}", a.handleGetPlayback).Methods("GET", "OPTIONS")
	api.HandleFunc("/playback/{id}", a.handleStopPlayback).Methods("DELETE")
	api.HandleFunc("/playback/{id}/error", a.handleReportPlaybackError).Methods("POST", "OPTIONS")

	api.HandleFunc("/favorites/{kind}", a.handleListFavorites).Methods("GET", "OPTIONS")
	api.HandleFunc("/favorites/{kind}/{id}", a.handleGetFavorite).Methods("GET", "OPTIONS")
	api.HandleFunc("/favorites/{kind}/{id}", a.handleAddFavorite).Methods("POST")
	api.HandleFunc("/favorites/{kind}/{id}", a.handleRemoveFavorite).Methods("DELETE")
	api.HandleFunc("/favorites/{kind}/{id}/toggle", a.handleToggleFavorite).Methods("POST", "OPTIONS")

	api.HandleFunc("/history", a.handleListHistory).Methods("GET", "OPTIONS")
	api.HandleFunc("/history", a.handleClearHistory).Methods("DELETE")

	api.HandleFunc("/settings/{key}", a.handleGetSetting).Methods("GET", "OPTIONS")
	api.HandleFunc("/settings/{key}", a.handleSetSetting).Methods("PUT")

	api.HandleFunc("/status", a.handleGetStatus).Methods("GET", "OPTIONS")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// corsMiddleware allows browser front ends on other origins and answers
// preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("{handlers/handlers - corsMiddleware} Request: %s %s", r.Method, r.URL.Path)

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, resolver.ErrInvalidSession),
		errors.Is(err, resolver.ErrInvalidDescriptor),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, xtream.ErrAuthFailed),
		errors.Is(err, database.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, playback.ErrUnknownPlayback),
		errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, resolver.ErrRetriesExhausted):
		return http.StatusGone
	case errors.Is(err, xtream.ErrPanelUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// errBadRequest marks malformed request bodies and parameters.
var errBadRequest = errors.New("bad request")

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", errBadRequest, msg)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{handlers/handlers - writeJSON} failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("{handlers/handlers - writeError} %s %s: %v", r.Method, r.URL.Path, err)
	} else {
		logger.Debug("{handlers/handlers - writeError} %s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, map[string]interface{}{
		"status": "error",
		"error":  err.Error(),
	})
}

func writeSuccess(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": message,
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

// activeSession returns the logged-in panel session.
func (a *API) activeSession() (resolver.Session, error) {
	return a.sessions.ActiveSession()
}

// kindVar parses the {kind} route variable.
func kindVar(r *http.Request) (resolver.Kind, error) {
	return resolver.ParseKind(mux.Vars(r)["kind"])
}
