package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"xtream-resolver/work/catalog"
	"xtream-resolver/work/filter"
	"xtream-resolver/work/resolver"
	"xtream-resolver/work/xtream"
)

const (
	defaultRecommendations = 10
	maxRecommendations     = 50
)

// catalogFor returns the cached catalog of s or loads it from the panel.
// Listings are filtered once, before they are cached.
func (a *API) catalogFor(r *http.Request, s resolver.Session) (*xtream.Catalog, error) {
	key := a.resolver.NormalizeBaseURL(s.ServerBaseURL) + "|" + s.Username
	if r.URL.Query().Get("refresh") != "1" {
		if c, ok := a.catalogs.Get(key); ok {
			return c, nil
		}
	}

	c, err := a.panel.LoadCatalog(r.Context(), a.pool, s)
	if err != nil {
		return nil, err
	}
	filter.FilterCatalog(c, a.filter)
	a.catalogs.Set(key, c)
	return c, nil
}

// loadKind resolves the session, the {kind} variable and the catalog that
// every listing endpoint starts from.
func (a *API) loadKind(r *http.Request) (resolver.Kind, *xtream.Catalog, error) {
	session, err := a.activeSession()
	if err != nil {
		return "", nil, err
	}
	kind, err := kindVar(r)
	if err != nil {
		return "", nil, err
	}
	c, err := a.catalogFor(r, session)
	if err != nil {
		return "", nil, err
	}
	return kind, c, nil
}

// handleGetCatalog lists one kind. Query parameters:
//   - category: only items of that category ID
//   - q: case-insensitive name search
//   - grouped=1: bucket the result by category
//   - refresh=1: reload from the panel
func (a *API) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	kind, c, err := a.loadKind(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	query := r.URL.Query()
	items := c.Items[kind]
	if categoryID := query.Get("category"); categoryID != "" {
		inCategory := make([]xtream.Item, 0)
		for _, item := range items {
			if item.CategoryID == categoryID {
				inCategory = append(inCategory, item)
			}
		}
		items = inCategory
	}
	items = catalog.Search(items, query.Get("q"))
	if items == nil {
		items = []xtream.Item{}
	}

	response := map[string]interface{}{
		"kind":     kind,
		"count":    len(items),
		"loadedAt": c.LoadedAt,
	}
	if query.Get("grouped") == "1" {
		response["groups"] = catalog.GroupByCategory(items, c.Categories[kind])
	} else {
		response["items"] = items
	}
	writeJSON(w, http.StatusOK, response)
}

func (a *API) handleGetCategories(w http.ResponseWriter, r *http.Request) {
	kind, c, err := a.loadKind(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	categories := c.Categories[kind]
	if categories == nil {
		categories = []xtream.Category{}
	}
	writeJSON(w, http.StatusOK, categories)
}

// handleGetEpisodes lists the episodes of one series, straight from the panel.
func (a *API) handleGetEpisodes(w http.ResponseWriter, r *http.Request) {
	session, err := a.activeSession()
	if err != nil {
		writeError(w, r, err)
		return
	}

	seriesID := mux.Vars(r)["id"]
	episodes, err := a.panel.Episodes(r.Context(), session, seriesID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"seriesId": seriesID,
		"episodes": episodes,
	})
}

// handleGetRecommendations returns a random sample of one kind, ?n= items
// (default 10, at most 50).
func (a *API) handleGetRecommendations(w http.ResponseWriter, r *http.Request) {
	kind, c, err := a.loadKind(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	n := defaultRecommendations
	if raw := r.URL.Query().Get("n"); raw != "" {
		n, err = strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, badRequest("invalid n"))
			return
		}
	}
	if n > maxRecommendations {
		n = maxRecommendations
	}

	a.rngMu.Lock()
	picked := catalog.Recommend(c.Items[kind], n, a.rng)
	a.rngMu.Unlock()

	writeJSON(w, http.StatusOK, picked)
}
