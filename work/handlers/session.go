package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"xtream-resolver/work/database"
	"xtream-resolver/work/logger"
	"xtream-resolver/work/resolver"
)

// sessionView is a session with the password withheld.
type sessionView struct {
	ServerBaseURL string `json:"serverBaseUrl"`
	Username      string `json:"username"`
}

func viewOf(s resolver.Session) sessionView {
	return sessionView{ServerBaseURL: s.ServerBaseURL, Username: s.Username}
}

// handleLogin detects the panel endpoint, checks the credentials and makes
// the login the active account.
//
// Body: {"server": "...", "username": "...", "password": "...", "label": "..."}
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Server   string `json:"server"`
		Username string `json:"username"`
		Password string `json:"password"`
		Label    string `json:"label"`
	}
	if err := decodeBody(r, &request); err != nil {
		writeError(w, r, err)
		return
	}

	session, auth, err := a.panel.Authenticate(r.Context(), request.Server, request.Username, request.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	id, err := a.sessions.SaveSession(session, request.Label)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// playbacks belong to the previous login
	a.tracker.StopAll()
	logger.Info("{handlers/session - handleLogin} account %d active for %s", id, session.ServerBaseURL)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "success",
		"accountId":  id,
		"session":    viewOf(session),
		"userInfo":   auth.UserInfo,
		"serverInfo": auth.ServerInfo,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.ClearSession(); err != nil {
		writeError(w, r, err)
		return
	}
	a.tracker.StopAll()
	writeSuccess(w, "Logged out")
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := a.activeSession()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(session))
}

func (a *API) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := a.db.ListAccounts()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (a *API) handleActivateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.db.ActivateAccount(id); err != nil {
		writeError(w, r, err)
		return
	}
	a.tracker.StopAll()
	writeSuccess(w, fmt.Sprintf("Account %d activated", id))
}

func (a *API) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	active, err := a.db.ActiveAccountID()
	if err != nil && !errors.Is(err, database.ErrNoSession) {
		writeError(w, r, err)
		return
	}
	if err := a.db.DeleteAccount(id); err != nil {
		writeError(w, r, err)
		return
	}
	if active == id {
		a.tracker.StopAll()
	}
	writeSuccess(w, fmt.Sprintf("Account %d deleted", id))
}

func accountID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, badRequest("invalid account id")
	}
	return id, nil
}
