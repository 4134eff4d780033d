package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"xtream-resolver/work/logger"
	"xtream-resolver/work/resolver"
)

// SessionStore is the narrow persistence surface the API layer needs for the
// active login.
type SessionStore interface {
	ActiveSession() (resolver.Session, error)
	SaveSession(s resolver.Session, label string) (int64, error)
	ClearSession() error
}

// Account is one saved panel login
type Account struct {
	ID        int64     `json:"id"`
	ServerURL string    `json:"serverUrl"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Label     string    `json:"label"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session converts the account into resolver input.
func (a Account) Session() resolver.Session {
	return resolver.Session{ServerBaseURL: a.ServerURL, Username: a.Username, Password: a.Password}
}

func (db *DB) seal(password string) (string, error) {
	if db.box == nil {
		return password, nil
	}
	return db.box.Seal(password)
}

func (db *DB) open(stored string) (string, error) {
	if db.box == nil {
		return stored, nil
	}
	return db.box.Open(stored)
}

// SaveAccount inserts an account or updates the password and label of the
// existing one for the same server and username.
func (db *DB) SaveAccount(a Account) (int64, error) {
	sealed, err := db.seal(a.Password)
	if err != nil {
		return 0, fmt.Errorf("failed to seal password: %w", err)
	}

	now := nowNano()
	var id int64
	err = db.QueryRow(`
		INSERT INTO accounts (server_url, username, password, label, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_url, username) DO UPDATE SET
			password = excluded.password,
			label = CASE WHEN excluded.label = '' THEN accounts.label ELSE excluded.label END,
			updated_at = excluded.updated_at
		RETURNING id
	`, a.ServerURL, a.Username, sealed, a.Label, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save account: %w", err)
	}
	return id, nil
}

// ListAccounts returns all accounts in creation order with passwords opened
func (db *DB) ListAccounts() ([]Account, error) {
	activeID, err := db.ActiveAccountID()
	if err != nil && !errors.Is(err, ErrNoSession) {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT id, server_url, username, password, label, created_at
		FROM accounts
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := db.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		a.Active = a.ID == activeID
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// GetAccount loads one account or ErrNotFound
func (db *DB) GetAccount(id int64) (Account, error) {
	row := db.QueryRow(`
		SELECT id, server_url, username, password, label, created_at
		FROM accounts
		WHERE id = ?
	`, id)

	a, err := db.scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	return a, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (db *DB) scanAccount(row rowScanner) (Account, error) {
	var a Account
	var stored string
	var created int64
	if err := row.Scan(&a.ID, &a.ServerURL, &a.Username, &stored, &a.Label, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, err
		}
		return Account{}, fmt.Errorf("failed to scan account: %w", err)
	}

	password, err := db.open(stored)
	if err != nil {
		return Account{}, fmt.Errorf("failed to open password for account %d: %w", a.ID, err)
	}
	a.Password = password
	a.CreatedAt = time.Unix(0, created)
	return a, nil
}

// DeleteAccount removes an account, clearing the active session if it was
// the active one
func (db *DB) DeleteAccount(id int64) error {
	res, err := db.Exec("DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	activeID, err := db.ActiveAccountID()
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	if activeID == id {
		return db.DeleteSetting(SettingActiveAccount)
	}
	return nil
}

// ActivateAccount makes id the active account
func (db *DB) ActivateAccount(id int64) error {
	if _, err := db.GetAccount(id); err != nil {
		return err
	}
	return db.SetSetting(SettingActiveAccount, strconv.FormatInt(id, 10))
}

// ActiveAccountID returns the active account ID or ErrNoSession
func (db *DB) ActiveAccountID() (int64, error) {
	value, err := db.GetSetting(SettingActiveAccount)
	if errors.Is(err, ErrNotFound) {
		return 0, ErrNoSession
	}
	if err != nil {
		return 0, err
	}

	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		logger.Warn("{database/accounts - ActiveAccountID} ignoring malformed active account %q", value)
		return 0, ErrNoSession
	}
	return id, nil
}

// ActiveSession implements SessionStore
func (db *DB) ActiveSession() (resolver.Session, error) {
	id, err := db.ActiveAccountID()
	if err != nil {
		return resolver.Session{}, err
	}

	a, err := db.GetAccount(id)
	if errors.Is(err, ErrNotFound) {
		return resolver.Session{}, ErrNoSession
	}
	if err != nil {
		return resolver.Session{}, err
	}
	return a.Session(), nil
}

// SaveSession implements SessionStore: the session is stored as an account
// and made active
func (db *DB) SaveSession(s resolver.Session, label string) (int64, error) {
	id, err := db.SaveAccount(Account{
		ServerURL: s.ServerBaseURL,
		Username:  s.Username,
		Password:  s.Password,
		Label:     label,
	})
	if err != nil {
		return 0, err
	}
	if err := db.SetSetting(SettingActiveAccount, strconv.FormatInt(id, 10)); err != nil {
		return 0, err
	}
	return id, nil
}

// ClearSession implements SessionStore. Saved accounts are kept.
func (db *DB) ClearSession() error {
	return db.DeleteSetting(SettingActiveAccount)
}
