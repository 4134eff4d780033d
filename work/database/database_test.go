package database

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xtream-resolver/work/resolver"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.SetSetting(SettingPreferredLanguage, "de"))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.GetSetting(SettingPreferredLanguage)
	require.NoError(t, err)
	assert.Equal(t, "de", got)

	var applied int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, 1, applied)
}

func TestSettings(t *testing.T) {
	db := openTestDB(t)

	_, err := db.GetSetting("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.SetSetting("k", "v1"))
	require.NoError(t, db.SetSetting("k", "v2"))
	got, err := db.GetSetting("k")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)

	require.NoError(t, db.DeleteSetting("k"))
	require.NoError(t, db.DeleteSetting("k"))
	_, err = db.GetSetting("k")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.True(t, IsPublicSetting(SettingPreferredLanguage))
	assert.False(t, IsPublicSetting(settingStorageKey))
}

func TestSessionStore(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.EnableSealing("passphrase"))

	var store SessionStore = db
	_, err := store.ActiveSession()
	assert.ErrorIs(t, err, ErrNoSession)

	s := resolver.Session{ServerBaseURL: "http://panel:8080", Username: "u", Password: "secret-pw"}
	id, err := store.SaveSession(s, "home")
	require.NoError(t, err)

	got, err := store.ActiveSession()
	require.NoError(t, err)
	assert.Equal(t, s, got)

	var stored string
	require.NoError(t, db.QueryRow("SELECT password FROM accounts WHERE id = ?", id).Scan(&stored))
	assert.NotContains(t, stored, "secret-pw")
	assert.True(t, strings.HasPrefix(stored, "v1:"))

	require.NoError(t, store.ClearSession())
	_, err = store.ActiveSession()
	assert.ErrorIs(t, err, ErrNoSession)

	accounts, err := db.ListAccounts()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "home", accounts[0].Label)
	assert.False(t, accounts[0].Active)
}

func TestSealingSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.EnableSealing(""))
	_, err = db.SaveSession(resolver.Session{ServerBaseURL: "http://h", Username: "u", Password: "pw"}, "")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.EnableSealing(""))

	got, err := db.ActiveSession()
	require.NoError(t, err)
	assert.Equal(t, "pw", got.Password)
}

func TestAccounts(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.EnableSealing("k"))

	first, err := db.SaveAccount(Account{ServerURL: "http://a", Username: "u", Password: "1", Label: "A"})
	require.NoError(t, err)
	second, err := db.SaveAccount(Account{ServerURL: "http://b", Username: "u", Password: "2"})
	require.NoError(t, err)

	// same server and user updates in place and keeps the label
	again, err := db.SaveAccount(Account{ServerURL: "http://a", Username: "u", Password: "3"})
	require.NoError(t, err)
	assert.Equal(t, first, again)

	a, err := db.GetAccount(first)
	require.NoError(t, err)
	assert.Equal(t, "3", a.Password)
	assert.Equal(t, "A", a.Label)

	require.NoError(t, db.ActivateAccount(second))
	accounts, err := db.ListAccounts()
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.False(t, accounts[0].Active)
	assert.True(t, accounts[1].Active)

	assert.ErrorIs(t, db.ActivateAccount(999), ErrNotFound)
	_, err = db.GetAccount(999)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.DeleteAccount(second))
	_, err = db.ActiveSession()
	assert.ErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, db.DeleteAccount(second), ErrNotFound)
}

func TestFavorites(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.AddFavorite(Favorite{Kind: resolver.KindMovie, StreamID: "1", Name: "One", Payload: json.RawMessage(`{"rating":"7"}`)}))
	require.NoError(t, db.AddFavorite(Favorite{Kind: resolver.KindMovie, StreamID: "2", Name: "Two"}))
	require.NoError(t, db.AddFavorite(Favorite{Kind: resolver.KindLive, StreamID: "1", Name: "Chan"}))

	movies, err := db.ListFavorites(resolver.KindMovie)
	require.NoError(t, err)
	require.Len(t, movies, 2)
	assert.Equal(t, "2", movies[0].StreamID)
	assert.JSONEq(t, `{"rating":"7"}`, string(movies[1].Payload))

	fav, err := db.IsFavorite(resolver.KindLive, "1")
	require.NoError(t, err)
	assert.True(t, fav)

	on, err := db.ToggleFavorite(Favorite{Kind: resolver.KindLive, StreamID: "1"})
	require.NoError(t, err)
	assert.False(t, on)
	on, err = db.ToggleFavorite(Favorite{Kind: resolver.KindSeries, StreamID: "9", Name: "Show"})
	require.NoError(t, err)
	assert.True(t, on)

	got, err := db.GetFavorite(resolver.KindSeries, "9")
	require.NoError(t, err)
	assert.Equal(t, "Show", got.Name)

	assert.ErrorIs(t, db.RemoveFavorite(resolver.KindLive, "1"), ErrNotFound)
	assert.ErrorIs(t, db.AddFavorite(Favorite{Kind: "radio", StreamID: "1"}), resolver.ErrInvalidDescriptor)

	empty, err := db.ListFavorites(resolver.KindLive)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHistoryDedupAndCap(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 12; i++ {
		require.NoError(t, db.AddHistory(HistoryEntry{Name: fmt.Sprintf("item-%d", i), Kind: resolver.KindMovie, StreamID: fmt.Sprint(i)}))
	}
	// replaying an older item moves it to the front instead of duplicating
	require.NoError(t, db.AddHistory(HistoryEntry{Name: "item-5", Kind: resolver.KindMovie, StreamID: "5", URL: "http://h/movie/u/p/5.mp4"}))

	entries, err := db.ListHistory()
	require.NoError(t, err)
	require.Len(t, entries, HistoryLimit)
	assert.Equal(t, "item-5", entries[0].Name)
	assert.Equal(t, "http://h/movie/u/p/5.mp4", entries[0].URL)
	assert.Equal(t, "item-11", entries[1].Name)

	names := map[string]int{}
	for _, e := range entries {
		names[e.Name]++
	}
	for name, n := range names {
		assert.Equal(t, 1, n, name)
	}
	assert.NotContains(t, names, "item-0")

	require.NoError(t, db.ClearHistory())
	entries, err = db.ListHistory()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AddHistory(HistoryEntry{Name: "x", Kind: resolver.KindLive, StreamID: "1"}))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats["history_count"])
	assert.Equal(t, 0, stats["accounts_count"])
	assert.Greater(t, stats["database_size_bytes"], 0)
}

func TestHistoryURLSealed(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.EnableSealing("k"))

	url := "http://h/live/u/secret-pw/1.m3u8"
	require.NoError(t, db.AddHistory(HistoryEntry{Name: "News", Kind: resolver.KindLive, StreamID: "1", URL: url}))

	var stored string
	require.NoError(t, db.QueryRow("SELECT url FROM history WHERE name = ?", "News").Scan(&stored))
	assert.NotContains(t, stored, "secret-pw")

	entries, err := db.ListHistory()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, url, entries[0].URL)
}

func TestHistoryKeepsPlayedAt(t *testing.T) {
	db := openTestDB(t)

	at := time.Date(2024, 3, 1, 20, 15, 0, 0, time.UTC)
	require.NoError(t, db.AddHistory(HistoryEntry{Name: "Heat", Kind: resolver.KindMovie, StreamID: "1", PlayedAt: at}))

	before := time.Now()
	require.NoError(t, db.AddHistory(HistoryEntry{Name: "Ronin", Kind: resolver.KindMovie, StreamID: "5"}))

	entries, err := db.ListHistory()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.False(t, entries[0].PlayedAt.Before(before.Add(-time.Second)), "unset time defaults to now")
	assert.True(t, at.Equal(entries[1].PlayedAt))
}
