package database

import (
	"fmt"
	"time"

	"xtream-resolver/work/resolver"
)

// HistoryLimit is how many recently played items are kept.
const HistoryLimit = 10

// HistoryEntry is one recently played item. Entries are unique by name.
type HistoryEntry struct {
	Name     string        `json:"name"`
	Kind     resolver.Kind `json:"kind"`
	StreamID string        `json:"streamId"`
	URL      string        `json:"url,omitempty"`
	PlayedAt time.Time     `json:"playedAt"`
}

// AddHistory records e as the most recent entry, dropping an older entry
// with the same name and trimming to HistoryLimit
func (db *DB) AddHistory(e HistoryEntry) error {
	if e.Name == "" {
		e.Name = string(e.Kind) + "/" + e.StreamID
	}

	// stream URLs embed the panel credentials
	sealedURL := e.URL
	if e.URL != "" {
		var err error
		if sealedURL, err = db.seal(e.URL); err != nil {
			return fmt.Errorf("failed to seal history url: %w", err)
		}
	}

	playedAt := nowNano()
	if !e.PlayedAt.IsZero() {
		playedAt = e.PlayedAt.UnixNano()
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM history WHERE name = ?", e.Name); err != nil {
		return fmt.Errorf("failed to dedup history: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO history (name, kind, stream_id, url, played_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.Name, string(e.Kind), e.StreamID, sealedURL, playedAt)
	if err != nil {
		return fmt.Errorf("failed to add history: %w", err)
	}

	_, err = tx.Exec(`
		DELETE FROM history
		WHERE id NOT IN (SELECT id FROM history ORDER BY id DESC LIMIT ?)
	`, HistoryLimit)
	if err != nil {
		return fmt.Errorf("failed to trim history: %w", err)
	}

	return tx.Commit()
}

// ListHistory returns entries newest first
func (db *DB) ListHistory() ([]HistoryEntry, error) {
	rows, err := db.Query(`
		SELECT name, kind, stream_id, url, played_at
		FROM history
		ORDER BY id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	entries := []HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		var kind string
		var played int64
		if err := rows.Scan(&e.Name, &kind, &e.StreamID, &e.URL, &played); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		if e.URL, err = db.open(e.URL); err != nil {
			return nil, fmt.Errorf("failed to open history url: %w", err)
		}
		e.Kind = resolver.Kind(kind)
		e.PlayedAt = time.Unix(0, played)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearHistory removes every entry
func (db *DB) ClearHistory() error {
	if _, err := db.Exec("DELETE FROM history"); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}
