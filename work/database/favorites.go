package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"xtream-resolver/work/resolver"
)

// Favorite is a bookmarked catalog item. Payload keeps the listing entry so
// the favorites screen can render without a catalog fetch.
type Favorite struct {
	Kind      resolver.Kind   `json:"kind"`
	StreamID  string          `json:"streamId"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// AddFavorite inserts or refreshes a favorite
func (db *DB) AddFavorite(f Favorite) error {
	if !f.Kind.Valid() || f.StreamID == "" {
		return fmt.Errorf("%w: favorite needs a kind and stream id", resolver.ErrInvalidDescriptor)
	}

	payload := string(f.Payload)
	if payload == "" {
		payload = "{}"
	}

	_, err := db.Exec(`
		INSERT INTO favorites (kind, stream_id, name, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind, stream_id) DO UPDATE SET
			name = excluded.name,
			payload = excluded.payload
	`, string(f.Kind), f.StreamID, f.Name, payload, nowNano())
	if err != nil {
		return fmt.Errorf("failed to save favorite: %w", err)
	}
	return nil
}

// RemoveFavorite deletes a favorite or returns ErrNotFound
func (db *DB) RemoveFavorite(kind resolver.Kind, streamID string) error {
	res, err := db.Exec("DELETE FROM favorites WHERE kind = ? AND stream_id = ?", string(kind), streamID)
	if err != nil {
		return fmt.Errorf("failed to delete favorite: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleFavorite adds f when absent and removes it when present. It returns
// whether f is a favorite afterwards.
func (db *DB) ToggleFavorite(f Favorite) (bool, error) {
	exists, err := db.IsFavorite(f.Kind, f.StreamID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, db.RemoveFavorite(f.Kind, f.StreamID)
	}
	return true, db.AddFavorite(f)
}

// IsFavorite reports whether the item is bookmarked
func (db *DB) IsFavorite(kind resolver.Kind, streamID string) (bool, error) {
	var exists bool
	err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM favorites WHERE kind = ? AND stream_id = ?)", string(kind), streamID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check favorite: %w", err)
	}
	return exists, nil
}

// ListFavorites returns favorites of one kind, newest first
func (db *DB) ListFavorites(kind resolver.Kind) ([]Favorite, error) {
	rows, err := db.Query(`
		SELECT kind, stream_id, name, payload, created_at
		FROM favorites
		WHERE kind = ?
		ORDER BY created_at DESC, rowid DESC
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to load favorites: %w", err)
	}
	defer rows.Close()

	favorites := []Favorite{}
	for rows.Next() {
		var f Favorite
		var k, payload string
		var created int64
		if err := rows.Scan(&k, &f.StreamID, &f.Name, &payload, &created); err != nil {
			return nil, fmt.Errorf("failed to scan favorite: %w", err)
		}
		f.Kind = resolver.Kind(k)
		f.Payload = json.RawMessage(payload)
		f.CreatedAt = time.Unix(0, created)
		favorites = append(favorites, f)
	}
	return favorites, rows.Err()
}

// GetFavorite loads one favorite or ErrNotFound
func (db *DB) GetFavorite(kind resolver.Kind, streamID string) (Favorite, error) {
	var f Favorite
	var payload string
	var created int64
	err := db.QueryRow(`
		SELECT stream_id, name, payload, created_at FROM favorites
		WHERE kind = ? AND stream_id = ?
	`, string(kind), streamID).Scan(&f.StreamID, &f.Name, &payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Favorite{}, ErrNotFound
	}
	if err != nil {
		return Favorite{}, fmt.Errorf("failed to load favorite: %w", err)
	}
	f.Kind = kind
	f.Payload = json.RawMessage(payload)
	f.CreatedAt = time.Unix(0, created)
	return f, nil
}
