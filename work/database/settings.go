package database

import (
	"database/sql"
	"errors"
	"fmt"
)

const (
	SettingActiveAccount     = "active_account"
	SettingPreferredLanguage = "preferred_language"

	settingStorageSalt = "storage_salt"
	settingStorageKey  = "storage_key"
)

// publicSettings are the keys the HTTP API may read and write.
var publicSettings = map[string]bool{
	SettingPreferredLanguage: true,
}

// IsPublicSetting reports whether key is user-editable.
func IsPublicSetting(key string) bool {
	return publicSettings[key]
}

// GetSetting returns the stored value or ErrNotFound
func (db *DB) GetSetting(key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting inserts or replaces a setting
func (db *DB) SetSetting(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, nowNano())
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return nil
}

// DeleteSetting removes a setting; a missing key is not an error
func (db *DB) DeleteSetting(key string) error {
	if _, err := db.Exec("DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}
