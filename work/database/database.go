package database

import (
	"database/sql"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"

	"xtream-resolver/work/logger"
	"xtream-resolver/work/secret"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoSession is returned when no account is active.
	ErrNoSession = errors.New("no active session")
)

// DB wraps the sql.DB with the credential box used for account passwords
type DB struct {
	*sql.DB
	box *secret.Box
}

// Open creates the database file (and its directory) and applies pending
// migrations. Sealing is off until EnableSealing is called.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	wrapper := &DB{DB: db}

	if err := wrapper.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	logger.Debug("{database/database - Open} SQLite database opened: %s", path)
	return wrapper, nil
}

// migrate runs all migration files not yet recorded in schema_migrations
func (db *DB) migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		// "001_initial_schema.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("bad migration name %s: %w", entry.Name(), err)
		}

		var exists bool
		err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}
		if exists {
			continue
		}

		content, err := migrations.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", entry.Name(), err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", entry.Name(), err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", entry.Name(), err)
		}

		logger.Info("{database/database - migrate} Applied migration: %s", entry.Name())
	}

	return nil
}

// EnableSealing derives the password box from passphrase and the salt kept in
// settings. An empty passphrase falls back to a random key generated on first
// use and stored next to the data, which only protects against casual reads.
func (db *DB) EnableSealing(passphrase string) error {
	salt, err := db.loadOrCreateSecret(settingStorageSalt)
	if err != nil {
		return err
	}

	if passphrase == "" {
		logger.Warn("{database/database - EnableSealing} no storage secret configured, using a generated key stored in the database")
		key, err := db.loadOrCreateSecret(settingStorageKey)
		if err != nil {
			return err
		}
		passphrase = base64.RawStdEncoding.EncodeToString(key)
	}

	box, err := secret.NewBox(passphrase, salt)
	if err != nil {
		return fmt.Errorf("failed to init credential box: %w", err)
	}
	db.box = box
	return nil
}

func (db *DB) loadOrCreateSecret(key string) ([]byte, error) {
	value, err := db.GetSetting(key)
	if err == nil {
		raw, derr := base64.RawStdEncoding.DecodeString(value)
		if derr != nil {
			return nil, fmt.Errorf("corrupt %s setting: %w", key, derr)
		}
		return raw, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	raw, err := secret.NewSalt()
	if err != nil {
		return nil, err
	}
	if err := db.SetSetting(key, base64.RawStdEncoding.EncodeToString(raw)); err != nil {
		return nil, err
	}
	return raw, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	logger.Debug("{database/database - Close} Closing database connection")
	return db.DB.Close()
}

// GetStats returns row counts per table and the file size
func (db *DB) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	tables := []string{"accounts", "favorites", "history"}
	for _, table := range tables {
		var count int
		err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[table+"_count"] = count
	}

	var pageCount, pageSize int
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("failed to get page size: %w", err)
	}
	stats["database_size_bytes"] = pageCount * pageSize

	return stats, nil
}

func nowNano() int64 {
	return time.Now().UnixNano()
}
