// Package sqlite implements store.Backend on a local SQLite database.
// Schema changes ship as embedded migrations applied at open time.
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/hxqlab/agentrelay/internal/store"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Backend persists snapshots in a single SQLite file.
type Backend struct {
	db *sql.DB
}

// New opens the database at path, creating it and applying any pending
// migrations.
func New(path string) (*Backend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	// modernc's driver serializes writes; a single connection avoids
	// SQLITE_BUSY between the janitor and the dispatcher.
	db.SetMaxOpenConns(1)

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	slog.Info("sqlite.opened", "path", path)
	return &Backend{db: db}, nil
}

func applyMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return err
	}
	drv, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (b *Backend) SavePreferences(blob []byte) error {
	_, err := b.db.Exec(`
		INSERT INTO preferences (id, blob) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET blob = excluded.blob`, blob)
	return err
}

func (b *Backend) LoadPreferences() ([]byte, error) {
	var blob []byte
	err := b.db.QueryRow(`SELECT blob FROM preferences WHERE id = 1`).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return blob, err
}

func (b *Backend) Conversation(key string) (store.Conversation, error) {
	var c store.Conversation
	err := b.db.QueryRow(`
		SELECT conversation_id, agent_id FROM conversations WHERE key = ?`, key).
		Scan(&c.ID, &c.AgentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Conversation{}, nil
	}
	return c, err
}

func (b *Backend) SetConversation(key string, c store.Conversation) error {
	_, err := b.db.Exec(`
		INSERT INTO conversations (key, conversation_id, agent_id, updated)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			agent_id        = excluded.agent_id,
			updated         = CURRENT_TIMESTAMP`,
		key, c.ID, c.AgentID)
	return err
}

func (b *Backend) ClearConversation(key string) error {
	_, err := b.db.Exec(`DELETE FROM conversations WHERE key = ?`, key)
	return err
}

func (b *Backend) Close() error { return b.db.Close() }
