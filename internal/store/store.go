// Package store keeps the client's contacts and chat history in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/omochice/toy-messenger/pkg/protocol"
)

var ErrInvalidDirection = errors.New("invalid message direction")

// DB is the local persistence used by the transport and the CLI.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path. Use ":memory:" for a throwaway
// database.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &DB{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contacts (
		name TEXT PRIMARY KEY,
		added_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		peer TEXT NOT NULL,
		direction TEXT NOT NULL CHECK (direction IN ('in', 'out')),
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_peer ON messages(peer, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *DB) Close() error {
	return s.db.Close()
}

// History returns the conversation with peer, oldest first.
func (s *DB) History(peer string) ([]protocol.ChatRecord, error) {
	query := `
		SELECT peer, direction, text, created_at
		FROM messages
		WHERE peer = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.Query(query, peer)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []protocol.ChatRecord
	for rows.Next() {
		var (
			r         protocol.ChatRecord
			direction string
			createdAt int64
		)
		if err := rows.Scan(&r.Peer, &direction, &r.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		r.Direction = protocol.Direction(direction)
		r.Timestamp = time.Unix(0, createdAt).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// SaveMessage appends a message to the conversation with peer.
func (s *DB) SaveMessage(peer string, dir protocol.Direction, text string) error {
	if dir != protocol.DirectionIn && dir != protocol.DirectionOut {
		return fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
	}
	_, err := s.db.Exec(
		`INSERT INTO messages (peer, direction, text, created_at) VALUES (?, ?, ?, ?)`,
		peer, string(dir), text, s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// Contacts returns every contact name in alphabetical order.
func (s *DB) Contacts() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM contacts ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// AddContact adds name. Adding an existing contact is a no-op.
func (s *DB) AddContact(name string) error {
	_, err := s.db.Exec(
		`INSERT INTO contacts (name, added_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to add contact: %w", err)
	}
	return nil
}

// RemoveContact removes name. Removing an unknown contact is not an error.
func (s *DB) RemoveContact(name string) error {
	if _, err := s.db.Exec(`DELETE FROM contacts WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to remove contact: %w", err)
	}
	return nil
}

// ContactExists reports whether name is a contact.
func (s *DB) ContactExists(name string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM contacts WHERE name = ?`, name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up contact: %w", err)
	}
	return true, nil
}
