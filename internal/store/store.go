package store

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/ncruces/go-sqlite3/ext/serdes"
)

// magicHeader is the fixed leading byte sequence of the SQLite file format.
// Every blob obtained from an external source is checked against it before
// being handed to the engine.
const magicHeader = "SQLite format 3\x00"

// ValidImage reports whether blob begins with the SQLite magic header.
func ValidImage(blob []byte) bool {
	return bytes.HasPrefix(blob, []byte(magicHeader))
}

// Store wraps one exclusively-owned in-memory SQLite connection holding the
// entry table. All access goes through its method surface.
type Store struct {
	mu   sync.RWMutex
	conn *sqlite3.Conn
}

// schema is the base entry table. Columns introduced after the original
// schema (is_root, strongs_numbers) are added by Migrate, not here.
const schema = `
CREATE TABLE IF NOT EXISTS entries (
    id TEXT PRIMARY KEY,
    hebrew_word TEXT NOT NULL,
    hebrew_consonantal TEXT NOT NULL DEFAULT '',
    transliteration TEXT NOT NULL DEFAULT '',
    part_of_speech TEXT NOT NULL DEFAULT '',
    definition TEXT NOT NULL DEFAULT '',
    root TEXT NOT NULL DEFAULT '',
    source_page TEXT NOT NULL DEFAULT '',
    source_url TEXT NOT NULL DEFAULT '',
    date_added INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'unchecked',
    validation_issue TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_entries_hebrew_word ON entries(hebrew_word);
CREATE INDEX IF NOT EXISTS idx_entries_hebrew_consonantal ON entries(hebrew_consonantal);
`

// Open creates a brand-new empty in-memory store with the base schema.
func Open() (*Store, error) {
	conn, err := sqlite3.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.createSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// OpenImage opens a store from a serialized database image. The blob must
// pass the magic-header gate; a blob that deserializes but cannot satisfy
// schema creation is rejected so the caller can fall back to another source.
func OpenImage(blob []byte) (*Store, error) {
	if !ValidImage(blob) {
		return nil, fmt.Errorf("blob does not begin with the SQLite magic header")
	}

	conn, err := sqlite3.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := serdes.Deserialize(conn, "main", blob); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to deserialize image: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.createSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// createSchema applies the base schema. Idempotent against any image.
func (s *Store) createSchema() error {
	if err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the engine connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// Serialize returns the complete binary image of the database.
func (s *Store) Serialize() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, err := serdes.Serialize(s.conn, "main")
	if err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	return blob, nil
}

// =============================================================================
// Entry CRUD
// =============================================================================

const entryColumns = `id, hebrew_word, hebrew_consonantal, transliteration,
	part_of_speech, definition, root, is_root, strongs_numbers,
	source_page, source_url, date_added, status, validation_issue`

// UpsertEntries writes every entry in one transaction. An existing id is
// fully replaced, not merged. The whole batch rolls back on any failure;
// partial batches are never committed.
func (s *Store) UpsertEntries(entries []*Entry) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := s.conn.Begin()
	defer txn.End(&err)

	stmt, _, err := s.conn.Prepare(`
		INSERT OR REPLACE INTO entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		stmt.BindText(1, e.ID)
		stmt.BindText(2, e.HebrewWord)
		stmt.BindText(3, e.HebrewConsonantal)
		stmt.BindText(4, e.Transliteration)
		stmt.BindText(5, e.PartOfSpeech)
		stmt.BindText(6, e.Definition)
		stmt.BindText(7, e.Root)
		stmt.BindBool(8, e.IsRoot)
		stmt.BindText(9, e.StrongsNumbers)
		stmt.BindText(10, e.SourcePage)
		stmt.BindText(11, e.SourceURL)
		stmt.BindInt64(12, e.DateAdded)
		stmt.BindText(13, string(e.Status))
		stmt.BindText(14, e.ValidationIssue)

		if err = stmt.Exec(); err != nil {
			return fmt.Errorf("upsert entry %s: %w", e.ID, err)
		}
	}
	return nil
}

// DeleteEntries removes all rows whose id is in ids, in a single statement.
func (s *Store) DeleteEntries(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	stmt, _, err := s.conn.Prepare(`DELETE FROM entries WHERE id IN (` + placeholders + `)`)
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	defer stmt.Close()

	for i, id := range ids {
		stmt.BindText(i+1, id)
	}
	if err := stmt.Exec(); err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	return nil
}

// AllEntries returns every entry, newest first.
func (s *Store) AllEntries() ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stmt, _, err := s.conn.Prepare(`
		SELECT ` + entryColumns + ` FROM entries ORDER BY date_added DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare scan: %w", err)
	}
	defer stmt.Close()

	return collectEntries(stmt)
}

// EntriesByLetter returns entries whose pointed or consonantal headword
// begins with the given letter, ordered ascending by headword.
func (s *Store) EntriesByLetter(letter string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stmt, _, err := s.conn.Prepare(`
		SELECT ` + entryColumns + ` FROM entries
		WHERE substr(hebrew_word, 1, 1) = ? OR substr(hebrew_consonantal, 1, 1) = ?
		ORDER BY hebrew_word ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare letter query: %w", err)
	}
	defer stmt.Close()

	stmt.BindText(1, letter)
	stmt.BindText(2, letter)

	return collectEntries(stmt)
}

// CountEntries returns the total number of entries.
func (s *Store) CountEntries() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stmt, _, err := s.conn.Prepare(`SELECT COUNT(*) FROM entries`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	if !stmt.Step() {
		return 0, stmt.Err()
	}
	return stmt.ColumnInt(0), nil
}

func collectEntries(stmt *sqlite3.Stmt) ([]*Entry, error) {
	var entries []*Entry
	for stmt.Step() {
		e := &Entry{
			ID:                stmt.ColumnText(0),
			HebrewWord:        stmt.ColumnText(1),
			HebrewConsonantal: stmt.ColumnText(2),
			Transliteration:   stmt.ColumnText(3),
			PartOfSpeech:      stmt.ColumnText(4),
			Definition:        stmt.ColumnText(5),
			Root:              stmt.ColumnText(6),
			IsRoot:            stmt.ColumnBool(7),
			StrongsNumbers:    stmt.ColumnText(8),
			SourcePage:        stmt.ColumnText(9),
			SourceURL:         stmt.ColumnText(10),
			DateAdded:         stmt.ColumnInt64(11),
			Status:            Status(stmt.ColumnText(12)),
			ValidationIssue:   stmt.ColumnText(13),
		}
		entries = append(entries, e)
	}
	if err := stmt.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
