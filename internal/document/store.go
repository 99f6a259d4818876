// Package document provides the local document store and the read-only
// document view handed to replication filters.
package document

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO required)
)

// ErrNotFound is returned by Get for unknown document IDs.
var ErrNotFound = errors.New("document not found")

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id  TEXT PRIMARY KEY,
	seq     INTEGER NOT NULL,
	body    BLOB,
	deleted INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS documents_seq ON documents(seq);
CREATE TABLE IF NOT EXISTS sync_state (
	k TEXT PRIMARY KEY,
	v INTEGER NOT NULL
);
`

// Store is a SQLite-backed document store. Every write assigns the document
// a new position in a store-wide sequence, which is what replication sessions
// checkpoint against. Deletions are kept as tombstones so they replicate.
//
// A Store is safe for concurrent use.
type Store struct {
	name   string
	path   string
	logger *slog.Logger

	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if necessary) the document store at path. The store
// name, used for replication subjects and checkpoint scoping, is the file
// name without its extension.
func Open(path string) (*Store, error) {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return open(path, name)
}

// OpenInMemory opens a private in-memory store, mainly for tests.
func OpenInMemory(name string) (*Store, error) {
	return open(":memory:", name)
}

func open(path, name string) (*Store, error) {
	if name == "" {
		return nil, fmt.Errorf("store name is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	// A single connection keeps in-memory databases coherent and avoids
	// SQLITE_BUSY on concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{
		name:   name,
		path:   path,
		logger: slog.Default().With("component", "store", "db", name),
		db:     db,
	}, nil
}

// Name returns the store name.
func (s *Store) Name() string {
	return s.name
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Put stores a document body under id, assigning it a new sequence.
// It returns the assigned sequence.
func (s *Store) Put(id string, body []byte) (uint64, error) {
	if id == "" {
		return 0, fmt.Errorf("document id is required")
	}
	return s.write(id, body, false)
}

// Delete records a tombstone for id, assigning it a new sequence.
// Deleting an unknown document is not an error; the tombstone still
// replicates.
func (s *Store) Delete(id string) (uint64, error) {
	if id == "" {
		return 0, fmt.Errorf("document id is required")
	}
	return s.write(id, nil, true)
}

// Apply upserts a revision received from a peer, assigning it a fresh local
// sequence. Last write wins. Applying a revision identical to the current
// one is a no-op so that bidirectional replication converges instead of
// echoing revisions back and forth.
func (s *Store) Apply(rev Revision) error {
	if rev.DocID == "" {
		return fmt.Errorf("document id is required")
	}
	current, err := s.Get(rev.DocID)
	if err == nil &&
		current.Flags.Deleted() == rev.Flags.Deleted() &&
		bytes.Equal(current.Body, rev.Body) {
		return nil
	}
	_, err = s.write(rev.DocID, rev.Body, rev.Flags.Deleted())
	return err
}

func (s *Store) write(id string, body []byte, deleted bool) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return 0, fmt.Errorf("store is closed")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq uint64
	err = tx.QueryRow(
		`INSERT INTO sync_state (k, v) VALUES ('last_seq', 1)
		 ON CONFLICT (k) DO UPDATE SET v = v + 1
		 RETURNING v`,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("advance sequence: %w", err)
	}

	del := 0
	if deleted {
		del = 1
		body = nil
	}
	_, err = tx.Exec(
		`INSERT INTO documents (doc_id, seq, body, deleted) VALUES (?, ?, ?, ?)
		 ON CONFLICT (doc_id) DO UPDATE SET seq = excluded.seq, body = excluded.body, deleted = excluded.deleted`,
		id, seq, body, del,
	)
	if err != nil {
		return 0, fmt.Errorf("write document %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return seq, nil
}

// Get returns the current revision of id. Tombstones are returned with the
// deleted flag set; unknown IDs return ErrNotFound.
func (s *Store) Get(id string) (Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return Revision{}, fmt.Errorf("store is closed")
	}

	var rev Revision
	var deleted int
	err := s.db.QueryRow(
		`SELECT seq, body, deleted FROM documents WHERE doc_id = ?`, id,
	).Scan(&rev.Sequence, &rev.Body, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return Revision{}, ErrNotFound
	}
	if err != nil {
		return Revision{}, fmt.Errorf("read document %s: %w", id, err)
	}

	rev.DocID = id
	if deleted != 0 {
		rev.Flags |= RevDeleted
	}
	return rev, nil
}

// ChangesSince returns up to limit revisions with sequence greater than seq,
// in sequence order. A limit of zero or less means no limit.
func (s *Store) ChangesSince(seq uint64, limit int) ([]Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, fmt.Errorf("store is closed")
	}

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT doc_id, seq, body, deleted FROM documents WHERE seq > ? ORDER BY seq LIMIT ?`,
		seq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("read changes since %d: %w", seq, err)
	}
	defer func() { _ = rows.Close() }()

	var revs []Revision
	for rows.Next() {
		var rev Revision
		var deleted int
		if err := rows.Scan(&rev.DocID, &rev.Sequence, &rev.Body, &deleted); err != nil {
			return nil, fmt.Errorf("scan change row: %w", err)
		}
		if deleted != 0 {
			rev.Flags |= RevDeleted
		}
		revs = append(revs, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return revs, nil
}

// GetState reads a named engine state value, zero when unset. Engines use
// this for checkpoints of in-process sessions.
func (s *Store) GetState(key string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return 0, fmt.Errorf("store is closed")
	}

	var v uint64
	err := s.db.QueryRow(`SELECT v FROM sync_state WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read state %s: %w", key, err)
	}
	return v, nil
}

// SetState writes a named engine state value.
func (s *Store) SetState(key string, v uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.Exec(
		`INSERT INTO sync_state (k, v) VALUES (?, ?)
		 ON CONFLICT (k) DO UPDATE SET v = excluded.v`,
		key, v,
	)
	if err != nil {
		return fmt.Errorf("write state %s: %w", key, err)
	}
	return nil
}

// DeleteState removes a named engine state value. Deleting an unset key is
// not an error.
func (s *Store) DeleteState(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return fmt.Errorf("store is closed")
	}

	if _, err := s.db.Exec(`DELETE FROM sync_state WHERE k = ?`, key); err != nil {
		return fmt.Errorf("delete state %s: %w", key, err)
	}
	return nil
}

// LastSequence returns the highest sequence assigned so far, zero for a
// fresh store.
func (s *Store) LastSequence() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return 0, fmt.Errorf("store is closed")
	}

	var seq uint64
	err := s.db.QueryRow(`SELECT v FROM sync_state WHERE k = 'last_seq'`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read last sequence: %w", err)
	}
	return seq, nil
}
