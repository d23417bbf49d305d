package lexicon

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Well-known document names read by the [Loader].
const (
	DocLexicon        = "lexicon"
	DocGlobalLexicon  = "global_lexicon"
	DocProtectedWords = "protected_words"
	DocConfig         = "config"
)

// GlobalUserID is the pseudo-user that owns shared documents such as the
// global lexicon and the protected-words list.
const GlobalUserID = "_global"

// ErrDocumentNotFound is returned by a [Store] when the requested document
// does not exist for the given user.
var ErrDocumentNotFound = errors.New("lexicon: document not found")

// Store provides read access to the per-user JSON documents the loader
// assembles snapshots from. Implementations must be safe for concurrent use.
type Store interface {
	// Document returns the raw JSON body of the named document for userID,
	// or [ErrDocumentNotFound].
	Document(ctx context.Context, userID, name string) ([]byte, error)
}

// ─── Postgres store ──────────────────────────────────────────────────────────

// Compile-time assertion that PGStore satisfies Store.
var _ Store = (*PGStore)(nil)

// PGStore reads documents from a Postgres `documents` table:
//
//	CREATE TABLE documents (
//	    user_id    text        NOT NULL,
//	    name       text        NOT NULL,
//	    body       jsonb       NOT NULL,
//	    updated_at timestamptz NOT NULL DEFAULT now(),
//	    PRIMARY KEY (user_id, name)
//	);
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PGStore from dsn and verifies connectivity.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("lexicon: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("lexicon: ping: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// Document implements [Store].
func (s *PGStore) Document(ctx context.Context, userID, name string) ([]byte, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM documents WHERE user_id = $1 AND name = $2`,
		userID, name,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lexicon: query document %s/%s: %w", userID, name, err)
	}
	return body, nil
}

// Ping probes the database connection; used by the readiness checker.
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

// ─── In-memory store ─────────────────────────────────────────────────────────

// Compile-time assertion that MemStore satisfies Store.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe in-memory [Store] for tests and standalone mode.
// The zero value is ready to use.
type MemStore struct {
	mu   sync.RWMutex
	docs map[string]map[string][]byte
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{docs: make(map[string]map[string][]byte)}
}

// Put stores or replaces a document.
func (s *MemStore) Put(userID, name string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs == nil {
		s.docs = make(map[string]map[string][]byte)
	}
	if s.docs[userID] == nil {
		s.docs[userID] = make(map[string][]byte)
	}
	s.docs[userID][name] = body
}

// Document implements [Store].
func (s *MemStore) Document(_ context.Context, userID, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.docs[userID][name]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return body, nil
}
