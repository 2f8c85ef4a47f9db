// Package snapshot provides the durable, atomically replaceable cache of
// upstream records, one current snapshot per resource type.
//
// Readers load the current snapshot through an atomic pointer and never
// contend with a refresh in flight; a commit is a single INSERT OR REPLACE
// plus a pointer swap. SQLite is the source of truth across restarts, the
// pointer registry is warmed from it at open.
package snapshot

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"boardcache/internal/resource"
)

var (
	// ErrNotFound means no snapshot has ever been committed for the
	// resource type. Callers are expected to trigger an initial refresh.
	ErrNotFound = errors.New("no snapshot committed for resource")

	// ErrStorageUnavailable means a commit could not land. The previously
	// committed snapshot remains current.
	ErrStorageUnavailable = errors.New("snapshot storage unavailable")
)

// Snapshot is the complete cached payload for one resource type.
// Records are opaque documents; the cache layer never addresses them
// individually. Callers must treat Records as read-only.
type Snapshot struct {
	Resource  resource.Type     `json:"resource"`
	Records   []json.RawMessage `json:"records"`
	Version   int64             `json:"version"`
	FetchedAt time.Time         `json:"fetched_at"`
	Checksum  string            `json:"checksum"`
}

// Freshness is the metadata callers use to judge a snapshot without
// inspecting its payload.
type Freshness struct {
	Resource    resource.Type `json:"resource"`
	FetchedAt   time.Time     `json:"fetched_at"`
	Version     int64         `json:"version"`
	Checksum    string        `json:"checksum"`
	RecordCount int           `json:"record_count"`
	LastError   string        `json:"last_error,omitempty"`
}

// Store holds the current snapshot per resource type, backed by SQLite.
type Store struct {
	db *sql.DB

	// current maps each resource type to its atomically swappable
	// snapshot handle. The map itself is never mutated after New.
	current map[resource.Type]*atomic.Pointer[Snapshot]

	commitMu sync.Mutex // serializes version assignment across commits

	failMu   sync.Mutex
	lastFail map[resource.Type]string

	now func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the clock used for fetched_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates (or reopens) a snapshot store at path and warms the
// in-process registry from any snapshots persisted by a previous run.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure store: %w", err)
		}
	}

	s := &Store{
		db:       db,
		current:  make(map[resource.Type]*atomic.Pointer[Snapshot], len(resource.All())),
		lastFail: make(map[resource.Type]string),
		now:      time.Now,
	}
	for _, res := range resource.All() {
		s.current[res] = &atomic.Pointer[Snapshot]{}
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.warm(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS snapshots (
			resource TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			version INTEGER NOT NULL,
			fetched_at TEXT NOT NULL,
			checksum TEXT NOT NULL DEFAULT '',
			record_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT ''
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// warm loads persisted snapshots into the pointer registry.
func (s *Store) warm() error {
	rows, err := s.db.Query("SELECT resource, payload, version, fetched_at, checksum, last_error FROM snapshots")
	if err != nil {
		return fmt.Errorf("warm registry: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			res       string
			payload   []byte
			version   int64
			fetchedAt string
			checksum  string
			lastError string
		)
		if err := rows.Scan(&res, &payload, &version, &fetchedAt, &checksum, &lastError); err != nil {
			return fmt.Errorf("warm registry: %w", err)
		}

		typ, err := resource.Parse(res)
		if err != nil {
			// Row from a newer schema generation; skip rather than fail open.
			continue
		}

		var records []json.RawMessage
		if err := json.Unmarshal(payload, &records); err != nil {
			return fmt.Errorf("warm %s: corrupt payload: %w", res, err)
		}
		at, err := time.Parse(time.RFC3339Nano, fetchedAt)
		if err != nil {
			return fmt.Errorf("warm %s: corrupt timestamp: %w", res, err)
		}

		s.current[typ].Store(&Snapshot{
			Resource:  typ,
			Records:   records,
			Version:   version,
			FetchedAt: at,
			Checksum:  checksum,
		})
		if lastError != "" {
			s.lastFail[typ] = lastError
		}
	}
	return rows.Err()
}

// Close closes the backing database. The in-memory registry stays readable.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the backing database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get returns the current snapshot for a resource type, or ErrNotFound if
// none has ever been committed.
func (s *Store) Get(res resource.Type) (*Snapshot, error) {
	handle, ok := s.current[res]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, res)
	}
	snap := handle.Load()
	if snap == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, res)
	}
	return snap, nil
}

// Freshness returns the metadata of the current snapshot without its payload.
func (s *Store) Freshness(res resource.Type) (*Freshness, error) {
	snap, err := s.Get(res)
	if err != nil {
		return nil, err
	}

	s.failMu.Lock()
	lastErr := s.lastFail[res]
	s.failMu.Unlock()

	return &Freshness{
		Resource:    res,
		FetchedAt:   snap.FetchedAt,
		Version:     snap.Version,
		Checksum:    snap.Checksum,
		RecordCount: len(snap.Records),
		LastError:   lastErr,
	}, nil
}

// Commit atomically replaces the current snapshot for a resource type with
// records, assigning the next version and stamping fetched_at. Readers see
// either the prior snapshot or the new one in full, never a mix. A storage
// failure leaves the prior snapshot current and returns ErrStorageUnavailable.
func (s *Store) Commit(ctx context.Context, res resource.Type, records []json.RawMessage) (*Snapshot, error) {
	handle, ok := s.current[res]
	if !ok {
		return nil, fmt.Errorf("unknown resource type: %s", res)
	}

	if records == nil {
		records = []json.RawMessage{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	sum := sha256.Sum256(payload)

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	version := int64(1)
	if prev := handle.Load(); prev != nil {
		version = prev.Version + 1
	}

	snap := &Snapshot{
		Resource:  res,
		Records:   records,
		Version:   version,
		FetchedAt: s.now().UTC(),
		Checksum:  hex.EncodeToString(sum[:]),
	}

	// Single-statement replace: the row is either entirely the old
	// snapshot or entirely the new one.
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshots (resource, payload, version, fetched_at, checksum, record_count, last_error)
		 VALUES (?, ?, ?, ?, ?, ?, '')`,
		string(res), payload, snap.Version, snap.FetchedAt.Format(time.RFC3339Nano), snap.Checksum, len(records),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	handle.Store(snap)

	s.failMu.Lock()
	delete(s.lastFail, res)
	s.failMu.Unlock()

	return snap, nil
}

// RecordFailure notes the most recent refresh failure for a resource type so
// freshness introspection can surface it. The snapshot payload and version
// are untouched.
func (s *Store) RecordFailure(ctx context.Context, res resource.Type, cause string) {
	s.failMu.Lock()
	s.lastFail[res] = cause
	s.failMu.Unlock()

	// Best effort: persist alongside an existing row; a resource that has
	// never committed keeps its failure in memory only.
	_, _ = s.db.ExecContext(ctx,
		"UPDATE snapshots SET last_error = ? WHERE resource = ?", cause, string(res))
}

// LastFailure returns the most recent refresh failure recorded for a
// resource type, or "".
func (s *Store) LastFailure(res resource.Type) string {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.lastFail[res]
}
