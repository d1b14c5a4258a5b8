// Package sqlite provides a SQLite-backed worker replica. Documents are
// cached in memory for synchronous reads and writes; mutations are tracked
// in a dirty set and flushed to disk in a single transaction on Save.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	syncworker "github.com/kavaro/sync-worker"
	"github.com/kavaro/sync-worker/document"
	syncErrors "github.com/kavaro/sync-worker/errors"
	"github.com/kavaro/sync-worker/logging"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Operation constants for consistent error reporting
const (
	opSave = syncErrors.OpSave

	componentName = "storage/sqlite"
)

// Custom errors for better error handling
var (
	ErrStoreClosed = errors.New("store is closed")
)

// Config holds configuration options for the DocumentStore.
//
// Production-ready defaults are applied by DefaultConfig() including:
//   - WAL mode enabled for better concurrency
//   - Connection pool with 25 max open, 5 max idle connections
//   - Connection lifetimes of 1 hour max, 5 minutes max idle
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:replica.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, automatically appends "?_journal_mode=WAL" to
	// DataSourceName.
	EnableWAL bool

	// TableName is the name of the table holding documents.
	// Defaults to "documents" if empty.
	TableName string

	// Connection pool settings for production workloads.
	// Defaults: MaxOpen=25, MaxIdle=5, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.TableName == "" {
		c.TableName = "documents"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "_journal_mode=") {
			if strings.Contains(c.DataSourceName, "?") {
				c.DataSourceName += "&_journal_mode=WAL"
			} else {
				c.DataSourceName += "?_journal_mode=WAL"
			}
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// NewWithDataSource is a convenience constructor
func NewWithDataSource(dataSourceName string) (*DocumentStore, error) {
	return New(DefaultConfig(dataSourceName))
}

// docKey addresses one document in the dirty set.
type docKey struct {
	collection string
	id         string
}

// DocumentStore is a SQLite-backed worker replica for map documents.
// The full table is loaded into memory at open; Get, Set and Delete work
// on the cache, and Save flushes the accumulated dirty set in one
// transaction.
type DocumentStore struct {
	db        *sql.DB
	tableName string

	mu     stdSync.RWMutex
	closed bool
	cache  map[string]map[string]document.Document
	dirty  map[docKey]struct{}
}

// Compile-time check that DocumentStore satisfies the worker contract.
var _ syncworker.WorkerStore[document.Document, string] = (*DocumentStore)(nil)

// New creates a DocumentStore from a Config.
func New(config *Config) (*DocumentStore, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := logging.WithComponent(logging.Component("sqlite-store"))
	logger.InfoContext(context.Background(), "Opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &DocumentStore{
		db:        db,
		tableName: config.TableName,
		cache:     make(map[string]map[string]document.Document),
		dirty:     make(map[docKey]struct{}),
	}

	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	if err := store.loadAll(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}

	logger.InfoContext(context.Background(), "SQLite DocumentStore initialized",
		slog.String("table_name", config.TableName),
		slog.Int("collections", len(store.cache)),
	)
	return store, nil
}

// setupSchema creates the documents table if it doesn't exist.
func (s *DocumentStore) setupSchema() error {
	query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS %s (
        collection  TEXT NOT NULL,
        id          TEXT NOT NULL,
        doc         TEXT NOT NULL,
        updated_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
        PRIMARY KEY (collection, id)
    );
    CREATE INDEX IF NOT EXISTS idx_%s_collection ON %s (collection);
    `, s.tableName, s.tableName, s.tableName)
	_, err := s.db.Exec(query)
	return err
}

// loadAll populates the cache from disk.
func (s *DocumentStore) loadAll() error {
	query := fmt.Sprintf(`SELECT collection, id, doc FROM %s`, s.tableName)
	rows, err := s.db.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var collection, id, raw string
		if err := rows.Scan(&collection, &id, &raw); err != nil {
			return fmt.Errorf("failed to scan document row: %w", err)
		}
		var doc document.Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return fmt.Errorf("corrupt document %s/%s: %w", collection, id, err)
		}
		docs, ok := s.cache[collection]
		if !ok {
			docs = make(map[string]document.Document)
			s.cache[collection] = docs
		}
		docs[id] = doc
	}
	return rows.Err()
}

// Get returns the cached document stored under id.
func (s *DocumentStore) Get(collection, id string) (document.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.cache[collection][id]
	if !ok {
		return nil, false
	}
	return document.Clone(doc), true
}

// Set writes doc to the cache and marks it dirty.
func (s *DocumentStore) Set(collection string, doc document.Document) {
	id := document.ID(doc)
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.cache[collection]
	if !ok {
		docs = make(map[string]document.Document)
		s.cache[collection] = docs
	}
	docs[id] = document.Clone(doc)
	s.dirty[docKey{collection, id}] = struct{}{}
}

// Delete removes the document from the cache and marks it dirty.
func (s *DocumentStore) Delete(collection, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache[collection], id)
	s.dirty[docKey{collection, id}] = struct{}{}
}

// ID extracts a document's identity.
func (s *DocumentStore) ID(doc document.Document) string { return document.ID(doc) }

// Equal reports structural document equality.
func (s *DocumentStore) Equal(a, b document.Document) bool { return document.Equal(a, b) }

// SetID returns doc with its identity set.
func (s *DocumentStore) SetID(doc document.Document, id string) document.Document {
	return document.SetID(doc, id)
}

// Clean strips engine-private keys.
func (s *DocumentStore) Clean(doc document.Document) document.Document {
	return document.Clean(doc)
}

// IDs returns the ids of every cached document in a collection.
func (s *DocumentStore) IDs(collection string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.cache[collection]))
	for id := range s.cache[collection] {
		ids = append(ids, id)
	}
	return ids
}

// Values returns every cached document in a collection.
func (s *DocumentStore) Values(collection string) []document.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values := make([]document.Document, 0, len(s.cache[collection]))
	for _, doc := range s.cache[collection] {
		values = append(values, document.Clone(doc))
	}
	return values
}

// Clear removes every document in a collection, marking each removal
// dirty so the next Save deletes them from disk too.
func (s *DocumentStore) Clear(collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	for id := range s.cache[collection] {
		s.dirty[docKey{collection, id}] = struct{}{}
	}
	delete(s.cache, collection)
	return nil
}

// Save flushes the dirty set to disk in a single transaction. Presence in
// the cache decides between upsert and delete. The dirty set is cleared
// only after a successful commit.
func (s *DocumentStore) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if len(s.dirty) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.WrapOpComponent(err, opSave, componentName)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	upsert, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (collection, id, doc, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
         ON CONFLICT(collection, id) DO UPDATE SET doc = excluded.doc, updated_at = CURRENT_TIMESTAMP`,
		s.tableName))
	if err != nil {
		return syncErrors.WrapOpComponent(err, opSave, componentName)
	}
	defer upsert.Close()

	remove, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE collection = ? AND id = ?`, s.tableName))
	if err != nil {
		return syncErrors.WrapOpComponent(err, opSave, componentName)
	}
	defer remove.Close()

	for key := range s.dirty {
		if doc, ok := s.cache[key.collection][key.id]; ok {
			raw, merr := json.Marshal(doc)
			if merr != nil {
				err = merr
				return syncErrors.WrapOpComponent(err, opSave, componentName)
			}
			if _, err = upsert.ExecContext(ctx, key.collection, key.id, string(raw)); err != nil {
				return syncErrors.WrapOpComponent(err, opSave, componentName)
			}
		} else {
			if _, err = remove.ExecContext(ctx, key.collection, key.id); err != nil {
				return syncErrors.WrapOpComponent(err, opSave, componentName)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return syncErrors.WrapOpComponent(err, opSave, componentName)
	}

	s.dirty = make(map[docKey]struct{})
	return nil
}

// DirtyLen returns the number of unflushed mutations. Intended for tests
// and monitoring.
func (s *DocumentStore) DirtyLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dirty)
}

// Stats returns database statistics for monitoring
func (s *DocumentStore) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return sql.DBStats{}
	}
	return s.db.Stats()
}

// Close closes the database connection.
func (s *DocumentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
