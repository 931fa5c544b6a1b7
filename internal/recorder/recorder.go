// Package recorder writes history rows directly into a Home Assistant
// recorder database. The schema belongs to Home Assistant, not to this
// process: the layout is introspected at startup and every write goes through
// a versioned adapter so an unknown layout stops ingestion instead of
// corrupting the store.
package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/jkaflik/mqtt2hass/internal/metrics"
)

// StateWrite is one fully resolved history record ready to be committed.
// MetadataID references the interned entity on modern schemas; EntityID is
// used directly on legacy layouts.
type StateWrite struct {
	EntityID   string
	MetadataID int64
	State      string
	Timestamp  time.Time
	Attributes map[string]any
}

// Recorder is a handle on the recorder database. Safe for concurrent use;
// each write runs in its own transaction.
type Recorder struct {
	db      *sql.DB
	adapter schemaAdapter
	version int

	attrMu  sync.Mutex
	attrIDs map[string]int64 // canonical encoding -> attributes_id
}

// Open opens the recorder database and verifies its schema. Returns a
// *SchemaMismatchError when the layout is not one this injector supports.
func Open(path string) (*Recorder, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("recorder database not found at %s: %w", path, err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open recorder database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to recorder database: %w", err)
	}

	adapter, version, err := detectAdapter(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	metrics.RecorderSchemaVersion.Set(float64(version))
	log.Info().
		Str("path", path).
		Int("schema_version", version).
		Str("layout", adapter.name()).
		Msg("Recorder database verified")

	return &Recorder{
		db:      db,
		adapter: adapter,
		version: version,
		attrIDs: make(map[string]int64),
	}, nil
}

// SchemaVersion returns the migration version detected at startup.
func (r *Recorder) SchemaVersion() int { return r.version }

func (r *Recorder) Close() error { return r.db.Close() }

// LookupEntity resolves an entity ID to its internal reference.
func (r *Recorder) LookupEntity(ctx context.Context, entityID string) (int64, bool, error) {
	return r.adapter.lookupEntity(ctx, r.db, entityID)
}

// RegisterEntity makes the entity visible in the store and returns its
// internal reference. Idempotent: registering an existing entity returns the
// existing reference.
func (r *Recorder) RegisterEntity(ctx context.Context, entityID string) (int64, error) {
	return r.adapter.registerEntity(ctx, r.db, entityID)
}

// WriteState commits one history record: the attribute blob is resolved or
// created and the state row upserted on (entity, timestamp), all inside a
// single transaction. Redelivered records overwrite the existing row,
// last-received-wins.
func (r *Recorder) WriteState(ctx context.Context, w StateWrite) error {
	blob, err := EncodeAttributes(w.Attributes)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	attributesID, reused, err := r.resolveAttributes(ctx, tx, blob)
	if err != nil {
		return err
	}

	overwritten, err := r.adapter.upsertState(ctx, tx, w, attributesID)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state row: %w", err)
	}

	r.rememberAttributes(blob, attributesID)

	if reused {
		metrics.AttributeBlobsReused.Inc()
	} else {
		metrics.AttributeBlobsInserted.Inc()
	}
	if overwritten {
		metrics.StatesOverwritten.Inc()
		log.Debug().
			Str("entity_id", w.EntityID).
			Time("timestamp", w.Timestamp).
			Msg("Overwrote existing state row for redelivered record")
	}

	return nil
}

func (r *Recorder) resolveAttributes(ctx context.Context, tx *sql.Tx, blob AttributeBlob) (int64, bool, error) {
	r.attrMu.Lock()
	id, ok := r.attrIDs[string(blob.Encoded)]
	r.attrMu.Unlock()
	if ok {
		return id, true, nil
	}

	return r.adapter.ensureAttributes(ctx, tx, blob)
}

func (r *Recorder) rememberAttributes(blob AttributeBlob, id int64) {
	r.attrMu.Lock()
	r.attrIDs[string(blob.Encoded)] = id
	r.attrMu.Unlock()
}
