package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// metaSchema writes to the modern recorder layout: entities are interned in
// states_meta, state rows reference metadata_id and carry unix-epoch float
// timestamps, attributes are deduplicated natively by the hash column.
type metaSchema struct{}

func (s *metaSchema) name() string { return "states_meta" }

// originRemote marks rows as written from outside the recorder's own event
// loop, so they are distinguishable from live state updates.
const originRemote = 1

// epochSeconds converts a timestamp to the recorder's REAL column encoding.
// Truncated to microseconds so a redelivered record produces the exact same
// float and matches the existing row.
func epochSeconds(ts time.Time) float64 {
	return float64(ts.UnixMicro()) / 1e6
}

func (s *metaSchema) lookupEntity(ctx context.Context, db *sql.DB, entityID string) (int64, bool, error) {
	var id int64
	err := db.QueryRowContext(ctx,
		"SELECT metadata_id FROM states_meta WHERE entity_id = ?", entityID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up entity %s: %w", entityID, err)
	}
	return id, true, nil
}

func (s *metaSchema) registerEntity(ctx context.Context, db *sql.DB, entityID string) (int64, error) {
	_, err := db.ExecContext(ctx,
		"INSERT OR IGNORE INTO states_meta (entity_id) VALUES (?)", entityID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to register entity %s: %w", entityID, err)
	}

	id, found, err := s.lookupEntity(ctx, db, entityID)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("entity %s missing after registration", entityID)
	}
	return id, nil
}

func (s *metaSchema) ensureAttributes(ctx context.Context, tx *sql.Tx, blob AttributeBlob) (int64, bool, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT attributes_id, shared_attrs FROM state_attributes WHERE hash = ?", int64(blob.Hash),
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up attributes by hash: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id     int64
			shared string
		)
		if err := rows.Scan(&id, &shared); err != nil {
			return 0, false, fmt.Errorf("failed to scan attributes row: %w", err)
		}
		// hash collisions are possible, compare the full encoding
		if shared == string(blob.Encoded) {
			return id, true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return 0, false, err
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO state_attributes (hash, shared_attrs) VALUES (?, ?)",
		int64(blob.Hash), string(blob.Encoded),
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert attributes: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	return id, false, nil
}

func (s *metaSchema) upsertState(ctx context.Context, tx *sql.Tx, w StateWrite, attributesID int64) (bool, error) {
	ts := epochSeconds(w.Timestamp)

	res, err := tx.ExecContext(ctx,
		`UPDATE states
		 SET state = ?, attributes_id = ?, last_changed_ts = ?, origin_idx = ?
		 WHERE metadata_id = ? AND last_updated_ts = ?`,
		w.State, attributesID, ts, originRemote, w.MetadataID, ts,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update state row: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO states (metadata_id, state, attributes_id, last_updated_ts, last_changed_ts, origin_idx)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		w.MetadataID, w.State, attributesID, ts, ts, originRemote,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert state row: %w", err)
	}
	return false, nil
}
