package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// legacyTimeFormat is how pre-states_meta recorder databases store timestamps.
const legacyTimeFormat = "2006-01-02T15:04:05.000000Z"

// attrSchema writes to the older recorder layout where state rows carry the
// entity_id string directly and timestamps are DATETIME text. Attribute
// deduplication is emulated by comparing the full shared_attrs encoding, which
// also works on databases whose state_attributes table predates the hash
// column.
type attrSchema struct {
	hasHashColumn bool
}

func (s *attrSchema) name() string { return "entity_id" }

func (s *attrSchema) lookupEntity(ctx context.Context, db *sql.DB, entityID string) (int64, bool, error) {
	var one int
	err := db.QueryRowContext(ctx,
		"SELECT 1 FROM states WHERE entity_id = ? LIMIT 1", entityID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up entity %s: %w", entityID, err)
	}
	// this layout has no entity table, the entity_id string is the reference
	return 0, true, nil
}

func (s *attrSchema) registerEntity(ctx context.Context, db *sql.DB, entityID string) (int64, error) {
	// Entities spring into existence with their first state row. The initial
	// "unknown" row makes the entity visible to lookups before any history
	// record for it commits.
	now := time.Now().UTC().Format(legacyTimeFormat)
	_, err := db.ExecContext(ctx,
		`INSERT INTO states (entity_id, state, last_changed, last_updated, attributes_id)
		 VALUES (?, ?, ?, ?, NULL)`,
		entityID, "unknown", now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to register entity %s: %w", entityID, err)
	}
	return 0, nil
}

func (s *attrSchema) ensureAttributes(ctx context.Context, tx *sql.Tx, blob AttributeBlob) (int64, bool, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		"SELECT attributes_id FROM state_attributes WHERE shared_attrs = ? LIMIT 1",
		string(blob.Encoded),
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("failed to look up attributes: %w", err)
	}

	var res sql.Result
	if s.hasHashColumn {
		res, err = tx.ExecContext(ctx,
			"INSERT INTO state_attributes (hash, shared_attrs) VALUES (?, ?)",
			int64(blob.Hash), string(blob.Encoded),
		)
	} else {
		res, err = tx.ExecContext(ctx,
			"INSERT INTO state_attributes (shared_attrs) VALUES (?)",
			string(blob.Encoded),
		)
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert attributes: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	return id, false, nil
}

func (s *attrSchema) upsertState(ctx context.Context, tx *sql.Tx, w StateWrite, attributesID int64) (bool, error) {
	ts := w.Timestamp.UTC().Format(legacyTimeFormat)

	res, err := tx.ExecContext(ctx,
		`UPDATE states
		 SET state = ?, attributes_id = ?, last_changed = ?
		 WHERE entity_id = ? AND last_updated = ?`,
		w.State, attributesID, ts, w.EntityID, ts,
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
		`INSERT INTO states (entity_id, state, attributes_id, last_changed, last_updated)
		 VALUES (?, ?, ?, ?, ?)`,
		w.EntityID, w.State, attributesID, ts, ts,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert state row: %w", err)
	}
	return false, nil
}
