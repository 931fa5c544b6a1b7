package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SchemaMismatchError is returned when the recorder database does not match
// any schema layout this injector knows how to write. It is fatal: writing
// into an unknown schema risks corrupting a store we do not own.
type SchemaMismatchError struct {
	Version int
	Missing []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf(
		"recorder schema version %d is not supported, missing: %s",
		e.Version, strings.Join(e.Missing, ", "),
	)
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var n string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to inspect recorder schema: %w", err)
	}
	return true, nil
}

func tableColumns(ctx context.Context, db *sql.DB, name string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", name))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect columns of %s: %w", name, err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			colName string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", name, err)
		}
		columns[colName] = true
	}
	return columns, rows.Err()
}

// schemaVersion reads the recorder's migration version. Best-effort: older
// databases without a schema_changes table report 0.
func schemaVersion(ctx context.Context, db *sql.DB) int {
	var version int
	err := db.QueryRowContext(ctx,
		"SELECT schema_version FROM schema_changes ORDER BY change_id DESC LIMIT 1",
	).Scan(&version)
	if err != nil {
		return 0
	}
	return version
}

// detectAdapter introspects the recorder database and selects the adapter
// matching its layout. Detection is structural: the presence of the expected
// tables and columns decides, the migration version is only recorded for
// logging. Unknown layouts fail loudly.
func detectAdapter(ctx context.Context, db *sql.DB) (schemaAdapter, int, error) {
	version := schemaVersion(ctx, db)

	var missing []string

	statesOK, err := tableExists(ctx, db, "states")
	if err != nil {
		return nil, version, err
	}
	attrsOK, err := tableExists(ctx, db, "state_attributes")
	if err != nil {
		return nil, version, err
	}
	if !statesOK {
		missing = append(missing, "table states")
	}
	if !attrsOK {
		missing = append(missing, "table state_attributes")
	}
	if len(missing) > 0 {
		return nil, version, &SchemaMismatchError{Version: version, Missing: missing}
	}

	statesCols, err := tableColumns(ctx, db, "states")
	if err != nil {
		return nil, version, err
	}
	attrCols, err := tableColumns(ctx, db, "state_attributes")
	if err != nil {
		return nil, version, err
	}
	metaOK, err := tableExists(ctx, db, "states_meta")
	if err != nil {
		return nil, version, err
	}

	if metaOK && statesCols["metadata_id"] && statesCols["last_updated_ts"] {
		if !attrCols["hash"] {
			return nil, version, &SchemaMismatchError{
				Version: version,
				Missing: []string{"column state_attributes.hash"},
			}
		}
		return &metaSchema{}, version, nil
	}

	if statesCols["entity_id"] && statesCols["last_updated"] && statesCols["attributes_id"] {
		return &attrSchema{hasHashColumn: attrCols["hash"]}, version, nil
	}

	if !statesCols["entity_id"] {
		missing = append(missing, "column states.entity_id")
	}
	if !statesCols["last_updated"] {
		missing = append(missing, "column states.last_updated")
	}
	if !statesCols["attributes_id"] {
		missing = append(missing, "column states.attributes_id")
	}
	return nil, version, &SchemaMismatchError{Version: version, Missing: missing}
}
