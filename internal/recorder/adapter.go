package recorder

import (
	"context"
	"database/sql"
)

// schemaAdapter maps the injector's write operations onto one concrete
// recorder schema layout. All write methods run inside the caller's
// transaction so a record commits atomically or not at all.
type schemaAdapter interface {
	name() string
	lookupEntity(ctx context.Context, db *sql.DB, entityID string) (int64, bool, error)
	registerEntity(ctx context.Context, db *sql.DB, entityID string) (int64, error)
	ensureAttributes(ctx context.Context, tx *sql.Tx, blob AttributeBlob) (id int64, reused bool, err error)
	upsertState(ctx context.Context, tx *sql.Tx, w StateWrite, attributesID int64) (overwritten bool, err error)
}
