package ingestion

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTimestamp marks a record whose timestamp cannot be parsed.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrTimestampOutOfWindow marks a record whose timestamp falls outside
	// the configured freshness window.
	ErrTimestampOutOfWindow = errors.New("timestamp out of window")

	// ErrEntityNotFound marks a record for an unknown entity when automatic
	// entity creation is disabled.
	ErrEntityNotFound = errors.New("entity not found")
)

// DecodeError discards a whole inbound message: the payload could not be
// turned into history records.
type DecodeError struct {
	Topic string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode message on topic %s: %v", e.Topic, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EntityCreationError marks a record whose entity could not be created
// through the management API within the bounded retry policy.
type EntityCreationError struct {
	EntityID string
	Err      error
}

func (e *EntityCreationError) Error() string {
	return fmt.Sprintf("failed to create entity %s: %v", e.EntityID, e.Err)
}

func (e *EntityCreationError) Unwrap() error { return e.Err }

// rejectionReason maps a record-level failure to a stable metrics label.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTimestamp):
		return "invalid_timestamp"
	case errors.Is(err, ErrTimestampOutOfWindow):
		return "timestamp_out_of_window"
	case errors.Is(err, ErrEntityNotFound):
		return "entity_not_found"
	default:
		var creation *EntityCreationError
		if errors.As(err, &creation) {
			return "entity_creation_failed"
		}
		return "write_failed"
	}
}
