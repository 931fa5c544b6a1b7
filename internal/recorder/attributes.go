package recorder

import (
	"fmt"
	"hash/fnv"

	"github.com/goccy/go-json"
)

// AttributeBlob is the canonical, content-addressed encoding of a record's
// attribute mapping. Two semantically equal mappings always produce the same
// blob, so repeated backfills share a single state_attributes row.
type AttributeBlob struct {
	Encoded []byte
	Hash    uint32
}

// EncodeAttributes canonicalizes an attribute mapping. Map keys are encoded
// in sorted order, so the digest is stable across deliveries. The 32-bit
// FNV-1a digest matches what the recorder natively stores in the
// state_attributes.hash column.
func EncodeAttributes(attrs map[string]any) (AttributeBlob, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}

	encoded, err := json.Marshal(attrs)
	if err != nil {
		return AttributeBlob{}, fmt.Errorf("failed to encode attributes: %w", err)
	}

	h := fnv.New32a()
	_, _ = h.Write(encoded)

	return AttributeBlob{Encoded: encoded, Hash: h.Sum32()}, nil
}
