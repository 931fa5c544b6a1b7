package ingestion

import (
	"errors"
	"fmt"
	"strings"

	"github.com/valyala/fastjson"

	"github.com/jkaflik/mqtt2hass/hass"
)

// Record is one history record decoded from an inbound message, before
// timestamp validation. Timestamp is kept raw until the validator parses it.
type Record struct {
	EntityID   string
	State      string
	Timestamp  string
	Attributes map[string]any
}

// Decoder turns raw MQTT payloads into ordered history records. Payloads are
// either a single record object or a batch {"records": [...]}; the entity ID
// comes from the topic suffix after the subscription prefix, with payload
// entity_id and device_id fallbacks.
type Decoder struct {
	// TopicPrefix is the literal part of the subscription topic, e.g.
	// "homeassistant/history/".
	TopicPrefix string

	// EntityIDPrefix prefixes a payload device_id when no entity ID can be
	// derived otherwise, e.g. "sensor.".
	EntityIDPrefix string

	parsers fastjson.ParserPool
}

// Decode parses one message. Any malformed record fails the whole message
// with a *DecodeError; messages never partially decode.
func (d *Decoder) Decode(topic string, payload []byte) ([]Record, error) {
	parser := d.parsers.Get()
	defer d.parsers.Put(parser)

	v, err := parser.ParseBytes(payload)
	if err != nil {
		return nil, &DecodeError{Topic: topic, Err: err}
	}
	if v.Type() != fastjson.TypeObject {
		return nil, &DecodeError{Topic: topic, Err: fmt.Errorf("payload is %s, expected object", v.Type())}
	}

	entityID := d.entityID(topic, v)
	if entityID == "" {
		return nil, &DecodeError{Topic: topic, Err: errors.New("could not derive a valid entity_id from topic or payload")}
	}

	if batch := v.Get("records"); batch != nil {
		if batch.Type() != fastjson.TypeArray {
			return nil, &DecodeError{Topic: topic, Err: errors.New("records is not an array")}
		}

		items := batch.GetArray()
		records := make([]Record, 0, len(items))
		for i, item := range items {
			record, err := decodeRecord(entityID, item)
			if err != nil {
				return nil, &DecodeError{Topic: topic, Err: fmt.Errorf("record %d: %w", i, err)}
			}
			records = append(records, record)
		}
		return records, nil
	}

	record, err := decodeRecord(entityID, v)
	if err != nil {
		return nil, &DecodeError{Topic: topic, Err: err}
	}
	return []Record{record}, nil
}

// entityID derives the record's entity ID. Candidates that do not look like
// domain.object_id are skipped so a stray topic suffix cannot shadow a usable
// payload entity_id.
func (d *Decoder) entityID(topic string, v *fastjson.Value) string {
	if d.TopicPrefix != "" && strings.HasPrefix(topic, d.TopicPrefix) {
		if suffix := topic[len(d.TopicPrefix):]; hass.ValidEntityID(suffix) {
			return suffix
		}
	}
	if id := string(v.GetStringBytes("entity_id")); hass.ValidEntityID(id) {
		return id
	}
	if deviceID := string(v.GetStringBytes("device_id")); deviceID != "" {
		if id := d.EntityIDPrefix + deviceID; hass.ValidEntityID(id) {
			return id
		}
	}
	return ""
}

func decodeRecord(entityID string, v *fastjson.Value) (Record, error) {
	state, err := stateString(v.Get("state"))
	if err != nil {
		return Record{}, err
	}

	timestamp := string(v.GetStringBytes("timestamp"))
	if timestamp == "" {
		return Record{}, errors.New("missing timestamp")
	}

	var attributes map[string]any
	if attrs := v.Get("attributes"); attrs != nil {
		if attrs.Type() != fastjson.TypeObject {
			return Record{}, errors.New("attributes is not an object")
		}
		attributes = objectToMap(attrs)
	}

	return Record{
		EntityID:   entityID,
		State:      state,
		Timestamp:  timestamp,
		Attributes: attributes,
	}, nil
}

func stateString(v *fastjson.Value) (string, error) {
	if v == nil {
		return "", errors.New("missing state")
	}

	switch v.Type() {
	case fastjson.TypeString:
		s := string(v.GetStringBytes())
		if s == "" {
			return "", errors.New("missing state")
		}
		return s, nil
	case fastjson.TypeNumber:
		return v.String(), nil
	case fastjson.TypeTrue:
		return "true", nil
	case fastjson.TypeFalse:
		return "false", nil
	default:
		return "", fmt.Errorf("state is %s, expected string, number or boolean", v.Type())
	}
}

func objectToMap(v *fastjson.Value) map[string]any {
	out := make(map[string]any)
	obj, _ := v.Object()
	obj.Visit(func(key []byte, value *fastjson.Value) {
		out[string(key)] = valueToAny(value)
	})
	return out
}

func valueToAny(v *fastjson.Value) any {
	switch v.Type() {
	case fastjson.TypeObject:
		return objectToMap(v)
	case fastjson.TypeArray:
		items := v.GetArray()
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, valueToAny(item))
		}
		return out
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		return v.GetFloat64()
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	default:
		return nil
	}
}
