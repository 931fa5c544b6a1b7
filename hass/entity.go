package hass

import (
	"fmt"
	"strings"
)

const (
	EntitySensor       = "sensor"
	EntityBinarySensor = "binary_sensor"
	EntitySwitch       = "switch"
	EntityLight        = "light"
	EntityInputBoolean = "input_boolean"
	EntityClimate      = "climate"
	EntityWeather      = "weather"
	EntityCounter      = "counter"
	EntityNumber       = "number"
	EntityInputNumber  = "input_number"
)

const (
	UnknownValue     = "unknown"
	UnavailableValue = "unavailable"
)

// SplitEntityID splits an entity ID of the form domain.object_id.
func SplitEntityID(entityID string) (domain, objectID string, err error) {
	domain, objectID, found := strings.Cut(entityID, ".")
	if !found || domain == "" || objectID == "" {
		return "", "", fmt.Errorf("invalid entity_id format: %q", entityID)
	}
	return domain, objectID, nil
}

// ValidEntityID reports whether the given string looks like a Home Assistant
// entity ID (domain.object_id).
func ValidEntityID(entityID string) bool {
	_, _, err := SplitEntityID(entityID)
	return err == nil
}

// FriendlyName derives a human-readable name from an object ID, e.g.
// "bedroom_temperature" becomes "Bedroom Temperature".
func FriendlyName(objectID string) string {
	words := strings.Split(objectID, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
