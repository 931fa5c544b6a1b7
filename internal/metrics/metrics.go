package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt2hass_messages_received_total",
		Help: "The total number of MQTT messages received",
	})

	MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt2hass_messages_dropped_total",
		Help: "The total number of MQTT messages dropped because they could not be decoded",
	})

	RecordsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt2hass_records_committed_total",
		Help: "The total number of history records written to the recorder database",
	})

	RecordsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt2hass_records_rejected_total",
		Help: "The total number of history records rejected, by reason",
	}, []string{"reason"})

	// Entity resolver metrics
	EntityCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt2hass_entity_cache_hits_total",
		Help: "The total number of entity resolutions served from the in-process cache",
	})

	EntitiesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt2hass_entities_created_total",
		Help: "The total number of entities created through the Home Assistant API",
	})

	EntityCreationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt2hass_entity_creation_failures_total",
		Help: "The total number of entity creations that failed after all retries",
	})

	// Recorder metrics
	AttributeBlobsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt2hass_attribute_blobs_inserted_total",
		Help: "The total number of new shared attribute rows inserted",
	})

	AttributeBlobsReused = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt2hass_attribute_blobs_reused_total",
		Help: "The total number of history records that reused an existing attribute row",
	})

	StatesOverwritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt2hass_states_overwritten_total",
		Help: "The total number of redelivered records resolved by overwriting an existing row",
	})

	RecorderSchemaVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt2hass_recorder_schema_version",
		Help: "Schema version of the recorder database detected at startup",
	})

	// Home Assistant API client metrics
	APIRetryAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt2hass_api_retry_attempts_total",
		Help: "Total number of retry attempts for Home Assistant API calls",
	})

	APIRetrySuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt2hass_api_retry_success_total",
		Help: "Total number of Home Assistant API calls that succeeded after retry",
	})

	// MQTT client metrics
	MQTTConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt2hass_mqtt_connection_status",
		Help: "Status of the MQTT broker connection (1=connected, 0=disconnected)",
	})

	MQTTReconnectTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt2hass_mqtt_reconnect_total",
		Help: "Total number of reconnection attempts to the MQTT broker",
	})
)
