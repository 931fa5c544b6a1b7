package hass

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaflik/mqtt2hass/pkg/retry"
)

func fastRetry() retry.Config {
	return retry.Config{
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestCreateEntity(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/api", "token123", WithRetryConfig(fastRetry()))
	require.NoError(t, err)

	err = c.CreateEntity(context.Background(), "sensor.bedroom_temperature", "unknown",
		map[string]any{"friendly_name": "Bedroom Temperature"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer token123", gotAuth)
	assert.Equal(t, "/api/states/sensor.bedroom_temperature", gotPath)
	assert.Equal(t, "unknown", gotBody["state"])
	assert.Equal(t, map[string]any{"friendly_name": "Bedroom Temperature"}, gotBody["attributes"])
}

func TestCreateEntityRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/api", "token", WithRetryConfig(fastRetry()))
	require.NoError(t, err)

	err = c.CreateEntity(context.Background(), "sensor.x", "unknown", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load())
}

func TestCreateEntityClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad entity", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/api", "token", WithRetryConfig(fastRetry()))
	require.NoError(t, err)

	err = c.CreateEntity(context.Background(), "sensor.x", "unknown", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, int64(1), calls.Load())
}

func TestCreateEntityWithoutToken(t *testing.T) {
	c, err := NewClient("http://localhost:8123/api", "")
	require.NoError(t, err)

	err = c.CreateEntity(context.Background(), "sensor.x", "unknown", nil)
	require.Error(t, err)
}

func TestEntityExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/states/sensor.present":
			_, _ = w.Write([]byte(`{"entity_id":"sensor.present","state":"1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/api", "token")
	require.NoError(t, err)

	exists, err := c.EntityExists(context.Background(), "sensor.present")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.EntityExists(context.Background(), "sensor.absent")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("ftp://example.com", "token")
	require.Error(t, err)
}

func TestSplitEntityID(t *testing.T) {
	domain, objectID, err := SplitEntityID("sensor.bedroom_temperature")
	require.NoError(t, err)
	assert.Equal(t, "sensor", domain)
	assert.Equal(t, "bedroom_temperature", objectID)

	for _, bad := range []string{"", "sensor", "sensor.", ".bedroom"} {
		_, _, err := SplitEntityID(bad)
		assert.Error(t, err, bad)
	}
}

func TestValidEntityID(t *testing.T) {
	assert.True(t, ValidEntityID("sensor.bedroom_temperature"))
	for _, bad := range []string{"", "sensor", "sensor.", ".bedroom"} {
		assert.False(t, ValidEntityID(bad), bad)
	}
}

func TestFriendlyName(t *testing.T) {
	assert.Equal(t, "Bedroom Temperature", FriendlyName("bedroom_temperature"))
	assert.Equal(t, "Co2", FriendlyName("co2"))
}
