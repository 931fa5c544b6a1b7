package hass

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/jkaflik/mqtt2hass/internal/metrics"
	"github.com/jkaflik/mqtt2hass/pkg/retry"
)

const defaultRequestTimeout = 10 * time.Second

// APIError is a non-2xx response from the Home Assistant HTTP API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("home assistant api returned status %d: %s", e.Status, e.Body)
}

// StatusCode implements retry.StatusCoder.
func (e *APIError) StatusCode() int { return e.Status }

// Client is an HTTP client for the Home Assistant REST API. It is used to
// register entities that the recorder database does not know about yet.
type Client struct {
	baseURL    url.URL
	token      string
	httpClient *http.Client
	retryConf  retry.Config
	timeout    time.Duration
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRetryConfig sets a custom retry configuration
func WithRetryConfig(retryConf retry.Config) ClientOption {
	return func(c *Client) {
		c.retryConf = retryConf
	}
}

// WithRequestTimeout sets the per-request deadline
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

func NewClient(apiURL, token string, options ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(apiURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse Home Assistant API URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported Home Assistant API URL scheme: %s", u.Scheme)
	}

	client := &Client{
		baseURL:    *u,
		token:      token,
		httpClient: http.DefaultClient,
		retryConf:  retry.DefaultConfig(),
		timeout:    defaultRequestTimeout,
	}

	for _, option := range options {
		option(client)
	}

	return client, nil
}

// EntityExists checks whether Home Assistant currently tracks the entity.
func (c *Client) EntityExists(ctx context.Context, entityID string) (bool, error) {
	_, err := c.do(ctx, http.MethodGet, "/states/"+entityID, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateEntity registers an entity by posting an initial state. Transient
// failures are retried with exponential backoff; client errors are not.
func (c *Client) CreateEntity(ctx context.Context, entityID, state string, attributes map[string]any) error {
	if c.token == "" {
		return fmt.Errorf("no Home Assistant API token configured, cannot create entity %s", entityID)
	}

	payload, err := json.Marshal(map[string]any{
		"state":      state,
		"attributes": attributes,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal entity state: %w", err)
	}

	callbacks := retry.Callbacks{
		OnRetryAttempt: func(attempt int, err error, nextBackoff time.Duration) {
			metrics.APIRetryAttempts.Inc()
			log.Warn().
				Err(err).
				Str("entity_id", entityID).
				Int("attempt", attempt).
				Dur("next_backoff", nextBackoff).
				Msg("Retrying entity creation")
		},
		OnRetrySuccess: func(attempt int) {
			metrics.APIRetrySuccess.Inc()
			log.Info().
				Str("entity_id", entityID).
				Int("attempt", attempt).
				Msg("Entity creation succeeded after retry")
		},
	}

	return retry.DoWithCallbacks(ctx, func() error {
		_, err := c.do(ctx, http.MethodPost, "/states/"+entityID, payload)
		return err
	}, retry.IsTransient, c.retryConf, callbacks)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	uri := c.baseURL
	uri.Path += path

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, uri.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", "mqtt2hass")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call Home Assistant API: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}
