// Package transport sends one form-encoded request to the remote collection
// endpoint and classifies what came back. It never retries.
package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// maxResponseBody is the maximum response body read from the endpoint (1 MB).
const maxResponseBody = 1 << 20

var errNotObject = errors.New("response is not a JSON object")

// Fields is a flat set of named values. Values are string, []byte (sent
// base64 encoded) or nil (sent empty).
type Fields map[string]any

// Encode renders the fields as an application/x-www-form-urlencoded body.
func (f Fields) Encode() string {
	v := make(url.Values, len(f))
	for key, val := range f {
		switch x := val.(type) {
		case nil:
			v.Set(key, "")
		case string:
			v.Set(key, x)
		case []byte:
			v.Set(key, base64.StdEncoding.EncodeToString(x))
		default:
			v.Set(key, fmt.Sprint(x))
		}
	}
	return v.Encode()
}

// Client posts form requests to the remote endpoint.
type Client struct {
	httpClient *http.Client
	logger     logrus.FieldLogger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout (default: 60s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a new transport client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Post sends fields to endpoint and decodes the JSON response.
// Errors are *NetworkError, *HTTPError or *ProtocolError.
func (c *Client) Post(ctx context.Context, endpoint string, fields Fields) (*Response, error) {
	action, _ := fields["action"].(string)
	log := c.logger.WithFields(logrus.Fields{"endpoint": endpoint, "action": action})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(fields.Encode()))
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	log.Debug("POST")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Warn("network error")
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.WithField("status_code", resp.StatusCode).Warn("HTTP error")
		return nil, &HTTPError{Code: resp.StatusCode, Body: string(body)}
	}

	parsed, err := parseResponse(body)
	if err != nil {
		log.WithError(err).Warn("invalid response body")
		return nil, &ProtocolError{Message: "invalid response", Err: err}
	}
	log.WithField("status", parsed.Status).Debug("POST OK")
	return parsed, nil
}
