package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// defaultMaxBodyBytes bounds how much of a response body is buffered
	defaultMaxBodyBytes = 1 << 20

	// defaultUserAgent is sent unless overridden by DefaultHeaders
	defaultUserAgent = "oidc-login-go"
)

// Config holds HTTP client configuration
type Config struct {
	Timeout        time.Duration
	MaxBodyBytes   int64
	DefaultHeaders map[string]string
	// Transport overrides the underlying round tripper (tests, proxies)
	Transport http.RoundTripper
}

// DefaultConfig returns a default HTTP client configuration
func DefaultConfig() *Config {
	return &Config{
		Timeout:        30 * time.Second,
		MaxBodyBytes:   defaultMaxBodyBytes,
		DefaultHeaders: map[string]string{"User-Agent": defaultUserAgent},
	}
}

// Client wraps http.Client with JSON helpers. Requests are attempted exactly once.
type Client struct {
	httpClient *http.Client
	config     *Config
}

// New creates a new HTTP client with the given configuration
func New(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: config.Transport,
		},
		config: config,
	}
}

// Wrap builds a Client around an existing *http.Client, keeping its timeout and transport.
func Wrap(hc *http.Client) *Client {
	if hc == nil {
		return New(nil)
	}
	config := DefaultConfig()
	config.Timeout = hc.Timeout
	config.Transport = hc.Transport
	return &Client{httpClient: hc, config: config}
}

// HTTPClient exposes the underlying *http.Client so protocol libraries share
// the same timeout and transport.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Response represents an HTTP response with convenience methods
type Response struct {
	*http.Response
	BodyBytes []byte
}

// SafeClose safely closes the response body
func (r *Response) SafeClose() error {
	if r.Response == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// JSON unmarshals the response body into the provided interface
func (r *Response) JSON(v any) error {
	if len(r.BodyBytes) == 0 {
		return fmt.Errorf("empty response body")
	}
	return json.Unmarshal(r.BodyBytes, v)
}

// String returns the response body as a string
func (r *Response) String() string {
	return string(r.BodyBytes)
}

// StatusError is returned alongside the Response when the server answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d - %s", e.StatusCode, e.Body)
}

// Do performs a single HTTP request
func (c *Client) Do(ctx context.Context, method, url string, body io.Reader, headers map[string]string) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	for key, value := range c.config.DefaultHeaders {
		httpReq.Header.Set(key, value)
	}
	for key, value := range headers {
		httpReq.Header.Set(key, value)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(httpResp.Body, c.config.MaxBodyBytes))
	if err != nil {
		_ = httpResp.Body.Close()
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	resp := &Response{
		Response:  httpResp,
		BodyBytes: bodyBytes,
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return resp, &StatusError{StatusCode: httpResp.StatusCode, Body: truncate(string(bodyBytes), 512)}
	}

	return resp, nil
}

// Get performs a GET request
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil, headers)
}

// GetJSON performs a GET request with an Accept: application/json header and decodes the body into v
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	resp, err := c.Get(ctx, url, map[string]string{"Accept": "application/json"})
	if resp != nil {
		defer func() { _ = resp.SafeClose() }()
	}
	if err != nil {
		return err
	}
	return resp.JSON(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
