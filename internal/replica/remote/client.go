package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
)

// VersionHeader optionally carries the server's snapshot version.
const VersionHeader = "X-Snapshot-Version"

// maxBodySize caps how much of a response is read.
const maxBodySize = 32 << 20

// Config holds client configuration.
type Config struct {
	// BaseURL is prefixed to every resource path (e.g. https://erp.example.com/api)
	BaseURL string

	// IDField names the stable identifier in fetched records (default: "id")
	IDField string

	// Timeout bounds one request (default: 10s). Ignored when HTTPClient is set.
	Timeout time.Duration

	// HTTPClient overrides the client used for requests
	HTTPClient *http.Client

	// Credentials supplies the bearer token (default: none)
	Credentials *Credentials

	// Logger for request failures (default: stderr logger)
	Logger *log.Logger
}

// Client talks to the authoritative store over HTTP.
type Client struct {
	baseURL string
	idField string
	http    *http.Client
	creds   *Credentials
	logger  *log.Logger
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("remote base URL is required")
	}
	if cfg.IDField == "" {
		cfg.IDField = schema.DefaultIDField
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Credentials == nil {
		cfg.Credentials = NewCredentials(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	return &Client{
		baseURL: base,
		idField: cfg.IDField,
		http:    cfg.HTTPClient,
		creds:   cfg.Credentials,
		logger:  cfg.Logger,
	}, nil
}

// Credentials returns the holder used by the client.
func (c *Client) Credentials() *Credentials {
	return c.creds
}

// Fetch reads the full collection at resource.
func (c *Client) Fetch(ctx context.Context, resource string) (schema.Snapshot, error) {
	resp, body, err := c.do(ctx, http.MethodGet, resource, nil, nil)
	if err != nil {
		return schema.Snapshot{}, err
	}

	records, err := schema.DecodeRecords(body, c.idField)
	if err != nil {
		return schema.Snapshot{}, fmt.Errorf("fetch %s: %w", resource, err)
	}

	snap := schema.Snapshot{Records: records}
	if v := resp.Header.Get(VersionHeader); v != "" {
		m, err := schema.ParseMarker(v)
		if err != nil {
			return schema.Snapshot{}, fmt.Errorf("fetch %s: %w: bad %s header: %v", resource, schema.ErrMalformedResponse, VersionHeader, err)
		}
		snap.Version = m
	}
	return snap.Sorted(), nil
}

// Submit sends op and returns the server's confirmation.
func (c *Client) Submit(ctx context.Context, op schema.Operation) (schema.Result, error) {
	if err := op.Validate(); err != nil {
		return schema.Result{}, &schema.RejectedError{Message: err.Error()}
	}

	payload := op.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	headers := map[string]string{
		"Content-Type":    "application/json",
		"Idempotency-Key": op.ID,
	}

	resp, body, err := c.do(ctx, op.Method, op.Resource, bytes.NewReader(payload), headers)
	if err != nil {
		return schema.Result{}, err
	}

	result := schema.Result{Status: resp.StatusCode}
	body = bytes.TrimSpace(body)
	if len(body) > 0 {
		if !json.Valid(body) {
			return schema.Result{}, fmt.Errorf("submit %s %s: %w: body is not JSON", op.Method, op.Resource, schema.ErrMalformedResponse)
		}
		result.Record = json.RawMessage(body)
	}
	return result, nil
}

// do performs one request and classifies the outcome. On success the
// response body has been read and closed.
func (c *Client) do(ctx context.Context, method, resource string, body io.Reader, headers map[string]string) (*http.Response, []byte, error) {
	url := c.baseURL + "/" + strings.TrimLeft(resource, "/")

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request %s %s: %w", method, resource, err)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.creds.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("%s %s: %w", method, resource, ctx.Err())
		}
		return nil, nil, fmt.Errorf("%s %s: %w: %v", method, resource, schema.ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w: reading body: %v", method, resource, schema.ErrNetworkUnavailable, err)
	}

	if err := c.classify(ctx, resp.StatusCode, data); err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, resource, err)
	}
	return resp, data, nil
}

// classify maps a non-2xx status to the error taxonomy.
func (c *Client) classify(ctx context.Context, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		if err := c.creds.Clear(ctx); err != nil {
			c.logger.Printf("Warning: failed to clear credentials: %v", err)
		}
		return schema.ErrAuthExpired
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return fmt.Errorf("%w: server returned %d", schema.ErrNetworkUnavailable, status)
	case status >= 400:
		return &schema.RejectedError{Status: status, Message: errorMessage(body)}
	default:
		return fmt.Errorf("%w: unexpected status %d", schema.ErrMalformedResponse, status)
	}
}

// errorMessage extracts the message of an {"error": "..."} body.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
