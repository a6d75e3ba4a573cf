package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	errs "github.com/matzehuels/testmap/pkg/errors"
	"github.com/matzehuels/testmap/pkg/observability"
)

// DefaultTimeout bounds a single request attempt.
const DefaultTimeout = 10 * time.Second

// Client performs JSON requests against one base URL. Every request goes
// through [Retry], so transient failures (network errors, 5xx, 429) are
// retried while 4xx responses fail immediately.
type Client struct {
	http     *http.Client
	base     *url.URL
	headers  map[string]string
	attempts int
	delay    time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithHeader sets a header sent with every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) { c.headers[key] = value }
}

// WithBearerToken sets the Authorization header. An empty token is ignored.
func WithBearerToken(token string) ClientOption {
	return func(c *Client) {
		if token != "" {
			c.headers["Authorization"] = "Bearer " + token
		}
	}
}

// WithRetry overrides the attempt count and initial backoff delay.
func WithRetry(attempts int, delay time.Duration) ClientOption {
	return func(c *Client) {
		c.attempts = attempts
		c.delay = delay
	}
}

// NewClient creates a client for baseURL, which must be http or https.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if err := errs.ValidateURL(baseURL); err != nil {
		return nil, err
	}
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodeInvalidInput, err, "parse base URL")
	}
	c := &Client{
		http:     &http.Client{Timeout: DefaultTimeout},
		base:     u,
		headers:  map[string]string{"Accept": "application/json"},
		attempts: 3,
		delay:    time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.base.String() }

// Get decodes the JSON response of GET path into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post sends in as JSON and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPost, path, in, out)
}

// Put sends in as JSON and decodes the response into out.
func (c *Client) Put(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPut, path, in, out)
}

// Patch sends in as JSON and decodes the response into out.
func (c *Client) Patch(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPatch, path, in, out)
}

// Delete issues DELETE path, ignoring any response body.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil)
}

// Do performs a request with retries. in and out may be nil.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return errs.Wrap(errs.ErrCodeInvalidInput, err, "encode request")
		}
	}
	err := Retry(ctx, c.attempts, c.delay, func() error {
		return c.once(ctx, method, path, payload, out)
	})
	if re, ok := err.(*RetryableError); ok {
		return re.Err
	}
	return err
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) error {
	target := c.base.JoinPath(path)
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	hooks := observability.HTTP()
	hooks.OnRequest(ctx, method, target.Host, target.Path)
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		hooks.OnError(ctx, method, target.Host, target.Path, err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &RetryableError{Err: errs.Wrap(errs.ErrCodeNetwork, err, "%s %s", method, target.Path)}
	}
	defer resp.Body.Close()
	hooks.OnResponse(ctx, method, target.Host, target.Path, resp.StatusCode, time.Since(start))

	if err := checkStatus(resp, method, target.Path); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrap(errs.ErrCodeInvalidFormat, err, "decode %s %s", method, target.Path)
	}
	return nil
}

// apiError is the error body returned by the API ({"detail": "..."}).
type apiError struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

func checkStatus(resp *http.Response, method, path string) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}

	var body apiError
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	msg := body.Detail
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(code)
	}
	cause := fmt.Errorf("%s %s: status %d: %s", method, path, code, msg)

	switch {
	case code == http.StatusNotFound:
		return errs.Wrap(errs.ErrCodeNotFound, cause, "%s", msg)
	case code == http.StatusTooManyRequests:
		return &RetryableError{Err: errs.Wrap(errs.ErrCodeRateLimited, cause, "%s", msg)}
	case code >= 500:
		return &RetryableError{Err: errs.Wrap(errs.ErrCodeNetwork, cause, "%s", msg)}
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return errs.Wrap(errs.ErrCodeInvalidInput, cause, "%s", msg)
	default:
		return errs.Wrap(errs.ErrCodeNetwork, cause, "%s", msg)
	}
}
