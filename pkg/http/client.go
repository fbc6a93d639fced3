package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	MethodGet  = http.MethodGet
	MethodPost = http.MethodPost
)

// ClientOption configures Client.
type ClientOption func(*Client)

// RequestOptions holds HTTP request parameters.
type RequestOptions struct {
	Method      string
	URL         string
	Headers     map[string]string
	QueryParams map[string][]string
	Body        interface{}
}

// StatusError is returned for non-2xx replies. Body is the raw reply.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, truncate(e.Body, 512))
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// Client is an outbound HTTP client with a timeout and an optional egress rate limit.
type Client struct {
	timeout   time.Duration
	limiter   *rate.Limiter
	transport http.RoundTripper
	maxBody   int64
	client    *http.Client
}

// NewClient creates a new HTTP client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		timeout: 30 * time.Second,
		maxBody: 4 << 20,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.client = &http.Client{Timeout: c.timeout, Transport: c.transport}
	return c
}

// SendRequest waits for the limiter, then sends the request.
func (c *Client) SendRequest(ctx context.Context, opts *RequestOptions) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := c.buildRequest(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	return resp, nil
}

// Send returns the status and the (size-capped) body without interpreting either.
func (c *Client) Send(ctx context.Context, opts *RequestOptions) (int, []byte, error) {
	resp, err := c.SendRequest(ctx, opts)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// SendAndParse sends the request and decodes a 2xx JSON reply into dest. Non-2xx replies
// come back as *StatusError.
func (c *Client) SendAndParse(ctx context.Context, opts *RequestOptions, dest interface{}) error {
	status, body, err := c.Send(ctx, opts)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &StatusError{Status: status, Body: body}
	}

	switch v := dest.(type) {
	case nil:
		return nil
	case *[]byte:
		*v = body
		return nil
	default:
		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("decode json: %w", err)
		}
		return nil
	}
}

func (c *Client) buildRequest(ctx context.Context, opts *RequestOptions) (*http.Request, error) {
	body, err := requestBody(opts.Body)
	if err != nil {
		return nil, fmt.Errorf("create body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, opts.URL, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	if len(opts.QueryParams) > 0 {
		q := req.URL.Query()
		for key, values := range opts.QueryParams {
			for _, value := range values {
				q.Add(key, value)
			}
		}
		req.URL.RawQuery = q.Encode()
	}

	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("Content-Type") == "" && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func requestBody(b interface{}) (io.Reader, error) {
	switch v := b.(type) {
	case nil:
		return nil, nil
	case []byte:
		return bytes.NewReader(v), nil
	case json.RawMessage:
		return bytes.NewReader(v), nil
	case string:
		return strings.NewReader(v), nil
	case io.Reader:
		return v, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal json: %w", err)
		}
		return bytes.NewReader(raw), nil
	}
}

// WithTimeout sets client timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRateLimit caps outbound requests per second. Waiting honors the request context.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if perSecond > 0 {
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithTransport overrides the round tripper, for tests.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.transport = rt
	}
}

// WithMaxBody caps how much of a reply is read.
func WithMaxBody(n int64) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}
