// Package remote is the HTTP client for the study API.
//
// Every call goes through Client.Request, which applies a per-attempt
// timeout, retries network failures and 5xx responses at a fixed interval,
// and returns a *RequestError once retries are exhausted. 4xx responses are
// returned immediately.
//
// The client never tracks connectivity itself. Callers inspect errors with
// IsOffline/IsClient and report them to whoever owns the online flag.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/studyportal/studysync/internal/logging"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultRetries       = 6
	DefaultRetryInterval = 1000 * time.Millisecond
)

// TokenSource supplies the bearer token sent with each request.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

func (s StaticToken) Token() string { return string(s) }

// Config holds client configuration.
type Config struct {
	// BaseURL is prefixed to relative request paths, e.g. "https://portal.example".
	BaseURL string

	Token TokenSource

	// HTTPClient defaults to a client without its own timeout; attempts are
	// bounded by Timeout through the request context.
	HTTPClient *http.Client

	Timeout       time.Duration
	Retries       int
	RetryInterval time.Duration

	Logger *logging.Logger
}

// DefaultConfig returns a Config with the default timeout and retry policy.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		HTTPClient:    &http.Client{},
		Timeout:       DefaultTimeout,
		Retries:       DefaultRetries,
		RetryInterval: DefaultRetryInterval,
		Logger:        logging.Nop(),
	}
}

// Options tune a single request. Zero values fall back to the client
// configuration.
type Options struct {
	Method string

	// Body is sent as-is when it is []byte, json.RawMessage, string or an
	// io.Reader; anything else is encoded as JSON.
	Body any

	Query url.Values

	// Filter is appended to the query string verbatim, for the API's
	// comparison filters such as "updated>1700000000".
	Filter string

	Timeout       time.Duration
	Retries       int // < 0 disables retrying
	RetryInterval time.Duration

	// Raw marks a non-JSON response (e.g. the compact id list).
	Raw bool

	// Memo, when set, shares the response with identical requests.
	Memo *Memo
}

// Client performs requests against the study API.
type Client struct {
	cfg  Config
	http *http.Client
	log  *logging.Logger
}

// New creates a client. Unset Config fields take their defaults.
func New(cfg Config) *Client {
	def := DefaultConfig(cfg.BaseURL)
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = def.HTTPClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retries == 0 {
		cfg.Retries = def.Retries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:  cfg,
		http: cfg.HTTPClient,
		log:  cfg.Logger.Named("remote"),
	}
}

// BaseURL returns the API root the client resolves paths against.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// Request performs the call described by opts and returns the response body.
func (c *Client) Request(ctx context.Context, path string, opts Options) ([]byte, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	body, contentType, err := encodeBody(opts.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	target := c.resolve(path, opts.Query, opts.Filter)

	do := func() ([]byte, error) {
		return c.retry(ctx, method, target, body, contentType, opts)
	}
	if opts.Memo != nil {
		return opts.Memo.do(memoKey(target, opts.Raw, body), do)
	}
	return do()
}

// JSON performs a request and decodes the JSON response into a T.
func JSON[T any](ctx context.Context, c *Client, path string, opts Options) (T, error) {
	var v T
	data, err := c.Request(ctx, path, opts)
	if err != nil {
		return v, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return v, nil
}

func (c *Client) retry(ctx context.Context, method, target string, body []byte, contentType string, opts Options) ([]byte, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	retries := opts.Retries
	switch {
	case retries == 0:
		retries = c.cfg.Retries
	case retries < 0:
		retries = 0
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = c.cfg.RetryInterval
	}

	attempt := 0
	operation := func() ([]byte, error) {
		attempt++
		data, err := c.once(ctx, method, target, body, contentType, opts.Raw, timeout)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		if re, ok := AsRequestError(err); ok && !re.Retryable() {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxTries(uint(retries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Debug("retrying request", "method", method, "url", target, "attempt", attempt, "in", next, "error", err)
		}),
	)
	if err == nil {
		return data, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return nil, fmt.Errorf("%s %s: %w", method, target, ctxErr)
	}
	if _, ok := AsRequestError(err); !ok {
		err = &RequestError{Method: method, URL: target, Err: err}
	}
	if IsOffline(err) {
		c.log.Warn("request failed", "method", method, "url", target, "attempts", attempt, "error", err)
	}
	return nil, err
}

func (c *Client) once(ctx context.Context, method, target string, body []byte, contentType string, raw bool, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if raw {
		req.Header.Set("Accept", "*/*")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if c.cfg.Token != nil {
		if tok := c.cfg.Token.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &RequestError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Method: method, URL: target, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError(method, target, resp.StatusCode, data)
	}
	return data, nil
}

func (c *Client) resolve(path string, query url.Values, filter string) string {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.cfg.BaseURL + "/" + strings.TrimLeft(path, "/")
	}

	var parts []string
	if len(query) > 0 {
		parts = append(parts, query.Encode())
	}
	if filter != "" {
		parts = append(parts, filter)
	}
	if len(parts) == 0 {
		return target
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + strings.Join(parts, "&")
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case json.RawMessage:
		return b, "application/json", nil
	case []byte:
		return b, "application/octet-stream", nil
	case string:
		return []byte(b), "text/plain; charset=utf-8", nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, "", err
		}
		return data, "application/octet-stream", nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	}
}
