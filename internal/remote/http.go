package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/hrsync/internal/ir"
)

// Defaults for NewHTTPClient.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRetries   = 3
	DefaultBackoff      = 200 * time.Millisecond
	DefaultMaxBackoff   = 5 * time.Second
	DefaultAPIKeyHeader = "Authorization"
)

// maxErrorBody bounds how much of an error response is kept in the message.
const maxErrorBody = 512

// HTTPClient is the REST implementation of Client.
type HTTPClient struct {
	base       *url.URL
	http       *http.Client
	keyHeader  string
	apiKey     string
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithAPIKey sends key in header on every request. For the Authorization
// header the key is sent as a bearer token.
func WithAPIKey(header, key string) HTTPOption {
	return func(c *HTTPClient) {
		if header != "" {
			c.keyHeader = header
		}
		c.apiKey = key
	}
}

// WithTimeout bounds each HTTP attempt.
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		c.http.Timeout = d
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests. Zero or negative disables limiting.
func WithRateLimit(perSecond float64, burst int) HTTPOption {
	return func(c *HTTPClient) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRetry sets how many times a transient failure is retried and the
// initial backoff, which doubles per attempt up to DefaultMaxBackoff.
func WithRetry(maxRetries int, backoff time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		if maxRetries < 0 {
			maxRetries = 0
		}
		c.maxRetries = maxRetries
		c.backoff = backoff
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(c *HTTPClient) {
		c.logger = l
	}
}

// NewHTTPClient returns a client for the server at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parse base url: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	c := &HTTPClient{
		base:       u,
		http:       &http.Client{Timeout: DefaultTimeout},
		keyHeader:  DefaultAPIKeyHeader,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultBackoff,
		maxBackoff: DefaultMaxBackoff,
		logger:     slog.Default(),
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// List implements Client.
func (c *HTTPClient) List(ctx context.Context, table ir.Table) ([]ir.Record, error) {
	body, err := c.do(ctx, "list", table, http.MethodGet, c.tablePath(table), nil)
	if err != nil {
		return nil, err
	}
	recs, err := ir.DecodeRecords(body)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Table: table, Op: "list", Err: err}
	}
	return recs, nil
}

// Insert implements Client. An empty response body returns rec unchanged.
func (c *HTTPClient) Insert(ctx context.Context, table ir.Table, rec ir.Record) (ir.Record, error) {
	body, err := c.do(ctx, "insert", table, http.MethodPost, c.tablePath(table), rec)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return rec.Clone(), nil
	}
	created, err := ir.DecodeRecord(body)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Table: table, Op: "insert", Err: err}
	}
	return created, nil
}

// Update implements Client.
func (c *HTTPClient) Update(ctx context.Context, table ir.Table, id string, partial ir.Record) error {
	_, err := c.do(ctx, "update", table, http.MethodPatch, c.recordPath(table, id), partial)
	return err
}

// Delete implements Client.
func (c *HTTPClient) Delete(ctx context.Context, table ir.Table, id string) error {
	_, err := c.do(ctx, "delete", table, http.MethodDelete, c.recordPath(table, id), nil)
	return err
}

// Ping checks GET /healthz once, without retries.
func (c *HTTPClient) Ping(ctx context.Context) error {
	_, err := c.attempt(ctx, "ping", "", http.MethodGet, c.base.JoinPath("healthz").String(), nil)
	return err
}

func (c *HTTPClient) tablePath(table ir.Table) string {
	return c.base.JoinPath("tables", string(table)).String()
}

func (c *HTTPClient) recordPath(table ir.Table, id string) string {
	return c.base.JoinPath("tables", string(table), url.PathEscape(id)).String()
}

// do runs one logical call, retrying transient failures with exponential
// backoff. Rejections are returned immediately.
func (c *HTTPClient) do(ctx context.Context, op string, table ir.Table, method, target string, payload ir.Record) ([]byte, error) {
	var body []byte
	if payload != nil {
		data, err := ir.MarshalRecord(payload)
		if err != nil {
			return nil, &Error{Kind: KindRejected, Table: table, Op: op, Err: err}
		}
		body = data
	}

	delay := c.backoff
	for attempt := 0; ; attempt++ {
		resp, err := c.attempt(ctx, op, table, method, target, body)
		if err == nil || !IsTransient(err) || attempt >= c.maxRetries {
			return resp, err
		}

		c.logger.Debug("retrying remote call",
			"op", op,
			"table", table,
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		if err := c.sleep(ctx, delay); err != nil {
			return nil, &Error{Kind: KindTransient, Table: table, Op: op, Err: err}
		}
		delay *= 2
		if delay > c.maxBackoff {
			delay = c.maxBackoff
		}
	}
}

func (c *HTTPClient) attempt(ctx context.Context, op string, table ir.Table, method, target string, body []byte) ([]byte, error) {
	fail := func(kind Kind, status int, err error) ([]byte, error) {
		return nil, &Error{Kind: kind, Status: status, Table: table, Op: op, Err: err}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fail(KindTransient, 0, err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fail(KindRejected, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		value := c.apiKey
		if strings.EqualFold(c.keyHeader, "Authorization") {
			value = "Bearer " + c.apiKey
		}
		req.Header.Set(c.keyHeader, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fail(KindTransient, 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(KindTransient, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return fail(classify(resp.StatusCode), resp.StatusCode, errors.New(errorMessage(resp.StatusCode, data)))
}

// errorMessage prefers an {"error": "..."} body and falls back to the raw
// text or the status line.
func errorMessage(status int, body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return http.StatusText(status)
	}
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	return text
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
