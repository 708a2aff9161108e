package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/soboure69/My-Portefolio-data-science/internal/apperrors"
	"github.com/soboure69/My-Portefolio-data-science/internal/logger"
	"github.com/soboure69/My-Portefolio-data-science/internal/validate"
)

const DefaultTimeout = 30 * time.Second

// Doer sends a request and returns parsed response.
// Client and auth session both implement it
type Doer interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

type Config struct {
	BaseURL   string            `json:"base_url" yaml:"base_url" validate:"omitempty,url"`
	Headers   map[string]string `json:"headers" yaml:"headers"`
	Timeout   time.Duration     `json:"timeout" yaml:"timeout" validate:"gte=0"`
	UserAgent string            `json:"user_agent" yaml:"user_agent"`
}

func DefaultHeaders() map[string]string {
	return map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
}

func DefaultConfig() Config {
	return Config{
		Headers: DefaultHeaders(),
		Timeout: DefaultTimeout,
	}
}

type Option func(*Client)

// WithHTTPClient replaces transport. Config timeout is ignored then
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithBus publishes lifecycle events to an existing bus
func WithBus(b *Bus) Option {
	return func(c *Client) {
		c.bus = b
	}
}

// flight is the in-flight registry entry: cancel rejects every caller waiting on it
type flight struct {
	cancel context.CancelCauseFunc
}

type Client struct {
	httpClient *http.Client
	bus        *Bus
	log        logger.Logger
	userAgent  string

	mu      sync.RWMutex
	baseURL string
	headers map[string]string

	flights   singleflight.Group
	pendingMu sync.Mutex
	pending   map[string]*flight
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}

	headers := cfg.Headers
	if headers == nil {
		headers = DefaultHeaders()
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		log:        logger.NewNoOpLogger(),
		userAgent:  cfg.UserAgent,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		headers:    maps.Clone(headers),
		pending:    make(map[string]*flight),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.bus == nil {
		c.bus = NewBus()
	}

	return c, nil
}

// Subscribe registers observer for request lifecycle events
func (c *Client) Subscribe(o Observer) (unsubscribe func()) {
	return c.bus.Subscribe(o)
}

func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

func (c *Client) SetBaseURL(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = strings.TrimRight(baseURL, "/")
}

func (c *Client) SetHeader(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[name] = value
}

func (c *Client) RemoveHeader(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.headers {
		if strings.EqualFold(k, name) {
			delete(c.headers, k)
		}
	}
}

// Do sends request unless an identical one is already in flight; then caller joins it.
// Caller context cancellation only stops waiting, the shared call keeps going
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	req.Method = normalizeMethod(req.Method)
	key := requestKey(req)

	ch := c.flights.DoChan(key, func() (any, error) {
		return c.run(context.WithoutCancel(ctx), key, req)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Response), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) Get(ctx context.Context, endpoint string, payload any, opts Options) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Endpoint: endpoint, Payload: payload, Options: opts})
}

func (c *Client) Post(ctx context.Context, endpoint string, payload any, opts Options) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Endpoint: endpoint, Payload: payload, Options: opts})
}

func (c *Client) Put(ctx context.Context, endpoint string, payload any, opts Options) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, Endpoint: endpoint, Payload: payload, Options: opts})
}

func (c *Client) Patch(ctx context.Context, endpoint string, payload any, opts Options) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPatch, Endpoint: endpoint, Payload: payload, Options: opts})
}

func (c *Client) Delete(ctx context.Context, endpoint string, payload any, opts Options) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Endpoint: endpoint, Payload: payload, Options: opts})
}

// Cancel rejects in-flight request matching method, endpoint and payload.
// Returns false if there is no such request
func (c *Client) Cancel(method string, endpoint string, payload any) bool {
	return c.CancelRequest(Request{Method: method, Endpoint: endpoint, Payload: payload})
}

// CancelRequest is Cancel for requests sent with query options
func (c *Client) CancelRequest(req Request) bool {
	key := requestKey(req)

	c.pendingMu.Lock()
	f, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.pendingMu.Unlock()

	if !ok {
		return false
	}

	c.flights.Forget(key)
	f.cancel(apperrors.ErrRequestCanceled)
	c.log.Debug("request canceled", "key", key)
	return true
}

// CancelAll rejects every in-flight request
func (c *Client) CancelAll() {
	c.pendingMu.Lock()
	canceled := c.pending
	c.pending = make(map[string]*flight)
	c.pendingMu.Unlock()

	for key, f := range canceled {
		c.flights.Forget(key)
		f.cancel(apperrors.ErrRequestCanceled)
	}

	if len(canceled) > 0 {
		c.log.Debug("all requests canceled", "count", len(canceled))
	}
}

// Pending returns number of requests in flight
func (c *Client) Pending() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

// run executes request as the single flight for key
func (c *Client) run(ctx context.Context, key string, req Request) (*Response, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	f := &flight{cancel: cancel}

	c.pendingMu.Lock()
	c.pending[key] = f
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		if c.pending[key] == f {
			delete(c.pending, key)
		}
		c.pendingMu.Unlock()
		cancel(nil)
	}()

	return c.execute(ctx, req)
}

func (c *Client) execute(ctx context.Context, req Request) (*Response, error) {
	httpReq, target, err := c.prepare(ctx, req)

	c.publish(Event{Kind: EventStart, Method: req.Method, URL: target, Payload: req.Payload})
	defer c.publish(Event{Kind: EventEnd, Method: req.Method, URL: target})

	start := time.Now()
	var resp *Response
	if err == nil {
		resp, err = c.send(ctx, httpReq, req)
	}

	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			c.publish(Event{
				Kind:       EventError,
				Method:     req.Method,
				URL:        target,
				Status:     httpErr.Status,
				StatusText: httpErr.StatusText,
				Err:        httpErr,
			})
		}
		c.publish(Event{Kind: EventFail, Method: req.Method, URL: target, Err: err})
		c.log.Debug("request failed",
			"method", req.Method,
			"url", target,
			"status", StatusCode(err),
			"duration", time.Since(start),
			"error", err,
		)
		return nil, err
	}

	c.publish(Event{
		Kind:       EventSuccess,
		Method:     req.Method,
		URL:        target,
		Status:     resp.Status,
		StatusText: resp.StatusText,
		Header:     resp.Header,
		Data:       resp.Data,
	})
	c.log.Debug("request done",
		"method", req.Method,
		"url", target,
		"status", resp.Status,
		"duration", time.Since(start),
	)
	return resp, nil
}

// prepare builds http request. Target URL is returned even on error so it can be reported
func (c *Client) prepare(ctx context.Context, req Request) (*http.Request, string, error) {
	c.mu.RLock()
	baseURL := c.baseURL
	headers := maps.Clone(c.headers)
	c.mu.RUnlock()

	target := c.resolve(baseURL, req.Endpoint)

	fail := func(err error) (*http.Request, string, error) {
		return nil, target, &TransportError{Method: req.Method, URL: target, Err: err}
	}

	var body encodedBody
	if req.Method == http.MethodGet {
		q, err := encodeQuery(req.Payload)
		if err != nil {
			return fail(err)
		}
		target = appendQuery(target, q)
	} else {
		var err error
		body, err = encodeBody(req.Payload)
		if err != nil {
			return fail(err)
		}
	}
	target = appendQuery(target, req.Options.Query)

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body.reader)
	if err != nil {
		return fail(err)
	}

	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	if body.contentType != "" && !body.dropDefault {
		httpReq.Header.Set("Content-Type", body.contentType)
	}
	for k, v := range req.Options.Headers {
		httpReq.Header.Set(k, v)
	}
	if body.dropDefault {
		// Writer knows the boundary, nobody else does
		httpReq.Header.Set("Content-Type", body.contentType)
	}
	if c.userAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	return httpReq, target, nil
}

func (c *Client) resolve(baseURL string, endpoint string) string {
	if strings.HasPrefix(endpoint, "http") {
		return endpoint
	}
	return baseURL + endpoint
}

func (c *Client) send(ctx context.Context, httpReq *http.Request, req Request) (*Response, error) {
	target := httpReq.URL.String()

	fail := func(err error) (*Response, error) {
		if cause := context.Cause(ctx); errors.Is(cause, apperrors.ErrRequestCanceled) {
			err = cause
		}
		return nil, &TransportError{Method: req.Method, URL: target, Err: err}
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fail(err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fail(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		httpErr, parseErr := newHTTPError(httpResp, body)
		if parseErr != nil {
			c.log.Warn("malformed error body", "url", target, "status", httpResp.StatusCode, "error", parseErr)
		}
		return nil, httpErr
	}

	data, err := parseBody(httpResp.Header, body)
	if err != nil {
		return fail(err)
	}

	return &Response{
		Status:     httpResp.StatusCode,
		StatusText: http.StatusText(httpResp.StatusCode),
		Header:     httpResp.Header,
		Body:       body,
		Data:       data,
		Request: RequestInfo{
			Method:  req.Method,
			URL:     target,
			Payload: req.Payload,
		},
	}, nil
}

func (c *Client) publish(e Event) {
	c.bus.Publish(e)
}
