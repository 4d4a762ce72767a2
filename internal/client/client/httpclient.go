package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/donorsync/internal/client/metrics"
	"github.com/dmitrijs2005/donorsync/internal/client/models"
	"github.com/dmitrijs2005/donorsync/internal/common"
	"github.com/dmitrijs2005/donorsync/internal/logging"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodySize    = 8 << 20
	healthPath     = "/health"
)

// TokenSource yields the currently stored token pair, or nil when there is none.
type TokenSource interface {
	Get(ctx context.Context) (*models.TokenPair, error)
}

// Refresher renews the stored token pair after staleAccess was rejected. It
// returns nil without a new request when the pair was already renewed.
// The session manager implements it.
type Refresher interface {
	RefreshAccess(ctx context.Context, staleAccess string) error
}

// Request is a single API call. Path is resolved against the base URL unless
// it is absolute. A non-nil Body is sent as JSON.
type Request struct {
	Method string
	Path   string
	Body   any
	Auth   bool
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type Options struct {
	Timeout   time.Duration
	RateLimit float64
	RateBurst int
	Transport http.RoundTripper
	Logger    logging.Logger
	Metrics   *metrics.Metrics
}

// HTTPClient executes JSON requests against the API, attaching the stored
// access token and renewing it once on a 401.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	tokens  TokenSource
	log     logging.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	refresher Refresher
}

func NewHTTPClient(baseURL string, tokens TokenSource, opts Options) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, errors.New("server url is required")
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("server url %q must start with http:// or https://", baseURL)
	}

	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: opts.Transport},
		timeout: opts.Timeout,
		tokens:  tokens,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.log == nil {
		c.log = logging.Nop()
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c, nil
}

// SetRefresher registers the component consulted on a 401.
func (c *HTTPClient) SetRefresher(r Refresher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresher = r
}

func (c *HTTPClient) getRefresher() Refresher {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refresher
}

// BaseURL returns the server URL requests are resolved against.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

// Execute performs req. Failures are *HTTPError values classified as
// ErrNetwork, ErrServer, ErrClient, ErrUnauthenticated or ErrSessionExpired.
func (c *HTTPClient) Execute(ctx context.Context, req Request) (*Response, error) {
	if !req.Auth {
		return c.do(ctx, req, "")
	}

	access, err := c.accessToken(ctx)
	if err != nil {
		return nil, c.fail(req, ErrUnauthenticated, 0, nil, err)
	}
	if access == "" {
		return nil, c.fail(req, ErrUnauthenticated, 0, nil, nil)
	}

	resp, err := c.do(ctx, req, access)
	if !errors.Is(err, ErrUnauthenticated) {
		return resp, err
	}

	r := c.getRefresher()
	if r == nil {
		return nil, err
	}

	// Another caller may have renewed the pair while this request was out.
	current, terr := c.accessToken(ctx)
	if terr != nil {
		return nil, c.fail(req, ErrSessionExpired, 0, nil, terr)
	}
	if current == "" || current == access {
		if rerr := r.RefreshAccess(ctx, access); rerr != nil {
			if ctx.Err() != nil {
				return nil, c.fail(req, ErrNetwork, 0, nil, ctx.Err())
			}
			c.log.Debug(ctx, "token refresh failed", "url", c.resolve(req.Path), "error", rerr)
			return nil, c.fail(req, ErrSessionExpired, 0, nil, rerr)
		}
		if current, terr = c.accessToken(ctx); terr != nil || current == "" {
			return nil, c.fail(req, ErrSessionExpired, 0, nil, terr)
		}
	}

	return c.do(ctx, req, current)
}

// Ping checks server liveness. Health checks bypass the rate limiter.
func (c *HTTPClient) Ping(ctx context.Context) error {
	_, err := c.send(ctx, Request{Method: http.MethodGet, Path: healthPath}, "")
	return err
}

func (c *HTTPClient) accessToken(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", nil
	}
	pair, err := c.tokens.Get(ctx)
	if err != nil {
		return "", err
	}
	if pair == nil {
		return "", nil
	}
	return pair.AccessToken, nil
}

func (c *HTTPClient) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func (c *HTTPClient) fail(req Request, kind error, status int, body []byte, cause error) *HTTPError {
	return &HTTPError{
		Kind:       kind,
		StatusCode: status,
		Body:       body,
		Method:     methodOf(req),
		URL:        c.resolve(req.Path),
		Err:        cause,
	}
}

func methodOf(req Request) string {
	if req.Method == "" {
		return http.MethodGet
	}
	return req.Method
}

func (c *HTTPClient) do(ctx context.Context, req Request, access string) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.fail(req, ErrNetwork, 0, nil, err)
		}
	}
	return c.send(ctx, req, access)
}

func (c *HTTPClient) send(ctx context.Context, req Request, access string) (*Response, error) {
	method := methodOf(req)
	url := c.resolve(req.Path)

	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s body: %w", method, url, err)
		}
		body = bytes.NewReader(b)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	hreq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, url, err)
	}

	requestID := uuid.NewString()
	hreq.Header.Set("Accept", "application/json")
	hreq.Header.Set(common.RequestIDHeaderName, requestID)
	if body != nil {
		hreq.Header.Set("Content-Type", "application/json")
	}
	if access != "" {
		hreq.Header.Set(common.AuthorizationHeaderName, common.BearerScheme+" "+access)
	}

	start := time.Now()
	hresp, err := c.http.Do(hreq)
	if err != nil {
		c.metrics.ObserveRequest(method, "network", time.Since(start))
		c.log.Debug(ctx, "request failed", "method", method, "url", url, "request_id", requestID, "error", err)
		return nil, c.fail(req, ErrNetwork, 0, nil, err)
	}
	defer hresp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(hresp.Body, maxBodySize))
	if err != nil {
		c.metrics.ObserveRequest(method, "network", time.Since(start))
		return nil, c.fail(req, ErrNetwork, hresp.StatusCode, nil, err)
	}

	elapsed := time.Since(start)
	c.log.Debug(ctx, "request done",
		"method", method,
		"url", url,
		"status", hresp.StatusCode,
		"request_id", requestID,
		"duration", elapsed,
	)

	if kind := classify(hresp.StatusCode); kind != nil {
		c.metrics.ObserveRequest(method, outcomeOf(kind), elapsed)
		return nil, c.fail(req, kind, hresp.StatusCode, data, nil)
	}

	c.metrics.ObserveRequest(method, "ok", elapsed)
	return &Response{StatusCode: hresp.StatusCode, Header: hresp.Header, Body: data}, nil
}

func outcomeOf(kind error) string {
	switch kind {
	case ErrUnauthenticated:
		return "unauthenticated"
	case ErrServer:
		return "server"
	case ErrClient:
		return "client"
	}
	return "network"
}

// DecodeJSON decodes a successful response as T, accepting both the
// {data, meta} envelope and a bare payload.
func DecodeJSON[T any](resp *Response) (models.Response[T], error) {
	if resp == nil {
		return models.Response[T]{}, models.ErrEmptyBody
	}
	out, err := models.Decode[T](resp.Body)
	if err != nil {
		return out, fmt.Errorf("%w: %v", common.ErrorIncorrectResponse, err)
	}
	return out, nil
}
