// Package apiclient is the authenticated request pipeline used by every
// backend call. It attaches the bearer token, recovers from an expired
// access token with exactly one refresh and one retry, and reports
// progress through a Tracker.
package apiclient

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

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxAttempts bounds a call to the original request plus one retry.
const maxAttempts = 2

const (
	RequestIDHeader = "X-Request-ID"
	maxResponseSize = 64 << 20
)

// Session is the token source the pipeline depends on.
type Session interface {
	AccessToken() string
	RefreshAccessToken(ctx context.Context) (string, bool)
	Logout(ctx context.Context)
}

// Caller is implemented by Client and accepted by the domain services.
type Caller interface {
	Call(ctx context.Context, req Request) (json.RawMessage, error)
}

// Recorder receives pipeline metrics.
type Recorder interface {
	ObserveRequest(method string, status int, d time.Duration)
	IncRefresh(ok bool)
	IncRetry()
	IncTransportError()
}

type nopRecorder struct{}

func (nopRecorder) ObserveRequest(string, int, time.Duration) {}
func (nopRecorder) IncRefresh(bool)                           {}
func (nopRecorder) IncRetry()                                 {}
func (nopRecorder) IncTransportError()                        {}

// Request describes one backend call.
type Request struct {
	// Method defaults to GET.
	Method string
	// Path is joined to the base URL unless it is already absolute.
	Path  string
	Query url.Values
	// Header values win over pipeline defaults, except Authorization.
	Header map[string]string
	// JSON is encoded as the body with Content-Type application/json.
	JSON any
	// Body is sent as-is. No Content-Type is added, so multipart callers
	// must set their own boundary header.
	Body []byte
	// SkipAuth sends no bearer token and never refreshes.
	SkipAuth bool
}

// Client is safe for concurrent use.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	session         Session
	tracker         *Tracker
	logger          zerolog.Logger
	recorder        Recorder
	failureStatuses map[int]bool
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithAuthFailureStatuses sets the statuses that trigger a refresh.
// The default is 403.
func WithAuthFailureStatuses(codes ...int) Option {
	return func(c *Client) {
		if len(codes) == 0 {
			return
		}
		c.failureStatuses = make(map[int]bool, len(codes))
		for _, code := range codes {
			c.failureStatuses[code] = true
		}
	}
}

func New(baseURL string, session Session, opts ...Option) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		session:         session,
		tracker:         NewTracker(),
		logger:          zerolog.Nop(),
		recorder:        nopRecorder{},
		failureStatuses: map[int]bool{http.StatusForbidden: true},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tracker returns the loading/error state of this client's calls.
func (c *Client) Tracker() *Tracker {
	return c.tracker
}

// WithTracker returns a client sharing transport and session but reporting
// to t, so each view can observe only its own calls.
func (c *Client) WithTracker(t *Tracker) *Client {
	cp := *c
	cp.tracker = t
	return &cp
}

// BaseURL returns the backend root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Call runs req through the pipeline and returns the raw JSON body. An empty
// success body yields nil. Transport errors are returned unchanged.
func (c *Client) Call(ctx context.Context, req Request) (_ json.RawMessage, err error) {
	end := c.tracker.begin()
	defer func() { end(err) }()

	if req.JSON != nil && req.Body != nil {
		return nil, ErrAmbiguousBody
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target, err := c.resolve(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	body := req.Body
	jsonBody := false
	if req.JSON != nil {
		body, err = json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		jsonBody = true
	}

	rid := req.Header[RequestIDHeader]
	if rid == "" {
		rid = uuid.New().String()
	}

	var token string
	if !req.SkipAuth && c.session != nil {
		token = c.session.AccessToken()
	}

	var status int
	var respBody []byte
	refreshed := false
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, respBody, err = c.send(ctx, method, target, req.Header, body, jsonBody, token, rid, attempt)
		if err != nil {
			return nil, err
		}
		if req.SkipAuth || c.session == nil || refreshed || !c.failureStatuses[status] {
			break
		}

		newToken, ok := c.session.RefreshAccessToken(ctx)
		if !ok && ctx.Err() != nil {
			// The caller gave up; the session may still be valid.
			return nil, ctx.Err()
		}
		c.recorder.IncRefresh(ok)
		if !ok {
			c.logger.Warn().Str("request_id", rid).Int("status", status).Msg("refresh failed, logging out")
			c.session.Logout(ctx)
			return nil, ErrSessionExpired
		}
		refreshed = true
		token = newToken
		c.recorder.IncRetry()
	}

	if status < 200 || status >= 300 {
		return nil, &HTTPError{StatusCode: status, Message: messageFrom(respBody)}
	}

	trimmed := bytes.TrimSpace(respBody)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("%s %s: %w", method, req.Path, ErrMalformedResponse)
	}
	return json.RawMessage(trimmed), nil
}

// Fetch downloads an absolute URL without credentials, for example a
// presigned object URL, and copies the body to w.
func (c *Client) Fetch(ctx context.Context, rawURL string, w io.Writer) (n int64, err error) {
	end := c.tracker.begin()
	defer func() { end(err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build download request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recorder.IncTransportError()
		return 0, err
	}
	defer resp.Body.Close()
	c.recorder.ObserveRequest(http.MethodGet, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return 0, &HTTPError{StatusCode: resp.StatusCode, Message: FallbackMessage}
	}
	return io.Copy(w, resp.Body)
}

func (c *Client) resolve(path string, query url.Values) (string, error) {
	var target string
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		target = path
	} else {
		if path != "" && !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		target = c.baseURL + path
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse request url: %w", err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) send(ctx context.Context, method, target string, header map[string]string,
	body []byte, jsonBody bool, token, rid string, attempt int) (int, []byte, error) {

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}

	if jsonBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(RequestIDHeader, rid)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	req.Header.Del("Authorization")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recorder.IncTransportError()
		c.logger.Error().Err(err).
			Str("request_id", rid).
			Str("method", method).
			Str("url", target).
			Int("attempt", attempt).
			Msg("request failed")
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.recorder.IncTransportError()
		return 0, nil, err
	}

	latency := time.Since(start)
	c.recorder.ObserveRequest(method, resp.StatusCode, latency)

	evt := c.logger.Debug()
	if resp.StatusCode >= 400 {
		evt = c.logger.Warn()
	}
	evt.
		Str("request_id", rid).
		Str("method", method).
		Str("url", target).
		Int("status", resp.StatusCode).
		Int("attempt", attempt).
		Dur("latency", latency).
		Msg("api call")

	return resp.StatusCode, data, nil
}
