// Package apiclient is the single choke point for outbound HTTP calls made by
// the client: the TravelMate backend and the external routing service.
//
// Every call is classified into an operation category (search, routes,
// general) and counted against a per-category 60 second window before any I/O.
// GET responses are cached for a configurable duration. Each request is bound
// by a timeout. Failures are normalised to ErrRateLimitExceeded,
// ErrRequestTimeout, *HTTPError and *NetworkError; nothing is retried here.
package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/rubiojr/travelmate/pkg/logger"
	"github.com/rubiojr/travelmate/pkg/metrics"
)

const maxResponseBytes = 10 << 20

// TokenSource supplies the bearer token of the current session, if any.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

// Options configures a Client.
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	CacheDuration time.Duration
	Limits        map[Category]int
	Tokens        TokenSource
	HTTPClient    *http.Client
	UserAgent     string
	Now           func() time.Time
}

// Client performs backend and routing-service requests.
type Client struct {
	base      *url.URL
	timeout   time.Duration
	tokens    TokenSource
	http      *http.Client
	userAgent string
	limiter   *RateLimiter
	cache     *responseCache
	group     singleflight.Group
	log       zerolog.Logger
}

// New builds a Client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("apiclient: invalid base URL %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "TravelMate/1.0"
	}
	if opts.Tokens == nil {
		opts.Tokens = TokenFunc(func() string { return "" })
	}
	return &Client{
		base:      base,
		timeout:   opts.Timeout,
		tokens:    opts.Tokens,
		http:      opts.HTTPClient,
		userAgent: opts.UserAgent,
		limiter:   NewRateLimiter(opts.Limits, opts.Now),
		cache:     newResponseCache(opts.CacheDuration, opts.Now),
		log:       logger.With("apiclient"),
	}, nil
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string { return c.base.String() }

// Limiter exposes the rate limiter (read-only use).
func (c *Client) Limiter() *RateLimiter { return c.limiter }

// ClearCache drops every cached GET response.
func (c *Client) ClearCache() { c.cache.purge() }

// Get fetches path with query params and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, params url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, params, nil, out)
}

// Post sends body to path. See encodeBody for the supported body types.
func (c *Client) Post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

// Put sends body to path.
func (c *Client) Put(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPut, path, nil, body, out)
}

// Delete issues a DELETE for path.
func (c *Client) Delete(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, out)
}

// resolve joins path to the base URL unless path is already absolute.
func (c *Client) resolve(path string, params url.Values) (*url.URL, error) {
	var u *url.URL
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		parsed, err := url.Parse(path)
		if err != nil {
			return nil, fmt.Errorf("apiclient: invalid URL %q: %w", path, err)
		}
		u = parsed
	} else {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		ref := *c.base
		ref.Path = c.base.Path + path
		u = &ref
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out interface{}) error {
	u, err := c.resolve(path, params)
	if err != nil {
		return err
	}
	cat := CategoryFor(u.Path)

	if !c.limiter.Allow(cat) {
		metrics.APIRateLimited.WithLabelValues(string(cat)).Inc()
		c.log.Warn().Str("category", string(cat)).Str("path", u.Path).Msg("rate limit exceeded")
		return fmt.Errorf("%s %s: %w", method, u.Path, ErrRateLimitExceeded)
	}

	if method != http.MethodGet {
		raw, err := c.send(ctx, cat, method, u, body)
		if err != nil {
			return err
		}
		c.cache.purge()
		return decode(raw, out)
	}

	key := cacheKey(method, u.String())
	if raw, ok := c.cache.get(key); ok {
		metrics.APICacheHits.WithLabelValues(string(cat)).Inc()
		c.log.Debug().Str("url", u.String()).Msg("cache hit")
		return decode(raw, out)
	}
	// The shared request outlives any single caller; send still bounds it.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		raw, err := c.send(flightCtx, cat, method, u, nil)
		if err != nil {
			return nil, err
		}
		c.cache.put(key, raw)
		return raw, nil
	})
	select {
	case <-ctx.Done():
		metrics.APIRequests.WithLabelValues(string(cat), "canceled").Inc()
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		return decode(res.Val.([]byte), out)
	}
}

func (c *Client) send(ctx context.Context, cat Category, method string, u *url.URL, body interface{}) ([]byte, error) {
	reader, contentType, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", reqID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if tok := c.tokens.Token(); tok != "" && c.sameOrigin(u) {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classify(ctx, reqCtx, cat, method, u, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.classify(ctx, reqCtx, cat, method, u, err)
	}
	metrics.APIRequestDuration.WithLabelValues(string(cat)).Observe(time.Since(start).Seconds())

	c.log.Debug().
		Str("request_id", reqID).
		Str("method", method).
		Str("url", u.String()).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.APIRequests.WithLabelValues(string(cat), "http_error").Inc()
		detail, code := parseDetail(raw)
		return nil, &HTTPError{Method: method, URL: u.Path, Status: resp.StatusCode, Code: code, Detail: detail}
	}
	metrics.APIRequests.WithLabelValues(string(cat), "ok").Inc()
	return raw, nil
}

func (c *Client) classify(parent, reqCtx context.Context, cat Category, method string, u *url.URL, err error) error {
	switch {
	case parent.Err() != nil:
		metrics.APIRequests.WithLabelValues(string(cat), "canceled").Inc()
		return parent.Err()
	case errors.Is(reqCtx.Err(), context.DeadlineExceeded):
		metrics.APIRequests.WithLabelValues(string(cat), "timeout").Inc()
		return fmt.Errorf("%s %s after %s: %w", method, u.Path, c.timeout, ErrRequestTimeout)
	default:
		metrics.APIRequests.WithLabelValues(string(cat), "network_error").Inc()
		return &NetworkError{Err: err}
	}
}

// sameOrigin reports whether u targets the backend; the bearer token is
// never sent to third-party hosts.
func (c *Client) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, c.base.Scheme) && strings.EqualFold(u.Host, c.base.Host)
}

// encodeBody serialises a request body:
//   - nil: no body
//   - *Multipart: sent as-is with its boundary content type
//   - url.Values: application/x-www-form-urlencoded
//   - anything else: JSON
func encodeBody(body interface{}) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case *Multipart:
		return bytes.NewReader(b.body), b.contentType, nil
	case url.Values:
		return strings.NewReader(b.Encode()), "application/x-www-form-urlencoded", nil
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("apiclient: encode body: %w", err)
		}
		return bytes.NewReader(raw), "application/json", nil
	}
}

func decode(raw []byte, out interface{}) error {
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("apiclient: decode response: %w", err)
	}
	return nil
}

// FormFile is a file part of a multipart body.
type FormFile struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// Multipart is a fully built multipart/form-data body.
type Multipart struct {
	body        []byte
	contentType string
}

// ContentType returns the multipart content type including the boundary.
func (m *Multipart) ContentType() string { return m.contentType }

// Bytes returns the encoded body.
func (m *Multipart) Bytes() []byte { return m.body }

// NewMultipart encodes fields (in key order) followed by files.
func NewMultipart(fields url.Values, files ...FormFile) (*Multipart, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range fields[k] {
			if err := w.WriteField(k, v); err != nil {
				return nil, err
			}
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, f.Filename))
		ct := f.ContentType
		if ct == "" {
			ct = http.DetectContentType(f.Data)
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return &Multipart{body: buf.Bytes(), contentType: w.FormDataContentType()}, nil
}
