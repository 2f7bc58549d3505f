// Package service implements the core relay forwarding logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"moneywise-bff-go/internal/client"
	"moneywise-bff-go/internal/config"
	"moneywise-bff-go/internal/model"
)

// ErrBackendTimeout is returned when the backend does not answer within the
// relay deadline. Handlers map it to 504 Gateway Timeout.
var ErrBackendTimeout = errors.New("backend request exceeded the configured timeout")

// ErrBackendUnavailable is returned when the backend cannot be reached at
// all. Handlers map it to 502 Bad Gateway.
var ErrBackendUnavailable = errors.New("backend service unavailable")

// hopByHopHeaders (RFC 7230 section 6.1) never cross the relay in either
// direction. Keys are in canonical form.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// deniedRequestHeaders are dropped from the outbound request. Host is derived
// from the backend URL by the transport; a forwarded one would make the
// backend route the request as if it came for the relay's own host.
var deniedRequestHeaders = map[string]bool{
	"Host": true,
}

// Forwarder relays browser requests to the MoneyWise backend API.
type Forwarder struct {
	client  *client.BackendClient
	logger  *slog.Logger
	baseURL *url.URL
	timeout time.Duration
}

// NewForwarder creates a Forwarder with defaults taken from cfg.
func NewForwarder(c *client.BackendClient, cfg *config.Config, logger *slog.Logger) (*Forwarder, error) {
	u, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend base_url: %w", err)
	}

	return &Forwarder{
		client:  c,
		logger:  logger.With("component", "forwarder"),
		baseURL: u,
		timeout: cfg.Backend.Timeout(),
	}, nil
}

// callOptions are the per-call knobs; zero values fall back to the
// Forwarder's configured defaults.
type callOptions struct {
	baseURL *url.URL
	timeout time.Duration
}

// Option customizes a single Forward call.
type Option func(*callOptions)

// WithBackendURL overrides the backend base URL for one call. A nil URL is
// ignored.
func WithBackendURL(u *url.URL) Option {
	return func(o *callOptions) {
		if u != nil {
			o.baseURL = u
		}
	}
}

// WithTimeout overrides the relay deadline for one call. Non-positive values
// are ignored.
func WithTimeout(d time.Duration) Option {
	return func(o *callOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// Forward relays pr to the backend and returns the response with status,
// headers and body intact. The body streams from the backend; the caller
// must close it, which also releases the call's deadline timer. The deadline
// covers the whole exchange, body streaming included, so a stalled backend
// cannot hold the relay open forever.
//
// A timed-out call returns an error wrapping ErrBackendTimeout; any other
// transport failure wraps ErrBackendUnavailable. Backend HTTP errors
// (4xx/5xx) are not errors here, they relay as ordinary responses.
func (f *Forwarder) Forward(pr *model.ProxyRequest, opts ...Option) (*model.ProxyResponse, error) {
	co := callOptions{baseURL: f.baseURL, timeout: f.timeout}
	for _, opt := range opts {
		opt(&co)
	}

	target := buildBackendURL(co.baseURL, pr.Path, pr.RawPath, pr.RawQuery)
	header := outboundHeaders(pr.Header)

	var (
		body          io.Reader
		contentLength int64
	)
	if methodAllowsBody(pr.Method) && pr.Body != nil && pr.ContentLength != 0 {
		body = pr.Body
		contentLength = pr.ContentLength
	}

	f.logger.Debug("relaying request",
		"method", pr.Method,
		"path", pr.Path,
		"backend", co.baseURL.Host,
	)

	ctx := pr.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, co.timeout)

	resp, err := f.client.DoStream(ctx, pr.Method, target, header, body, contentLength)
	if err != nil {
		cancel()
		if client.IsTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrBackendTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	stripHopByHop(resp.Header)
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// methodAllowsBody reports whether a request body may be relayed for the
// given method. GET and HEAD relays never carry one, whatever the browser
// sent.
func methodAllowsBody(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead:
		return false
	}
	return true
}

// buildBackendURL joins base with the request path and query. The query
// string is attached verbatim; the backend sees exactly the bytes the
// browser sent.
func buildBackendURL(base *url.URL, path, rawPath, rawQuery string) string {
	u := *base
	u.Path = strings.TrimSuffix(base.Path, "/") + path
	if rawPath != "" {
		u.RawPath = strings.TrimSuffix(base.EscapedPath(), "/") + rawPath
	} else {
		u.RawPath = ""
	}
	u.RawQuery = rawQuery
	return u.String()
}

// outboundHeaders copies everything the browser sent except Host and
// hop-by-hop headers. Cookie, X-CSRF-Token, Content-Type and the rest cross
// unchanged. Value slices are copied so the relay never aliases the inbound
// request's header storage.
func outboundHeaders(src http.Header) http.Header {
	conn := connectionTokens(src)
	dst := make(http.Header, len(src))
	for key, vals := range src {
		ck := http.CanonicalHeaderKey(key)
		if deniedRequestHeaders[ck] || hopByHopHeaders[ck] || conn[ck] {
			continue
		}
		dst[ck] = append([]string(nil), vals...)
	}
	return dst
}

// stripHopByHop removes hop-by-hop headers from a backend response header
// set in place. End-to-end headers, Set-Cookie included, stay untouched.
func stripHopByHop(h http.Header) {
	for key := range connectionTokens(h) {
		h.Del(key)
	}
	for key := range hopByHopHeaders {
		h.Del(key)
	}
}

// connectionTokens returns the header names nominated by the Connection
// header, which are hop-by-hop per RFC 7230 section 6.1. Keys are in
// canonical form.
func connectionTokens(h http.Header) map[string]bool {
	var tokens map[string]bool
	for _, v := range h.Values("Connection") {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				if tokens == nil {
					tokens = make(map[string]bool)
				}
				tokens[http.CanonicalHeaderKey(f)] = true
			}
		}
	}
	return tokens
}

// cancelOnClose releases a call's deadline timer when the response body is
// closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
