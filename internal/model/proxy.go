// Package model defines shared types for the BFF relay.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest carries an inbound browser request through the relay.
type ProxyRequest struct {
	// Ctx is the inbound request context; canceling it aborts the backend call.
	Ctx context.Context

	Method string

	// Path is the decoded request path, as in url.URL.Path.
	Path string

	// RawPath holds the original escaped path when it differs from the
	// default encoding of Path, as in url.URL.RawPath. Usually empty.
	RawPath string

	// RawQuery is the query string exactly as the browser sent it.
	// It is never re-encoded.
	RawQuery string

	Header http.Header

	// Body is the inbound request body, nil when there is none.
	Body io.ReadCloser

	// ContentLength mirrors http.Request.ContentLength: body size in bytes,
	// 0 for no body, -1 for unknown (chunked).
	ContentLength int64
}

// ProxyResponse carries a backend response back to the browser.
// The body streams from the backend; the receiver must close it.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// ErrorEnvelope is the JSON body the relay itself produces when the backend
// could not be reached. Backend error bodies pass through untouched and never
// take this shape unless the backend uses it too.
type ErrorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
