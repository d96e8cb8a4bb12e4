// Package model defines shared types for the dev server.
package model

import (
	"io"
	"net/http"
	"strings"
)

// ProxyRequest is one inbound call to be forwarded to the gateway. It is built
// once by the handler and not modified afterwards.
type ProxyRequest struct {
	Method   string
	Path     string // upstream path, prefix already stripped
	RawQuery string
	Header   http.Header // Authorization and Content-Type only
	Body     []byte
}

// Streaming reports whether the request targets an SSE endpoint, judged by
// whether its path contains marker.
func (r *ProxyRequest) Streaming(marker string) bool {
	return marker != "" && strings.Contains(r.Path, marker)
}

// ProxyResponse is the gateway response with headers received and body unread.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Project is one entry of the workspace listing shown in the IDE sidebar.
type Project struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	HasIndex bool   `json:"has_index"`
}
