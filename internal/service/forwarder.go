// Package service implements the request forwarding side of the gateway proxy.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"kaixu-devserver/internal/client"
	"kaixu-devserver/internal/config"
	"kaixu-devserver/internal/model"
)

var (
	// ErrGatewayUnreachable wraps every failure that happens before gateway
	// response headers are available.
	ErrGatewayUnreachable = errors.New("gateway unreachable")
	// ErrOutsidePrefix is returned for paths that do not belong to the proxy.
	ErrOutsidePrefix = errors.New("path is outside the proxy prefix")
)

const (
	acceptSSE  = "text/event-stream"
	acceptJSON = "application/json"
)

// Forwarder turns inbound proxy calls into gateway requests. It holds only
// immutable configuration and is safe for concurrent use.
type Forwarder struct {
	client     *client.GatewayClient
	logger     *slog.Logger
	baseURL    string
	prefix     string
	marker     string
	virtualKey string
}

// NewForwarder creates a Forwarder for the configured gateway.
func NewForwarder(c *client.GatewayClient, cfg *config.Config, logger *slog.Logger) (*Forwarder, error) {
	u, err := url.Parse(cfg.Gateway.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse gateway base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gateway base_url %q needs a scheme and host", cfg.Gateway.BaseURL)
	}

	return &Forwarder{
		client:     c,
		logger:     logger.With("component", "forwarder"),
		baseURL:    u.Scheme + "://" + u.Host,
		prefix:     cfg.Gateway.Prefix,
		marker:     cfg.Gateway.StreamMarker,
		virtualKey: cfg.Auth.VirtualKey,
	}, nil
}

// TargetPath strips the proxy prefix from an escaped inbound path:
// "/api/.netlify/functions/gateway-stream" becomes
// "/.netlify/functions/gateway-stream". The remainder is kept byte for byte.
func (f *Forwarder) TargetPath(escapedPath string) (string, error) {
	rest, ok := strings.CutPrefix(escapedPath, f.prefix)
	if !ok || !strings.HasPrefix(rest, "/") {
		return "", fmt.Errorf("%w: %q", ErrOutsidePrefix, escapedPath)
	}
	return rest, nil
}

// NewRequest builds the ProxyRequest for one inbound call, keeping only the
// headers worth forwarding.
func (f *Forwarder) NewRequest(escapedPath, rawQuery string, inbound http.Header, body []byte) (*model.ProxyRequest, error) {
	target, err := f.TargetPath(escapedPath)
	if err != nil {
		return nil, err
	}

	header := make(http.Header, 2)
	for _, key := range []string{"Authorization", "Content-Type"} {
		if v := inbound.Get(key); v != "" {
			header.Set(key, v)
		}
	}

	return &model.ProxyRequest{
		Method:   http.MethodPost,
		Path:     target,
		RawQuery: rawQuery,
		Header:   header,
		Body:     body,
	}, nil
}

// Streaming reports whether pr targets a streaming endpoint.
func (f *Forwarder) Streaming(pr *model.ProxyRequest) bool {
	return pr.Streaming(f.marker)
}

// Forward sends pr to the gateway and returns once response headers arrive.
// The returned headers are already translated for the browser. The caller
// must close the response body.
func (f *Forwarder) Forward(ctx context.Context, pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target := f.baseURL + pr.Path
	if pr.RawQuery != "" {
		target += "?" + pr.RawQuery
	}

	f.logger.Debug("forwarding request",
		"target", target,
		"payload_bytes", len(pr.Body),
		"streaming", f.Streaming(pr),
	)

	resp, err := f.client.DoStream(ctx, pr.Method, target, f.OutboundHeaders(pr), bytes.NewReader(pr.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}

	resp.Header = ResponseHeaders(resp.Header)
	return resp, nil
}

// OutboundHeaders returns the headers sent to the gateway for pr.
// An inbound Authorization header is passed through as is; without one the
// configured virtual key is injected as a bearer token.
func (f *Forwarder) OutboundHeaders(pr *model.ProxyRequest) http.Header {
	h := make(http.Header, 3)

	ct := pr.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/json"
	}
	h.Set("Content-Type", ct)

	if auth := pr.Header.Get("Authorization"); auth != "" {
		h.Set("Authorization", auth)
	} else if f.virtualKey != "" {
		h.Set("Authorization", "Bearer "+f.virtualKey)
	}

	if f.Streaming(pr) {
		h.Set("Accept", acceptSSE)
	} else {
		h.Set("Accept", acceptJSON)
	}
	return h
}
