// Package client provides the upstream HTTP client for the AI gateway.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"kaixu-devserver/internal/config"
	"kaixu-devserver/internal/metrics"
	"kaixu-devserver/internal/model"
)

// GatewayClient sends requests to the gateway. Every request dials its own
// connection and closes it when the response body is closed.
type GatewayClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewGatewayClient creates a GatewayClient with keep-alives disabled and an
// overall timeout covering connect, headers and the whole body.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewGatewayClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *GatewayClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DisableKeepAlives:   true,
		DisableCompression:  true,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout: 30 * time.Second,
		}).DialContext,
	}

	return &GatewayClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Gateway.Timeout(),
			// Redirects go back to the browser untouched.
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "gateway_client"),
		metrics: m,
	}
}

// Do executes an HTTP request against the gateway and returns the raw response.
// The caller is responsible for closing the response body.
func (c *GatewayClient) Do(req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// DoStream executes a request and returns the response body as a stream.
// The caller is responsible for closing the returned ReadCloser.
// The provided context controls the lifetime of the upstream request:
// when the context is canceled (e.g. client disconnects), the upstream
// connection is torn down and pending body reads fail.
func (c *GatewayClient) DoStream(ctx context.Context, method, url string, header http.Header, body io.Reader) (*model.ProxyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	for k, vals := range header {
		req.Header[k] = vals
	}

	return c.Do(req)
}
