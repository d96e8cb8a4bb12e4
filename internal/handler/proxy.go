package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"

	"kaixu-devserver/internal/relay"
	"kaixu-devserver/internal/service"
)

// bearerPattern matches credentials that may leak into error strings.
var bearerPattern = regexp.MustCompile(`(?i)(bearer\s+)[^\s"]+`)

// errShortBody is returned when the body ends before the declared Content-Length.
var errShortBody = errors.New("request body shorter than Content-Length")

// ProxyHandler forwards browser calls to the AI gateway and relays the answer.
type ProxyHandler struct {
	forwarder *service.Forwarder
	relay     *relay.Relay
	logger    *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(f *service.Forwarder, r *relay.Relay, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		forwarder: f,
		relay:     r,
		logger:    logger.With("component", "proxy_handler"),
	}
}

// Handle proxies a POST under the API prefix to the gateway and streams the
// response back chunk by chunk.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	body, err := readBody(req)
	if err != nil {
		h.logger.Warn("reading request body", "err", err, "path", req.URL.Path)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": errShortBody.Error(),
		})
	}

	pr, err := h.forwarder.NewRequest(req.URL.EscapedPath(), req.URL.RawQuery, req.Header, body)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "unknown proxy route",
		})
	}

	ctx := req.Context()
	resp, err := h.forwarder.Forward(ctx, pr)
	if err != nil {
		return h.mapError(c, err)
	}
	// Closing the body tears down the gateway connection, also when the
	// relay stopped early.
	defer func() { _ = resp.Body.Close() }()

	mode := relay.ModeBuffered
	if h.forwarder.Streaming(pr) || isEventStream(resp.Header) {
		mode = relay.ModeStreaming
	}
	h.logger.Info("gateway responded",
		"path", pr.Path,
		"status", resp.StatusCode,
		"mode", mode,
		"payload_bytes", len(pr.Body),
	)

	w := &commitOnWrite{res: c.Response(), header: resp.Header, status: resp.StatusCode}
	_, err = h.relay.Run(ctx, w, resp.Body, relay.Info{Path: pr.Path, Mode: mode})

	if w.res.Committed {
		// Status line is out; whatever happened can only end the stream.
		return nil
	}
	switch {
	case err == nil:
		// Empty body: the status and headers still have to go out.
		w.commit()
		return nil
	case errors.Is(err, relay.ErrClientDisconnected):
		return nil
	default:
		return h.mapError(c, err)
	}
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", sanitizeError(err),
		"path", c.Request().URL.Path,
	)

	var msg string
	var dnsErr *net.DNSError
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.Canceled):
		msg = "client disconnected"
	case errors.Is(err, relay.ErrUpstreamTimeout), isTimeout(err):
		msg = "gateway timed out"
	case errors.Is(err, relay.ErrUpstreamIncomplete):
		msg = "gateway closed the connection"
	case errors.As(err, &dnsErr):
		msg = "gateway host unreachable"
	case errors.As(err, &urlErr):
		msg = "gateway connection failed"
	default:
		msg = "gateway request failed"
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "Proxy error: " + msg,
	})
}

// readBody reads exactly Content-Length bytes. Requests without a declared
// length carry no body.
func readBody(r *http.Request) ([]byte, error) {
	if r.ContentLength <= 0 {
		return nil, nil
	}
	buf := make([]byte, r.ContentLength)
	if _, err := io.ReadFull(r.Body, buf); err != nil {
		return nil, fmt.Errorf("%w: %w", errShortBody, err)
	}
	return buf, nil
}

func isEventStream(h http.Header) bool {
	return strings.HasPrefix(strings.ToLower(h.Get("Content-Type")), "text/event-stream")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// sanitizeError redacts bearer credentials from error messages.
func sanitizeError(err error) string {
	return bearerPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}

// commitOnWrite holds back the gateway status and headers until the first
// body byte, so a gateway that fails before sending anything can still be
// answered with a 502.
type commitOnWrite struct {
	res    *echo.Response
	header http.Header
	status int
}

func (w *commitOnWrite) commit() {
	dst := w.res.Header()
	for key, vals := range w.header {
		dst[key] = vals
	}
	w.res.WriteHeader(w.status)
}

func (w *commitOnWrite) Write(p []byte) (int, error) {
	if !w.res.Committed {
		w.commit()
	}
	return w.res.Write(p)
}

func (w *commitOnWrite) Flush() {
	w.res.Flush()
}
