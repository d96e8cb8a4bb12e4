// Package relay copies a gateway response body to the browser as it arrives.
//
// Each Read on the upstream body returns whatever is already buffered, up to
// the chunk size, and every non-empty read is written and flushed before the
// next read starts. Bytes are never parsed, reordered or coalesced; the only
// inspection is a best-effort scan of SSE event names for the diagnostic log.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"kaixu-devserver/internal/config"
	"kaixu-devserver/internal/metrics"
)

// DefaultChunkBytes is the largest block handed to a single write.
const DefaultChunkBytes = 64 * 1024

var (
	// ErrClientDisconnected means the browser went away; the relay stopped
	// without reading further upstream data.
	ErrClientDisconnected = errors.New("client disconnected")
	// ErrUpstreamIncomplete means the gateway closed before a clean end of body.
	ErrUpstreamIncomplete = errors.New("upstream closed mid-body")
	// ErrUpstreamTimeout means the overall gateway timeout expired mid-body.
	ErrUpstreamTimeout = errors.New("upstream timed out")
	// ErrRelayLimit means the configured byte cap was reached and the
	// stream was cut there.
	ErrRelayLimit = errors.New("relay byte limit reached")
)

// Writer is the inbound side of a relay. echo.Response satisfies it.
type Writer interface {
	io.Writer
	Flush()
}

// Mode labels a relay for logs and metrics.
type Mode string

const (
	ModeStreaming Mode = "streaming"
	ModeBuffered  Mode = "buffered"
)

// Info describes the request being relayed.
type Info struct {
	Path string
	Mode Mode
}

// State holds the counters of one relay. It is never shared.
type State struct {
	BytesTotal  int64
	ChunkCount  int
	Started     time.Time
	LastChunkAt time.Time
}

// Relay pumps upstream bodies into inbound responses.
type Relay struct {
	chunkBytes int
	maxBytes   int64
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// New creates a Relay from the gateway config.
// The metrics parameter is optional; pass nil to disable relay metrics.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Relay {
	chunk := cfg.Gateway.ChunkBytes
	if chunk <= 0 {
		chunk = DefaultChunkBytes
	}
	return &Relay{
		chunkBytes: chunk,
		maxBytes:   cfg.Gateway.MaxRelayBytes,
		logger:     logger.With("component", "relay"),
		metrics:    m,
		now:        time.Now,
	}
}

// Run copies src into dst until src reports end of body, the context is
// cancelled, a write fails, or the byte cap is hit. A nil error means the
// upstream finished cleanly. Data returned together with a read error is
// always forwarded before the error is reported.
func (r *Relay) Run(ctx context.Context, dst Writer, src io.Reader, info Info) (State, error) {
	st := State{Started: r.now()}
	st.LastChunkAt = st.Started
	buf := make([]byte, r.chunkBytes)

	err := r.pump(ctx, dst, src, info, buf, &st)
	r.finish(info, st, err)
	return st, err
}

func (r *Relay) pump(ctx context.Context, dst Writer, src io.Reader, info Info, buf []byte, st *State) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrClientDisconnected, err)
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			capped := false
			if r.maxBytes > 0 && st.BytesTotal+int64(n) > r.maxBytes {
				chunk = chunk[:r.maxBytes-st.BytesTotal]
				capped = true
			}
			if len(chunk) > 0 {
				if err := r.forward(dst, chunk, info, st); err != nil {
					return err
				}
			}
			if capped {
				return ErrRelayLimit
			}
		}

		if rerr != nil {
			return classify(ctx, rerr)
		}
	}
}

// forward writes one chunk, flushes it and updates the counters.
func (r *Relay) forward(dst Writer, chunk []byte, info Info, st *State) error {
	now := r.now()
	gap := now.Sub(st.LastChunkAt)

	if _, err := dst.Write(chunk); err != nil {
		return fmt.Errorf("%w: %w", ErrClientDisconnected, err)
	}
	dst.Flush()

	st.ChunkCount++
	st.BytesTotal += int64(len(chunk))
	st.LastChunkAt = now

	r.observeChunk(info, st, chunk, gap, now.Sub(st.Started))
	return nil
}

func (r *Relay) observeChunk(info Info, st *State, chunk []byte, gap, elapsed time.Duration) {
	if r.metrics != nil {
		mode := string(info.Mode)
		r.metrics.RelayChunks.WithLabelValues(mode).Inc()
		r.metrics.RelayBytes.WithLabelValues(mode).Add(float64(len(chunk)))
		r.metrics.RelayChunkGap.WithLabelValues(mode).Observe(gap.Seconds())
	}

	attrs := []any{
		"path", info.Path,
		"seq", st.ChunkCount,
		"bytes", len(chunk),
		"gap_ms", gap.Milliseconds(),
		"elapsed_ms", elapsed.Milliseconds(),
	}
	if info.Mode == ModeStreaming {
		r.logger.Info("sse chunk", append(attrs, "events", EventLabel(chunk))...)
		return
	}
	r.logger.Debug("chunk", attrs...)
}

func (r *Relay) finish(info Info, st State, err error) {
	outcome := Outcome(err)
	if r.metrics != nil {
		r.metrics.RelayOutcomes.WithLabelValues(string(info.Mode), outcome).Inc()
	}

	attrs := []any{
		"path", info.Path,
		"mode", info.Mode,
		"outcome", outcome,
		"bytes_total", st.BytesTotal,
		"chunks", st.ChunkCount,
		"duration_ms", r.now().Sub(st.Started).Milliseconds(),
	}
	switch {
	case err == nil:
		r.logger.Info("relay closed by upstream", attrs...)
	case errors.Is(err, ErrClientDisconnected):
		r.logger.Debug("relay ended by client", attrs...)
	default:
		r.logger.Warn("relay cut short", append(attrs, "err", err)...)
	}
}

// classify maps a read error to the relay's error taxonomy. io.EOF is a
// clean close and returns nil.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrClientDisconnected, err)
	}
	if isTimeout(err) {
		return fmt.Errorf("%w: %w", ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrUpstreamIncomplete, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Outcome returns the metric and log label for a Run result.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "eof"
	case errors.Is(err, ErrClientDisconnected):
		return "client_disconnected"
	case errors.Is(err, ErrUpstreamTimeout):
		return "upstream_timeout"
	case errors.Is(err, ErrRelayLimit):
		return "limit_exceeded"
	default:
		return "upstream_incomplete"
	}
}
