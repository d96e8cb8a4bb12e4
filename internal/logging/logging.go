// Package logging builds the process-wide slog logger.
//
// Records are encoded by slog and written through a zapcore write syncer.
// By default the syncer buffers, so a burst of per-chunk relay lines costs a
// memory copy rather than a blocking write to stdout.
package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"kaixu-devserver/internal/config"
)

const (
	bufferSize    = 256 * 1024
	flushInterval = time.Second
)

// Sink is the write side of the logger.
type Sink struct {
	ws   zapcore.WriteSyncer
	stop func() error
}

// NewSink wraps out. With direct set, every record is written immediately;
// otherwise records are buffered and flushed every second.
func NewSink(out io.Writer, direct bool) *Sink {
	// Hide any Sync method of out: fsync on a pipe or terminal fails.
	ws := zapcore.AddSync(struct{ io.Writer }{out})
	if direct {
		return &Sink{ws: ws, stop: ws.Sync}
	}
	b := &zapcore.BufferedWriteSyncer{
		WS:            ws,
		Size:          bufferSize,
		FlushInterval: flushInterval,
	}
	return &Sink{ws: b, stop: b.Stop}
}

func (s *Sink) Write(p []byte) (int, error) {
	return s.ws.Write(p)
}

// Sync flushes buffered records.
func (s *Sink) Sync() error {
	return s.ws.Sync()
}

// Stop flushes and releases the background flusher. The sink must not be
// written to afterwards.
func (s *Sink) Stop() error {
	return s.stop()
}

// ParseLevel maps a config level name to a slog level. Unknown names mean info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a logger writing to out in the configured format, plus the sink
// the caller must stop on shutdown.
func New(cfg config.LogConfig, out io.Writer) (*slog.Logger, *Sink) {
	sink := NewSink(out, cfg.Sync)
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		h = slog.NewTextHandler(sink, opts)
	default:
		h = slog.NewJSONHandler(sink, opts)
	}
	return slog.New(h), sink
}
