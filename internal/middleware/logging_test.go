package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequestLogger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := echo.New()
	e.Use(RequestLogger(logger))
	e.GET("/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRequestLogger_Levels(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		status    int
		wantLevel string
		wantLine  bool
	}{
		{"ok request", "/api/x", http.StatusOK, "INFO", true},
		{"gateway failure", "/api/x", http.StatusBadGateway, "WARN", true},
		{"quiet probe", "/healthz", http.StatusOK, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

			e := echo.New()
			e.Use(RequestLogger(logger, "/healthz"))
			e.GET(tt.path, func(c echo.Context) error {
				return c.JSON(tt.status, map[string]string{"status": "x"})
			})

			req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if !tt.wantLine {
				if buf.Len() != 0 {
					t.Errorf("unexpected log line %q", buf.String())
				}
				return
			}

			var line map[string]any
			if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
				t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
			}
			if line["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %q", line["level"], tt.wantLevel)
			}
			if line["path"] != tt.path {
				t.Errorf("path = %v, want %q", line["path"], tt.path)
			}
			if line["status"] != float64(tt.status) {
				t.Errorf("status = %v, want %d", line["status"], tt.status)
			}
			if line["stream"] != false {
				t.Errorf("stream = %v, want false", line["stream"])
			}
		})
	}
}
