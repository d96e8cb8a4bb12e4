package client

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kaixu-devserver/internal/config"
	"kaixu-devserver/internal/metrics"
)

func testConfig(timeout int) *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{TimeoutSeconds: timeout},
	}
}

func TestGatewayClient_DoStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"q":1}` {
			t.Errorf("upstream body = %q, want %q", body, `{"q":1}`)
		}
		if r.ContentLength != 7 {
			t.Errorf("upstream Content-Length = %d, want 7", r.ContentLength)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewGatewayClient(testConfig(10), logger, nil)

	resp, err := c.DoStream(context.Background(), http.MethodPost, srv.URL+"/test", http.Header{}, bytes.NewReader([]byte(`{"q":1}`)))
	if err != nil {
		t.Fatalf("DoStream() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", string(body), `{"status":"ok"}`)
	}
}

func TestGatewayClient_NoConnectionReuse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !r.Close {
			t.Error("upstream request should ask to close the connection")
		}
		if ae := r.Header.Get("Accept-Encoding"); ae != "" {
			t.Errorf("Accept-Encoding = %q, want none so bodies arrive uncompressed", ae)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewGatewayClient(testConfig(10), logger, nil)

	for range 2 {
		resp, err := c.DoStream(context.Background(), http.MethodPost, srv.URL, http.Header{}, http.NoBody)
		if err != nil {
			t.Fatalf("DoStream() error = %v", err)
		}
		_ = resp.Body.Close()
	}
}

func TestGatewayClient_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewGatewayClient(testConfig(10), logger, nil)

	resp, err := c.DoStream(context.Background(), http.MethodPost, srv.URL+"/start", http.Header{}, http.NoBody)
	if err != nil {
		t.Fatalf("DoStream() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if loc := resp.Header.Get("Location"); loc != "/elsewhere" {
		t.Errorf("Location = %q, want %q", loc, "/elsewhere")
	}
}

func TestGatewayClient_RecordsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := metrics.New("/api", "/metrics")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewGatewayClient(testConfig(10), logger, m)

	resp, err := c.DoStream(context.Background(), http.MethodPost, srv.URL, http.Header{}, http.NoBody)
	if err != nil {
		t.Fatalf("DoStream() error = %v", err)
	}
	_ = resp.Body.Close()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "kaixu_devserver_upstream_responses_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "status_code" && lp.GetValue() == "401" {
					return
				}
			}
		}
	}
	t.Error("expected kaixu_devserver_upstream_responses_total with status_code=401")
}

func TestGatewayClient_DoStream_Error(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewGatewayClient(testConfig(1), logger, nil)

	_, err := c.DoStream(context.Background(), http.MethodPost, "http://127.0.0.1:1/nonexistent", http.Header{}, nil)
	if err == nil {
		t.Fatal("DoStream() expected error for unreachable host, got nil")
	}
}

func TestGatewayClient_DoStream_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Simulate a slow upstream; the request should be canceled before this completes.
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewGatewayClient(testConfig(30), logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := c.DoStream(ctx, http.MethodPost, srv.URL+"/slow", http.Header{}, nil)
	if err == nil {
		t.Fatal("DoStream() expected error for canceled context, got nil")
	}
}

func TestGatewayClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewGatewayClient(testConfig(1), logger, nil)

	start := time.Now()
	_, err := c.DoStream(context.Background(), http.MethodPost, srv.URL, http.Header{}, http.NoBody)
	if err == nil {
		t.Fatal("DoStream() expected timeout error, got nil")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("DoStream() returned after %v, want close to the 1s timeout", elapsed)
	}
}
