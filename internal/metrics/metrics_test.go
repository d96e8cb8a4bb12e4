package metrics

import (
	"testing"
)

func TestNew_GathersMetrics(t *testing.T) {
	m := New("/api", "/metrics")

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	// Should include at least Go runtime and process collectors.
	if len(families) == 0 {
		t.Fatal("expected non-empty metric families from Gather()")
	}

	// Vec collectors only show up once a label set has been used.
	m.RequestsTotal.WithLabelValues("POST", "200", "/api").Inc()
	m.RelayChunks.WithLabelValues("streaming").Inc()
	m.RelayOutcomes.WithLabelValues("streaming", "eof").Inc()

	families, err = m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	want := map[string]bool{
		"kaixu_devserver_http_requests_total":  false,
		"kaixu_devserver_relay_chunks_total":   false,
		"kaixu_devserver_relay_outcomes_total": false,
	}
	for _, f := range families {
		if _, ok := want[f.GetName()]; ok {
			want[f.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected %s in gathered metrics", name)
		}
	}
}

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"GET", "GET"},
		{"POST", "POST"},
		{"PUT", "PUT"},
		{"DELETE", "DELETE"},
		{"PATCH", "PATCH"},
		{"HEAD", "HEAD"},
		{"OPTIONS", "OPTIONS"},
		{"FOOBAR", "other"},
		{"get", "other"},
		{"X-CUSTOM", "other"},
		{"", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got := NormalizeMethod(tt.method)
			if got != tt.want {
				t.Errorf("NormalizeMethod(%q) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	m := New("/api", "/metrics")

	tests := []struct {
		path string
		want string
	}{
		{"/api/.netlify/functions/gateway-stream", "/api"},
		{"/api/fs/projects", "/api"},
		{"/api", "/api"},
		{"/apis/foo", "other"},
		{"/healthz", "/healthz"},
		{"/proxy/status", "/proxy/status"},
		{"/metrics", "/metrics"},
		{"/admin", "/admin"},
		{"/login", "/login"},
		{"/skAIxuide/index.html", "other"},
		{"/", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := m.NormalizePath(tt.path)
			if got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestNormalizePath_CustomPrefix(t *testing.T) {
	m := New("/gw", "/metrics")
	if got := m.NormalizePath("/gw/chat"); got != "/gw" {
		t.Errorf("NormalizePath(/gw/chat) = %q, want %q", got, "/gw")
	}
	if got := m.NormalizePath("/api/chat"); got != "other" {
		t.Errorf("NormalizePath(/api/chat) = %q, want %q", got, "other")
	}
}

func TestNormalizePath_CustomMetricsPath(t *testing.T) {
	m := New("/api", "/internal/prom")
	if got := m.NormalizePath("/internal/prom"); got != "/internal/prom" {
		t.Errorf("NormalizePath(/internal/prom) = %q, want %q", got, "/internal/prom")
	}
	if got := m.NormalizePath("/metrics"); got != "other" {
		t.Errorf("NormalizePath(/metrics) = %q, want %q", got, "other")
	}
}
