package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServerHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New()
	m.CampaignsCreatedTotal.WithLabelValues().Inc()

	tests := []struct {
		name       string
		allowedIPs []string
		remoteAddr string
		path       string
		wantStatus int
	}{
		{"open metrics", nil, "1.2.3.4:12345", "/metrics", http.StatusOK},
		{"allowed IP", []string{"192.168.1.0/24"}, "192.168.1.100:12345", "/metrics", http.StatusOK},
		{"denied IP", []string{"192.168.1.0/24"}, "10.0.0.1:12345", "/metrics", http.StatusForbidden},
		{"health bypasses filter", []string{"192.168.1.0/24"}, "10.0.0.1:12345", "/health", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(m, ":0", "", tt.allowedIPs, logger)

			req := httptest.NewRequest("GET", tt.path, nil)
			req.RemoteAddr = tt.remoteAddr
			rec := httptest.NewRecorder()

			s.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestServerExposesCounters(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New()
	m.CampaignsClosedTotal.WithLabelValues("returned").Add(3)

	s := NewServer(m, "", "/custom", nil, logger)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/custom", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `reengage_campaigns_closed_total{reason="returned"} 3`) {
		t.Errorf("closed counter missing from output:\n%s", rec.Body.String())
	}
}

func TestShutdownWithoutStart(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer(New(), "", "", nil, logger)
	if err := s.Shutdown(t.Context()); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
}
