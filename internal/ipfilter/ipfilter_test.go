package ipfilter

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		allowedIPs []string
		wantCount  int
	}{
		{"empty list", nil, 0},
		{"single IPv4", []string{"192.168.1.1"}, 1},
		{"single IPv6", []string{"::1"}, 1},
		{"CIDR", []string{"10.0.0.0/8"}, 1},
		{"mixed", []string{"127.0.0.1", "10.0.0.0/8", "2001:db8::/32"}, 3},
		{"whitespace and blanks", []string{" 127.0.0.1 ", "", "  "}, 1},
		{"invalid entries skipped", []string{"not-an-ip", "10.0.0.0/99", "127.0.0.1"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.allowedIPs, newTestLogger())
			if f.Count() != tt.wantCount {
				t.Errorf("Count() = %d, want %d", f.Count(), tt.wantCount)
			}
			if f.Enabled() != (tt.wantCount > 0) {
				t.Errorf("Enabled() = %v", f.Enabled())
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		list    []string
		wantErr bool
	}{
		{"empty", nil, false},
		{"valid", []string{"127.0.0.1", "10.0.0.0/8", "::1"}, false},
		{"blank ignored", []string{""}, false},
		{"bad ip", []string{"127.0.0.300"}, true},
		{"bad cidr", []string{"10.0.0.0/33"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(tt.list); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFilter_IsAllowed(t *testing.T) {
	f := New([]string{"192.168.1.0/24", "10.0.0.5", "2001:db8::/32"}, newTestLogger())

	tests := []struct {
		ip   string
		want bool
	}{
		{"192.168.1.1", true},
		{"192.168.1.254", true},
		{"192.168.2.1", false},
		{"10.0.0.5", true},
		{"10.0.0.6", false},
		{"::ffff:10.0.0.5", true}, // IPv4-mapped
		{"2001:db8::1", true},
		{"2001:db9::1", false},
		{"garbage", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := f.IsAllowedString(tt.ip); got != tt.want {
				t.Errorf("IsAllowedString(%q) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}

	if !New(nil, newTestLogger()).IsAllowed(netip.MustParseAddr("8.8.8.8")) {
		t.Error("empty filter should allow everything")
	}
}

func TestFilter_ClientAddr(t *testing.T) {
	tests := []struct {
		name       string
		trust      bool
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", false, "192.168.1.1:12345", nil, "192.168.1.1"},
		{"remote addr without port", false, "192.168.1.1", nil, "192.168.1.1"},
		{"ipv6 remote", false, "[::1]:8080", nil, "::1"},
		{"forwarded ignored by default", false, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "10.0.0.1"},
		{"forwarded trusted", true, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "1.2.3.4"},
		{"real ip trusted", true, "10.0.0.1:1", map[string]string{"X-Real-IP": "5.6.7.8"}, "5.6.7.8"},
		{"bad header falls back", true, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "junk"}, "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.trust {
				opts = append(opts, TrustForwardedHeaders())
			}
			f := New(nil, newTestLogger(), opts...)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			if got := f.ClientAddr(req); got.String() != tt.want {
				t.Errorf("ClientAddr() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilter_HTTPMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		allowed    []string
		remoteAddr string
		wantStatus int
	}{
		{"no filter", nil, "8.8.8.8:1", http.StatusOK},
		{"allowed", []string{"127.0.0.1"}, "127.0.0.1:1", http.StatusOK},
		{"denied", []string{"127.0.0.1"}, "8.8.8.8:1", http.StatusForbidden},
		{"unparseable", []string{"127.0.0.1"}, "nonsense", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.allowed, newTestLogger())

			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			req.RemoteAddr = tt.remoteAddr
			rr := httptest.NewRecorder()

			f.HTTPMiddleware(handler).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}
