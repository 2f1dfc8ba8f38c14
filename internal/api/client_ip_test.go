package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIPResolver(t *testing.T) {
	tests := []struct {
		name       string
		trusted    []string
		remoteAddr string
		forwarded  string
		realIP     string
		want       string
	}{
		{"direct peer ignores headers", nil, "203.0.113.7:43210", "198.51.100.5", "198.51.100.6", "203.0.113.7"},
		{"trusted proxy uses first forwarded", []string{"172.30.0.10/32"}, "172.30.0.10:12345", "198.51.100.8, 172.30.0.10", "", "198.51.100.8"},
		{"trusted proxy falls back to real ip", []string{"172.30.0.10"}, "172.30.0.10:12345", "not-an-ip", "198.51.100.10", "198.51.100.10"},
		{"untrusted proxy", []string{"10.0.0.0/8"}, "172.30.0.10:12345", "198.51.100.8", "", "172.30.0.10"},
		{"unparseable peer", nil, "garbage", "", "", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver, err := NewClientIPResolver(tt.trusted)
			if err != nil {
				t.Fatalf("NewClientIPResolver() error = %v", err)
			}

			req := httptest.NewRequest(http.MethodGet, "http://localhost/test", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}

			if got := resolver.Resolve(req); got != tt.want {
				t.Fatalf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIPResolverRejectsBadCIDR(t *testing.T) {
	if _, err := NewClientIPResolver([]string{"10.0.0.0/99"}); err == nil {
		t.Fatal("NewClientIPResolver() error = nil, want invalid CIDR error")
	}
	if _, err := NewClientIPResolver([]string{"proxy.local"}); err == nil {
		t.Fatal("NewClientIPResolver() error = nil, want invalid address error")
	}
}

func TestClientIPMiddlewareRewritesRemoteAddr(t *testing.T) {
	resolver, err := NewClientIPResolver([]string{"127.0.0.1"})
	if err != nil {
		t.Fatalf("NewClientIPResolver() error = %v", err)
	}

	var seen string
	handler := resolver.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.RemoteAddr
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:5000"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "198.51.100.1" {
		t.Fatalf("RemoteAddr = %q, want 198.51.100.1", seen)
	}
}
