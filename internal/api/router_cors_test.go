package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"tink/internal/config"
	"tink/internal/constants"
)

const frontendOrigin = "https://give.example.org"

func newCORSServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServer(t, func(cfg *config.Config) {
		cfg.Server.AllowedOrigins = []string{frontendOrigin + "/"}
	})
}

func TestUploadPreflightFromAllowedOrigin(t *testing.T) {
	srv := newCORSServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/images/upload", nil)
	req.Header.Set("Origin", frontendOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "authorization, content-type")
	rr := httptest.NewRecorder()
	srv.handler.ServeHTTP(rr, req)

	expectStatus(t, rr, http.StatusNoContent)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != frontendOrigin {
		t.Fatalf("Access-Control-Allow-Origin = %q, want %q", got, frontendOrigin)
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); got != "Authorization, Content-Type" {
		t.Fatalf("Access-Control-Allow-Headers = %q", got)
	}
}

func TestCORSOnAPIRoutes(t *testing.T) {
	srv := newCORSServer(t)
	token := srv.register(t, "cors@x.com")

	tests := []struct {
		name       string
		origin     string
		wantStatus int
		wantHeader string
	}{
		{"configured origin", frontendOrigin, http.StatusOK, frontendOrigin},
		{"local dev server", "http://localhost:5173", http.StatusOK, "http://localhost:5173"},
		{"loopback address", "http://127.0.0.1:3000", http.StatusOK, "http://127.0.0.1:3000"},
		{"no origin", "", http.StatusOK, ""},
		{"unknown origin", "https://give.example.org.evil.test", http.StatusForbidden, ""},
		{"non-http scheme", "file://localhost", http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/categories", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			srv.handler.ServeHTTP(rr, req)

			expectStatus(t, rr, tt.wantStatus)
			if tt.wantStatus == http.StatusForbidden {
				expectErrorCode(t, rr, constants.ErrCodeInvalidRequest)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantHeader {
				t.Fatalf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantHeader)
			}
		})
	}
}

func TestDisallowedOriginCannotReachAuthRoutes(t *testing.T) {
	srv := newCORSServer(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "https://other.example.org")
	srv.handler.ServeHTTP(rr, req)

	expectStatus(t, rr, http.StatusForbidden)
	expectErrorCode(t, rr, constants.ErrCodeInvalidRequest)
}
