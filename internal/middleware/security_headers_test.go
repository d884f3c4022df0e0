package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveWithSecurityHeaders(t *testing.T, env string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	handler := SecurityHeaders(SecurityHeadersConfig{Env: env})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/v1/verdict", nil)
	if mutate != nil {
		mutate(req)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestSecurityHeaders_SetsBaseHeaders(t *testing.T) {
	recorder := serveWithSecurityHeaders(t, "development", nil)

	expected := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
		"Referrer-Policy":        "no-referrer",
	}
	for header, want := range expected {
		if got := recorder.Header().Get(header); got != want {
			t.Errorf("expected %s: %q, got %q", header, want, got)
		}
	}
}

func TestSecurityHeaders_NoHSTSInDevelopment(t *testing.T) {
	recorder := serveWithSecurityHeaders(t, "development", func(r *http.Request) {
		r.Header.Set("X-Forwarded-Proto", "https")
	})

	if recorder.Header().Get("Strict-Transport-Security") != "" {
		t.Errorf("expected no HSTS header in development")
	}
}

func TestSecurityHeaders_HSTSInProductionOverTLS(t *testing.T) {
	recorder := serveWithSecurityHeaders(t, "production", func(r *http.Request) {
		r.Header.Set("X-Forwarded-Proto", "https")
	})

	if recorder.Header().Get("Strict-Transport-Security") == "" {
		t.Errorf("expected HSTS header in production over TLS")
	}
}

func TestSecurityHeaders_NoHSTSInProductionOverPlainHTTP(t *testing.T) {
	recorder := serveWithSecurityHeaders(t, "production", nil)

	if recorder.Header().Get("Strict-Transport-Security") != "" {
		t.Errorf("expected no HSTS header for plain HTTP")
	}
}
