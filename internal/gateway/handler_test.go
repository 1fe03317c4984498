package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ssh", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	r.RemoteAddr = "10.0.0.2:443"
	if got := clientIP(r); got != "203.0.113.7" {
		t.Fatalf("clientIP = %q, want 203.0.113.7", got)
	}
}

func TestClientIPFallsBackToRealIPThenRemoteAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ssh", nil)
	r.Header.Set("X-Real-IP", "198.51.100.9")
	r.RemoteAddr = "10.0.0.2:443"
	if got := clientIP(r); got != "198.51.100.9" {
		t.Fatalf("clientIP = %q, want 198.51.100.9", got)
	}

	r2 := httptest.NewRequest(http.MethodGet, "/ssh", nil)
	r2.RemoteAddr = "192.0.2.5:51000"
	if got := clientIP(r2); got != "192.0.2.5" {
		t.Fatalf("clientIP = %q, want 192.0.2.5", got)
	}
}

func TestClientIPUnwrapsIPv4Mapped(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ssh", nil)
	r.Header.Set("X-Real-IP", "::ffff:192.0.2.5")
	if got := clientIP(r); got != "192.0.2.5" {
		t.Fatalf("clientIP = %q, want unwrapped 192.0.2.5", got)
	}
}

// TestServeHTTPDestroysUnknownPaths asserts that a path other than /ssh gets
// its socket hijacked and closed rather than any HTTP response written, per
// spec §6's handling of unimplemented subchannels (/monitor, /ai, ...).
func TestServeHTTPDestroysUnknownPaths(t *testing.T) {
	h := &Handler{}
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/monitor")
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected the connection to be reset by destroySocket, got a response")
	}
}
