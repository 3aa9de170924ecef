package localmcp

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestServerRejectsNonLoopbackByDefault(t *testing.T) {
	s := New(NewStore(0), NewExtensionBridge(), false)

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.RemoteAddr = "203.0.113.5:54321"
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestServerAllowsNonLoopbackWhenRelaxed(t *testing.T) {
	s := New(NewStore(0), NewExtensionBridge(), true)

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.RemoteAddr = "203.0.113.5:54321"
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code == http.StatusForbidden {
		t.Fatalf("expected relaxLocalhost to bypass the loopback check, got %d", rec.Code)
	}
}

func TestIsLoopbackRecognizesLocalAddresses(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:1234", true},
		{"[::1]:1234", true},
		{"10.0.0.5:1234", false},
		{"203.0.113.5:1234", false},
	}

	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
		req.RemoteAddr = c.addr
		if got := isLoopback(req); got != c.want {
			t.Errorf("isLoopback(%q) = %v, want %v", c.addr, got, c.want)
		}
	}
}
