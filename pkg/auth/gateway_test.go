package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func testSecConfig() SecConfig {
	return SecConfig{
		RPS:          1000,
		Burst:        1000,
		BackendKeys:  map[string]struct{}{"bk": {}},
		FrontendKeys: map[string]struct{}{"fk": {}},
		AdminKeys:    map[string]struct{}{"ak": {}},
	}
}

func gatewayFor(cfg SecConfig) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return AuthenticateRequestMiddleware(cfg)(ok)
}

func doReq(h http.Handler, method, path, apiKey string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, nil)
	r.RemoteAddr = "192.0.2.1:4444"
	if apiKey != "" {
		r.Header.Set("X-API-Key", apiKey)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestGatewayRejectsMissingKey(t *testing.T) {
	h := gatewayFor(testSecConfig())
	if w := doReq(h, http.MethodPost, "/v1/sync", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w := doReq(h, http.MethodPost, "/v1/sync", "not-a-key"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d", w.Code)
	}
}

func TestGatewayHealthChecksBypassAuth(t *testing.T) {
	h := gatewayFor(testSecConfig())
	for _, path := range []string{"/healthz", "/readyz"} {
		if w := doReq(h, http.MethodGet, path, ""); w.Code != http.StatusOK {
			t.Fatalf("%s must bypass auth, got %d", path, w.Code)
		}
	}
}

func TestGatewayScopesFrontendKeys(t *testing.T) {
	h := gatewayFor(testSecConfig())

	// frontend keys may only touch the sync surface
	if w := doReq(h, http.MethodPost, "/v1/sync", "fk"); w.Code != http.StatusOK {
		t.Fatalf("frontend sync must pass, got %d", w.Code)
	}
	if w := doReq(h, http.MethodDelete, "/v1/sync", "fk"); w.Code != http.StatusOK {
		t.Fatalf("frontend purge must pass, got %d", w.Code)
	}
	if w := doReq(h, http.MethodGet, "/v1/threads", "fk"); w.Code != http.StatusForbidden {
		t.Fatalf("frontend thread read must be forbidden, got %d", w.Code)
	}

	// backend and admin keys reach the read surface
	if w := doReq(h, http.MethodGet, "/v1/threads", "bk"); w.Code != http.StatusOK {
		t.Fatalf("backend read must pass, got %d", w.Code)
	}
	if w := doReq(h, http.MethodGet, "/v1/threads", "ak"); w.Code != http.StatusOK {
		t.Fatalf("admin read must pass, got %d", w.Code)
	}
}

func TestGatewaySetsRoleHeader(t *testing.T) {
	var seenRole string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenRole = r.Header.Get("X-Role-Name")
	})
	h := AuthenticateRequestMiddleware(testSecConfig())(inner)

	doReq(h, http.MethodPost, "/v1/sync", "bk")
	if seenRole != "backend" {
		t.Fatalf("expected backend role, got %q", seenRole)
	}
}

func TestGatewayBearerTokenAccepted(t *testing.T) {
	h := gatewayFor(testSecConfig())
	r := httptest.NewRequest(http.MethodPost, "/v1/sync", nil)
	r.RemoteAddr = "192.0.2.1:4444"
	r.Header.Set("Authorization", "Bearer bk")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("bearer auth must pass, got %d", w.Code)
	}
}

func TestGatewayIPWhitelist(t *testing.T) {
	cfg := testSecConfig()
	cfg.IPWhitelist = []string{"10.1.2.3"}
	h := gatewayFor(cfg)

	if w := doReq(h, http.MethodPost, "/v1/sync", "bk"); w.Code != http.StatusForbidden {
		t.Fatalf("non-whitelisted ip must be blocked, got %d", w.Code)
	}

	r := httptest.NewRequest(http.MethodPost, "/v1/sync", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	r.Header.Set("X-API-Key", "bk")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("whitelisted ip must pass, got %d", w.Code)
	}
}

func TestGatewayRateLimits(t *testing.T) {
	cfg := testSecConfig()
	cfg.RPS = 1
	cfg.Burst = 2
	h := gatewayFor(cfg)

	limited := false
	for i := 0; i < 5; i++ {
		if w := doReq(h, http.MethodPost, "/v1/sync", "bk"); w.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("burst above the limit must hit 429")
	}
}

func TestSignUserIDIsDeterministic(t *testing.T) {
	a := SignUserID("alice", "secret")
	if a != SignUserID("alice", "secret") {
		t.Fatal("signature must be deterministic")
	}
	if a == SignUserID("alice", "other") {
		t.Fatal("different keys must produce different signatures")
	}
	if a == SignUserID("bob", "secret") {
		t.Fatal("different users must produce different signatures")
	}
}

func TestCORSPreflight(t *testing.T) {
	cfg := testSecConfig()
	cfg.AllowedOrigins = []string{"https://app.example"}
	h := gatewayFor(cfg)

	r := httptest.NewRequest(http.MethodOptions, "/v1/sync", nil)
	r.RemoteAddr = "192.0.2.1:4444"
	r.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight must return 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow-origin header missing, got %q", got)
	}

	r = httptest.NewRequest(http.MethodOptions, "/v1/sync", nil)
	r.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unlisted origin must not receive CORS headers")
	}
}
