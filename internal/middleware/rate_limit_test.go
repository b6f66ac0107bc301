package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pkghttp "github.com/BradenHooton/vocalid/pkg/http"
)

func TestRateLimitByIP_LimitsPerClient(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{Requests: 2, Window: time.Minute})(okHandler())

	send := func(ip string) int {
		req := httptest.NewRequest("GET", "/health", nil)
		req.RemoteAddr = ip + ":1234"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := send("10.0.0.1"); code != http.StatusOK {
		t.Errorf("first request: expected 200, got %d", code)
	}
	if code := send("10.0.0.1"); code != http.StatusOK {
		t.Errorf("second request: expected 200, got %d", code)
	}
	if code := send("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Errorf("third request: expected 429, got %d", code)
	}
	if code := send("10.0.0.2"); code != http.StatusOK {
		t.Errorf("other client: expected 200, got %d", code)
	}
}

func TestRateLimitByIP_RejectionBody(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{Requests: 1, Window: time.Minute})(okHandler())

	var rr *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/health", nil)
		req.RemoteAddr = "10.0.0.9:1234"
		rr = httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
	}

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	var body pkghttp.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "rate_limit_exceeded" || body.Message != "Rate limit exceeded" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestDefaultHealthRateLimit(t *testing.T) {
	cfg := DefaultHealthRateLimit()
	if cfg.Requests != 60 || cfg.Window != time.Minute {
		t.Errorf("expected 60 per minute, got %d per %v", cfg.Requests, cfg.Window)
	}
}
