package ratelimit

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

func testApp(limiter Limiter, opts Options) *fiber.App {
	app := fiber.New()
	app.Post("/api/sync", Middleware(limiter, opts, nil, nil), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true})
	})
	return app
}

func post(t *testing.T, app *fiber.App, apiKey string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestMiddleware_Returns429WhenOverBudget(t *testing.T) {
	m := NewMemoryLimiter()
	defer m.Close()
	app := testApp(m, Options{Window: time.Minute, MaxRequests: 2, KeyPrefix: "mw:"})

	for i := 1; i <= 2; i++ {
		if resp := post(t, app, ""); resp.StatusCode != 200 {
			t.Fatalf("request %d: expected 200, got %d", i, resp.StatusCode)
		}
	}

	resp := post(t, app, "")
	if resp.StatusCode != 429 {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected X-RateLimit-Remaining=0, got %q", got)
	}

	body, _ := io.ReadAll(resp.Body)
	var parsed struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if parsed.Success || parsed.Error != "rate_limited" {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestMiddleware_ApiKeyOverridesIPKey(t *testing.T) {
	m := NewMemoryLimiter()
	defer m.Close()
	app := testApp(m, Options{Window: time.Minute, MaxRequests: 1, KeyPrefix: "mw:"})

	// Exhaust the budget for one API key.
	if resp := post(t, app, "tenant-a"); resp.StatusCode != 200 {
		t.Fatalf("expected 200 for first tenant-a request, got %d", resp.StatusCode)
	}
	if resp := post(t, app, "tenant-a"); resp.StatusCode != 429 {
		t.Fatalf("expected 429 for second tenant-a request, got %d", resp.StatusCode)
	}

	// A different key from the same client IP still has budget.
	if resp := post(t, app, "tenant-b"); resp.StatusCode != 200 {
		t.Fatalf("expected 200 for tenant-b, got %d", resp.StatusCode)
	}
}

func TestKeyKind(t *testing.T) {
	if got := keyKind("ip:1.2.3.4"); got != "ip" {
		t.Fatalf("expected ip, got %s", got)
	}
	if got := keyKind("key:abc"); got != "key" {
		t.Fatalf("expected key, got %s", got)
	}
	if got := keyKind("plain"); got != "other" {
		t.Fatalf("expected other, got %s", got)
	}
}
