package fiberserver

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestRequestID_GeneratesIDAndSetsHeader(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID)
	app.Get("/", func(c *fiber.Ctx) error {
		if GetRequestID(c) == "" {
			t.Error("expected a request ID in context, got empty string")
		}
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Header.Get(HeaderRequestID) == "" {
		t.Error("expected X-Request-ID header, got empty")
	}
}

func TestRequestID_UniqueIDs(t *testing.T) {
	ids := make(map[string]bool)

	app := fiber.New()
	app.Use(RequestID)
	app.Get("/", func(c *fiber.Ctx) error {
		id := GetRequestID(c)
		if ids[id] {
			t.Errorf("duplicate request ID: %s", id)
		}
		ids[id] = true
		return c.SendStatus(fiber.StatusOK)
	})

	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(fiber.MethodGet, "/", nil)
		if _, err := app.Test(req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(ids) != 20 {
		t.Errorf("expected 20 unique IDs, got %d", len(ids))
	}
}

func TestGetRequestID_NilContextReturnsEmpty(t *testing.T) {
	if GetRequestID(nil) != "" {
		t.Error("expected an empty string for a nil context")
	}
}

func TestRecovery_ConvertsPanicToInternalServerError(t *testing.T) {
	app := fiber.New()
	app.Use(Recovery)
	app.Get("/", func(c *fiber.Ctx) error {
		panic("boom")
	})

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Errorf("expected 500, got %d", resp.StatusCode)
	}
}

func TestSecurityHeaders_SetsExpectedHeaders(t *testing.T) {
	app := fiber.New()
	app.Use(SecurityHeaders)
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-XSS-Protection":       "1; mode=block",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for header, want := range tests {
		if got := resp.Header.Get(header); got != want {
			t.Errorf("expected %s: %s, got %s", header, want, got)
		}
	}
}

func TestLogger_PassesThroughHandlerResultAndError(t *testing.T) {
	app := fiber.New()
	app.Use(Logger)
	app.Get("/ok", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Get("/fail", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	okResp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/ok", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if okResp.StatusCode != fiber.StatusOK {
		t.Errorf("expected 200, got %d", okResp.StatusCode)
	}

	failResp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/fail", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failResp.StatusCode != fiber.StatusInternalServerError {
		t.Errorf("expected the handler's error to reach Fiber's default error handler as a 500, got %d", failResp.StatusCode)
	}
}

func TestHealthCheck(t *testing.T) {
	app := fiber.New()
	app.Get("/health", HealthCheck)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/health", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestReadinessCheck(t *testing.T) {
	app := fiber.New()
	app.Get("/ready", ReadinessCheck)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/ready", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
